package preflight

import (
	"context"
	"fmt"

	"squish/internal/config"
	"squish/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// PresetResolver resolves the HandBrake preset name of a profile group.
type PresetResolver interface {
	Resolve(group config.ProfileGroup) (string, error)
}

// RunAll executes every preflight check for cfg in display order.
func RunAll(ctx context.Context, cfg *config.Config, resolver PresetResolver) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, fromStatus(deps.CheckHandBrake(ctx, cfg.Engine.HandBrakeCLI)))

	// The input tree needs write access for outputs and source removal.
	results = append(results, CheckDirectoryAccess("Input directory", cfg.Paths.InputDir))
	results = append(results, CheckCreatableDirectory("State directory", cfg.Paths.StateDir))
	if cfg.Paths.ReportDir != cfg.Paths.InputDir {
		results = append(results, CheckCreatableDirectory("Report directory", cfg.Paths.ReportDir))
	}
	results = append(results, CheckCreatableDirectory("Log directory", cfg.Paths.LogDir))

	if resolver != nil {
		for _, group := range cfg.ProfileGroups {
			results = append(results, CheckPreset(resolver, group))
		}
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func fromStatus(status deps.Status) Result {
	result := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail}
	if status.Available && status.Detail == "" {
		result.Detail = status.Path
	} else if status.Available {
		result.Detail = fmt.Sprintf("%s (%s)", status.Path, status.Detail)
	}
	return result
}
