package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"squish/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every profile group points at a preset document written under the temp
// root, and artifact paths are derived the same way config loading does.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "media")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.ReportDir = cfgVal.Paths.InputDir
	cfgVal.Paths.QueueStateFile = filepath.Join(cfgVal.Paths.StateDir, "squish-queue-state.json")
	cfgVal.Paths.StatusFile = filepath.Join(cfgVal.Paths.InputDir, "Squish CRON.log")
	cfgVal.Schedule.Cron = "@every 1h"

	for i := range cfgVal.ProfileGroups {
		group := &cfgVal.ProfileGroups[i]
		group.PresetFile = filepath.Join(base, "presets", group.ID+".json")
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := os.MkdirAll(builder.cfg.Paths.InputDir, 0o755); err != nil {
		t.Fatalf("mkdir input dir: %v", err)
	}
	for _, group := range builder.cfg.ProfileGroups {
		if _, err := os.Stat(group.PresetFile); err == nil {
			continue
		}
		WritePreset(t, group.PresetFile, "Test "+group.ID)
	}

	return builder.cfg
}

// WithProfileGroups replaces the profile groups. Groups without a preset file
// get one under the temp root.
func WithProfileGroups(groups ...config.ProfileGroup) ConfigOption {
	return func(b *configBuilder) {
		out := make([]config.ProfileGroup, len(groups))
		for i, group := range groups {
			if group.PresetFile == "" {
				group.PresetFile = filepath.Join(b.baseDir, "presets", group.ID+".json")
			}
			out[i] = group
		}
		b.cfg.ProfileGroups = out
	}
}

// WithDeleteSource toggles source removal after a successful encode.
func WithDeleteSource(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Output.DeleteSource = enabled
	}
}

// WithHandBrakeCLI overrides the engine binary.
func WithHandBrakeCLI(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.HandBrakeCLI = path
	}
}

// WithHistory toggles the run history database.
func WithHistory(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Enabled = enabled
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, HandBrakeCLI is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"HandBrakeCLI"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\necho 'HandBrake 0.0.0-test'\necho 'Encode done!'\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
