// Package discovery walks the input tree and returns candidate source videos.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"squish/internal/config"
	"squish/internal/logging"
	"squish/internal/services"
)

// Filter selects which walked files become candidates.
type Filter struct {
	// Suffix marks files squish produced; their stems end with it.
	Suffix string
	// ExcludedDirs drops any path containing one of these strings.
	ExcludedDirs []string
	// Extensions is the case-insensitive allow-list, each with a leading dot.
	Extensions []string
}

// FilterFromConfig builds the filter a run uses.
func FilterFromConfig(cfg *config.Config) Filter {
	return Filter{
		Suffix:       cfg.Output.Suffix,
		ExcludedDirs: slices.Clone(cfg.Discovery.ExcludedDirs),
		Extensions:   slices.Clone(cfg.Discovery.VideoExtensions),
	}
}

// Search walks root recursively and returns the sorted, de-duplicated list of
// files that pass Filter.Keep. Failing to read root is fatal; unreadable
// subdirectories are logged and skipped.
func Search(ctx context.Context, root string, filter Filter, logger *slog.Logger) ([]string, error) {
	logger = logging.NewComponentLogger(logger, "discovery")
	root = filepath.Clean(root)

	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			logging.WarnWithContext(logger, "directory unreadable; skipped", "discovery_dir_skipped",
				logging.String("path", path),
				logging.Error(walkErr),
				logging.String(logging.FieldErrorHint, "check directory permissions"),
				logging.String(logging.FieldImpact, "videos below this directory are not transcoded this run"),
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if filter.Keep(path) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrValidation, "discovery", "walk", fmt.Sprintf("read %s", root), err)
	}

	slices.Sort(found)
	found = slices.Compact(found)
	logger.Info("discovery complete",
		logging.String(logging.FieldEventType, "discovery_complete"),
		logging.String("root", root),
		logging.Int("candidates", len(found)),
	)
	return found, nil
}

// Keep applies the filters in order: already-transcoded output, excluded
// directory, extension allow-list.
func (f Filter) Keep(path string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext == "" {
		return false
	}
	stem := strings.TrimSuffix(base, ext)
	if f.Suffix != "" && strings.HasSuffix(stem, f.Suffix) {
		return false
	}
	for _, dir := range f.ExcludedDirs {
		if dir != "" && strings.Contains(path, dir) {
			return false
		}
	}
	fold := cases.Fold()
	want := fold.String(ext)
	for _, allowed := range f.Extensions {
		if fold.String(allowed) == want {
			return true
		}
	}
	return false
}
