package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeOutput()
	if err := c.normalizeDiscovery(); err != nil {
		return err
	}
	if err := c.normalizeProfileGroups(); err != nil {
		return err
	}
	c.Schedule.Cron = strings.TrimSpace(c.Schedule.Cron)
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = defaultCron
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReportDir) == "" {
		c.Paths.ReportDir = c.Paths.InputDir
	}
	if c.Paths.ReportDir, err = expandPath(c.Paths.ReportDir); err != nil {
		return fmt.Errorf("paths.report_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.QueueStateFile) == "" {
		c.Paths.QueueStateFile = filepath.Join(c.Paths.StateDir, defaultQueueStateName)
	}
	if c.Paths.QueueStateFile, err = expandPath(c.Paths.QueueStateFile); err != nil {
		return fmt.Errorf("paths.queue_state_file: %w", err)
	}
	if strings.TrimSpace(c.Paths.StatusFile) == "" && c.Paths.InputDir != "" {
		c.Paths.StatusFile = filepath.Join(c.Paths.InputDir, defaultStatusFileName)
	}
	if c.Paths.StatusFile, err = expandPath(c.Paths.StatusFile); err != nil {
		return fmt.Errorf("paths.status_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.HandBrakeCLI = strings.TrimSpace(c.Engine.HandBrakeCLI)
	if c.Engine.HandBrakeCLI == "" {
		c.Engine.HandBrakeCLI = defaultHandBrakeCLI
	}
	if strings.TrimSpace(c.Engine.CompletionMarker) == "" {
		c.Engine.CompletionMarker = defaultCompletionMarker
	}
	if c.Engine.JobTimeoutMinutes < 0 {
		c.Engine.JobTimeoutMinutes = 0
	}
}

func (c *Config) normalizeOutput() {
	ext := strings.ToLower(strings.TrimSpace(c.Output.Extension))
	c.Output.Extension = strings.TrimPrefix(ext, ".")
}

func (c *Config) normalizeDiscovery() error {
	dirs := make([]string, 0, len(c.Discovery.ExcludedDirs))
	for _, dir := range c.Discovery.ExcludedDirs {
		trimmed := strings.TrimSpace(dir)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "~") {
			expanded, err := expandPath(trimmed)
			if err != nil {
				return fmt.Errorf("discovery.excluded_dirs: %w", err)
			}
			trimmed = expanded
		}
		dirs = append(dirs, trimmed)
	}
	c.Discovery.ExcludedDirs = dirs

	if len(c.Discovery.VideoExtensions) == 0 {
		c.Discovery.VideoExtensions = append([]string(nil), defaultVideoExtensions...)
		return nil
	}
	exts := make([]string, 0, len(c.Discovery.VideoExtensions))
	seen := make(map[string]struct{}, len(c.Discovery.VideoExtensions))
	for _, ext := range c.Discovery.VideoExtensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	c.Discovery.VideoExtensions = exts
	return nil
}

func (c *Config) normalizeProfileGroups() error {
	for i := range c.ProfileGroups {
		group := &c.ProfileGroups[i]
		group.ID = strings.TrimSpace(group.ID)
		group.PresetName = strings.TrimSpace(group.PresetName)
		path, err := expandPath(strings.TrimSpace(group.PresetFile))
		if err != nil {
			return fmt.Errorf("profile_groups[%d].preset_file: %w", i, err)
		}
		group.PresetFile = path
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
