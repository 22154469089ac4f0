package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and artifact locations.
type Paths struct {
	InputDir       string `toml:"input_dir"`
	LogDir         string `toml:"log_dir"`
	StateDir       string `toml:"state_dir"`
	ReportDir      string `toml:"report_dir"`
	QueueStateFile string `toml:"queue_state_file"`
	StatusFile     string `toml:"status_file"`
}

// Engine describes the external transcoding executable.
type Engine struct {
	HandBrakeCLI      string `toml:"handbrake_cli"`
	CompletionMarker  string `toml:"completion_marker"`
	JobTimeoutMinutes int    `toml:"job_timeout_minutes"`
}

// Output controls how output files are named and what happens to sources.
type Output struct {
	Suffix       string `toml:"suffix"`
	Extension    string `toml:"extension"`
	DeleteSource bool   `toml:"delete_source"`
}

// Discovery contains the filters applied while walking the input tree.
type Discovery struct {
	ExcludedDirs    []string `toml:"excluded_dirs"`
	VideoExtensions []string `toml:"video_extensions"`
}

// ProfileGroup is a named encoding configuration with its own concurrency
// ceiling. PresetName is optional; when empty it is read from PresetFile.
type ProfileGroup struct {
	ID           string `toml:"id"`
	PresetFile   string `toml:"preset_file"`
	PresetName   string `toml:"preset_name"`
	MaxInstances int    `toml:"max_instances"`
}

// Schedule configures the periodic daemon.
type Schedule struct {
	Cron       string `toml:"cron"`
	RunOnStart bool   `toml:"run_on_start"`
}

// History toggles the SQLite run history.
type History struct {
	Enabled bool `toml:"enabled"`
}

// Notifications configures ntfy push messages. An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyEmptyRuns       bool   `toml:"notify_empty_runs"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for squish.
//
// Configuration sections by subsystem:
//   - Paths: input tree, logs, state, reports, status artifact
//   - Engine: HandBrakeCLI binary, success marker, per-job timeout
//   - Output: naming suffix/extension and source deletion
//   - Discovery: excluded directories and extension allow-list
//   - ProfileGroups: encoding configurations in dispatch scan order
//   - Schedule: cron expression for the daemon
//   - History: SQLite run history
//   - Notifications: ntfy push messages after each run
//   - Logging: log format, level, and report retention
type Config struct {
	Paths         Paths          `toml:"paths"`
	Engine        Engine         `toml:"engine"`
	Output        Output         `toml:"output"`
	Discovery     Discovery      `toml:"discovery"`
	ProfileGroups []ProfileGroup `toml:"profile_groups"`
	Schedule      Schedule       `toml:"schedule"`
	History       History        `toml:"history"`
	Notifications Notifications  `toml:"notifications"`
	Logging       Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		// A file that declares profile groups replaces the defaults entirely.
		cfg.ProfileGroups = nil
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		if cfg.ProfileGroups == nil {
			cfg.ProfileGroups = defaultProfileGroups()
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// ReportDirHint reads only paths.report_dir (falling back to paths.input_dir)
// from the config file at path, skipping normalization and validation. It lets
// a run that failed to load its configuration still leave a crash report where
// operators look for reports. It returns "" when nothing usable can be read.
func ReportDirHint(path string) string {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil || !exists {
		return ""
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ""
	}
	var partial struct {
		Paths struct {
			InputDir  string `toml:"input_dir"`
			ReportDir string `toml:"report_dir"`
		} `toml:"paths"`
	}
	if err := toml.Unmarshal(data, &partial); err != nil {
		return ""
	}
	dir := strings.TrimSpace(partial.Paths.ReportDir)
	if dir == "" {
		dir = strings.TrimSpace(partial.Paths.InputDir)
	}
	if dir == "" {
		return ""
	}
	expanded, err := expandPath(dir)
	if err != nil {
		return ""
	}
	return expanded
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("squish.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run writes into. The input
// directory is never created; preflight reports it when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir, c.Paths.ReportDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "squish.lock")
}

// HistoryPath returns the run history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// NotificationTimeout is the per-request limit for ntfy calls.
func (c *Config) NotificationTimeout() time.Duration {
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		return time.Duration(defaultNtfyTimeoutSeconds) * time.Second
	}
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// JobTimeout converts the configured per-job limit; zero disables it.
func (c *Config) JobTimeout() time.Duration {
	if c.Engine.JobTimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Engine.JobTimeoutMinutes) * time.Minute
}

// Group returns the profile group with the given id.
func (c *Config) Group(id string) (ProfileGroup, bool) {
	for _, group := range c.ProfileGroups {
		if group.ID == id {
			return group, true
		}
	}
	return ProfileGroup{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
