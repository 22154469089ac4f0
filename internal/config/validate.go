package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.ValidateProfileGroups(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.InputDir) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("paths.input_dir is required. Edit %s (create with 'squish config init')", defaultPath)
	}
	if strings.TrimSpace(c.Paths.StatusFile) == "" {
		return errors.New("paths.status_file must be set")
	}
	return nil
}

func (c *Config) validateOutput() error {
	if c.Output.Suffix == "" {
		return errors.New("output.suffix must not be empty; outputs would be indistinguishable from sources")
	}
	if strings.ContainsAny(c.Output.Suffix, `/\`) {
		return errors.New("output.suffix must not contain path separators")
	}
	if c.Output.Extension == "" {
		return errors.New("output.extension must be set")
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if len(c.Discovery.VideoExtensions) == 0 {
		return errors.New("discovery.video_extensions must include at least one extension")
	}
	return nil
}

// ValidateProfileGroups checks the invariants the scheduler relies on: at
// least one group, unique non-empty ids, a preset document per group, and a
// positive concurrency ceiling. A non-positive ceiling is rejected rather
// than treated as a disabled group.
func (c *Config) ValidateProfileGroups() error {
	if len(c.ProfileGroups) == 0 {
		return errors.New("profile_groups must define at least one group")
	}
	seen := make(map[string]struct{}, len(c.ProfileGroups))
	for i, group := range c.ProfileGroups {
		if group.ID == "" {
			return fmt.Errorf("profile_groups[%d].id must be set", i)
		}
		if _, dup := seen[group.ID]; dup {
			return fmt.Errorf("profile_groups: duplicate id %q", group.ID)
		}
		seen[group.ID] = struct{}{}
		if group.PresetFile == "" {
			return fmt.Errorf("profile_groups[%s].preset_file must be set", group.ID)
		}
		if group.MaxInstances < 1 {
			return fmt.Errorf("profile_groups[%s].max_instances must be a positive integer, got %d", group.ID, group.MaxInstances)
		}
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if _, err := ParseSchedule(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule.cron: %w", err)
	}
	return nil
}

// ParseSchedule parses a standard five-field cron expression or a descriptor
// such as "@daily".
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(strings.TrimSpace(expr))
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) URL, got %q", topic)
	}
	return nil
}
