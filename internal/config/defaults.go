package config

const (
	defaultConfigPath         = "~/.config/squish/config.toml"
	defaultLogDir             = "~/.local/share/squish/logs"
	defaultStateDir           = "~/.local/share/squish"
	defaultQueueStateName     = "squish-queue-state.json"
	defaultStatusFileName     = "Squish CRON.log"
	defaultHandBrakeCLI       = "HandBrakeCLI"
	defaultCompletionMarker   = "Encode done!"
	defaultOutputSuffix       = " [SQUISH]"
	defaultOutputExtension    = "mkv"
	defaultCron               = "0 2 * * *"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultRetentionDays      = 30
	defaultNtfyTimeoutSeconds = 10
)

var defaultVideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".m4v", ".wmv"}

func defaultProfileGroups() []ProfileGroup {
	return []ProfileGroup{
		{ID: "nvenc", PresetFile: "~/.config/squish/presets/nvenc.json", MaxInstances: 1},
		{ID: "cpu", PresetFile: "~/.config/squish/presets/cpu.json", MaxInstances: 2},
	}
}

// Default returns a Config populated with repository defaults. InputDir is
// left empty; it has no sensible default and Validate requires it.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Engine: Engine{
			HandBrakeCLI:     defaultHandBrakeCLI,
			CompletionMarker: defaultCompletionMarker,
		},
		Output: Output{
			Suffix:       defaultOutputSuffix,
			Extension:    defaultOutputExtension,
			DeleteSource: true,
		},
		Discovery: Discovery{
			VideoExtensions: append([]string(nil), defaultVideoExtensions...),
		},
		ProfileGroups: defaultProfileGroups(),
		Schedule: Schedule{
			Cron: defaultCron,
		},
		History: History{
			Enabled: true,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDays,
		},
	}
}
