package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Timezone      string                  `yaml:"timezone" json:"timezone" mapstructure:"timezone"`                // "Local", "UTC", or IANA name
	DefaultLevel  string                  `yaml:"default_level" json:"default_level" mapstructure:"defaultlevel"`  // default level for all modules
	Console       *ConsoleOutput          `yaml:"console" json:"console" mapstructure:"console"`                   // console output configuration
	FileOutput    *FileOutput             `yaml:"file_output" json:"file_output" mapstructure:"fileoutput"`        // main JSON log file
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" json:"modules" mapstructure:"modules"`                   // per-module output configuration
	ModuleLevels  map[string]string       `yaml:"module_levels" json:"module_levels" mapstructure:"modulelevels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output is human-readable text on stderr.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" json:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration. File output is JSON.
type FileOutput struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
	Level   string `yaml:"level" json:"level" mapstructure:"level"`
}

// ModuleOutput routes one module to a dedicated file
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	FilePath    string `yaml:"file_path" json:"file_path" mapstructure:"filepath"`
	Level       string `yaml:"level" json:"level" mapstructure:"level"`
	ConsoleAlso bool   `yaml:"console_also" json:"console_also" mapstructure:"consolealso"`
}

// Default values for logging configuration.
// These match the defaults in conf/defaults.go.
const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/nutrigraph.log"
	DefaultPipelineLogPath = "logs/pipeline.log"
	DefaultAPILogPath      = "logs/api.log"
	DefaultConsoleEnabled  = true
	DefaultFileEnabled     = false
)

func ensureModuleOutput(cfg *LoggingConfig, module, filePath string) {
	if _, exists := cfg.ModuleOutputs[module]; !exists {
		cfg.ModuleOutputs[module] = ModuleOutput{
			Enabled:  true,
			FilePath: filePath,
			Level:    DefaultLogLevel,
		}
	}
}

// applyConfigDefaults fills nil sections. Module files are only added when
// file logging is on so a plain CLI run does not create a logs directory.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled: DefaultFileEnabled,
			Path:    DefaultLogPath,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}

	if cfg.FileOutput.Enabled {
		ensureModuleOutput(cfg, "pipeline", DefaultPipelineLogPath)
		ensureModuleOutput(cfg, "api", DefaultAPILogPath)
	}
}
