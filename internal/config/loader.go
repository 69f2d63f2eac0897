package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "mediscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MEDISCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so cobra flag
// bindings take effect.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader on a dedicated viper instance.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads configuration from the search paths and environment, applies
// defaults, and validates the result. A missing config file is not an
// error.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.load("")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}
	cfg, err := l.load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) load(configFile string) (*Config, error) {
	if configFile != "" {
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}

	l.v.AddConfigPath("/etc/mediscan")

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		l.v.AddConfigPath(filepath.Join(configDir, "mediscan"))
	} else if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "mediscan"))
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)
	l.v.SetDefault("tessdata_prefix", defaults.TessdataPrefix)

	l.v.SetDefault("pipeline.max_size", defaults.Pipeline.MaxSize)
	l.v.SetDefault("pipeline.detector.model_path", defaults.Pipeline.Detector.ModelPath)
	l.v.SetDefault("pipeline.detector.input_size", defaults.Pipeline.Detector.InputSize)
	l.v.SetDefault("pipeline.detector.conf_threshold", defaults.Pipeline.Detector.ConfThreshold)
	l.v.SetDefault("pipeline.detector.iou_threshold", defaults.Pipeline.Detector.IoUThreshold)
	l.v.SetDefault("pipeline.detector.num_threads", defaults.Pipeline.Detector.NumThreads)

	l.v.SetDefault("pipeline.language.conf_threshold", defaults.Pipeline.Language.ConfThreshold)
	l.v.SetDefault("pipeline.language.min_sample_runes", defaults.Pipeline.Language.MinSampleRunes)

	l.v.SetDefault("pipeline.extraction.vocabulary_path", defaults.Pipeline.Extraction.VocabularyPath)
	l.v.SetDefault("pipeline.extraction.weights.name", defaults.Pipeline.Extraction.Weights.Name)
	l.v.SetDefault("pipeline.extraction.weights.ingredients", defaults.Pipeline.Extraction.Weights.Ingredients)
	l.v.SetDefault("pipeline.extraction.weights.quantity", defaults.Pipeline.Extraction.Weights.Quantity)

	l.v.SetDefault("pipeline.timeouts.normalize_sec", defaults.Pipeline.Timeouts.NormalizeSec)
	l.v.SetDefault("pipeline.timeouts.detect_sec", defaults.Pipeline.Timeouts.DetectSec)
	l.v.SetDefault("pipeline.timeouts.provisional_sec", defaults.Pipeline.Timeouts.ProvisionalSec)
	l.v.SetDefault("pipeline.timeouts.recognize_sec", defaults.Pipeline.Timeouts.RecognizeSec)
	l.v.SetDefault("pipeline.timeouts.extract_sec", defaults.Pipeline.Timeouts.ExtractSec)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout_sec", defaults.Server.ShutdownTimeoutSec)

	l.v.SetDefault("store.path", defaults.Store.Path)
}
