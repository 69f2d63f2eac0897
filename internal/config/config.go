// Package config defines the application configuration and its loading
// from files, environment variables, and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mediscan-tech/mediscan/internal/detect"
	"github.com/mediscan-tech/mediscan/internal/extract"
	"github.com/mediscan-tech/mediscan/internal/langid"
	"github.com/mediscan-tech/mediscan/internal/pipeline"
	"github.com/mediscan-tech/mediscan/internal/preprocess"
)

// Config represents the complete configuration for the mediscan
// application, covering the scan command, the HTTP server, and the record
// store.
type Config struct {
	LogLevel       string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose        bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	TessdataPrefix string `mapstructure:"tessdata_prefix" yaml:"tessdata_prefix" json:"tessdata_prefix"`

	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store" json:"store"`
}

// PipelineConfig contains recognition pipeline settings.
type PipelineConfig struct {
	Detector   DetectorConfig   `mapstructure:"detector" yaml:"detector" json:"detector"`
	Language   LanguageConfig   `mapstructure:"language" yaml:"language" json:"language"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction" json:"extraction"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	MaxSize    int              `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
}

// DetectorConfig contains label region detection settings.
type DetectorConfig struct {
	ModelPath     string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	InputSize     int     `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	ConfThreshold float64 `mapstructure:"conf_threshold" yaml:"conf_threshold" json:"conf_threshold"`
	IoUThreshold  float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	NumThreads    int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// LanguageConfig contains language identification settings.
type LanguageConfig struct {
	ConfThreshold  float64 `mapstructure:"conf_threshold" yaml:"conf_threshold" json:"conf_threshold"`
	MinSampleRunes int     `mapstructure:"min_sample_runes" yaml:"min_sample_runes" json:"min_sample_runes"`
}

// ExtractionConfig contains field extraction settings.
type ExtractionConfig struct {
	VocabularyPath string        `mapstructure:"vocabulary_path" yaml:"vocabulary_path" json:"vocabulary_path"`
	Weights        WeightsConfig `mapstructure:"weights" yaml:"weights" json:"weights"`
}

// WeightsConfig contains the per-field weights for the record confidence.
type WeightsConfig struct {
	Name        float64 `mapstructure:"name" yaml:"name" json:"name"`
	Ingredients float64 `mapstructure:"ingredients" yaml:"ingredients" json:"ingredients"`
	Quantity    float64 `mapstructure:"quantity" yaml:"quantity" json:"quantity"`
}

// TimeoutConfig contains per-stage timeout budgets in seconds.
type TimeoutConfig struct {
	NormalizeSec   int `mapstructure:"normalize_sec" yaml:"normalize_sec" json:"normalize_sec"`
	DetectSec      int `mapstructure:"detect_sec" yaml:"detect_sec" json:"detect_sec"`
	ProvisionalSec int `mapstructure:"provisional_sec" yaml:"provisional_sec" json:"provisional_sec"`
	RecognizeSec   int `mapstructure:"recognize_sec" yaml:"recognize_sec" json:"recognize_sec"`
	ExtractSec     int `mapstructure:"extract_sec" yaml:"extract_sec" json:"extract_sec"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host               string `mapstructure:"host" yaml:"host" json:"host"`
	Port               int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin         string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB        int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec         int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec" json:"shutdown_timeout_sec"`
}

// StoreConfig contains record persistence settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// DefaultConfig returns the default configuration values.
func DefaultConfig() *Config {
	det := detect.DefaultConfig()
	lang := langid.DefaultConfig()
	timeouts := pipeline.DefaultTimeouts()
	return &Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			Detector: DetectorConfig{
				InputSize:     det.InputSize,
				ConfThreshold: det.ConfThreshold,
				IoUThreshold:  det.IoUThreshold,
				NumThreads:    det.NumThreads,
			},
			Language: LanguageConfig{
				ConfThreshold:  lang.ConfThreshold,
				MinSampleRunes: lang.MinSampleRunes,
			},
			Extraction: ExtractionConfig{
				Weights: WeightsConfig{Name: 1, Ingredients: 1, Quantity: 1},
			},
			Timeouts: TimeoutConfig{
				NormalizeSec:   int(timeouts.Normalize / time.Second),
				DetectSec:      int(timeouts.Detect / time.Second),
				ProvisionalSec: int(timeouts.Provisional / time.Second),
				RecognizeSec:   int(timeouts.Recognize / time.Second),
				ExtractSec:     int(timeouts.Extract / time.Second),
			},
			MaxSize: preprocess.DefaultConfig().MaxSize,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			CORSOrigin:         "*",
			MaxUploadMB:        20,
			TimeoutSec:         120,
			ShutdownTimeoutSec: 10,
		},
		Store: StoreConfig{
			Path: "mediscan.db",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)",
			c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := validateThreshold(c.Pipeline.Detector.ConfThreshold, "pipeline.detector.conf_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Pipeline.Detector.IoUThreshold, "pipeline.detector.iou_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Pipeline.Language.ConfThreshold, "pipeline.language.conf_threshold"); err != nil {
		return err
	}

	w := c.Pipeline.Extraction.Weights
	if w.Name < 0 || w.Ingredients < 0 || w.Quantity < 0 {
		return fmt.Errorf("field weights must not be negative")
	}
	if w.Name+w.Ingredients+w.Quantity <= 0 {
		return fmt.Errorf("at least one field weight must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Pipeline.MaxSize <= 0 {
		return fmt.Errorf("invalid max image size: %d (must be positive)", c.Pipeline.MaxSize)
	}
	return nil
}

// ToPipelineConfig converts the config to the pipeline configuration,
// loading the vocabulary override file when one is set.
func (c *Config) ToPipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	cfg.Preprocess.MaxSize = c.Pipeline.MaxSize
	cfg.Detector.ModelPath = c.Pipeline.Detector.ModelPath
	if c.Pipeline.Detector.InputSize > 0 {
		cfg.Detector.InputSize = c.Pipeline.Detector.InputSize
	}
	if c.Pipeline.Detector.ConfThreshold > 0 {
		cfg.Detector.ConfThreshold = c.Pipeline.Detector.ConfThreshold
	}
	if c.Pipeline.Detector.IoUThreshold > 0 {
		cfg.Detector.IoUThreshold = c.Pipeline.Detector.IoUThreshold
	}
	cfg.Detector.NumThreads = c.Pipeline.Detector.NumThreads

	if c.Pipeline.Language.ConfThreshold > 0 {
		cfg.LangID.ConfThreshold = c.Pipeline.Language.ConfThreshold
	}
	if c.Pipeline.Language.MinSampleRunes > 0 {
		cfg.LangID.MinSampleRunes = c.Pipeline.Language.MinSampleRunes
	}

	cfg.TessdataPrefix = c.TessdataPrefix
	cfg.Extract.Weights = extract.Weights{
		Name:        c.Pipeline.Extraction.Weights.Name,
		Ingredients: c.Pipeline.Extraction.Weights.Ingredients,
		Quantity:    c.Pipeline.Extraction.Weights.Quantity,
	}
	if path := c.Pipeline.Extraction.VocabularyPath; path != "" {
		vocab, err := extract.LoadVocabulary(path)
		if err != nil {
			return pipeline.Config{}, fmt.Errorf("load vocabulary: %w", err)
		}
		cfg.Extract.Vocabulary = vocab
	}

	cfg.Timeouts = pipeline.Timeouts{
		Normalize:   time.Duration(c.Pipeline.Timeouts.NormalizeSec) * time.Second,
		Detect:      time.Duration(c.Pipeline.Timeouts.DetectSec) * time.Second,
		Provisional: time.Duration(c.Pipeline.Timeouts.ProvisionalSec) * time.Second,
		Recognize:   time.Duration(c.Pipeline.Timeouts.RecognizeSec) * time.Second,
		Extract:     time.Duration(c.Pipeline.Timeouts.ExtractSec) * time.Second,
	}
	return cfg, nil
}

func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
