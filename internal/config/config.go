// Package config parses CLI flags and an optional YAML overlay into the
// pipeline's recognized options, per spec.md §6.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ErrConfig is the sentinel base error for configuration failures.
var ErrConfig = errors.New("config error")

// cfgAlphaAbsentValue is the sentinel spec.md §6 names: a cfg_alpha of
// exactly 1.0 means "absent".
const cfgAlphaAbsentValue = 1.0

// Config holds every recognized option from spec.md §6, plus the ambient
// CLI/session additions from SPEC_FULL.md §6 (config file overlay,
// device listing, demo processor selection).
type Config struct {
	InputFile   string `yaml:"input_file"`
	InputDevice string `yaml:"input_device"`

	OutputDevice   string `yaml:"output_device"`
	DisableSpeaker bool   `yaml:"disable_speaker"`

	SaveOutput string `yaml:"save_output"`

	Seed     int64   `yaml:"seed"`
	CfgAlpha float64 `yaml:"cfg_alpha"`

	InitialFillThreshold int `yaml:"initial_fill_threshold"`

	// Processor selects the demo FrameProcessor: "echo" (default, no
	// network dependency) or "ollama".
	Processor   string `yaml:"processor"`
	OllamaHost  string `yaml:"ollama_host"`
	OllamaModel string `yaml:"ollama_model"`

	ListDevices bool `yaml:"-"`
	Verbose     bool `yaml:"verbose"`
}

// DefaultConfig returns the built-in defaults, lowest in the
// flags-over-file-over-defaults precedence chain.
func DefaultConfig() *Config {
	return &Config{
		Seed:                 0,
		CfgAlpha:             cfgAlphaAbsentValue,
		InitialFillThreshold: 2400,
		Processor:            "echo",
		OllamaHost:           "http://localhost:11434",
		OllamaModel:          "gemma3:1b",
	}
}

// CfgAlphaOrNil normalizes cfg_alpha per spec.md §6: 1.0 is treated as
// absent regardless of how it was supplied (flag, file, or default).
func (c *Config) CfgAlphaOrNil() *float64 {
	if c.CfgAlpha == cfgAlphaAbsentValue {
		return nil
	}
	v := c.CfgAlpha
	return &v
}

// ParseFlags parses args into a Config, applying the precedence
// flags > file > defaults. A --config file is merged first, then flags
// are reapplied so anything the user actually passed on the command
// line wins.
func ParseFlags(args []string) (*Config, error) {
	cfg := DefaultConfig()

	fs := pflag.NewFlagSet("hibikistream", pflag.ContinueOnError)

	configPath := fs.String("config", "", "optional YAML config file overlay")
	fs.StringVar(&cfg.InputFile, "input-file", cfg.InputFile, "path to a decodable audio file")
	fs.StringVar(&cfg.InputDevice, "input-device", cfg.InputDevice, "capture device name substring (mutually exclusive with --input-file)")
	fs.StringVar(&cfg.OutputDevice, "output-device", cfg.OutputDevice, "playback device name substring (default: system default)")
	fs.BoolVar(&cfg.DisableSpeaker, "disable-speaker", cfg.DisableSpeaker, "disable the playback stage")
	fs.StringVar(&cfg.SaveOutput, "save-output", cfg.SaveOutput, "path to write generated audio as a WAV file")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "seed value, logged at startup (the built-in frame processors do not use it)")
	fs.Float64Var(&cfg.CfgAlpha, "cfg-alpha", cfg.CfgAlpha, "optional guidance scale, logged at startup; 1.0 means absent (the built-in frame processors do not use it)")
	fs.IntVar(&cfg.InitialFillThreshold, "initial-fill-threshold", cfg.InitialFillThreshold, "playback initial-fill threshold in samples (2400-12000)")
	fs.StringVar(&cfg.Processor, "processor", cfg.Processor, "frame processor to use: echo or ollama")
	fs.StringVar(&cfg.OllamaHost, "ollama-host", cfg.OllamaHost, "Ollama API base URL (processor=ollama only)")
	fs.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model name (processor=ollama only)")
	fs.BoolVar(&cfg.ListDevices, "list-devices", cfg.ListDevices, "enumerate capture/playback devices and exit")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug-level logging")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if *configPath != "" {
		if err := cfg.mergeFile(*configPath); err != nil {
			return nil, err
		}
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	return cfg, cfg.validate()
}

// mergeFile overlays YAML-file values onto cfg for every field the file
// sets; fields absent from the file keep their current (default) value.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config file %s: %v", ErrConfig, path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse config file %s: %v", ErrConfig, path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.ListDevices {
		return nil
	}
	if c.InputFile != "" && c.InputDevice != "" {
		return fmt.Errorf("%w: specify either --input-file or --input-device, not both", ErrConfig)
	}
	if c.InputFile == "" && c.InputDevice == "" {
		return fmt.Errorf("%w: must specify either --input-file or --input-device", ErrConfig)
	}
	if c.DisableSpeaker && c.SaveOutput == "" {
		log.Warn("no output enabled (--disable-speaker with no --save-output); pipeline will run drain-only")
	}
	if c.Processor != "echo" && c.Processor != "ollama" {
		return fmt.Errorf("%w: unknown processor %q (must be echo or ollama)", ErrConfig, c.Processor)
	}
	if c.InitialFillThreshold < 2400 || c.InitialFillThreshold > 12000 {
		return fmt.Errorf("%w: initial-fill-threshold %d out of range [2400, 12000]", ErrConfig, c.InitialFillThreshold)
	}
	return nil
}
