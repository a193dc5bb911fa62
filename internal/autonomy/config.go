package autonomy

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed config/autonomy.yaml
var defaultsYAML embed.FS

type Mode string

const (
	ModeManual     Mode = "manual"
	ModeSupervised Mode = "supervised"
	ModeAutonomous Mode = "autonomous"
)

var ErrInvalidConfig = errors.New("invalid autonomy config")

// Config is the policy input read on every scoring event.
type Config struct {
	Mode          Mode    `yaml:"mode" json:"mode"`
	FitThreshold  int     `yaml:"fit_threshold" json:"fit_threshold"`
	AutoThreshold int     `yaml:"auto_threshold" json:"auto_threshold"`
	MaxAutoValue  float64 `yaml:"max_auto_value" json:"max_auto_value"`
}

// Fallback matches the safe defaults used when nothing is configured.
var Fallback = Config{
	Mode:          ModeManual,
	FitThreshold:  80,
	AutoThreshold: 90,
	MaxAutoValue:  500000,
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeManual, ModeSupervised, ModeAutonomous:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.FitThreshold < 0 || c.FitThreshold > 100 {
		return fmt.Errorf("%w: fit_threshold must be within 0-100", ErrInvalidConfig)
	}
	if c.AutoThreshold < 0 || c.AutoThreshold > 100 {
		return fmt.Errorf("%w: auto_threshold must be within 0-100", ErrInvalidConfig)
	}
	if c.AutoThreshold < c.FitThreshold {
		return fmt.Errorf("%w: auto_threshold must not be below fit_threshold", ErrInvalidConfig)
	}
	if c.MaxAutoValue < 0 {
		return fmt.Errorf("%w: max_auto_value must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadDefaults reads the embedded autonomy.yaml, falling back to path on disk
// for local overrides, and fills unset fields from Fallback.
func LoadDefaults(path string) (Config, error) {
	data, err := defaultsYAML.ReadFile("config/autonomy.yaml")
	if path != "" {
		if local, localErr := os.ReadFile(path); localErr == nil {
			data, err = local, nil
		}
	}
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Fallback
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if cfg.Mode == "" {
		cfg.Mode = Fallback.Mode
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
