// Package portal connects the capture engine to procurement portals: the
// automation service that files proposals and the status lookups used by
// follow-ups.
package portal

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config/portals.yaml
var portalsYAML embed.FS

const (
	KindSAMAPI = "sam_api"
	KindHTML   = "html"
)

type Registry struct {
	Portals []Config `yaml:"portals"`
}

// Config describes one portal.
type Config struct {
	Name           string    `yaml:"name"`
	Aliases        []string  `yaml:"aliases,omitempty"`
	Kind           string    `yaml:"kind"`
	BaseURL        string    `yaml:"base_url,omitempty"`
	APIKey         string    `yaml:"api_key,omitempty"`
	StatusURL      string    `yaml:"status_url,omitempty"` // {ref} is replaced by the opportunity's external ref
	Selectors      Selectors `yaml:"selectors,omitempty"`
	UseAI          bool      `yaml:"use_ai,omitempty"`
	IgnoreRobots   bool      `yaml:"ignore_robots,omitempty"`
	RateLimitRPS   float64   `yaml:"rate_limit_rps,omitempty"` // default 1
	Burst          int       `yaml:"burst,omitempty"`
	TimeoutSeconds int       `yaml:"timeout_seconds,omitempty"` // default 30
}

type Selectors struct {
	Status string `yaml:"status,omitempty"`
	Notice string `yaml:"notice,omitempty"`
}

func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadRegistry reads the embedded portals.yaml, or the file at path when it
// exists, expanding environment variables in it.
func LoadRegistry(path string) (*Registry, error) {
	data, err := portalsYAML.ReadFile("config/portals.yaml")
	if path != "" {
		if local, localErr := os.ReadFile(path); localErr == nil {
			data, err = local, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	expanded := os.ExpandEnv(string(data))
	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, err
	}
	for i, p := range reg.Portals {
		switch p.Kind {
		case KindSAMAPI, KindHTML:
		default:
			return nil, fmt.Errorf("portal %q: unknown kind %q", p.Name, p.Kind)
		}
		if p.Kind == KindHTML && p.StatusURL == "" {
			return nil, fmt.Errorf("portal %q: html portals need status_url", p.Name)
		}
		if p.Kind == KindSAMAPI && p.BaseURL == "" {
			return nil, fmt.Errorf("portal %q: sam_api portals need base_url", p.Name)
		}
		reg.Portals[i] = p
	}
	return &reg, nil
}

// Lookup finds a portal by name or alias, case-insensitively.
func (r *Registry) Lookup(name string) (Config, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range r.Portals {
		if strings.ToLower(p.Name) == name {
			return p, true
		}
		for _, a := range p.Aliases {
			if strings.ToLower(a) == name {
				return p, true
			}
		}
	}
	return Config{}, false
}
