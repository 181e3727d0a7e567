// Package bot composes a Client, a NickAndAuth machine, and a supervisor of
// user services into one bidirectionally-linked unit, configured from YAML.
package bot

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is one bot's configuration, decoded from the "bot" top-level key
// of bot.yml (or one entry of borg.yml's "borg" map).
type Config struct {
	Room                      string            `yaml:"room"`
	Nick                      string            `yaml:"nick"`
	Passcode                  string            `yaml:"passcode"`
	URIFormat                 string            `yaml:"uri_format"`
	ServicesMaxRestarts       int               `yaml:"services_max_restarts"`
	ServicesMaxRestartsPeriod float64           `yaml:"services_max_restarts_period"`
	Services                  map[string]string `yaml:"services"`
}

const (
	defaultServicesMaxRestarts       = 3
	defaultServicesMaxRestartsPeriod = 15.0
)

func (c *Config) applyDefaults() {
	if c.ServicesMaxRestarts == 0 {
		c.ServicesMaxRestarts = defaultServicesMaxRestarts
	}
	if c.ServicesMaxRestartsPeriod == 0 {
		c.ServicesMaxRestartsPeriod = defaultServicesMaxRestartsPeriod
	}
}

// ServicesMaxRestartsPeriodDuration returns the configured period as a
// time.Duration for use by the supervisor package.
func (c *Config) ServicesMaxRestartsPeriodDuration() time.Duration {
	return time.Duration(c.ServicesMaxRestartsPeriod * float64(time.Second))
}

func (c *Config) validate() error {
	if c.Room == "" {
		return fmt.Errorf("bot: config missing required field %q", "room")
	}
	if c.Nick == "" {
		return fmt.Errorf("bot: config missing required field %q", "nick")
	}
	return nil
}

// document is the top-level shape of bot.yml.
type document struct {
	Bot Config `yaml:"bot"`
}

// LoadConfig reads and decodes a single-bot bot.yml from path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bot: read config %s: %w", path, err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("bot: parse config %s: %w", path, err)
	}
	doc.Bot.applyDefaults()
	if err := doc.Bot.validate(); err != nil {
		return nil, err
	}
	return &doc.Bot, nil
}

// BorgConfig is a named fleet of bot configurations, decoded from the
// top-level "borg" key of borg.yml.
type BorgConfig struct {
	Bots map[string]Config
}

type borgDocument struct {
	Borg map[string]Config `yaml:"borg"`
}

// LoadBorgConfig reads and decodes a multi-bot borg.yml from path.
func LoadBorgConfig(path string) (*BorgConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bot: read config %s: %w", path, err)
	}
	var doc borgDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("bot: parse config %s: %w", path, err)
	}
	for name, cfg := range doc.Borg {
		cfg.applyDefaults()
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("bot: config for %q: %w", name, err)
		}
		doc.Borg[name] = cfg
	}
	return &BorgConfig{Bots: doc.Borg}, nil
}
