// Package config loads runtime settings from PINBOARD_* environment
// variables and board bindings from an optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/denismitr/pinboard/portal"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory = "memory"
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Settings come from the environment and may be overridden by flags.
type Settings struct {
	Driver     string `env:"PINBOARD_DRIVER" envDefault:"json"`
	Path       string `env:"PINBOARD_PATH" envDefault:"pinboard.json"`
	ConfigFile string `env:"PINBOARD_CONFIG"`
	LogLevel   string `env:"PINBOARD_LOG_LEVEL" envDefault:"warn"`
	Secret     string `env:"PINBOARD_SECRET"`
}

// ParseEnv loads Settings from environment variables.
func ParseEnv() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

func (s Settings) Validate() error {
	switch s.Driver {
	case DriverMemory, DriverJSON, DriverSQLite:
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}

	if s.Driver != DriverMemory && strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("driver %s needs a path", s.Driver)
	}

	return nil
}

// Level maps the configured log level, falling back to warn.
func (s Settings) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return l
}

// File is the YAML layout.
//
//	boards:
//	  market: {key: market, expire_days: 60}
//	roles:
//	  admin: $2a$10$...
type File struct {
	Boards  map[string]BoardEntry `yaml:"boards"`
	Roles   map[string]string     `yaml:"roles"`
	Palette []string              `yaml:"palette"`
}

// BoardEntry leaves a default in place when a field is omitted.
type BoardEntry struct {
	Key        string `yaml:"key"`
	ExpireDays *int   `yaml:"expire_days"`
}

// Boards is the resolved board configuration.
type Boards struct {
	Bindings map[portal.Board]portal.Binding
	Roles    map[portal.Role]string
	Palette  []string
}

func Default() *Boards {
	return &Boards{
		Bindings: portal.DefaultBindings(),
		Roles:    map[portal.Role]string{},
		Palette:  append([]string(nil), portal.DefaultPalette...),
	}
}

// LoadFile merges the YAML file at path over the defaults. An empty path
// returns the defaults.
func LoadFile(path string) (*Boards, error) {
	b := Default()
	if path == "" {
		return b, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := b.merge(f); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return b, nil
}

func (b *Boards) merge(f File) error {
	for name, binding := range f.Boards {
		board, err := portal.ParseBoard(name)
		if err != nil {
			return err
		}

		current := b.Bindings[board]
		if binding.Key != "" {
			current.Key = binding.Key
		}
		if binding.ExpireDays != nil {
			if *binding.ExpireDays < 0 {
				return fmt.Errorf("board %s: expire_days must not be negative", name)
			}
			current.ExpireDays = *binding.ExpireDays
		}
		b.Bindings[board] = current
	}

	for name, hash := range f.Roles {
		role, err := portal.ParseRole(name)
		if err != nil {
			return err
		}
		b.Roles[role] = hash
	}

	if len(f.Palette) > 0 {
		b.Palette = f.Palette
	}

	return nil
}
