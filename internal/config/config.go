// Package config loads holod's TOML configuration file and applies the
// privilege drop described in spec §6.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileLogger is the shape shared by logging.file and logging.stdout (spec
// §6: "Same style knobs for stdout").
type FileLogger struct {
	Enabled  bool   `toml:"enabled"`
	Dir      string `toml:"dir"`
	Name     string `toml:"name"`
	Rotation string `toml:"rotation"` // never | hourly | daily
	Style    string `toml:"style"`    // compact | full | json | pretty
	Colors   bool   `toml:"colors"`
}

type Logging struct {
	Journald struct {
		Enabled bool `toml:"enabled"`
	} `toml:"journald"`
	File   FileLogger `toml:"file"`
	Stdout FileLogger `toml:"stdout"`
}

type EventRecorder struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type TLS struct {
	Certificate string `toml:"certificate"`
	Key         string `toml:"key"`
}

type Plugin struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	TLS     TLS    `toml:"tls"`
}

type Plugins struct {
	GRPC Plugin `toml:"grpc"`
	GNMI Plugin `toml:"gnmi"`
}

// Config is the top-level shape of /etc/holod.toml (spec §6). Every field
// is one of the keys spec.md enumerates; BurntSushi/toml's strict decode
// (via md.Undecoded() in Load) rejects anything else.
type Config struct {
	User          string        `toml:"user"`
	Group         string        `toml:"group"`
	DatabasePath  string        `toml:"database_path"`
	Logging       Logging       `toml:"logging"`
	EventRecorder EventRecorder `toml:"event_recorder"`
	Plugins       Plugins       `toml:"plugins"`
}

// Default returns the configuration used when no config file is present,
// per spec.md's stated policy that a missing file only warns and falls
// back to defaults.
func Default() *Config {
	return &Config{
		DatabasePath: "/var/lib/holod/rollback.db",
		Logging: Logging{
			Stdout: FileLogger{Enabled: true, Style: "compact"},
		},
	}
}

// Load reads and strictly decodes path. A missing file is not an error:
// it returns Default(). Any other read or decode failure is, including
// an unknown key anywhere in the document.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, &UnknownKeyError{Path: path, Keys: undecoded}
	}
	return cfg, nil
}

// UnknownKeyError reports every TOML key in a config file that doesn't
// correspond to a known Config field — spec §6's "unknown key is a hard
// parse failure" is about the whole set, not just the first offender, so
// this carries all of them rather than the customary single-error shape.
type UnknownKeyError struct {
	Path string
	Keys []toml.Key
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("config: %s: %d unknown key(s): %v", e.Path, len(e.Keys), e.Keys)
}
