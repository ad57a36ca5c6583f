// Package config loads settings from a YAML file, KNOLDECK_ environment
// variables and command line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// EnvPrefix is the prefix of environment overrides. KNOLDECK_STORE_POLL_INTERVAL
// sets store.poll_interval.
const EnvPrefix = "KNOLDECK_"

type Config struct {
	Store  StoreConfig  `koanf:"store"`
	User   UserConfig   `koanf:"user"`
	Log    LogConfig    `koanf:"log"`
	Server ServerConfig `koanf:"server"`
	Import ImportConfig `koanf:"import"`
}

type StoreConfig struct {
	Driver       string        `koanf:"driver" validate:"oneof=memory sqlite postgres"`
	DSN          string        `koanf:"dsn" validate:"required_unless=Driver memory"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gte=0"`
}

// UserConfig is the principal signed in at startup. An empty ID starts
// signed out.
type UserConfig struct {
	ID    string `koanf:"id"`
	Email string `koanf:"email" validate:"omitempty,email"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

type ImportConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver:       "sqlite",
			DSN:          "knoldeck.db",
			PollInterval: 2 * time.Second,
		},
		User:   UserConfig{ID: "local"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: "localhost:8080"},
		Import: ImportConfig{ReposDir: "repos"},
	}
}

// RegisterFlags adds --config and one flag per key to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a YAML config file")
	fs.String("store.driver", d.Store.Driver, "Store driver: memory, sqlite or postgres")
	fs.String("store.dsn", d.Store.DSN, "sqlite file or postgres URL")
	fs.Duration("store.poll_interval", d.Store.PollInterval, "How often SQL listeners re-query")
	fs.String("user.id", d.User.ID, "Principal id signed in at startup; empty starts signed out")
	fs.String("user.email", d.User.Email, "Principal email")
	fs.String("log.level", d.Log.Level, "Log level: debug, info, warn or error")
	fs.String("log.format", d.Log.Format, "Log format: text or json")
	fs.String("server.addr", d.Server.Addr, "HTTP listen address")
	fs.String("import.repos_dir", d.Import.ReposDir, "Where git imports are cloned")
}

// Load reads the config file at path, if any, then the environment, then the
// flags of fs that were set. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if fs != nil {
		// Unchanged flags only fill keys nothing else has set.
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps KNOLDECK_SECTION_SOME_KEY to section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate checks every key against its allowed values.
func (c Config) Validate() error {
	err := validator.New().Struct(c)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return err
}

// Principal returns the configured startup principal.
func (c Config) Principal() domain.Principal {
	return domain.Principal{UID: c.User.ID, Email: c.User.Email}
}

// NewLogger builds the slog logger described by c. A nil w logs to stderr.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
