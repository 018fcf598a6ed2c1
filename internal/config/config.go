// Package config loads the gotd TOML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/odvcencio/gotd/pkg/diff"
	"github.com/odvcencio/gotd/pkg/envelope"
	"github.com/odvcencio/gotd/pkg/upload"
)

// Config is the full service configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Storage Storage `toml:"storage"`
	Merge   Merge   `toml:"merge"`
	Diff    Diff    `toml:"diff"`
	Upload  Upload  `toml:"upload"`
	Log     Log     `toml:"log"`
	Author  Author  `toml:"author"`
}

type Server struct {
	Addr           string `toml:"addr"`
	AllowPlaintext bool   `toml:"allow_plaintext"`
	// Key is the envelope key as hex or base64. KeyFile is read when Key
	// is empty.
	Key          string `toml:"key,omitempty"`
	KeyFile      string `toml:"key_file,omitempty"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

type Storage struct {
	// DataDir holds repository objects and catalog.db. Empty keeps
	// everything in memory.
	DataDir  string `toml:"data_dir"`
	Compress bool   `toml:"compress"`
}

// Merge holds merge behavior. LineMerge combines non-overlapping line
// edits to the same file instead of reporting a conflict; it is off unless
// set.
type Merge struct {
	LineMerge bool `toml:"line_merge"`
}

type Diff struct {
	RenameThreshold int  `toml:"rename_threshold"`
	ContextLines    int  `toml:"context_lines"`
	NoRenames       bool `toml:"no_renames"`
}

type Upload struct {
	TTL      Duration `toml:"ttl"`
	MaxBytes int64    `toml:"max_bytes"`
}

type Log struct {
	Level string `toml:"level"`
}

type Author struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{
			Addr:         "127.0.0.1:8420",
			MaxBodyBytes: 128 << 20,
		},
		Diff: Diff{
			RenameThreshold: diff.DefaultRenameThreshold,
			ContextLines:    diff.DefaultContextLines,
		},
		Upload: Upload{
			TTL:      Duration{upload.DefaultTTL},
			MaxBytes: upload.DefaultMaxBytes,
		},
		Log:    Log{Level: "info"},
		Author: Author{Name: "gotd", Email: "gotd@localhost"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.Key != "" && c.Server.KeyFile != "" {
		errs = append(errs, errors.New("server.key and server.key_file are mutually exclusive"))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("server.max_body_bytes must not be negative"))
	}
	if c.Diff.RenameThreshold < 0 || c.Diff.RenameThreshold > 100 {
		errs = append(errs, fmt.Errorf("diff.rename_threshold %d: want 0-100", c.Diff.RenameThreshold))
	}
	if c.Diff.ContextLines < 0 {
		errs = append(errs, errors.New("diff.context_lines must not be negative"))
	}
	if c.Upload.TTL.Duration < 0 {
		errs = append(errs, errors.New("upload.ttl must not be negative"))
	}
	if c.Upload.MaxBytes < 0 {
		errs = append(errs, errors.New("upload.max_bytes must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}

// NewLogger returns a text logger writing to w at the configured level.
func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// DiffOptions converts the diff section.
func (c Config) DiffOptions() diff.Options {
	return diff.Options{
		RenameThreshold: c.Diff.RenameThreshold,
		ContextLines:    c.Diff.ContextLines,
		NoRenames:       c.Diff.NoRenames,
	}
}

// EnvelopeKey returns the configured envelope key, or nil when none is set.
func (c Config) EnvelopeKey() ([]byte, error) {
	s := c.Server.Key
	if s == "" && c.Server.KeyFile != "" {
		data, err := os.ReadFile(c.Server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		s = string(data)
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	key, err := envelope.ParseKey(s)
	if err != nil {
		return nil, fmt.Errorf("server key: %w", err)
	}
	return key, nil
}

// CatalogPath is where the catalog lives for a disk data directory.
func (c Config) CatalogPath() string {
	if c.Storage.DataDir == "" {
		return ""
	}
	return filepath.Join(c.Storage.DataDir, "catalog.db")
}

// Write atomically writes cfg to path as TOML.
func Write(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}
