// Package config loads murelay settings from the environment.
//
// Values come from MURELAY_* environment variables, optionally seeded
// from a .env file. Command-line flags override them in the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LocalSequencer as SequencerURL runs the in-process sequencer.
const LocalSequencer = "local"

// Config holds all configuration for a relay.
type Config struct {
	ListenAddr   string
	SequencerURL string // HTTP base URL, or LocalSequencer
	CacheName    string // SQLite path or redis:// URL
	NodesFile    string // YAML node table
	KeyFile      string // Base64 ed25519 seed; generated if missing

	// Crank limits
	MaxDepth    int
	MaxNodes    int
	Concurrency int

	// Retry policy for sequencer and compute calls
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	RequestTimeout time.Duration

	LogLevel  string // debug, info, warn, error
	LogFormat string // text or json
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8080",
		SequencerURL:   LocalSequencer,
		CacheName:      "murelay.db",
		NodesFile:      "nodes.yaml",
		KeyFile:        "murelay.key",
		MaxDepth:       64,
		MaxNodes:       1000,
		Concurrency:    8,
		RetryAttempts:  3,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
		RequestTimeout: 30 * time.Second,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads configuration from the environment.
//
// envFiles are loaded first if they exist; variables already set in the
// process environment win. With no envFiles a .env in the working
// directory is tried.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("MURELAY_LISTEN", &cfg.ListenAddr)
	p.str("MURELAY_SEQUENCER_URL", &cfg.SequencerURL)
	p.str("MURELAY_CACHE", &cfg.CacheName)
	p.str("MURELAY_NODES_FILE", &cfg.NodesFile)
	p.str("MURELAY_KEY_FILE", &cfg.KeyFile)
	p.integer("MURELAY_MAX_DEPTH", &cfg.MaxDepth)
	p.integer("MURELAY_MAX_NODES", &cfg.MaxNodes)
	p.integer("MURELAY_CONCURRENCY", &cfg.Concurrency)
	p.integer("MURELAY_RETRY_ATTEMPTS", &cfg.RetryAttempts)
	p.duration("MURELAY_RETRY_BASE_DELAY", &cfg.RetryBaseDelay)
	p.duration("MURELAY_RETRY_MAX_DELAY", &cfg.RetryMaxDelay)
	p.duration("MURELAY_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	p.str("MURELAY_LOG_LEVEL", &cfg.LogLevel)
	p.str("MURELAY_LOG_FORMAT", &cfg.LogFormat)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.SequencerURL == "" {
		errs = append(errs, errors.New("sequencer url is required"))
	} else if c.SequencerURL != LocalSequencer &&
		!strings.HasPrefix(c.SequencerURL, "http://") && !strings.HasPrefix(c.SequencerURL, "https://") {
		errs = append(errs, fmt.Errorf("sequencer url %q must be http(s) or %q", c.SequencerURL, LocalSequencer))
	}
	if c.CacheName == "" {
		errs = append(errs, errors.New("cache name is required"))
	}
	if c.NodesFile == "" {
		errs = append(errs, errors.New("nodes file is required"))
	}
	if c.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("max depth must be >= 0, got %d", c.MaxDepth))
	}
	if c.MaxNodes < 1 {
		errs = append(errs, fmt.Errorf("max nodes must be >= 1, got %d", c.MaxNodes))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be >= 1, got %d", c.RetryAttempts))
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// UsesLocalSequencer reports whether the in-process sequencer is configured.
func (c *Config) UsesLocalSequencer() bool {
	return c.SequencerURL == LocalSequencer
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return
	}
	*dst = d
}
