package talisman

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the per-template engine settings. Every Template carries its
// own copy, so templates with different settings can coexist in one process.
type Config struct {
	// Debug logs render activity and annotates failed values with an HTML comment
	Debug bool `yaml:"debug"`
	// ShowUndefinedBlocks renders every block even when nothing is bound to it
	ShowUndefinedBlocks bool `yaml:"show_undefined_blocks"`
	// HideUndefinedTags renders unbound tags as nothing instead of {name}
	HideUndefinedTags bool `yaml:"hide_undefined_tags"`
	// DisableEscaping turns off HTML escaping for every tag
	DisableEscaping bool `yaml:"disable_escaping"`
	// Minify minifies static template text at parse time
	Minify bool `yaml:"minify"`

	// Lookahead is how many sibling nodes ahead of the output cursor may be
	// resolved concurrently. Zero resolves strictly in order.
	Lookahead int `yaml:"lookahead" validate:"gte=0,lte=1024"`
	// ChunkSize is the read size used for byte stream values
	ChunkSize int `yaml:"chunk_size" validate:"gte=1,lte=16777216"`
	// ChunkBuffer is how many chunks a node resolved ahead of the cursor may hold
	ChunkBuffer int `yaml:"chunk_buffer" validate:"gte=0,lte=4096"`

	Logger *slog.Logger `yaml:"-"`
	// FS is used by Open and Load; nil reads from the operating system
	FS fs.FS `yaml:"-"`
}

// Option is a functional option for configuring a Template
type Option func(*Config)

// DefaultConfig returns the settings used when no options are given.
func DefaultConfig() Config {
	return Config{
		Lookahead:   8,
		ChunkSize:   4096,
		ChunkBuffer: 16,
	}
}

// WithConfig replaces the whole configuration, e.g. one read by LoadConfig.
// Options after it still apply.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithDebug enables debug logging and diagnostic comments in the output
func WithDebug(enabled bool) Option {
	return func(c *Config) {
		c.Debug = enabled
	}
}

// WithShowUndefinedBlocks renders blocks that have no binding
func WithShowUndefinedBlocks() Option {
	return func(c *Config) {
		c.ShowUndefinedBlocks = true
	}
}

// WithHideUndefinedTags drops unbound tags from the output
func WithHideUndefinedTags() Option {
	return func(c *Config) {
		c.HideUndefinedTags = true
	}
}

// WithoutEscaping disables HTML escaping of tag values
func WithoutEscaping() Option {
	return func(c *Config) {
		c.DisableEscaping = true
	}
}

// WithMinify minifies the static HTML of the template
func WithMinify() Option {
	return func(c *Config) {
		c.Minify = true
	}
}

// WithLookahead sets how far ahead of the output cursor tags are resolved
func WithLookahead(n int) Option {
	return func(c *Config) {
		c.Lookahead = n
	}
}

// WithChunkSize sets the read size for byte stream values
func WithChunkSize(n int) Option {
	return func(c *Config) {
		c.ChunkSize = n
	}
}

// WithChunkBuffer sets the per-node buffer used for lookahead resolution
func WithChunkBuffer(n int) Option {
	return func(c *Config) {
		c.ChunkBuffer = n
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithFS reads templates and loaded fragments from fsys
func WithFS(fsys fs.FS) Option {
	return func(c *Config) {
		c.FS = fsys
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the numeric limits of c.
func (c Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		switch e.Tag() {
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", e.Field(), e.Param()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", e.Field()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// LoadConfig reads a YAML configuration file. Fields missing from the file
// keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// logger returns the configured logger, falling back to a stderr text
// handler in debug mode and a discarding one otherwise.
func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	if c.Debug {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// readFile reads name through c.FS, or the operating system when FS is nil.
func (c Config) readFile(name string) ([]byte, error) {
	if c.FS != nil {
		return fs.ReadFile(c.FS, name)
	}
	return os.ReadFile(name)
}
