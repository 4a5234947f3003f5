package commands

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/livefir/talisman"
	"gopkg.in/yaml.v3"
)

// commonFlags are shared by every command that renders templates.
type commonFlags struct {
	config    *string
	debug     *bool
	logLevel  *string
	logFormat *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:    fs.String("config", "", "Path to a YAML engine configuration file."),
		debug:     fs.Bool("debug", false, "Annotate failed values in the output and log render activity."),
		logLevel:  fs.String("log-level", "warn", "Logging level. Options: 'debug', 'info', 'warn', 'error'."),
		logFormat: fs.String("log-format", "text", "Log output format. Options: 'text' or 'json'."),
	}
}

// options turns the common flags into template options.
func (c commonFlags) options(logOutput io.Writer) ([]talisman.Option, *slog.Logger, error) {
	logger, err := newLogger(logOutput, *c.logLevel, *c.logFormat)
	if err != nil {
		return nil, nil, err
	}

	var opts []talisman.Option
	if *c.config != "" {
		cfg, err := talisman.LoadConfig(*c.config)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, talisman.WithConfig(cfg))
	}
	if *c.debug {
		opts = append(opts, talisman.WithDebug(true))
	}
	opts = append(opts, talisman.WithLogger(logger))
	return opts, logger, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log-format: must be 'text' or 'json'")
	}
}

// loadData reads a YAML document of top-level bindings.
func loadData(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	return decodeYAML(data)
}

func decodeYAML(data []byte) (map[string]any, error) {
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse data file: %w", err)
	}
	return values, nil
}
