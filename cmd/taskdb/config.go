package main

import (
	stderrors "errors"
	"flag"
	"fmt"
	"os"

	"github.com/migadu/taskdb/config"
	"github.com/migadu/taskdb/db"
	"github.com/migadu/taskdb/logger"
	"github.com/migadu/taskdb/pkg/errors"
)

const defaultConfigPath = "config.toml"

// cliOptions holds the flags shared by every subcommand.
type cliOptions struct {
	configPath   string
	primaryURL   string
	secondaryURL string
	fallbackPath string
}

func registerFlags(fs *flag.FlagSet) *cliOptions {
	opts := &cliOptions{}
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to TOML configuration file")
	fs.StringVar(&opts.primaryURL, "primary-url", "", "Primary database URL (overrides config)")
	fs.StringVar(&opts.secondaryURL, "secondary-url", "", "Secondary database URL (overrides config)")
	fs.StringVar(&opts.fallbackPath, "fallback-path", "", "Fallback SQLite file (overrides config)")
	return opts
}

// configFileError reports a configuration file that could not be read or parsed.
type configFileError struct {
	path string
	err  error
}

func (e *configFileError) Error() string {
	return fmt.Sprintf("%v: failed to load configuration file '%s': %v", db.ErrInvalidConfig, e.path, e.err)
}

func (e *configFileError) Unwrap() []error { return []error{db.ErrInvalidConfig, e.err} }

// configValidationError reports a setting that was read but is not usable.
type configValidationError struct {
	field string
	err   error
}

func (e *configValidationError) Error() string { return e.err.Error() }

func (e *configValidationError) Unwrap() error { return e.err }

// loadConfig reads the configuration file, applies flag overrides and validates the result.
// A missing default config.toml falls back to built-in defaults; a missing explicit path is an error.
func loadConfig(opts *cliOptions) (*config.Config, error) {
	cfg := config.NewDefaultConfig()

	if err := config.LoadConfigFromFile(opts.configPath, &cfg); err != nil {
		if !os.IsNotExist(err) || opts.configPath != defaultConfigPath {
			return nil, &configFileError{path: opts.configPath, err: err}
		}
		logger.Warn("Default configuration file not found, using application defaults", "component", "TASKDB", "path", opts.configPath)
	}

	applyOverrides(&cfg, opts)

	if err := cfg.Database.Validate(); err != nil {
		return nil, &configValidationError{field: "database", err: err}
	}
	if _, err := cfg.HTTP.GetReadinessDegradedLatency(); err != nil {
		return nil, &configValidationError{
			field: "http.readiness_degraded_latency",
			err:   fmt.Errorf("%w: http.readiness_degraded_latency: %v", db.ErrInvalidConfig, err),
		}
	}
	return &cfg, nil
}

func applyOverrides(cfg *config.Config, opts *cliOptions) {
	if opts.primaryURL != "" {
		if cfg.Database.Primary == nil {
			cfg.Database.Primary = &config.DatabaseEndpointConfig{}
		}
		cfg.Database.Primary.URL = opts.primaryURL
	}
	if opts.secondaryURL != "" {
		if cfg.Database.Secondary == nil {
			cfg.Database.Secondary = &config.DatabaseEndpointConfig{}
		}
		cfg.Database.Secondary.URL = opts.secondaryURL
	}
	if opts.fallbackPath != "" {
		cfg.Database.Fallback.Path = opts.fallbackPath
	}
}

// reportStartupError hands a setup failure to the error handler so it picks the exit code.
func reportStartupError(eh *errors.ErrorHandler, err error) {
	var fileErr *configFileError
	var validationErr *configValidationError
	switch {
	case stderrors.As(err, &fileErr):
		eh.ConfigError(fileErr.path, fileErr.err)
	case stderrors.As(err, &validationErr):
		eh.ValidationError(validationErr.field, validationErr.err)
	default:
		eh.FatalError("startup", err)
	}
}
