// Package config loads and validates the proxy's TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// Mode selects how the proxy handles multi-metric requests.
type Mode string

const (
	ModeSimple Mode = "Simple"
	ModeMulti  Mode = "Multi"
)

// BackendRule is an ordered, immutable entry claiming metrics whose names
// match Regex. Order is authoritative: earlier rules win on ambiguity.
type BackendRule struct {
	Pattern string
	Regex   *regexp.Regexp
	URL     string
	Token   string
}

// Config is the validated, immutable configuration for the process
// lifetime. There is no hot reload.
type Config struct {
	Listen                 string
	TimeoutSecs            int
	MaxOutboundConcurrency int
	Mode                   Mode
	Backends               []BackendRule
	Logging                LoggingConfig
}

// LoggingConfig configures the external logging collaborator. It has no
// bearing on routing semantics.
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// rawConfig mirrors the TOML file shape prior to validation/compilation.
// Struct tags carry the structural checks (required fields, numeric
// ranges) that github.com/go-playground/validator/v10 runs before the
// domain-specific checks in fromRaw (regex compilation, listen-address
// parsing, mode canonicalization) that no generic tag can express.
type rawConfig struct {
	Listen                 string           `toml:"listen" validate:"required"`
	TimeoutSecs            int              `toml:"timeout_secs" validate:"required,gt=0"`
	MaxOutboundConcurrency int              `toml:"max_outbound_concurrency" validate:"required,min=1"`
	Mode                   string           `toml:"mode"`
	Logging                rawLoggingConfig `toml:"logging"`
	Backends               []rawBackend     `toml:"backends" validate:"required,min=1,dive"`
}

type rawLoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	Filename   string `toml:"filename"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type rawBackend struct {
	Pattern string `toml:"pattern"`
	URL     string `toml:"url" validate:"required"`
	Token   string `toml:"token"`
}

// Load reads the file at path, decodes it as TOML, and returns a validated
// Config with every backend regex compiled. Failure to validate is fatal at
// startup (spec §4.A): the caller is expected to exit non-zero on error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var raw rawConfig
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return fromRaw(raw)
}

func fromRaw(raw rawConfig) (*Config, error) {
	if err := structValidator.Struct(raw); err != nil {
		return nil, fmt.Errorf("config: %w", translateValidationError(err))
	}

	if _, _, err := net.SplitHostPort(raw.Listen); err != nil {
		return nil, fmt.Errorf("config: invalid listen address %q: %w", raw.Listen, err)
	}

	mode, err := canonicalMode(raw.Mode)
	if err != nil {
		return nil, err
	}

	backends := make([]BackendRule, 0, len(raw.Backends))
	for i, b := range raw.Backends {
		re, err := regexp.Compile(b.Pattern)
		if err != nil {
			return nil, fmt.Errorf("config: backends[%d]: invalid regex %q: %w", i, b.Pattern, err)
		}
		backends = append(backends, BackendRule{
			Pattern: b.Pattern,
			Regex:   re,
			URL:     strings.TrimRight(b.URL, "/"),
			Token:   b.Token,
		})
	}

	return &Config{
		Listen:                 raw.Listen,
		TimeoutSecs:            raw.TimeoutSecs,
		MaxOutboundConcurrency: raw.MaxOutboundConcurrency,
		Mode:                   mode,
		Backends:               backends,
		Logging:                loggingFromRaw(raw.Logging),
	}, nil
}

// translateValidationError reports the first failing field in a readable
// form. The returned error does not wrap validator.ValidationErrors, so
// any further failures are not reported.
func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return fmt.Errorf("field %s failed %q validation (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
}

func canonicalMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simple", "":
		return ModeSimple, nil
	case "multi":
		return ModeMulti, nil
	default:
		return "", fmt.Errorf("config: mode must be \"Simple\" or \"Multi\", got %q", s)
	}
}

func loggingFromRaw(raw rawLoggingConfig) LoggingConfig {
	lc := LoggingConfig{
		Level:      raw.Level,
		Format:     raw.Format,
		Output:     raw.Output,
		Filename:   raw.Filename,
		MaxSizeMB:  raw.MaxSizeMB,
		MaxBackups: raw.MaxBackups,
		MaxAgeDays: raw.MaxAgeDays,
	}
	if lc.Level == "" {
		lc.Level = "info"
	}
	if lc.Format == "" {
		lc.Format = "json"
	}
	if lc.Output == "" {
		lc.Output = "stdout"
	}
	if lc.MaxSizeMB == 0 {
		lc.MaxSizeMB = 100
	}
	if lc.MaxBackups == 0 {
		lc.MaxBackups = 3
	}
	if lc.MaxAgeDays == 0 {
		lc.MaxAgeDays = 28
	}
	return lc
}
