// Package config provides diffsum configuration with a defined load order:
// CLI flags > environment variables > repo config > global config > defaults.
//
// Paths:
//   - Repo: .diffsum/config.toml (relative to repo root)
//   - Global: XDG config dir, e.g. ~/.config/diffsum/config.toml (see os.UserConfigDir)
//
// Environment variables (override config files when set):
//   - DIFFSUM_MODEL, DIFFSUM_OLLAMA_BASE_URL, DIFFSUM_TIMEOUT (Go duration or integer seconds),
//   - DIFFSUM_MAX_INPUT_TOKENS, DIFFSUM_MAX_OUTPUT_TOKENS, DIFFSUM_WARN_THRESHOLD,
//   - DIFFSUM_TEMPERATURE, DIFFSUM_ENCODING (tiktoken encoding name, or "approx"),
//   - DIFFSUM_OPTIMIZE_THRESHOLD, DIFFSUM_BINARY_CHECK_THRESHOLD (bytes),
//   - DIFFSUM_COMMIT_COUNT, DIFFSUM_STATE_DIR.
package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"diffsum/cli/internal/erruser"
)

// EncodingApprox selects estimate-only token counting.
const EncodingApprox = "approx"

// Config holds all diffsum configuration.
type Config struct {
	Model         string        `toml:"model"`
	OllamaBaseURL string        `toml:"ollama_base_url"`
	Timeout       time.Duration `toml:"timeout"`
	// MaxInputTokens is the backend's input ceiling; MaxOutputTokens is reserved from it for the answer.
	MaxInputTokens  int     `toml:"max_input_tokens"`
	MaxOutputTokens int     `toml:"max_output_tokens"`
	WarnThreshold   float64 `toml:"warn_threshold"`
	Temperature     float64 `toml:"temperature"`
	Encoding        string  `toml:"encoding"`
	// OptimizeThreshold is the diff size in bytes above which diffs are shrunk.
	OptimizeThreshold int `toml:"optimize_threshold"`
	// BinaryCheckThreshold is the diff size in bytes above which git is asked for binary files.
	BinaryCheckThreshold int `toml:"binary_check_threshold"`
	// Exclude patterns are added to the default exclusion list.
	Exclude     []string `toml:"exclude"`
	CommitCount int      `toml:"commit_count"`
	StateDir    string   `toml:"state_dir"`
}

// Overrides represents optional CLI flag overrides. Non-nil pointer means
// "override with this value".
type Overrides struct {
	Model           *string
	OllamaBaseURL   *string
	Timeout         *time.Duration
	MaxInputTokens  *int
	MaxOutputTokens *int
	Temperature     *float64
	Encoding        *string
	CommitCount     *int
	StateDir        *string
}

// LoadOptions configures Load. All fields are optional.
type LoadOptions struct {
	// RepoRoot is the repository root; if set, repo config is RepoRoot/.diffsum/config.toml.
	RepoRoot string
	// GlobalConfigPath is the global config file path; if empty, XDG path is used.
	GlobalConfigPath string
	// Env is the environment key=value slice; if nil, os.Environ() is used.
	Env []string
	// Overrides are applied last (highest precedence).
	Overrides *Overrides
}

const (
	_defaultModel                = "qwen3-coder:30b"
	_defaultOllamaBaseURL        = "http://localhost:11434"
	_defaultTimeout              = 2 * time.Minute
	_defaultMaxInputTokens       = 8192
	_defaultMaxOutputTokens      = 500
	_defaultWarnThreshold        = 0.9
	_defaultTemperature          = 0.2
	_defaultEncoding             = "cl100k_base"
	_defaultOptimizeThreshold    = 32 * 1024
	_defaultBinaryCheckThreshold = 10 * 1024
	_defaultCommitCount          = 3
)

// errIntOverflow is returned when an int64 value does not fit in int (e.g. on 32-bit or huge TOML/env values).
var errIntOverflow = errors.New("value out of range for int")

func int64ToInt(n int64) (int, error) {
	if n < int64(math.MinInt) || n > int64(math.MaxInt) {
		return 0, errIntOverflow
	}
	return int(n), nil
}

// DefaultConfig returns the default configuration (no I/O).
func DefaultConfig() Config {
	return Config{
		Model:                _defaultModel,
		OllamaBaseURL:        _defaultOllamaBaseURL,
		Timeout:              _defaultTimeout,
		MaxInputTokens:       _defaultMaxInputTokens,
		MaxOutputTokens:      _defaultMaxOutputTokens,
		WarnThreshold:        _defaultWarnThreshold,
		Temperature:          _defaultTemperature,
		Encoding:             _defaultEncoding,
		OptimizeThreshold:    _defaultOptimizeThreshold,
		BinaryCheckThreshold: _defaultBinaryCheckThreshold,
		CommitCount:          _defaultCommitCount,
	}
}

// EffectiveStateDir returns the directory holding the prompt override.
// If StateDir is set, it is returned as-is; otherwise repoRoot/.diffsum.
func (c Config) EffectiveStateDir(repoRoot string) string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(repoRoot, ".diffsum")
}

// Validate reports settings that cannot produce a usable request budget.
func (c Config) Validate() error {
	if c.MaxOutputTokens >= c.MaxInputTokens {
		return erruser.New(fmt.Sprintf("max_output_tokens (%d) must be less than max_input_tokens (%d).", c.MaxOutputTokens, c.MaxInputTokens), nil)
	}
	return nil
}

// Load loads configuration with precedence: defaults < global file < repo file < env < overrides.
// Missing config files are ignored. Invalid TOML or invalid env values return an error.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	cfg := DefaultConfig()

	globalPath := opts.GlobalConfigPath
	if globalPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, erruser.New("Could not determine config directory.", err)
		}
		globalPath = filepath.Join(dir, "diffsum", "config.toml")
	}
	if err := mergeFile(&cfg, globalPath); err != nil {
		return nil, err
	}
	if opts.RepoRoot != "" {
		if err := mergeFile(&cfg, filepath.Join(opts.RepoRoot, ".diffsum", "config.toml")); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg, opts.Env); err != nil {
		return nil, err
	}
	applyOverrides(&cfg, opts.Overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeFile reads path and merges into cfg. Only fields present (and
// valid) in the file overwrite earlier values. A missing file is skipped.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return erruser.New("Could not read configuration file.", err)
	}
	var file struct {
		Model                *string  `toml:"model"`
		OllamaBaseURL        *string  `toml:"ollama_base_url"`
		Timeout              *string  `toml:"timeout"`
		MaxInputTokens       *int64   `toml:"max_input_tokens"`
		MaxOutputTokens      *int64   `toml:"max_output_tokens"`
		WarnThreshold        *float64 `toml:"warn_threshold"`
		Temperature          *float64 `toml:"temperature"`
		Encoding             *string  `toml:"encoding"`
		OptimizeThreshold    *int64   `toml:"optimize_threshold"`
		BinaryCheckThreshold *int64   `toml:"binary_check_threshold"`
		Exclude              []string `toml:"exclude"`
		CommitCount          *int64   `toml:"commit_count"`
		StateDir             *string  `toml:"state_dir"`
	}
	if _, err := toml.Decode(string(data), &file); err != nil {
		return erruser.New("Invalid configuration in "+path+".", err)
	}
	if file.Model != nil && *file.Model != "" {
		cfg.Model = *file.Model
	}
	if file.OllamaBaseURL != nil && *file.OllamaBaseURL != "" {
		cfg.OllamaBaseURL = *file.OllamaBaseURL
	}
	if file.Timeout != nil && *file.Timeout != "" {
		d, err := parseDuration(*file.Timeout)
		if err != nil {
			return erruser.New("Configuration timeout is invalid.", err)
		}
		cfg.Timeout = d
	}
	for _, f := range []struct {
		key string
		v   *int64
		dst *int
	}{
		{"max_input_tokens", file.MaxInputTokens, &cfg.MaxInputTokens},
		{"max_output_tokens", file.MaxOutputTokens, &cfg.MaxOutputTokens},
		{"optimize_threshold", file.OptimizeThreshold, &cfg.OptimizeThreshold},
		{"binary_check_threshold", file.BinaryCheckThreshold, &cfg.BinaryCheckThreshold},
		{"commit_count", file.CommitCount, &cfg.CommitCount},
	} {
		if f.v == nil {
			continue
		}
		if *f.v <= 0 {
			return erruser.New("Configuration "+f.key+" must be positive.", nil)
		}
		n, err := int64ToInt(*f.v)
		if err != nil {
			return erruser.New("Configuration "+f.key+" value out of range.", err)
		}
		*f.dst = n
	}
	if file.WarnThreshold != nil && *file.WarnThreshold > 0 && *file.WarnThreshold <= 1 {
		cfg.WarnThreshold = *file.WarnThreshold
	}
	if file.Temperature != nil && *file.Temperature >= 0 && *file.Temperature <= 2 {
		cfg.Temperature = *file.Temperature
	}
	if file.Encoding != nil && *file.Encoding != "" {
		cfg.Encoding = strings.TrimSpace(*file.Encoding)
	}
	if file.Exclude != nil {
		cfg.Exclude = append(cfg.Exclude, file.Exclude...)
	}
	if file.StateDir != nil {
		cfg.StateDir = *file.StateDir
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	// Go duration first (e.g. "5m", "30s"), then integer seconds.
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * time.Second, nil
}

const (
	envModel                = "DIFFSUM_MODEL"
	envOllamaBaseURL        = "DIFFSUM_OLLAMA_BASE_URL"
	envTimeout              = "DIFFSUM_TIMEOUT"
	envMaxInputTokens       = "DIFFSUM_MAX_INPUT_TOKENS"
	envMaxOutputTokens      = "DIFFSUM_MAX_OUTPUT_TOKENS"
	envWarnThreshold        = "DIFFSUM_WARN_THRESHOLD"
	envTemperature          = "DIFFSUM_TEMPERATURE"
	envEncoding             = "DIFFSUM_ENCODING"
	envOptimizeThreshold    = "DIFFSUM_OPTIMIZE_THRESHOLD"
	envBinaryCheckThreshold = "DIFFSUM_BINARY_CHECK_THRESHOLD"
	envCommitCount          = "DIFFSUM_COMMIT_COUNT"
	envStateDir             = "DIFFSUM_STATE_DIR"
)

func applyEnv(cfg *Config, env []string) error {
	vals := make(map[string]string)
	for _, e := range env {
		idx := strings.Index(e, "=")
		if idx <= 0 {
			continue
		}
		vals[strings.TrimSpace(e[:idx])] = strings.TrimSpace(e[idx+1:])
	}
	if v := vals[envModel]; v != "" {
		cfg.Model = v
	}
	if v := vals[envOllamaBaseURL]; v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := vals[envTimeout]; v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return erruser.New(envTimeout+" must be a valid duration.", err)
		}
		cfg.Timeout = d
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{envMaxInputTokens, &cfg.MaxInputTokens},
		{envMaxOutputTokens, &cfg.MaxOutputTokens},
		{envOptimizeThreshold, &cfg.OptimizeThreshold},
		{envBinaryCheckThreshold, &cfg.BinaryCheckThreshold},
		{envCommitCount, &cfg.CommitCount},
	} {
		v := vals[f.key]
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return erruser.New(f.key+" must be a valid number.", err)
		}
		if n <= 0 {
			return erruser.New(f.key+" must be positive.", nil)
		}
		if *f.dst, err = int64ToInt(n); err != nil {
			return erruser.New(f.key+" value out of range.", err)
		}
	}
	if v := vals[envWarnThreshold]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return erruser.New(envWarnThreshold+" must be a valid number.", err)
		}
		if f <= 0 || f > 1 {
			return erruser.New(envWarnThreshold+" must be greater than 0 and at most 1.", nil)
		}
		cfg.WarnThreshold = f
	}
	if v := vals[envTemperature]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return erruser.New(envTemperature+" must be a valid number.", err)
		}
		if f < 0 || f > 2 {
			return erruser.New(envTemperature+" must be between 0 and 2.", nil)
		}
		cfg.Temperature = f
	}
	if v := vals[envEncoding]; v != "" {
		cfg.Encoding = v
	}
	if v, ok := vals[envStateDir]; ok {
		cfg.StateDir = v
	}
	return nil
}

func applyOverrides(cfg *Config, o *Overrides) {
	if o == nil {
		return
	}
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	if o.OllamaBaseURL != nil {
		cfg.OllamaBaseURL = *o.OllamaBaseURL
	}
	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	if o.MaxInputTokens != nil {
		cfg.MaxInputTokens = *o.MaxInputTokens
	}
	if o.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = *o.MaxOutputTokens
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.Encoding != nil {
		cfg.Encoding = *o.Encoding
	}
	if o.CommitCount != nil {
		cfg.CommitCount = *o.CommitCount
	}
	if o.StateDir != nil {
		cfg.StateDir = *o.StateDir
	}
}
