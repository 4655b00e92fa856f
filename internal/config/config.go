// Package config loads storagestats settings from defaults, an optional TOML
// file and STORAGESTATS_* environment variables, in increasing precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/garethgeorge/storagestats/internal/analyzer"
	"github.com/garethgeorge/storagestats/internal/hashing"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	AppName        = "storagestats"
	ConfigFileName = "config.toml"
	EnvPrefix      = "STORAGESTATS"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid config")
)

type Config struct {
	Scan     Scan     `mapstructure:"scan" toml:"scan"`
	Cache    Cache    `mapstructure:"cache" toml:"cache"`
	Analysis Analysis `mapstructure:"analysis" toml:"analysis"`
	Log      Log      `mapstructure:"log" toml:"log"`
}

type Scan struct {
	// Workers defaults to the number of CPUs when 0.
	Workers          int      `mapstructure:"workers" toml:"workers"`
	MaxOutstanding   int      `mapstructure:"max_outstanding" toml:"max_outstanding"`
	ChunkSize        string   `mapstructure:"chunk_size" toml:"chunk_size"`
	HashAlgorithm    string   `mapstructure:"hash_algorithm" toml:"hash_algorithm"`
	Exclude          []string `mapstructure:"exclude" toml:"exclude"`
	MaxDepth         int      `mapstructure:"max_depth" toml:"max_depth"`
	FollowSymlinks   bool     `mapstructure:"follow_symlinks" toml:"follow_symlinks"`
	SkipHidden       bool     `mapstructure:"skip_hidden" toml:"skip_hidden"`
	// HashFiles enables content hashing for duplicate detection.
	HashFiles        bool     `mapstructure:"hash_files" toml:"hash_files"`
	ProgressInterval string   `mapstructure:"progress_interval" toml:"progress_interval"`
}

type Cache struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Backend string `mapstructure:"backend" toml:"backend"`
	// Dir defaults to the user cache directory.
	Dir string `mapstructure:"dir" toml:"dir"`
}

type Analysis struct {
	TopN               int      `mapstructure:"top_n" toml:"top_n"`
	StaleAfterDays     int      `mapstructure:"stale_after_days" toml:"stale_after_days"`
	OldAfterDays       int      `mapstructure:"old_after_days" toml:"old_after_days"`
	DuplicateMinWasted string   `mapstructure:"duplicate_min_wasted" toml:"duplicate_min_wasted"`
	LargeFileMin       string   `mapstructure:"large_file_min" toml:"large_file_min"`
	TempExtensions     []string `mapstructure:"temp_extensions" toml:"temp_extensions"`
}

type Log struct {
	Level string `mapstructure:"level" toml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Scan: Scan{
			ChunkSize:        "1MiB",
			HashAlgorithm:    string(hashing.DefaultAlgorithm),
			Exclude:          []string{},
			SkipHidden:       true,
			HashFiles:        true,
			ProgressInterval: "200ms",
		},
		Cache: Cache{
			Enabled: true,
			Backend: BackendFile,
		},
		Analysis: Analysis{
			TopN:               analyzer.DefaultTopN,
			StaleAfterDays:     int(analyzer.DefaultStaleAfter / (24 * time.Hour)),
			OldAfterDays:       int(analyzer.DefaultOldAfter / (24 * time.Hour)),
			DuplicateMinWasted: "1MiB",
			LargeFileMin:       "100MiB",
			TempExtensions:     analyzer.DefaultTempExtensions,
		},
		Log: Log{Level: "info"},
	}
}

// ConfigDir is where the config file is looked up when none is given.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to find config directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

type LoadOptions struct {
	// ConfigFile, when set, must exist and is used exclusively.
	ConfigFile string
	// ConfigDir overrides ConfigDir().
	ConfigDir string
}

// Load resolves the configuration. It returns the path of the file it read,
// or "" when only defaults and the environment apply.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := opts.ConfigFile
	if path == "" {
		dir := opts.ConfigDir
		if dir == "" {
			var err error
			if dir, err = ConfigDir(); err != nil {
				return nil, "", err
			}
		}
		path = filepath.Join(dir, ConfigFileName)
		if !fileExists(path) {
			path = ""
		}
	} else if !fileExists(path) {
		return nil, "", fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("scan.workers", d.Scan.Workers)
	v.SetDefault("scan.max_outstanding", d.Scan.MaxOutstanding)
	v.SetDefault("scan.chunk_size", d.Scan.ChunkSize)
	v.SetDefault("scan.hash_algorithm", d.Scan.HashAlgorithm)
	v.SetDefault("scan.exclude", d.Scan.Exclude)
	v.SetDefault("scan.max_depth", d.Scan.MaxDepth)
	v.SetDefault("scan.follow_symlinks", d.Scan.FollowSymlinks)
	v.SetDefault("scan.skip_hidden", d.Scan.SkipHidden)
	v.SetDefault("scan.hash_files", d.Scan.HashFiles)
	v.SetDefault("scan.progress_interval", d.Scan.ProgressInterval)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("analysis.top_n", d.Analysis.TopN)
	v.SetDefault("analysis.stale_after_days", d.Analysis.StaleAfterDays)
	v.SetDefault("analysis.old_after_days", d.Analysis.OldAfterDays)
	v.SetDefault("analysis.duplicate_min_wasted", d.Analysis.DuplicateMinWasted)
	v.SetDefault("analysis.large_file_min", d.Analysis.LargeFileMin)
	v.SetDefault("analysis.temp_extensions", d.Analysis.TempExtensions)
	v.SetDefault("log.level", d.Log.Level)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate checks every field that needs parsing.
func (c *Config) Validate() error {
	var errs []error
	if c.Scan.Workers < 0 {
		errs = append(errs, fmt.Errorf("scan.workers must not be negative, got %d", c.Scan.Workers))
	}
	if c.Scan.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("scan.max_depth must not be negative, got %d", c.Scan.MaxDepth))
	}
	if _, err := c.Scan.ChunkBytes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Scan.Algorithm(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Scan.Interval(); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.Backend != BackendFile && c.Cache.Backend != BackendSQLite {
		errs = append(errs, fmt.Errorf("cache.backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Cache.Backend))
	}
	if _, err := c.Analysis.Options(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Log.ParseLevel(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func parseSize(key, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("%s: %s is too large", key, value)
	}
	return int64(n), nil
}

func (s Scan) ChunkBytes() (int, error) {
	n, err := parseSize("scan.chunk_size", s.ChunkSize)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > 1<<30 {
		return 0, fmt.Errorf("scan.chunk_size must be between 1B and 1GiB, got %s", s.ChunkSize)
	}
	return int(n), nil
}

func (s Scan) Algorithm() (hashing.Algorithm, error) {
	alg, err := hashing.ParseAlgorithm(s.HashAlgorithm)
	if err != nil {
		return "", fmt.Errorf("scan.hash_algorithm: %w", err)
	}
	return alg, nil
}

func (s Scan) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(s.ProgressInterval)
	if err != nil {
		return 0, fmt.Errorf("scan.progress_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("scan.progress_interval must be positive, got %s", s.ProgressInterval)
	}
	return d, nil
}

// ResolvedDir returns Dir, or the per-user cache directory when it is empty.
func (c Cache) ResolvedDir() (string, error) {
	if c.Dir != "" {
		return c.Dir, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to find cache directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// Options converts the analysis section. Now is left for the caller.
func (a Analysis) Options() (analyzer.Options, error) {
	opts := analyzer.DefaultOptions()
	if a.TopN < 0 || a.StaleAfterDays < 0 || a.OldAfterDays < 0 {
		return opts, errors.New("analysis counts and ages must not be negative")
	}
	if a.TopN > 0 {
		opts.TopN = a.TopN
	}
	if a.StaleAfterDays > 0 {
		opts.StaleAfter = time.Duration(a.StaleAfterDays) * 24 * time.Hour
	}
	if a.OldAfterDays > 0 {
		opts.OldAfter = time.Duration(a.OldAfterDays) * 24 * time.Hour
	}
	var err error
	if opts.DuplicateMinWasted, err = parseSize("analysis.duplicate_min_wasted", a.DuplicateMinWasted); err != nil {
		return opts, err
	}
	if opts.LargeFileMin, err = parseSize("analysis.large_file_min", a.LargeFileMin); err != nil {
		return opts, err
	}
	// an explicit zero asks for every group or file
	if opts.DuplicateMinWasted == 0 {
		opts.DuplicateMinWasted = analyzer.NoThreshold
	}
	if opts.LargeFileMin == 0 {
		opts.LargeFileMin = analyzer.NoThreshold
	}
	if a.TempExtensions != nil {
		opts.TempExtensions = make([]string, len(a.TempExtensions))
		for i, ext := range a.TempExtensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			opts.TempExtensions[i] = ext
		}
	}
	return opts, nil
}

func (l Log) ParseLevel() (log.Level, error) {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// TOML renders the configuration as a config file.
func (c *Config) TOML() ([]byte, error) {
	out, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
