package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by LoadFromEnv.
const EnvPrefix = "LABEXPORT_"

// DefaultPath is the config file read when no explicit path is given.
const DefaultPath = "config.yaml"

// Config defines configuration for the labexport CLI.
type Config struct {
	GitLab   GitLabConfig
	Output   OutputConfig
	Download DownloadConfig
	Poll     PollConfig
	Cache    CacheConfig
	Archive  ArchiveConfig
	Lock     LockConfig
	Log      LogConfig
}

// GitLabConfig identifies the host and the credential used against it.
type GitLabConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// OutputConfig controls where archives are written.
type OutputConfig struct {
	Dir string
	// RawNames keeps project names verbatim in archive file names.
	RawNames bool
}

// DownloadConfig defines archive download retry behavior.
type DownloadConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// PollConfig defines export status polling.
type PollConfig struct {
	Interval time.Duration
}

// CacheConfig locates the project list cache.
type CacheConfig struct {
	Dir string
}

// ArchiveConfig optionally mirrors downloaded archives into a bucket.
type ArchiveConfig struct {
	Bucket string
	Prefix string
}

// LockConfig locates the single-flow lock file.
type LockConfig struct {
	Path string
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		GitLab: GitLabConfig{
			Timeout: 30 * time.Second,
		},
		Output: OutputConfig{
			Dir: "projects_output",
		},
		Download: DownloadConfig{
			MaxRetries: 3,
			RetryDelay: 5 * time.Second,
		},
		Poll: PollConfig{
			Interval: 300 * time.Millisecond,
		},
		Cache: CacheConfig{
			Dir: "projects",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// rawConfig is the shape shared by the YAML file and the environment.
// Durations stay strings so retry_delay can be given in plain seconds.
type rawConfig struct {
	GitLab struct {
		URL     string `yaml:"url" env:"URL"`
		Token   string `yaml:"private_token" env:"PRIVATE_TOKEN"`
		Timeout string `yaml:"timeout" env:"TIMEOUT"`
	} `yaml:"gitlab" envPrefix:"GITLAB_"`
	Output struct {
		Dir      string `yaml:"dir" env:"DIR"`
		RawNames bool   `yaml:"raw_names" env:"RAW_NAMES"`
	} `yaml:"output" envPrefix:"OUTPUT_"`
	Download struct {
		MaxRetries int    `yaml:"max_retries" env:"MAX_RETRIES"`
		RetryDelay string `yaml:"retry_delay" env:"RETRY_DELAY"`
	} `yaml:"download" envPrefix:"DOWNLOAD_"`
	Poll struct {
		Interval string `yaml:"interval" env:"INTERVAL"`
	} `yaml:"poll" envPrefix:"POLL_"`
	Cache struct {
		Dir string `yaml:"dir" env:"DIR"`
	} `yaml:"cache" envPrefix:"CACHE_"`
	Archive struct {
		Bucket string `yaml:"bucket" env:"BUCKET"`
		Prefix string `yaml:"prefix" env:"PREFIX"`
	} `yaml:"archive" envPrefix:"ARCHIVE_"`
	Lock struct {
		Path string `yaml:"path" env:"PATH"`
	} `yaml:"lock" envPrefix:"LOCK_"`
	Log struct {
		Level string `yaml:"level" env:"LEVEL"`
	} `yaml:"log" envPrefix:"LOG_"`
}

// resolve converts raw values into a partial Config. Unset values stay zero.
func (rc rawConfig) resolve() (Config, error) {
	cfg := Config{
		GitLab: GitLabConfig{
			URL:   strings.TrimRight(rc.GitLab.URL, "/"),
			Token: rc.GitLab.Token,
		},
		Output: OutputConfig{
			Dir:      rc.Output.Dir,
			RawNames: rc.Output.RawNames,
		},
		Download: DownloadConfig{
			MaxRetries: rc.Download.MaxRetries,
		},
		Cache:   CacheConfig{Dir: rc.Cache.Dir},
		Archive: ArchiveConfig{Bucket: rc.Archive.Bucket, Prefix: rc.Archive.Prefix},
		Lock:    LockConfig{Path: rc.Lock.Path},
		Log:     LogConfig{Level: rc.Log.Level},
	}

	var err error
	if rc.GitLab.Timeout != "" {
		if cfg.GitLab.Timeout, err = ParseDelay(rc.GitLab.Timeout); err != nil {
			return Config{}, fmt.Errorf("parse gitlab.timeout: %w", err)
		}
	}
	if rc.Download.RetryDelay != "" {
		if cfg.Download.RetryDelay, err = ParseDelay(rc.Download.RetryDelay); err != nil {
			return Config{}, fmt.Errorf("parse download.retry_delay: %w", err)
		}
	}
	if rc.Poll.Interval != "" {
		if cfg.Poll.Interval, err = ParseDelay(rc.Poll.Interval); err != nil {
			return Config{}, fmt.Errorf("parse poll.interval: %w", err)
		}
	}

	return cfg, nil
}

// ParseDelay parses a delay given either as a number of seconds ("5", "0.5")
// or as a Go duration ("1.5s", "300ms").
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid delay: %q", s)
	}
	return d, nil
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	partial, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	return Default().Merge(partial)
}

func readFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var rc rawConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	return rc.resolve()
}

// LoadFromEnv overlays environment variables (LABEXPORT_ prefix) onto c.
func (c *Config) LoadFromEnv() error {
	var rc rawConfig
	if err := env.ParseWithOptions(&rc, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	partial, err := rc.resolve()
	if err != nil {
		return err
	}

	merged, err := c.Merge(partial)
	if err != nil {
		return err
	}
	*c = merged
	return nil
}

// Load builds the effective configuration: defaults, then the YAML file at
// path, then the environment, then overrides (typically CLI flags).
// A missing file is only an error when path was given explicitly.
func Load(path string, overrides Config) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	fileCfg, err := readFile(path)
	switch {
	case err == nil:
		if cfg, err = cfg.Merge(fileCfg); err != nil {
			return Config{}, err
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, err
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}

	if cfg, err = cfg.Merge(overrides); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.GitLab.URL == "" {
		return errors.New("config: gitlab.url is required")
	}
	if !strings.Contains(c.GitLab.URL, "://") {
		return errors.New("config: gitlab.url must include a scheme")
	}
	if c.GitLab.Token == "" {
		return errors.New("config: gitlab.private_token is required")
	}
	if c.Output.Dir == "" {
		return errors.New("config: output.dir is required")
	}
	if c.Download.MaxRetries < 1 {
		return errors.New("config: download.max_retries must be at least 1")
	}
	if c.Download.RetryDelay <= 0 {
		return errors.New("config: download.retry_delay must be positive")
	}
	if c.Poll.Interval <= 0 {
		return errors.New("config: poll.interval must be positive")
	}
	return nil
}

// LockPath returns the lock file path, defaulting to a file in the cache dir.
func (c Config) LockPath() string {
	if c.Lock.Path != "" {
		return c.Lock.Path
	}
	return filepath.Join(c.Cache.Dir, ".labexport.lock")
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) (Config, error) {
	if err := mergo.Merge(&c, override, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("merge config: %w", err)
	}
	return c, nil
}
