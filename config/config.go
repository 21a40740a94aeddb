// Package config loads PageCaption settings with viper.
//
// Precedence, lowest first: defaults, config file, .env file, environment
// (PAGECAPTION_ prefix, nested keys joined by "_"), command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gaurav-prasanna/pagecaption/core/caption"
	"github.com/gaurav-prasanna/pagecaption/core/download"
	"github.com/gaurav-prasanna/pagecaption/core/extract"
	"github.com/gaurav-prasanna/pagecaption/core/gate"
	"github.com/gaurav-prasanna/pagecaption/core/output"
	"github.com/gaurav-prasanna/pagecaption/crawl"
)

const (
	EnvPrefix = "PAGECAPTION"
	// DefaultSourceURL is the page captioned when none is given.
	DefaultSourceURL = "https://www.bbc.co.uk/news"
	DefaultAPIKeyEnv = "OPENAI_API_KEY"
)

var envReplacer = strings.NewReplacer(".", "_", "-", "_")

// Config stores all configuration for a run.
type Config struct {
	SourceURL string `mapstructure:"source_url"`
	Output    string `mapstructure:"output"`
	Selector  string `mapstructure:"selector"`
	Workers   int    `mapstructure:"workers"`
	MinArea   int    `mapstructure:"min_area"`
	Progress  bool   `mapstructure:"progress"`

	Fetch     FetchConfig     `mapstructure:"fetch"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Captioner CaptionerConfig `mapstructure:"captioner"`
	Report    ReportConfig    `mapstructure:"report"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type FetchConfig struct {
	// Timeout bounds one image request.
	Timeout time.Duration `mapstructure:"timeout"`
	// PageTimeout bounds one page request or browser render.
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
	// MaxPixels bounds the width*height an image header may declare.
	MaxPixels int64  `mapstructure:"max_pixels"`
	UserAgent string `mapstructure:"user_agent"`
	// Render loads pages in headless Chrome instead of plain HTTP.
	Render bool `mapstructure:"render"`
}

type CrawlConfig struct {
	All      bool `mapstructure:"all"`
	MaxPages int  `mapstructure:"max_pages"`
}

type CaptionerConfig struct {
	Backend   string        `mapstructure:"backend"`
	Endpoint  string        `mapstructure:"endpoint"`
	Model     string        `mapstructure:"model"`
	Prompt    string        `mapstructure:"prompt"`
	MaxTokens int           `mapstructure:"max_tokens"`
	MaxSide   int           `mapstructure:"max_side"`
	// APIKeyEnv names the environment variable holding the bearer key.
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// APIKey reads the bearer key from the variable named by APIKeyEnv.
func (c CaptionerConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

type ReportConfig struct {
	// Format is "", "markdown", "json" or "pdf". Empty writes no report.
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the server.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source_url", DefaultSourceURL)
	v.SetDefault("output", output.DefaultPath)
	v.SetDefault("selector", extract.DefaultSelector)
	v.SetDefault("workers", 1)
	v.SetDefault("min_area", gate.DefaultMinArea)
	v.SetDefault("progress", false)

	v.SetDefault("fetch.timeout", download.DefaultTimeout)
	v.SetDefault("fetch.page_timeout", 30*time.Second)
	v.SetDefault("fetch.max_bytes", download.DefaultMaxBytes)
	v.SetDefault("fetch.max_pixels", download.DefaultMaxPixels)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.render", false)

	v.SetDefault("crawl.all", false)
	v.SetDefault("crawl.max_pages", crawl.DefaultMaxPages)

	v.SetDefault("captioner.backend", caption.BackendOllama)
	v.SetDefault("captioner.endpoint", "")
	v.SetDefault("captioner.model", "")
	v.SetDefault("captioner.prompt", caption.DefaultPrompt)
	v.SetDefault("captioner.max_tokens", caption.DefaultMaxTokens)
	v.SetDefault("captioner.max_side", caption.DefaultMaxSide)
	v.SetDefault("captioner.api_key_env", DefaultAPIKeyEnv)
	v.SetDefault("captioner.timeout", caption.DefaultTimeout)

	v.SetDefault("report.format", "")
	v.SetDefault("report.dir", ".")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// LoadOptions names the files Load reads.
type LoadOptions struct {
	// ConfigFile is an explicit config file; it must exist when set.
	// When empty, pagecaption.{yaml,json,toml} is searched in the working
	// directory and $HOME/.pagecaption.
	ConfigFile string
	// DotEnv is an optional .env file; a missing file is ignored.
	DotEnv string
}

// Load reads configuration into v and returns it unmarshalled and validated.
// Flags should be bound to v before calling Load.
func Load(v *viper.Viper, opts LoadOptions) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("pagecaption")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pagecaption")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	if opts.DotEnv != "" {
		if err := mergeDotEnv(v, opts.DotEnv); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeDotEnv layers PAGECAPTION_* entries of a .env file over the config
// file. Real environment variables and flags still win.
func mergeDotEnv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	dot := viper.New()
	dot.SetConfigFile(path)
	dot.SetConfigType("env")
	if err := dot.ReadInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	overrides := make(map[string]any)
	for _, key := range v.AllKeys() {
		name := strings.ToLower(EnvPrefix + "_" + envReplacer.Replace(key))
		if dot.IsSet(name) {
			setNested(overrides, strings.Split(key, "."), dot.Get(name))
		}
	}
	if len(overrides) == 0 {
		return nil
	}
	return v.MergeConfigMap(overrides)
}

func setNested(m map[string]any, path []string, value any) {
	for _, p := range path[:len(path)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[p] = child
		}
		m = child
	}
	m[path[len(path)-1]] = value
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("source_url %q must be an absolute http(s) URL", c.SourceURL))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("output must not be empty"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MinArea < 1 {
		errs = append(errs, fmt.Errorf("min_area must be at least 1, got %d", c.MinArea))
	}
	if c.Fetch.MaxPixels < 1 {
		errs = append(errs, fmt.Errorf("fetch.max_pixels must be at least 1, got %d", c.Fetch.MaxPixels))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout))
	}
	if c.Crawl.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("crawl.max_pages must be at least 1, got %d", c.Crawl.MaxPages))
	}
	switch strings.ToLower(c.Captioner.Backend) {
	case caption.BackendOllama, caption.BackendOpenAI:
	default:
		errs = append(errs, fmt.Errorf("captioner.backend %q must be %s or %s",
			c.Captioner.Backend, caption.BackendOllama, caption.BackendOpenAI))
	}
	if c.Captioner.MaxTokens < 1 || c.Captioner.MaxTokens > caption.DefaultMaxTokens {
		errs = append(errs, fmt.Errorf("captioner.max_tokens must be between 1 and %d, got %d",
			caption.DefaultMaxTokens, c.Captioner.MaxTokens))
	}
	switch strings.ToLower(c.Report.Format) {
	case "", "markdown", "json", "pdf":
	default:
		errs = append(errs, fmt.Errorf("report.format %q must be markdown, json or pdf", c.Report.Format))
	}

	return errors.Join(errs...)
}
