// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/mediagate/internal/cache"
	"github.com/JakeFAU/mediagate/internal/logging"
	"github.com/JakeFAU/mediagate/internal/ratelimit"
	"github.com/JakeFAU/mediagate/internal/validate"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Logging    logging.Config  `mapstructure:"logging"`
	Paths      PathsConfig     `mapstructure:"paths"`
	Cache      cache.Config    `mapstructure:"cache"`
	RateLimit  RateLimitConfig `mapstructure:"ratelimit"`
	Extractor  ExtractorConfig `mapstructure:"extractor"`
	Retry      RetryConfig     `mapstructure:"retry"`
	CORS       CORSConfig      `mapstructure:"cors"`
	Validation validate.Config `mapstructure:"validation"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

// PathsConfig locates the download and static directories.
type PathsConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
	StaticDir   string `mapstructure:"static_dir"`
}

// RateLimitConfig configures the per-client sliding window.
type RateLimitConfig struct {
	ratelimit.Config `mapstructure:",squash"`
	// TrustForwardedFor keys clients by the first X-Forwarded-For entry.
	TrustForwardedFor bool `mapstructure:"trust_forwarded_for"`
	// TrustedProxies restricts which peers may set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// ExtractorConfig configures the media tool and how it is driven.
type ExtractorConfig struct {
	Binary                string               `mapstructure:"binary"`
	MetadataTimeout       time.Duration        `mapstructure:"metadata_timeout"`
	DownloadTimeout       time.Duration        `mapstructure:"download_timeout"`
	SocketTimeout         time.Duration        `mapstructure:"socket_timeout"`
	DownloadSocketTimeout time.Duration        `mapstructure:"download_socket_timeout"`
	SleepInterval         time.Duration        `mapstructure:"sleep_interval"`
	MaxSleepInterval      time.Duration        `mapstructure:"max_sleep_interval"`
	UserAgent             string               `mapstructure:"user_agent"`
	Referer               string               `mapstructure:"referer"`
	ExtractorArgs         []string             `mapstructure:"extractor_args"`
	AntiBotPhrases        []string             `mapstructure:"anti_bot_phrases"`
	MaxFilesize           int64                `mapstructure:"max_filesize"`
	Retries               int                  `mapstructure:"retries"`
	FragmentRetries       int                  `mapstructure:"fragment_retries"`
	ConcurrentFragments   int                  `mapstructure:"concurrent_fragments"`
	Host                  ratelimit.HostConfig `mapstructure:"host"`
}

// RetryConfig governs the anti-bot retry loop.
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffUnit time.Duration `mapstructure:"backoff_unit"`
}

// CORSConfig lists origin patterns allowed to call /api/*.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIAGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", 64*1024)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("paths.download_dir", "downloads")
	v.SetDefault("paths.static_dir", "static")
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.sweep_interval", 10*time.Minute)
	v.SetDefault("ratelimit.window", 10*time.Minute)
	v.SetDefault("ratelimit.max_requests", 1000)
	v.SetDefault("ratelimit.max_clients", 100000)
	v.SetDefault("ratelimit.sweep_interval", time.Minute)
	v.SetDefault("ratelimit.trust_forwarded_for", false)
	v.SetDefault("ratelimit.trusted_proxies", []string{})
	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.metadata_timeout", 3*time.Minute)
	v.SetDefault("extractor.download_timeout", 2*time.Hour)
	v.SetDefault("extractor.socket_timeout", 60*time.Second)
	v.SetDefault("extractor.download_socket_timeout", 120*time.Second)
	v.SetDefault("extractor.sleep_interval", 2*time.Second)
	v.SetDefault("extractor.max_sleep_interval", 5*time.Second)
	v.SetDefault("extractor.user_agent", defaultUserAgent)
	v.SetDefault("extractor.referer", "https://www.youtube.com/")
	v.SetDefault("extractor.extractor_args", []string{"youtube:player_client=android,web;skip=hls,dash,translated_subs"})
	v.SetDefault("extractor.anti_bot_phrases", []string{"Sign in to confirm you're not a bot", "not a bot"})
	v.SetDefault("extractor.max_filesize", int64(20*1024*1024*1024))
	v.SetDefault("extractor.retries", 10)
	v.SetDefault("extractor.fragment_retries", 10)
	v.SetDefault("extractor.concurrent_fragments", 4)
	v.SetDefault("extractor.host.rps", 0)
	v.SetDefault("extractor.host.burst", 1)
	v.SetDefault("extractor.host.max_hosts", 1024)
	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.backoff_unit", time.Second)
	v.SetDefault("cors.allowed_origins", []string{
		`https?://localhost(:\d+)?`,
		`https?://127\.0\.0\.1(:\d+)?`,
		`https://iwtbg-8\.github\.io`,
		`https://.*\.onrender\.com`,
	})
	v.SetDefault("validation.allowed_domains", []string{})
	v.SetDefault("validation.blocked_domains", []string{})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		return fmt.Errorf("paths.download_dir is required")
	}
	if strings.TrimSpace(c.Paths.StaticDir) == "" {
		return fmt.Errorf("paths.static_dir is required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit.window and ratelimit.max_requests must be > 0")
	}
	if strings.TrimSpace(c.Extractor.Binary) == "" {
		return fmt.Errorf("extractor.binary is required")
	}
	if c.Extractor.MaxFilesize <= 0 {
		return fmt.Errorf("extractor.max_filesize must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	for _, pattern := range c.CORS.AllowedOrigins {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("cors.allowed_origins: %q: %w", pattern, err)
		}
	}
	return nil
}
