// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Acquire  AcquireConfig  `mapstructure:"acquire"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig names the listing page and how rendered routine links look.
type SourceConfig struct {
	ListingURL   string `mapstructure:"listing_url"`
	RenderMarker string `mapstructure:"render_marker"`
}

// BrowserConfig configures the headless Chrome session.
type BrowserConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Headless          bool          `mapstructure:"headless"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ChallengeTimeout  time.Duration `mapstructure:"challenge_timeout"`
	ChallengeSettle   time.Duration `mapstructure:"challenge_settle"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	RenderTimeout     time.Duration `mapstructure:"render_timeout"`
	ContentTimeout    time.Duration `mapstructure:"content_timeout"`
	RenderSettle      time.Duration `mapstructure:"render_settle"`
	ContentSelector   string        `mapstructure:"content_selector"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	RenderQPS         float64       `mapstructure:"render_qps"`
}

// HTTPConfig configures direct document downloads.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// PathsConfig locates the staging directory and published outputs.
type PathsConfig struct {
	StagingDir string `mapstructure:"staging_dir"`
	OutputRoot string `mapstructure:"output_root"`
}

// AcquireConfig governs naming and skip rules.
type AcquireConfig struct {
	MinValidBytes int64 `mapstructure:"min_valid_bytes"`
	MaxNameLength int   `mapstructure:"max_name_length"`
	Workers       int   `mapstructure:"workers"`
}

// ExtractConfig governs header parsing and page rasterization.
type ExtractConfig struct {
	HeaderChars int     `mapstructure:"header_chars"`
	ImageDPI    float64 `mapstructure:"image_dpi"`
}

// StorageConfig selects where published outputs are mirrored.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for index notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DatabaseConfig selects the relational record store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScheduleConfig controls periodic pipeline runs in serve mode.
type ScheduleConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROUTINE")
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
	v.SetDefault("source.listing_url", "https://www.bubt.edu.bd/routines")
	v.SetDefault("source.render_marker", "routine.php")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.challenge_timeout", "30s")
	v.SetDefault("browser.challenge_settle", "2s")
	v.SetDefault("browser.idle_timeout", "15s")
	v.SetDefault("browser.render_timeout", "90s")
	v.SetDefault("browser.content_timeout", "15s")
	v.SetDefault("browser.render_settle", "2s")
	v.SetDefault("browser.content_selector", "table tr td")
	v.SetDefault("browser.max_parallel", 1)
	v.SetDefault("browser.render_qps", 0.5)
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.max_body_bytes", 64<<20)
	v.SetDefault("paths.staging_dir", filepath.Join("storage", "routines"))
	v.SetDefault("paths.output_root", filepath.Join("storage", "routines"))
	v.SetDefault("acquire.min_valid_bytes", 5000)
	v.SetDefault("acquire.max_name_length", 80)
	v.SetDefault("acquire.workers", 1)
	v.SetDefault("extract.header_chars", 600)
	v.SetDefault("extract.image_dpi", 158.4)
	v.SetDefault("storage.provider", "none")
	v.SetDefault("storage.prefix", "routines")
	v.SetDefault("database.driver", "none")
	v.SetDefault("database.table", "routine_records")
	v.SetDefault("server.port", 5000)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.interval", "24h")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.ListingURL == "" {
		return fmt.Errorf("source.listing_url must be set")
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Paths.StagingDir == "" || c.Paths.OutputRoot == "" {
		return fmt.Errorf("paths.staging_dir and paths.output_root must be set")
	}
	if c.Acquire.MinValidBytes <= 0 {
		return fmt.Errorf("acquire.min_valid_bytes must be > 0")
	}
	if c.Acquire.Workers <= 0 {
		return fmt.Errorf("acquire.workers must be > 0")
	}
	if c.Extract.ImageDPI <= 0 {
		return fmt.Errorf("extract.image_dpi must be > 0")
	}
	switch c.Storage.Provider {
	case "none", "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local provider")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Database.Driver {
	case "none":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Schedule.Enabled && c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be > 0 when scheduling is enabled")
	}
	return nil
}

// HTTPTimeout converts the download timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// IndexPath returns the location of the published index.
func (c Config) IndexPath() string {
	return filepath.Join(c.Paths.OutputRoot, "routine_db.json")
}
