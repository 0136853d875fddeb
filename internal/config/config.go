// File: internal/config/config.go
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. INVIS_ENGINE_PROJECT_KEY.
const EnvPrefix = "INVIS"

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Collector CollectorConfig `mapstructure:"collector" yaml:"collector"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Replay    ReplayConfig    `mapstructure:"replay" yaml:"replay"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig carries the tunables of the behavioral signal engine. All
// windows and thresholds are in milliseconds unless the name says otherwise.
// Every field is optional; zero values are replaced by WithDefaults.
type EngineConfig struct {
	// ProjectKey identifies the embedding site. Without it the engine is inert.
	ProjectKey string `mapstructure:"project_key" yaml:"project_key"`
	// Endpoint is the collection URL the final payload is posted to.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	IdleThresholdMs        int64 `mapstructure:"idle_threshold_ms" yaml:"idle_threshold_ms"`
	IdlePollIntervalMs     int64 `mapstructure:"idle_poll_interval_ms" yaml:"idle_poll_interval_ms"`
	HoverThresholdMs       int64 `mapstructure:"hover_threshold_ms" yaml:"hover_threshold_ms"`
	ScrollReversalWindowMs int64 `mapstructure:"scroll_reversal_window_ms" yaml:"scroll_reversal_window_ms"`
	RereadWindowMs         int64 `mapstructure:"reread_window_ms" yaml:"reread_window_ms"`
	// RereadSectionRatio is the section height as a fraction of the viewport height.
	RereadSectionRatio float64 `mapstructure:"reread_section_ratio" yaml:"reread_section_ratio"`
	RageClickWindowMs  int64   `mapstructure:"rage_click_window_ms" yaml:"rage_click_window_ms"`
	RageClickRadiusPx  float64 `mapstructure:"rage_click_radius_px" yaml:"rage_click_radius_px"`
	RageClickMinClicks int     `mapstructure:"rage_click_min_clicks" yaml:"rage_click_min_clicks"`
	JitterAngleRad     float64 `mapstructure:"jitter_angle_rad" yaml:"jitter_angle_rad"`
	JitterWindowMs     int64   `mapstructure:"jitter_window_ms" yaml:"jitter_window_ms"`
	CTAProximityPx     float64 `mapstructure:"cta_proximity_px" yaml:"cta_proximity_px"`
	// ConfidenceClickWindowMs bounds the gap between the previous activity and a
	// CTA click for the click to count as confident.
	ConfidenceClickWindowMs int64 `mapstructure:"confidence_click_window_ms" yaml:"confidence_click_window_ms"`
	// FastPathMaxMs is the time on page under which a completed goal counts as a fast path.
	FastPathMaxMs int64 `mapstructure:"fast_path_max_ms" yaml:"fast_path_max_ms"`
	// NavigationHistoryLimit caps the visit order kept in the navigation ledger.
	NavigationHistoryLimit int `mapstructure:"navigation_history_limit" yaml:"navigation_history_limit"`

	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout" yaml:"delivery_timeout"`
	// CompressPayload sends the payload brotli-encoded.
	CompressPayload bool `mapstructure:"compress_payload" yaml:"compress_payload"`
}

// CollectorConfig configures the collection endpoint.
type CollectorConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr" yaml:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// ProjectKeys lists accepted projects without a domain restriction.
	ProjectKeys []string `mapstructure:"project_keys" yaml:"project_keys"`
	// Projects lists accepted projects that may restrict the embedding domains.
	Projects      []ProjectConfig `mapstructure:"projects" yaml:"projects"`
	RateLimit     float64         `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst     int             `mapstructure:"rate_burst" yaml:"rate_burst"`
	MaxBodyBytes  int64           `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	ReadTimeout   time.Duration   `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownGrace time.Duration   `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// ProjectConfig registers one project with the collector.
type ProjectConfig struct {
	Key string `mapstructure:"key" yaml:"key"`
	// AllowedDomains restricts the Origin/Referer host names. Empty allows any.
	AllowedDomains []string `mapstructure:"allowed_domains" yaml:"allowed_domains"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ReplayConfig configures the event-stream replay host.
type ReplayConfig struct {
	// StateDB is the sqlite file used as tab storage. Empty keeps tab storage in memory.
	StateDB string `mapstructure:"state_db" yaml:"state_db"`
	// TabID scopes the tab storage inside StateDB.
	TabID string `mapstructure:"tab_id" yaml:"tab_id"`
}

// Default engine tunables.
const (
	DefaultEndpoint                = "https://invisinsights.tech/collect"
	DefaultIdleThresholdMs         = 3000
	DefaultIdlePollIntervalMs      = 1000
	DefaultHoverThresholdMs        = 800
	DefaultScrollReversalWindowMs  = 600
	DefaultRereadWindowMs          = 15000
	DefaultRereadSectionRatio      = 0.8
	DefaultRageClickWindowMs       = 800
	DefaultRageClickRadiusPx       = 24
	DefaultRageClickMinClicks      = 3
	DefaultJitterAngleRad          = 1.7
	DefaultJitterWindowMs          = 120
	DefaultCTAProximityPx          = 120
	DefaultConfidenceClickWindowMs = 800
	DefaultFastPathMaxMs           = 15000
	DefaultNavigationHistoryLimit  = 50
	DefaultDeliveryTimeout         = 10 * time.Second
)

// DefaultEngineConfig returns the engine tunables with every default applied.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{}.WithDefaults()
}

// WithDefaults returns a copy with every unset (zero) tunable replaced by its default.
func (e EngineConfig) WithDefaults() EngineConfig {
	setInt64 := func(v *int64, d int64) {
		if *v <= 0 {
			*v = d
		}
	}
	setFloat := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	if e.Endpoint == "" {
		e.Endpoint = DefaultEndpoint
	}
	setInt64(&e.IdleThresholdMs, DefaultIdleThresholdMs)
	setInt64(&e.IdlePollIntervalMs, DefaultIdlePollIntervalMs)
	setInt64(&e.HoverThresholdMs, DefaultHoverThresholdMs)
	setInt64(&e.ScrollReversalWindowMs, DefaultScrollReversalWindowMs)
	setInt64(&e.RereadWindowMs, DefaultRereadWindowMs)
	setFloat(&e.RereadSectionRatio, DefaultRereadSectionRatio)
	setInt64(&e.RageClickWindowMs, DefaultRageClickWindowMs)
	setFloat(&e.RageClickRadiusPx, DefaultRageClickRadiusPx)
	if e.RageClickMinClicks <= 0 {
		e.RageClickMinClicks = DefaultRageClickMinClicks
	}
	setFloat(&e.JitterAngleRad, DefaultJitterAngleRad)
	setInt64(&e.JitterWindowMs, DefaultJitterWindowMs)
	setFloat(&e.CTAProximityPx, DefaultCTAProximityPx)
	setInt64(&e.ConfidenceClickWindowMs, DefaultConfidenceClickWindowMs)
	setInt64(&e.FastPathMaxMs, DefaultFastPathMaxMs)
	if e.NavigationHistoryLimit <= 0 {
		e.NavigationHistoryLimit = DefaultNavigationHistoryLimit
	}
	if e.DeliveryTimeout <= 0 {
		e.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return e
}

// IdlePollInterval returns the idle poll period as a duration.
func (e EngineConfig) IdlePollInterval() time.Duration {
	return time.Duration(e.IdlePollIntervalMs) * time.Millisecond
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "invis")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.project_key", "")
	v.SetDefault("engine.endpoint", DefaultEndpoint)
	v.SetDefault("engine.idle_threshold_ms", DefaultIdleThresholdMs)
	v.SetDefault("engine.idle_poll_interval_ms", DefaultIdlePollIntervalMs)
	v.SetDefault("engine.hover_threshold_ms", DefaultHoverThresholdMs)
	v.SetDefault("engine.scroll_reversal_window_ms", DefaultScrollReversalWindowMs)
	v.SetDefault("engine.reread_window_ms", DefaultRereadWindowMs)
	v.SetDefault("engine.reread_section_ratio", DefaultRereadSectionRatio)
	v.SetDefault("engine.rage_click_window_ms", DefaultRageClickWindowMs)
	v.SetDefault("engine.rage_click_radius_px", DefaultRageClickRadiusPx)
	v.SetDefault("engine.rage_click_min_clicks", DefaultRageClickMinClicks)
	v.SetDefault("engine.jitter_angle_rad", DefaultJitterAngleRad)
	v.SetDefault("engine.jitter_window_ms", DefaultJitterWindowMs)
	v.SetDefault("engine.cta_proximity_px", DefaultCTAProximityPx)
	v.SetDefault("engine.confidence_click_window_ms", DefaultConfidenceClickWindowMs)
	v.SetDefault("engine.fast_path_max_ms", DefaultFastPathMaxMs)
	v.SetDefault("engine.navigation_history_limit", DefaultNavigationHistoryLimit)
	v.SetDefault("engine.delivery_timeout", "10s")
	v.SetDefault("engine.compress_payload", false)

	// -- Collector --
	v.SetDefault("collector.listen_addr", ":8080")
	v.SetDefault("collector.allowed_origins", []string{"*"})
	v.SetDefault("collector.project_keys", []string{})
	v.SetDefault("collector.rate_limit", 5.0)
	v.SetDefault("collector.rate_burst", 20)
	v.SetDefault("collector.max_body_bytes", 200*1024)
	v.SetDefault("collector.read_timeout", "10s")
	v.SetDefault("collector.write_timeout", "10s")
	v.SetDefault("collector.shutdown_grace", "5s")

	// -- Replay --
	v.SetDefault("replay.state_db", "")
	v.SetDefault("replay.tab_id", "default")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets come from the environment only.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")
	_ = v.BindEnv("engine.project_key", EnvPrefix+"_PROJECT_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in file system paths.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Replay.StateDB} {
		if *p == "" || !strings.HasPrefix(*p, "~") {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.Collector.Validate(); err != nil {
		return fmt.Errorf("collector configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the engine tunables. Zero values are allowed and mean "use
// the default"; negative values and out-of-range ratios are rejected.
func (e *EngineConfig) Validate() error {
	windows := map[string]int64{
		"idle_threshold_ms":          e.IdleThresholdMs,
		"idle_poll_interval_ms":      e.IdlePollIntervalMs,
		"hover_threshold_ms":         e.HoverThresholdMs,
		"scroll_reversal_window_ms":  e.ScrollReversalWindowMs,
		"reread_window_ms":           e.RereadWindowMs,
		"rage_click_window_ms":       e.RageClickWindowMs,
		"jitter_window_ms":           e.JitterWindowMs,
		"confidence_click_window_ms": e.ConfidenceClickWindowMs,
		"fast_path_max_ms":           e.FastPathMaxMs,
	}
	for name, val := range windows {
		if val < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if e.RereadSectionRatio < 0 || e.RereadSectionRatio > 1 {
		return fmt.Errorf("reread_section_ratio must be between 0.0 and 1.0")
	}
	if e.JitterAngleRad < 0 || e.JitterAngleRad > math.Pi {
		return fmt.Errorf("jitter_angle_rad must be between 0 and Pi")
	}
	if e.RageClickRadiusPx < 0 || e.CTAProximityPx < 0 {
		return fmt.Errorf("pixel radii must not be negative")
	}
	if e.RageClickMinClicks < 0 {
		return fmt.Errorf("rage_click_min_clicks must not be negative")
	}
	return nil
}

// Validate checks the collector configuration.
func (c *CollectorConfig) Validate() error {
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate_burst must be positive when rate_limit is set")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative")
	}
	for i, p := range c.Projects {
		if strings.TrimSpace(p.Key) == "" {
			return fmt.Errorf("projects[%d].key is required", i)
		}
	}
	return nil
}
