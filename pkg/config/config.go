package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"localmedia/pkg/circuitbreaker"
	"localmedia/pkg/retry"
	"localmedia/pkg/tracing"
	"localmedia/pkg/validation"

	"gopkg.in/yaml.v2"
)

const (
	SourceCamera    = "camera"
	SourceSynthetic = "synthetic"
)

// TrackConfig narrows the device or format of one kind of media.
type TrackConfig struct {
	DeviceID  string  `yaml:"device_id"`
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	FrameRate float64 `yaml:"frame_rate"`
}

// SurfaceConfig declares a presentation surface of the in-process document.
type SurfaceConfig struct {
	ID                   string   `yaml:"id"`
	Kind                 string   `yaml:"kind"` // video, audio or container
	Classes              []string `yaml:"classes"`
	Legacy               bool     `yaml:"legacy"`
	BlockUnmutedAutoplay bool     `yaml:"block_unmuted_autoplay"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Controller struct {
		Name      string `yaml:"name"`
		AutoStart bool   `yaml:"auto_start"`
		Muted     bool   `yaml:"muted"`
		Source    string `yaml:"source"`

		Constraints struct {
			Video      bool        `yaml:"video"`
			Audio      bool        `yaml:"audio"`
			VideoTrack TrackConfig `yaml:"video_track"`
			AudioTrack TrackConfig `yaml:"audio_track"`
		} `yaml:"constraints"`
	} `yaml:"controller"`

	Surfaces []SurfaceConfig `yaml:"surfaces"`

	ObjectURLs struct {
		Origin string        `yaml:"origin"`
		TTL    time.Duration `yaml:"ttl"` // 0 keeps references until revoked
	} `yaml:"object_urls"`

	Events struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		SendBuffer     int           `yaml:"send_buffer"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		Channel        string        `yaml:"channel"` // redis pub/sub channel
	} `yaml:"events"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
		HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`
	} `yaml:"monitoring"`

	Tracing tracing.Config `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool                  `yaml:"enabled"`
		Address  string                `yaml:"address"`
		Password string                `yaml:"password"`
		DB       int                   `yaml:"db"`
		PoolSize int                   `yaml:"pool_size"`
		Retry    retry.Config          `yaml:"retry"`
		Breaker  circuitbreaker.Config `yaml:"breaker"`

		// DeviceLease makes capture devices exclusive across instances sharing this Redis.
		DeviceLease struct {
			Enabled bool          `yaml:"enabled"`
			Prefix  string        `yaml:"prefix"`
			TTL     time.Duration `yaml:"ttl"`
		} `yaml:"device_lease"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
		Issuer    string        `yaml:"issuer"`

		// Subjects allowed to request a token from /auth/token. Empty allows any.
		Subjects []string `yaml:"subjects"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Controller
	if err := validation.ValidateControllerName(c.Controller.Name); err != nil {
		return fmt.Errorf("controller.name: %w", err)
	}
	if c.Controller.Source != SourceCamera && c.Controller.Source != SourceSynthetic {
		return fmt.Errorf("controller.source must be %q or %q, got %q", SourceCamera, SourceSynthetic, c.Controller.Source)
	}
	cons := c.Controller.Constraints
	if !cons.Video && !cons.Audio {
		return fmt.Errorf("controller.constraints must request video or audio")
	}
	for name, t := range map[string]TrackConfig{"video_track": cons.VideoTrack, "audio_track": cons.AudioTrack} {
		if err := validation.ValidateDimension(t.Width, "width"); err != nil {
			return fmt.Errorf("controller.constraints.%s: %w", name, err)
		}
		if err := validation.ValidateDimension(t.Height, "height"); err != nil {
			return fmt.Errorf("controller.constraints.%s: %w", name, err)
		}
		if err := validation.ValidateFrameRate(t.FrameRate); err != nil {
			return fmt.Errorf("controller.constraints.%s: %w", name, err)
		}
	}

	// Surfaces
	seen := make(map[string]bool, len(c.Surfaces))
	for i, s := range c.Surfaces {
		if err := validation.ValidateSurfaceID(s.ID); err != nil {
			return fmt.Errorf("surfaces[%d]: %w", i, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("surfaces[%d].id %q is declared twice", i, s.ID)
		}
		seen[s.ID] = true
		switch s.Kind {
		case "video", "audio", "container":
		default:
			return fmt.Errorf("surfaces[%d].kind must be video, audio or container, got %q", i, s.Kind)
		}
	}

	// Object URLs
	if c.ObjectURLs.TTL < 0 {
		return fmt.Errorf("object_urls.ttl must be >= 0")
	}

	// Events
	if c.Events.PingInterval <= 0 {
		return fmt.Errorf("events.ping_interval must be > 0")
	}
	if c.Events.PongTimeout <= c.Events.PingInterval {
		return fmt.Errorf("events.pong_timeout must be > events.ping_interval")
	}
	if c.Events.SendBuffer <= 0 {
		return fmt.Errorf("events.send_buffer must be > 0")
	}

	// Monitoring
	if c.Monitoring.HealthCheckInterval < 0 {
		return fmt.Errorf("monitoring.health_check_interval must be >= 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if err := validation.ValidateURL(c.Tracing.JaegerURL); err != nil {
			return fmt.Errorf("tracing.jaeger_url: %w", err)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Events.Channel == "" {
			return fmt.Errorf("events.channel must not be empty when redis.enabled=true")
		}
		if c.Redis.DeviceLease.Enabled && c.Redis.DeviceLease.TTL < time.Second {
			return fmt.Errorf("redis.device_lease.ttl must be at least 1s")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be > 0 when auth.enabled=true")
		}
		for i, subject := range c.Auth.Subjects {
			if err := validation.ValidateSubject(subject); err != nil {
				return fmt.Errorf("auth.subjects[%d]: %w", i, err)
			}
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Controller.Name = "default"
	cfg.Controller.AutoStart = false
	cfg.Controller.Muted = true
	cfg.Controller.Source = SourceCamera
	cfg.Controller.Constraints.Video = true

	cfg.ObjectURLs.Origin = "localmedia"

	cfg.Events.PingInterval = 30 * time.Second
	cfg.Events.PongTimeout = 60 * time.Second
	cfg.Events.WriteTimeout = 10 * time.Second
	cfg.Events.SendBuffer = 32
	cfg.Events.Channel = "localmedia:events"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthCheckInterval = 30 * time.Second
	cfg.Monitoring.HealthCheckTimeout = 5 * time.Second

	cfg.Tracing = tracing.DefaultConfig()

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.Retry = retry.DefaultConfig()
	cfg.Redis.Breaker = circuitbreaker.DefaultConfig()
	cfg.Redis.DeviceLease.Prefix = "localmedia:lease:"
	cfg.Redis.DeviceLease.TTL = 15 * time.Second

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = time.Hour
	cfg.Auth.Issuer = "localmedia"

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LOCALMEDIA_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if name := os.Getenv("LOCALMEDIA_CONTROLLER_NAME"); name != "" {
		c.Controller.Name = name
	}
	if source := os.Getenv("LOCALMEDIA_SOURCE"); source != "" {
		c.Controller.Source = source
	}
	if v := os.Getenv("LOCALMEDIA_AUTO_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Controller.AutoStart = b
		}
	}
	if level := os.Getenv("LOCALMEDIA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("LOCALMEDIA_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if secret := os.Getenv("LOCALMEDIA_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
