package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NATSURL          string
	EventSubjectBase string
	JWTSecret        string
	CORSAllowOrigins string

	// SchoolAPIKey is the installation wide key used when an activity has no teacher key.
	SchoolAPIKey      string
	APIEndpoint       string
	ValidateLerncode  bool
	LerncodeCacheTTL  time.Duration
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	FeedbackRateLimit int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ENGELBRAIN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "engelbrain API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.subject_base", "engelbrain")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("api.endpoint", "https://klausurenweb.de/api/v1")
	v.SetDefault("api.validate_lerncode", true)
	v.SetDefault("api.lerncode_cache_ttl", "10m")
	v.SetDefault("api.connect_timeout", "20s")
	v.SetDefault("api.request_timeout", "300s")
	v.SetDefault("api.feedback_rate_limit", 6)

	cacheTTL, err := parseDuration(v, "api.lerncode_cache_ttl", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	connectTimeout, err := parseDuration(v, "api.connect_timeout", 20*time.Second)
	if err != nil {
		return Config{}, err
	}
	requestTimeout, err := parseDuration(v, "api.request_timeout", 300*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		EventSubjectBase:  v.GetString("events.subject_base"),
		JWTSecret:         v.GetString("jwt.secret"),
		CORSAllowOrigins:  strings.TrimSpace(v.GetString("cors.allow_origins")),
		SchoolAPIKey:      strings.TrimSpace(v.GetString("school.api_key")),
		APIEndpoint:       strings.TrimSpace(v.GetString("api.endpoint")),
		ValidateLerncode:  v.GetBool("api.validate_lerncode"),
		LerncodeCacheTTL:  cacheTTL,
		ConnectTimeout:    connectTimeout,
		RequestTimeout:    requestTimeout,
		FeedbackRateLimit: v.GetInt("api.feedback_rate_limit"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.FeedbackRateLimit <= 0 {
		cfg.FeedbackRateLimit = 6
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return fallback, nil
	}

	return value, nil
}
