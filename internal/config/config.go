// Package config loads the relay's settings.
//
// Sources, lowest priority first:
//  1. Built-in defaults (see setDefaults)
//  2. An optional config file (YAML, TOML or JSON) named by --config or
//     RELAY_CONFIG
//  3. Environment variables with the RELAY_ prefix, e.g. RELAY_DB_PATH
//
// PORT is honoured as a fallback for RELAY_PORT so the relay runs unchanged
// on platforms that inject PORT.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "RELAY"

// Config holds every runtime setting.
type Config struct {
	Port      int
	DBPath    string
	StaticDir string

	// JWTSecret enables session tokens and the authenticated REST routes.
	// Empty disables both.
	JWTSecret string
	TokenTTL  time.Duration

	LogLevel  string
	LogFormat string

	AllowedOrigins []string

	SendBuffer      int
	PongWait        time.Duration
	MaxMessageBytes int64

	UserCacheTTL time.Duration
}

// Load reads configuration. configFile may be empty, in which case
// RELAY_CONFIG is consulted; if that is empty too, only defaults and the
// environment apply.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("port", envPrefix+"_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("config: binding port: %w", err)
	}

	if configFile == "" {
		configFile = os.Getenv(envPrefix + "_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Port:            v.GetInt("port"),
		DBPath:          v.GetString("db_path"),
		StaticDir:       v.GetString("static_dir"),
		JWTSecret:       v.GetString("jwt_secret"),
		TokenTTL:        v.GetDuration("token_ttl"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		LogFormat:       strings.ToLower(v.GetString("log_format")),
		AllowedOrigins:  splitList(v.GetStringSlice("allowed_origins")),
		SendBuffer:      v.GetInt("send_buffer"),
		PongWait:        v.GetDuration("pong_wait"),
		MaxMessageBytes: v.GetInt64("max_message_bytes"),
		UserCacheTTL:    v.GetDuration("user_cache_ttl"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "data/relay.db")
	v.SetDefault("static_dir", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", "12h")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("send_buffer", 64)
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("max_message_bytes", 64*1024)
	v.SetDefault("user_cache_ttl", "5m")
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt_secret must be at least 16 characters"))
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	switch c.LogFormat {
	case FormatText, FormatJSON, FormatColor:
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be one of text, json, color", c.LogFormat))
	}
	if c.SendBuffer < 1 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.PongWait < time.Second {
		errs = append(errs, errors.New("pong_wait must be at least 1s"))
	}
	if c.MaxMessageBytes < 1 {
		errs = append(errs, errors.New("max_message_bytes must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// splitList accepts both real lists (from a config file) and a single
// comma-separated string (from the environment).
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
