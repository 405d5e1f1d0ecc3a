// Package app holds process configuration shared by the server and the
// seed command.
package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coursekb/coursekb-backend/internal/platform/envutil"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

type Config struct {
	Port           string
	LogMode        string
	JWTSecret      string
	AllowOrigins   []string
	TracingEnabled bool

	RedisAddr        string
	SweepConcurrency int
}

// fileConfig is the optional YAML overlay. Pointer fields distinguish
// "absent" from zero values, so the file only overrides what it sets.
type fileConfig struct {
	Port             *string  `yaml:"port"`
	LogMode          *string  `yaml:"log_mode"`
	JWTSecret        *string  `yaml:"jwt_secret"`
	AllowOrigins     []string `yaml:"allow_origins"`
	TracingEnabled   *bool    `yaml:"tracing_enabled"`
	RedisAddr        *string  `yaml:"redis_addr"`
	SweepConcurrency *int     `yaml:"sweep_concurrency"`
}

// LoadConfig reads configuration from the environment, then overlays the
// YAML file named by CONFIG_FILE (default config.yaml) when it exists.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Port:             envutil.GetEnv("PORT", "8080", log),
		LogMode:          envutil.GetEnv("LOG_MODE", "development", log),
		JWTSecret:        envutil.GetEnv("JWT_SECRET_KEY", "", log),
		AllowOrigins:     splitNonEmpty(envutil.GetEnv("ALLOW_ORIGINS", "http://localhost:3000", log)),
		TracingEnabled:   envutil.GetEnvAsBool("TRACING_ENABLED", false, log),
		RedisAddr:        envutil.GetEnv("REDIS_ADDR", "", log),
		SweepConcurrency: envutil.GetEnvAsInt("EMBED_SWEEP_CONCURRENCY", 2, log),
	}

	path := envutil.GetEnv("CONFIG_FILE", "config.yaml", log)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var overlay fileConfig
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if overlay.Port != nil {
		cfg.Port = *overlay.Port
	}
	if overlay.LogMode != nil {
		cfg.LogMode = *overlay.LogMode
	}
	if overlay.JWTSecret != nil {
		cfg.JWTSecret = *overlay.JWTSecret
	}
	if len(overlay.AllowOrigins) > 0 {
		cfg.AllowOrigins = overlay.AllowOrigins
	}
	if overlay.TracingEnabled != nil {
		cfg.TracingEnabled = *overlay.TracingEnabled
	}
	if overlay.RedisAddr != nil {
		cfg.RedisAddr = *overlay.RedisAddr
	}
	if overlay.SweepConcurrency != nil {
		cfg.SweepConcurrency = *overlay.SweepConcurrency
	}

	log.Info("Loaded config overlay", "path", path)
	return cfg, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
