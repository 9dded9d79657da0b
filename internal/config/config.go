package config

import (
	"os"
	"time"

	"quiz-session-sync/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// TTL overrides quiz.ttl for pools cached in Redis.
		TTL string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		// TTL bounds how long drawn question pools stay cached.
		TTL                  string `yaml:"ttl"`
		JoinCodeTTL          string `yaml:"join_code_ttl"`
		domain.SettingsInput `yaml:",inline"`
	} `yaml:"quiz"`
	Realtime struct {
		Heartbeat        string `yaml:"heartbeat"`
		PresenceTTL      string `yaml:"presence_ttl"`
		ReconnectBackoff string `yaml:"reconnect_backoff"`
		// Pacing lets the server advance questions when the response time runs out.
		Pacing bool `yaml:"pacing"`
	} `yaml:"realtime"`
	Offline struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"offline"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
}

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Load reads YAML config from path. A missing file yields an empty config so env-only setups work.
// DATABASE_URL, REDIS_ADDR, REDIS_PASSWORD and JWT_SECRET override the file.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	case !os.IsNotExist(err):
		return cfg, err
	}
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		cfg.Postgres.URL = raw
	}
	if raw := os.Getenv("REDIS_ADDR"); raw != "" {
		cfg.Redis.Addr = raw
	}
	if raw := os.Getenv("REDIS_PASSWORD"); raw != "" {
		cfg.Redis.Password = raw
	}
	if raw := os.Getenv("JWT_SECRET"); raw != "" {
		cfg.Auth.JWTSecret = raw
	}
	if cfg.Offline.SQLitePath == "" {
		cfg.Offline.SQLitePath = "quiz-offline.db"
	}
	return cfg, nil
}

// QuizDefaults are the session defaults after applying the configured overrides.
func (c Config) QuizDefaults() domain.Settings {
	return domain.NormalizeSettings(c.Quiz.SettingsInput, domain.DefaultSettings)
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
