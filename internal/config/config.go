package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	WhatsApp  WhatsAppConfig
	Schedule  ScheduleConfig
	LLM       LLMConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string `env:"SERVER_ADDRESS" env-default:":3000"`
}

type StoreConfig struct {
	Driver      string `env:"STORE_DRIVER" env-default:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" env-default:"data/assistant.db"`
	PostgresURL string `env:"POSTGRES_URL"`
	AppID       string `env:"APP_ID" env-default:"whatsapp-assistant"`
	OwnerID     string `env:"OWNER_ID" env-default:"owner"`
}

// DSN returns the connection string for the selected driver.
func (s StoreConfig) DSN() string {
	if s.Driver == "postgres" {
		return s.PostgresURL
	}
	return s.SQLitePath
}

// OwnerKey identifies the bot state row of this deployment.
func (s StoreConfig) OwnerKey() string {
	return s.AppID + "/" + s.OwnerID
}

type RedisConfig struct {
	// Enabled is derived from Address.
	Enabled    bool
	Address    string `env:"REDIS_ADDR"`
	Password   string `env:"REDIS_PASSWORD"`
	DB         int    `env:"REDIS_DB" env-default:"0"`
	TTLSeconds int    `env:"REDIS_TTL_SECONDS" env-default:"86400"`
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

type SchedulerConfig struct {
	IntervalSeconds int `env:"SCHED_INTERVAL_SECONDS" env-default:"60"`
	MinGapMillis    int `env:"SEND_MIN_GAP_MS" env-default:"0"`
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SchedulerConfig) MinGap() time.Duration {
	return time.Duration(s.MinGapMillis) * time.Millisecond
}

type WhatsAppConfig struct {
	StorePath string `env:"WHATSAPP_STORE_PATH" env-default:"data/whatsapp.db"`
}

type ScheduleConfig struct {
	Timezone    string `env:"SCHEDULE_TIMEZONE" env-default:"Asia/Kolkata"`
	CountryCode string `env:"DEFAULT_COUNTRY_CODE" env-default:"91"`
	MinDigits   int    `env:"RECIPIENT_MIN_DIGITS" env-default:"0"`
	MaxDigits   int    `env:"RECIPIENT_MAX_DIGITS" env-default:"0"`
}

// Location loads Timezone. LoadAll has already validated it, so UTC is only
// returned for a hand-built config.
func (s ScheduleConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type LLMConfig struct {
	APIKey          string `env:"GEMINI_API_KEY"`
	Model           string `env:"GEMINI_MODEL" env-default:"gemini-2.5-flash"`
	BaseURL         string `env:"GEMINI_BASE_URL" env-default:"https://generativelanguage.googleapis.com"`
	MaxAttempts     int    `env:"LLM_MAX_ATTEMPTS" env-default:"5"`
	BaseDelayMillis int    `env:"LLM_BASE_DELAY_MS" env-default:"1000"`
}

func (l LLMConfig) BaseDelay() time.Duration {
	return time.Duration(l.BaseDelayMillis) * time.Millisecond
}

type LogConfig struct {
	Level      string `env:"LOG_LEVEL" env-default:"info"`
	Format     string `env:"LOG_FORMAT" env-default:"console"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" env-default:"50"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" env-default:"14"`
}

func LoadAll() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	cfg.Redis.Enabled = cfg.Redis.Address != ""
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Address == "" {
		errs = append(errs, errors.New("SERVER_ADDRESS must not be empty"))
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH must not be empty"))
		}
	case "postgres":
		if cfg.Store.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be sqlite or postgres, got %q", cfg.Store.Driver))
	}
	if cfg.Store.AppID == "" || cfg.Store.OwnerID == "" {
		errs = append(errs, errors.New("APP_ID and OWNER_ID must not be empty"))
	}

	if cfg.Redis.Enabled && cfg.Redis.TTLSeconds <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	if cfg.Redis.DB < 0 {
		errs = append(errs, errors.New("REDIS_DB must be >= 0"))
	}

	if cfg.Scheduler.IntervalSeconds <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.MinGapMillis < 0 {
		errs = append(errs, errors.New("SEND_MIN_GAP_MS must be >= 0"))
	}

	if cfg.WhatsApp.StorePath == "" {
		errs = append(errs, errors.New("WHATSAPP_STORE_PATH must not be empty"))
	}

	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil || cfg.Schedule.Timezone == "" {
		errs = append(errs, fmt.Errorf("SCHEDULE_TIMEZONE %q is not a valid zone", cfg.Schedule.Timezone))
	}
	if cfg.Schedule.CountryCode == "" || strings.Trim(cfg.Schedule.CountryCode, "0123456789") != "" {
		errs = append(errs, fmt.Errorf("DEFAULT_COUNTRY_CODE must be digits, got %q", cfg.Schedule.CountryCode))
	}
	if cfg.Schedule.MinDigits < 0 || cfg.Schedule.MaxDigits < 0 {
		errs = append(errs, errors.New("RECIPIENT_MIN_DIGITS and RECIPIENT_MAX_DIGITS must be >= 0"))
	}
	if cfg.Schedule.MaxDigits > 0 && cfg.Schedule.MinDigits > cfg.Schedule.MaxDigits {
		errs = append(errs, errors.New("RECIPIENT_MIN_DIGITS must not exceed RECIPIENT_MAX_DIGITS"))
	}

	if cfg.LLM.MaxAttempts <= 0 {
		errs = append(errs, errors.New("LLM_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.LLM.BaseDelayMillis < 0 {
		errs = append(errs, errors.New("LLM_BASE_DELAY_MS must be >= 0"))
	}

	if cfg.Log.Format != "console" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json, got %q", cfg.Log.Format))
	}
	if cfg.Log.File != "" && (cfg.Log.MaxSizeMB <= 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0) {
		errs = append(errs, errors.New("LOG_MAX_SIZE_MB must be > 0 and LOG_MAX_BACKUPS, LOG_MAX_AGE_DAYS >= 0"))
	}

	return errors.Join(errs...)
}
