package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store struct {
		// Binding selects the document-store implementation: "memory" or
		// "sqlite".
		Binding    string `yaml:"binding" env:"SCHEDBOARD_STORE_BINDING"`
		SQLitePath string `yaml:"sqlite_path" env:"SCHEDBOARD_SQLITE_PATH"`
	} `yaml:"store"`

	Redis struct {
		// Address enables cross-process snapshot fan-out when set.
		Address  string `yaml:"address" env:"SCHEDBOARD_REDIS_ADDRESS"`
		Password string `yaml:"password" env:"SCHEDBOARD_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"SCHEDBOARD_REDIS_DB"`
	} `yaml:"redis"`

	HTTP struct {
		Port int `yaml:"port" env:"SCHEDBOARD_HTTP_PORT"`
	} `yaml:"http"`

	Telegram struct {
		// BotToken enables forwarding error notifications to an ops chat.
		BotToken  string `yaml:"bot_token" env:"SCHEDBOARD_TELEGRAM_TOKEN"`
		OpsChatID int64  `yaml:"ops_chat_id" env:"SCHEDBOARD_TELEGRAM_OPS_CHAT"`
		Debug     bool   `yaml:"debug" env:"SCHEDBOARD_TELEGRAM_DEBUG"`
	} `yaml:"telegram"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port" env:"SCHEDBOARD_HEALTH_PORT"`
		PrometheusEnabled bool `yaml:"prometheus_enabled" env:"SCHEDBOARD_PROMETHEUS_ENABLED"`
		PrometheusPort    int  `yaml:"prometheus_port" env:"SCHEDBOARD_PROMETHEUS_PORT"`
	} `yaml:"monitoring"`

	Notifications struct {
		PerSecond float64 `yaml:"per_second" env:"SCHEDBOARD_NOTIFY_PER_SECOND"`
		Burst     int     `yaml:"burst" env:"SCHEDBOARD_NOTIFY_BURST"`
	} `yaml:"notifications"`

	Schedule struct {
		HorizonMonths int `yaml:"horizon_months" env:"SCHEDBOARD_HORIZON_MONTHS"`
	} `yaml:"schedule"`
}

// Load reads the YAML config, expands ${ENV_VAR} placeholders, then lets
// environment variables override individual fields. A missing config file is
// not an error; everything has a default.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = "configs/config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		data = []byte(os.ExpandEnv(string(data)))
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if cfg.Store.Binding == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Binding == "" {
		c.Store.Binding = "sqlite"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "data/schedboard.db"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Notifications.PerSecond <= 0 {
		c.Notifications.PerSecond = 1
	}
	if c.Notifications.Burst <= 0 {
		c.Notifications.Burst = 5
	}
	if c.Schedule.HorizonMonths <= 0 {
		c.Schedule.HorizonMonths = 3
	}
}
