package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/auditlens/auditlens-backend/internal/platform/envutil"
)

// Config is the server-level configuration. Values load from an optional YAML
// file (CONFIG_PATH) and individual env vars override the file.
type Config struct {
	Port    string `yaml:"port"`
	LogMode string `yaml:"log_mode"`

	DB struct {
		Driver   string `yaml:"driver"` // "postgres" | "sqlite"
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		Path     string `yaml:"path"` // sqlite only
	} `yaml:"db"`

	Scorer struct {
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"scorer"`

	Staleness struct {
		PollInterval    time.Duration `yaml:"poll_interval"`
		StaleAfter      time.Duration `yaml:"stale_after"`
		ResumeThrottle  time.Duration `yaml:"resume_throttle"`
	} `yaml:"staleness"`

	Temporal struct {
		Address   string `yaml:"address"`
		Namespace string `yaml:"namespace"`
		TaskQueue string `yaml:"task_queue"`
	} `yaml:"temporal"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	cfg.Port = "8080"
	cfg.LogMode = "development"
	cfg.DB.Driver = "postgres"
	cfg.Scorer.Timeout = 120 * time.Second
	cfg.Staleness.PollInterval = 15 * time.Second
	cfg.Staleness.StaleAfter = 70 * time.Second
	cfg.Staleness.ResumeThrottle = 30 * time.Second
	cfg.Temporal.TaskQueue = "auditlens"

	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Port = envutil.Str("PORT", cfg.Port)
	cfg.LogMode = envutil.Str("LOG_MODE", cfg.LogMode)
	cfg.DB.Driver = envutil.Str("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.Host = envutil.Str("POSTGRES_HOST", cfg.DB.Host)
	cfg.DB.Port = envutil.Str("POSTGRES_PORT", cfg.DB.Port)
	cfg.DB.User = envutil.Str("POSTGRES_USER", cfg.DB.User)
	cfg.DB.Password = envutil.Str("POSTGRES_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = envutil.Str("POSTGRES_NAME", cfg.DB.Name)
	cfg.DB.Path = envutil.Str("SQLITE_PATH", cfg.DB.Path)
	cfg.Scorer.BaseURL = envutil.Str("SCORER_BASE_URL", cfg.Scorer.BaseURL)
	cfg.Scorer.APIKey = envutil.Str("SCORER_API_KEY", cfg.Scorer.APIKey)
	cfg.Scorer.Timeout = envutil.Duration("SCORER_TIMEOUT", cfg.Scorer.Timeout)
	cfg.Staleness.PollInterval = envutil.Duration("STALENESS_POLL_INTERVAL", cfg.Staleness.PollInterval)
	cfg.Staleness.StaleAfter = envutil.Duration("STALENESS_STALE_AFTER", cfg.Staleness.StaleAfter)
	cfg.Staleness.ResumeThrottle = envutil.Duration("STALENESS_RESUME_THROTTLE", cfg.Staleness.ResumeThrottle)
	cfg.Temporal.Address = envutil.Str("TEMPORAL_ADDRESS", cfg.Temporal.Address)
	cfg.Temporal.Namespace = envutil.Str("TEMPORAL_NAMESPACE", cfg.Temporal.Namespace)
	cfg.Temporal.TaskQueue = envutil.Str("TEMPORAL_TASK_QUEUE", cfg.Temporal.TaskQueue)

	return cfg, nil
}
