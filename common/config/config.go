package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Workflow WorkflowConfig
	Gitlab   []GitlabConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// BrokerConfig holds Redis task broker settings
type BrokerConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	Group        string
	ReclaimIdle  time.Duration
	BlockTimeout time.Duration
}

// WorkflowConfig locates the workflow config document
type WorkflowConfig struct {
	Path string
}

// GitlabConfig holds per-host GitLab settings.
// Several hosts may be configured; the host of the incoming event's
// repository homepage selects one.
type GitlabConfig struct {
	Host               string `json:"host"`
	WebhookSecretToken string `json:"webhook_secret_token"`
	AuthToken          string `json:"auth_token"`
	Prefix             string `json:"prefix"`
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 5000),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "secbot"),
			User:        getEnv("POSTGRES_USER", "secbot"),
			Password:    getEnv("POSTGRES_PASSWORD", "secbot"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Broker: BrokerConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			Stream:       getEnv("BROKER_STREAM", "secbot.tasks"),
			Group:        getEnv("BROKER_GROUP", "secbot_workers"),
			ReclaimIdle:  getEnvDuration("BROKER_RECLAIM_IDLE", 5*time.Minute),
			BlockTimeout: getEnvDuration("BROKER_BLOCK_TIMEOUT", 5*time.Second),
		},
		Workflow: WorkflowConfig{
			Path: getEnv("WORKFLOW_CONFIG_PATH", "config.yml"),
		},
	}

	gitlabConfigs, err := loadGitlabConfigs()
	if err != nil {
		return nil, err
	}
	cfg.Gitlab = gitlabConfigs

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	for _, gl := range c.Gitlab {
		if gl.Host == "" || gl.Prefix == "" {
			return fmt.Errorf("gitlab config requires host and prefix")
		}
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// GitlabForHost returns the GitLab config matching the given host
func (c *Config) GitlabForHost(host string) (*GitlabConfig, error) {
	for i := range c.Gitlab {
		if c.Gitlab[i].Host == host {
			return &c.Gitlab[i], nil
		}
	}
	return nil, fmt.Errorf("no gitlab config for host %q", host)
}

// WebhookTokens returns the configured webhook secret tokens
func (c *Config) WebhookTokens() []string {
	tokens := make([]string, 0, len(c.Gitlab))
	for _, gl := range c.Gitlab {
		tokens = append(tokens, gl.WebhookSecretToken)
	}
	return tokens
}

// loadGitlabConfigs parses the GITLAB_CONFIGS env variable, a JSON array:
// [{"host":"gitlab.example.com","webhook_secret_token":"...","auth_token":"...","prefix":"gl"}]
func loadGitlabConfigs() ([]GitlabConfig, error) {
	raw := os.Getenv("GITLAB_CONFIGS")
	if raw == "" {
		return nil, nil
	}

	var configs []GitlabConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		return nil, fmt.Errorf("parse GITLAB_CONFIGS: %w", err)
	}
	return configs, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
