package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	AWS    AWSConfig    `mapstructure:"aws"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Rabbit RabbitConfig `mapstructure:"rabbit"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Queue  QueueConfig  `mapstructure:"queue"`
}

type ServerConfig struct {
	WidgetAddr     string   `mapstructure:"widget_addr"`
	OperatorAddr   string   `mapstructure:"operator_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AWSConfig struct {
	Region           string `mapstructure:"region"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	SessionToken     string `mapstructure:"session_token"`
	DynamoDBEndpoint string `mapstructure:"dynamodb_endpoint"`
}

type AuthConfig struct {
	OperatorSecret string `mapstructure:"operator_secret"`
	VisitorSecret  string `mapstructure:"visitor_secret"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RabbitConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type QueueConfig struct {
	StatsTTL time.Duration `mapstructure:"stats_ttl"`
}

// LoadConfig reads the optional YAML file at path and overlays environment
// variables, e.g. AUTH_OPERATOR_SECRET overrides auth.operator_secret.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.widget_addr", ":8082")
	v.SetDefault("server.operator_addr", ":8081")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("aws.region", "eu-central-1")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rabbit.exchange", "support-desk.events")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 300)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("queue.stats_ttl", 15*time.Second)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Auth.OperatorSecret == "" {
		return nil, fmt.Errorf("config: auth.operator_secret is required")
	}
	if cfg.Auth.VisitorSecret == "" {
		return nil, fmt.Errorf("config: auth.visitor_secret is required")
	}

	return &cfg, nil
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file")
}
