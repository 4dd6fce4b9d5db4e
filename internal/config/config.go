package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	Dev     DevConfig     `mapstructure:"dev"`
}

// APIConfig holds the backend connection configuration
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	TokenPath      string `mapstructure:"token_path"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// HistoryConfig holds the local message cache configuration
type HistoryConfig struct {
	Disabled bool   `mapstructure:"disabled"`
	DBPath   string `mapstructure:"db_path"`
}

// DevConfig holds the development server configuration
type DevConfig struct {
	Host          string `mapstructure:"host"`
	Port          string `mapstructure:"port"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIModel   string `mapstructure:"openai_model"`
}

// Load loads the configuration from config.yaml, honoring the CONFIG_PATH
// environment variable and TASKTALK_* overrides. A missing config file is not
// an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("api.base_url", "http://127.0.0.1:8000")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.token_path", defaultTokenPath())
	v.SetDefault("log.level", "info")
	v.SetDefault("history.db_path", defaultHistoryPath())
	v.SetDefault("dev.host", "127.0.0.1")
	v.SetDefault("dev.port", "8000")
	v.SetDefault("dev.jwt_secret", "dev-secret")
	v.SetDefault("dev.openai_model", "gpt-4o-mini")

	v.SetEnvPrefix("TASKTALK")
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func defaultTokenPath() string {
	return filepath.Join(configDir(), "token")
}

func defaultHistoryPath() string {
	return filepath.Join(configDir(), "history.db")
}

func configDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".tasktalk"
	}
	return filepath.Join(base, "tasktalk")
}
