package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/cookie-jar/internal/api/http"
	"github.com/EternisAI/cookie-jar/internal/auth"
	"github.com/EternisAI/cookie-jar/internal/db"
	"github.com/EternisAI/cookie-jar/internal/events"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Http      http.Config     `mapstructure:"http"`
	Auth      auth.Config     `mapstructure:"auth"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        db.Config       `mapstructure:"db"`
	Pool      pool.Config     `mapstructure:"pool"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Harvester HarvesterConfig `mapstructure:"harvester"`
	Nats      events.Config   `mapstructure:"nats"`
}

type StoreConfig struct {
	// Backend is one of postgres, file or memory.
	Backend string `mapstructure:"backend"`
	FileDir string `mapstructure:"file_dir"`
}

type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Mode     string        `mapstructure:"mode"`
}

type HarvesterConfig struct {
	Url     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Sites   string        `mapstructure:"sites"`
}

var config Config

func ParseCommaSeparated(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func InitConfig() {
	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/cookie-jar-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("pool.max_failed_attempts", 3)
	viper.SetDefault("pool.max_age", pool.DefaultMaxAge)
	viper.SetDefault("sweep.mode", string(pool.SweepReplace))

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}

	initLogger(config.Log)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(redacted(config), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func redacted(c Config) Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.Http.AdminAPIKey = mask(c.Http.AdminAPIKey)
	c.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	c.DB.Url = mask(c.DB.Url)
	return c
}
