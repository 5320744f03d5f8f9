package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=pantry port=5432 sslmode=disable"

type Config struct {
	HTTPPort            string `mapstructure:"http_port"`
	DatabaseDriver      string `mapstructure:"database_driver"` // postgres | sqlite
	DatabaseDSN         string `mapstructure:"database_dsn"`
	JWTSecret           string `mapstructure:"jwt_secret"`
	CORSOrigins         string `mapstructure:"cors_allowed_origins"`
	Env                 string `mapstructure:"app_env"`
	LogLevel            string `mapstructure:"log_level"`
	BestEffortNormalize bool   `mapstructure:"best_effort_normalize"`
}

// Load reads config.yaml from the working directory if present; environment
// variables (HTTP_PORT, DATABASE_DSN, JWT_SECRET, ...) override it. A .env
// file fills in variables that are not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	return load(viper.New(), "")
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	v.SetDefault("http_port", "8080")
	v.SetDefault("database_driver", "postgres")
	v.SetDefault("database_dsn", defaultDSN)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("cors_allowed_origins", "http://localhost:5173")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("best_effort_normalize", true)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	if cfg.DatabaseDriver == "postgres" && cfg.DatabaseDSN == defaultDSN {
		log.Println("[WARN] DATABASE_DSN uses the default value, set your own Postgres connection for production.")
	}
	if cfg.CORSOrigins == "http://localhost:5173" {
		log.Println("[WARN] CORS_ALLOWED_ORIGINS uses the default value, set your own domain for production.")
	}
	return nil
}

func (cfg *Config) IsProduction() bool {
	return cfg.Env == "production"
}
