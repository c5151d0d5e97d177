package config

import (
	"errors"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings, populated from the environment.
// A configs/.env file is loaded first when present.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"postgres"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	JWTSecret string `env:"JWT_SECRET"`

	UploadDir string `env:"UPLOAD_DIR" envDefault:"uploads"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://127.0.0.1:5173"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configs/.env (if any) and parses the environment into a Config
func Load() (Config, error) {
	_ = godotenv.Load("configs/.env")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			return Config{}, errors.New("JWT_SECRET is required in release mode")
		}
		cfg.JWTSecret = "default_super_secret_key" // development fallback
	}

	return cfg, nil
}

// DSN assembles the Postgres connection string
func (c Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort +
		"/" + c.DBName + "?sslmode=" + c.DBSSLMode
}
