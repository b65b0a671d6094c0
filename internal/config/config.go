package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the process-level configuration. The Joplin connection
// configuration is deliberately not here: it lives in the settings
// table so the user configures it once through the app, not per shell.
type Config struct {
	App   AppConfig   `env-prefix:"NOTEDROP_"`
	Serve ServeConfig `env-prefix:"NOTEDROP_SERVE_"`
}

type AppConfig struct {
	DataDir  string `env:"DATA_DIR" env-default:"./data"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	Pretty   bool   `env:"PRETTY" env-default:"true"`
}

type ServeConfig struct {
	Addr string `env:"ADDR" env-default:"localhost:6893"`
}

// Parse loads .env if present and reads the environment.
func Parse() (Config, error) {
	godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse cfg: %v", err)
	}

	return cfg, nil
}
