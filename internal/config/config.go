package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"

	// PolicyReopen keeps a finished game and its result for the remaining
	// player, who may restart it.
	PolicyReopen = "reopen"
	// PolicyDelete removes a finished game as soon as one player leaves it.
	PolicyDelete = "delete"
)

type Config struct {
	LogLevel   string  `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort   string  `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort string  `yaml:"socket-port" env:"SOCKET_PORT" env-default:"8080"`
	Storage    Storage `yaml:"storage"`
	Redis      Redis   `yaml:"redis"`
	SQLite     SQLite  `yaml:"sqlite"`
	Game       Game    `yaml:"game"`
}

type Storage struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"redis"`
}

type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type SQLite struct {
	Path string `yaml:"path" env:"SQLITE_PATH" env-default:"tictactoe.db"`
}

type Game struct {
	IdleThreshold      time.Duration `yaml:"idle-threshold" env:"GAME_IDLE_THRESHOLD" env-default:"5m"`
	SweepInterval      time.Duration `yaml:"sweep-interval" env:"GAME_SWEEP_INTERVAL" env-default:"1m"`
	ReconnectGrace     time.Duration `yaml:"reconnect-grace" env:"GAME_RECONNECT_GRACE" env-default:"15s"`
	FinishedSoloPolicy string        `yaml:"finished-solo-policy" env:"GAME_FINISHED_SOLO_POLICY" env-default:"reopen"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(err)
	}

	return config
}

// Load reads the config file, applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (that *Config) Validate() error {
	switch that.Storage.Driver {
	case StorageRedis, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", that.Storage.Driver)
	}

	switch that.Game.FinishedSoloPolicy {
	case PolicyReopen, PolicyDelete:
	default:
		return fmt.Errorf("unknown finished-solo-policy %q", that.Game.FinishedSoloPolicy)
	}

	if that.Game.SweepInterval <= 0 {
		return fmt.Errorf("sweep-interval must be positive, got %s", that.Game.SweepInterval)
	}

	if that.Game.ReconnectGrace < 0 {
		return fmt.Errorf("reconnect-grace must not be negative, got %s", that.Game.ReconnectGrace)
	}

	return nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
