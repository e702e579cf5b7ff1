package core

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config is the server's runtime configuration, loaded from server.yaml
// with environment overrides (STORMGRID_*). Flags beat both.
type Config struct {
	Port       uint   `mapstructure:"port"`
	TickRate   int    `mapstructure:"tick_rate"`
	Name       string `mapstructure:"name"`
	Region     string `mapstructure:"region"`
	MaxPlayers int    `mapstructure:"max_players"`
	Arena      string `mapstructure:"arena"`
	ArenaDir   string `mapstructure:"arena_dir"`
	MasterURL  string `mapstructure:"master_url"`
	Address    string `mapstructure:"address"`
	LogLevel   string `mapstructure:"log_level"`
}

// LoadConfig reads configuration from the given directory. A missing
// config file is fine; defaults and environment cover everything.
func LoadConfig(dir string) (Config, error) {
	v := viper.New()
	v.SetDefault("port", 7373)
	v.SetDefault("tick_rate", 20)
	v.SetDefault("name", "Stormgrid Server")
	v.SetDefault("region", "eu")
	v.SetDefault("max_players", 16)
	v.SetDefault("arena", "arena1")
	v.SetDefault("arena_dir", "assets/arenas")
	v.SetDefault("master_url", "")
	v.SetDefault("address", "")
	v.SetDefault("log_level", "info")

	v.SetConfigName("server")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("STORMGRID")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.TickRate <= 0 {
		return Config{}, fmt.Errorf("tick_rate must be positive, got %d", cfg.TickRate)
	}
	if cfg.MaxPlayers <= 0 {
		return Config{}, fmt.Errorf("max_players must be positive, got %d", cfg.MaxPlayers)
	}
	return cfg, nil
}
