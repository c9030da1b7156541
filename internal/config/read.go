package config

import (
	"fmt"

	"github.com/spf13/viper"
)

const envPrefix = "TICKETCHAT"

var keys = []string{
	"server_url",
	"api_base",
	"ticket_id",
	"channel",
	"token",
	"token_file",
	"token_env",
	"debug_addr",
}

// ReadConfig loads settings from the config file at configPath, if
// given, and from TICKETCHAT_* environment variables, which take
// precedence. The result is not validated.
func ReadConfig(configPath string) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return cfg, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
