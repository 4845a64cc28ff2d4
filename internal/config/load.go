package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("openai.provider", "openai")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.endpoint", "https://api.openai.com/v1")
	v.SetDefault("openai.api_version", "2024-06-01")
	v.SetDefault("openai.timeout", "0s")

	v.SetDefault("default_action", "analyze")
	v.SetDefault("actions.analyze.model", "gpt-4o")
	v.SetDefault("actions.analyze.max_tokens", 1500)
	v.SetDefault("actions.analyze.temperature", 0.3)
	v.SetDefault("actions.validate.model", "gpt-4o-mini")
	v.SetDefault("actions.validate.max_tokens", 150)
	v.SetDefault("actions.validate.temperature", 0.1)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "billboard-proxy")
	v.SetDefault("auth.ttl", "24h")

	v.SetDefault("stats.window", 1000)
}

// Load reads defaults, the optional config file at path and the environment.
// Environment keys are the config keys upper-cased with dots replaced by
// underscores, so openai.api_key is read from OPENAI_API_KEY.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("configuration loaded successfully", "file", v.ConfigFileUsed())
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the config file whenever it changes and passes the new
// configuration to onChange. Invalid edits are logged and ignored. It is a
// no-op when no config file was loaded.
func Watch(v *viper.Viper, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("configuration file changed", "file", e.Name, "op", e.Op.String())

		cfg, err := decode(v)
		if err != nil {
			slog.Error("Ignoring configuration change", "error", err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}
