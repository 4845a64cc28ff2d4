package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	OpenAI OpenAIConfig `mapstructure:"openai" yaml:"openai"`

	// DefaultAction names the policy used when a request carries an unknown action
	DefaultAction string                  `mapstructure:"default_action" yaml:"default_action"`
	Actions       map[string]ActionPolicy `mapstructure:"actions" yaml:"actions"`

	CORS  CORSConfig  `mapstructure:"cors" yaml:"cors"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
	Auth  AuthConfig  `mapstructure:"auth" yaml:"auth"`
	Stats StatsConfig `mapstructure:"stats" yaml:"stats"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" yaml:"port"`
	Host            string        `mapstructure:"host" yaml:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type OpenAIConfig struct {
	Provider    string `mapstructure:"provider" yaml:"provider"`
	APIKey      string `mapstructure:"api_key" yaml:"api_key"`
	APIEndpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	APIVersion  string `mapstructure:"api_version" yaml:"api_version"`

	// Timeout bounds a single upstream call; zero leaves it to the inbound request
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ActionPolicy holds the upstream defaults applied for one request action.
type ActionPolicy struct {
	Model       string  `mapstructure:"model" yaml:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type AuthConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Secret  string        `mapstructure:"secret" yaml:"secret"`
	Issuer  string        `mapstructure:"issuer" yaml:"issuer"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Users   []User        `mapstructure:"users" yaml:"users"`
}

type User struct {
	Email        string `mapstructure:"email" yaml:"email"`
	Name         string `mapstructure:"name" yaml:"name"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
}

type StatsConfig struct {
	// Window is the number of recent upstream latencies kept for percentiles
	Window int `mapstructure:"window" yaml:"window"`
}

const minSecretLen = 32

// ResolveAction maps a request action onto a configured policy name.
// Lookup is exact: "Validate" is not "validate" and falls back to DefaultAction.
func (c *Config) ResolveAction(action string) string {
	if _, ok := c.Actions[action]; ok {
		return action
	}
	return c.DefaultAction
}

func (c *Config) Policy(action string) ActionPolicy {
	return c.Actions[c.ResolveAction(action)]
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	switch c.OpenAI.Provider {
	case "openai", "azure":
	default:
		errs = append(errs, fmt.Errorf("openai.provider %q is not supported", c.OpenAI.Provider))
	}
	if c.OpenAI.APIEndpoint == "" {
		errs = append(errs, errors.New("openai.endpoint is required"))
	}
	if c.OpenAI.Timeout < 0 {
		errs = append(errs, errors.New("openai.timeout must not be negative"))
	}

	if _, ok := c.Actions[c.DefaultAction]; !ok {
		errs = append(errs, fmt.Errorf("default_action %q has no entry in actions", c.DefaultAction))
	}
	for name, p := range c.Actions {
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("actions.%s.model is required", name))
		}
		if p.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("actions.%s.max_tokens must be positive", name))
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			errs = append(errs, fmt.Errorf("actions.%s.temperature must be within [0, 2]", name))
		}
	}

	if c.Stats.Window <= 0 {
		errs = append(errs, errors.New("stats.window must be positive"))
	}

	if c.Auth.Enabled {
		if len(c.Auth.Secret) < minSecretLen {
			errs = append(errs, fmt.Errorf("auth.secret must be at least %d bytes", minSecretLen))
		}
		if c.Auth.TTL <= 0 {
			errs = append(errs, errors.New("auth.ttl must be positive"))
		}
		for i, u := range c.Auth.Users {
			if u.Email == "" || u.PasswordHash == "" {
				errs = append(errs, fmt.Errorf("auth.users[%d] needs email and password_hash", i))
			}
		}
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.OpenAI.APIKey = mask(c.OpenAI.APIKey)
	out.Auth.Secret = mask(c.Auth.Secret)

	out.Actions = make(map[string]ActionPolicy, len(c.Actions))
	for k, v := range c.Actions {
		out.Actions[k] = v
	}

	out.Auth.Users = make([]User, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		u.PasswordHash = mask(u.PasswordHash)
		out.Auth.Users[i] = u
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
