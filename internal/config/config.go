package config

import (
	"fmt"
	"net/url"

	"github.com/npezzotti/go-ticketchat/internal/auth"
	"github.com/npezzotti/go-ticketchat/internal/types"
)

const (
	DefaultServerURL = "ws://localhost:8000"
	DefaultAPIBase   = "http://localhost:8000/api"
	DefaultTokenEnv  = "TICKETCHAT_TOKEN"
)

type Config struct {
	ServerURL string `mapstructure:"server_url"`
	APIBase   string `mapstructure:"api_base"`
	TicketId  int    `mapstructure:"ticket_id"`
	Channel   string `mapstructure:"channel"`

	// Exactly one credential source is used, in this order: Token,
	// TokenFile, TokenEnv.
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
	TokenEnv  string `mapstructure:"token_env"`

	// DebugAddr enables the /debug/vars server when set.
	DebugAddr string `mapstructure:"debug_addr"`
}

func NewConfig(serverURL, apiBase string, ticketId int, channel string) (*Config, error) {
	cfg := &Config{
		ServerURL: serverURL,
		APIBase:   apiBase,
		TicketId:  ticketId,
		Channel:   channel,
		TokenEnv:  DefaultTokenEnv,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills in defaults and checks the required fields.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.TokenEnv == "" {
		c.TokenEnv = DefaultTokenEnv
	}

	if err := checkURL(c.ServerURL, "ws", "wss", "http", "https"); err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	if err := checkURL(c.APIBase, "http", "https"); err != nil {
		return fmt.Errorf("api base: %w", err)
	}
	if c.TicketId <= 0 {
		return fmt.Errorf("ticket id must be positive, got %d", c.TicketId)
	}
	if _, err := types.ParseChannelType(c.Channel); err != nil {
		return err
	}

	return nil
}

func (c *Config) ChannelType() types.ChannelType {
	return types.ChannelType(c.Channel)
}

// TokenSource returns the configured credential source.
func (c *Config) TokenSource() auth.TokenSource {
	switch {
	case c.Token != "":
		return auth.StaticToken(c.Token)
	case c.TokenFile != "":
		return auth.FileToken(c.TokenFile)
	default:
		return auth.EnvToken(c.TokenEnv)
	}
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}
