package application

import (
	"fmt"
	"time"

	"github.com/lk2023060901/pairchat-go/internal/transport"
)

// ServiceConfig is the process-level configuration of a pairchat service,
// loaded from the YAML file resolved by Run.
type ServiceConfig struct {
	Server transport.Config `mapstructure:"server"`

	Auth       AuthConfig       `mapstructure:"auth"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
}

// AuthConfig configures JWT verification for chat access.
type AuthConfig struct {
	Secret string        `mapstructure:"secret"`
	Leeway time.Duration `mapstructure:"leeway"`
}

// RedisConfig configures the match and message stores.
// An empty address falls back to in-memory stores, suitable only for
// single-node deployments.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis backend is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// ModerationConfig configures the content moderation client.
// An empty base URL disables moderation.
type ModerationConfig struct {
	BaseURL   string  `mapstructure:"base-url"`
	Threshold float64 `mapstructure:"threshold"`
}

// Enabled reports whether moderation is configured.
func (c ModerationConfig) Enabled() bool {
	return c.BaseURL != ""
}

// ClusterConfig configures etcd-backed cluster membership.
type ClusterConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Endpoints     []string `mapstructure:"endpoints"`
	MetaRoot      string   `mapstructure:"meta-root"`
	Role          string   `mapstructure:"role"`
	AdvertiseAddr string   `mapstructure:"advertise-addr"`
	UseEmbed      bool     `mapstructure:"use-embed"`
	EmbedDataDir  string   `mapstructure:"embed-data-dir"`
}

// ServiceConfig unmarshals the loaded configuration into a validated
// ServiceConfig with defaults applied. It must be called after Run.
func (a *Application) ServiceConfig() (*ServiceConfig, error) {
	if a.cfg == nil {
		return nil, fmt.Errorf("configuration not loaded, call Run first")
	}

	cfg := &ServiceConfig{}
	if err := a.cfg.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Cluster.Role == "" {
		c.Cluster.Role = "chatnode"
	}
	if c.Cluster.AdvertiseAddr == "" {
		c.Cluster.AdvertiseAddr = c.Server.Addr
	}
}

// Validate checks settings that have no usable default.
func (c *ServiceConfig) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if c.Cluster.Enabled && !c.Cluster.UseEmbed && len(c.Cluster.Endpoints) == 0 {
		return fmt.Errorf("cluster.endpoints is required when cluster is enabled without embedded etcd")
	}
	return nil
}
