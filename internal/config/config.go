// Package config defines process configuration for the connectivity core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via DESKBOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Simulation bool            `mapstructure:"simulation"`
	Exchange   ExchangeConfig  `mapstructure:"exchange"`
	Risk       RiskConfig      `mapstructure:"risk"`
	Agent      AgentConfig     `mapstructure:"agent"`
	Store      StoreConfig     `mapstructure:"store"`
	Logging    LoggingConfig   `mapstructure:"logging"`
	Dashboard  DashboardConfig `mapstructure:"dashboard"`
}

// DashboardConfig configures the observability HTTP/WebSocket surface
// (health, metrics, state snapshot, periodic snapshot stream). Empty Port
// disables the server entirely (§9 "ambient surfaces are opt-in").
type DashboardConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ExchangeConfig holds exchange REST/WebSocket endpoints and credentials.
// If APIKey/APISecret are empty, the private session stays gated off and
// the core runs public-only (§4.2 "Startup gating").
type ExchangeConfig struct {
	RESTBaseURL   string `mapstructure:"rest_base_url"`
	WSPublicURL   string `mapstructure:"ws_public_url"`
	WSPrivateURL  string `mapstructure:"ws_private_url"`
	APIKey        string `mapstructure:"api_key"`
	APISecret     string `mapstructure:"api_secret"`
	Symbols       []string `mapstructure:"symbols"`
}

// RiskConfig holds the hard, read-only risk limits (§6 "Persisted state").
// These are advisory to the agent but never edited at runtime by the core
// itself — only the advisory AgentRiskParams file in internal/store is.
type RiskConfig struct {
	MaxOrderNotional   float64 `mapstructure:"max_order_notional"`
	MaxOpenOrders      int     `mapstructure:"max_open_orders"`
	MaxSymbols         int     `mapstructure:"max_symbols"`
}

// AgentConfig configures the supervised agent subprocess and the cost
// rates used to interpret its token-usage telemetry.
type AgentConfig struct {
	Command         string   `mapstructure:"command"`
	Args            []string `mapstructure:"args"`
	InputCostPerMTok  float64 `mapstructure:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `mapstructure:"output_cost_per_mtok"`
}

// StoreConfig sets where persisted state (risk limits, agent risk params)
// lives on disk.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HeartbeatTimeout is the heartbeat-absence deadline value (§4.2). The read
// loop in internal/conn uses its own constant of the same value; nothing
// reads this one.
const HeartbeatTimeout = 30 * time.Second

// ReadTimeout is the network read timeout value (§5). No read deadline is
// set from it; the read loop relies on its heartbeat timer instead.
const ReadTimeout = 30 * time.Second

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: DESKBOT_API_KEY, DESKBOT_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DESKBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("DESKBOT_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("DESKBOT_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if os.Getenv("DESKBOT_SIMULATION") == "true" || os.Getenv("DESKBOT_SIMULATION") == "1" {
		cfg.Simulation = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.RESTBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	if c.Exchange.WSPublicURL == "" {
		return fmt.Errorf("exchange.ws_public_url is required")
	}
	if c.Exchange.WSPrivateURL == "" {
		return fmt.Errorf("exchange.ws_private_url is required")
	}
	if c.Risk.MaxOpenOrders <= 0 {
		return fmt.Errorf("risk.max_open_orders must be > 0")
	}
	if c.Risk.MaxSymbols <= 0 {
		return fmt.Errorf("risk.max_symbols must be > 0")
	}
	return nil
}

// HasCredentials reports whether enough is present to gate the private
// session on (§4.2, §9 "Startup gating").
func (c *Config) HasCredentials() bool {
	return c.Exchange.APIKey != "" && c.Exchange.APISecret != ""
}
