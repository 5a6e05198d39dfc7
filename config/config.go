package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"stablevault/native/stable"
)

// Config captures the runtime settings for the stablevault daemon.
type Config struct {
	ListenAddress           string        `toml:"ListenAddress"`
	DataDir                 string        `toml:"DataDir"`
	Environment             string        `toml:"Environment"`
	ModuleAddress           string        `toml:"ModuleAddress"`
	LiquidationThresholdPct uint64        `toml:"LiquidationThresholdPct"`
	LiquidationBonusPct     uint64        `toml:"LiquidationBonusPct"`
	MaxPriceAgeSeconds      uint64        `toml:"MaxPriceAgeSeconds"`
	Assets                  []AssetConfig `toml:"asset"`
}

// AssetConfig describes one registered collateral asset and its price feed.
// Exactly one of FeedURL and Price must be set: FeedURL points at an HTTP
// feed, Price pins a manual quote for development deployments.
type AssetConfig struct {
	Symbol        string `toml:"Symbol"`
	FeedURL       string `toml:"FeedURL"`
	FeedAPIKeyEnv string `toml:"FeedAPIKeyEnv"`
	Price         string `toml:"Price"`
}

const (
	defaultListenAddress = "0.0.0.0:8561"
	defaultDataDir       = "./svd-data"
	defaultModuleAddress = "0x0000000000000000000000000000000000000501"
)

// Load reads the configuration from path, creating a commented default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.ModuleAddress) == "" {
		c.ModuleAddress = defaultModuleAddress
	}
	defaults := stable.DefaultRiskParameters()
	if c.LiquidationThresholdPct == 0 {
		c.LiquidationThresholdPct = defaults.LiquidationThresholdPct
	}
	if c.LiquidationBonusPct == 0 {
		c.LiquidationBonusPct = defaults.LiquidationBonusPct
	}
	if c.MaxPriceAgeSeconds == 0 {
		c.MaxPriceAgeSeconds = uint64(defaults.MaxPriceAge / time.Second)
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("config: at least one asset is required")
	}
	if !common.IsHexAddress(c.ModuleAddress) {
		return fmt.Errorf("config: invalid module address %q", c.ModuleAddress)
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		symbol := strings.TrimSpace(asset.Symbol)
		if symbol == "" {
			return fmt.Errorf("config: asset %d is missing a symbol", i)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate asset symbol %q", symbol)
		}
		seen[symbol] = struct{}{}
		hasFeed := strings.TrimSpace(asset.FeedURL) != ""
		hasPrice := strings.TrimSpace(asset.Price) != ""
		if hasFeed == hasPrice {
			return fmt.Errorf("config: asset %q must set exactly one of FeedURL and Price", symbol)
		}
	}
	if err := c.RiskParameters().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RiskParameters renders the configured risk limits as engine parameters.
func (c *Config) RiskParameters() stable.RiskParameters {
	return stable.RiskParameters{
		LiquidationThresholdPct: c.LiquidationThresholdPct,
		LiquidationBonusPct:     c.LiquidationBonusPct,
		MaxPriceAge:             time.Duration(c.MaxPriceAgeSeconds) * time.Second,
	}
}

func createDefault(path string) (*Config, error) {
	defaults := stable.DefaultRiskParameters()
	cfg := &Config{
		ListenAddress:           defaultListenAddress,
		DataDir:                 defaultDataDir,
		Environment:             "dev",
		ModuleAddress:           defaultModuleAddress,
		LiquidationThresholdPct: defaults.LiquidationThresholdPct,
		LiquidationBonusPct:     defaults.LiquidationBonusPct,
		MaxPriceAgeSeconds:      uint64(defaults.MaxPriceAge / time.Second),
		Assets: []AssetConfig{
			{Symbol: "WETH", Price: "2000"},
		},
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
