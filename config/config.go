package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/paylinx/settlement"
)

// Config is the environment-sourced configuration of the settlement engine.
// Chain entries are read from SETTLEMENT_CHAIN_<id>_* variables for every id
// listed in SETTLEMENT_CHAINS; a chain listed without a factory address is
// registered but cannot accept deposits.
type Config struct {
	DefaultConfirmations uint64 `mapstructure:"DEFAULT_CONFIRMATIONS" envDefault:"20" envInfo:"Confirmation threshold for chains without an explicit value"`
	PlatformFeeBps       int64  `mapstructure:"PLATFORM_FEE_BPS" envDefault:"300" envInfo:"Default platform fee in basis points"`
	AmountToleranceUnits int64  `mapstructure:"AMOUNT_TOLERANCE_UNITS" envDefault:"0" envInfo:"Reconciliation tolerance in token base units"`
	SuccessCacheTTLSec   uint32 `mapstructure:"SUCCESS_CACHE_TTL_SEC" envDefault:"600" envInfo:"Verification cache TTL for successful outcomes, in seconds"`
	FailureCacheTTLSec   uint32 `mapstructure:"FAILURE_CACHE_TTL_SEC" envDefault:"120" envInfo:"Verification cache TTL for failed outcomes, in seconds"`
	Chains               string `mapstructure:"CHAINS" envDefault:"" envInfo:"Comma-separated decimal chain ids (e.g. 8453,137)"`

	chains []settlement.ChainConfig
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("SETTLEMENT")
	v.AutomaticEnv()

	if err := setDefaultConfig(v); err != nil {
		return nil, fmt.Errorf("error setting default config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}

	if err := config.loadChains(v); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) loadChains(v *viper.Viper) error {
	for _, raw := range strings.Split(c.Chains, ",") {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}

		cfg := settlement.ChainConfig{
			ChainId:               id,
			Name:                  v.GetString(chainKey(id, "NAME")),
			RequiredConfirmations: v.GetUint64(chainKey(id, "CONFIRMATIONS")),
			RPCEndpoint:           v.GetString(chainKey(id, "RPC_URL")),
			NativeDecimals:        18,
		}
		if d := v.GetInt32(chainKey(id, "NATIVE_DECIMALS")); d > 0 {
			cfg.NativeDecimals = d
		}

		factory := v.GetString(chainKey(id, "FACTORY"))
		if factory != "" {
			if !common.IsHexAddress(factory) {
				return fmt.Errorf("invalid factory address for chain %s: %s", id, factory)
			}
			cfg.Factory = common.HexToAddress(factory)
		}
		impl := v.GetString(chainKey(id, "IMPLEMENTATION"))
		if impl != "" {
			if !common.IsHexAddress(impl) {
				return fmt.Errorf("invalid implementation address for chain %s: %s", id, impl)
			}
			cfg.Implementation = common.HexToAddress(impl)
		}

		c.chains = append(c.chains, cfg)
	}
	return nil
}

// Registry builds the chain registry from the loaded chain entries.
func (c *Config) Registry() (*settlement.ChainRegistry, error) {
	return settlement.NewChainRegistry(c.DefaultConfirmations, c.chains...)
}

func (c *Config) ChainConfigs() []settlement.ChainConfig {
	return c.chains
}

func (c *Config) SuccessCacheTTL() time.Duration {
	return time.Duration(c.SuccessCacheTTLSec) * time.Second
}

func (c *Config) FailureCacheTTL() time.Duration {
	return time.Duration(c.FailureCacheTTLSec) * time.Second
}

func chainKey(id, field string) string {
	return "CHAIN_" + id + "_" + field
}

func setDefaultConfig(v *viper.Viper) error {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		def := f.Tag.Get("envDefault")
		if def != "" {
			v.SetDefault(key, def)
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("error binding env variable for key %s: %w", key, err)
		}
	}
	return nil
}
