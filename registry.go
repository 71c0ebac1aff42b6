package settlement

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type (
	// ChainConfig is one supported network. Immutable after registry
	// construction.
	ChainConfig struct {
		// ChainId is the string-normalized decimal chain identifier.
		ChainId string `json:"chainId"`
		Name    string `json:"name"`

		// Factory is the deterministic-deployment factory for deposit
		// addresses. A zero factory means the chain cannot accept deposits.
		Factory        common.Address `json:"factory"`
		Implementation common.Address `json:"implementation"`

		RequiredConfirmations uint64 `json:"requiredConfirmations"`
		NativeDecimals        int32  `json:"nativeDecimals"`
		RPCEndpoint           string `json:"rpcEndpoint"`
	}

	// ChainRegistry resolves chain identifiers to their configuration.
	// Populated once at startup; safe for concurrent reads.
	ChainRegistry struct {
		chains               map[string]ChainConfig
		defaultConfirmations uint64
	}
)

// NormalizeChainID canonicalizes a chain identifier to its decimal string
// form. Both "0x89" and "137" normalize to "137"; every identifier entering
// or leaving the engine passes through here so hex/decimal divergence cannot
// reach lookups.
func NormalizeChainID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.Wrap(ErrInvalidChainID, "empty")
	}

	var (
		n   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		n, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return "", errors.Wrapf(ErrInvalidChainID, "%q", raw)
	}
	return strconv.FormatUint(n, 10), nil
}

func NewChainRegistry(defaultConfirmations uint64, chains ...ChainConfig) (*ChainRegistry, error) {
	if defaultConfirmations == 0 {
		defaultConfirmations = DEFAULT_REQUIRED_CONFIRMATIONS
	}

	r := &ChainRegistry{
		chains:               make(map[string]ChainConfig, len(chains)),
		defaultConfirmations: defaultConfirmations,
	}
	for _, cfg := range chains {
		chainId, err := NormalizeChainID(cfg.ChainId)
		if err != nil {
			return nil, err
		}
		cfg.ChainId = chainId
		if cfg.RequiredConfirmations == 0 {
			cfg.RequiredConfirmations = defaultConfirmations
		}
		r.chains[chainId] = cfg
	}
	return r, nil
}

// Resolve returns the configuration for a chain. A chain without a deployed
// factory is unsupported for deposits even if an entry exists.
func (r *ChainRegistry) Resolve(chainId string) (ChainConfig, error) {
	normalized, err := NormalizeChainID(chainId)
	if err != nil {
		return ChainConfig{}, err
	}
	cfg, ok := r.chains[normalized]
	if !ok || cfg.Factory == (common.Address{}) {
		return ChainConfig{}, errors.Wrapf(ErrUnsupportedChain, "chain %s", normalized)
	}
	return cfg, nil
}

// RequiredConfirmations returns the confirmation threshold for a chain,
// falling back to the registry default for unregistered chains. The fallback
// is deliberate: an unknown chain gets the conservative default rather than
// zero.
func (r *ChainRegistry) RequiredConfirmations(chainId string) uint64 {
	normalized, err := NormalizeChainID(chainId)
	if err != nil {
		return r.defaultConfirmations
	}
	if cfg, ok := r.chains[normalized]; ok && cfg.RequiredConfirmations > 0 {
		return cfg.RequiredConfirmations
	}
	return r.defaultConfirmations
}

// Chains lists registered configurations, deposit-capable or not.
func (r *ChainRegistry) Chains() []ChainConfig {
	out := make([]ChainConfig, 0, len(r.chains))
	for _, cfg := range r.chains {
		out = append(out, cfg)
	}
	return out
}
