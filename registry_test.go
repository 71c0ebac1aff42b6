package settlement

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeChainID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "decimal", raw: "137", want: "137"},
		{name: "hex", raw: "0x89", want: "137"},
		{name: "hex uppercase prefix", raw: "0X89", want: "137"},
		{name: "base mainnet hex", raw: "0x2105", want: "8453"},
		{name: "whitespace", raw: " 8453 ", want: "8453"},
		{name: "empty", raw: "", wantErr: true},
		{name: "garbage", raw: "mainnet", wantErr: true},
		{name: "bare hex digits rejected as decimal", raw: "89af", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeChainID(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChainID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChainRegistryResolveNormalizes(t *testing.T) {
	factory := common.HexToAddress("0x00000000000000000000000000000000000f4c70")
	registry, err := NewChainRegistry(0, ChainConfig{
		ChainId:               "0x89",
		Name:                  "polygon",
		Factory:               factory,
		RequiredConfirmations: 128,
	})
	require.NoError(t, err)

	// "0x89" and "137" must resolve to the identical entry.
	byHex, err := registry.Resolve("0x89")
	require.NoError(t, err)
	byDec, err := registry.Resolve("137")
	require.NoError(t, err)

	assert.Equal(t, byHex, byDec)
	assert.Equal(t, "137", byDec.ChainId)
	assert.Equal(t, factory, byDec.Factory)
	assert.Equal(t, uint64(128), byDec.RequiredConfirmations)
}

func TestChainRegistryUnsupported(t *testing.T) {
	registry, err := NewChainRegistry(0,
		ChainConfig{ChainId: "8453", Factory: common.HexToAddress("0x01")},
		// Registered but without a deployed factory: unsupported for deposits.
		ChainConfig{ChainId: "1", RequiredConfirmations: 64},
	)
	require.NoError(t, err)

	_, err = registry.Resolve("10")
	assert.ErrorIs(t, err, ErrUnsupportedChain)

	_, err = registry.Resolve("1")
	assert.ErrorIs(t, err, ErrUnsupportedChain)

	_, err = registry.Resolve("not-a-chain")
	assert.ErrorIs(t, err, ErrInvalidChainID)
}

func TestChainRegistryRequiredConfirmations(t *testing.T) {
	registry, err := NewChainRegistry(0,
		ChainConfig{ChainId: "8453", Factory: common.HexToAddress("0x01"), RequiredConfirmations: 20},
		ChainConfig{ChainId: "1", Factory: common.HexToAddress("0x02"), RequiredConfirmations: 12},
	)
	require.NoError(t, err)

	assert.Equal(t, uint64(20), registry.RequiredConfirmations("8453"))
	assert.Equal(t, uint64(12), registry.RequiredConfirmations("0x1"))
	// Unregistered chains fall back to the conservative default.
	assert.Equal(t, uint64(DEFAULT_REQUIRED_CONFIRMATIONS), registry.RequiredConfirmations("42161"))
}

func TestChainRegistryZeroConfirmationsGetsDefault(t *testing.T) {
	registry, err := NewChainRegistry(30, ChainConfig{ChainId: "8453", Factory: common.HexToAddress("0x01")})
	require.NoError(t, err)

	cfg, err := registry.Resolve("8453")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), cfg.RequiredConfirmations)
}
