package settlement

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *ChainRegistry {
	t.Helper()
	registry, err := NewChainRegistry(0,
		ChainConfig{
			ChainId:               "8453",
			Factory:               common.HexToAddress("0x4200000000000000000000000000000000001111"),
			Implementation:        common.HexToAddress("0x4200000000000000000000000000000000002222"),
			RequiredConfirmations: 20,
		},
		ChainConfig{
			ChainId:               "137",
			Factory:               common.HexToAddress("0x5300000000000000000000000000000000001111"),
			Implementation:        common.HexToAddress("0x5300000000000000000000000000000000002222"),
			RequiredConfirmations: 128,
		},
	)
	require.NoError(t, err)
	return registry
}

func TestSaltForPaymentDeterministic(t *testing.T) {
	a := SaltForPayment("order-1001")
	b := SaltForPayment("order-1001")
	c := SaltForPayment("order-1002")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var expected [32]byte
	copy(expected[:], crypto.Keccak256([]byte("order-1001")))
	assert.Equal(t, expected, a)
}

func TestDeriveAddress(t *testing.T) {
	resolver := NewAddressResolver(testRegistry(t))

	addr1, salt1, err := resolver.DeriveAddress("8453", "order-1001")
	require.NoError(t, err)
	addr2, salt2, err := resolver.DeriveAddress("8453", "order-1001")
	require.NoError(t, err)

	// Recomputation is stable across retries.
	assert.Equal(t, addr1, addr2)
	assert.Equal(t, salt1, salt2)
	assert.NotEqual(t, common.Address{}, addr1)

	// Different payments land on different addresses.
	addr3, _, err := resolver.DeriveAddress("8453", "order-1002")
	require.NoError(t, err)
	assert.NotEqual(t, addr1, addr3)

	// Same payment on a different chain (different factory) differs too.
	addr4, salt4, err := resolver.DeriveAddress("137", "order-1001")
	require.NoError(t, err)
	assert.NotEqual(t, addr1, addr4)
	assert.Equal(t, salt1, salt4)
}

func TestDeriveAddressNormalizesChainID(t *testing.T) {
	resolver := NewAddressResolver(testRegistry(t))

	byDec, _, err := resolver.DeriveAddress("137", "order-1001")
	require.NoError(t, err)
	byHex, _, err := resolver.DeriveAddress("0x89", "order-1001")
	require.NoError(t, err)
	assert.Equal(t, byDec, byHex)
}

func TestDeriveAddressUnsupportedChain(t *testing.T) {
	resolver := NewAddressResolver(testRegistry(t))

	_, _, err := resolver.DeriveAddress("10", "order-1001")
	assert.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestDeriveAddressMatchesCreate2Formula(t *testing.T) {
	registry := testRegistry(t)
	resolver := NewAddressResolver(registry)

	cfg, err := registry.Resolve("8453")
	require.NoError(t, err)

	addr, salt, err := resolver.DeriveAddress("8453", "order-1001")
	require.NoError(t, err)

	initCode := common.FromHex("0x3d602d80600a3d3981f3363d3d373d3d3d363d73")
	initCode = append(initCode, cfg.Implementation.Bytes()...)
	initCode = append(initCode, common.FromHex("0x5af43d82803e903d91602b57fd5bf3")...)

	expected := crypto.CreateAddress2(cfg.Factory, salt, crypto.Keccak256(initCode))
	assert.Equal(t, expected, addr)
}
