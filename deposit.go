package settlement

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressResolver computes deterministic deposit addresses off-chain, using
// the same CREATE2 formula the factory applies on-chain. Pure computation;
// safe to call concurrently.
type AddressResolver struct {
	registry *ChainRegistry
}

func NewAddressResolver(registry *ChainRegistry) *AddressResolver {
	return &AddressResolver{registry: registry}
}

// SaltForPayment derives the deposit salt from a payment's external
// identifier. Deterministic and stable: the same identifier always yields
// the same salt, and therefore the same deposit address.
func SaltForPayment(externalId string) [32]byte {
	var salt [32]byte
	copy(salt[:], crypto.Keccak256([]byte(externalId)))
	return salt
}

// DeriveAddress predicts the deposit address for a payment on a chain before
// any on-chain call is made. The factory deploys an EIP-1167 minimal proxy of
// its implementation via CREATE2, so the address depends only on the factory,
// the implementation and the salt.
func (r *AddressResolver) DeriveAddress(chainId, externalId string) (common.Address, [32]byte, error) {
	cfg, err := r.registry.Resolve(chainId)
	if err != nil {
		return common.Address{}, [32]byte{}, err
	}

	salt := SaltForPayment(externalId)
	initCodeHash := crypto.Keccak256(minimalProxyInitCode(cfg.Implementation))
	addr := crypto.CreateAddress2(cfg.Factory, salt, initCodeHash)
	return addr, salt, nil
}

// minimalProxyInitCode builds the EIP-1167 creation bytecode for a proxy
// delegating to impl.
func minimalProxyInitCode(impl common.Address) []byte {
	prefix := common.Hex2Bytes("3d602d80600a3d3981f3363d3d373d3d3d363d73")
	suffix := common.Hex2Bytes("5af43d82803e903d91602b57fd5bf3")

	code := make([]byte, 0, len(prefix)+common.AddressLength+len(suffix))
	code = append(code, prefix...)
	code = append(code, impl.Bytes()...)
	code = append(code, suffix...)
	return code
}
