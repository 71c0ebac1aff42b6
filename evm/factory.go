package evm

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/paylinx/settlement"
)

// TransactionSender broadcasts a prepared factory call. Signing and gas
// strategy live with the sender, outside this module.
type TransactionSender interface {
	SendTransaction(ctx context.Context, chainId string, to common.Address, calldata []byte) (common.Hash, error)
}

// FactoryCaller implements settlement.FactoryCaller against the on-chain
// deposit factory, and exposes its view surface for operator cross-checks.
type FactoryCaller struct {
	client   *Client
	registry *settlement.ChainRegistry
	sender   TransactionSender
}

func NewFactoryCaller(client *Client, registry *settlement.ChainRegistry, sender TransactionSender) *FactoryCaller {
	return &FactoryCaller{
		client:   client,
		registry: registry,
		sender:   sender,
	}
}

func (f *FactoryCaller) Sweep(ctx context.Context, chainId string, salt [32]byte, token, merchant common.Address) (common.Hash, error) {
	return f.transact(ctx, chainId, "sweep", salt, token, merchant)
}

func (f *FactoryCaller) SweepWithFee(ctx context.Context, chainId string, salt [32]byte, token, merchant common.Address, feeBps uint16) (common.Hash, error) {
	return f.transact(ctx, chainId, "sweepWithFee", salt, token, merchant, feeBps)
}

func (f *FactoryCaller) BatchSweepWithFees(ctx context.Context, chainId string, salts [][32]byte, tokens, merchants []common.Address, feeBps []uint16) (common.Hash, error) {
	return f.transact(ctx, chainId, "batchSweepWithFees", salts, tokens, merchants, feeBps)
}

// DepositAddress asks the factory for the deposit address of a salt. Used to
// cross-check the off-chain CREATE2 derivation.
func (f *FactoryCaller) DepositAddress(ctx context.Context, chainId string, salt [32]byte) (common.Address, error) {
	out, err := f.view(ctx, chainId, "getDepositAddress", salt)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// OnChainSalt asks the factory to derive the salt for a payment identifier.
func (f *FactoryCaller) OnChainSalt(ctx context.Context, chainId string, paymentId string) ([32]byte, error) {
	out, err := f.view(ctx, chainId, "getSalt", paymentId)
	if err != nil {
		return [32]byte{}, err
	}
	return out[0].([32]byte), nil
}

func (f *FactoryCaller) Implementation(ctx context.Context, chainId string) (common.Address, error) {
	out, err := f.view(ctx, chainId, "implementation")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (f *FactoryCaller) PlatformWallet(ctx context.Context, chainId string) (common.Address, error) {
	out, err := f.view(ctx, chainId, "platformWallet")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (f *FactoryCaller) DefaultFeeBps(ctx context.Context, chainId string) (uint16, error) {
	out, err := f.view(ctx, chainId, "defaultFeeBps")
	if err != nil {
		return 0, err
	}
	return out[0].(uint16), nil
}

func (f *FactoryCaller) transact(ctx context.Context, chainId string, method string, args ...interface{}) (common.Hash, error) {
	cfg, err := f.registry.Resolve(chainId)
	if err != nil {
		return common.Hash{}, err
	}
	calldata, err := settlement.FactoryABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "pack %s", method)
	}
	return f.sender.SendTransaction(ctx, cfg.ChainId, cfg.Factory, calldata)
}

func (f *FactoryCaller) view(ctx context.Context, chainId string, method string, args ...interface{}) ([]interface{}, error) {
	cfg, err := f.registry.Resolve(chainId)
	if err != nil {
		return nil, err
	}
	ec, err := f.client.endpoint(cfg.ChainId)
	if err != nil {
		return nil, err
	}

	calldata, err := settlement.FactoryABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	raw, err := ec.CallContract(ctx, ethereum.CallMsg{To: &cfg.Factory, Data: calldata}, nil)
	if err != nil {
		return nil, errors.Wrap(settlement.ErrChainRPC, err.Error())
	}

	out, err := settlement.FactoryABI.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	return out, nil
}
