package settlement

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

type (
	// ChainReader is the read-only chain RPC surface the verifier depends on.
	// Implementations live in the evm package; tests substitute fakes.
	ChainReader interface {
		// TransactionReceipt returns the receipt for a mined transaction.
		// A transaction not yet mined surfaces as ErrConfirmationPending.
		TransactionReceipt(ctx context.Context, chainId string, txHash common.Hash) (*TxReceipt, error)
		BlockNumber(ctx context.Context, chainId string) (uint64, error)
	}

	// TxReceipt is the slice of an EVM receipt the engine reconciles against.
	TxReceipt struct {
		TxHash      common.Hash
		From        common.Address
		BlockNumber uint64
		Status      uint64
		Logs        []*types.Log
	}

	// SweptEvent is the authoritative settlement evidence emitted by the
	// deposit factory when funds are split between merchant and platform.
	SweptEvent struct {
		Salt           [32]byte
		DepositAddress common.Address
		Token          common.Address
		Amount         *big.Int
		Merchant       common.Address
		PlatformFee    *big.Int
	}
)

const factoryABIJSON = `[
	{"type":"event","name":"Swept","anonymous":false,"inputs":[
		{"name":"salt","type":"bytes32","indexed":true},
		{"name":"depositAddress","type":"address","indexed":false},
		{"name":"token","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"merchant","type":"address","indexed":true},
		{"name":"platformFee","type":"uint256","indexed":false}]},
	{"type":"function","name":"getDepositAddress","stateMutability":"view","inputs":[{"name":"salt","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getSalt","stateMutability":"pure","inputs":[{"name":"paymentId","type":"string"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"implementation","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"platformWallet","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"defaultFeeBps","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint16"}]},
	{"type":"function","name":"sweep","stateMutability":"nonpayable","inputs":[{"name":"salt","type":"bytes32"},{"name":"token","type":"address"},{"name":"merchant","type":"address"}],"outputs":[]},
	{"type":"function","name":"sweepWithFee","stateMutability":"nonpayable","inputs":[{"name":"salt","type":"bytes32"},{"name":"token","type":"address"},{"name":"merchant","type":"address"},{"name":"feeBps","type":"uint16"}],"outputs":[]},
	{"type":"function","name":"batchSweep","stateMutability":"nonpayable","inputs":[{"name":"salts","type":"bytes32[]"},{"name":"tokens","type":"address[]"},{"name":"merchants","type":"address[]"}],"outputs":[]},
	{"type":"function","name":"batchSweepWithFees","stateMutability":"nonpayable","inputs":[{"name":"salts","type":"bytes32[]"},{"name":"tokens","type":"address[]"},{"name":"merchants","type":"address[]"},{"name":"feeBps","type":"uint16[]"}],"outputs":[]}
]`

// FactoryABI is the deposit factory interface shared by the verifier's event
// decoding and the evm package's call packing.
var FactoryABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

var sweptTopic = FactoryABI.Events["Swept"].ID

// ParseSweptEvent scans a receipt's logs for the factory's Swept event with
// the expected salt. Logs from other contracts or other deposits are ignored.
func ParseSweptEvent(logs []*types.Log, factory common.Address, salt [32]byte) (*SweptEvent, error) {
	for _, lg := range logs {
		if lg.Address != factory || len(lg.Topics) != 4 || lg.Topics[0] != sweptTopic {
			continue
		}
		if common.Hash(salt) != lg.Topics[1] {
			continue
		}

		unpacked, err := FactoryABI.Unpack("Swept", lg.Data)
		if err != nil {
			return nil, errors.Wrap(ErrEventNotFound, err.Error())
		}
		depositAddress, ok1 := unpacked[0].(common.Address)
		amount, ok2 := unpacked[1].(*big.Int)
		platformFee, ok3 := unpacked[2].(*big.Int)
		if !ok1 || !ok2 || !ok3 {
			return nil, errors.Wrap(ErrEventNotFound, "malformed Swept event data")
		}

		return &SweptEvent{
			Salt:           salt,
			DepositAddress: depositAddress,
			Token:          common.BytesToAddress(lg.Topics[2].Bytes()),
			Amount:         amount,
			Merchant:       common.BytesToAddress(lg.Topics[3].Bytes()),
			PlatformFee:    platformFee,
		}, nil
	}
	return nil, errors.Wrapf(ErrEventNotFound, "factory %s", factory)
}
