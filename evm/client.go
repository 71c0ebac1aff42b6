package evm

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/paylinx/settlement"
)

// Client implements settlement.ChainReader over one JSON-RPC connection per
// registered chain.
type Client struct {
	log     settlement.Log
	clients map[string]*ethclient.Client
}

// Dial connects to every registered chain that carries an RPC endpoint.
func Dial(ctx context.Context, registry *settlement.ChainRegistry, log settlement.Log) (*Client, error) {
	c := &Client{
		log:     log,
		clients: make(map[string]*ethclient.Client),
	}
	for _, cfg := range registry.Chains() {
		if cfg.RPCEndpoint == "" {
			continue
		}
		ec, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
		if err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "dial chain %s", cfg.ChainId)
		}
		c.clients[cfg.ChainId] = ec
	}
	return c, nil
}

func (c *Client) Close() {
	for _, ec := range c.clients {
		ec.Close()
	}
}

func (c *Client) TransactionReceipt(ctx context.Context, chainId string, txHash common.Hash) (*settlement.TxReceipt, error) {
	ec, err := c.endpoint(chainId)
	if err != nil {
		return nil, err
	}

	receipt, err := ec.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrapf(settlement.ErrConfirmationPending, "tx %s not yet mined", txHash.Hex())
		}
		return nil, errors.Wrap(settlement.ErrChainRPC, err.Error())
	}

	tx, _, err := ec.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, errors.Wrap(settlement.ErrChainRPC, err.Error())
	}
	from, err := ec.TransactionSender(ctx, tx, receipt.BlockHash, receipt.TransactionIndex)
	if err != nil {
		return nil, errors.Wrap(settlement.ErrChainRPC, err.Error())
	}

	return &settlement.TxReceipt{
		TxHash:      txHash,
		From:        from,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Status:      receipt.Status,
		Logs:        receipt.Logs,
	}, nil
}

func (c *Client) BlockNumber(ctx context.Context, chainId string) (uint64, error) {
	ec, err := c.endpoint(chainId)
	if err != nil {
		return 0, err
	}
	head, err := ec.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(settlement.ErrChainRPC, err.Error())
	}
	return head, nil
}

func (c *Client) endpoint(chainId string) (*ethclient.Client, error) {
	normalized, err := settlement.NormalizeChainID(chainId)
	if err != nil {
		return nil, err
	}
	ec, ok := c.clients[normalized]
	if !ok {
		return nil, errors.Wrapf(settlement.ErrChainRPC, "no rpc endpoint for chain %s", normalized)
	}
	return ec, nil
}
