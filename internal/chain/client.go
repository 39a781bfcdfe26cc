// Package chain deploys artifacts to an EVM network over JSON-RPC.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of an Ethereum RPC client the deployer uses.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens clients for RPC endpoints.
type Dialer interface {
	Dial(ctx context.Context, rpcURL string) (Client, error)
}

// EthClientFactory creates clients using go-ethereum's ethclient.
type EthClientFactory struct{}

// NewEthClientFactory creates a new EthClientFactory.
func NewEthClientFactory() *EthClientFactory {
	return &EthClientFactory{}
}

// Dial connects to an Ethereum RPC endpoint.
func (f *EthClientFactory) Dial(ctx context.Context, rpcURL string) (Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

var (
	_ Client = (*ethclient.Client)(nil)
	_ Dialer = (*EthClientFactory)(nil)
)
