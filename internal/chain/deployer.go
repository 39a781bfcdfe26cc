package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/JonahGroendal/asn1-decode/internal/artifacts"
	"github.com/JonahGroendal/asn1-decode/internal/deploy"
)

var (
	ErrChainIDMismatch     = errors.New("chain: chain ID mismatch")
	ErrTransactionReverted = errors.New("chain: transaction reverted")
	ErrNoCode              = errors.New("chain: no code at address")
	ErrConstructorArgs     = errors.New("chain: constructor requires arguments")
)

// Default network settings.
const (
	DefaultGasLimitBufferPercent = 20
	DefaultConfirmTimeout        = 5 * time.Minute
)

// NetworkConfig describes the network an environment deploys to.
type NetworkConfig struct {
	// Name is the environment name, used in logs.
	Name    string
	RPCURL  string
	ChainID int64

	// GasPriceBoostPercent is added on top of the suggested gas price.
	GasPriceBoostPercent int
	// MinGasPrice is the lowest gas price sent, in wei. Nil means no floor.
	MinGasPrice *big.Int
	// GasLimitBufferPercent is added on top of the gas estimate.
	GasLimitBufferPercent int
	// ConfirmTimeout bounds the wait for a receipt.
	ConfirmTimeout time.Duration
}

// Deployer deploys and links artifacts on a single network.
type Deployer struct {
	client  Client
	signer  TransactionSigner
	network NetworkConfig
	logger  *slog.Logger
}

// NewDeployer creates a deployer for network. It fails with
// ErrChainIDMismatch when the endpoint or the signer is on another chain.
func NewDeployer(ctx context.Context, client Client, signer TransactionSigner, network NetworkConfig, logger *slog.Logger) (*Deployer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	if chainID.Int64() != network.ChainID {
		return nil, fmt.Errorf("%w: %s endpoint reports %s, configured %d", ErrChainIDMismatch, network.Name, chainID, network.ChainID)
	}
	if signer.ChainID().Int64() != network.ChainID {
		return nil, fmt.Errorf("%w: signer is for chain %s, configured %d", ErrChainIDMismatch, signer.ChainID(), network.ChainID)
	}

	if network.GasLimitBufferPercent <= 0 {
		network.GasLimitBufferPercent = DefaultGasLimitBufferPercent
	}
	if network.ConfirmTimeout <= 0 {
		network.ConfirmTimeout = DefaultConfirmTimeout
	}

	return &Deployer{
		client:  client,
		signer:  signer,
		network: network,
		logger:  logger.With(slog.String("network", network.Name)),
	}, nil
}

// Deploy sends a contract-creation transaction for unit and waits for it to
// be mined.
func (d *Deployer) Deploy(ctx context.Context, unit *artifacts.Artifact) (deploy.Deployed, error) {
	parsed, err := unit.ParsedABI()
	if err != nil {
		return deploy.Deployed{}, err
	}
	if n := len(parsed.Constructor.Inputs); n > 0 {
		return deploy.Deployed{}, fmt.Errorf("%w: %s takes %d", ErrConstructorArgs, unit.Name(), n)
	}

	code, err := unit.CreationCode()
	if err != nil {
		return deploy.Deployed{}, err
	}

	from := d.signer.Address()
	nonce, err := d.client.PendingNonceAt(ctx, from)
	if err != nil {
		return deploy.Deployed{}, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := d.gasPrice(ctx)
	if err != nil {
		return deploy.Deployed{}, err
	}

	gasLimit, err := d.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       nil,
		GasPrice: gasPrice,
		Value:    big.NewInt(0),
		Data:     code,
	})
	if err != nil {
		return deploy.Deployed{}, fmt.Errorf("estimate gas: %w", err)
	}
	gasLimit = gasLimit * uint64(100+d.network.GasLimitBufferPercent) / 100

	tx := types.NewContractCreation(nonce, big.NewInt(0), gasLimit, gasPrice, code)

	signedTx, err := d.signer.SignTransaction(ctx, tx)
	if err != nil {
		return deploy.Deployed{}, fmt.Errorf("sign transaction: %w", err)
	}

	d.logger.Info("sending deployment transaction",
		slog.String("unit", unit.Name()),
		slog.String("from", from.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
		slog.String("gas_price", gasPrice.String()),
		slog.String("tx_hash", signedTx.Hash().Hex()),
	)

	if err := d.client.SendTransaction(ctx, signedTx); err != nil {
		return deploy.Deployed{}, fmt.Errorf("send transaction: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.network.ConfirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, d.client, signedTx)
	if err != nil {
		return deploy.Deployed{}, fmt.Errorf("wait for receipt of %s: %w", signedTx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return deploy.Deployed{}, fmt.Errorf("%w: %s deployment %s", ErrTransactionReverted, unit.Name(), signedTx.Hash().Hex())
	}

	addr := receipt.ContractAddress
	if addr == (common.Address{}) {
		addr = crypto.CreateAddress(from, nonce)
	}
	if err := d.requireCode(ctx, addr); err != nil {
		return deploy.Deployed{}, err
	}

	d.logger.Info("contract deployed",
		slog.String("unit", unit.Name()),
		slog.String("address", addr.Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
		slog.String("block", receipt.BlockNumber.String()),
	)

	return deploy.Deployed{
		Name:    unit.Name(),
		Address: addr,
		TxHash:  signedTx.Hash(),
	}, nil
}

// Link binds library into dependent's bytecode. It sends no transaction,
// but the library must already hold code on this network.
func (d *Deployer) Link(ctx context.Context, dependent *artifacts.Artifact, library deploy.Deployed) error {
	if library.Address == (common.Address{}) {
		return fmt.Errorf("library %s has not been deployed", library.Name)
	}
	if err := d.requireCode(ctx, library.Address); err != nil {
		return err
	}
	if err := dependent.Link(library.Name, library.Address); err != nil {
		return err
	}

	d.logger.Info("library linked",
		slog.String("library", library.Name),
		slog.String("dependent", dependent.Name()),
		slog.String("address", library.Address.Hex()),
	)
	return nil
}

// gasPrice returns the suggested gas price with the configured boost and floor.
func (d *Deployer) gasPrice(ctx context.Context) (*big.Int, error) {
	suggested, err := d.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}

	price := new(big.Int).Set(suggested)
	if d.network.GasPriceBoostPercent > 0 {
		price.Mul(price, big.NewInt(int64(100+d.network.GasPriceBoostPercent)))
		price.Div(price, big.NewInt(100))
	}
	if d.network.MinGasPrice != nil && price.Cmp(d.network.MinGasPrice) < 0 {
		price.Set(d.network.MinGasPrice)
	}
	return price, nil
}

func (d *Deployer) requireCode(ctx context.Context, addr common.Address) error {
	code, err := d.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("get code at %s: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCode, addr.Hex())
	}
	return nil
}

var _ deploy.Deployer = (*Deployer)(nil)
