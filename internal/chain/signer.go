package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransactionSigner signs deployment transactions.
type TransactionSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// LocalSigner signs with an in-process private key.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewLocalSigner creates a LocalSigner from a hex-encoded private key, with
// or without a "0x" prefix.
func NewLocalSigner(hexKey string, chainID int64) (*LocalSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain ID for transaction signing.
func (s *LocalSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTransaction signs tx for the signer's chain.
func (s *LocalSigner) SignTransaction(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}

var _ TransactionSigner = (*LocalSigner)(nil)
