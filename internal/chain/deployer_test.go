package chain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JonahGroendal/asn1-decode/internal/artifacts"
	"github.com/JonahGroendal/asn1-decode/internal/deploy"
)

// Anvil's first development account.
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcaa7c5f4cdb8f2ff80"
	testChainID = 31337
)

var (
	testAddr    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	libraryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

// MockClient is a mock implementation of Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

func (m *MockClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, account, blockNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockClient) Close() {
	m.Called()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNetwork() NetworkConfig {
	return NetworkConfig{
		Name:                  "development",
		ChainID:               testChainID,
		GasPriceBoostPercent:  10,
		GasLimitBufferPercent: 20,
		ConfirmTimeout:        5 * time.Second,
	}
}

func newTestDeployer(t *testing.T, client *MockClient, network NetworkConfig) *Deployer {
	t.Helper()
	signer, err := NewLocalSigner(testKey, network.ChainID)
	require.NoError(t, err)

	client.On("ChainID", mock.Anything).Return(big.NewInt(network.ChainID), nil).Once()
	d, err := NewDeployer(context.Background(), client, signer, network, testLogger())
	require.NoError(t, err)
	return d
}

func nodePtrArtifact() *artifacts.Artifact {
	return &artifacts.Artifact{
		ContractName: "NodePtr",
		ABI:          json.RawMessage(`[]`),
		Bytecode:     artifacts.NewBytecode("0x6080604052"),
	}
}

func asn1DecodeArtifact() *artifacts.Artifact {
	return &artifacts.Artifact{
		ContractName: "Asn1Decode",
		ABI:          json.RawMessage(`[]`),
		Bytecode:     artifacts.NewBytecode("0x6080__NodePtr" + strings.Repeat("_", 31) + "00"),
	}
}

func TestNewLocalSigner(t *testing.T) {
	s, err := NewLocalSigner("0x"+testKey, testChainID)
	require.NoError(t, err)
	assert.Equal(t, testAddr, s.Address())
	assert.Equal(t, int64(testChainID), s.ChainID().Int64())

	_, err = NewLocalSigner("not-a-key", testChainID)
	assert.Error(t, err)
}

func TestLocalSigner_SignTransaction(t *testing.T) {
	s, err := NewLocalSigner(testKey, testChainID)
	require.NoError(t, err)

	tx := types.NewContractCreation(0, big.NewInt(0), 100000, big.NewInt(1), []byte{0x60})
	signed, err := s.SignTransaction(context.Background(), tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(testChainID)), signed)
	require.NoError(t, err)
	assert.Equal(t, testAddr, sender)
}

func TestNewDeployer_ChainIDMismatch(t *testing.T) {
	signer, err := NewLocalSigner(testKey, testChainID)
	require.NoError(t, err)

	t.Run("endpoint", func(t *testing.T) {
		client := new(MockClient)
		client.On("ChainID", mock.Anything).Return(big.NewInt(1), nil)

		_, err := NewDeployer(context.Background(), client, signer, testNetwork(), testLogger())
		assert.ErrorIs(t, err, ErrChainIDMismatch)
	})

	t.Run("signer", func(t *testing.T) {
		network := testNetwork()
		network.ChainID = 1
		client := new(MockClient)
		client.On("ChainID", mock.Anything).Return(big.NewInt(1), nil)

		_, err := NewDeployer(context.Background(), client, signer, network, testLogger())
		assert.ErrorIs(t, err, ErrChainIDMismatch)
	})

	t.Run("rpc error", func(t *testing.T) {
		client := new(MockClient)
		client.On("ChainID", mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := NewDeployer(context.Background(), client, signer, testNetwork(), testLogger())
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestDeployer_Deploy(t *testing.T) {
	contractAddr := crypto.CreateAddress(testAddr, 7)

	t.Run("success", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())

		var sent *types.Transaction
		client.On("PendingNonceAt", mock.Anything, testAddr).Return(uint64(7), nil)
		client.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1000), nil)
		client.On("EstimateGas", mock.Anything, mock.MatchedBy(func(call ethereum.CallMsg) bool {
			return call.To == nil && call.From == testAddr
		})).Return(uint64(100000), nil)
		client.On("SendTransaction", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).(*types.Transaction) }).
			Return(nil)
		client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(&types.Receipt{
			Status:          types.ReceiptStatusSuccessful,
			ContractAddress: contractAddr,
			BlockNumber:     big.NewInt(12),
		}, nil)
		client.On("CodeAt", mock.Anything, contractAddr, (*big.Int)(nil)).Return([]byte{0x60, 0x80}, nil)

		got, err := d.Deploy(context.Background(), nodePtrArtifact())
		require.NoError(t, err)

		assert.Equal(t, "NodePtr", got.Name)
		assert.Equal(t, contractAddr, got.Address)
		require.NotNil(t, sent)
		assert.Equal(t, sent.Hash(), got.TxHash)
		assert.Nil(t, sent.To())
		assert.Equal(t, uint64(7), sent.Nonce())
		assert.Equal(t, uint64(120000), sent.Gas())
		assert.Equal(t, int64(1100), sent.GasPrice().Int64())
		assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, sent.Data())
	})

	t.Run("gas price floor", func(t *testing.T) {
		network := testNetwork()
		network.MinGasPrice = big.NewInt(5000)
		client := new(MockClient)
		d := newTestDeployer(t, client, network)
		client.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1000), nil)

		price, err := d.gasPrice(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(5000), price.Int64())
	})

	t.Run("reverted", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())

		client.On("PendingNonceAt", mock.Anything, testAddr).Return(uint64(7), nil)
		client.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1000), nil)
		client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100000), nil)
		client.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)
		client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(&types.Receipt{
			Status:      types.ReceiptStatusFailed,
			BlockNumber: big.NewInt(12),
		}, nil)

		_, err := d.Deploy(context.Background(), nodePtrArtifact())
		assert.ErrorIs(t, err, ErrTransactionReverted)
		client.AssertNotCalled(t, "CodeAt", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no code after deployment", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())

		client.On("PendingNonceAt", mock.Anything, testAddr).Return(uint64(7), nil)
		client.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1000), nil)
		client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100000), nil)
		client.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)
		client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(&types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(12),
		}, nil)
		client.On("CodeAt", mock.Anything, contractAddr, (*big.Int)(nil)).Return([]byte{}, nil)

		_, err := d.Deploy(context.Background(), nodePtrArtifact())
		assert.ErrorIs(t, err, ErrNoCode)
	})

	t.Run("send failure", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())

		client.On("PendingNonceAt", mock.Anything, testAddr).Return(uint64(7), nil)
		client.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1000), nil)
		client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100000), nil)
		client.On("SendTransaction", mock.Anything, mock.Anything).Return(errors.New("insufficient funds"))

		_, err := d.Deploy(context.Background(), nodePtrArtifact())
		assert.ErrorContains(t, err, "insufficient funds")
		client.AssertNotCalled(t, "TransactionReceipt", mock.Anything, mock.Anything)
	})

	t.Run("unlinked artifact", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())

		_, err := d.Deploy(context.Background(), asn1DecodeArtifact())
		assert.ErrorIs(t, err, artifacts.ErrUnlinked)
		client.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
	})

	t.Run("constructor arguments", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())

		a := nodePtrArtifact()
		a.ABI = json.RawMessage(`[{"type":"constructor","inputs":[{"name":"owner","type":"address"}],"stateMutability":"nonpayable"}]`)

		_, err := d.Deploy(context.Background(), a)
		assert.ErrorIs(t, err, ErrConstructorArgs)
	})
}

func TestDeployer_Link(t *testing.T) {
	library := deploy.Deployed{Name: "NodePtr", Address: libraryAddr}

	t.Run("links deployed library", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())
		client.On("CodeAt", mock.Anything, libraryAddr, (*big.Int)(nil)).Return([]byte{0x60}, nil)

		a := asn1DecodeArtifact()
		require.NoError(t, d.Link(context.Background(), a, library))
		assert.True(t, a.IsLinked())

		code, err := a.CreationCode()
		require.NoError(t, err)
		assert.Equal(t, libraryAddr.Bytes(), code[2:22])
		client.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
	})

	t.Run("library without code", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())
		client.On("CodeAt", mock.Anything, libraryAddr, (*big.Int)(nil)).Return([]byte{}, nil)

		a := asn1DecodeArtifact()
		assert.ErrorIs(t, d.Link(context.Background(), a, library), ErrNoCode)
		assert.False(t, a.IsLinked())
	})

	t.Run("library never deployed", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())

		err := d.Link(context.Background(), asn1DecodeArtifact(), deploy.Deployed{Name: "NodePtr"})
		assert.ErrorContains(t, err, "has not been deployed")
	})

	t.Run("library not referenced", func(t *testing.T) {
		client := new(MockClient)
		d := newTestDeployer(t, client, testNetwork())
		client.On("CodeAt", mock.Anything, libraryAddr, (*big.Int)(nil)).Return([]byte{0x60}, nil)

		err := d.Link(context.Background(), nodePtrArtifact(), library)
		assert.ErrorIs(t, err, artifacts.ErrLibraryNotReferenced)
	})
}
