package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonahGroendal/asn1-decode/internal/chain"
	"github.com/JonahGroendal/asn1-decode/internal/config"
	"github.com/JonahGroendal/asn1-decode/internal/deploy"
	"github.com/JonahGroendal/asn1-decode/internal/repository"
)

const anvilKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func withJSON(t *testing.T, on bool) {
	t.Helper()
	prev := jsonOut
	jsonOut = on
	t.Cleanup(func() { jsonOut = prev })
}

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

// partialReport is a link-then-deploy run that stopped after its first
// action.
func partialReport() *deploy.Report {
	return &deploy.Report{
		Environment: "ropsten",
		Plan:        deploy.LinkThenDeploy(deploy.DefaultLibrary, deploy.DefaultUnit),
		Results: []deploy.ActionResult{
			{
				Action: deploy.Action{Kind: deploy.ActionDeploy, Unit: deploy.DefaultLibrary},
				Deployed: &deploy.Deployed{
					Name:    deploy.DefaultLibrary,
					Address: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
					TxHash:  common.HexToHash("0x01"),
				},
			},
		},
	}
}

func TestPrintReport(t *testing.T) {
	runErr := &deploy.LinkFailure{Dependent: deploy.DefaultUnit, Dependency: deploy.DefaultLibrary, Err: errors.New("no code")}

	t.Run("partial failure table", func(t *testing.T) {
		withJSON(t, false)
		var out bytes.Buffer

		require.NoError(t, printReport(&out, "run-1", partialReport(), runErr))

		s := out.String()
		assert.Contains(t, s, `deploy("NodePtr")`)
		assert.Contains(t, s, "0x5FbDB2315678afecb367f032d93F642f64180aa3")
		assert.NotContains(t, s, `link("NodePtr"→"Asn1Decode")`)
		assert.NotContains(t, s, "✓")
	})

	t.Run("success line", func(t *testing.T) {
		withJSON(t, false)
		var out bytes.Buffer

		require.NoError(t, printReport(&out, "run-2", partialReport(), nil))
		assert.Contains(t, out.String(), "✓")
		assert.Contains(t, out.String(), "run-2")
	})

	t.Run("nothing completed", func(t *testing.T) {
		withJSON(t, false)
		var out bytes.Buffer

		report := &deploy.Report{Environment: "mainnet", Plan: deploy.NoLink(deploy.DefaultUnit)}
		require.NoError(t, printReport(&out, "run-3", report, runErr))
		assert.Empty(t, out.String())
	})

	t.Run("json", func(t *testing.T) {
		withJSON(t, true)
		var out bytes.Buffer

		require.NoError(t, printReport(&out, "run-1", partialReport(), runErr))

		var decoded struct {
			RunID     string `json:"runId"`
			Succeeded bool   `json:"succeeded"`
			Report    struct {
				Environment string `json:"environment"`
				Results     []struct {
					Action   deploy.Action    `json:"action"`
					Deployed *deploy.Deployed `json:"deployed"`
				} `json:"results"`
			} `json:"report"`
		}
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		assert.Equal(t, "run-1", decoded.RunID)
		assert.False(t, decoded.Succeeded)
		assert.Equal(t, "ropsten", decoded.Report.Environment)
		require.Len(t, decoded.Report.Results, 1)
		assert.Equal(t, deploy.ActionDeploy, decoded.Report.Results[0].Action.Kind)
		require.NotNil(t, decoded.Report.Results[0].Deployed)
		assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), decoded.Report.Results[0].Deployed.Address)
	})
}

func writeTruffleArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	placeholder := "__NodePtr" + strings.Repeat("_", 31)
	files := map[string]string{
		"NodePtr.json":    `{"contractName":"NodePtr","abi":[],"bytecode":"0x60806040","deployedBytecode":"0x6080"}`,
		"Asn1Decode.json": `{"contractName":"Asn1Decode","abi":[],"bytecode":"0x6080` + placeholder + `6000","deployedBytecode":"0x"}`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func newArtifactsTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addArtifactFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	cmd.SetContext(context.Background())
	return cmd
}

func TestRunArtifacts(t *testing.T) {
	dir := writeTruffleArtifacts(t)
	withConfig(t, &config.Config{Artifacts: config.ArtifactsConfig{Dir: dir}})

	t.Run("table", func(t *testing.T) {
		withJSON(t, false)
		cmd := newArtifactsTestCmd(t)
		var out bytes.Buffer
		cmd.SetOut(&out)

		require.NoError(t, runArtifacts(cmd, nil))
		assert.Contains(t, out.String(), "Asn1Decode")
		assert.Contains(t, out.String(), "NodePtr")
	})

	t.Run("json", func(t *testing.T) {
		withJSON(t, true)
		cmd := newArtifactsTestCmd(t)
		var out bytes.Buffer
		cmd.SetOut(&out)

		require.NoError(t, runArtifacts(cmd, nil))

		var decoded struct {
			Source    string         `json:"source"`
			Count     int            `json:"count"`
			Artifacts []artifactInfo `json:"artifacts"`
		}
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		assert.Equal(t, dir, decoded.Source)
		assert.Equal(t, 2, decoded.Count)
		assert.Equal(t, []artifactInfo{
			{Name: "Asn1Decode", Unresolved: []string{"NodePtr"}, Linked: false},
			{Name: "NodePtr", Unresolved: []string{}, Linked: true},
		}, decoded.Artifacts)
	})

	t.Run("dir flag wins over config", func(t *testing.T) {
		withJSON(t, false)
		cmd := newArtifactsTestCmd(t, "--dir", t.TempDir())
		var out bytes.Buffer
		cmd.SetOut(&out)

		require.NoError(t, runArtifacts(cmd, nil))
		assert.Contains(t, out.String(), "No artifacts found")
	})
}

func TestOpenRepository_WithoutDatabase(t *testing.T) {
	repo, closeRepo, err := openRepository(context.Background(), config.DatabaseConfig{})
	require.NoError(t, err)
	defer closeRepo()

	assert.IsType(t, &repository.MemoryRepository{}, repo)
}

// stubClient answers the calls NewDeployer makes.
type stubClient struct {
	chainID *big.Int
	closed  bool
}

func (c *stubClient) ChainID(context.Context) (*big.Int, error) { return c.chainID, nil }
func (c *stubClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (c *stubClient) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (c *stubClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (c *stubClient) SendTransaction(context.Context, *types.Transaction) error { return nil }
func (c *stubClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}
func (c *stubClient) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}
func (c *stubClient) Close() { c.closed = true }

type stubDialer struct {
	client *stubClient
	url    string
}

func (d *stubDialer) Dial(_ context.Context, rpcURL string) (chain.Client, error) {
	d.url = rpcURL
	return d.client, nil
}

func withDialer(t *testing.T, d chain.Dialer) {
	t.Helper()
	prev := dialer
	dialer = d
	t.Cleanup(func() { dialer = prev })
}

func TestNewChainDeployer(t *testing.T) {
	network := config.NetworkConfig{RPCURL: "http://127.0.0.1:8545", ChainID: 31337, ConfirmTimeout: time.Minute}

	t.Run("dials the configured endpoint", func(t *testing.T) {
		withConfig(t, &config.Config{Deployer: config.DeployerConfig{PrivateKey: anvilKey}})
		d := &stubDialer{client: &stubClient{chainID: big.NewInt(31337)}}
		withDialer(t, d)

		deployer, closeClient, err := newChainDeployer(context.Background(), "development", network)
		require.NoError(t, err)
		assert.NotNil(t, deployer)
		assert.Equal(t, "http://127.0.0.1:8545", d.url)

		closeClient()
		assert.True(t, d.client.closed)
	})

	t.Run("endpoint on another chain", func(t *testing.T) {
		withConfig(t, &config.Config{Deployer: config.DeployerConfig{PrivateKey: anvilKey}})
		d := &stubDialer{client: &stubClient{chainID: big.NewInt(1)}}
		withDialer(t, d)

		_, _, err := newChainDeployer(context.Background(), "development", network)
		assert.ErrorIs(t, err, chain.ErrChainIDMismatch)
		assert.True(t, d.client.closed)
	})

	t.Run("no private key", func(t *testing.T) {
		withConfig(t, &config.Config{})
		d := &stubDialer{client: &stubClient{chainID: big.NewInt(31337)}}
		withDialer(t, d)

		_, _, err := newChainDeployer(context.Background(), "development", network)
		assert.ErrorContains(t, err, "private_key")
		assert.Empty(t, d.url)
	})
}
