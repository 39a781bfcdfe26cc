package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"

	"github.com/JonahGroendal/asn1-decode/internal/chain"
	"github.com/JonahGroendal/asn1-decode/internal/config"
	"github.com/JonahGroendal/asn1-decode/internal/database"
	"github.com/JonahGroendal/asn1-decode/internal/deploy"
	"github.com/JonahGroendal/asn1-decode/internal/repository"
)

// dialer opens the RPC client of the target network.
var dialer chain.Dialer = chain.NewEthClientFactory()

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run a deployment plan against an environment",
	Long: `Run a deployment plan against the network configured for an environment.

Every action waits for its transaction to be mined before the next one
starts. The first failure stops the run; nothing is retried.

Examples:
  asn1-deployer deploy --env mainnet --plan no-link
  asn1-deployer deploy --env ropsten --plan link-then-deploy
  asn1-deployer deploy --env development --plan-file plan.yaml`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringP("env", "e", "", "target environment (a key under networks in the config)")
	deployCmd.MarkFlagRequired("env")
	addPlanFlags(deployCmd)
	addArtifactFlags(deployCmd)

	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := envFlag(cmd)

	plan, err := buildPlan(cmd, cfg.Plan)
	if err != nil {
		return err
	}
	network, err := cfg.Network(env)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(ctx, cmd, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}

	if cfg.Redis.Enabled() {
		release, err := acquireRunLock(ctx, cfg.Redis, env)
		if err != nil {
			return err
		}
		defer release()
	}

	chainDeployer, closeClient, err := newChainDeployer(ctx, env, network)
	if err != nil {
		return err
	}
	defer closeClient()

	promReg := prometheus.NewRegistry()
	var d deploy.Deployer = deploy.Instrument(chainDeployer, deploy.NewMetrics(promReg))

	repo, closeRepo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeRepo()

	rec, err := repository.StartRun(ctx, repo, env, plan.Variant.String())
	if err != nil {
		return err
	}
	d = deploy.Record(d, rec)

	o := deploy.NewOrchestrator(d, reg, deploy.OrchestratorConfig{Logger: logger})
	report, runErr := o.Run(ctx, deploy.Environment(env), plan)

	// The run outcome is stored even when ctx was cancelled mid-run.
	if err := rec.Finish(context.WithoutCancel(ctx), runErr); err != nil {
		logger.Error("failed to record run outcome",
			slog.String("run_id", rec.RunID().String()),
			slog.String("error", err.Error()),
		)
	}

	if cfg.Metrics.PushgatewayURL != "" {
		if err := pushMetrics(cfg.Metrics, promReg, env); err != nil {
			logger.Warn("failed to push metrics", slog.String("error", err.Error()))
		}
	}

	if err := printReport(cmd.OutOrStdout(), rec.RunID().String(), report, runErr); err != nil {
		return err
	}
	return runErr
}

// acquireRunLock takes the environment's run lock and returns its release.
func acquireRunLock(ctx context.Context, c config.RedisConfig, env string) (func(), error) {
	rdb, err := database.NewRedis(ctx, c)
	if err != nil {
		return nil, err
	}

	lock, err := rdb.AcquireLock(ctx, database.LockKey(env), c.LockTTL)
	if err != nil {
		rdb.Close()
		if errors.Is(err, database.ErrLockHeld) {
			return nil, fmt.Errorf("another deployment to %s is running: %w", env, err)
		}
		return nil, err
	}
	logger.Debug("acquired run lock", slog.String("key", lock.Key()))

	return func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("failed to release run lock", slog.String("error", err.Error()))
		}
		rdb.Close()
	}, nil
}

// newChainDeployer dials the environment's RPC endpoint and builds a
// deployer signing with the configured key.
func newChainDeployer(ctx context.Context, env string, n config.NetworkConfig) (*chain.Deployer, func(), error) {
	if cfg.Deployer.PrivateKey == "" {
		return nil, nil, fmt.Errorf("deployer.private_key is not set (env %s_DEPLOYER_PRIVATE_KEY)", config.EnvPrefix)
	}
	signer, err := chain.NewLocalSigner(cfg.Deployer.PrivateKey, n.ChainID)
	if err != nil {
		return nil, nil, err
	}
	minGasPrice, err := n.MinGasPrice()
	if err != nil {
		return nil, nil, err
	}

	client, err := dialer.Dial(ctx, n.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", env, err)
	}

	d, err := chain.NewDeployer(ctx, client, signer, chain.NetworkConfig{
		Name:                  env,
		RPCURL:                n.RPCURL,
		ChainID:               n.ChainID,
		GasPriceBoostPercent:  n.GasPriceBoostPercent,
		MinGasPrice:           minGasPrice,
		GasLimitBufferPercent: n.GasLimitBufferPercent,
		ConfirmTimeout:        n.ConfirmTimeout,
	}, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return d, client.Close, nil
}

// openRepository returns the Postgres repository when a database is
// configured and an in-memory one otherwise.
func openRepository(ctx context.Context, c config.DatabaseConfig) (repository.Repository, func(), error) {
	if !c.Enabled() {
		return repository.NewMemoryRepository(), func() {}, nil
	}

	pg, err := database.NewPostgres(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	if c.Migrate {
		if err := pg.RunMigrations(); err != nil {
			pg.Close()
			return nil, nil, err
		}
	}
	return repository.NewPostgresRepository(pg.Pool()), pg.Close, nil
}

func pushMetrics(c config.MetricsConfig, g prometheus.Gatherer, env string) error {
	return push.New(c.PushgatewayURL, c.Job).
		Gatherer(g).
		Grouping("environment", env).
		Push()
}

func printReport(w io.Writer, runID string, report *deploy.Report, runErr error) error {
	if jsonOut {
		return printJSON(w, map[string]interface{}{
			"runId":     runID,
			"report":    report,
			"succeeded": runErr == nil,
		})
	}
	if len(report.Results) == 0 {
		return nil
	}

	t := newTable(w, "STEP", "ACTION", "ADDRESS", "TX HASH")
	for i, res := range report.Results {
		addr, tx := "", ""
		if res.Deployed != nil {
			addr = res.Deployed.Address.Hex()
			tx = res.Deployed.TxHash.Hex()
		}
		t.Append([]string{strconv.Itoa(i + 1), res.Action.String(), addr, tx})
	}
	t.Render()

	if runErr == nil {
		fmt.Fprintf(w, "%s %s on %s (run %s)\n", colorGreen("✓"), report.Plan.Variant, report.Environment, runID)
	}
	return nil
}
