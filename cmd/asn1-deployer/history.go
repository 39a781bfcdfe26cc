package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonahGroendal/asn1-decode/internal/config"
	"github.com/JonahGroendal/asn1-decode/internal/repository"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List past deployment runs or show one run",
	Long: `List the most recent deployment runs of an environment, or show the
units and links recorded for a single run.

Run history is kept in Postgres; database.dsn must be set.

Examples:
  asn1-deployer runs --env ropsten
  asn1-deployer runs --env mainnet --limit 5 --json
  asn1-deployer runs 3f2c5b8e-0d7a-4f0e-9d55-2a1f6c0b9e41`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

var addressCmd = &cobra.Command{
	Use:   "address <unit>",
	Short: "Print where a unit was last deployed in an environment",
	Long: `Print the address a unit was most recently deployed at in an
environment, as recorded by earlier deploy runs.

Examples:
  asn1-deployer address --env ropsten NodePtr
  asn1-deployer address --env mainnet Asn1Decode --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAddress,
}

func init() {
	runsCmd.Flags().StringP("env", "e", "", "environment to list runs for")
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")

	addressCmd.Flags().StringP("env", "e", "", "environment the unit was deployed to")
	addressCmd.MarkFlagRequired("env")

	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(addressCmd)
}

// envFlag returns the --env value lowercased, the form network keys and
// run records use.
func envFlag(cmd *cobra.Command) string {
	env, _ := cmd.Flags().GetString("env")
	return strings.ToLower(env)
}

// openHistory opens the Postgres repository for read commands. The
// in-memory repository holds nothing between processes, so a database
// is required here.
func openHistory(ctx context.Context, c config.DatabaseConfig) (repository.Repository, func(), error) {
	if !c.Enabled() {
		return nil, nil, fmt.Errorf("run history needs a database: set database.dsn (env %s_DATABASE_DSN)", config.EnvPrefix)
	}
	return openRepository(ctx, c)
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := envFlag(cmd)
	limit, _ := cmd.Flags().GetInt("limit")

	if len(args) == 0 && env == "" {
		return errors.New("either --env or a run ID is required")
	}

	repo, closeRepo, err := openHistory(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeRepo()

	w := cmd.OutOrStdout()
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run ID %q: %w", args[0], err)
		}
		return printRun(ctx, w, repo, id)
	}
	return printRuns(ctx, w, repo, env, limit)
}

func printRuns(ctx context.Context, w io.Writer, repo repository.Repository, env string, limit int) error {
	runs, err := repo.ListRuns(ctx, env, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if jsonOut {
		if runs == nil {
			runs = []*repository.Run{}
		}
		return printJSON(w, map[string]interface{}{
			"environment": env,
			"runs":        runs,
			"count":       len(runs),
		})
	}

	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs recorded for %s\n", env)
		return nil
	}

	t := newTable(w, "RUN ID", "VARIANT", "STATUS", "STARTED", "DURATION")
	for _, r := range runs {
		t.Append([]string{r.ID.String(), r.Variant, formatStatus(r.Status), r.StartedAt.Format(time.RFC3339), runDuration(r)})
	}
	t.Render()
	return nil
}

func printRun(ctx context.Context, w io.Writer, repo repository.Repository, id uuid.UUID) error {
	run, err := repo.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("run %s not found", id)
		}
		return fmt.Errorf("get run: %w", err)
	}
	units, err := repo.ListUnits(ctx, id)
	if err != nil {
		return fmt.Errorf("list units: %w", err)
	}
	links, err := repo.ListLinks(ctx, id)
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}

	if jsonOut {
		if units == nil {
			units = []repository.UnitRecord{}
		}
		if links == nil {
			links = []repository.LinkRecord{}
		}
		return printJSON(w, map[string]interface{}{
			"run":   run,
			"units": units,
			"links": links,
		})
	}

	fmt.Fprintf(w, "%s %s\n", colorBold("Run:"), run.ID)
	fmt.Fprintf(w, "  Environment: %s\n", run.Environment)
	fmt.Fprintf(w, "  Variant:     %s\n", run.Variant)
	fmt.Fprintf(w, "  Status:      %s\n", formatStatus(run.Status))
	fmt.Fprintf(w, "  Started:     %s\n", run.StartedAt.Format(time.RFC3339))
	if run.ErrorMessage != nil {
		fmt.Fprintf(w, "  Error:       %s\n", *run.ErrorMessage)
	}

	if len(units) > 0 {
		fmt.Fprintln(w)
		t := newTable(w, "UNIT", "ADDRESS", "TX HASH", "LINKED LIBRARIES")
		for _, u := range units {
			t.Append([]string{u.Unit, u.Address, u.TxHash, formatLibraries(u.LinkedLibraries)})
		}
		t.Render()
	}
	if len(links) > 0 {
		fmt.Fprintln(w)
		t := newTable(w, "DEPENDENT", "LIBRARY", "LIBRARY ADDRESS")
		for _, l := range links {
			t.Append([]string{l.Dependent, l.Library, l.LibraryAddress})
		}
		t.Render()
	}
	return nil
}

func runAddress(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, closeRepo, err := openHistory(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeRepo()

	return printAddress(ctx, cmd.OutOrStdout(), repo, envFlag(cmd), args[0])
}

func printAddress(ctx context.Context, w io.Writer, repo repository.Repository, env, unit string) error {
	addr, err := repo.LatestAddress(ctx, env, unit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s has not been deployed to %s", unit, env)
		}
		return fmt.Errorf("get address: %w", err)
	}

	if jsonOut {
		return printJSON(w, map[string]string{
			"environment": env,
			"unit":        unit,
			"address":     addr,
		})
	}
	fmt.Fprintln(w, addr)
	return nil
}

func formatStatus(s repository.Status) string {
	switch s {
	case repository.StatusCompleted:
		return colorGreen(string(s))
	case repository.StatusFailed:
		return colorRed(string(s))
	default:
		return string(s)
	}
}

func runDuration(r *repository.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}

func formatLibraries(libs map[string]string) string {
	if len(libs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(libs))
	for name, addr := range libs {
		parts = append(parts, name+"="+addr)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
