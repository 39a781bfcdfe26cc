package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/JonahGroendal/asn1-decode/internal/config"
)

var (
	cfgFile string
	jsonOut bool

	cfg    *config.Config
	logger *slog.Logger
)

var (
	colorGreen = color.New(color.FgGreen).SprintFunc()
	colorRed   = color.New(color.FgRed).SprintFunc()
	colorBold  = color.New(color.Bold).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "asn1-deployer",
	Short: "Deploy the Asn1Decode contract and its NodePtr library",
	Long: `asn1-deployer runs a deployment plan against a configured network.

A plan is one of:
  no-link            deploy Asn1Decode alone
  link-then-deploy   deploy NodePtr, link it into Asn1Decode, deploy Asn1Decode

Examples:
  asn1-deployer deploy --env ropsten --plan link-then-deploy
  asn1-deployer plan --plan no-link --output yaml
  asn1-deployer artifacts --dir build/contracts`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./asn1-deployer.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print results as JSON")
}

// newLogger builds the process logger from the log settings.
func newLogger(w io.Writer, c config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", colorRed("✗"), err)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetBorder(false)
	t.SetHeaderLine(false)
	t.SetColumnSeparator("")
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return t
}
