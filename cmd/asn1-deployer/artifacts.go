package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonahGroendal/asn1-decode/internal/artifacts"
	"github.com/JonahGroendal/asn1-decode/internal/config"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List the deployable units and their unresolved libraries",
	Long: `Load the artifact registry the way deploy does and list every unit
with the libraries that still have to be linked into it.

Examples:
  asn1-deployer artifacts
  asn1-deployer artifacts --dir out
  asn1-deployer artifacts --bundle artifacts.tzst --json`,
	RunE: runArtifacts,
}

func init() {
	addArtifactFlags(artifactsCmd)

	rootCmd.AddCommand(artifactsCmd)
}

// addArtifactFlags registers the flags that override the artifact source.
func addArtifactFlags(cmd *cobra.Command) {
	cmd.Flags().String("dir", "", "artifact directory (Truffle, Hardhat or Foundry output)")
	cmd.Flags().String("bundle", "", "zstd-compressed tar bundle of artifacts")
}

// loadRegistry opens the artifact source selected by flags and config.
func loadRegistry(ctx context.Context, cmd *cobra.Command, c config.ArtifactsConfig) (*artifacts.Registry, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return artifacts.LoadDir(dir)
	}
	if bundle, _ := cmd.Flags().GetString("bundle"); bundle != "" {
		return artifacts.LoadBundle(bundle, c.Checksum)
	}

	switch {
	case c.BundleURL != "":
		return artifacts.FetchBundle(ctx, c.BundleURL, c.CacheDir, c.Checksum)
	case c.Bundle != "":
		return artifacts.LoadBundle(c.Bundle, c.Checksum)
	default:
		return artifacts.LoadDir(c.Dir)
	}
}

type artifactInfo struct {
	Name       string   `json:"name"`
	Unresolved []string `json:"unresolvedLibraries"`
	Linked     bool     `json:"linked"`
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(cmd.Context(), cmd, cfg.Artifacts)
	if err != nil {
		return err
	}

	var infos []artifactInfo
	for _, name := range reg.Names() {
		a, err := reg.Resolve(name)
		if err != nil {
			return err
		}
		unresolved := a.UnresolvedLibraries()
		if unresolved == nil {
			unresolved = []string{}
		}
		infos = append(infos, artifactInfo{Name: name, Unresolved: unresolved, Linked: a.IsLinked()})
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(w, map[string]interface{}{
			"source":    reg.Source(),
			"artifacts": infos,
			"count":     len(infos),
		})
	}

	if len(infos) == 0 {
		fmt.Fprintf(w, "No artifacts found in %s\n", reg.Source())
		return nil
	}

	t := newTable(w, "NAME", "LINKED", "UNRESOLVED LIBRARIES")
	for _, info := range infos {
		linked := colorGreen("yes")
		if !info.Linked {
			linked = colorRed("no")
		}
		t.Append([]string{info.Name, linked, strings.Join(info.Unresolved, ", ")})
	}
	t.Render()
	return nil
}
