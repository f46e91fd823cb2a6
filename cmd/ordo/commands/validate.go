package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moolen/ordo/internal/resolver"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a manifest without starting anything",
	Long: `Validate the manifest schema, resolve every kind and version constraint,
and check the whole dependency graph for cycles and missing dependencies,
including components no entrypoint reaches.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, catalog, eps, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	if err := resolver.Validate(catalog); err != nil {
		return err
	}
	order, err := resolver.Resolve(catalog, eps)
	if err != nil {
		return err
	}

	if len(eps) == 0 {
		eps = resolver.DetectEntrypoints(catalog)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d components, %d started from %d entrypoints)\n",
		cfg.Manifest, catalog.Len(), len(order), len(eps))
	return nil
}
