package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moolen/ordo/internal/component"
	"github.com/moolen/ordo/internal/resolver"
)

var planFormat string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the start order of a manifest",
	Long: `Resolve the manifest's dependency graph and print the order in which
components would be started. Components are stopped in the reverse order.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planFormat, "format", "o", "text", "Output format: text, dot, mermaid or json")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, catalog, eps, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	order, err := resolver.Resolve(catalog, eps)
	if err != nil {
		return err
	}
	return renderPlan(cmd.OutOrStdout(), planFormat, catalog, order)
}

func renderPlan(w io.Writer, format string, g resolver.Graph, order []component.ID) error {
	exp := resolver.NewExport(g, order)

	switch strings.ToLower(format) {
	case "text", "":
		for i, id := range order {
			deps, _ := g.Dependencies(id)
			if len(deps) == 0 {
				fmt.Fprintf(w, "%d. %s\n", i+1, id)
				continue
			}
			names := make([]string, len(deps))
			for j, d := range deps {
				names[j] = string(d)
			}
			fmt.Fprintf(w, "%d. %s (after %s)\n", i+1, id, strings.Join(names, ", "))
		}
		return nil
	case "dot":
		_, err := io.WriteString(w, exp.DOT())
		return err
	case "mermaid":
		_, err := io.WriteString(w, exp.Mermaid())
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(exp)
	default:
		return fmt.Errorf("unknown format %q (must be one of: text, dot, mermaid, json)", format)
	}
}
