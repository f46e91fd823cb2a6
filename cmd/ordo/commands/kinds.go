package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/moolen/ordo/internal/builtin"
)

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the component kinds a manifest can use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := builtin.NewRegistry()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tVERSION\tDESCRIPTION")
		for _, name := range reg.List() {
			k, _ := reg.Get(name)
			fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Name, k.Version, k.Description)
		}
		return tw.Flush()
	},
}
