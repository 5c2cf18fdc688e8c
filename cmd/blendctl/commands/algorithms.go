package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"blendcore/internal/runner"
)

func algorithmsCmd(_ *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "algorithms",
		Short: "List installed deblenders and fitters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := runner.NewService()
			if err != nil {
				return err
			}
			algorithms := svc.Algorithms()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(algorithms)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tPLUGIN\tCAPABILITY\tOPTIONS")
			for _, al := range algorithms {
				names := make([]string, 0, len(al.Options))
				for _, o := range al.Options {
					names = append(names, o.Name)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", al.Kind, al.Name, al.Plugin, al.Capability, optionNames(names))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	return cmd
}

func optionNames(specs []string) string {
	if len(specs) == 0 {
		return "-"
	}
	return strings.Join(specs, ",")
}
