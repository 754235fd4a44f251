package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/tap/internal/catalog"
)

// NewValidateCommand creates the validate subcommand.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog.cue>",
		Short: "Validate a resource catalog",
		Long:  "Validate a catalog CUE document against the embedded schema and cross-entry invariants.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), cat)
			}
			writeKV(cmd.OutOrStdout(),
				[2]string{"catalog", args[0]},
				[2]string{"resources", strconv.Itoa(len(cat.Resources))},
			)
			for _, r := range cat.Resources {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s kind=%s authority=%s baseline=%d\n",
					r.URN, r.Kind, r.Authority, r.Baseline)
			}
			return nil
		},
	}
}
