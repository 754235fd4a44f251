package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/wire"
)

// NewTraceCommand creates the trace subcommand.
func NewTraceCommand(opts *RootOptions) *cobra.Command {
	var dbPath string
	var afterSeq int64
	var limit int

	cmd := &cobra.Command{
		Use:   "trace <resource-urn>",
		Short: "Dump a resource's event tail",
		Long:  "Print a resource's events in sequence order, optionally resuming strictly after a sequence number.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resource := ids.ResourceID(args[0])
			if err := resource.Validate(); err != nil {
				return err
			}

			_, s, err := openEngine(dbPath, "")
			if err != nil {
				return err
			}
			defer s.Close()

			events, err := s.Read(context.Background(), resource, afterSeq, limit)
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%d %s ts=%s", ev.Seq, ev.Type, ev.TS)
				if ev.SourceIdem != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " idem=%s", ev.SourceIdem)
				}
				fmt.Fprintf(cmd.OutOrStdout(), " %s\n", compactPayload(ev))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "tap.db", "path to the event log database")
	cmd.Flags().Int64Var(&afterSeq, "after", -1, "resume strictly after this sequence")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to print (0 = all)")
	return cmd
}

func compactPayload(ev wire.Event) string {
	return string(ev.Payload)
}
