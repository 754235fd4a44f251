package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tap/internal/catalog"
	"github.com/roach88/tap/internal/engine"
	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/store"
	"github.com/roach88/tap/internal/wire"
)

// commandFile is the YAML shape accepted by tap invoke.
type commandFile struct {
	Cmd       string        `yaml:"cmd"`
	Resource  string        `yaml:"resource,omitempty"`
	Resources []string      `yaml:"resources,omitempty"`
	Interval  *intervalYAML `yaml:"interval,omitempty"`
	Delta     int64         `yaml:"delta,omitempty"`
	Demands   []int64       `yaml:"demands,omitempty"`
	TTLSec    int64         `yaml:"ttlSec,omitempty"`
	Hold      string        `yaml:"hold,omitempty"`
	Alloc     string        `yaml:"alloc,omitempty"`
	Reason    string        `yaml:"reason,omitempty"`
	Idem      string        `yaml:"idem"`
}

type intervalYAML struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// NewInvokeCommand creates the invoke subcommand.
func NewInvokeCommand(opts *RootOptions) *cobra.Command {
	var dbPath, catalogPath string

	cmd := &cobra.Command{
		Use:   "invoke <command.yaml>",
		Short: "Apply a command to a local store",
		Long: `Apply one mutation command, described as a YAML document, to the
event log at --db. The engine rebuilds projections from the log first,
so availability checks see all previously committed state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, s, err := openEngine(dbPath, catalogPath)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := applyCommandFile(cmd, eng, args[0])
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			pairs := [][2]string{{"events", fmt.Sprintf("%d", len(out.Events))}}
			if out.Replayed {
				pairs = append(pairs, [2]string{"replayed", "true"})
			}
			if out.HoldID != "" {
				pairs = append(pairs, [2]string{"holdId", string(out.HoldID)})
			}
			if out.AllocationID != "" {
				pairs = append(pairs, [2]string{"allocationId", string(out.AllocationID)})
			}
			writeKV(cmd.OutOrStdout(), pairs...)
			for _, ev := range out.Events {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s seq=%d resource=%s\n", ev.Type, ev.Seq, ev.Resource)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "tap.db", "path to the event log database")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "optional catalog for supply baselines")
	return cmd
}

// openEngine opens the store and rebuilds the engine, seeding
// baselines from the catalog when one is given.
func openEngine(dbPath, catalogPath string) (*engine.Engine, *store.Store, error) {
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	var engOpts []engine.Option
	if catalogPath != "" {
		cat, err := catalog.Load(catalogPath)
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		engOpts = append(engOpts, engine.WithBaselines(cat.Baselines()))
	}

	eng, err := engine.New(s, engOpts...)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return eng, s, nil
}

func applyCommandFile(cmd *cobra.Command, eng *engine.Engine, path string) (*engine.Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read command file: %w", err)
	}
	var cf commandFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse command file %s: %w", path, err)
	}

	ctx := cmd.Context()
	switch cf.Cmd {
	case wire.TypeSupplyDelta:
		iv, err := parseIntervalYAML(cf.Interval)
		if err != nil {
			return nil, err
		}
		return eng.ApplySupplyDelta(ctx, wire.SupplyDelta{
			Resource: ids.ResourceID(cf.Resource),
			Interval: iv,
			Delta:    cf.Delta,
			Idem:     ids.IdempotencyKey(cf.Idem),
		})

	case wire.TypeHoldPlace:
		iv, err := parseIntervalYAML(cf.Interval)
		if err != nil {
			return nil, err
		}
		resources := make([]ids.ResourceID, len(cf.Resources))
		for i, r := range cf.Resources {
			resources[i] = ids.ResourceID(r)
		}
		return eng.PlaceHold(ctx, wire.HoldPlace{
			Resources: resources,
			Interval:  iv,
			Demands:   cf.Demands,
			TTLSec:    cf.TTLSec,
			Idem:      ids.IdempotencyKey(cf.Idem),
		})

	case wire.TypeHoldConfirm:
		return eng.ConfirmHold(ctx, wire.HoldConfirm{
			HoldID: ids.HoldID(cf.Hold),
			Idem:   ids.IdempotencyKey(cf.Idem),
		})

	case wire.TypeHoldRelease:
		return eng.ReleaseHold(ctx, wire.HoldRelease{
			HoldID: ids.HoldID(cf.Hold),
			Reason: cf.Reason,
			Idem:   ids.IdempotencyKey(cf.Idem),
		})

	case wire.TypeAllocCancel:
		return eng.CancelAlloc(ctx, wire.AllocCancel{
			AllocationID: ids.AllocationID(cf.Alloc),
			Reason:       cf.Reason,
			Idem:         ids.IdempotencyKey(cf.Idem),
		})

	default:
		return nil, fmt.Errorf("unknown cmd %q", cf.Cmd)
	}
}

func parseIntervalYAML(iv *intervalYAML) (wire.Interval, error) {
	if iv == nil {
		return wire.Interval{}, fmt.Errorf("missing interval")
	}
	start, err := wire.ParseInstant(iv.Start)
	if err != nil {
		return wire.Interval{}, err
	}
	end, err := wire.ParseInstant(iv.End)
	if err != nil {
		return wire.Interval{}, err
	}
	return wire.Interval{Start: start, End: end}, nil
}
