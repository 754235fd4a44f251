// Package harness executes conformance scenarios against a real engine
// and store. Scenarios are YAML documents driving the five commands
// with a fake clock and a fixed uid minter, so runs are deterministic
// and traces can be compared against golden files.
package harness

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tap/internal/engine"
	"github.com/roach88/tap/internal/ids"
	"github.com/roach88/tap/internal/store"
	"github.com/roach88/tap/internal/testutil"
	"github.com/roach88/tap/internal/wire"
)

// Scenario is a deterministic command script.
type Scenario struct {
	// Name uniquely identifies the scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description,omitempty"`

	// Start is the initial fake-clock instant (RFC 3339).
	Start string `yaml:"start"`

	// UIDs is the fixed minter sequence. Each hold.place consumes one,
	// each hold.confirm consumes one.
	UIDs []string `yaml:"uids,omitempty"`

	// Baselines seeds per-resource supply baselines.
	Baselines map[string]int64 `yaml:"baselines,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`
}

// Step is one scenario action: either a clock advance or a command
// with an optional expectation.
type Step struct {
	// Advance moves the fake clock (Go duration string). When set, no
	// command runs in this step.
	Advance string `yaml:"advance,omitempty"`

	// Cmd is the command discriminant (supply.delta, hold.place, ...).
	Cmd string `yaml:"cmd,omitempty"`

	Resource  string    `yaml:"resource,omitempty"`
	Resources []string  `yaml:"resources,omitempty"`
	Interval  *Interval `yaml:"interval,omitempty"`
	Delta     int64     `yaml:"delta,omitempty"`
	Demands   []int64   `yaml:"demands,omitempty"`
	TTLSec    int64     `yaml:"ttlSec,omitempty"`
	Reason    string    `yaml:"reason,omitempty"`
	Idem      string    `yaml:"idem,omitempty"`

	// Hold and Alloc reference ids minted by earlier steps via
	// "$<name>" bindings, or literal ids.
	Hold  string `yaml:"hold,omitempty"`
	Alloc string `yaml:"alloc,omitempty"`

	// Save binds the step's minted id (holdId or allocationId) to a
	// name for later reference.
	Save string `yaml:"save,omitempty"`

	// Expect validates the step result.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Interval is the YAML form of a half-open window.
type Interval struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Expect specifies the expected step result.
type Expect struct {
	// Error is the expected protocol error code; empty means success.
	Error string `yaml:"error,omitempty"`

	// Replayed asserts the outcome was an idempotent replay.
	Replayed bool `yaml:"replayed,omitempty"`

	// Events lists the expected emitted event types, in order.
	Events []string `yaml:"events,omitempty"`
}

// Result captures a scenario run.
type Result struct {
	// Trace is every event committed to the log, in commit order.
	Trace []wire.Event

	// Vars holds the Save bindings.
	Vars map[string]string
}

// LoadScenario reads a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	if sc.Start == "" {
		return nil, fmt.Errorf("scenario %s: missing start instant", path)
	}
	return &sc, nil
}

// Run executes a scenario against a fresh store at dbPath and returns
// the full trace. Expectation mismatches fail the run.
func Run(sc *Scenario, dbPath string) (*Result, error) {
	start, err := time.Parse(time.RFC3339Nano, sc.Start)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: bad start: %w", sc.Name, err)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	defer s.Close()

	clock := testutil.NewFakeClock(start)
	opts := []engine.Option{engine.WithClock(clock)}
	if len(sc.UIDs) > 0 {
		opts = append(opts, engine.WithMinter(ids.NewFixedMinter(sc.UIDs...)))
	}
	if len(sc.Baselines) > 0 {
		baselines := make(map[ids.ResourceID]int64, len(sc.Baselines))
		for r, b := range sc.Baselines {
			baselines[ids.ResourceID(r)] = b
		}
		opts = append(opts, engine.WithBaselines(baselines))
	}

	eng, err := engine.New(s, opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	result := &Result{Vars: make(map[string]string)}
	ctx := context.Background()

	for i, step := range sc.Steps {
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return nil, fmt.Errorf("scenario %s step %d: bad advance: %w", sc.Name, i, err)
			}
			clock.Advance(d)
			continue
		}

		out, cmdErr := runCommand(ctx, eng, result, step)
		if err := checkExpect(sc.Name, i, step.Expect, out, cmdErr); err != nil {
			return nil, err
		}
		if out != nil {
			if step.Save != "" {
				switch {
				case out.HoldID != "":
					result.Vars[step.Save] = string(out.HoldID)
				case out.AllocationID != "":
					result.Vars[step.Save] = string(out.AllocationID)
				}
			}
		}
	}

	trace, err := s.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: read trace: %w", sc.Name, err)
	}
	result.Trace = trace
	return result, nil
}

func runCommand(ctx context.Context, eng *engine.Engine, result *Result, step Step) (*engine.Outcome, error) {
	switch step.Cmd {
	case wire.TypeSupplyDelta:
		iv, err := parseInterval(step.Interval)
		if err != nil {
			return nil, err
		}
		return eng.ApplySupplyDelta(ctx, wire.SupplyDelta{
			Resource: ids.ResourceID(step.Resource),
			Interval: iv,
			Delta:    step.Delta,
			Idem:     ids.IdempotencyKey(step.Idem),
		})

	case wire.TypeHoldPlace:
		iv, err := parseInterval(step.Interval)
		if err != nil {
			return nil, err
		}
		resources := make([]ids.ResourceID, len(step.Resources))
		for i, r := range step.Resources {
			resources[i] = ids.ResourceID(r)
		}
		return eng.PlaceHold(ctx, wire.HoldPlace{
			Resources: resources,
			Interval:  iv,
			Demands:   step.Demands,
			TTLSec:    step.TTLSec,
			Idem:      ids.IdempotencyKey(step.Idem),
		})

	case wire.TypeHoldConfirm:
		return eng.ConfirmHold(ctx, wire.HoldConfirm{
			HoldID: ids.HoldID(result.resolve(step.Hold)),
			Idem:   ids.IdempotencyKey(step.Idem),
		})

	case wire.TypeHoldRelease:
		return eng.ReleaseHold(ctx, wire.HoldRelease{
			HoldID: ids.HoldID(result.resolve(step.Hold)),
			Reason: step.Reason,
			Idem:   ids.IdempotencyKey(step.Idem),
		})

	case wire.TypeAllocCancel:
		return eng.CancelAlloc(ctx, wire.AllocCancel{
			AllocationID: ids.AllocationID(result.resolve(step.Alloc)),
			Reason:       step.Reason,
			Idem:         ids.IdempotencyKey(step.Idem),
		})

	default:
		return nil, fmt.Errorf("unknown cmd %q", step.Cmd)
	}
}

// resolve maps "$name" references through Save bindings.
func (r *Result) resolve(ref string) string {
	if strings.HasPrefix(ref, "$") {
		if v, ok := r.Vars[ref[1:]]; ok {
			return v
		}
	}
	return ref
}

func parseInterval(iv *Interval) (wire.Interval, error) {
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

func checkExpect(name string, i int, exp *Expect, out *engine.Outcome, cmdErr error) error {
	if exp == nil {
		if cmdErr != nil {
			return fmt.Errorf("scenario %s step %d: unexpected error: %v", name, i, cmdErr)
		}
		return nil
	}

	if exp.Error != "" {
		if cmdErr == nil {
			return fmt.Errorf("scenario %s step %d: expected %s, command succeeded", name, i, exp.Error)
		}
		if code := engine.CodeOf(cmdErr); string(code) != exp.Error {
			return fmt.Errorf("scenario %s step %d: expected %s, got %s (%v)", name, i, exp.Error, code, cmdErr)
		}
		return nil
	}

	if cmdErr != nil {
		return fmt.Errorf("scenario %s step %d: unexpected error: %v", name, i, cmdErr)
	}
	if exp.Replayed != out.Replayed {
		return fmt.Errorf("scenario %s step %d: replayed = %v, expected %v", name, i, out.Replayed, exp.Replayed)
	}
	if len(exp.Events) > 0 {
		if len(out.Events) != len(exp.Events) {
			return fmt.Errorf("scenario %s step %d: %d events, expected %d", name, i, len(out.Events), len(exp.Events))
		}
		for j, typ := range exp.Events {
			if out.Events[j].Type != typ {
				return fmt.Errorf("scenario %s step %d: event[%d] = %s, expected %s", name, i, j, out.Events[j].Type, typ)
			}
		}
	}
	return nil
}
