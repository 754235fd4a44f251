package harness

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tap/internal/wire"
)

// RenderTrace flattens a trace into stable one-line-per-event text for
// golden comparison. Timestamps are included because scenario clocks
// are fake and therefore deterministic.
func RenderTrace(trace []wire.Event) string {
	var b strings.Builder
	for _, ev := range trace {
		fmt.Fprintf(&b, "%s seq=%d ts=%s resource=%s", ev.Type, ev.Seq, ev.TS, ev.Resource)
		if ev.SourceIdem != "" {
			fmt.Fprintf(&b, " idem=%s", ev.SourceIdem)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RunWithGolden executes a scenario and compares its rendered trace
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) *Result {
	t.Helper()

	result, err := Run(sc, filepath.Join(t.TempDir(), "tap.db"))
	if err != nil {
		t.Fatalf("scenario %s: %v", sc.Name, err)
	}

	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")))
	g.Assert(t, sc.Name, []byte(RenderTrace(result.Trace)))
	return result
}
