package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const supplyYAML = `cmd: supply.delta
resource: urn:tap:resource:room-a
interval:
  start: 2026-01-05T09:00:00Z
  end: 2026-01-05T17:00:00Z
delta: 1
idem: K0
`

const placeYAML = `cmd: hold.place
resources: [urn:tap:resource:room-a]
interval:
  start: 2026-01-05T10:00:00Z
  end: 2026-01-05T11:00:00Z
demands: [1]
ttlSec: 600
idem: K1
`

func TestInvoke_AppliesCommands(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "tap.db")
	supply := writeFile(t, dir, "supply.yaml", supplyYAML)
	place := writeFile(t, dir, "place.yaml", placeYAML)

	out, err := execute(t, "invoke", "--db", db, supply)
	require.NoError(t, err)
	assert.Contains(t, out, "supply.delta.applied")

	out, err = execute(t, "invoke", "--db", db, place)
	require.NoError(t, err)
	assert.Contains(t, out, "hold.placed")
	assert.Contains(t, out, "holdId")

	// Replaying the same file is an idempotent no-op.
	out, err = execute(t, "invoke", "--db", db, place)
	require.NoError(t, err)
	assert.Contains(t, out, "replayed")
}

func TestInvoke_SurfacesEngineErrors(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "tap.db")
	place := writeFile(t, dir, "place.yaml", placeYAML)

	// No supply: the hold is infeasible.
	_, err := execute(t, "invoke", "--db", db, place)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity_violation")
}

func TestInvoke_RejectsUnknownCmd(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.yaml", "cmd: hold.teleport\nidem: K1\n")

	_, err := execute(t, "invoke", "--db", filepath.Join(dir, "tap.db"), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cmd")
}

func TestTrace_PrintsEvents(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "tap.db")
	supply := writeFile(t, dir, "supply.yaml", supplyYAML)

	_, err := execute(t, "invoke", "--db", db, supply)
	require.NoError(t, err)

	out, err := execute(t, "trace", "--db", db, "urn:tap:resource:room-a")
	require.NoError(t, err)
	assert.Contains(t, out, "supply.delta.applied")
	assert.Contains(t, out, "idem=K0")
}

func TestReplay_Summarizes(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "tap.db")
	supply := writeFile(t, dir, "supply.yaml", supplyYAML)

	_, err := execute(t, "invoke", "--db", db, supply)
	require.NoError(t, err)

	out, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "urn:tap:resource:room-a")
	assert.Contains(t, out, "seqHi=0")
}

func TestValidate_Catalog(t *testing.T) {
	dir := t.TempDir()
	cat := writeFile(t, dir, "catalog.cue", `
resources: [
	{
		urn:       "urn:tap:resource:room-a"
		kind:      "room"
		authority: "node-alpha"
		baseline:  1
	},
]
`)

	out, err := execute(t, "validate", cat)
	require.NoError(t, err)
	assert.Contains(t, out, "urn:tap:resource:room-a")

	bad := writeFile(t, dir, "bad.cue", `resources: [{urn: "nope", kind: "room", authority: "a"}]`)
	_, err = execute(t, "validate", bad)
	require.Error(t, err)
}
