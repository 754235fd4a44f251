package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCatalog = `
resources: [
	{
		urn:       "urn:tap:resource:room-a"
		kind:      "room"
		authority: "node-alpha"
		baseline:  2
	},
	{
		urn:       "urn:tap:resource:bench-1"
		kind:      "bench"
		authority: "node-alpha"
	},
]
`

func TestParse_ValidCatalog(t *testing.T) {
	cat, err := Parse("test.cue", []byte(validCatalog))
	require.NoError(t, err)
	require.Len(t, cat.Resources, 2)

	assert.Equal(t, "room", cat.Resources[0].Kind)
	assert.Equal(t, int64(2), cat.Resources[0].Baseline)
	assert.Equal(t, int64(0), cat.Resources[1].Baseline, "baseline defaults to 0")

	baselines := cat.Baselines()
	assert.Equal(t, int64(2), baselines["urn:tap:resource:room-a"])
}

func TestParse_RejectsBadURN(t *testing.T) {
	doc := strings.Replace(validCatalog, "urn:tap:resource:room-a", "urn:wrong:room-a", 1)
	_, err := Parse("test.cue", []byte(doc))
	require.Error(t, err)
}

func TestParse_RejectsDuplicateURN(t *testing.T) {
	doc := strings.Replace(validCatalog, "urn:tap:resource:bench-1", "urn:tap:resource:room-a", 1)
	_, err := Parse("test.cue", []byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParse_RejectsNegativeBaseline(t *testing.T) {
	doc := strings.Replace(validCatalog, "baseline:  2", "baseline:  -1", 1)
	_, err := Parse("test.cue", []byte(doc))
	require.Error(t, err)
}

func TestParse_RejectsMissingKind(t *testing.T) {
	doc := strings.Replace(validCatalog, "kind:      \"room\"\n", "", 1)
	_, err := Parse("test.cue", []byte(doc))
	require.Error(t, err)
}

func TestParse_EmptyCatalog(t *testing.T) {
	cat, err := Parse("test.cue", []byte("resources: []"))
	require.NoError(t, err)
	assert.Empty(t, cat.Resources)
}
