package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestGeneratorNewRunID ensures generated ids are unique version 7 UUIDs.
func TestGeneratorNewRunID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewRunID()
	require.NoError(t, err)
	id2, err := gen.NewRunID()
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	require.Equal(t, goUUID.Version(7), id1.Version())
	require.Negative(t, compare(id1, id2), "ids are time ordered")
}

func TestGeneratorParse(t *testing.T) {
	t.Parallel()

	gen := New()
	id, err := gen.NewRunID()
	require.NoError(t, err)

	parsed, err := gen.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = gen.Parse("not-a-uuid")
	require.ErrorContains(t, err, `parse run id "not-a-uuid"`)
}

func compare(a, b goUUID.UUID) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}
