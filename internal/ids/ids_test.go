package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRun_SortableAndParsable(t *testing.T) {
	t.Parallel()

	a := NewRun()
	b := NewRun()
	require.Less(t, a.String(), b.String())

	p, err := Parse(a.String())
	require.NoError(t, err)
	require.Equal(t, a, p)
	require.WithinDuration(t, time.Now(), a.Time(), time.Minute)

	_, err = Parse("not-a-ulid")
	require.Error(t, err)
}

func TestRunID_MarshalText(t *testing.T) {
	t.Parallel()

	r := NewRun()
	b, err := r.MarshalText()
	require.NoError(t, err)
	require.Equal(t, r.String(), string(b))
}
