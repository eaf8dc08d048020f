package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventSetUnionIntersect(t *testing.T) {
	r := Readable
	w := Writable
	require.Equal(t, Readable|Writable, r.Union(w))
	require.Equal(t, NoEvents, r.Intersect(w))
	require.True(t, (r | w).Has(Readable))
	require.True(t, (r | w).Has(Writable))
	require.False(t, r.Has(Writable))
}

func TestEventSetEmpty(t *testing.T) {
	require.True(t, NoEvents.Empty())
	require.False(t, Readable.Empty())
}

func TestEventSetString(t *testing.T) {
	require.Equal(t, "none", NoEvents.String())
	require.Equal(t, "readable", Readable.String())
	require.Equal(t, "readable|writable", (Readable | Writable).String())
}
