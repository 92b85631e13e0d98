package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func refs(pairs ...[2]float64) []*Reference {
	out := make([]*Reference, len(pairs))
	for i, p := range pairs {
		out[i] = &Reference{StartTime: p[0], EndTime: p[1]}
	}
	return out
}

func TestIndexFind(t *testing.T) {
	idx := NewIndex(refs([2]float64{0, 10}, [2]float64{10, 20}, [2]float64{20, 30}))
	require.Equal(t, 0, idx.Find(5))
	require.Equal(t, 1, idx.Find(10))
	require.Equal(t, 2, idx.Find(25))
	require.Equal(t, -1, idx.Find(30))
}

func TestIndexEvict(t *testing.T) {
	idx := NewIndex(refs([2]float64{0, 10}, [2]float64{10, 20}, [2]float64{20, 30}))
	idx.Evict(15)
	require.Equal(t, 2, idx.Len())
	require.Equal(t, 10.0, idx.Get(0).StartTime)
}

func TestIndexMergeIdempotent(t *testing.T) {
	idx := NewIndex(refs([2]float64{0, 10}))
	idx.Merge(refs([2]float64{0, 10})) // re-declaring existing <S t=0> is a no-op
	require.Equal(t, 1, idx.Len())

	idx.Merge(refs([2]float64{10, 20}))
	require.Equal(t, 2, idx.Len())
	require.Equal(t, 20.0, idx.Last().EndTime)
}

func TestCursorAdvance(t *testing.T) {
	idx := NewIndex(refs([2]float64{0, 10}, [2]float64{10, 20}))
	cur := idx.IteratorFrom(5)
	require.Equal(t, 0.0, cur.Current().StartTime)
	next := cur.Advance()
	require.Equal(t, 10.0, next.StartTime)
	require.Nil(t, cur.Advance())
}
