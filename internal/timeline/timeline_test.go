package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVODTimeline(t *testing.T) {
	tl := NewVOD(40, 10)
	require.False(t, tl.IsLive())
	start, end := tl.SegmentAvailability()
	require.Equal(t, 0.0, start)
	require.Equal(t, 40.0, end)
}

func TestSetDurationNeverExpands(t *testing.T) {
	tl := NewVOD(40, 10)
	tl.SetDuration(50)
	require.Equal(t, 40.0, tl.Duration())
	tl.SetDuration(30)
	require.Equal(t, 30.0, tl.Duration())
	tl.SetDuration(0)
	require.Equal(t, 30.0, tl.Duration())
}

func TestLiveAvailabilityWindow(t *testing.T) {
	tl := NewLive(time.Now(), 60, 10, 5)
	tl.SetSegmentAvailabilityEnd(140)
	start, end := tl.SegmentAvailability()
	require.Equal(t, 70.0, start) // 140 - 60 - 10
	require.Equal(t, 140.0, end)
	require.Equal(t, 135.0, tl.SeekRangeEnd())
}

func TestSetStaticStopsLive(t *testing.T) {
	tl := NewLive(time.Now(), 60, 10, 5)
	tl.SetSegmentAvailabilityEnd(140)
	tl.SetStatic(150)
	require.False(t, tl.IsLive())
	require.Equal(t, 150.0, tl.Duration())
	_, end := tl.SegmentAvailability()
	require.Equal(t, 150.0, end)
}
