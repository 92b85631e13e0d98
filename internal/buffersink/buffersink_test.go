package buffersink

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashstream/engine/internal/model"
)

func TestMergeSpanCoalescesOverlap(t *testing.T) {
	ranges := mergeSpan([]span{{0, 4}}, span{3, 8})
	require.Equal(t, []span{{0, 8}}, ranges)
}

func TestMergeSpanKeepsDisjoint(t *testing.T) {
	ranges := mergeSpan([]span{{0, 4}}, span{10, 12})
	require.Equal(t, []span{{0, 4}, {10, 12}}, ranges)
}

func TestBufferStartEndOnSeededRanges(t *testing.T) {
	s := New()
	s.tracks[model.TrackVideo] = &trackState{ranges: []span{{2, 6}, {6, 10}}, windowEnd: math.Inf(1)}

	start, ok := s.BufferStart(model.TrackVideo)
	require.True(t, ok)
	require.Equal(t, 2.0, start)

	end, ok := s.BufferEnd(model.TrackVideo)
	require.True(t, ok)
	require.Equal(t, 10.0, end)

	require.True(t, s.IsBuffered(model.TrackVideo, 5))
	require.False(t, s.IsBuffered(model.TrackVideo, 11))
	require.Equal(t, 5.0, s.BufferedAheadOf(model.TrackVideo, 5))
}

func TestRemoveSplitsRange(t *testing.T) {
	s := New()
	s.tracks[model.TrackAudio] = &trackState{ranges: []span{{0, 10}}, windowEnd: math.Inf(1)}

	require.NoError(t, s.Remove(model.TrackAudio, 4, 6))

	got := s.tracks[model.TrackAudio].ranges
	require.Equal(t, []span{{0, 4}, {6, 10}}, got)
}

func TestClearEmptiesRanges(t *testing.T) {
	s := New()
	s.tracks[model.TrackText] = &trackState{ranges: []span{{0, 10}}}
	require.NoError(t, s.Clear(model.TrackText))
	_, ok := s.BufferStart(model.TrackText)
	require.False(t, ok)
}

func TestAppendMediaBeforeInitFails(t *testing.T) {
	s := New()
	err := s.Append(model.TrackVideo, []byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'}, 0, math.Inf(1), 0)
	require.Error(t, err)
	var mErr *model.Error
	require.ErrorAs(t, err, &mErr)
	require.Equal(t, model.CodeMediaSourceFailed, mErr.Code)
}

func TestSetGetDuration(t *testing.T) {
	s := New()
	s.SetDuration(42.5)
	require.Equal(t, 42.5, s.GetDuration())
}

func TestEndOfStreamRecordsCall(t *testing.T) {
	s := New()
	require.False(t, s.EndOfStreamCalled())
	require.NoError(t, s.EndOfStream())
	require.True(t, s.EndOfStreamCalled())
}
