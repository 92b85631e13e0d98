package buffersink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashstream/engine/internal/model"
)

// TestAppendStreamBytesMatchesAppendErrorPath exercises the chunked append
// path end to end (chunkparser box-walk -> Append -> mp4ff decode) the way
// the Streaming Engine's appendToSink helper does when a Sink implements
// StreamAppender, confirming it surfaces the same errors as a whole-body
// Append on the same bytes.
func TestAppendStreamBytesMatchesAppendErrorPath(t *testing.T) {
	data := []byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'}

	s := New()
	err := s.AppendStreamBytes(model.TrackVideo, data, 0, 8, 0)
	require.Error(t, err)
	var mErr *model.Error
	require.ErrorAs(t, err, &mErr)
	require.Equal(t, model.CodeMediaSourceFailed, mErr.Code)
}

// TestAppendStreamReadsIncrementallyFromReader confirms AppendStream drives
// the same decode path when fed from an io.Reader rather than a []byte, as
// a chunked HTTP transfer would deliver it.
func TestAppendStreamReadsIncrementallyFromReader(t *testing.T) {
	data := []byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'}

	s := New()
	err := s.AppendStream(model.TrackAudio, bytes.NewReader(data), 0, 8, 0)
	require.Error(t, err)
	var mErr *model.Error
	require.ErrorAs(t, err, &mErr)
	require.Equal(t, model.CodeMediaSourceFailed, mErr.Code)
}

// TestStreamAppenderSatisfiedByRef confirms Ref implements the optional
// StreamAppender capability the engine type-asserts for.
func TestStreamAppenderSatisfiedByRef(t *testing.T) {
	var sa StreamAppender = New()
	require.NotNil(t, sa)
}
