package buffersink

import (
	"bytes"
	"io"

	"github.com/dashstream/engine/internal/model"
	"github.com/dashstream/engine/pkg/chunkparser"
)

// StreamAppender is an optional Sink capability (low-latency CMAF
// ingest): a sink that can consume a segment body incrementally, chunk by
// chunk, rather than only once the whole body has been fetched. The
// Streaming Engine type-asserts for this before falling back to Append.
type StreamAppender interface {
	AppendStreamBytes(track model.TrackType, data []byte, windowStart, windowEnd, timestampOffset float64) error
}

// AppendStream feeds a CMAF segment to the sink chunk by chunk as bytes
// arrive on r, rather than waiting for the whole segment body. Each
// moof+mdat chunk is appended the moment it is complete, which is what
// lets a low-latency player start decoding before the segment's final
// byte has been fetched. Chunk boundaries are detected with
// chunkparser.MP4ChunkParser, the same box-walk the ingest side of the
// pipeline uses to split incoming CMAF chunks.
func (s *Ref) AppendStream(track model.TrackType, r io.Reader, windowStart, windowEnd, timestampOffset float64) error {
	var appendErr error
	// Ref.Append already distinguishes an init segment from a media
	// fragment by decoding f.Init vs f.Segments, so chunk boundaries need
	// no init/media split here: every complete chunk, moov or moof+mdat,
	// is handed to Append as it completes.
	parser := chunkparser.NewMP4ChunkParser(r, make([]byte, 0, 64*1024), func(cd chunkparser.ChunkData) error {
		if len(cd.Data) == 0 {
			return nil
		}
		if err := s.Append(track, cd.Data, windowStart, windowEnd, timestampOffset); err != nil {
			appendErr = err
			return err
		}
		return nil
	})
	if err := parser.Parse(); err != nil {
		return err
	}
	return appendErr
}

// AppendStreamBytes is a convenience wrapper over AppendStream for callers
// that already hold the full segment body in memory (the common case
// outside low-latency chunked transfer).
func (s *Ref) AppendStreamBytes(track model.TrackType, data []byte, windowStart, windowEnd, timestampOffset float64) error {
	return s.AppendStream(track, bytes.NewReader(data), windowStart, windowEnd, timestampOffset)
}
