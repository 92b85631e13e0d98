package app

import (
	"log/slog"

	"github.com/dashstream/engine/internal/buffersink"
	"github.com/dashstream/engine/internal/model"
)

// loggingSink wraps buffersink.Ref with a debug log line on every
// successful Append, since dashstream has no real media element to hand
// decoded segments to; it lets the control API's /status reflect real
// fetch/append activity end to end without an embedder.
type loggingSink struct {
	*buffersink.Ref
}

func newStdoutSink() buffersink.Sink {
	return &loggingSink{Ref: buffersink.New()}
}

func (s *loggingSink) Append(track model.TrackType, data []byte, windowStart, windowEnd, timestampOffset float64) error {
	if err := s.Ref.Append(track, data, windowStart, windowEnd, timestampOffset); err != nil {
		return err
	}
	slog.Debug("appended segment", "track", track, "bytes", len(data))
	return nil
}

// AppendStreamBytes overrides the embedded Ref's promoted method so the
// chunked append path logs the same way the whole-body path does; Ref's
// own AppendStream/AppendStreamBytes call back into Ref.Append directly
// and would otherwise bypass this wrapper's logging entirely.
func (s *loggingSink) AppendStreamBytes(track model.TrackType, data []byte, windowStart, windowEnd, timestampOffset float64) error {
	if err := s.Ref.AppendStreamBytes(track, data, windowStart, windowEnd, timestampOffset); err != nil {
		return err
	}
	slog.Debug("appended segment (chunked)", "track", track, "bytes", len(data))
	return nil
}
