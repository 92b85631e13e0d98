// Package manifest implements the Manifest Model (component C): an
// immutable view of Variants/Streams/Periods consumed by the engine, built
// on top of github.com/Eyevinn/dash-mpd/mpd's parsed MPD tree.
//
// Multiple Variants may reference the same Stream id. To avoid aliasing and
// cyclic Variant<->Stream graphs, Streams live in an arena owned by the
// Manifest and are referenced everywhere else by StreamID (§9 design note).
package manifest

import (
	"fmt"

	m "github.com/Eyevinn/dash-mpd/mpd"

	"github.com/dashstream/engine/internal/model"
	"github.com/dashstream/engine/internal/segment"
	"github.com/dashstream/engine/internal/timeline"
)

// Stream is one representation's addressable metadata: codec, bandwidth,
// language, and (lazily) its SegmentIndex. segment_index stays nil until
// CreateSegmentIndex is called for the first time (§3 invariant).
type Stream struct {
	ID       model.StreamID
	Type     model.TrackType
	Mime     string
	Codecs   string
	Bandwidth uint32
	Language  string
	Roles     []string
	Primary   bool
	Label     string
	ChannelCount int

	EmsgSchemeIDURIs []string

	InitRef *segment.InitSegmentReference

	baseURL string
	media   string
	init    string
	segTmpl *m.SegmentTemplateType

	index       *segment.Index
	indexInFlight bool
}

// HasSegmentIndex reports whether the index has already been materialised.
func (s *Stream) HasSegmentIndex() bool {
	return s.index != nil
}

// SegmentIndex returns the materialised index, or nil if CreateSegmentIndex
// has not been called yet.
func (s *Stream) SegmentIndex() *segment.Index {
	return s.index
}

// CreateSegmentIndex lazily builds the SegmentIndex from the Stream's
// SegmentTemplate. It is idempotent: a second call is a no-op returning the
// existing index. Concurrent calls are serialised by the caller (the
// engine holds one MediaState per Stream, so at most one goroutine ever
// calls this for a given Stream).
func (s *Stream) CreateSegmentIndex() (*segment.Index, error) {
	if s.index != nil {
		return s.index, nil
	}
	if s.segTmpl == nil {
		return nil, model.NewError(model.SeverityCritical, model.CategoryManifest, model.CodeManifestParseError,
			fmt.Errorf("stream %s has no SegmentTemplate", s.ID))
	}
	refs, err := buildReferencesFromTemplate(s.segTmpl, s.baseURL, s.InitRef)
	if err != nil {
		return nil, model.NewError(model.SeverityRecoverable, model.CategoryManifest, model.CodeManifestParseError, err)
	}
	s.index = segment.NewIndex(refs)
	return s.index, nil
}

// Variant pairs an (optional) audio and video Stream.
type Variant struct {
	AudioID model.StreamID
	VideoID model.StreamID

	Bandwidth         uint32
	AllowedByApplication bool
	AllowedByKeySystem   bool
}

// Manifest is the immutable (except via Patch Applier) view the engine
// consumes. Streams live in an arena keyed by StreamID; Variants and
// TextStreams reference them by id rather than by pointer.
type Manifest struct {
	Timeline *timeline.PresentationTimeline

	Variants     []*Variant
	TextStreamIDs []model.StreamID
	ImageStreamIDs []model.StreamID

	MinBufferTime float64

	arena map[model.StreamID]*Stream
}

// Stream looks up a Stream by id in the arena.
func (mf *Manifest) Stream(id model.StreamID) (*Stream, bool) {
	s, ok := mf.arena[id]
	return s, ok
}

// PutStream inserts or replaces a Stream in the arena; used by the Patch
// Applier when reconciling a live update.
func (mf *Manifest) PutStream(s *Stream) {
	if mf.arena == nil {
		mf.arena = make(map[model.StreamID]*Stream)
	}
	mf.arena[s.ID] = s
}

// AllStreams returns every Stream currently in the arena, for iteration by
// the Patch Applier and tests.
func (mf *Manifest) AllStreams() map[model.StreamID]*Stream {
	return mf.arena
}
