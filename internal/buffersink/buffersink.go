// Package buffersink implements the BufferSink contract (component F,
// external interface per §6): per-track append/remove/init/endOfStream,
// with buffered-range bookkeeping derived by walking CMAF fragment boxes
// with mp4ff, grounded on the init/segment decoding patterns used to load
// VOD assets (Moov/Mdhd/Trex for timescale and default sample duration,
// Moof/Traf/Tfdt/Trun for a fragment's presentation-time span).
package buffersink

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/dashstream/engine/internal/model"
)

// Sink is the interface the Streaming Engine drives (§6 BufferSink). A
// production embedder backs it with an actual Media Source buffer; Ref is
// the in-process reference implementation used for testing and for
// headless/offline playback.
type Sink interface {
	Init(tracks map[model.TrackType]StreamProperties, forDash bool) error
	Append(track model.TrackType, data []byte, windowStart, windowEnd, timestampOffset float64) error
	Remove(track model.TrackType, start, end float64) error
	Clear(track model.TrackType) error
	BufferStart(track model.TrackType) (float64, bool)
	BufferEnd(track model.TrackType) (float64, bool)
	BufferedAheadOf(track model.TrackType, t float64) float64
	IsBuffered(track model.TrackType, t float64) bool
	SetStreamProperties(track model.TrackType, timestampOffset, windowStart, windowEnd float64)
	SetDuration(d float64)
	GetDuration() float64
	ResetCaptionParser()
	SetSelectedClosedCaptionID(id string)
	EndOfStream() error
}

// StreamProperties carries the codec metadata Init needs per track.
type StreamProperties struct {
	MimeType string
	Codecs   string
}

type trackState struct {
	initialized bool
	timescale   uint32
	defaultSampleDuration uint32

	timestampOffset float64
	windowStart     float64
	windowEnd       float64

	// ranges holds disjoint, sorted, non-adjacent [start,end) buffered
	// spans, merged on Append the way a real SourceBuffer coalesces them.
	ranges []span
}

type span struct{ start, end float64 }

// Ref is the reference in-memory BufferSink.
type Ref struct {
	mu       sync.Mutex
	tracks   map[model.TrackType]*trackState
	duration float64
	eos      bool
}

// New builds an empty reference sink.
func New() *Ref {
	return &Ref{tracks: make(map[model.TrackType]*trackState)}
}

func (s *Ref) Init(tracks map[model.TrackType]StreamProperties, forDash bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range tracks {
		s.tracks[t] = &trackState{initialized: true, windowEnd: math.Inf(1)}
	}
	return nil
}

func (s *Ref) track(t model.TrackType) *trackState {
	ts, ok := s.tracks[t]
	if !ok {
		ts = &trackState{windowEnd: math.Inf(1)}
		s.tracks[t] = ts
	}
	return ts
}

// Append decodes data as a CMAF init segment (first append for a track) or
// media fragment, then records the presentation-time span it covers. Init
// segments carry no media-time span and only seed timescale/default
// sample duration bookkeeping.
func (s *Ref) Append(track model.TrackType, data []byte, windowStart, windowEnd, timestampOffset float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.track(track)
	ts.timestampOffset = timestampOffset
	ts.windowStart = windowStart
	ts.windowEnd = windowEnd

	sr := bits.NewFixedSliceReader(data)
	f, err := mp4.DecodeFileSR(sr)
	if err != nil {
		return model.NewError(model.SeverityCritical, model.CategoryMedia, model.CodeMediaSourceFailed,
			fmt.Errorf("decode appended data: %w", err))
	}

	if f.Init != nil {
		ts.timescale = f.Init.Moov.Trak.Mdia.Mdhd.Timescale
		if f.Init.Moov.Mvex != nil && f.Init.Moov.Mvex.Trex != nil {
			ts.defaultSampleDuration = f.Init.Moov.Mvex.Trex.DefaultSampleDuration
		}
		return nil
	}

	if ts.timescale == 0 {
		return model.NewError(model.SeverityCritical, model.CategoryMedia, model.CodeMediaSourceFailed,
			fmt.Errorf("media segment appended before init segment on track %s", track))
	}

	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			traf := frag.Moof.Traf
			if traf.Tfhd.HasDefaultSampleDuration() {
				ts.defaultSampleDuration = traf.Tfhd.DefaultSampleDuration
			}
			start := float64(traf.Tfdt.BaseMediaDecodeTime()) / float64(ts.timescale)
			dur := traf.Trun.Duration(ts.defaultSampleDuration)
			end := start + float64(dur)/float64(ts.timescale)
			start += timestampOffset
			end += timestampOffset
			if end > windowEnd {
				end = windowEnd
			}
			if start < windowStart {
				start = windowStart
			}
			if end > start {
				ts.ranges = mergeSpan(ts.ranges, span{start, end})
			}
		}
	}
	return nil
}

func mergeSpan(ranges []span, add span) []span {
	ranges = append(ranges, add)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func (s *Ref) Remove(track model.TrackType, start, end float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.track(track)
	var kept []span
	for _, r := range ts.ranges {
		switch {
		case r.end <= start || r.start >= end:
			kept = append(kept, r)
		case r.start < start && r.end > end:
			kept = append(kept, span{r.start, start}, span{end, r.end})
		case r.start < start:
			kept = append(kept, span{r.start, start})
		case r.end > end:
			kept = append(kept, span{end, r.end})
		}
	}
	ts.ranges = kept
	return nil
}

func (s *Ref) Clear(track model.TrackType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.track(track)
	ts.ranges = nil
	return nil
}

func (s *Ref) BufferStart(track model.TrackType) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.track(track)
	if len(ts.ranges) == 0 {
		return 0, false
	}
	return ts.ranges[0].start, true
}

func (s *Ref) BufferEnd(track model.TrackType) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.track(track)
	if len(ts.ranges) == 0 {
		return 0, false
	}
	return ts.ranges[len(ts.ranges)-1].end, true
}

func (s *Ref) BufferedAheadOf(track model.TrackType, t float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.track(track)
	for i, r := range ts.ranges {
		if t >= r.start && t < r.end {
			end := r.end
			for _, next := range ts.ranges[i+1:] {
				if next.start > end {
					break
				}
				if next.end > end {
					end = next.end
				}
			}
			return end - t
		}
	}
	return 0
}

func (s *Ref) IsBuffered(track model.TrackType, t float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.track(track)
	for _, r := range ts.ranges {
		if t >= r.start && t < r.end {
			return true
		}
	}
	return false
}

func (s *Ref) SetStreamProperties(track model.TrackType, timestampOffset, windowStart, windowEnd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.track(track)
	ts.timestampOffset = timestampOffset
	ts.windowStart = windowStart
	ts.windowEnd = windowEnd
}

func (s *Ref) SetDuration(d float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = d
}

func (s *Ref) GetDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Ref) ResetCaptionParser() {}

func (s *Ref) SetSelectedClosedCaptionID(id string) {}

func (s *Ref) EndOfStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eos = true
	return nil
}

// EndOfStreamCalled reports whether EndOfStream has been invoked at least
// once; it does not count repeated calls.
func (s *Ref) EndOfStreamCalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eos
}
