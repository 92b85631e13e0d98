// Package timeline implements the Presentation Timeline (component A):
// wall-clock to media-time mapping and the live availability window.
package timeline

import (
	"sync"
	"time"
)

// PresentationTimeline holds the wall-clock/media-time mapping for a
// Manifest. VOD timelines are static; live timelines grow/shrink their
// availability window as segments are produced and evicted.
type PresentationTimeline struct {
	mu sync.RWMutex

	availabilityStart time.Time
	isLive            bool

	presentationDuration float64 // seconds; 0 means unbounded (live, no @mediaPresentationDuration)
	maxSegmentDuration   float64

	timeShiftBufferDepth        float64
	suggestedPresentationDelay  float64

	// segmentAvailabilityStart/End bound the window of media time currently
	// retrievable, relative to the presentation's own timeline origin.
	segmentAvailabilityStart float64
	segmentAvailabilityEnd   float64
}

// NewVOD builds a static timeline covering [0, duration].
func NewVOD(duration, maxSegmentDuration float64) *PresentationTimeline {
	return &PresentationTimeline{
		isLive:                   false,
		presentationDuration:     duration,
		maxSegmentDuration:       maxSegmentDuration,
		segmentAvailabilityStart: 0,
		segmentAvailabilityEnd:   duration,
	}
}

// NewLive builds a dynamic timeline anchored at availabilityStart.
func NewLive(availabilityStart time.Time, timeShiftBufferDepth, maxSegmentDuration, suggestedPresentationDelay float64) *PresentationTimeline {
	return &PresentationTimeline{
		isLive:                     true,
		availabilityStart:          availabilityStart,
		timeShiftBufferDepth:       timeShiftBufferDepth,
		maxSegmentDuration:         maxSegmentDuration,
		suggestedPresentationDelay: suggestedPresentationDelay,
	}
}

// IsLive reports whether this timeline is dynamic.
func (t *PresentationTimeline) IsLive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isLive
}

// Duration returns the current presentation duration; 0 for an unbounded
// live presentation.
func (t *PresentationTimeline) Duration() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.presentationDuration
}

// SetDuration updates the presentation duration. Per §4.4.6 the timeline
// must never expand: a non-positive d, or a d larger than a duration
// already set, is ignored. The engine's duration update is its caller;
// SetStatic sets the duration directly.
func (t *PresentationTimeline) SetDuration(d float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d <= 0 {
		return
	}
	if t.presentationDuration == 0 || d < t.presentationDuration {
		t.presentationDuration = d
	}
}

// SetStatic converts a dynamic timeline to static, as required when a patch
// replaces /MPD/@type from "dynamic" to "static".
func (t *PresentationTimeline) SetStatic(duration float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isLive = false
	t.presentationDuration = duration
	t.segmentAvailabilityEnd = duration
}

// SegmentAvailability returns the current [start, end) window, in media
// time, during which segments are fetchable. For VOD this is [0, duration)
// for the whole session.
func (t *PresentationTimeline) SegmentAvailability() (start, end float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.segmentAvailabilityStart, t.segmentAvailabilityEnd
}

// SetSegmentAvailabilityEnd is called by the live update path (driven by
// wall-clock progression or a manifest refresh) to slide the window
// forward. start is end - timeShiftBufferDepth - maxSegmentDuration,
// floored at 0.
func (t *PresentationTimeline) SetSegmentAvailabilityEnd(end float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segmentAvailabilityEnd = end
	start := end - t.timeShiftBufferDepth - t.maxSegmentDuration
	if start < 0 {
		start = 0
	}
	t.segmentAvailabilityStart = start
}

// SeekRangeEnd is the latest media time the Playhead may seek to:
// availability_end - suggested_presentation_delay.
func (t *PresentationTimeline) SeekRangeEnd() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	end := t.segmentAvailabilityEnd - t.suggestedPresentationDelay
	if end < 0 {
		return 0
	}
	return end
}

// MaxSegmentDuration returns the longest segment duration declared in the
// manifest, used to size re-arm backoffs for unavailable-region polling.
func (t *PresentationTimeline) MaxSegmentDuration() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxSegmentDuration
}
