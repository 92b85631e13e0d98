package app

import (
	"sync"
	"time"
)

// clockPlayhead is a free-running Playhead: presentation time advances at
// wall-clock speed from a zero point set at Start, and can be overridden by
// Seek for the control API's /seek endpoint. It stands in for the media
// element a browser-hosted engine would otherwise read position from.
type clockPlayhead struct {
	mu      sync.Mutex
	started time.Time
	offset  float64
}

func newClockPlayhead() *clockPlayhead {
	return &clockPlayhead{started: time.Now()}
}

func (p *clockPlayhead) PresentationTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset + time.Since(p.started).Seconds()
}

// Seek resets the playhead to t, as if a user had scrubbed the timeline.
func (p *clockPlayhead) Seek(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = time.Now()
	p.offset = t
}
