// Package streaming implements the Streaming Engine (component H): a
// per-track fetch/append loop driven off a cooperative single-shot timer
// per MediaState, grounded on the one-goroutine-per-actor-with-a-command-
// channel pattern used for ingest channels (cmd/cmaf-ingest-receiver's
// channel.run), generalised from one shared channel to one track per
// MediaState since tracks must progress independently under the
// fair-buffer rule (§4.4.2).
package streaming

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dashstream/engine/internal/buffersink"
	"github.com/dashstream/engine/internal/fetch"
	"github.com/dashstream/engine/internal/manifest"
	"github.com/dashstream/engine/internal/model"
)

// Playhead is the owner-supplied view of current presentation time.
type Playhead interface {
	PresentationTime() float64
}

// Config holds the engine's hot-replaceable tunables (§4.4.1 configure).
type Config struct {
	BufferingGoal       float64
	RebufferingGoal     float64
	BufferBehind        float64
	Retry               model.RetryParams
	IgnoreTextFailures  bool
	AlwaysStreamText    bool
	FailureCallback     func(*model.Error)
	AbortThresholdBytes uint64
	FairBufferSlack     float64
}

// DefaultConfig mirrors the defaults a DASH-IF reference player ships with.
func DefaultConfig() Config {
	return Config{
		BufferingGoal:       10,
		RebufferingGoal:     2,
		BufferBehind:        30,
		Retry:               model.DefaultRetryParams(),
		AbortThresholdBytes: 16 * 1024,
		FairBufferSlack:     0.5,
	}
}

// Engine is the Streaming Engine: it owns one MediaState per active track
// and drives each through the update cycle in §4.4.2.
type Engine struct {
	mu sync.Mutex

	mf       *manifest.Manifest
	sink     buffersink.Sink
	fetcher  *fetch.Fetcher
	playhead Playhead
	cfg      Config

	bandwidthEstimate func() float64
	onError           func(*model.Error)
	onManifestUpdate  func()

	states map[model.TrackType]*MediaState

	activeVariant *manifest.Variant
	textStreamID  model.StreamID
	trickPlay     bool

	destroyed    bool
	retryBlocked bool
	quotaStrikes map[model.TrackType]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine over mf, ready for switch_variant/switch_text_stream
// followed by Start. bandwidthEstimate may be nil; it is stored but not
// consulted by the abort decision in switch_variant, which compares byte
// counts only (see shouldAbort).
func New(mf *manifest.Manifest, sink buffersink.Sink, fetcher *fetch.Fetcher, playhead Playhead, cfg Config, bandwidthEstimate func() float64, onError func(*model.Error), onManifestUpdate func()) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		mf:                mf,
		sink:              sink,
		fetcher:           fetcher,
		playhead:          playhead,
		cfg:               cfg,
		bandwidthEstimate: bandwidthEstimate,
		onError:           onError,
		onManifestUpdate:  onManifestUpdate,
		states:            make(map[model.TrackType]*MediaState),
		quotaStrikes:      make(map[model.TrackType]int),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Configure hot-replaces tunables; in-flight MediaStates pick them up on
// their next iteration since they read e.cfg under e.mu each step.
func (e *Engine) Configure(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Start initialises the sink for every active track and begins each
// MediaState's update cycle. It returns once every active track has at
// least been armed; it does not wait for the first append (that would
// make startup latency-sensitive to the slowest track).
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return model.NewError(model.SeverityCritical, model.CategoryPlayer, model.CodeMediaSourceFailed, errEngineDestroyed)
	}

	tracks := make(map[model.TrackType]buffersink.StreamProperties)
	for typ, ms := range e.states {
		stream, ok := e.mf.Stream(ms.streamID)
		if !ok {
			continue
		}
		tracks[typ] = buffersink.StreamProperties{MimeType: stream.Mime, Codecs: stream.Codecs}
	}
	if err := e.sink.Init(tracks, true); err != nil {
		return model.NewError(model.SeverityCritical, model.CategoryMedia, model.CodeMediaSourceFailed, err)
	}

	for _, ms := range e.states {
		e.armLocked(ms)
	}
	return nil
}

// armLocked starts ms's update-cycle goroutine if it is not already
// running. Caller must hold e.mu.
func (e *Engine) armLocked(ms *MediaState) {
	if ms.started {
		ms.wake()
		return
	}
	ms.started = true
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTrack(ms)
	}()
}

// Seeked reconciles every active MediaState against the new playhead
// position (§4.4.7).
func (e *Engine) Seeked() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	now := e.playhead.PresentationTime()
	resetCaptions := false
	for _, ms := range e.states {
		stream, ok := e.mf.Stream(ms.streamID)
		if !ok {
			continue
		}
		if !stream.HasSegmentIndex() {
			continue
		}
		idx := stream.SegmentIndex()
		start, end := ms.bufferedRange(e.sink)
		if now >= start && now < end {
			continue // already buffered, nothing to do
		}
		pos := idx.Find(now)
		if pos < 0 {
			ms.scheduleUnavailableRetry(e.mf.Timeline.MaxSegmentDuration())
			continue
		}
		if pos > 0 {
			prev := idx.Get(pos - 1)
			if prev != nil {
				prevStart, prevEnd := ms.bufferedRange(e.sink)
				if prev.StartTime >= prevStart && prev.EndTime <= prevEnd {
					continue // preceding segment buffered, we will extend forward
				}
			}
		}
		ms.mu.Lock()
		ms.waitingToClearBuffer = true
		ms.clearFrom = 0
		ms.mu.Unlock()
		resetCaptions = true
		e.armLocked(ms)
	}
	if resetCaptions {
		e.sink.ResetCaptionParser()
	}
}

// Retry resumes all MediaStates after a recoverable network error. It
// returns false if the engine was destroyed, or retry has been blocked by
// an unhandled critical error / second quota strike on some track.
func (e *Engine) Retry() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || e.retryBlocked {
		return false
	}
	for _, ms := range e.states {
		e.armLocked(ms)
	}
	return true
}

// Destroy aborts all pending requests and timers; idempotent.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	for _, ms := range e.states {
		ms.abortPending()
	}
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) reportError(err *model.Error) {
	if err == nil {
		return
	}
	if err.Severity == model.SeverityCritical && !err.Handled {
		e.mu.Lock()
		e.retryBlocked = true
		e.mu.Unlock()
	}
	if e.onError != nil {
		e.onError(err)
	}
	if !err.Handled && e.cfg.FailureCallback != nil {
		e.cfg.FailureCallback(err)
	}
	slog.Warn("streaming engine error", "severity", err.Severity, "category", err.Category, "code", err.Code, "cause", err.Unwrap())
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// bufferedEnd returns the sink's current buffered_end for typ, or the
// playhead time if nothing is buffered yet.
func (e *Engine) bufferedEnd(typ model.TrackType) float64 {
	if end, ok := e.sink.BufferEnd(typ); ok {
		return end
	}
	return e.playhead.PresentationTime()
}

// fairBufferCeiling computes the fair-buffer clamp for typ: no type may run
// more than one segment-duration plus slack ahead of the most-behind
// active type (§4.4.2 step 2).
func (e *Engine) fairBufferCeiling(typ model.TrackType) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	minEnd := 0.0
	first := true
	for other := range e.states {
		if other == typ {
			continue
		}
		end := e.bufferedEnd(other)
		if first || end < minEnd {
			minEnd = end
			first = false
		}
	}
	if first {
		return e.playhead.PresentationTime() + e.cfg.BufferingGoal*4
	}
	return minEnd + e.mf.Timeline.MaxSegmentDuration() + e.cfg.FairBufferSlack
}

var errEngineDestroyed = errDestroyed{}

type errDestroyed struct{}

func (errDestroyed) Error() string { return "engine destroyed" }
