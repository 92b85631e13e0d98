package streaming

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dashstream/engine/internal/buffersink"
	"github.com/dashstream/engine/internal/emsgscan"
	"github.com/dashstream/engine/internal/fetch"
	"github.com/dashstream/engine/internal/manifest"
	"github.com/dashstream/engine/internal/model"
	"github.com/dashstream/engine/internal/segment"
)

// MediaState is the per-track state machine described in §3: one per
// active track, running an independent update cycle (§4.4.2).
type MediaState struct {
	mu sync.Mutex

	typ      model.TrackType
	streamID model.StreamID

	cursor      *segment.Cursor
	lastSegRef  *segment.Reference
	pendingSeg  *segment.Reference // selected but not yet successfully appended; retried as-is on fetch/append failure
	lastInitRef *segment.InitSegmentReference

	performingUpdate     bool
	waitingToClearBuffer bool
	clearFrom            float64
	endOfStream          bool
	lastAppendedStreamID model.StreamID


	operation *fetch.PendingRequest

	started bool
	wakeCh  chan struct{}
}

func newMediaState(typ model.TrackType, streamID model.StreamID) *MediaState {
	return &MediaState{
		typ:      typ,
		streamID: streamID,
		wakeCh:   make(chan struct{}, 1),
	}
}

// wake re-arms the MediaState's loop for an immediate iteration rather than
// waiting out its current backoff.
func (ms *MediaState) wake() {
	select {
	case ms.wakeCh <- struct{}{}:
	default:
	}
}

func (ms *MediaState) abortPending() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.operation != nil {
		ms.operation.Abort()
		ms.operation = nil
	}
}

// bufferedRange returns the sink's current [start,end) for this track, or
// [0,0) if nothing is buffered.
func (ms *MediaState) bufferedRange(sink buffersink.Sink) (float64, float64) {
	start, ok := sink.BufferStart(ms.typ)
	if !ok {
		return 0, 0
	}
	end, _ := sink.BufferEnd(ms.typ)
	return start, end
}

// scheduleUnavailableRetry arms a re-check after half a segment duration,
// per §4.4.7's "seeks into an unavailable live region do not cause the
// engine to spin" rule.
func (ms *MediaState) scheduleUnavailableRetry(maxSegDur float64) {
	if maxSegDur <= 0 {
		maxSegDur = 2
	}
	go func() {
		time.Sleep(time.Duration(maxSegDur/2*float64(time.Second)))
		ms.wake()
	}()
}

// runTrack drives ms's cooperative update cycle until the engine's context
// is cancelled, re-arming a single-shot timer at the end of each iteration
// (§4.4.2) or immediately on an explicit wake (switch, seek, retry).
func (e *Engine) runTrack(ms *MediaState) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ms.wakeCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(0)
		case <-timer.C:
			delay := e.step(ms)
			timer.Reset(delay)
		}
	}
}

// step runs one iteration of the update cycle for ms and returns how long
// to wait before the next one. It is the direct translation of §4.4.2.
func (e *Engine) step(ms *MediaState) time.Duration {
	const idleBackoff = 200 * time.Millisecond

	ms.mu.Lock()
	if ms.performingUpdate {
		ms.mu.Unlock()
		return idleBackoff
	}
	if ms.waitingToClearBuffer {
		from := ms.clearFrom
		ms.waitingToClearBuffer = false
		ms.mu.Unlock()
		if err := e.clearBuffer(ms, from); err != nil {
			e.reportError(model.NewError(model.SeverityCritical, model.CategoryMedia, model.CodeMediaSourceFailed, err))
			return idleBackoff
		}
		return 0
	}
	ms.performingUpdate = true
	ms.mu.Unlock()

	defer func() {
		ms.mu.Lock()
		ms.performingUpdate = false
		ms.mu.Unlock()
	}()

	stream, ok := e.mf.Stream(ms.streamID)
	if !ok {
		return idleBackoff
	}

	playhead := e.playhead.PresentationTime()
	cfg := e.config()

	bufferedAhead := e.sink.BufferedAheadOf(ms.typ, playhead)
	target := playhead + bufferedAhead
	if ceiling := e.fairBufferCeiling(ms.typ); target > ceiling {
		target = ceiling
	}

	duration := e.mf.Timeline.Duration()
	if duration > 0 && playhead+bufferedAhead >= duration {
		ms.mu.Lock()
		ms.endOfStream = true
		ms.mu.Unlock()
		if e.allEndOfStream() {
			_ = e.sink.EndOfStream()
		}
		return idleBackoff
	}

	if end, ok := e.sink.BufferEnd(ms.typ); ok && end-playhead >= cfg.BufferingGoal {
		return idleBackoff
	}

	if !stream.HasSegmentIndex() {
		if _, err := stream.CreateSegmentIndex(); err != nil {
			e.reportError(toEngineError(err))
			return cfg.Retry.BaseDelay
		}
	}
	idx := stream.SegmentIndex()

	ms.mu.Lock()
	seg := ms.pendingSeg
	if seg == nil {
		if ms.cursor == nil {
			ms.cursor = idx.IteratorFrom(target)
			seg = ms.cursor.Current()
		} else {
			seg = ms.cursor.Advance()
		}
		ms.pendingSeg = seg
	}
	ms.mu.Unlock()

	if seg == nil {
		return idleBackoff
	}

	if e.mf.Timeline.IsLive() {
		availStart, availEnd := e.mf.Timeline.SegmentAvailability()
		if seg.StartTime < availStart || seg.StartTime > availEnd {
			return time.Duration(e.mf.Timeline.MaxSegmentDuration() / 2 * float64(time.Second))
		}
	}

	ms.mu.Lock()
	needsInit := seg.InitRef != ms.lastInitRef || ms.lastAppendedStreamID != stream.ID
	ms.mu.Unlock()
	if needsInit {
		if err := e.appendInit(ms, stream, seg.InitRef); err != nil {
			e.reportError(model.NewError(model.SeverityCritical, model.CategoryMedia, model.CodeMediaSourceFailed, err))
			return idleBackoff
		}
	}

	resp, err := e.fetchSegment(ms, seg, cfg)
	if err != nil {
		if err == model.ErrAborted {
			return 0
		}
		e.reportError(toEngineError(err))
		return cfg.Retry.BaseDelay
	}

	if err := e.appendSegment(ms, stream, seg, resp.Bytes); err != nil {
		if quotaErr, isQuota := asQuotaError(err); isQuota {
			return e.handleQuota(ms, quotaErr)
		}
		e.reportError(model.NewError(model.SeverityCritical, model.CategoryMedia, model.CodeMediaSourceFailed, err))
		return idleBackoff
	}

	ms.mu.Lock()
	ms.lastSegRef = seg
	ms.pendingSeg = nil
	ms.operation = nil
	ms.mu.Unlock()

	e.evict(ms, playhead, cfg)
	e.updateDuration()

	return 0
}

func (e *Engine) allEndOfStream() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ms := range e.states {
		ms.mu.Lock()
		eos := ms.endOfStream
		ms.mu.Unlock()
		if !eos {
			return false
		}
	}
	return len(e.states) > 0
}

func (e *Engine) appendInit(ms *MediaState, stream *manifest.Stream, initRef *segment.InitSegmentReference) error {
	if initRef == nil {
		return nil
	}
	resp, err := e.fetchBytes(initRef.URIs, initRef.ByteRange, fetch.ContentInitSegment, e.config().Retry)
	if err != nil {
		return err
	}
	if err := e.appendToSink(ms.typ, resp.Bytes, 0, math.Inf(1), 0); err != nil {
		return err
	}
	ms.mu.Lock()
	ms.lastInitRef = initRef
	ms.lastAppendedStreamID = stream.ID
	ms.mu.Unlock()
	if ms.typ == model.TrackVideo {
		e.sink.ResetCaptionParser()
	}
	return nil
}

// appendToSink prefers a sink's chunked StreamAppender capability over a
// single whole-body Append when the sink exposes it. data is always the
// complete fetched body, so the sink splits it into CMAF chunks only after
// the whole segment has been fetched.
func (e *Engine) appendToSink(track model.TrackType, data []byte, windowStart, windowEnd, timestampOffset float64) error {
	if sa, ok := e.sink.(buffersink.StreamAppender); ok {
		return sa.AppendStreamBytes(track, data, windowStart, windowEnd, timestampOffset)
	}
	return e.sink.Append(track, data, windowStart, windowEnd, timestampOffset)
}

func (e *Engine) fetchSegment(ms *MediaState, seg *segment.Reference, cfg Config) (*fetch.Response, error) {
	pr := e.fetcher.Request(e.ctx, fetch.RequestSpec{
		URIs:      seg.URIs,
		ByteRange: fetch.ByteRange{Start: seg.ByteRange.Start, End: seg.ByteRange.End},
		Type:      fetch.ContentSegment,
		Retry:     cfg.Retry,
	})
	ms.mu.Lock()
	ms.operation = pr
	ms.mu.Unlock()
	resp, err := pr.Await(e.ctx)
	ms.mu.Lock()
	ms.operation = nil
	ms.mu.Unlock()
	return resp, err
}

func (e *Engine) fetchBytes(uris []string, br segment.ByteRange, ct fetch.ContentType, retry model.RetryParams) (*fetch.Response, error) {
	pr := e.fetcher.Request(e.ctx, fetch.RequestSpec{
		URIs:      uris,
		ByteRange: fetch.ByteRange{Start: br.Start, End: br.End},
		Type:      ct,
		Retry:     retry,
	})
	return pr.Await(e.ctx)
}

func (e *Engine) appendSegment(ms *MediaState, stream *manifest.Stream, seg *segment.Reference, data []byte) error {
	if err := e.appendToSink(ms.typ, data, seg.AppendWindowStart, seg.AppendWindowEnd, seg.TimestampOffset); err != nil {
		return err
	}
	if ms.typ == model.TrackVideo && len(stream.EmsgSchemeIDURIs) > 0 {
		events, err := emsgscan.Scan(data)
		if err == nil && emsgscan.ManifestUpdateSignalled(events) && e.onManifestUpdate != nil {
			e.onManifestUpdate()
		}
	}
	return nil
}

// clearBuffer implements §4.4.4: clear [start,end] for ms's track, where
// start is pulled forward to buffered_start when clearing safely and
// there is still content before the playhead.
func (e *Engine) clearBuffer(ms *MediaState, from float64) error {
	start, _ := ms.bufferedRange(e.sink)
	if from < start {
		from = start
	}
	if err := e.sink.Remove(ms.typ, from, math.Inf(1)); err != nil {
		return err
	}
	ms.mu.Lock()
	ms.lastSegRef = nil
	ms.cursor = nil
	ms.pendingSeg = nil
	ms.mu.Unlock()
	return nil
}

// evict implements §4.4.5: drop buffered content older than
// playhead - buffer_behind, never crossing playhead - min_buffer_time.
func (e *Engine) evict(ms *MediaState, playhead float64, cfg Config) {
	evictTo := playhead - cfg.BufferBehind
	start, ok := e.sink.BufferStart(ms.typ)
	if !ok || start >= evictTo {
		return
	}
	floor := playhead - e.mf.MinBufferTime
	if evictTo > floor {
		evictTo = floor
	}
	if evictTo <= start {
		return
	}
	_ = e.sink.Remove(ms.typ, start, evictTo)
}

// updateDuration implements §4.4.6: the timeline may only shrink, and a
// spurious get_duration() of 0 is ignored.
func (e *Engine) updateDuration() {
	d := e.sink.GetDuration()
	if d <= 0 {
		return
	}
	current := e.mf.Timeline.Duration()
	if current == 0 || d < current {
		e.mf.Timeline.SetDuration(d)
	}
}

// handleQuota implements §4.4.9's quota-exceeded policy: first strike
// shrinks buffer_behind by 20% and retries; a second strike on the same
// track is critical and blocks further retry().
func (e *Engine) handleQuota(ms *MediaState, cause error) time.Duration {
	e.mu.Lock()
	e.quotaStrikes[ms.typ]++
	strikes := e.quotaStrikes[ms.typ]
	if strikes == 1 {
		e.cfg.BufferBehind *= 0.8
	}
	e.mu.Unlock()

	if strikes >= 2 {
		e.reportError(model.NewError(model.SeverityCritical, model.CategoryMedia, model.CodeQuotaExceeded, cause))
		return 500 * time.Millisecond
	}
	e.reportError(&model.Error{Severity: model.SeverityRecoverable, Category: model.CategoryMedia, Code: model.CodeQuotaExceeded, Handled: true})
	e.evict(ms, e.playhead.PresentationTime(), e.config())
	return 0
}

func toEngineError(err error) *model.Error {
	var mErr *model.Error
	if asModelError(err, &mErr) {
		return mErr
	}
	return model.NewError(model.SeverityRecoverable, model.CategoryNetwork, model.CodeHTTPError, err)
}

func asModelError(err error, target **model.Error) bool {
	for err != nil {
		if me, ok := err.(*model.Error); ok {
			*target = me
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// quotaError marks a sink error as a Media Source quota-exceeded
// condition; buffersink.Ref does not raise this today (it has no real
// storage ceiling) but an embedder-backed Sink can return one wrapped this
// way to drive §4.4.9's recovery path.
type quotaError struct{ cause error }

func (q quotaError) Error() string { return fmt.Sprintf("quota exceeded: %v", q.cause) }
func (q quotaError) Unwrap() error { return q.cause }

func asQuotaError(err error) (error, bool) {
	if q, ok := err.(quotaError); ok {
		return q.cause, true
	}
	return nil, false
}

// NewQuotaError lets a Sink implementation signal QUOTA_EXCEEDED_ERROR from
// Append in a way the engine recognises.
func NewQuotaError(cause error) error {
	return quotaError{cause: cause}
}
