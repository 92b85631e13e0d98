package streaming

import (
	"github.com/dashstream/engine/internal/buffersink"
	"github.com/dashstream/engine/internal/manifest"
	"github.com/dashstream/engine/internal/model"
)

// SwitchVariant implements §4.4.3: makes v the active variant for the
// audio and video MediaStates, aborting an in-flight fetch only when the
// deterministic size/throughput comparison favours the new segment.
func (e *Engine) SwitchVariant(v *manifest.Variant, clear bool, safeMargin float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return model.NewError(model.SeverityCritical, model.CategoryPlayer, model.CodeMediaSourceFailed, errEngineDestroyed)
	}

	prev := e.activeVariant
	e.activeVariant = v

	pairs := []struct {
		typ model.TrackType
		id  model.StreamID
	}{
		{model.TrackAudio, v.AudioID},
		{model.TrackVideo, v.VideoID},
	}

	for _, p := range pairs {
		if p.id == "" {
			continue
		}
		ms, existed := e.states[p.typ]
		sameAsPrevious := existed && ms.streamID == p.id
		if !existed {
			ms = newMediaState(p.typ, p.id)
			e.states[p.typ] = ms
		}

		if existed && !sameAsPrevious {
			e.maybeAbort(ms, p.id)
		}

		ms.mu.Lock()
		ms.streamID = p.id
		if !sameAsPrevious {
			ms.lastInitRef = nil
			ms.lastAppendedStreamID = ""
			ms.cursor = nil
			ms.pendingSeg = nil
		}
		ms.mu.Unlock()

		sharedWithPrevious := prev != nil && ((p.typ == model.TrackAudio && prev.AudioID == p.id) ||
			(p.typ == model.TrackVideo && prev.VideoID == p.id))

		if clear && !sharedWithPrevious {
			now := e.playhead.PresentationTime()
			ms.mu.Lock()
			ms.waitingToClearBuffer = true
			ms.clearFrom = now + safeMargin
			ms.mu.Unlock()
		}

		if e.started() {
			e.armLocked(ms)
		}
	}
	return nil
}

func (e *Engine) started() bool {
	for _, ms := range e.states {
		if ms.started {
			return true
		}
	}
	return false
}

// maybeAbort applies the §4.4.3 abort decision to ms's in-flight request,
// if any, before ms's stream id is reassigned to newStreamID.
func (e *Engine) maybeAbort(ms *MediaState, newStreamID model.StreamID) {
	ms.mu.Lock()
	op := ms.operation
	ms.mu.Unlock()
	if op == nil {
		return
	}

	remaining := op.BytesRemaining()
	if remaining == 0 || remaining <= e.cfg.AbortThresholdBytes {
		return
	}

	newStream, ok := e.mf.Stream(newStreamID)
	if !ok {
		return
	}
	var newTotal uint64
	if newStream.HasSegmentIndex() {
		if seg := newStream.SegmentIndex().First(); seg != nil {
			newTotal = seg.Size()
		}
	}
	if newStream.InitRef != nil {
		ms.mu.Lock()
		changesInit := ms.lastInitRef != newStream.InitRef
		ms.mu.Unlock()
		if changesInit {
			newTotal += newStream.InitRef.Size()
		}
	}
	if newTotal == 0 {
		return // unknown size, can't claim the new fetch is faster
	}
	if shouldAbort(newTotal, remaining, e.cfg.AbortThresholdBytes) {
		op.Abort()
	}
}

// shouldAbort implements the §4.4.3 / SPEC_FULL Open-Questions decision:
// abort the in-flight fetch iff the new segment (plus init, if it changes)
// is smaller than what remains of the old one, and the old fetch still has
// more than abortThreshold bytes left (throughput cancels out of the
// comparison since both sides share the same estimate).
func shouldAbort(newTotal, remainingOld, abortThreshold uint64) bool {
	return newTotal < remainingOld && remainingOld > abortThreshold
}

// SwitchTextStream activates the text MediaState for s and always clears
// the text buffer from the current playhead onward. It does not
// re-initialise the sink; LoadNewTextStream does that before calling it.
func (e *Engine) SwitchTextStream(s *manifest.Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return model.NewError(model.SeverityCritical, model.CategoryPlayer, model.CodeMediaSourceFailed, errEngineDestroyed)
	}

	if ms, ok := e.states[model.TrackText]; ok {
		e.maybeAbort(ms, s.ID)
	}

	ms, ok := e.states[model.TrackText]
	if !ok {
		ms = newMediaState(model.TrackText, s.ID)
		e.states[model.TrackText] = ms
	}
	ms.mu.Lock()
	ms.streamID = s.ID
	ms.lastInitRef = nil
	ms.lastAppendedStreamID = ""
	ms.cursor = nil
	ms.pendingSeg = nil
	now := e.playhead.PresentationTime()
	ms.waitingToClearBuffer = true
	ms.clearFrom = now
	ms.mu.Unlock()

	e.textStreamID = s.ID
	if e.started() {
		e.armLocked(ms)
	}
	return nil
}

// UnloadTextStream destroys the text MediaState and stops text fetches.
func (e *Engine) UnloadTextStream() {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms, ok := e.states[model.TrackText]
	if !ok {
		return
	}
	ms.abortPending()
	delete(e.states, model.TrackText)
	e.textStreamID = ""
}

// LoadNewTextStream clears any existing text buffer, re-initialises the
// sink with just the text track, and begins streaming s.
func (e *Engine) LoadNewTextStream(s *manifest.Stream) error {
	e.UnloadTextStream()
	if err := e.sink.Init(map[model.TrackType]buffersink.StreamProperties{
		model.TrackText: {MimeType: s.Mime, Codecs: s.Codecs},
	}, true); err != nil {
		return model.NewError(model.SeverityCritical, model.CategoryMedia, model.CodeMediaSourceFailed, err)
	}
	return e.SwitchTextStream(s)
}

// SetTrickPlay engages or disengages trick mode for the video MediaState
// (§4.4.8). Engaging swaps in the active Stream's trick-mode variant
// without clearing the buffer; disengaging clears the trick buffer and
// forces a fresh init segment on the next normal append.
func (e *Engine) SetTrickPlay(on bool, trickStreamID model.StreamID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms, ok := e.states[model.TrackVideo]
	if !ok {
		return
	}
	if on == e.trickPlay {
		return
	}
	e.trickPlay = on

	if on {
		if trickStreamID == "" {
			return
		}
		ms.mu.Lock()
		ms.streamID = trickStreamID
		ms.cursor = nil
		ms.pendingSeg = nil
		ms.lastInitRef = nil
		ms.lastAppendedStreamID = ""
		ms.mu.Unlock()
		return
	}

	now := e.playhead.PresentationTime()
	ms.mu.Lock()
	ms.waitingToClearBuffer = true
	ms.clearFrom = now
	ms.lastInitRef = nil
	ms.lastAppendedStreamID = ""
	ms.cursor = nil
	ms.pendingSeg = nil
	ms.mu.Unlock()
	if e.activeVariant != nil {
		ms.streamID = e.activeVariant.VideoID
	}
	if e.started() {
		e.armLocked(ms)
	}
}
