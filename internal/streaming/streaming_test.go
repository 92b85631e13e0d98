package streaming

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashstream/engine/internal/buffersink"
	"github.com/dashstream/engine/internal/manifest"
	"github.com/dashstream/engine/internal/model"
	"github.com/dashstream/engine/internal/timeline"
)

// fakeSink is a minimal buffersink.Sink double for exercising evict/
// duration/buffered-range logic without mp4ff-decoding real segments.
type fakeSink struct {
	mu       sync.Mutex
	starts   map[model.TrackType]float64
	ends     map[model.TrackType]float64
	duration float64
	removed  []removedRange
}

type removedRange struct {
	typ        model.TrackType
	start, end float64
}

func newFakeSink() *fakeSink {
	return &fakeSink{starts: map[model.TrackType]float64{}, ends: map[model.TrackType]float64{}}
}

func (f *fakeSink) Init(map[model.TrackType]buffersink.StreamProperties, bool) error { return nil }
func (f *fakeSink) Append(model.TrackType, []byte, float64, float64, float64) error  { return nil }
func (f *fakeSink) Remove(track model.TrackType, start, end float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, removedRange{track, start, end})
	f.starts[track] = end
	return nil
}
func (f *fakeSink) Clear(track model.TrackType) error { return nil }
func (f *fakeSink) BufferStart(track model.TrackType) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.starts[track]
	return v, ok
}
func (f *fakeSink) BufferEnd(track model.TrackType) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.ends[track]
	return v, ok
}
func (f *fakeSink) BufferedAheadOf(model.TrackType, float64) float64 { return 0 }
func (f *fakeSink) IsBuffered(model.TrackType, float64) bool         { return false }
func (f *fakeSink) SetStreamProperties(model.TrackType, float64, float64, float64) {}
func (f *fakeSink) SetDuration(d float64)                                          { f.duration = d }
func (f *fakeSink) GetDuration() float64                                           { return f.duration }
func (f *fakeSink) ResetCaptionParser()                                            {}
func (f *fakeSink) SetSelectedClosedCaptionID(string)                              {}
func (f *fakeSink) EndOfStream() error                                             { return nil }

type fixedPlayhead float64

func (p fixedPlayhead) PresentationTime() float64 { return float64(p) }

func newTestEngine(sink buffersink.Sink, playhead Playhead) *Engine {
	mf := &manifest.Manifest{Timeline: timeline.NewVOD(100, 4)}
	return New(mf, sink, nil, playhead, DefaultConfig(), nil, nil, nil)
}

func TestShouldAbortSmallerAndOverThreshold(t *testing.T) {
	require.True(t, shouldAbort(10*1024, 50*1024, 16*1024))
}

func TestShouldAbortNotSmaller(t *testing.T) {
	require.False(t, shouldAbort(60*1024, 50*1024, 16*1024))
}

func TestShouldAbortBelowThreshold(t *testing.T) {
	require.False(t, shouldAbort(1024, 2048, 16*1024))
}

func TestEvictRespectsMinBufferFloor(t *testing.T) {
	sink := newFakeSink()
	sink.starts[model.TrackVideo] = 0

	e := newTestEngine(sink, fixedPlayhead(50))
	e.mf.MinBufferTime = 10
	cfg := DefaultConfig()
	cfg.BufferBehind = 5

	ms := newMediaState(model.TrackVideo, "v0")
	e.evict(ms, 50, cfg)

	require.Len(t, sink.removed, 1)
	require.Equal(t, 0.0, sink.removed[0].start)
	require.Equal(t, 40.0, sink.removed[0].end) // clamped to playhead - minBufferTime, not playhead - bufferBehind(45)
}

func TestEvictNoOpWhenNothingOld(t *testing.T) {
	sink := newFakeSink()
	sink.starts[model.TrackVideo] = 48

	e := newTestEngine(sink, fixedPlayhead(50))
	cfg := DefaultConfig()
	cfg.BufferBehind = 5

	ms := newMediaState(model.TrackVideo, "v0")
	e.evict(ms, 50, cfg)

	require.Empty(t, sink.removed)
}

func TestUpdateDurationNeverExpands(t *testing.T) {
	sink := newFakeSink()
	sink.duration = 40
	e := newTestEngine(sink, fixedPlayhead(0))

	e.updateDuration()
	require.Equal(t, 40.0, e.mf.Timeline.Duration())

	sink.duration = 200
	e.updateDuration()
	require.Equal(t, 40.0, e.mf.Timeline.Duration(), "duration must never expand")
}

func TestUpdateDurationIgnoresSpuriousZero(t *testing.T) {
	sink := newFakeSink()
	sink.duration = 0
	e := newTestEngine(sink, fixedPlayhead(0))

	e.updateDuration()
	require.Equal(t, 100.0, e.mf.Timeline.Duration())
}

func TestHandleQuotaFirstStrikeRecoversSecondIsCritical(t *testing.T) {
	sink := newFakeSink()
	e := newTestEngine(sink, fixedPlayhead(10))
	ms := newMediaState(model.TrackVideo, "v0")

	var reported []*model.Error
	e.onError = func(err *model.Error) { reported = append(reported, err) }

	e.handleQuota(ms, errSentinel{})
	require.Len(t, reported, 1)
	require.Equal(t, model.SeverityRecoverable, reported[0].Severity)
	require.False(t, e.retryBlocked)

	e.handleQuota(ms, errSentinel{})
	require.Len(t, reported, 2)
	require.Equal(t, model.SeverityCritical, reported[1].Severity)
	require.True(t, e.retryBlocked)
}

type errSentinel struct{}

func (errSentinel) Error() string { return "quota" }

func TestDestroyAbortsPendingAndIsIdempotent(t *testing.T) {
	sink := newFakeSink()
	e := newTestEngine(sink, fixedPlayhead(0))
	e.Destroy()
	require.True(t, e.destroyed)
	e.Destroy() // must not panic or block
}

func TestRetryBlockedAfterDestroy(t *testing.T) {
	sink := newFakeSink()
	e := newTestEngine(sink, fixedPlayhead(0))
	e.Destroy()
	require.False(t, e.Retry())
}

func TestSwitchVariantAssignsStreamIDs(t *testing.T) {
	sink := newFakeSink()
	e := newTestEngine(sink, fixedPlayhead(0))
	e.mf.PutStream(&manifest.Stream{ID: "a0", Type: model.TrackAudio})
	e.mf.PutStream(&manifest.Stream{ID: "v0", Type: model.TrackVideo})

	v := &manifest.Variant{AudioID: "a0", VideoID: "v0"}
	require.NoError(t, e.SwitchVariant(v, false, 0))

	require.Equal(t, model.StreamID("a0"), e.states[model.TrackAudio].streamID)
	require.Equal(t, model.StreamID("v0"), e.states[model.TrackVideo].streamID)
}

func TestSwitchVariantAudioOnlySkipsVideo(t *testing.T) {
	sink := newFakeSink()
	e := newTestEngine(sink, fixedPlayhead(0))
	e.mf.PutStream(&manifest.Stream{ID: "a0", Type: model.TrackAudio})

	v := &manifest.Variant{AudioID: "a0"}
	require.NoError(t, e.SwitchVariant(v, false, 0))

	_, hasVideo := e.states[model.TrackVideo]
	require.False(t, hasVideo)
}

// fakeStreamSink adds the StreamAppender capability on top of fakeSink, so
// tests can assert the engine prefers chunked append over whole-body
// Append when a sink exposes it.
type fakeStreamSink struct {
	*fakeSink
	streamed []streamedAppend
}

type streamedAppend struct {
	typ  model.TrackType
	size int
}

func newFakeStreamSink() *fakeStreamSink {
	return &fakeStreamSink{fakeSink: newFakeSink()}
}

func (f *fakeStreamSink) AppendStreamBytes(track model.TrackType, data []byte, _, _, _ float64) error {
	f.streamed = append(f.streamed, streamedAppend{typ: track, size: len(data)})
	return nil
}

func TestAppendToSinkPrefersStreamAppender(t *testing.T) {
	sink := newFakeStreamSink()
	e := newTestEngine(sink, fixedPlayhead(0))

	require.NoError(t, e.appendToSink(model.TrackVideo, []byte{1, 2, 3}, 0, 10, 0))

	require.Len(t, sink.streamed, 1)
	require.Equal(t, model.TrackVideo, sink.streamed[0].typ)
	require.Equal(t, 3, sink.streamed[0].size)
}

func TestAppendToSinkFallsBackWithoutStreamAppender(t *testing.T) {
	sink := newFakeSink()
	e := newTestEngine(sink, fixedPlayhead(0))

	require.NoError(t, e.appendToSink(model.TrackAudio, []byte{1, 2, 3}, 0, 10, 0))
}
