package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashstream/engine/internal/model"
)

func TestPairVariantsCrossProduct(t *testing.T) {
	video := []*Stream{{ID: "v1", Bandwidth: 1_000_000}, {ID: "v2", Bandwidth: 2_000_000}}
	audio := []*Stream{{ID: "a1", Bandwidth: 128_000}}

	variants := pairVariants(video, audio)
	require.Len(t, variants, 2)
	require.Equal(t, model.StreamID("v1"), variants[0].VideoID)
	require.Equal(t, model.StreamID("a1"), variants[0].AudioID)
	require.Equal(t, uint32(1_128_000), variants[0].Bandwidth)
}

func TestPairVariantsAudioOnly(t *testing.T) {
	audio := []*Stream{{ID: "a1", Bandwidth: 128_000}, {ID: "a2", Bandwidth: 64_000}}
	variants := pairVariants(nil, audio)
	require.Len(t, variants, 2)
	require.Equal(t, model.StreamID(""), variants[0].VideoID)
	require.Equal(t, model.StreamID("a1"), variants[0].AudioID)
}

func TestTrackTypeFor(t *testing.T) {
	require.Equal(t, model.TrackVideo, trackTypeFor("video"))
	require.Equal(t, model.TrackAudio, trackTypeFor("audio"))
	require.Equal(t, model.TrackText, trackTypeFor("text"))
	require.Equal(t, model.TrackImage, trackTypeFor("image"))
}

func TestTrackTypeFromMediaExtension(t *testing.T) {
	require.Equal(t, model.TrackAudio, trackTypeFromMediaExtension("chunk-$Number$.cmfa", model.TrackVideo))
	require.Equal(t, model.TrackText, trackTypeFromMediaExtension("sub-$Number$.cmft?x=1", model.TrackVideo))
	require.Equal(t, model.TrackVideo, trackTypeFromMediaExtension("chunk-$Number$.unknown", model.TrackVideo))
}

func TestManifestArenaPutAndGet(t *testing.T) {
	mf := &Manifest{arena: make(map[model.StreamID]*Stream)}
	mf.PutStream(&Stream{ID: "p0/v1", Type: model.TrackVideo})
	s, ok := mf.Stream("p0/v1")
	require.True(t, ok)
	require.Equal(t, model.TrackVideo, s.Type)

	_, ok = mf.Stream("missing")
	require.False(t, ok)
}
