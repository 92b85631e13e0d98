package emsgscan

import (
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/require"

	"github.com/dashstream/engine/pkg/scte35"
)

func TestClassifyManifestUpdate(t *testing.T) {
	box := &mp4.EmsgBox{
		Version:          1,
		SchemeIDURI:      SchemeManifestUpdate,
		Value:            "1",
		ID:               7,
		TimeScale:        90000,
		PresentationTime: 900000,
	}
	e := classify(box, 0)
	require.Equal(t, KindManifestUpdate, e.Kind)
	require.Equal(t, 10.0, e.PresentationTimeSeconds())
}

func TestClassifyV0UsesMediaStartPlusDelta(t *testing.T) {
	box := &mp4.EmsgBox{
		Version:               0,
		SchemeIDURI:           SchemeManifestUpdate,
		TimeScale:             90000,
		PresentationTimeDelta: 45000,
	}
	e := classify(box, 20.0)
	require.Equal(t, 20.5, e.PresentationTimeSeconds())
}

func TestClassifyUnknownScheme(t *testing.T) {
	box := &mp4.EmsgBox{SchemeIDURI: "urn:example:other"}
	e := classify(box, 0)
	require.Equal(t, KindUnknown, e.Kind)
}

func TestClassifySCTE35MalformedPayloadStillClassifies(t *testing.T) {
	box := &mp4.EmsgBox{SchemeIDURI: SchemeSCTE35, MessageData: []byte{0x00, 0x01}}
	e := classify(box, 0)
	require.Equal(t, KindSCTE35, e.Kind)
	require.Nil(t, e.SpliceInfo)
}

func TestManifestUpdateSignalled(t *testing.T) {
	require.False(t, ManifestUpdateSignalled(nil))
	require.True(t, ManifestUpdateSignalled([]Event{{Kind: KindManifestUpdate}}))
	require.False(t, ManifestUpdateSignalled([]Event{{Kind: KindSCTE35}}))
}

// TestClassifyDecodesIngestGeneratedSpliceInsert feeds a box built by the
// ingest side's own SCTE-35 emsg generator back through classify, the way a
// player receiving a CMAF chunk from that ingest would.
func TestClassifyDecodesIngestGeneratedSpliceInsert(t *testing.T) {
	const timescale = 90000
	// perMinute=1 announces its splice insert 7s ahead of the 10s mark, i.e.
	// at the 3s mark; straddle that with the scanned segment's window.
	box, err := scte35.CreateEmsgAhead(2*timescale, 4*timescale, timescale, 1)
	require.NoError(t, err)
	require.NotNil(t, box)

	e := classify(box, 0)
	require.Equal(t, KindSCTE35, e.Kind)
	require.NotNil(t, e.SpliceInfo)
}

func TestPresentationTimeSecondsZeroTimescale(t *testing.T) {
	e := Event{PresentationTime: 500}
	require.Equal(t, 0.0, e.PresentationTimeSeconds())
}
