package patch

import (
	"fmt"

	m "github.com/Eyevinn/dash-mpd/mpd"
	"github.com/beevik/etree"

	"github.com/dashstream/engine/internal/manifest"
)

// Reconcile re-parses the patched DOM into a fresh Manifest Model and
// publishes it as a new version the engine can swap in atomically (§9
// design note: the Patch Applier is the arena's only writer and must
// publish new SegmentIndex entries before releasing control). Re-parsing
// the whole document rather than diffing the typed MPD tree keeps this
// package decoupled from github.com/Eyevinn/dash-mpd/mpd's internal
// representation; the cost is acceptable since patches are small and
// infrequent relative to segment fetches.
func Reconcile(doc *etree.Document, baseURL string) (*manifest.Manifest, error) {
	xmlStr, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("serialize patched mpd: %w", err)
	}
	mpd, err := m.ReadFromString(xmlStr)
	if err != nil {
		return nil, fmt.Errorf("reparse patched mpd: %w", err)
	}
	newMf, err := manifest.Build(mpd, baseURL)
	if err != nil {
		return nil, fmt.Errorf("rebuild manifest: %w", err)
	}
	return newMf, nil
}

// MergeInto folds newMf's per-stream SegmentIndex entries into the live
// oldMf's indexes via SegmentIndex.Merge, rather than discarding
// already-buffered segment state (§4.1 merge contract: idempotent for
// overlapping ranges, newer wins only on exact StartTime match).
func MergeInto(oldMf, newMf *manifest.Manifest) {
	for id, newStream := range newMf.AllStreams() {
		oldStream, ok := oldMf.Stream(id)
		if !ok {
			oldMf.PutStream(newStream)
			continue
		}
		if !oldStream.HasSegmentIndex() {
			oldMf.PutStream(newStream)
			continue
		}
		newIdx, err := newStream.CreateSegmentIndex()
		if err != nil {
			continue
		}
		oldStream.SegmentIndex().Merge(newIdx.All())
	}
}
