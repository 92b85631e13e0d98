package app

import (
	"fmt"

	"github.com/dashstream/engine/internal/manifest"
	"github.com/dashstream/engine/internal/selection"
)

// pickInitialVariant chooses the starting Variant: the audio and text legs
// are narrowed by preference, the video leg is left to whichever Variant
// pairs with the chosen audio (trading resolution selection to the embedder
// via switch-variant once playback has started).
func pickInitialVariant(mf *manifest.Manifest, prefs selection.Preferences) (*manifest.Variant, *manifest.Stream, error) {
	if len(mf.Variants) == 0 {
		return nil, nil, fmt.Errorf("manifest has no variants")
	}

	var audioCandidates []*manifest.Stream
	for _, v := range mf.Variants {
		if v.AudioID == "" {
			continue
		}
		if s, ok := mf.Stream(v.AudioID); ok {
			audioCandidates = append(audioCandidates, s)
		}
	}

	chosenAudio := selection.Pick(audioCandidates, prefs)

	for _, v := range mf.Variants {
		if chosenAudio != nil && v.AudioID != chosenAudio.ID {
			continue
		}
		var text *manifest.Stream
		if len(mf.TextStreamIDs) > 0 {
			var textCandidates []*manifest.Stream
			for _, id := range mf.TextStreamIDs {
				if s, ok := mf.Stream(id); ok {
					textCandidates = append(textCandidates, s)
				}
			}
			text = selection.Pick(textCandidates, prefs)
		}
		return v, text, nil
	}

	return mf.Variants[0], nil, nil
}
