package manifest

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	m "github.com/Eyevinn/dash-mpd/mpd"

	"github.com/dashstream/engine/internal/model"
	"github.com/dashstream/engine/internal/segment"
	"github.com/dashstream/engine/internal/timeline"
	"github.com/dashstream/engine/pkg/cmaf"
)

// Build converts a parsed MPD document into the engine's Manifest Model.
// Variant pairing only considers the first Period: every video stream is
// paired with every audio stream (see pairVariants). Streams from every Period are
// registered in the arena (keyed "periodID/representationID") so a later
// Period transition can be resolved by the engine without re-parsing.
func Build(mpd *m.MPD, baseURL string) (*Manifest, error) {
	if len(mpd.Periods) == 0 {
		return nil, fmt.Errorf("mpd has no periods")
	}

	mf := &Manifest{arena: make(map[model.StreamID]*Stream)}

	isLive := mpd.Type != nil && *mpd.Type == "dynamic"
	if isLive {
		tsbd := 0.0
		if mpd.TimeShiftBufferDepth != nil {
			tsbd = time.Duration(*mpd.TimeShiftBufferDepth).Seconds()
		}
		spd := 0.0
		if mpd.SuggestedPresentationDelay != nil {
			spd = time.Duration(*mpd.SuggestedPresentationDelay).Seconds()
		}
		astS, err := mpd.AvailabilityStartTime.ConvertToSeconds()
		if err != nil {
			return nil, fmt.Errorf("availabilityStartTime: %w", err)
		}
		ast := time.Unix(int64(astS), 0).UTC()
		mf.Timeline = timeline.NewLive(ast, tsbd, maxSegmentDuration(mpd), spd)
	} else {
		dur := 0.0
		if mpd.MediaPresentationDuration != nil {
			dur = time.Duration(*mpd.MediaPresentationDuration).Seconds()
		}
		mf.Timeline = timeline.NewVOD(dur, maxSegmentDuration(mpd))
	}

	var videoStreams, audioStreams []*Stream
	for pIdx, period := range mpd.Periods {
		periodID := period.Id
		if periodID == "" {
			periodID = strconv.Itoa(pIdx)
		}
		for _, as := range period.AdaptationSets {
			trackType := trackTypeFor(string(as.ContentType))
			for _, rep := range as.Representations {
				segTmpl := as.SegmentTemplate
				if rep.SegmentTemplate != nil {
					segTmpl = rep.SegmentTemplate
				}
				if as.ContentType == "" && segTmpl != nil {
					trackType = trackTypeFromMediaExtension(segTmpl.Media, trackType)
				}
				s := &Stream{
					ID:        model.StreamID(periodID + "/" + rep.Id),
					Type:      trackType,
					Mime:      as.MimeType,
					Codecs:    rep.Codecs,
					Bandwidth: rep.Bandwidth,
					Language:  as.Lang,
					Roles:     rolesOf(as),
					baseURL:   baseURL,
					segTmpl:   segTmpl,
				}
				if s.Codecs == "" {
					s.Codecs = as.Codecs
				}
				if segTmpl != nil {
					if initStr, err := rep.GetInit(); err == nil && initStr != "" {
						s.InitRef = &segment.InitSegmentReference{URIs: []string{baseURL + initStr}}
					}
				}
				mf.PutStream(s)
				if pIdx == 0 {
					switch trackType {
					case model.TrackVideo:
						videoStreams = append(videoStreams, s)
					case model.TrackAudio:
						audioStreams = append(audioStreams, s)
					case model.TrackText:
						mf.TextStreamIDs = append(mf.TextStreamIDs, s.ID)
					case model.TrackImage:
						mf.ImageStreamIDs = append(mf.ImageStreamIDs, s.ID)
					}
				}
			}
		}
	}

	mf.Variants = pairVariants(videoStreams, audioStreams)

	if mpd.MinBufferTime != nil {
		mf.MinBufferTime = time.Duration(*mpd.MinBufferTime).Seconds()
	}

	return mf, nil
}

// pairVariants builds the cross product of video and audio streams from the
// first Period into Variants. A manifest with only one media type yields
// Variants with the other leg unset.
func pairVariants(videoStreams, audioStreams []*Stream) []*Variant {
	switch {
	case len(videoStreams) == 0 && len(audioStreams) == 0:
		return nil
	case len(videoStreams) == 0:
		variants := make([]*Variant, len(audioStreams))
		for i, a := range audioStreams {
			variants[i] = &Variant{AudioID: a.ID, Bandwidth: a.Bandwidth, AllowedByApplication: true, AllowedByKeySystem: true}
		}
		return variants
	case len(audioStreams) == 0:
		variants := make([]*Variant, len(videoStreams))
		for i, v := range videoStreams {
			variants[i] = &Variant{VideoID: v.ID, Bandwidth: v.Bandwidth, AllowedByApplication: true, AllowedByKeySystem: true}
		}
		return variants
	default:
		variants := make([]*Variant, 0, len(videoStreams)*len(audioStreams))
		for _, v := range videoStreams {
			for _, a := range audioStreams {
				variants = append(variants, &Variant{
					VideoID: v.ID, AudioID: a.ID,
					Bandwidth:            v.Bandwidth + a.Bandwidth,
					AllowedByApplication: true,
					AllowedByKeySystem:   true,
				})
			}
		}
		return variants
	}
}

func rolesOf(as *m.AdaptationSetType) []string {
	if len(as.Roles) == 0 {
		return nil
	}
	roles := make([]string, 0, len(as.Roles))
	for _, r := range as.Roles {
		if r != nil {
			roles = append(roles, r.Value)
		}
	}
	return roles
}

// trackTypeFromMediaExtension falls back to the CMAF file extension
// convention when an AdaptationSet omits contentType, reusing the
// ingest-side extension<->content-type mapping for the manifest-parsing
// side of the same convention.
func trackTypeFromMediaExtension(media string, fallback model.TrackType) model.TrackType {
	ext := path.Ext(media)
	if idx := strings.IndexByte(ext, '?'); idx >= 0 {
		ext = ext[:idx]
	}
	contentType, err := cmaf.ContentTypeFromCMAFExtension(ext)
	if err != nil {
		return fallback
	}
	return trackTypeFor(contentType)
}

func trackTypeFor(contentType string) model.TrackType {
	switch contentType {
	case "video":
		return model.TrackVideo
	case "audio":
		return model.TrackAudio
	case "text":
		return model.TrackText
	case "image":
		return model.TrackImage
	default:
		return model.TrackVideo
	}
}

func maxSegmentDuration(mpd *m.MPD) float64 {
	if mpd.MaxSegmentDuration != nil {
		return time.Duration(*mpd.MaxSegmentDuration).Seconds()
	}
	return 0
}

// buildReferencesFromTemplate walks a SegmentTemplate's SegmentTimeline (the
// $Time$/$Number$ addressed cases the dashfetcher tool also drives) into
// concrete References. Number-addressed templates without a SegmentTimeline
// fall back to a fixed-duration grid.
func buildReferencesFromTemplate(st *m.SegmentTemplateType, baseURL string, initRef *segment.InitSegmentReference) ([]*segment.Reference, error) {
	timescale := uint32(1)
	if st.Timescale != nil {
		timescale = *st.Timescale
	}
	startNr := uint32(1)
	if st.StartNumber != nil {
		startNr = *st.StartNumber
	}

	if st.SegmentTimeline != nil {
		var refs []*segment.Reference
		var t uint64
		nr := startNr
		for _, s := range st.SegmentTimeline.S {
			if s.T != nil {
				t = *s.T
			}
			for i := 0; i <= s.R; i++ {
				start := float64(t) / float64(timescale)
				end := float64(t+s.D) / float64(timescale)
				uri := baseURL + replaceNumber(replaceTime(st.Media, t), nr)
				refs = append(refs, &segment.Reference{
					StartTime: start,
					EndTime:   end,
					URIs:      []string{uri},
					InitRef:   initRef,
				})
				t += s.D
				nr++
			}
		}
		return refs, nil
	}

	if st.Duration == nil {
		return nil, fmt.Errorf("segment template has neither SegmentTimeline nor Duration")
	}
	dur := float64(*st.Duration) / float64(timescale)
	// Without a known Period duration the caller must Merge additional refs
	// later (live case); here we materialise a conservative first window.
	const lookaheadSegments = 32
	refs := make([]*segment.Reference, 0, lookaheadSegments)
	for i := uint32(0); i < lookaheadSegments; i++ {
		nr := startNr + i
		start := float64(i) * dur
		refs = append(refs, &segment.Reference{
			StartTime: start,
			EndTime:   start + dur,
			URIs:      []string{baseURL + replaceNumber(st.Media, nr)},
			InitRef:   initRef,
		})
	}
	return refs, nil
}

func replaceTime(media string, t uint64) string {
	return strings.Replace(media, "$Time$", strconv.FormatUint(t, 10), 1)
}

func replaceNumber(media string, nr uint32) string {
	return strings.Replace(media, "$Number$", strconv.FormatUint(uint64(nr), 10), 1)
}
