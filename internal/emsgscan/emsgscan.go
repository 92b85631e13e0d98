// Package emsgscan walks a CMAF media segment's emsg boxes (component G),
// classifying each by scheme_id_uri into a manifest-update signal
// (urn:mpeg:dash:event:2012, per ISO/IEC 23009-1 Annex D) or a SCTE-35
// splice event (urn:scte:scte35:2013:bin), decoded with
// github.com/Comcast/gots/v2/scte35 the way pkg/scte35 encodes them on the
// ingest side.
package emsgscan

import (
	"fmt"

	"github.com/Comcast/gots/v2/scte35"
	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
)

const (
	SchemeManifestUpdate = "urn:mpeg:dash:event:2012"
	SchemeSCTE35         = "urn:scte:scte35:2013:bin"
)

// Kind classifies a scanned emsg event.
type Kind int

const (
	KindUnknown Kind = iota
	KindManifestUpdate
	KindSCTE35
)

// Event is one emsg box found in a segment, with its box fields and the
// derived Kind/decoded payload where recognised.
type Event struct {
	Kind                  Kind
	SchemeIDURI           string
	Value                 string
	ID                    uint32
	TimeScale             uint32
	Version               uint8
	PresentationTime      uint64
	PresentationTimeDelta uint32
	EventDuration         uint32
	MessageData           []byte

	// StartTimeSeconds is the event's start time in media-time seconds,
	// already resolved for both box versions (ISO/IEC 23009-1 Annex D):
	// v1 carries an absolute presentation_time; v0 carries only a
	// presentation_time_delta relative to the enclosing track fragment's
	// base media decode time, so classify resolves it against the
	// fragment's own tfdt before this field is populated.
	StartTimeSeconds float64

	// SpliceInfo is non-nil when Kind == KindSCTE35 and the payload
	// decoded as a well-formed splice_info_section.
	SpliceInfo scte35.SCTE35
}

// PresentationTimeSeconds returns the event's start time in media-time
// seconds, resolved for either box version.
func (e Event) PresentationTimeSeconds() float64 {
	return e.StartTimeSeconds
}

// Scan decodes data as a CMAF media segment and returns every emsg box
// found across its fragments, in document order.
func Scan(data []byte) ([]Event, error) {
	sr := bits.NewFixedSliceReader(data)
	f, err := mp4.DecodeFileSR(sr)
	if err != nil {
		return nil, fmt.Errorf("decode segment: %w", err)
	}

	var events []Event
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			var mediaStart float64
			if traf := frag.Moof.Traf; traf != nil && traf.Tfdt != nil {
				for _, box := range frag.Emsgs {
					if box.TimeScale > 0 {
						mediaStart = float64(traf.Tfdt.BaseMediaDecodeTime()) / float64(box.TimeScale)
					}
					events = append(events, classify(box, mediaStart))
				}
				continue
			}
			for _, box := range frag.Emsgs {
				events = append(events, classify(box, 0))
			}
		}
	}
	return events, nil
}

// classify decodes box into an Event, resolving its start time against
// mediaStart (the enclosing track fragment's base media decode time, in
// seconds) for version-0 boxes.
func classify(box *mp4.EmsgBox, mediaStart float64) Event {
	e := Event{
		SchemeIDURI:           box.SchemeIDURI,
		Value:                 box.Value,
		ID:                    box.ID,
		TimeScale:             box.TimeScale,
		Version:               box.Version,
		PresentationTime:      box.PresentationTime,
		PresentationTimeDelta: box.PresentationTimeDelta,
		EventDuration:         box.EventDuration,
		MessageData:           box.MessageData,
	}
	if e.TimeScale > 0 {
		if e.Version == 0 {
			e.StartTimeSeconds = mediaStart + float64(e.PresentationTimeDelta)/float64(e.TimeScale)
		} else {
			e.StartTimeSeconds = float64(e.PresentationTime) / float64(e.TimeScale)
		}
	}
	switch box.SchemeIDURI {
	case SchemeManifestUpdate:
		e.Kind = KindManifestUpdate
	case SchemeSCTE35:
		e.Kind = KindSCTE35
		if info, err := scte35.NewSCTE35(box.MessageData); err == nil {
			e.SpliceInfo = info
		}
	default:
		e.Kind = KindUnknown
	}
	return e
}

// ManifestUpdateSignalled reports whether any event in evts is a §4.1
// manifest-update emsg; the Streaming Engine then invokes its
// manifest-update callback.
func ManifestUpdateSignalled(evts []Event) bool {
	for _, e := range evts {
		if e.Kind == KindManifestUpdate {
			return true
		}
	}
	return false
}
