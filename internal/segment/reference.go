// Package segment implements the Segment Index (component B): an ordered,
// lazily materialised sequence of SegmentReferences per Stream.
package segment

// ByteRange is an inclusive start, optional end byte offset into a media
// resource. End == nil means the size is unknown and must be derived from
// bandwidth * duration by the caller.
type ByteRange struct {
	Start uint64
	End   *uint64
}

// InitSegmentReference points at the codec-configuration preamble shared by
// many SegmentReferences of the same Stream.
type InitSegmentReference struct {
	URIs      []string
	ByteRange ByteRange
}

// Size returns the known byte length of the init segment, or 0 if unknown.
func (r *InitSegmentReference) Size() uint64 {
	if r == nil || r.ByteRange.End == nil {
		return 0
	}
	return *r.ByteRange.End - r.ByteRange.Start + 1
}

// Reference points at one media segment's byte range and the media-time
// span it covers. References within one Stream are strictly monotonic in
// StartTime (NewIndex panics otherwise); EndTime > StartTime is not checked.
type Reference struct {
	StartTime float64
	EndTime   float64

	URIs      []string
	ByteRange ByteRange

	InitRef *InitSegmentReference

	TimestampOffset    float64
	AppendWindowStart  float64
	AppendWindowEnd    float64
}

// Size returns the known byte length of the segment, or 0 if unknown.
func (r *Reference) Size() uint64 {
	if r == nil || r.ByteRange.End == nil {
		return 0
	}
	return *r.ByteRange.End - r.ByteRange.Start + 1
}

// Duration is EndTime - StartTime.
func (r *Reference) Duration() float64 {
	return r.EndTime - r.StartTime
}
