package mpdpatch

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"
)

const mpdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" id="base" type="dynamic"
     publishTime="%s" availabilityStartTime="2024-03-28T15:00:00Z"
     minimumUpdatePeriod="PT2S">
  <PatchLocation ttl="60">/patch/livesim2/patch_60/testpic/Manifest.mpp</PatchLocation>
  <Period id="P0" start="PT0S">
    <AdaptationSet id="1" mimeType="video/mp4">
      <SegmentTemplate timescale="90000" media="$Time$.m4s" initialization="init.mp4">
        <SegmentTimeline>
          <S t="%d" d="96256" r="%d"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="v1" bandwidth="1000000"/>
    </AdaptationSet>
  </Period>
</MPD>
`

func mustReadMPD(t *testing.T, publishTime string, startTime, repeat int) *etree.Document {
	t.Helper()
	xml := strings.NewReplacer(
		"%s", publishTime,
	).Replace(mpdTemplate)
	// Simple manual formatting since text/template isn't worth pulling in for two ints.
	xml = strings.Replace(xml, `t="%d" d="96256" r="%d"`,
		strings.Replace(strings.Replace(`t="X" d="96256" r="Y"`, "X", itoa(startTime), 1), "Y", itoa(repeat), 1), 1)
	d := etree.NewDocument()
	require.NoError(t, d.ReadFromString(xml))
	return d
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestNewPatchDoc(t *testing.T) {
	dOld := mustReadMPD(t, "2024-03-28T15:43:10Z", 0, 1)
	dNew := mustReadMPD(t, "2024-03-28T15:43:18Z", 0, 1)
	pDoc, err := newPatchDoc(dOld.Root(), dNew.Root())
	require.NoError(t, err)
	require.NotNil(t, pDoc)
	require.Equal(t, "base", pDoc.doc.Root().SelectAttrValue("mpdId", ""))
	require.Equal(t, "2024-03-28T15:43:10Z", pDoc.doc.Root().SelectAttrValue("originalPublishTime", ""))
}

func TestDiff(t *testing.T) {
	oldMPD := []byte(strings.NewReplacer("%s", "2024-03-28T15:43:10Z").Replace(
		strings.Replace(strings.Replace(mpdTemplate, `t="%d"`, `t="0"`, 1), `r="%d"`, `r="1"`, 1)))
	newMPD := []byte(strings.NewReplacer("%s", "2024-03-28T15:43:18Z").Replace(
		strings.Replace(strings.Replace(mpdTemplate, `t="%d"`, `t="0"`, 1), `r="%d"`, `r="2"`, 1)))

	patch, expiration, err := MPDDiff(oldMPD, newMPD)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 28, 15, 44, 20, 0, time.UTC), expiration)

	out, err := patch.WriteToString()
	require.NoError(t, err)
	require.Contains(t, out, `mpdId="base"`)
	require.Contains(t, out, `originalPublishTime="2024-03-28T15:43:10Z"`)
	require.Contains(t, out, `replace sel="/MPD/@publishTime"`)
	require.Contains(t, out, `r="2"`)
}

func TestDiffSamePublishTimeErr(t *testing.T) {
	mpd := []byte(strings.NewReplacer("%s", "2024-03-28T15:43:10Z").Replace(
		strings.Replace(strings.Replace(mpdTemplate, `t="%d"`, `t="0"`, 1), `r="%d"`, `r="1"`, 1)))
	_, _, err := MPDDiff(mpd, mpd)
	require.ErrorIs(t, err, ErrPatchSamePublishTime)
}

func TestDiffTooLateErr(t *testing.T) {
	oldMPD := []byte(strings.NewReplacer("%s", "2024-03-28T15:43:10Z").Replace(
		strings.Replace(strings.Replace(mpdTemplate, `t="%d"`, `t="0"`, 1), `r="%d"`, `r="1"`, 1)))
	newMPD := []byte(strings.NewReplacer("%s", "2024-03-28T16:50:00Z").Replace(
		strings.Replace(strings.Replace(mpdTemplate, `t="%d"`, `t="0"`, 1), `r="%d"`, `r="2"`, 1)))
	_, _, err := MPDDiff(oldMPD, newMPD)
	require.ErrorIs(t, err, ErrPatchTooLate)
}

func TestAttrDiff(t *testing.T) {
	oldAttr := []etree.Attr{
		{Key: "publishTime", Value: "2021-07-01T00:00:00Z"},
		{Key: "duration", Value: "PT2S"},
		{Key: "minimumupdatePeriod", Value: "PT2S"},
	}
	newAttr := []etree.Attr{
		{Key: "publishTime", Value: "2021-07-01T00:00:10Z"},
		{Key: "availabilityStartTime", Value: "1970-01-01T00:00:00Z"},
		{Key: "minimumupdatePeriod", Value: "PT2S"},
	}
	ac, err := compareAttributes(oldAttr, newAttr)
	require.NoError(t, err)
	expected := attrChange{
		Added:   []etree.Attr{{Key: "availabilityStartTime", Value: "1970-01-01T00:00:00Z"}},
		Removed: []etree.Attr{{Key: "duration", Value: "PT2S"}},
		Changed: []etree.Attr{{Key: "publishTime", Value: "2021-07-01T00:00:10Z"}},
	}
	diff := cmp.Diff(expected, ac, cmp.Options{cmp.Comparer(func(x, y etree.Attr) bool {
		return x.Key == y.Key && x.Value == y.Value
	})})
	require.Equal(t, "", diff)
}
