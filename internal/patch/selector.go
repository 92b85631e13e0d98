// Package patch implements the Patch Applier (component D): it applies an
// MPD-Patch document's add/replace/remove operations against a live
// manifest DOM, then reconciles the result into the Manifest Model and
// Segment Index (internal/manifest, internal/segment).
//
// The selector grammar mirrors the one pkg/mpdpatch's diff generator
// produces: element predicates [@attr='v'], the live-specific [@n='v']
// name axis for <S> elements (§9 open question), positional [n], the
// attribute axis /@name, and pos="after"/"prepend" for insertion.
package patch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// resolveElement walks sel (without a trailing /@attr axis) from root and
// returns the addressed element.
func resolveElement(root *etree.Element, sel string) (*etree.Element, error) {
	sel = strings.TrimPrefix(sel, "/")
	segs := strings.Split(sel, "/")
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	// First segment names the document root itself (e.g. "MPD").
	cur := root
	if tag, _, _ := parseSegment(segs[0]); tag != cur.Tag {
		return nil, fmt.Errorf("selector root %q does not match document root %q", tag, cur.Tag)
	}
	for _, seg := range segs[1:] {
		tag, pred, err := parseSegment(seg)
		if err != nil {
			return nil, err
		}
		next, err := selectChild(cur, tag, pred)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", seg, err)
		}
		cur = next
	}
	return cur, nil
}

// predicate is one of: attribute match (key/value), name-axis match (for
// <S n="..">), or a one-based positional index. Exactly one is set.
type predicate struct {
	attrKey   string
	attrVal   string
	nameVal   string
	hasName   bool
	position  int // 0 means "no positional predicate"
}

func parseSegment(seg string) (tag string, pred predicate, err error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, predicate{}, nil
	}
	if !strings.HasSuffix(seg, "]") {
		return "", predicate{}, fmt.Errorf("malformed selector segment %q", seg)
	}
	tag = seg[:open]
	inner := seg[open+1 : len(seg)-1]
	if strings.HasPrefix(inner, "@") {
		eq := strings.IndexByte(inner, '=')
		if eq < 0 {
			return "", predicate{}, fmt.Errorf("malformed attribute predicate %q", inner)
		}
		key := inner[1:eq]
		val := strings.Trim(inner[eq+1:], "'\"")
		if key == "n" {
			return tag, predicate{nameVal: val, hasName: true}, nil
		}
		return tag, predicate{attrKey: key, attrVal: val}, nil
	}
	pos, err := strconv.Atoi(inner)
	if err != nil {
		return "", predicate{}, fmt.Errorf("malformed positional predicate %q", inner)
	}
	return tag, predicate{position: pos}, nil
}

func selectChild(parent *etree.Element, tag string, pred predicate) (*etree.Element, error) {
	switch {
	case pred.hasName:
		for _, c := range parent.ChildElements() {
			if c.Tag != tag {
				continue
			}
			if attr := c.SelectAttr("n"); attr != nil && attr.Value == pred.nameVal {
				return c, nil
			}
		}
		return nil, fmt.Errorf("no %s with n=%q", tag, pred.nameVal)
	case pred.attrKey != "":
		for _, c := range parent.ChildElements() {
			if c.Tag != tag {
				continue
			}
			if attr := c.SelectAttr(pred.attrKey); attr != nil && attr.Value == pred.attrVal {
				return c, nil
			}
		}
		return nil, fmt.Errorf("no %s with @%s=%q", tag, pred.attrKey, pred.attrVal)
	case pred.position > 0:
		idx := 0
		for _, c := range parent.ChildElements() {
			if c.Tag != tag {
				continue
			}
			idx++
			if idx == pred.position {
				return c, nil
			}
		}
		return nil, fmt.Errorf("no %s at position %d", tag, pred.position)
	default:
		// Bare tag name: must be unique among children (SegmentTimeline,
		// SegmentTemplate, and similar singleton elements).
		for _, c := range parent.ChildElements() {
			if c.Tag == tag {
				return c, nil
			}
		}
		return nil, fmt.Errorf("no child %s", tag)
	}
}

// splitAttrAxis separates a selector ending in "/@name" into the element
// selector and the attribute name, or returns ok=false if sel addresses an
// element rather than an attribute.
func splitAttrAxis(sel string) (elemSel, attrName string, ok bool) {
	idx := strings.LastIndex(sel, "/@")
	if idx < 0 {
		return sel, "", false
	}
	return sel[:idx], sel[idx+2:], true
}
