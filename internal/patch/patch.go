package patch

import (
	"fmt"
	"time"

	"github.com/beevik/etree"

	"github.com/dashstream/engine/internal/model"
)

// Document is a parsed MPD-Patch document: the root carries mpdId and
// originalPublishTime, and zero or more add/replace/remove operations in
// document order (§4.2).
type Document struct {
	MPDID               string
	OriginalPublishTime string
	NewPublishTime      string
	Ops                 []Op
}

// OpKind is one of add, replace, remove.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpReplace OpKind = "replace"
	OpRemove  OpKind = "remove"
)

// Op is one operation from a Patch document.
type Op struct {
	Kind OpKind
	Sel  string
	Pos  string // "after", "prepend", or "" for attribute ops / replace
	// Text is the literal text for an attribute add/replace. Elem is set
	// instead when the operation's payload is a full child element.
	Text string
	Elem *etree.Element
}

// Parse reads an MPD-Patch XML document.
func Parse(data []byte) (*Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Patch" {
		return nil, fmt.Errorf("patch document has no Patch root")
	}
	d := &Document{
		MPDID:               attrOf(root, "mpdId"),
		OriginalPublishTime: attrOf(root, "originalPublishTime"),
		NewPublishTime:      attrOf(root, "publishTime"),
	}
	for _, child := range root.ChildElements() {
		op := Op{Sel: attrOf(child, "sel"), Pos: attrOf(child, "pos")}
		switch child.Tag {
		case "add":
			op.Kind = OpAdd
		case "replace":
			op.Kind = OpReplace
		case "remove":
			op.Kind = OpRemove
		default:
			continue
		}
		if children := child.ChildElements(); len(children) > 0 {
			op.Elem = children[0].Copy()
		} else {
			op.Text = child.Text()
		}
		d.Ops = append(d.Ops, op)
	}
	return d, nil
}

// ErrStalePatch means the patch no longer applies to the manifest in hand
// and the caller must fall back to a full MPD refetch (§4.2).
var ErrStalePatch = fmt.Errorf("patch stale, full refetch required")

// Validate rejects the patch with DASH_INVALID_PATCH if mpdId or
// originalPublishTime mismatch the live manifest, or flags a stale patch
// (missing PatchLocation/publishTime, or ttl exceeded) for full refetch.
func Validate(mpdRoot *etree.Element, d *Document, now time.Time) error {
	liveID := attrOf(mpdRoot, "id")
	livePublish := attrOf(mpdRoot, "publishTime")
	if livePublish == "" {
		return ErrStalePatch
	}
	if d.MPDID != liveID || d.OriginalPublishTime != livePublish {
		return model.NewError(model.SeverityRecoverable, model.CategoryManifest, model.CodeDashInvalidPatch,
			fmt.Errorf("mpdId/originalPublishTime mismatch"))
	}
	patchLoc := mpdRoot.SelectElement("PatchLocation")
	if patchLoc == nil {
		return ErrStalePatch
	}
	ttlAttr := patchLoc.SelectAttr("ttl")
	if ttlAttr == nil {
		return ErrStalePatch
	}
	ttlSeconds, err := parseSeconds(ttlAttr.Value)
	if err != nil {
		return ErrStalePatch
	}
	publishedAt, err := time.Parse(time.RFC3339, livePublish)
	if err != nil {
		return ErrStalePatch
	}
	if now.After(publishedAt.Add(time.Duration(ttlSeconds) * time.Second)) {
		return ErrStalePatch
	}
	return nil
}

func parseSeconds(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// Apply applies every operation in d, in document order, against mpdRoot.
// A replace of /MPD/@type from dynamic to static is reported via
// becameStatic so the caller can stop the live update timer and pull the
// new mediaPresentationDuration (§4.2).
func Apply(mpdRoot *etree.Element, d *Document) (becameStatic bool, err error) {
	for _, op := range d.Ops {
		static, err := applyOne(mpdRoot, op)
		if err != nil {
			return becameStatic, fmt.Errorf("apply %s %s: %w", op.Kind, op.Sel, err)
		}
		becameStatic = becameStatic || static
	}
	if d.NewPublishTime != "" {
		setAttr(mpdRoot, "publishTime", d.NewPublishTime)
	}
	return becameStatic, nil
}

func applyOne(mpdRoot *etree.Element, op Op) (becameStatic bool, err error) {
	if elemSel, attrName, ok := splitAttrAxis(op.Sel); ok {
		elem, err := resolveElement(mpdRoot, elemSel)
		if err != nil {
			return false, err
		}
		switch op.Kind {
		case OpAdd, OpReplace:
			wasType := elem.Tag == "MPD" && attrName == "type"
			oldVal := attrOf(elem, "type")
			setAttr(elem, attrName, op.Text)
			if wasType && oldVal == "dynamic" && op.Text == "static" {
				becameStatic = true
			}
		case OpRemove:
			elem.RemoveAttr(attrName)
		}
		return becameStatic, nil
	}

	switch op.Kind {
	case OpRemove:
		elem, err := resolveElement(mpdRoot, op.Sel)
		if err != nil {
			return false, err
		}
		if elem.Parent() != nil {
			elem.Parent().RemoveChild(elem)
		}
		return false, nil
	case OpReplace:
		elem, err := resolveElement(mpdRoot, op.Sel)
		if err != nil {
			return false, err
		}
		parent := elem.Parent()
		if parent == nil {
			return false, fmt.Errorf("cannot replace document root")
		}
		if op.Elem != nil {
			replaceChild(parent, elem, op.Elem)
		} else {
			elem.SetText(op.Text)
		}
		return false, nil
	case OpAdd:
		return false, applyAdd(mpdRoot, op)
	}
	return false, fmt.Errorf("unknown op kind %q", op.Kind)
}

func applyAdd(mpdRoot *etree.Element, op Op) error {
	if op.Elem == nil {
		return fmt.Errorf("add operation without element payload")
	}
	switch op.Pos {
	case "prepend":
		parent, err := resolveElement(mpdRoot, op.Sel)
		if err != nil {
			return err
		}
		insertFirst(parent, op.Elem.Copy())
		return nil
	case "after", "":
		anchor, err := resolveElement(mpdRoot, op.Sel)
		if err != nil {
			return err
		}
		parent := anchor.Parent()
		if parent == nil {
			return fmt.Errorf("cannot add after document root")
		}
		insertAfter(parent, anchor, op.Elem.Copy())
		return nil
	default:
		return fmt.Errorf("unsupported pos %q", op.Pos)
	}
}

func attrOf(e *etree.Element, key string) string {
	if a := e.SelectAttr(key); a != nil {
		return a.Value
	}
	return ""
}

func setAttr(e *etree.Element, key, val string) {
	e.RemoveAttr(key)
	e.CreateAttr(key, val)
}

// insertFirst inserts child before parent's first existing token, or
// appends it if parent is empty.
func insertFirst(parent, child *etree.Element) {
	if len(parent.Child) == 0 {
		parent.AddChild(child)
		return
	}
	parent.InsertChild(parent.Child[0], child)
}

// insertAfter inserts child immediately after anchor among parent's
// children. etree only exposes insert-before, so this locates anchor's
// following token and inserts before that, falling back to append when
// anchor is the last child.
func insertAfter(parent, anchor, child *etree.Element) {
	for i, tok := range parent.Child {
		if tok == etree.Token(anchor) {
			if i+1 < len(parent.Child) {
				parent.InsertChild(parent.Child[i+1], child)
				return
			}
			break
		}
	}
	parent.AddChild(child)
}

// replaceChild swaps old for new in place, preserving sibling order.
func replaceChild(parent, old, new *etree.Element) {
	insertAfter(parent, old, new)
	parent.RemoveChild(old)
}
