package matching

import (
	"strings"

	"github.com/beevik/etree"
)

// matchXML compares documents element by element: same tag and namespace
// prefix, the same attribute set, equal trimmed text and the same child
// elements in order. Comments, processing instructions and whitespace
// between elements are ignored.
func matchXML(tmpl string, body []byte) bool {
	want := etree.NewDocument()
	if err := want.ReadFromString(tmpl); err != nil {
		return false
	}
	got := etree.NewDocument()
	if err := got.ReadFromBytes(body); err != nil {
		return false
	}
	wr, gr := want.Root(), got.Root()
	if wr == nil || gr == nil {
		return wr == gr
	}
	return elementEqual(wr, gr)
}

func elementEqual(a, b *etree.Element) bool {
	if a.Tag != b.Tag || a.Space != b.Space {
		return false
	}
	if len(a.Attr) != len(b.Attr) {
		return false
	}
	for _, attr := range a.Attr {
		other := b.SelectAttr(attr.FullKey())
		if other == nil || other.Value != attr.Value {
			return false
		}
	}
	if strings.TrimSpace(a.Text()) != strings.TrimSpace(b.Text()) {
		return false
	}
	ac, bc := a.ChildElements(), b.ChildElements()
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !elementEqual(ac[i], bc[i]) {
			return false
		}
	}
	return true
}
