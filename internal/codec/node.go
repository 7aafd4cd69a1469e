// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Node is a generic XML element.  Descriptors are handled as element trees
// rather than bound structs since member elements may be individually
// malformed and parsers need to degrade per element instead of failing the
// whole document.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []*Node    `xml:",any"`
}

// Parse decodes the passed document into an element tree.
func Parse(doc []byte) (*Node, error) {
	var n Node
	if err := xml.Unmarshal(doc, &n); err != nil {
		str := fmt.Sprintf("unable to parse document: %v", err)
		return nil, makeError(ErrMalformedDocument, str)
	}
	return &n, nil
}

// NewNode returns an empty element with the given name.
func NewNode(name string) *Node {
	return &Node{XMLName: xml.Name{Local: name}}
}

// Name returns the local name of the element.
func (n *Node) Name() string {
	return n.XMLName.Local
}

// Text returns the character data of the element with surrounding whitespace
// removed.
func (n *Node) Text() string {
	return strings.TrimSpace(n.Content)
}

// Attr returns the value of the named attribute and whether it was present.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrInt64 returns the named attribute parsed as a base 10 integer.  The
// default is returned when the attribute is missing or not a number.
func (n *Node) AttrInt64(name string, def int64) int64 {
	v, ok := n.Attr(name)
	if !ok {
		return def
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return i
}

// AttrBool returns the named attribute parsed as a boolean.  The default is
// returned when the attribute is missing or malformed.
func (n *Node) AttrBool(name string, def bool) bool {
	v, ok := n.Attr(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// SetAttr sets the named attribute, replacing an existing value.
func (n *Node) SetAttr(name, value string) *Node {
	for i := range n.Attrs {
		if n.Attrs[i].Name.Local == name {
			n.Attrs[i].Value = value
			return n
		}
	}
	n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	return n
}

// Child returns the first child element with the given name or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all direct children with the given name in document
// order.
func (n *Node) ChildrenNamed(name string) []*Node {
	var nodes []*Node
	for _, c := range n.Children {
		if c.Name() == name {
			nodes = append(nodes, c)
		}
	}
	return nodes
}

// Path follows a chain of first-child lookups and returns the final element,
// or nil when any link is missing.
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		if cur = cur.Child(name); cur == nil {
			return nil
		}
	}
	return cur
}

// ChildText returns the trimmed text of the named child and whether the child
// exists.
func (n *Node) ChildText(name string) (string, bool) {
	c := n.Child(name)
	if c == nil {
		return "", false
	}
	return c.Text(), true
}

// AddChild appends the child and returns it.
func (n *Node) AddChild(c *Node) *Node {
	n.Children = append(n.Children, c)
	return c
}

// AddText appends a child element holding only character data and returns it.
func (n *Node) AddText(name, text string) *Node {
	c := NewNode(name)
	c.Content = text
	return n.AddChild(c)
}

// RemoveChildren drops every direct child with the given name.
func (n *Node) RemoveChildren(name string) {
	kept := n.Children[:0]
	for _, c := range n.Children {
		if c.Name() != name {
			kept = append(kept, c)
		}
	}
	n.Children = kept
}

// Clone returns a deep copy of the element tree.
func (n *Node) Clone() *Node {
	c := &Node{XMLName: n.XMLName, Content: n.Content}
	if len(n.Attrs) > 0 {
		c.Attrs = append([]xml.Attr(nil), n.Attrs...)
	}
	for _, child := range n.Children {
		c.Children = append(c.Children, child.Clone())
	}
	return c
}

// writeCanonical writes the element with attributes in document order, text
// trimmed, and no insignificant whitespace.
func (n *Node) writeCanonical(buf *bytes.Buffer) {
	buf.WriteByte('<')
	buf.WriteString(n.Name())
	for _, a := range n.Attrs {
		buf.WriteByte(' ')
		buf.WriteString(a.Name.Local)
		buf.WriteString(`="`)
		xml.EscapeText(buf, []byte(a.Value))
		buf.WriteByte('"')
	}
	text := n.Text()
	if text == "" && len(n.Children) == 0 {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	xml.EscapeText(buf, []byte(text))
	for _, c := range n.Children {
		c.writeCanonical(buf)
	}
	buf.WriteString("</")
	buf.WriteString(n.Name())
	buf.WriteByte('>')
}

// Bytes returns the canonical serialization of the element tree.  Two trees
// that differ only in insignificant whitespace serialize identically, which
// makes the result suitable as signature input.
func (n *Node) Bytes() []byte {
	var buf bytes.Buffer
	n.writeCanonical(&buf)
	return buf.Bytes()
}

// Document returns the canonical serialization prefixed by an XML declaration.
func (n *Node) Document() []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	n.writeCanonical(&buf)
	return buf.Bytes()
}
