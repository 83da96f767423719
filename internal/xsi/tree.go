package xsi

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
)

// Element is one node of a parsed XML document.
//
// Text holds the character data that precedes the first child element, which
// is the only text the extractor reads. HasText is false when no character
// data appeared there at all.
type Element struct {
	Name     xml.Name
	Text     string
	HasText  bool
	Children []*Element
}

// ParseDocument reads a complete XML document and returns its root element.
// Documents declaring a non-UTF-8 encoding are transcoded on the fly.
func ParseDocument(r io.Reader) (*Element, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var (
		root  *Element
		stack []*Element
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("parse xml: multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)

		case xml.EndElement:
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) == 0 || len(t) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			if len(top.Children) == 0 {
				top.Text += string(t)
				top.HasText = true
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("parse xml: no root element")
	}
	return root, nil
}

// Tag returns the element name in "{namespace}local" form, or just the local
// name when the element has no namespace.
func (e *Element) Tag() string {
	if e.Name.Space == "" {
		return e.Name.Local
	}
	return "{" + e.Name.Space + "}" + e.Name.Local
}

// FieldName is the tag with the XSI namespace removed. Elements in any other
// namespace keep their qualified form.
func (e *Element) FieldName() string {
	if e.Name.Space == Namespace {
		return e.Name.Local
	}
	return e.Tag()
}

// Find returns the immediate children in the XSI namespace named local,
// in document order.
func (e *Element) Find(local string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name.Space == Namespace && c.Name.Local == local {
			out = append(out, c)
		}
	}
	return out
}
