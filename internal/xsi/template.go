package xsi

import (
	"fmt"
	"strings"
)

// DisplayTemplate builds a display name from record fields.
//
// Syntax: literal text with {field} references, e.g. "{firstName} - {lastName}".
// "{{" and "}}" produce literal braces.
type DisplayTemplate struct {
	src      string
	segments []segment
}

type segment struct {
	text  string
	field bool
}

// ParseTemplate compiles src.
func ParseTemplate(src string) (DisplayTemplate, error) {
	t := DisplayTemplate{src: src}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '{' && i+1 < len(src) && src[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(src) && src[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(src[i+1:], '}')
			if end < 0 {
				return DisplayTemplate{}, fmt.Errorf("template %q: unclosed '{' at offset %d", src, i)
			}
			name := src[i+1 : i+1+end]
			if name == "" {
				return DisplayTemplate{}, fmt.Errorf("template %q: empty field reference at offset %d", src, i)
			}
			flush()
			t.segments = append(t.segments, segment{text: name, field: true})
			i += end + 1
		case c == '}':
			return DisplayTemplate{}, fmt.Errorf("template %q: unmatched '}' at offset %d", src, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// MustParseTemplate is ParseTemplate for package-level constants.
func MustParseTemplate(src string) DisplayTemplate {
	t, err := ParseTemplate(src)
	if err != nil {
		panic(err)
	}
	return t
}

// Fields lists the field names the template references, in order.
func (t DisplayTemplate) Fields() []string {
	var out []string
	for _, s := range t.segments {
		if s.field {
			out = append(out, s.text)
		}
	}
	return out
}

// Execute substitutes the fields of r. A referenced field missing from r is
// a *MissingFieldError.
func (t DisplayTemplate) Execute(r Record) (string, error) {
	var b strings.Builder
	for _, s := range t.segments {
		if !s.field {
			b.WriteString(s.text)
			continue
		}
		v, ok := r.Get(s.text)
		if !ok {
			return "", &MissingFieldError{Field: s.text}
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

func (t DisplayTemplate) String() string { return t.src }
