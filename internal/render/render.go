// Package render turns an extracted xsi.Directory into the output formats
// understood by phones and softphones.
//
// Each format comes with a Profile: the tag selection and renames the
// extractor must apply so the renderer finds the fields it expects, plus the
// display-name template when the format has one.
package render

import (
	"fmt"
	"io"
	"strings"

	"xsidir/internal/xsi"
)

// Format names an output format as accepted on the command line.
type Format string

const (
	JSON      Format = "JSON"
	SnomTbook Format = "SNOM_TBOOK"
	SnomMB    Format = "SNOM_MB"
	XCAP      Format = "XCAP"
)

// Formats lists every supported format.
var Formats = []Format{JSON, SnomTbook, SnomMB, XCAP}

// ParseFormat validates s. Matching is exact.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", &xsi.ConfigError{Field: "output type", Value: s, Msg: "expected JSON, SNOM_TBOOK, SNOM_MB or XCAP"}
}

// Renderer writes a directory in one output format.
//
// The written document is complete; callers add nothing but an optional
// trailing newline.
type Renderer interface {
	Render(w io.Writer, d *xsi.Directory) error
}

// Profile is the extraction configuration a format needs.
type Profile struct {
	Skip        []string
	Select      []string
	Rename      map[string]string
	DisplayName string // template source, "" when the format has none
}

// Filter builds the tag filter for p.
func (p Profile) Filter() xsi.TagFilter {
	return xsi.NewTagFilter(p.Skip, p.Select, p.Rename)
}

// Options tune individual renderers.
type Options struct {
	// Complete is the SNOM_TBOOK "complete" attribute.
	Complete bool
}

// ProfileFor returns the profile of f for directories of type t.
// Combinations the format cannot render are a *xsi.ConfigError.
func ProfileFor(f Format, t xsi.DirectoryType) (Profile, error) {
	if _, err := xsi.ParseDirectoryType(string(t)); err != nil {
		return Profile{}, err
	}

	switch f {
	case JSON:
		return Profile{}, nil

	case XCAP:
		if t == xsi.Group {
			return Profile{
				Select: []string{"directoryDetails", "firstName", "lastName", "extension", "number", "emailAddress", "mobile", "pager", "groupId"},
				Rename: map[string]string{
					"groupId":      "company",
					"emailAddress": "email_address",
					"firstName":    "given_name",
					"lastName":     "surname",
					"mobile":       "mobile_number",
					"extension":    "business_number",
					"number":       "business_number#1",
				},
				DisplayName: "{surname}",
			}, nil
		}
		return Profile{
			Select:      []string{"name", "number"},
			Rename:      map[string]string{"name": "surname", "number": "business_number"},
			DisplayName: "{surname}",
		}, nil

	case SnomMB:
		if t == xsi.Group {
			return Profile{
				Select:      []string{"firstName", "lastName", "extension", "number", "emailAddress", "mobile"},
				DisplayName: "{firstName} - {lastName}",
			}, nil
		}
		return Profile{Select: []string{"name", "number"}, DisplayName: "{name}"}, nil

	case SnomTbook:
		if t != xsi.Personal {
			return Profile{}, &xsi.ConfigError{Field: "directory", Value: string(t), Msg: "SNOM_TBOOK supports only Personal"}
		}
		return Profile{Select: []string{"name", "number"}, DisplayName: "{name}"}, nil

	default:
		return Profile{}, &xsi.ConfigError{Field: "output type", Value: string(f)}
	}
}

// New returns the renderer for f configured with profile p.
func New(f Format, p Profile, opts Options) (Renderer, error) {
	var tpl xsi.DisplayTemplate
	if p.DisplayName != "" {
		var err error
		tpl, err = xsi.ParseTemplate(p.DisplayName)
		if err != nil {
			return nil, fmt.Errorf("display name: %w", err)
		}
	}

	switch f {
	case JSON:
		return jsonRenderer{}, nil
	case XCAP:
		return xcapRenderer{displayName: tpl}, nil
	case SnomMB:
		return snomMenuRenderer{displayName: tpl}, nil
	case SnomTbook:
		return snomTbookRenderer{complete: opts.Complete}, nil
	default:
		return nil, &xsi.ConfigError{Field: "output type", Value: string(f)}
	}
}

// recordError ties a rendering failure to the record that caused it.
func recordError(index int, err error) error {
	return fmt.Errorf("record %d: %w", index+1, err)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func escapeXML(s string) string { return xmlEscaper.Replace(s) }
