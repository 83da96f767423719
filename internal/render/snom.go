package render

import (
	"fmt"
	"io"
	"strings"

	"xsidir/internal/xsi"
)

// snomMenuRenderer writes a Snom minibrowser SnomIPPhoneMenu: one Menu per
// record with dial items for the phone numbers it carries.
type snomMenuRenderer struct {
	displayName xsi.DisplayTemplate
}

// snomDialItems are the record fields turned into dialable menu items, in
// output order.
var snomDialItems = []struct {
	field string
	label string
}{
	{field: "mobile", label: "Mobile"},
	{field: "number", label: "Number"},
	{field: "extension", label: "Extension"},
}

func (r snomMenuRenderer) Render(w io.Writer, d *xsi.Directory) error {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<SnomIPPhoneMenu xmlns:xsi=\"http://www.w3.org/2001/XMLSchema-instance\" xsi:noNamespaceSchemaLocation=\"../minibrowser_test.xsd\">\n")

	for i, rec := range d.Records() {
		name, err := r.displayName.Execute(rec)
		if err != nil {
			return recordError(i, err)
		}
		fmt.Fprintf(&b, "\t<Menu name=\"%s\">\n", escapeXML(name))
		for _, item := range snomDialItems {
			v, ok := rec.Get(item.field)
			if !ok {
				continue
			}
			v = escapeXML(v)
			fmt.Fprintf(&b, "\t\t<MenuItem name=\"%s: %s\">\n", item.label, v)
			fmt.Fprintf(&b, "\t\t\t<URL>snom://mb_nop#numberdial=%s</URL>\n", v)
			b.WriteString("\t\t</MenuItem>\n")
		}
		if v, ok := rec.Get("emailAddress"); ok {
			fmt.Fprintf(&b, "\t\t<MenuItem name=\"Email: %s\"/>\n", escapeXML(v))
		}
		b.WriteString("\t</Menu>\n")
	}

	b.WriteString("</SnomIPPhoneMenu>\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// snomTbookRenderer writes a Snom tbook phone book. Every record must carry
// "number" and "name".
type snomTbookRenderer struct {
	complete bool
}

func (r snomTbookRenderer) Render(w io.Writer, d *xsi.Directory) error {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>")
	fmt.Fprintf(&b, "<tbook e=\"2\" complete=\"%s\">\n", capitalBool(r.complete))

	for i, rec := range d.Records() {
		number, ok := rec.Get("number")
		if !ok {
			return recordError(i, &xsi.MissingFieldError{Field: "number"})
		}
		name, ok := rec.Get("name")
		if !ok {
			return recordError(i, &xsi.MissingFieldError{Field: "name"})
		}
		fmt.Fprintf(&b, "\t<item context=\"active\" type=\"\" fav=\"false\" mod=\"true\" index=\"%d\">\n", i+1)
		fmt.Fprintf(&b, "\t\t<number>%s</number>\n", escapeXML(number))
		fmt.Fprintf(&b, "\t\t<name>%s</name>\n", escapeXML(name))
		b.WriteString("\t</item>\n")
	}

	b.WriteString("</tbook>")

	_, err := io.WriteString(w, b.String())
	return err
}

// capitalBool renders "True"/"False", the form deployed tbook files use.
func capitalBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
