package render

import (
	"fmt"
	"io"
	"strings"

	"xsidir/internal/xsi"
)

// xcapRenderer writes an XCAP resource-lists document with CounterPath
// properties: one <entry> per record, one cp:prop per field.
type xcapRenderer struct {
	displayName xsi.DisplayTemplate
}

func (r xcapRenderer) Render(w io.Writer, d *xsi.Directory) error {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<resource-lists xmlns=\"urn:ietf:params:xml:ns:resource-lists\" xmlns:cp=\"counterpath:properties\">\n")
	b.WriteString("\t<list name=\"Contact List\">\n")

	for i, rec := range d.Records() {
		name, err := r.displayName.Execute(rec)
		if err != nil {
			return recordError(i, err)
		}
		b.WriteString("\t\t<entry>\n")
		fmt.Fprintf(&b, "\t\t\t<display-name>%s</display-name>\n", escapeXML(name))
		for _, k := range rec.Keys() {
			v, _ := rec.Get(k)
			fmt.Fprintf(&b, "\t\t\t<cp:prop name=\"%s\" value=\"%s\"/>\n", escapeXML(k), escapeXML(v))
		}
		b.WriteString("\t\t</entry>\n")
	}

	b.WriteString("\t</list>\n")
	b.WriteString("</resource-lists>\n")

	_, err := io.WriteString(w, b.String())
	return err
}
