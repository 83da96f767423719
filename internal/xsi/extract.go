package xsi

// additionalDetails is the Group child whose own children are flattened into
// the contact record.
const additionalDetails = "additionalDetails"

// Directory is the ordered list of records produced by one extraction pass,
// together with the settings that produced it. It is read-only once Extract
// returns.
type Directory struct {
	typ     DirectoryType
	filter  TagFilter
	records []Record
}

// Type returns the directory type the records were extracted with.
func (d *Directory) Type() DirectoryType { return d.typ }

// Filter returns the tag filter the records were extracted with.
func (d *Directory) Filter() TagFilter { return d.filter }

// Records returns the records in document order.
func (d *Directory) Records() []Record { return d.records }

// Len returns the number of records.
func (d *Directory) Len() int { return len(d.records) }

// NewDirectory wraps already-built records, e.g. for renderer tests.
func NewDirectory(typ DirectoryType, records ...Record) *Directory {
	return &Directory{typ: typ, records: records}
}

// Extract walks root with the traversal rule of typ and returns one record
// per contact element found.
//
//   - Group: every {xsi}groupDirectory/{xsi}directoryDetails under root.
//     An "additionalDetails" child has its own children flattened into the
//     same record; the additionalDetails tag is then filtered like any
//     other child.
//   - Personal: every {xsi}entry under root.
//
// Every contact yields a record, even one whose fields were all filtered out.
// An unknown typ or a nil root yields an empty directory rather than an
// error; callers validate typ with ParseDirectoryType first.
func Extract(root *Element, typ DirectoryType, f TagFilter) *Directory {
	d := &Directory{typ: typ, filter: f, records: []Record{}}
	if root == nil {
		return d
	}

	switch typ {
	case Group:
		for _, gd := range root.Find("groupDirectory") {
			for _, contact := range gd.Find("directoryDetails") {
				d.records = append(d.records, extractContact(contact, f, true))
			}
		}
	case Personal:
		for _, contact := range root.Find("entry") {
			d.records = append(d.records, extractContact(contact, f, false))
		}
	}
	return d
}

func extractContact(contact *Element, f TagFilter, flattenDetails bool) Record {
	rec := Record{values: make(map[string]string)}
	for _, child := range contact.Children {
		tag := child.FieldName()
		if flattenDetails && tag == additionalDetails {
			for _, detail := range child.Children {
				writeField(&rec, detail, f)
			}
		}
		writeField(&rec, child, f)
	}
	return rec
}

func writeField(rec *Record, el *Element, f TagFilter) {
	name, ok := f.Resolve(el.FieldName())
	if !ok {
		return
	}
	rec.Set(name, el.Text)
}
