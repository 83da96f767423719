// Package xsi fetches BroadWorks XSI contact directories and flattens them
// into ordered key/value records.
//
// The pipeline is:
//
//	Client.Fetch -> *Element (parsed XML tree)
//	Extract(root, DirectoryType, TagFilter) -> *Directory
//	renderers read Directory.Records()
//
// Extraction never fails: an unexpected document shape produces fewer (or
// zero) records.
package xsi

// Namespace is the XML namespace of every element in an XSI response.
const Namespace = "http://schema.broadsoft.com/xsi"

// DirectoryType selects which substructure of the response holds contacts.
type DirectoryType string

const (
	Group    DirectoryType = "Group"
	Personal DirectoryType = "Personal"
)

// ParseDirectoryType validates s. Matching is exact and case-sensitive.
func ParseDirectoryType(s string) (DirectoryType, error) {
	switch DirectoryType(s) {
	case Group, Personal:
		return DirectoryType(s), nil
	default:
		return "", &ConfigError{Field: "directory", Value: s, Msg: "expected Group or Personal"}
	}
}

func (t DirectoryType) String() string { return string(t) }
