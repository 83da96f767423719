package storage

import (
	"fmt"
	"strings"
)

// NormalizeKey converts a key value to a canonical string form suitable for
// in-memory dedupe maps. Backends must not assume a particular underlying
// type for keys.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
