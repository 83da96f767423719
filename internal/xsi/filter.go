package xsi

// TagFilter decides whether a tag is kept and under which name.
//
// Matching always happens against the original (namespace-stripped) tag
// name; the rename map is applied only to names that survive skip/select.
// A TagFilter is immutable once built and safe to share across runs.
type TagFilter struct {
	skip   map[string]struct{}
	sel    map[string]struct{}
	rename map[string]string
}

// NewTagFilter copies its inputs, so later changes by the caller do not leak
// into the filter. A nil or empty sel means "select everything not skipped".
func NewTagFilter(skip, sel []string, rename map[string]string) TagFilter {
	f := TagFilter{
		skip:   toSet(skip),
		sel:    toSet(sel),
		rename: make(map[string]string, len(rename)),
	}
	for k, v := range rename {
		f.rename[k] = v
	}
	return f
}

// Resolve returns the output name for tag, or ok=false when the tag is dropped.
func (f TagFilter) Resolve(tag string) (name string, ok bool) {
	if _, skipped := f.skip[tag]; skipped {
		return "", false
	}
	if len(f.sel) > 0 {
		if _, selected := f.sel[tag]; !selected {
			return "", false
		}
	}
	if renamed, found := f.rename[tag]; found {
		return renamed, true
	}
	return tag, true
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
