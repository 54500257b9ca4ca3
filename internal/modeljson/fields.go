package modeljson

// Has reports whether key is present in the record.
func Has(rec map[string]any, key string) bool {
	_, ok := rec[key]
	return ok
}

// String returns the string stored under key. ok is false when the key is
// absent or holds another type.
func String(rec map[string]any, key string) (string, bool) {
	v, ok := rec[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Strings returns the list of strings stored under key. ok is false when the
// key is absent, is not a list, or the list holds non-string values.
func Strings(rec map[string]any, key string) ([]string, bool) {
	v, ok := rec[key]
	if !ok {
		return nil, false
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
