package internal

import "strconv"

// Flatten turns a decoded webhook payload into a single-level parameter map
// for filter expressions. Object keys are joined with "." and array elements
// get an "[i]" suffix; every array is also kept whole under both "key" and
// "key[]" so expressions can test membership.
func Flatten(payload map[string]any) map[string]any {
	type entry struct {
		key   string
		value any
	}
	params := make(map[string]any, len(payload))
	pending := make([]entry, 0, len(payload))
	for key, value := range payload {
		pending = append(pending, entry{key, value})
	}
	for len(pending) > 0 {
		last := len(pending) - 1
		e := pending[last]
		pending = pending[:last]

		switch node := e.value.(type) {
		case map[string]any:
			for key, value := range node {
				pending = append(pending, entry{e.key + "." + key, value})
			}
		case []any:
			params[e.key] = node
			params[e.key+"[]"] = node
			for i, value := range node {
				pending = append(pending, entry{e.key + "[" + strconv.Itoa(i) + "]", value})
			}
		default:
			params[e.key] = node
		}
	}
	return params
}
