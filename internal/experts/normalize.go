// ABOUTME: Coerces arbitrary expert result shapes into one canonical envelope.
// ABOUTME: Downstream code only ever handles a map, never raw lists or scalars.

package experts

// NormalizeResult coerces a decoded expert result into the canonical map
// envelope: lists become {"items": [...]}, scalars become {"value": ...},
// maps pass through unchanged, and nil becomes an empty map.
func NormalizeResult(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if t == nil {
			return map[string]any{}
		}
		return t
	case []any:
		return map[string]any{"items": t}
	default:
		return map[string]any{"value": t}
	}
}
