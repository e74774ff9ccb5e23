// ABOUTME: Tests for result normalization into the canonical map envelope.
// ABOUTME: Table-driven over nil, map, list, and scalar result shapes.

package experts

import (
	"reflect"
	"testing"
)

func TestNormalizeResult(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want map[string]any
	}{
		{"nil becomes empty map", nil, map[string]any{}},
		{"nil map becomes empty map", map[string]any(nil), map[string]any{}},
		{"map passes through", map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"list wrapped in items", []any{"x", "y"}, map[string]any{"items": []any{"x", "y"}}},
		{"string wrapped in value", "hello", map[string]any{"value": "hello"}},
		{"number wrapped in value", 3.5, map[string]any{"value": 3.5}},
		{"bool wrapped in value", true, map[string]any{"value": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeResult(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeResult(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
