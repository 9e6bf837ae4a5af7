package sanitize

import (
	"strings"
	"testing"
)

func TestToSafeBase(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain id", "14538497534979031", "14538497534979031"},
		{"export id", "export/14538497534979031", "export_14538497534979031"},
		{"windows unsafe", `a\b:c*d?e"f<g>h|i`, "a_b_c_d_e_f_g_h_i"},
		{"empty", "", "video"},
		{"whitespace only", "   ", "video"},
		{"trailing dot", "clip.", "clip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToSafeBase(tt.in); got != tt.want {
				t.Errorf("ToSafeBase(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToSafeBaseLength(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := ToSafeBase(long)
	if len(got) != MaxBaseLength {
		t.Errorf("Expected base truncated to %d, got %d", MaxBaseLength, len(got))
	}
}
