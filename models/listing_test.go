package models

import "testing"

func TestLocalListingGUID(t *testing.T) {
	tests := []struct {
		raw  any
		want string
	}{
		{"a1b2", "a1b2"},
		{12345678.0, "12345678"},
		{1.5e7, "15000000"},
		{int64(42), "42"},
		{nil, ""},
	}
	for _, tt := range tests {
		l := LocalListing{Row: map[string]any{"guid_anuncio": tt.raw}}
		if got := l.GUID(); got != tt.want {
			t.Errorf("GUID(%#v) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}
