package validators

import "testing"

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"  Base Alpha  ", 0, "Base Alpha"},
		{"Base\t\tAlpha", 0, "Base Alpha"},
		{"Base\x00 Bravo", 0, "Base Bravo"},
		{"Fort Überlingen", 6, "Fort Ü"},
		{"Base Alpha", 5, "Base"},
		{"   ", 10, ""},
	}
	for _, tc := range cases {
		if got := SanitizeString(tc.in, tc.maxLen); got != tc.want {
			t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tc.in, tc.maxLen, got, tc.want)
		}
	}
}
