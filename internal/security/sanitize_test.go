package security

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"r0004_c0012", "r0004_c0012"},
		{"2026-07-01_2026-07-31", "2026-07-01_2026-07-31"},
		{"../../etc/passwd", "etc_passwd"},
		{"a/b\\c", "a_b_c"},
		{"", "unknown"},
		{"..", "unknown"},
		{"___", "unknown"},
		{"weird name!.png", "weird_name_.png"},
	}
	for _, c := range cases {
		if got := SanitizeFilename(c.in); got != c.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeFilenameCapsLength(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("a", 500))
	if len(got) != 128 {
		t.Errorf("len = %d, want 128", len(got))
	}
}
