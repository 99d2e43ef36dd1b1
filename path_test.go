package filetracker

import "testing"

func TestCleanPathValid(t *testing.T) {
	cases := map[string]string{
		"a/b":     "a/b",
		"/a/b":    "a/b",
		"a/b/":    "a/b",
		"a_b-c.d": "a_b-c.d",
	}
	for in, want := range cases {
		got, err := CleanPath(in)
		if err != nil {
			t.Errorf("CleanPath(%q) = error %v, want %q", in, err, want)
			continue
		}
		if got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanPathRejectsDotDot(t *testing.T) {
	for _, in := range []string{"../etc", "a/../b", "a/.."} {
		if _, err := CleanPath(in); err == nil {
			t.Errorf("CleanPath(%q) should have been rejected", in)
		}
	}
}

func TestCleanPathRejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "/", "a//b"} {
		if _, err := CleanPath(in); err == nil {
			t.Errorf("CleanPath(%q) should have been rejected", in)
		}
	}
}

func TestCleanPathRejectsIllegalCharacters(t *testing.T) {
	for _, in := range []string{"a b", "a;b", "a$b"} {
		if _, err := CleanPath(in); err == nil {
			t.Errorf("CleanPath(%q) should have been rejected", in)
		}
	}
}
