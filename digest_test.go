package filetracker

import "testing"

func TestDigestRoundTrip(t *testing.T) {
	d := DigestOf([]byte("hello"))
	s := d.String()

	got, err := DigestFromHex(s)
	if err != nil {
		t.Fatal(err)
	}
	if got != d {
		t.Errorf("round trip mismatch: got %x, want %x", got, d)
	}
}

func TestDigestFromHexWrongLength(t *testing.T) {
	_, err := DigestFromHex("abcd")
	if err == nil {
		t.Error("expected an error for a short hex string")
	}
}

func TestDigestLess(t *testing.T) {
	a := DigestOf([]byte("a"))
	b := DigestOf([]byte("b"))

	if a == b {
		t.Fatal("test fixture collision, pick different inputs")
	}
	if a.Less(a) {
		t.Error("a digest should not be Less than itself")
	}
	if a.Less(b) == b.Less(a) {
		t.Error("Less should be asymmetric for distinct digests")
	}
}
