package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/filetracker/filetracker"
)

func mustStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func readAll(t *testing.T, s *Store, digest filetracker.Digest) []byte {
	t.Helper()
	rc, err := s.Open(digest)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	gz, err := Reader(rc)
	if err != nil {
		t.Fatal(err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestStageAndPromote(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	st, err := s.Stage(ctx, bytes.NewReader([]byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	if st.LogicalSize != 5 {
		t.Errorf("LogicalSize = %d, want 5", st.LogicalSize)
	}

	created, err := s.Promote(st)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("Promote on first write should report created")
	}

	got := readAll(t, s, st.Digest)
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestPromoteDedup(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	st1, err := s.Stage(ctx, bytes.NewReader([]byte("same content")))
	if err != nil {
		t.Fatal(err)
	}
	created1, err := s.Promote(st1)
	if err != nil {
		t.Fatal(err)
	}
	if !created1 {
		t.Fatal("first promote should create")
	}

	st2, err := s.Stage(ctx, bytes.NewReader([]byte("same content")))
	if err != nil {
		t.Fatal(err)
	}
	created2, err := s.Promote(st2)
	if err != nil {
		t.Fatal(err)
	}
	if created2 {
		t.Error("second promote of identical content should not report created")
	}
	if st1.Digest != st2.Digest {
		t.Error("identical content should produce identical digests")
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "staging"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging dir should be empty after promote, found %d entries", len(entries))
	}
}

func TestOpenMissing(t *testing.T) {
	s := mustStore(t)
	_, err := s.Open(filetracker.DigestOf([]byte("never staged")))
	if err != filetracker.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUnlink(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	st, err := s.Stage(ctx, bytes.NewReader([]byte("to be deleted")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Promote(st); err != nil {
		t.Fatal(err)
	}

	if err := s.Unlink(st.Digest); err != nil {
		t.Fatal(err)
	}

	_, err = s.Open(st.Digest)
	if err != filetracker.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound after unlink", err)
	}

	// Unlinking an already-absent digest is not an error.
	if err := s.Unlink(st.Digest); err != nil {
		t.Errorf("second Unlink should be a no-op, got %v", err)
	}
}

func TestDiscardAfterPromoteIsNoop(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	st, err := s.Stage(ctx, bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Promote(st); err != nil {
		t.Fatal(err)
	}
	if err := st.Discard(); err != nil {
		t.Errorf("Discard after Promote should be a no-op, got %v", err)
	}
}

func TestWalk(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	var want []filetracker.Digest
	for _, payload := range []string{"one", "two", "three"} {
		st, err := s.Stage(ctx, bytes.NewReader([]byte(payload)))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Promote(st); err != nil {
			t.Fatal(err)
		}
		want = append(want, st.Digest)
	}

	seen := map[filetracker.Digest]bool{}
	if err := s.Walk(func(d filetracker.Digest) error {
		seen[d] = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if len(seen) != len(want) {
		t.Fatalf("Walk saw %d digests, want %d", len(seen), len(want))
	}
	for _, d := range want {
		if !seen[d] {
			t.Errorf("Walk did not visit digest %s", d)
		}
	}
}
