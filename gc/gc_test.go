package gc

import (
	"bytes"
	"context"
	"testing"

	"github.com/filetracker/filetracker"
	"github.com/filetracker/filetracker/blobstore"
)

type fakeRefcounter map[filetracker.Digest]uint64

func (f fakeRefcounter) Refcount(_ context.Context, d filetracker.Digest) (uint64, error) {
	return f[d], nil
}

func TestSweepRemovesOrphans(t *testing.T) {
	s, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	stage := func(payload string) filetracker.Digest {
		st, err := s.Stage(ctx, bytes.NewReader([]byte(payload)))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Promote(st); err != nil {
			t.Fatal(err)
		}
		return st.Digest
	}

	live := stage("still referenced")
	orphan := stage("no longer referenced")

	refs := fakeRefcounter{live: 1, orphan: 0}

	res, err := Sweep(ctx, s, refs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Visited != 2 {
		t.Errorf("Visited = %d, want 2", res.Visited)
	}
	if res.Removed != 1 {
		t.Errorf("Removed = %d, want 1", res.Removed)
	}

	if _, err := s.Open(orphan); err != filetracker.ErrNotFound {
		t.Errorf("orphan should have been removed, got err=%v", err)
	}
	if _, err := s.Open(live); err != nil {
		t.Errorf("live blob should have survived, got err=%v", err)
	}
}

func TestSweepNoOrphans(t *testing.T) {
	s, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	st, err := s.Stage(ctx, bytes.NewReader([]byte("referenced")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Promote(st); err != nil {
		t.Fatal(err)
	}

	refs := fakeRefcounter{st.Digest: 1}

	res, err := Sweep(ctx, s, refs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 0 {
		t.Errorf("Removed = %d, want 0", res.Removed)
	}
}
