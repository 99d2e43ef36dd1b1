// Package gc implements the startup sweep that removes orphaned blob
// files: ones whose digest has no entry in the link database's refs
// table, or whose refcount has already reached zero.
//
// Generalized from the teacher's gc.Run, which deletes anything not
// present in an explicit Keep set built by walking reachable
// references; filetracker has no reachability graph to walk (a link
// points directly at one digest, no recursive structure), so the
// sweep instead asks LDB's own refcount bookkeeping whether a digest
// is still wanted. This is the refcount-zero model spec.md's crash
// recovery note describes: LDB is the source of truth, and no
// operation ever creates a link without a committed refcount bump.
package gc

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/filetracker/filetracker"
)

// concurrency bounds how many digests are checked against LDB at
// once; Walk itself is a single sequential directory traversal, but
// the refcount lookup and unlink for each digest is independent work,
// in the spirit of the bounded-concurrency errgroup.Group usage the
// teacher's file.go applies to its own ListRefs-driven fan-out.
const concurrency = 16

// Refcounter is the subset of linkdb.DB the sweep needs.
type Refcounter interface {
	Refcount(ctx context.Context, digest filetracker.Digest) (uint64, error)
}

// Unlinker is the subset of blobstore.Store the sweep needs.
type Unlinker interface {
	Walk(f func(filetracker.Digest) error) error
	Unlink(digest filetracker.Digest) error
}

// Result summarizes one sweep.
type Result struct {
	Visited int
	Removed int
}

// Sweep walks every blob in bs and removes any whose digest has no
// surviving references in ldb. It takes no digest locks, so it runs
// before the server accepts requests: a PUT that dedups onto a digest
// between the sweep's refcount read and its Unlink would find the old
// file still present in Promote, and the sweep would then remove it.
func Sweep(ctx context.Context, bs Unlinker, ldb Refcounter) (Result, error) {
	var (
		visited, removed int64
		sem              = make(chan struct{}, concurrency)
		wg               sync.WaitGroup
	)

	g, gctx := errgroup.WithContext(ctx)

	err := bs.Walk(func(digest filetracker.Digest) error {
		if err := gctx.Err(); err != nil {
			return err
		}

		atomic.AddInt64(&visited, 1)

		sem <- struct{}{}
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			defer func() { <-sem }()

			rc, err := ldb.Refcount(gctx, digest)
			if err != nil {
				return err
			}
			if rc > 0 {
				return nil
			}
			if err := bs.Unlink(digest); err != nil {
				return err
			}
			atomic.AddInt64(&removed, 1)
			return nil
		})
		return nil
	})
	wg.Wait()

	if err != nil {
		return Result{}, err
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{Visited: int(visited), Removed: int(removed)}, nil
}
