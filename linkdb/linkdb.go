// Package linkdb implements the name-to-blob index: a transactional
// mapping from path to {digest, version, logical_size, compressed},
// plus a per-digest reference count, backed by an ordered embedded
// key-value store with multi-key transactions.
//
// Grounded on gezibash-arc-node's
// internal/indexstore/physical/badger/backend.go for the
// db.Update(func(txn *badger.Txn) error {...}) transactional envelope
// and prefix-iterator idiom, and on storage.py's store/delete methods
// in the original implementation for the exact
// version-comparison and refcount bookkeeping this package reproduces
// with a real ACID transaction in place of a single BSDDB transaction
// plus a separate symlink.
package linkdb

import (
	"bytes"
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/filetracker/filetracker"
)

const (
	linkPrefix = "link/"
	refPrefix  = "ref/"
)

func linkKey(path string) []byte { return []byte(linkPrefix + path) }
func refKey(hex string) []byte   { return []byte(refPrefix + hex) }

// DB is the link database: a badger-backed transactional index from
// path to link record, with digest reference counts maintained in the
// same transactions.
type DB struct {
	db *badger.DB
}

// Open opens (creating if necessary) a DB rooted at dir.
func Open(dir string) (*DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening link database")
	}
	return &DB{db: bdb}, nil
}

// Close releases the underlying badger handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Get returns the link record for path, or filetracker.ErrNotFound if
// there is none.
func (d *DB) Get(_ context.Context, path string) (filetracker.Link, error) {
	var l filetracker.Link
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(linkKey(path))
		if err == badger.ErrKeyNotFound {
			return filetracker.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			l, err = decodeRecord(val)
			return err
		})
	})
	return l, err
}

// Refcount returns the current reference count for digest. It is zero
// if the digest is unknown.
func (d *DB) Refcount(_ context.Context, digest filetracker.Digest) (uint64, error) {
	var n uint64
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(refKey(digest.String()))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n = decodeRefcount(val)
			return nil
		})
	})
	return n, err
}

// PutOutcome describes what PutIfNewer did.
type PutOutcome int

const (
	// Created means path had no prior link; new is now current.
	Created PutOutcome = iota
	// Replaced means path had an older link, now replaced by new.
	Replaced
	// NoOp means path's stored version was >= new's version; nothing
	// changed. Ties resolve to NoOp: the incoming write loses.
	NoOp
)

// PutResult is the outcome of PutIfNewer.
type PutResult struct {
	Outcome PutOutcome

	// CurrentVersion is the version now stored at path (the new
	// version on Created/Replaced, the retained version on NoOp).
	CurrentVersion filetracker.Version

	// OldDigest is the digest that was replaced, set only on Replaced.
	OldDigest filetracker.Digest

	// OldRefcountZero reports whether OldDigest's refcount reached
	// zero as a result of this call; the caller should unlink the old
	// blob from the blob store after the transaction commits.
	OldRefcountZero bool
}

// PutIfNewer inserts or replaces the link at path with new, provided
// new.Version is strictly greater than the stored version (or there is
// no stored link). The whole read-compare-write-refcount sequence is
// one badger transaction, so a concurrent reader never observes a
// torn update (I1, I2).
func (d *DB) PutIfNewer(_ context.Context, path string, new filetracker.Link) (PutResult, error) {
	var result PutResult

	err := d.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(linkKey(path))
		switch err {
		case badger.ErrKeyNotFound:
			if putErr := txn.Set(linkKey(path), encodeRecord(new)); putErr != nil {
				return putErr
			}
			if incErr := incrRef(txn, new.Digest, 1); incErr != nil {
				return incErr
			}
			result = PutResult{Outcome: Created, CurrentVersion: new.Version}
			return nil

		case nil:
			var current filetracker.Link
			if valErr := item.Value(func(val []byte) error {
				current, err = decodeRecord(val)
				return err
			}); valErr != nil {
				return valErr
			}

			if !current.Version.Before(new.Version) {
				result = PutResult{Outcome: NoOp, CurrentVersion: current.Version}
				return nil
			}

			if setErr := txn.Set(linkKey(path), encodeRecord(new)); setErr != nil {
				return setErr
			}
			if incErr := incrRef(txn, new.Digest, 1); incErr != nil {
				return incErr
			}

			zero, decErr := decrRef(txn, current.Digest, 1)
			if decErr != nil {
				return decErr
			}

			result = PutResult{
				Outcome:         Replaced,
				CurrentVersion:  new.Version,
				OldDigest:       current.Digest,
				OldRefcountZero: zero,
			}
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return PutResult{}, errors.Wrapf(err, "put_if_newer(%s)", path)
	}
	return result, nil
}

// DeleteOutcome describes what DeleteIfNewer did.
type DeleteOutcome int

const (
	// Deleted means the link existed and was removed.
	Deleted DeleteOutcome = iota
	// DeleteNotFound means path had no link.
	DeleteNotFound
	// DeleteNoOp means path's stored version was newer than the
	// requested deletion version; nothing changed.
	DeleteNoOp
)

// DeleteResult is the outcome of DeleteIfNewer.
type DeleteResult struct {
	Outcome DeleteOutcome

	// CurrentVersion is the retained version, set on DeleteNoOp.
	CurrentVersion filetracker.Version

	// Digest is the digest that was unlinked, set on Deleted.
	Digest filetracker.Digest

	// RefcountZero reports whether Digest's refcount reached zero.
	RefcountZero bool
}

// DeleteIfNewer removes the link at path, provided version is greater
// than or equal to the stored version (strict: version < current
// yields DeleteNoOp).
func (d *DB) DeleteIfNewer(_ context.Context, path string, version filetracker.Version) (DeleteResult, error) {
	var result DeleteResult

	err := d.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(linkKey(path))
		if err == badger.ErrKeyNotFound {
			result = DeleteResult{Outcome: DeleteNotFound}
			return nil
		}
		if err != nil {
			return err
		}

		var current filetracker.Link
		if valErr := item.Value(func(val []byte) error {
			current, err = decodeRecord(val)
			return err
		}); valErr != nil {
			return valErr
		}

		if current.Version.Before(version) {
			// version >= current.version: proceed with delete.
		} else if version.Before(current.Version) {
			result = DeleteResult{Outcome: DeleteNoOp, CurrentVersion: current.Version}
			return nil
		}

		if delErr := txn.Delete(linkKey(path)); delErr != nil {
			return delErr
		}

		zero, decErr := decrRef(txn, current.Digest, 1)
		if decErr != nil {
			return decErr
		}

		result = DeleteResult{Outcome: Deleted, Digest: current.Digest, RefcountZero: zero}
		return nil
	})
	if err != nil {
		return DeleteResult{}, errors.Wrapf(err, "delete_if_newer(%s)", path)
	}
	return result, nil
}

func incrRef(txn *badger.Txn, digest filetracker.Digest, delta uint64) error {
	key := refKey(digest.String())
	var n uint64
	item, err := txn.Get(key)
	switch err {
	case badger.ErrKeyNotFound:
		n = 0
	case nil:
		if valErr := item.Value(func(val []byte) error {
			n = decodeRefcount(val)
			return nil
		}); valErr != nil {
			return valErr
		}
	default:
		return err
	}
	return txn.Set(key, encodeRefcount(n+delta))
}

// decrRef decrements digest's refcount by delta, deleting the key
// entirely (rather than leaving a zero) once it reaches zero, and
// reports whether it did.
func decrRef(txn *badger.Txn, digest filetracker.Digest, delta uint64) (zero bool, err error) {
	key := refKey(digest.String())
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		// Nothing to decrement; treat as already at zero.
		return true, nil
	}
	if err != nil {
		return false, err
	}

	var n uint64
	if valErr := item.Value(func(val []byte) error {
		n = decodeRefcount(val)
		return nil
	}); valErr != nil {
		return false, valErr
	}

	if delta >= n {
		return true, txn.Delete(key)
	}
	return false, txn.Set(key, encodeRefcount(n-delta))
}

// Entry is one row produced by List.
type Entry struct {
	RelPath string
	Version filetracker.Version
}

// List performs a range scan over links whose path lies under the
// given directory prefix — the prefix itself plus a "/" segment
// boundary, so that listing "images" matches "images/foo" but not a
// sibling path like "images2/foo" — calling f for each whose version
// is strictly older than cutoff, with the prefix stripped from the
// path handed to f. An empty prefix lists every link. Emission is lazy
// and incremental: List holds a single badger read-only transaction
// open for the duration of the scan (a point-in-time snapshot;
// concurrent writes may or may not be reflected, but a single key is
// never observed torn).
//
// If f returns an error, List stops and returns it.
func (d *DB) List(_ context.Context, prefix string, cutoff filetracker.Version, f func(Entry) error) error {
	scanPrefix := linkPrefix
	if prefix != "" {
		scanPrefix = linkPrefix + prefix + "/"
	}
	fullPrefix := []byte(scanPrefix)

	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			item := it.Item()

			var rec filetracker.Link
			if err := item.Value(func(val []byte) error {
				var err error
				rec, err = decodeRecord(val)
				return err
			}); err != nil {
				return err
			}

			if !rec.Version.Before(cutoff) {
				continue
			}

			relPath := bytes.TrimPrefix(item.KeyCopy(nil), fullPrefix)

			if err := f(Entry{RelPath: string(relPath), Version: rec.Version}); err != nil {
				return err
			}
		}
		return nil
	})
}
