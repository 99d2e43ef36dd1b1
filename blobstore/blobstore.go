// Package blobstore implements content-addressed storage of
// gzip-compressed byte streams on a local filesystem.
//
// Blobs are keyed by the SHA-256 of their uncompressed payload, stored
// under a fan-out directory named by the first two hex digits of the
// digest, which spreads them over 256 subdirectories. Staging and
// promotion are split so
// that a slow or failed upload never leaves a partially-written blob
// visible under its final name: see Stage and Promote.
//
// Grounded on store/file/file.go's blobpath fan-out and
// O_EXCL-on-create idempotent-write pattern in the teacher repo this
// package is adapted from, and on the staging-then-rename pattern in
// gezibash-arc-node's internal/blobstore/physical/fs backend.
package blobstore

import (
	"bufio"
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/filetracker/filetracker"
)

// bufSize bounds the memory used while staging and serving blobs;
// compression, hashing, and length counting all operate one buffer at
// a time. Matches _BUFFER_SIZE in the original storage.py.
const bufSize = 64 * 1024

// Store is a file-based, content-addressed, gzip-compressing blob store.
type Store struct {
	root string
}

// New opens (creating if necessary) a Store rooted at root. It expects
// (or creates) root/blobs and root/staging.
func New(root string) (*Store, error) {
	s := &Store{root: root}
	if err := os.MkdirAll(s.blobsDir(), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating blobs dir")
	}
	if err := os.MkdirAll(s.stagingDir(), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating staging dir")
	}
	return s, nil
}

func (s *Store) blobsDir() string   { return filepath.Join(s.root, "blobs") }
func (s *Store) stagingDir() string { return filepath.Join(s.root, "staging") }

func (s *Store) blobPath(d filetracker.Digest) string {
	hex := d.String()
	return filepath.Join(s.blobsDir(), hex[:2], hex[2:])
}

// Staged is a blob that has been written to a temporary file and
// digested, but not yet promoted (or discarded).
type Staged struct {
	Digest      filetracker.Digest
	LogicalSize int64

	path string
	done bool
}

// Discard removes the staged temporary file without promoting it.
// Safe to call after a successful Promote (it is then a no-op).
func (st *Staged) Discard() error {
	if st.done {
		return nil
	}
	st.done = true
	err := os.Remove(st.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Stage consumes r (already decompressed) and writes a gzip-compressed
// copy to a temporary file in the staging directory, computing the
// SHA-256 and length of the uncompressed bytes as it goes. It does not
// touch the store's durable namespace; call Promote (or Discard) next.
func (s *Store) Stage(ctx context.Context, r io.Reader) (*Staged, error) {
	tmp, err := os.CreateTemp(s.stagingDir(), "stage-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating staging file")
	}
	tmpPath := tmp.Name()

	st, err := stageInto(ctx, r, tmp)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return nil, errors.Wrap(closeErr, "closing staging file")
	}

	st.path = tmpPath
	return st, nil
}

func stageInto(ctx context.Context, r io.Reader, w io.Writer) (*Staged, error) {
	hasher := sha256.New()
	gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return nil, errors.Wrap(err, "creating gzip writer")
	}

	buf := make([]byte, bufSize)
	var logicalSize int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			logicalSize += int64(n)
			if _, err := gz.Write(buf[:n]); err != nil {
				return nil, errors.Wrap(err, "writing compressed data")
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, errors.Wrap(readErr, "reading payload")
		}
	}

	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "flushing gzip writer")
	}

	var digest filetracker.Digest
	copy(digest[:], hasher.Sum(nil))

	return &Staged{Digest: digest, LogicalSize: logicalSize}, nil
}

// Promote atomically installs a staged blob at its digest's canonical
// path. It reports whether this call created the blob, as opposed to
// finding an identical one already present (in which case the staged
// file is discarded).
//
// The arbitration primitive is a hard link: two concurrent Promote
// calls for the same digest race to create the same link, and exactly
// one of os.Link calls succeeds. This is the "sparse hard links"
// capability the design asks of the filesystem.
func (s *Store) Promote(st *Staged) (created bool, err error) {
	dest := s.blobPath(st.Digest)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, errors.Wrap(err, "creating blob directory")
	}

	err = os.Link(st.path, dest)
	if err == nil {
		return true, st.Discard()
	}
	if os.IsExist(err) {
		return false, st.Discard()
	}
	return false, errors.Wrap(err, "promoting staged blob")
}

// Open opens the compressed blob for digest for reading. The returned
// stream is gzip-compressed on the wire; callers that want the
// uncompressed payload should wrap it with a gzip.Reader.
func (s *Store) Open(digest filetracker.Digest) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(digest))
	if os.IsNotExist(err) {
		return nil, filetracker.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "opening blob")
	}
	return f, nil
}

// Unlink removes the on-disk file for digest. Callers must hold the
// lock manager's digest lock and must have already confirmed the
// digest's refcount in LDB is zero.
func (s *Store) Unlink(digest filetracker.Digest) error {
	err := os.Remove(s.blobPath(digest))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Walk calls f once for every digest currently present in the store,
// in fan-out directory order. It is used by the startup GC sweep to
// enumerate candidates for collection; f is not called concurrently.
func (s *Store) Walk(f func(filetracker.Digest) error) error {
	topEntries, err := os.ReadDir(s.blobsDir())
	if err != nil {
		return errors.Wrap(err, "reading blobs directory")
	}

	for _, top := range topEntries {
		if !top.IsDir() {
			continue
		}
		subDir := filepath.Join(s.blobsDir(), top.Name())
		subEntries, err := os.ReadDir(subDir)
		if err != nil {
			return errors.Wrapf(err, "reading blob fan-out directory %s", top.Name())
		}
		for _, sub := range subEntries {
			if sub.IsDir() {
				continue
			}
			digest, err := filetracker.DigestFromHex(top.Name() + sub.Name())
			if err != nil {
				continue
			}
			if err := f(digest); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reader wraps a compressed blob stream with decompression, reading
// bufSize bytes at a time so memory use stays bounded regardless of
// blob size.
func Reader(compressed io.Reader) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(bufio.NewReaderSize(compressed, bufSize))
	if err != nil {
		return nil, errors.Wrap(err, "opening gzip stream")
	}
	return gz, nil
}
