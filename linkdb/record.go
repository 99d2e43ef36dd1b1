package linkdb

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/filetracker/filetracker"
)

// recordSize is the encoded size of a link record: a digest, a Unix
// second count, a logical size, and a compressed flag.
//
// Values here are raw fixed-width fields rather than a generic codec,
// in the teacher's habit of hand-rolling simple binary layouts for
// scalar values (e.g. bs.Ref is a plain [32]byte) rather than reaching
// for protobuf, which the teacher reserves for recursive tree
// structures this service has none of.
const recordSize = 32 + 8 + 8 + 1

func encodeRecord(l filetracker.Link) []byte {
	buf := make([]byte, recordSize)
	copy(buf[0:32], l.Digest[:])
	binary.BigEndian.PutUint64(buf[32:40], uint64(l.Version.Time().Unix()))
	binary.BigEndian.PutUint64(buf[40:48], uint64(l.LogicalSize))
	if l.Compressed {
		buf[48] = 1
	}
	return buf
}

func decodeRecord(buf []byte) (filetracker.Link, error) {
	if len(buf) != recordSize {
		return filetracker.Link{}, errors.Errorf("link record has wrong length %d, want %d", len(buf), recordSize)
	}

	var l filetracker.Link
	copy(l.Digest[:], buf[0:32])
	l.Version = filetracker.VersionOf(time.Unix(int64(binary.BigEndian.Uint64(buf[32:40])), 0))
	l.LogicalSize = int64(binary.BigEndian.Uint64(buf[40:48]))
	l.Compressed = buf[48] != 0
	return l, nil
}

func encodeRefcount(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func decodeRefcount(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}
