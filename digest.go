package filetracker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// Digest is the SHA-256 of a blob's uncompressed content, in lowercase
// hex once stringified. It is a blob's identity in the store.
type Digest [sha256.Size]byte

// ZeroDigest is the zero value of a Digest.
var ZeroDigest Digest

// DigestOf computes the Digest of b.
func DigestOf(b []byte) Digest {
	return sha256.Sum256(b)
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Less reports whether d sorts before other in the total order badger
// and the filesystem fan-out both rely on: plain byte comparison.
func (d Digest) Less(other Digest) bool {
	return bytes.Compare(d[:], other[:]) < 0
}

// FromHex decodes a 64-character lowercase hex string into d.
func (d *Digest) FromHex(s string) error {
	if len(s) != 2*sha256.Size {
		return errors.Errorf("digest %q has wrong length", s)
	}
	_, err := hex.Decode(d[:], []byte(s))
	return err
}

// DigestFromHex decodes a 64-character lowercase hex string into a Digest.
func DigestFromHex(s string) (Digest, error) {
	var d Digest
	err := d.FromHex(s)
	return d, err
}
