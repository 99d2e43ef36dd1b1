package filetracker

import "errors"

// Sentinel errors for the error kinds described in the design: RH maps
// each of these to an HTTP status in one place, the way
// filetracker/servers/base.py's Server.__call__ catches HttpError in
// one place in the original implementation this service is modeled on.
var (
	// ErrNotFound is returned when a path or blob has no record.
	ErrNotFound = errors.New("filetracker: not found")

	// ErrBadRequest is returned for a missing required query parameter,
	// a malformed version, an illegal path, or a checksum/size mismatch.
	ErrBadRequest = errors.New("filetracker: bad request")

	// ErrUpstreamFault is returned when the fallback origin failed and
	// there is no local copy to fall back to.
	ErrUpstreamFault = errors.New("filetracker: upstream fault")
)
