package filetracker

import (
	"net/mail"
	"time"

	"github.com/pkg/errors"
)

// Version is a wall-clock timestamp, client-asserted, denoting the
// logical modification time of a link. Versions are totally ordered by
// the instant they denote and are compared with second resolution, the
// resolution of the RFC 2822 wire format.
type Version struct {
	t time.Time
}

// rfc2822Layout is time.RFC1123Z with the numeric zone offset that RFC
// 2822 requires; it is what Version.String and the Last-Modified /
// last_modified wire values both use.
const rfc2822Layout = time.RFC1123Z

// additional layouts tried when parsing, for tolerance of the variety
// of date strings real clients send; the approach of trying several
// layouts in turn before giving up is the one cmd/fbs/fbs.go's
// parsetime uses for its own timestamp flag.
var fallbackLayouts = []string{
	rfc2822Layout,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// ZeroVersion is the zero value of a Version: the earliest possible
// version, always older than any version a client can assert.
var ZeroVersion = Version{}

// ParseVersion parses an RFC 2822 date with second resolution.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, errors.New("empty version")
	}

	if t, err := mail.ParseDate(s); err == nil {
		return Version{t: t.Truncate(time.Second)}, nil
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil { // sic: first match wins
			return Version{t: t.Truncate(time.Second)}, nil
		}
	}

	return Version{}, errors.Errorf("malformed version %q", s)
}

// VersionOf wraps a time.Time as a Version, truncating to second
// resolution.
func VersionOf(t time.Time) Version {
	return Version{t: t.Truncate(time.Second)}
}

// Time returns the underlying time.Time.
func (v Version) Time() time.Time { return v.t }

// String renders v as an RFC 2822 date, suitable for a Last-Modified
// header or a last_modified query parameter.
func (v Version) String() string {
	return v.t.UTC().Format(rfc2822Layout)
}

// Before reports whether v denotes an instant strictly before other.
func (v Version) Before(other Version) bool {
	return v.t.Before(other.t)
}

// Equal reports whether v and other denote the same instant. It lets
// go-cmp compare Versions without reaching into the unexported
// time.Time field.
func (v Version) Equal(other Version) bool {
	return v.t.Equal(other.t)
}

// Less is an alias for Before, for callers that think in terms of
// ordering rather than time.
func (v Version) Less(other Version) bool {
	return v.Before(other)
}
