package filetracker

import (
	"strings"

	"github.com/pkg/errors"
)

// CleanPath canonicalizes a client-supplied path: it must be a
// non-empty sequence of "/"-delimited segments of alphanumeric
// characters (plus "_", "-" and "."), with no "." or ".." segment. The
// canonical form returned has no leading or trailing slash.
//
// Grounded on check_name and get_endpoint_and_path in the original
// Python source (filetracker/utils.py, filetracker/servers/base.py),
// which reject ".." and empty segments the same way.
func CleanPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", errors.Wrap(ErrBadRequest, "empty path")
	}

	segments := strings.Split(p, "/")
	for _, seg := range segments {
		if seg == "" {
			return "", errors.Wrap(ErrBadRequest, "path contains an empty segment")
		}
		if seg == "." || seg == ".." {
			return "", errors.Wrapf(ErrBadRequest, "illegal path segment %q", seg)
		}
		for _, r := range seg {
			if !isPathRune(r) {
				return "", errors.Wrapf(ErrBadRequest, "illegal character %q in path", r)
			}
		}
	}

	return strings.Join(segments, "/"), nil
}

func isPathRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.':
		return true
	}
	return false
}
