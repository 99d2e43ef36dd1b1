// Package server implements the HTTP adapter translating
// GET/HEAD/PUT/DELETE/LIST to operations on the link database and blob
// store under the lock manager.
//
// Router and dispatch-by-verb style are grounded on
// lastnameswayne-tinycontainer/fileserver/fileserver.go's
// http.NewServeMux/mux.HandleFunc server (the only net/http server in
// the retrieval pack) and on the original implementation's WSGI
// handle_GET/handle_PUT/... dispatch in filetracker/servers/base.py,
// whose single HttpError-catching call site is reproduced here as
// statusFor.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/filetracker/filetracker"
	"github.com/filetracker/filetracker/blobstore"
	"github.com/filetracker/filetracker/fallback"
	"github.com/filetracker/filetracker/linkdb"
	"github.com/filetracker/filetracker/lockmanager"
	"github.com/filetracker/filetracker/metrics"
)

// Server is the process-wide singleton binding LDB, BS, and LM to an
// HTTP handler, grounded on cmd/bs/main.go's maincmd{s: ss} pattern in
// the teacher.
type Server struct {
	BS       *blobstore.Store
	LDB      *linkdb.DB
	LM       *lockmanager.Manager
	Fallback *fallback.Proxy // nil if not configured
	Metrics  *metrics.Counters
	Logger   *log.Logger
}

// Handler builds the complete HTTP handler: /files/, /list/, /version/,
// and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/", s.handleFiles)
	mux.HandleFunc("/list/", s.handleList)
	mux.HandleFunc("/version/", s.handleVersion)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// statusFor maps an error kind to an HTTP status, the single dispatch
// point filetracker/servers/base.py's Server.__call__ has for
// HttpError.
func statusFor(err error) int {
	switch {
	case errors.Is(err, filetracker.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, filetracker.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, filetracker.ErrUpstreamFault):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logf("internal error: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	path, err := filetracker.CleanPath(strings.TrimPrefix(r.URL.Path, "/files/"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, path, false)
	case http.MethodHead:
		s.handleGet(w, r, path, true)
	case http.MethodPut:
		s.handlePut(w, r, path)
	case http.MethodDelete:
		s.handleDelete(w, r, path)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, path string, headOnly bool) {
	ctx := r.Context()

	link, err := s.LDB.Get(ctx, path)
	if errors.Is(err, filetracker.ErrNotFound) {
		s.serveFallback(w, r, path, headOnly)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	rc, err := s.BS.Open(link.Digest)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Logical-Size", strconv.FormatInt(link.LogicalSize, 10))
	w.Header().Set("Last-Modified", link.Version.String())
	w.Header().Set("ETag", `"`+link.Digest.String()+`"`)

	clientWantsGzip := strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")

	s.Metrics.IncGets()

	if headOnly {
		w.WriteHeader(http.StatusOK)
		return
	}

	if clientWantsGzip && link.Compressed {
		w.Header().Set("Content-Encoding", "gzip")
		n, err := io.Copy(w, rc)
		s.Metrics.AddBytesSent(n)
		if err != nil {
			s.logf("error streaming compressed body for %s: %v", path, err)
		}
		return
	}

	var body io.Reader = rc
	if link.Compressed {
		gz, err := blobstore.Reader(rc)
		if err != nil {
			s.writeError(w, err)
			return
		}
		defer gz.Close()
		body = gz
	}

	n, err := io.Copy(w, body)
	s.Metrics.AddBytesSent(n)
	if err != nil {
		s.logf("error streaming body for %s: %v", path, err)
	}
}

func (s *Server) serveFallback(w http.ResponseWriter, r *http.Request, path string, headOnly bool) {
	if s.Fallback == nil {
		s.writeError(w, filetracker.ErrNotFound)
		return
	}

	res, ok, err := s.Fallback.TryFetch(r.Context(), path, headOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, filetracker.ErrNotFound)
		return
	}

	s.Metrics.IncFallbackOK()

	if res.Redirect != "" {
		http.Redirect(w, r, res.Redirect, http.StatusTemporaryRedirect)
		return
	}

	defer res.Response.Body.Close()
	for k, vs := range res.Response.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.Response.StatusCode)
	if !headOnly {
		io.Copy(w, res.Response.Body)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, path string) {
	ctx := r.Context()

	rawVersion := r.URL.Query().Get("last_modified")
	if rawVersion == "" {
		s.writeError(w, errors.Wrap(filetracker.ErrBadRequest, "missing last_modified"))
		return
	}
	version, err := filetracker.ParseVersion(rawVersion)
	if err != nil {
		s.writeError(w, errors.Wrap(filetracker.ErrBadRequest, err.Error()))
		return
	}

	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := blobstore.Reader(r.Body)
		if err != nil {
			s.writeError(w, errors.Wrap(filetracker.ErrBadRequest, err.Error()))
			return
		}
		defer gz.Close()
		body = gz
	}

	staged, err := s.BS.Stage(ctx, body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if wantChecksum := r.Header.Get("SHA256-Checksum"); wantChecksum != "" {
		want, err := filetracker.DigestFromHex(strings.ToLower(wantChecksum))
		if err != nil || want != staged.Digest {
			staged.Discard()
			s.writeError(w, errors.Wrap(filetracker.ErrBadRequest, "checksum mismatch"))
			return
		}
	}
	if wantSize := r.Header.Get("Logical-Size"); wantSize != "" {
		want, err := strconv.ParseInt(wantSize, 10, 64)
		if err != nil || want != staged.LogicalSize {
			staged.Discard()
			s.writeError(w, errors.Wrap(filetracker.ErrBadRequest, "logical size mismatch"))
			return
		}
	}

	release := s.LM.Acquire(lockmanager.PathKey(path))
	defer release()

	// The path lock already makes the current link at path stable, so
	// reading it here to learn the digest a replace would drop is safe.
	// Locking the new digest and (if present) the old one before
	// Promote/PutIfNewer run, and holding them through the later
	// Unlink, mirrors storage.py's store()/delete(): one blob lock
	// spans both the refcount update and the blob create-or-delete.
	current, err := s.LDB.Get(ctx, path)
	digestKeys := []string{lockmanager.DigestKey(staged.Digest.String())}
	hasOld := err == nil
	if err != nil && !errors.Is(err, filetracker.ErrNotFound) {
		staged.Discard()
		s.writeError(w, err)
		return
	}
	if hasOld {
		digestKeys = append(digestKeys, lockmanager.DigestKey(current.Digest.String()))
	}
	digestRelease := s.LM.AcquireMulti(digestKeys...)
	defer digestRelease()

	created, err := s.BS.Promote(staged)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !created {
		s.Metrics.IncDedupHits()
	}

	link := filetracker.Link{
		Digest:      staged.Digest,
		Version:     version,
		LogicalSize: staged.LogicalSize,
		Compressed:  true,
	}

	res, err := s.LDB.PutIfNewer(ctx, path, link)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if res.Outcome == linkdb.Replaced && res.OldRefcountZero {
		if err := s.BS.Unlink(res.OldDigest); err != nil {
			s.logf("failed to unlink orphaned digest %s: %v", res.OldDigest, err)
		}
	}

	s.Metrics.IncPuts()

	w.Header().Set("Last-Modified", res.CurrentVersion.String())
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, path string) {
	ctx := r.Context()

	rawVersion := r.URL.Query().Get("last_modified")
	if rawVersion == "" {
		s.writeError(w, errors.Wrap(filetracker.ErrBadRequest, "missing last_modified"))
		return
	}
	version, err := filetracker.ParseVersion(rawVersion)
	if err != nil {
		s.writeError(w, errors.Wrap(filetracker.ErrBadRequest, err.Error()))
		return
	}

	release := s.LM.Acquire(lockmanager.PathKey(path))
	defer release()

	// As in handlePut, the path lock makes the current link stable, so
	// it's safe to read it here to learn which digest to lock before
	// the refcount decrement that DeleteIfNewer performs: the digest
	// lock must cover the decrement and the possible unlink together,
	// the way storage.py's delete() holds one blob lock across both.
	current, err := s.LDB.Get(ctx, path)
	if errors.Is(err, filetracker.ErrNotFound) {
		s.writeError(w, filetracker.ErrNotFound)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	digestRelease := s.LM.Acquire(lockmanager.DigestKey(current.Digest.String()))
	defer digestRelease()

	res, err := s.LDB.DeleteIfNewer(ctx, path, version)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch res.Outcome {
	case linkdb.DeleteNotFound:
		s.writeError(w, filetracker.ErrNotFound)
		return
	case linkdb.DeleteNoOp:
		w.Header().Set("Last-Modified", res.CurrentVersion.String())
		w.WriteHeader(http.StatusOK)
		return
	}

	if res.RefcountZero {
		if err := s.BS.Unlink(res.Digest); err != nil {
			s.logf("failed to unlink orphaned digest %s: %v", res.Digest, err)
		}
	}

	s.Metrics.IncDeletes()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	prefix, err := cleanListPrefix(strings.TrimPrefix(r.URL.Path, "/list/"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	rawVersion := r.URL.Query().Get("last_modified")
	if rawVersion == "" {
		s.writeError(w, errors.Wrap(filetracker.ErrBadRequest, "missing last_modified"))
		return
	}
	cutoff, err := filetracker.ParseVersion(rawVersion)
	if err != nil {
		s.writeError(w, errors.Wrap(filetracker.ErrBadRequest, err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	s.Metrics.IncLists()

	err = s.LDB.List(r.Context(), prefix, cutoff, func(e linkdb.Entry) error {
		_, err := io.WriteString(w, e.RelPath+"\n")
		return err
	})
	if err != nil {
		s.logf("error streaming list for %s: %v", prefix, err)
	}
}

// cleanListPrefix is looser than filetracker.CleanPath: the empty
// string (the repository root) is a valid listing prefix.
func cleanListPrefix(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	return filetracker.CleanPath(p)
}

type versionResponse struct {
	ProtocolVersions []int `json:"protocol_versions"`
}

// handleVersion answers the protocol capability negotiation the real
// client library performs against GET /version/ before talking to a
// server.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(versionResponse{ProtocolVersions: []int{2}})
}

const healthzTimeout = 2 * time.Second

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthzTimeout)
	defer cancel()

	if _, err := s.LDB.Get(ctx, "\x00healthz-probe\x00"); err != nil && !errors.Is(err, filetracker.ErrNotFound) {
		http.Error(w, "link database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}
