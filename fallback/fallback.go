// Package fallback implements the optional read-through proxy to a
// legacy origin consulted on local GET/HEAD misses.
//
// Grounded on handle_redirect in the original implementation's
// filetracker/servers/migration.py, which answers a miss with either a
// redirect to the origin or a transparently streamed proxy response;
// the strategy-object shape (a single try-fetch method, nil-able) is
// the "optional strategy object with a single method" design note.
package fallback

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/filetracker/filetracker"
)

// Mode selects how a Proxy answers a miss.
type Mode int

const (
	// Redirect answers with an HTTP 307 to the origin.
	Redirect Mode = iota
	// Stream transparently proxies the origin's response.
	Stream
)

// Proxy is the read-through fallback to a legacy origin. A nil *Proxy
// has no fallback configured, matching the optional-strategy-object
// design note: callers check for nil rather than a separate "enabled"
// flag.
type Proxy struct {
	base   *url.URL
	mode   Mode
	client *http.Client
}

// New returns a Proxy pointed at baseURL. PUT and DELETE never consult
// it; only GET/HEAD misses do.
func New(baseURL string, mode Mode) (*Proxy, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing fallback URL %q", baseURL)
	}
	return &Proxy{
		base:   u,
		mode:   mode,
		client: &http.Client{
			// No fixed timeout: callers attach ctx per-request via
			// TryFetch and Go's http.Client honors request context
			// cancellation on its own.
		},
	}, nil
}

// Result describes how a miss was resolved.
type Result struct {
	// Redirect, when non-empty, is the URL the caller should 307 to.
	Redirect string

	// Response, when non-nil, is the origin's response to stream back
	// verbatim; the caller owns closing Response.Body.
	Response *http.Response
}

// TryFetch attempts to resolve path against the origin. It returns
// ok=false if the origin also has no record of path (translated from a
// 404 there), and an error wrapping filetracker.ErrUpstreamFault if the
// origin could not be reached at all.
func (p *Proxy) TryFetch(ctx context.Context, path string, headOnly bool) (Result, bool, error) {
	target := *p.base
	target.Path = joinPath(target.Path, path)

	method := http.MethodGet
	if headOnly {
		method = http.MethodHead
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return Result{}, false, errors.Wrap(err, "building fallback request")
	}

	if p.mode == Redirect {
		req2, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
		if err != nil {
			return Result{}, false, errors.Wrap(err, "building fallback probe")
		}
		resp, err := p.client.Do(req2)
		if err != nil {
			return Result{}, false, errors.Wrap(filetracker.ErrUpstreamFault, err.Error())
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return Result{}, false, nil
		}
		return Result{Redirect: target.String()}, true, nil
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, false, errors.Wrap(filetracker.ErrUpstreamFault, err.Error())
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return Result{}, false, nil
	}
	return Result{Response: resp}, true, nil
}

func joinPath(base, path string) string {
	if len(base) > 0 && base[len(base)-1] == '/' {
		return base + path
	}
	return base + "/" + path
}
