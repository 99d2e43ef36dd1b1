package fallback

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTryFetchRedirect(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	p, err := New(origin.URL, Redirect)
	if err != nil {
		t.Fatal(err)
	}

	res, ok, err := p.TryFetch(context.Background(), "present", false)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	if res.Redirect == "" {
		t.Error("expected a redirect URL")
	}

	_, ok, err = p.TryFetch(context.Background(), "missing", false)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected a miss")
	}
}

func TestTryFetchStream(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("origin body"))
	}))
	defer origin.Close()

	p, err := New(origin.URL, Stream)
	if err != nil {
		t.Fatal(err)
	}

	res, ok, err := p.TryFetch(context.Background(), "present", false)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	defer res.Response.Body.Close()

	body, err := io.ReadAll(res.Response.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "origin body" {
		t.Errorf("body = %q, want %q", body, "origin body")
	}

	_, ok, err = p.TryFetch(context.Background(), "missing", false)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected a miss")
	}
}

func TestTryFetchUnreachable(t *testing.T) {
	p, err := New("http://127.0.0.1:1", Redirect)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = p.TryFetch(context.Background(), "anything", false)
	if err == nil {
		t.Fatal("expected an error for an unreachable origin")
	}
}
