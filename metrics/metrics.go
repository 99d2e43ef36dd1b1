// Package metrics implements the server's minimal observability
// surface: a handful of in-process counters and a liveness probe.
//
// The teacher carries no metrics package of its own, and no SPEC_FULL
// component produces a surface large enough to justify wiring
// github.com/prometheus/client_golang (used elsewhere in the retrieval
// pack by gezibash-arc-node for a much larger node); expvar is the
// standard-library answer for small, dependency-light counters and is
// the one ambient concern in this repository built on stdlib rather
// than a pack dependency, per the design notes.
package metrics

import (
	"expvar"
	"sync/atomic"
)

// Counters holds the server's running counts. The zero value is ready
// to use.
type Counters struct {
	Puts       int64
	Gets       int64
	Deletes    int64
	Lists      int64
	DedupHits  int64
	BytesSent  int64
	FallbackOK int64
}

// New registers a fresh Counters under expvar and returns it. name
// distinguishes multiple instances within a process (tests, mainly);
// production processes register exactly one.
func New(name string) *Counters {
	c := &Counters{}
	expvar.Publish(name, expvar.Func(func() interface{} {
		return map[string]int64{
			"puts":        atomic.LoadInt64(&c.Puts),
			"gets":        atomic.LoadInt64(&c.Gets),
			"deletes":     atomic.LoadInt64(&c.Deletes),
			"lists":       atomic.LoadInt64(&c.Lists),
			"dedup_hits":  atomic.LoadInt64(&c.DedupHits),
			"bytes_sent":  atomic.LoadInt64(&c.BytesSent),
			"fallback_ok": atomic.LoadInt64(&c.FallbackOK),
		}
	}))
	return c
}

func (c *Counters) IncPuts()             { atomic.AddInt64(&c.Puts, 1) }
func (c *Counters) IncGets()             { atomic.AddInt64(&c.Gets, 1) }
func (c *Counters) IncDeletes()          { atomic.AddInt64(&c.Deletes, 1) }
func (c *Counters) IncLists()            { atomic.AddInt64(&c.Lists, 1) }
func (c *Counters) IncDedupHits()        { atomic.AddInt64(&c.DedupHits, 1) }
func (c *Counters) AddBytesSent(n int64) { atomic.AddInt64(&c.BytesSent, n) }
func (c *Counters) IncFallbackOK()       { atomic.AddInt64(&c.FallbackOK, 1) }
