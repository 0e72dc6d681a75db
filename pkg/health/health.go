// Package health serves liveness and readiness probes backed by periodic
// checks.
//
// Every check runs in its own goroutine. A check flips to failing only after
// FailureThreshold consecutive errors and back to passing after
// SuccessThreshold consecutive successes, so a single slow ping does not pull
// the instance out of the load balancer.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is usable.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	// Liveness checks decide whether the process should be restarted.
	Liveness Kind = iota
	// Readiness checks decide whether the process should receive traffic.
	Readiness
)

func (k Kind) String() string {
	if k == Readiness {
		return "readiness"
	}
	return "liveness"
}

// Check describes a registered check. Zero thresholds default to 3 failures
// and 1 success; a zero Timeout defaults to one second.
type Check struct {
	Name             string
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	Fn               CheckFunc
}

// probe is the runtime state of a Check. Counters are touched only by the
// goroutine driving run; passing and lastErr are read by HTTP handlers.
type probe struct {
	Check
	kind Kind
	lg   *zap.Logger

	passing atomic.Bool
	lastErr atomic.Pointer[error]

	fails, oks int
}

func (p *probe) err() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	err := p.Fn(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= p.FailureThreshold && p.passing.Swap(false) {
			p.lg.Warn("Health check failing",
				zap.String("check", p.Name),
				zap.Stringer("kind", p.kind),
				zap.Int("failures", p.fails),
				zap.Error(err),
			)
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= p.SuccessThreshold && !p.passing.Swap(true) {
		p.lg.Info("Health check recovered", zap.String("check", p.Name), zap.Stringer("kind", p.kind))
	}
}

// Health aggregates checks and the manual readiness switch.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New creates a Health that starts not ready. Call SetReady(true) once
// start-up has finished.
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// Add registers a check. Checks start passing until proven otherwise.
func (h *Health) Add(kind Kind, c Check) {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	p := &probe{Check: c, kind: kind, lg: h.lg}
	p.passing.Store(true)

	h.mu.Lock()
	h.probes = append(h.probes, p)
	h.mu.Unlock()
}

// Start runs every registered check immediately and then every interval
// until Stop is called or ctx ends.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append([]*probe(nil), h.probes...)
	h.mu.Unlock()

	for _, p := range probes {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				p.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness switch, e.g. to false when draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the switch is on and all readiness checks pass.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.snapshot(Readiness) {
		if !p.passing.Load() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(kind Kind) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*probe
	for _, p := range h.probes {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.snapshot(Liveness), true)
}

// ReadyEndpoint serves /readyz. It fails while the readiness switch is off.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.snapshot(Readiness), h.ready.Load())
}

// writeReport renders
//
//	{"status":"ok|unhealthy","ready":bool,"checks":{"name":{"status":"ok|failing","error":"..."}}}
func writeReport(w http.ResponseWriter, probes []*probe, ready bool) {
	sort.Slice(probes, func(i, j int) bool { return probes[i].Name < probes[j].Name })

	healthy := ready
	for _, p := range probes {
		if !p.passing.Load() {
			healthy = false
		}
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) {
			if healthy {
				e.Str("ok")
			} else {
				e.Str("unhealthy")
			}
		})
		e.Field("ready", func(e *jx.Encoder) { e.Bool(ready) })
		if len(probes) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, p := range probes {
					e.Field(p.Name, func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							passing := p.passing.Load()
							e.Field("status", func(e *jx.Encoder) {
								if passing {
									e.Str("ok")
								} else {
									e.Str("failing")
								}
							})
							if err := p.err(); err != nil && !passing {
								e.Field("error", func(e *jx.Encoder) { e.Str(err.Error()) })
							}
						})
					})
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(e.Bytes())
}
