package admission

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
)

// DefaultAllowList names the routes served even while overloaded: the
// platform must always be able to initialize, probe, and tune a process.
var DefaultAllowList = []string{
	"/v1/init",
	"/v1/status",
	"/v1/log_level",
	"/v1/metadata",
	"/metrics",
}

// smoothing weights each new lag sample against the running value.
const smoothing = 1.0 / 3.0

// Observer receives admission telemetry. *metrics.Recorder satisfies it.
type Observer interface {
	ObserveAdmissionRejection(route string)
	SetSchedulingLag(lag time.Duration)
}

// Options configures a Gate.
type Options struct {
	Enabled        bool
	SampleInterval time.Duration
	LagThreshold   time.Duration
	// AllowList replaces DefaultAllowList when non-empty.
	AllowList []string
	Observer  Observer
	Logger    *slog.Logger
}

// Gate sheds load when scheduling lag, measured by a ticking sampler, exceeds
// the configured threshold. A disabled gate never reports overload.
type Gate struct {
	enabled   bool
	interval  time.Duration
	threshold time.Duration
	allow     map[string]struct{}
	observer  Observer
	logger    *slog.Logger

	lagNanos   atomic.Int64
	overloaded atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewGate builds a gate; call Start to begin sampling.
func NewGate(opts Options) *Gate {
	interval := opts.SampleInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	threshold := opts.LagThreshold
	if threshold <= 0 {
		threshold = 70 * time.Millisecond
	}
	allowList := opts.AllowList
	if len(allowList) == 0 {
		allowList = DefaultAllowList
	}
	allow := make(map[string]struct{}, len(allowList))
	for _, path := range allowList {
		allow[normalizePath(path)] = struct{}{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		enabled:   opts.Enabled,
		interval:  interval,
		threshold: threshold,
		allow:     allow,
		observer:  opts.Observer,
		logger:    logger.With(slog.String("agent", "admission")),
	}
}

// Enabled reports whether the gate can ever reject.
func (g *Gate) Enabled() bool {
	return g != nil && g.enabled
}

// Start launches the lag sampler. It is a no-op for disabled gates and for
// repeated calls.
func (g *Gate) Start(ctx context.Context) {
	if !g.Enabled() {
		return
	}
	g.startOnce.Do(func() {
		sampleCtx, cancel := context.WithCancel(ctx)
		g.cancel = cancel
		g.done = make(chan struct{})
		go g.sample(sampleCtx)
	})
}

// Stop halts the sampler and waits for it to exit.
func (g *Gate) Stop() {
	if g == nil {
		return
	}
	g.stopOnce.Do(func() {
		if g.cancel == nil {
			return
		}
		g.cancel()
		<-g.done
	})
}

// Overloaded reports whether non-critical requests should be rejected.
func (g *Gate) Overloaded() bool {
	if !g.Enabled() {
		return false
	}
	return g.overloaded.Load()
}

// Lag returns the smoothed scheduling lag.
func (g *Gate) Lag() time.Duration {
	if g == nil {
		return 0
	}
	return time.Duration(g.lagNanos.Load())
}

// Allowed reports whether path bypasses the gate.
func (g *Gate) Allowed(path string) bool {
	_, ok := g.allow[normalizePath(path)]
	return ok
}

// Middleware rejects requests with the busy failure while overloaded, except
// for allow-listed routes.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Overloaded() && !g.Allowed(r.URL.Path) {
			if g.observer != nil {
				g.observer.ObserveAdmissionRejection(r.URL.Path)
			}
			g.logger.Debug("request shed",
				slog.String("path", r.URL.Path),
				slog.Duration("lag", g.Lag()),
			)
			pipeline.WriteFailure(w, pipeline.Busy())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gate) sample(ctx context.Context) {
	defer close(g.done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			lag := now.Sub(last) - g.interval
			last = now
			g.record(lag)
		}
	}
}

// record folds one raw lag sample into the smoothed value and flips the
// overload flag when crossing the threshold.
func (g *Gate) record(sample time.Duration) {
	if sample < 0 {
		sample = 0
	}
	current := time.Duration(g.lagNanos.Load())
	smoothed := time.Duration(smoothing*float64(sample) + (1-smoothing)*float64(current))
	g.lagNanos.Store(int64(smoothed))
	if g.observer != nil {
		g.observer.SetSchedulingLag(smoothed)
	}

	overloaded := smoothed > g.threshold
	if previous := g.overloaded.Swap(overloaded); previous != overloaded {
		if overloaded {
			g.logger.Warn("process overloaded, shedding load",
				slog.Duration("lag", smoothed),
				slog.Duration("threshold", g.threshold),
			)
		} else {
			g.logger.Info("process recovered from overload", slog.Duration("lag", smoothed))
		}
	}
}

func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if len(trimmed) > 1 {
		trimmed = strings.TrimRight(trimmed, "/")
	}
	return trimmed
}
