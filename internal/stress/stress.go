// Package stress drives concurrent workloads against an nbmap.Map and
// checks the results.
package stress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/llxisdsh/nbmap"
	"github.com/llxisdsh/nbmap/internal/stressconf"
	"github.com/llxisdsh/nbmap/metrics"
)

// ErrViolation is wrapped by every consistency failure a run detects.
var ErrViolation = errors.New("stress: consistency violation")

// Report summarizes a finished run.
type Report struct {
	Inserted  int
	Removed   int
	Live      int
	Snapshots int64
	Duration  time.Duration
	Stats     *nbmap.MapStats
}

// Runner executes one configured run.
type Runner struct {
	cfg    stressconf.Config
	logger hclog.Logger
	m      *nbmap.Map[string, int]
}

// NewRunner creates a Runner with a fresh map built from cfg.
func NewRunner(cfg stressconf.Config, logger hclog.Logger) *Runner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Runner{
		cfg:    cfg,
		logger: logger,
		m: nbmap.NewMap[string, int](
			nbmap.WithPresize(cfg.InitialCapacity),
			nbmap.WithLogger(logger.Named("map")),
		),
	}
}

// Map returns the map under test.
func (r *Runner) Map() *nbmap.Map[string, int] {
	return r.m
}

// Run inserts Keys keys from each of Writers goroutines while Readers
// goroutines take snapshots, then verifies the final contents.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}

	if r.cfg.MetricsAddr != "" {
		stop, err := r.serveMetrics()
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	start := time.Now()
	expected := make([]map[string]int, r.cfg.Writers)

	readCtx, cancelReaders := context.WithCancel(ctx)
	defer cancelReaders()
	var snapshots atomic.Int64
	readErrs := make(chan error, r.cfg.Readers)
	var readers sync.WaitGroup
	for i := 0; i < r.cfg.Readers; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			readErrs <- r.read(readCtx, &snapshots)
		}()
	}

	var writers sync.WaitGroup
	for w := 0; w < r.cfg.Writers; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			expected[w] = r.write(ctx, w)
		}(w)
	}
	writers.Wait()
	cancelReaders()
	readers.Wait()
	close(readErrs)
	for err := range readErrs {
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		Snapshots: snapshots.Load(),
		Duration:  time.Since(start),
	}
	for _, keys := range expected {
		for k, v := range keys {
			report.Inserted++
			if v < 0 {
				report.Removed++
				if got, ok := r.m.Load(k); ok {
					return nil, fmt.Errorf("%w: removed key %s holds %d", ErrViolation, k, got)
				}
				continue
			}
			report.Live++
			if got, ok := r.m.Load(k); !ok || got != v {
				return nil, fmt.Errorf("%w: key %s holds %d (present %v), want %d", ErrViolation, k, got, ok, v)
			}
		}
	}
	if n := r.m.Count(); n != report.Live {
		return nil, fmt.Errorf("%w: count %d, want %d", ErrViolation, n, report.Live)
	}
	report.Stats = r.m.Stats()

	r.logger.Info("run finished",
		"inserted", report.Inserted,
		"removed", report.Removed,
		"snapshots", report.Snapshots,
		"generation", report.Stats.Generation,
		"duration", report.Duration)
	return report, nil
}

// write inserts one writer's keys and returns the expected final value
// per key; removed keys map to -1.
func (r *Runner) write(ctx context.Context, w int) map[string]int {
	keys := make(map[string]int, r.cfg.Keys)
	for i := 0; i < r.cfg.Keys; i++ {
		if i%1024 == 0 && ctx.Err() != nil {
			break
		}
		k := r.key(w, i)
		r.m.Store(k, i)
		keys[k] = i
		if r.cfg.RemoveEvery > 0 && i%r.cfg.RemoveEvery == 0 {
			r.m.Delete(k)
			keys[k] = -1
		}
	}
	return keys
}

func (r *Runner) key(w, i int) string {
	if r.cfg.KeyKind == stressconf.KeyKindULID {
		return ulid.Make().String()
	}
	return strconv.Itoa(w) + "-" + strconv.Itoa(i)
}

// read takes paced snapshots until ctx is done and fails on any key
// reported twice within one snapshot.
func (r *Runner) read(ctx context.Context, snapshots *atomic.Int64) error {
	limit := rate.Inf
	if r.cfg.SnapshotRate > 0 {
		limit = rate.Limit(r.cfg.SnapshotRate)
	}
	limiter := rate.NewLimiter(limit, 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		seen := make(map[string]struct{}, r.m.Count())
		for s := r.m.Snapshot(); s.Next(); {
			if _, dup := seen[s.Key()]; dup {
				return fmt.Errorf("%w: snapshot reported key %s twice", ErrViolation, s.Key())
			}
			seen[s.Key()] = struct{}{}
		}
		snapshots.Add(1)
	}
}

func (r *Runner) serveMetrics() (stop func(), err error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector("stress", "main", r.m)); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	ln, err := net.Listen("tcp", r.cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", r.cfg.MetricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server failed", "error", err)
		}
	}()
	r.logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
