// Package sink implements the worker described in spec §4.5 and §4.6:
// per-sink spool scanning with TTL/size-bounded eviction feeding an
// in-memory queue.Queue, drained by N concurrent HTTP senders.
package sink

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/ovh/beamium/internal/config"
	"github.com/ovh/beamium/internal/queue"
	"github.com/ovh/beamium/internal/spool"
	"github.com/ovh/beamium/internal/telemetry"
)

// Worker owns one sink's spool directory: it scans it on ScanPeriod,
// admits newly finalized files to the queue (oldest-first by mtime),
// evicts files past TTL or beyond the sink's max_size budget, and runs
// cfg.Parallel senders against the resulting queue.
type Worker struct {
	cfg    config.SinkConfig
	params config.Parameters
	fs     afero.Fs

	metrics *telemetry.Metrics
	logger  log.Logger

	q *queue.Queue

	mu   sync.Mutex
	seen map[string]struct{}
}

// New builds a sink worker. It does not start scanning or sending until
// Run is called.
func New(cfg config.SinkConfig, params config.Parameters, fs afero.Fs, metrics *telemetry.Metrics, logger log.Logger) *Worker {
	return &Worker{
		cfg:     cfg,
		params:  params,
		fs:      fs,
		metrics: metrics,
		logger:  log.With(logger, "component", "sink", "sink", cfg.Name),
		q:       queue.New(),
		seen:    map[string]struct{}{},
	}
}

func (w *Worker) Name() string { return "sink:" + w.cfg.Name }

// Run drives both the scan loop and the sender pool until ctx is
// cancelled, returning once every goroutine it started has stopped.
func (w *Worker) Run(ctx context.Context) error {
	client := NewClient(w.cfg)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Parallel; i++ {
		s := NewSender(w.cfg, w.params, w.fs, w.q, client, w.metrics, w.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Run(ctx)
		}()
	}

	ticker := time.NewTicker(w.params.ScanPeriod.AsDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick scans the sink's spool directory, admits newly finalized files
// oldest-first, discards files past TTL (whether newly seen or already
// queued), and sheds the newest admissions once the sink's max_size
// budget is exceeded (spec §4.5).
func (w *Worker) tick() {
	scanned, err := spool.Scan(w.fs, w.params.SinkDir)
	if err != nil {
		level.Error(w.logger).Log("msg", "scanning sink spool failed", "err", err)
		return
	}

	ttl := w.cfg.TTL.AsDuration()
	now := time.Now()

	var fresh []string
	var totalSize int64
	for path, info := range scanned {
		if !spool.PrefixName(path, w.cfg.Name) {
			continue
		}
		if now.Sub(info.ModTime()) > ttl {
			w.metrics.SkipTTL.WithLabelValues(w.cfg.Name).Inc()
			_ = w.fs.Remove(path)
			w.q.Discard(path)
			w.mu.Lock()
			delete(w.seen, path)
			w.mu.Unlock()
			continue
		}
		fresh = append(fresh, path)
		totalSize += info.Size()
	}
	// fresh only counts this sink's own prefixed files out of a directory
	// every sink shares, so the gauge is keyed by sink name, not by the
	// (shared) directory path: labeling by directory alone would let
	// concurrent sinks clobber each other's value.
	w.metrics.DirectoryFiles.WithLabelValues(w.cfg.Name).Set(float64(len(fresh)))

	w.mu.Lock()
	var newPaths []string
	for _, p := range fresh {
		if _, ok := w.seen[p]; !ok {
			newPaths = append(newPaths, p)
			w.seen[p] = struct{}{}
		}
	}
	freshSet := make(map[string]struct{}, len(fresh))
	for _, p := range fresh {
		freshSet[p] = struct{}{}
	}
	for p := range w.seen {
		if _, ok := freshSet[p]; !ok {
			delete(w.seen, p)
		}
	}
	w.mu.Unlock()

	// Admit oldest-first so the queue's drain order matches mtime order
	// among files discovered in the same tick.
	sort.Slice(newPaths, func(i, j int) bool {
		return scanned[newPaths[i]].ModTime().Before(scanned[newPaths[j]].ModTime())
	})
	for _, p := range newPaths {
		w.q.PushFront(p)
	}

	w.shed(totalSize)
}

// shed evicts the most recently admitted files (LIFO) until the sink's
// queued footprint no longer exceeds max_size, per spec §4.5.
func (w *Worker) shed(totalSize int64) {
	for totalSize > w.cfg.MaxSize {
		path, ok := w.q.PopFront()
		if !ok {
			return
		}
		info, err := w.fs.Stat(path)
		if err == nil {
			totalSize -= info.Size()
		}
		w.metrics.SkipMaxSize.WithLabelValues(w.cfg.Name).Inc()
		_ = w.fs.Remove(path)
		w.mu.Lock()
		delete(w.seen, path)
		w.mu.Unlock()
	}
}
