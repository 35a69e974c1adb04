// Package router implements the worker described in spec §4.4: it scans
// the source spool directory, fans each file out to every matching
// sink, and unlinks the source file once every sink write has landed.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/ovh/beamium/internal/config"
	"github.com/ovh/beamium/internal/labelset"
	"github.com/ovh/beamium/internal/spool"
	"github.com/ovh/beamium/internal/telemetry"
)

// Worker owns the "seen set" of source paths observed in prior ticks
// (spec §4.4) and fans new files out to every sink spool.
type Worker struct {
	params config.Parameters
	sinks  []config.SinkConfig
	fs     afero.Fs
	metrics *telemetry.Metrics
	logger  log.Logger

	globalLabels string

	mu   sync.Mutex
	seen map[string]struct{}
}

// New builds a router worker. globalLabels is the pre-encoded,
// comma-joined extras string applied to every line via labelset.AddLabels.
func New(params config.Parameters, sinks []config.SinkConfig, globalLabels string, fs afero.Fs, metrics *telemetry.Metrics, logger log.Logger) *Worker {
	return &Worker{
		params:       params,
		sinks:        sinks,
		fs:           fs,
		metrics:      metrics,
		logger:       log.With(logger, "component", "router"),
		globalLabels: globalLabels,
		seen:         map[string]struct{}{},
	}
}

func (w *Worker) Name() string { return "router" }

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.params.ScanPeriod.AsDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Worker) tick() {
	scanned, err := spool.Scan(w.fs, w.params.SourceDir)
	if err != nil {
		level.Error(w.logger).Log("msg", "scanning source spool failed", "err", err)
		return
	}
	w.metrics.DirectoryFiles.WithLabelValues(w.params.SourceDir).Set(float64(len(scanned)))

	w.mu.Lock()
	var newPaths []string
	for p := range scanned {
		if _, ok := w.seen[p]; !ok {
			newPaths = append(newPaths, p)
			w.seen[p] = struct{}{}
		}
	}
	for p := range w.seen {
		if _, ok := scanned[p]; !ok {
			delete(w.seen, p)
		}
	}
	w.mu.Unlock()

	parallel := w.params.RouterParallel
	if parallel <= 0 {
		parallel = 1
	}
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	for _, p := range newPaths {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.processFile(p); err != nil {
				level.Error(w.logger).Log("msg", "routing file failed, will retry", "path", p, "err", err)
				w.mu.Lock()
				delete(w.seen, p)
				w.mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

// processFile reads one source-spool file, fans its lines out to every
// matching sink, then unlinks it. Line order is preserved into every
// sink file (spec §5).
func (w *Worker) processFile(path string) error {
	lines, err := spool.ReadLines(w.fs, path)
	if err != nil {
		return err
	}

	for i, l := range lines {
		lines[i] = labelset.AddLabels(l, w.globalLabels)
	}

	for i, sinkCfg := range w.sinks {
		filtered := lines
		if re := sinkCfg.CompiledSelector(); re != nil {
			filtered = nil
			for _, l := range lines {
				if re.MatchString(lineClass(l)) {
					filtered = append(filtered, l)
				}
			}
		}
		if len(filtered) == 0 {
			continue
		}

		runid := spool.RunID(true)
		name := spool.FileName(sinkCfg.Name, i, runid)
		content := strings.Join(filtered, "\n") + "\n"
		if err := spool.Write(w.fs, w.params.SinkDir, name, content); err != nil {
			return err
		}
	}

	return w.fs.Remove(path)
}

// lineClass extracts the class (without its label set) from a canonical
// line "<timestamp>// <class>{<labels>} <value>": the second
// whitespace-separated token, up to its first '{'.
func lineClass(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	classWithLabels := fields[1]
	if idx := strings.IndexByte(classWithLabels, '{'); idx >= 0 {
		return classWithLabels[:idx]
	}
	return classWithLabels
}
