// Package scraper implements the tick → fetch → transform → spool
// worker described in spec §4.8: one worker per configured endpoint,
// ticking at its own period and writing canonical lines into the
// shared source spool directory.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/ovh/beamium/internal/config"
	"github.com/ovh/beamium/internal/labelset"
	"github.com/ovh/beamium/internal/spool"
	"github.com/ovh/beamium/internal/telemetry"
	"github.com/ovh/beamium/internal/transcompiler"
)

// Worker ticks a single scraper endpoint. It implements the Runner
// capability the supervisor schedules pools over (Name + Run).
type Worker struct {
	cfg        config.ScraperConfig
	params     config.Parameters
	fs         afero.Fs
	client     *http.Client
	metrics    *telemetry.Metrics
	logger     log.Logger

	extraLabels string
	dropLabels  map[string]struct{}
}

// New builds a scraper worker. client is shared across ticks; callers
// typically build it once per scraper via NewClient.
func New(cfg config.ScraperConfig, params config.Parameters, fs afero.Fs, client *http.Client, metrics *telemetry.Metrics, logger log.Logger) *Worker {
	return &Worker{
		cfg:         cfg,
		params:      params,
		fs:          fs,
		client:      client,
		metrics:     metrics,
		logger:      log.With(logger, "component", "scraper", "scraper", cfg.Name),
		extraLabels: labelset.EncodeLabels(cfg.ExtraLabels),
		dropLabels:  encodeDropLabels(cfg.DropLabels),
	}
}

// NewClient builds the HTTP client a scraper worker fetches with,
// using cleanhttp's pooled transport for sane dial/keep-alive defaults
// instead of http.DefaultTransport's process-global state (the same
// choice internal/sink/client.go makes for sinks).
func NewClient() *http.Client {
	return &http.Client{Transport: cleanhttp.DefaultPooledTransport()}
}

func (w *Worker) Name() string { return "scraper:" + w.cfg.Name }

// Run ticks at cfg.Period until ctx is cancelled. Overlapping ticks
// (a fetch slower than the period) are bounded by cfg.PoolSize
// concurrent in-flight ticks.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Period.AsDuration())
	defer ticker.Stop()

	poolSize := w.cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	sem := make(chan struct{}, poolSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case sem <- struct{}{}:
			default:
				// Pool saturated: skip this tick rather than pile up work.
				level.Warn(w.logger).Log("msg", "scraper pool saturated, skipping tick")
				continue
			}
			go func() {
				defer func() { <-sem }()
				w.tick(ctx)
			}()
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.params.Timeout.AsDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.URL, nil)
	if err != nil {
		w.metrics.FetchErrors.WithLabelValues(w.cfg.Name).Inc()
		level.Error(w.logger).Log("msg", "building scrape request failed", "err", err)
		return
	}
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.metrics.FetchErrors.WithLabelValues(w.cfg.Name).Inc()
		level.Error(w.logger).Log("msg", "scrape request failed", "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.metrics.FetchErrors.WithLabelValues(w.cfg.Name).Inc()
		level.Error(w.logger).Log("msg", "scrape endpoint returned non-2xx", "status", resp.StatusCode)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		w.metrics.FetchErrors.WithLabelValues(w.cfg.Name).Inc()
		level.Error(w.logger).Log("msg", "reading scrape body failed", "err", err)
		return
	}

	nowUS := time.Now().UnixMicro()
	if err := w.writeSpool(body, nowUS); err != nil {
		w.metrics.FetchErrors.WithLabelValues(w.cfg.Name).Inc()
		level.Error(w.logger).Log("msg", "writing source spool failed", "err", err)
	}
}

// writeSpool transcompiles and labels every line of body, chunking the
// result into one or more finalized spool files per spec §4.8 step 6.
func (w *Worker) writeSpool(body []byte, nowUS int64) error {
	var batch []string
	var batchBytes int64
	batchIdx := 0
	var datapoints int

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		content := strings.Join(batch, "\n") + "\n"
		name := fmt.Sprintf("%s-%d-%d%s", w.cfg.Name, nowUS, batchIdx, spool.Extension)
		if err := spool.Write(w.fs, w.params.SourceDir, name, content); err != nil {
			return err
		}
		batchIdx++
		batch = batch[:0]
		batchBytes = 0
		return nil
	}

	lines := strings.Split(string(body), "\n")
	for i, raw := range lines {
		line, err := w.transcompile(raw, nowUS)
		if err != nil {
			level.Debug(w.logger).Log("msg", "dropping malformed line", "err", err)
			continue
		}
		if line == "" {
			continue
		}
		if w.cfg.CompiledMetricFilter() != nil && !w.cfg.CompiledMetricFilter().MatchString(line) {
			continue
		}
		if !strings.HasPrefix(line, "=") {
			line = labelset.AddLabels(line, w.extraLabels)
			if edited, err := labelset.RemoveLabels(line, w.dropLabels); err == nil {
				line = edited
			}
		}

		datapoints++
		batch = append(batch, line)
		batchBytes += int64(len(line)) + 1

		nextStartsWithContinuation := i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), "=")
		if batchBytes >= w.params.BatchSize && !nextStartsWithContinuation {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	w.metrics.FetchDatapoints.WithLabelValues(w.cfg.Name).Add(float64(datapoints))
	return nil
}

func (w *Worker) transcompile(line string, nowUS int64) (string, error) {
	switch w.cfg.Format {
	case config.FormatSensision:
		return transcompiler.Sensision(line)
	default:
		return transcompiler.Prometheus(line, nowUS)
	}
}

func encodeDropLabels(keys []string) map[string]struct{} {
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[url.QueryEscape(k)] = struct{}{}
	}
	return out
}
