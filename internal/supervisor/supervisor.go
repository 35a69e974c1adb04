// Package supervisor wires the scraper, router and sink workers together
// and drives their lifecycle (spec §3, §7): start every worker, watch
// the config file for changes, and shut down in the dependency order
// scrapers -> router -> sinks so that no stage is stopped while
// something upstream of it might still be writing into its spool.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/ovh/beamium/internal/telemetry"
)

// Runner is anything the supervisor can start and stop: every scraper,
// the router, and every sink implement it.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Reloader is called when the watched config file changes. A non-nil
// error is logged but does not stop the supervisor: beamium keeps
// running on its last-known-good configuration.
type Reloader func() error

// Supervisor owns every pipeline worker plus the process-wide metrics
// endpoint and config-reload watch.
type Supervisor struct {
	Scrapers []Runner
	Router   Runner
	Sinks    []Runner

	// Fs, SourceDir and SinkDir back the Start step of spec §4.9: both
	// spool directories must exist before any worker ticks, since
	// spool.Write never creates parent directories itself.
	Fs        afero.Fs
	SourceDir string
	SinkDir   string

	MetricsListen string
	Metrics       *telemetry.Metrics
	Registry      *prometheus.Registry

	ConfigPath string
	Reload     Reloader

	Logger log.Logger
}

// Run creates the spool directories, starts every worker, the metrics
// server and (if ConfigPath is set) the config watch, then blocks until
// ctx is cancelled or an interrupt signal arrives. On return, every
// stage has been stopped in order: scrapers, then the router, then
// sinks, then the metrics server.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.createSpoolDirs(); err != nil {
		return err
	}

	var g run.Group

	pipelineCtx, cancelPipeline := context.WithCancel(ctx)
	pipelineDone := make(chan struct{})
	g.Add(func() error {
		defer close(pipelineDone)
		return s.runPipeline(pipelineCtx)
	}, func(error) {
		cancelPipeline()
	})

	if s.MetricsListen != "" {
		server := &http.Server{Addr: s.MetricsListen, Handler: s.metricsHandler()}
		g.Add(func() error {
			level.Info(s.Logger).Log("msg", "starting metrics server", "listen", s.MetricsListen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			// The pipeline actor's interrupt runs first; wait for every
			// stage to stop before taking the metrics endpoint down.
			<-pipelineDone
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = server.Shutdown(shutCtx)
		})
	}

	if s.ConfigPath != "" && s.Reload != nil {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		g.Add(func() error {
			return s.watchConfig(watchCtx)
		}, func(error) {
			cancelWatch()
		})
	}

	{
		term := make(chan os.Signal, 1)
		done := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case sig := <-term:
				level.Info(s.Logger).Log("msg", "received signal, shutting down", "signal", sig)
			case <-done:
			}
			return nil
		}, func(error) {
			close(done)
		})
	}

	return g.Run()
}

// createSpoolDirs creates source_dir and sink_dir (and any missing
// parents) before any worker starts ticking, per spec §4.9's Start
// step. spool.Write only ever creates the finalized/tmp files
// themselves, never their parent directory.
func (s *Supervisor) createSpoolDirs() error {
	if s.Fs == nil {
		return nil
	}
	if s.SourceDir != "" {
		if err := s.Fs.MkdirAll(s.SourceDir, 0o755); err != nil {
			return fmt.Errorf("supervisor: creating source_dir %q: %w", s.SourceDir, err)
		}
	}
	if s.SinkDir != "" {
		if err := s.Fs.MkdirAll(s.SinkDir, 0o755); err != nil {
			return fmt.Errorf("supervisor: creating sink_dir %q: %w", s.SinkDir, err)
		}
	}
	return nil
}

func (s *Supervisor) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	if s.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// runPipeline starts every worker and shuts them down in dependency
// order once ctx is cancelled: scrapers first (so nothing new is
// produced), then the router (so the source spool drains), then sinks
// last (so nothing queued is lost).
func (s *Supervisor) runPipeline(ctx context.Context) error {
	scraperCtx, cancelScrapers := context.WithCancel(context.Background())
	routerCtx, cancelRouter := context.WithCancel(context.Background())
	sinkCtx, cancelSinks := context.WithCancel(context.Background())

	var scraperWG, routerWG, sinkWG sync.WaitGroup

	start := func(wg *sync.WaitGroup, rctx context.Context, r Runner) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(rctx); err != nil {
				level.Error(s.Logger).Log("msg", "worker exited with error", "worker", r.Name(), "err", err)
			}
		}()
	}

	for _, r := range s.Scrapers {
		start(&scraperWG, scraperCtx, r)
	}
	if s.Router != nil {
		start(&routerWG, routerCtx, s.Router)
	}
	for _, r := range s.Sinks {
		start(&sinkWG, sinkCtx, r)
	}

	<-ctx.Done()

	level.Info(s.Logger).Log("msg", "stopping scrapers")
	cancelScrapers()
	scraperWG.Wait()

	level.Info(s.Logger).Log("msg", "stopping router")
	cancelRouter()
	routerWG.Wait()

	level.Info(s.Logger).Log("msg", "stopping sinks")
	cancelSinks()
	sinkWG.Wait()

	return nil
}

// watchConfig calls Reload whenever ConfigPath is written, renamed onto,
// or created (editors commonly replace a file via rename). Each
// successful reload increments the ReloadCount metric.
func (s *Supervisor) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.ConfigPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(s.ConfigPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				level.Error(s.Logger).Log("msg", "config reload failed", "err", err)
				continue
			}
			s.Metrics.ReloadCount.Inc()
			level.Info(s.Logger).Log("msg", "config reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			level.Error(s.Logger).Log("msg", "config watch error", "err", err)
		}
	}
}
