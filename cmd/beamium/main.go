// Command beamium relays metrics exposed by Prometheus/sensision
// endpoints to one or more HTTP sinks through a filesystem spool (spec
// §1-§5). This binary is the thinnest possible wiring layer: flag
// parsing, config file search, logger construction and supervisor
// startup, grounded on the teacher's `cmd/config-reloader/main.go`.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ovh/beamium/internal/config"
	"github.com/ovh/beamium/internal/labelset"
	"github.com/ovh/beamium/internal/router"
	"github.com/ovh/beamium/internal/scraper"
	"github.com/ovh/beamium/internal/sink"
	"github.com/ovh/beamium/internal/supervisor"
	"github.com/ovh/beamium/internal/telemetry"
	"github.com/ovh/beamium/internal/version"
)

// verbosity counts repeated -v flags (-v -v -v) the way kingpin-style
// CLIs do, without pulling in kingpin for a single counting flag.
type verbosity int

func (v *verbosity) String() string { return fmt.Sprintf("%d", int(*v)) }
func (v *verbosity) Set(string) error {
	*v++
	return nil
}
func (v *verbosity) IsBoolFlag() bool { return true }

func main() {
	var (
		configPath   = flag.String("config", "", "path to the beamium config file (searched under /etc/beamium and $HOME/.beamium if unset)")
		check        = flag.Bool("check", false, "validate the configuration and exit")
		showVersion  = flag.Bool("version", false, "print version information and exit")
		verbose      verbosity
	)
	flag.Var(&verbose, "v", "increase log verbosity (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger := newLogger(int(verbose))

	path := *configPath
	if path == "" {
		found, err := findConfig()
		if err != nil {
			level.Error(logger).Log("msg", "locating config file failed", "err", err)
			os.Exit(1)
		}
		path = found
	}

	cfg, err := loadConfig(path)
	if err != nil {
		level.Error(logger).Log("msg", "loading config failed", "path", path, "err", err)
		os.Exit(1)
	}

	if *check {
		fmt.Printf("%s: OK\n", path)
		return
	}

	level.Info(logger).Log("msg", "starting beamium", "version", version.Version, "config", path)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := telemetry.New(registry)

	fs := afero.NewOsFs()
	globalLabels := labelset.EncodeLabels(cfg.Labels)

	var scrapers []supervisor.Runner
	for _, sc := range cfg.Scrapers {
		client := scraper.NewClient()
		scrapers = append(scrapers, scraper.New(sc, cfg.Parameters, fs, client, metrics, logger))
	}

	routerWorker := router.New(cfg.Parameters, cfg.Sinks, globalLabels, fs, metrics, logger)

	var sinks []supervisor.Runner
	for _, sc := range cfg.Sinks {
		sinks = append(sinks, sink.New(sc, cfg.Parameters, fs, metrics, logger))
	}

	sup := &supervisor.Supervisor{
		Scrapers:      scrapers,
		Router:        routerWorker,
		Sinks:         sinks,
		Fs:            fs,
		SourceDir:     cfg.Parameters.SourceDir,
		SinkDir:       cfg.Parameters.SinkDir,
		MetricsListen: cfg.Parameters.MetricsListen,
		Metrics:       metrics,
		Registry:      registry,
		ConfigPath:    path,
		Logger:        logger,
		Reload: func() error {
			reloaded, err := loadConfig(path)
			if err != nil {
				return err
			}
			// Hot-swapping live workers is out of scope (spec.md §1 puts
			// config file loading/merging out of scope entirely): a reload
			// only confirms the file still parses and validates, and the
			// operator is expected to restart the process to pick up
			// structural changes. See DESIGN.md.
			_ = reloaded
			return nil
		},
	}

	if err := sup.Run(context.Background()); err != nil {
		level.Error(logger).Log("msg", "beamium exited with error", "err", err)
		os.Exit(1)
	}
}

// newLogger builds a go-kit logfmt logger to stderr, the way every
// teacher cmd/* binary does, with level filtering driven by -v count:
// 0 = info, 1 = debug, 2+ = debug with caller info.
func newLogger(verbosity int) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	if verbosity >= 2 {
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	minLevel := level.AllowInfo()
	if verbosity >= 1 {
		minLevel = level.AllowDebug()
	}
	return level.NewFilter(logger, minLevel)
}

// findConfig searches /etc/beamium/*.yaml then $HOME/.beamium/*.yaml,
// returning the first match in lexical order.
func findConfig() (string, error) {
	var candidates []string
	for _, pattern := range configSearchPatterns() {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		candidates = append(candidates, matches...)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no config file found under %v", configSearchPatterns())
	}
	sort.Strings(candidates)
	return candidates[0], nil
}

func configSearchPatterns() []string {
	patterns := []string{"/etc/beamium/*.yaml", "/etc/beamium/*.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		patterns = append(patterns,
			filepath.Join(home, ".beamium", "*.yaml"),
			filepath.Join(home, ".beamium", "*.yml"),
		)
	}
	return patterns
}

func loadConfig(path string) (*config.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := defaultConfig()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig seeds the parameters the original implementation
// defaults before merging a file on top (original_source/src/conf.rs
// Self::initialize), so a config file only needs to override what it
// cares about.
func defaultConfig() *config.Config {
	return &config.Config{
		Parameters: config.Parameters{
			ScanPeriod:     config.Duration(time.Second),
			SourceDir:      "sources",
			SinkDir:        "sinks",
			BatchSize:      200_000,
			BatchCount:     250,
			Timeout:        config.Duration(500 * time.Second),
			RouterParallel: 1,
			Backoff: config.Backoff{
				Initial:       config.Duration(500 * time.Millisecond),
				Max:           config.Duration(time.Minute),
				Multiplier:    1.5,
				Randomization: 0.3,
			},
		},
	}
}
