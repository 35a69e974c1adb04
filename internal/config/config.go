// Package config holds the shape of configuration the core pipeline
// consumes. Locating and merging config files from well-known
// directories is an external concern (spec.md §6); this package only
// models the resulting struct and validates it.
package config

import (
	"fmt"
	"regexp"
	"time"
)

// Format selects which transcompiler a scraper uses.
type Format string

const (
	FormatPrometheus Format = "prometheus"
	FormatSensision  Format = "sensision"
)

// Duration unmarshals YAML duration strings ("10s", "1m30s") into a
// time.Duration.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// UnmarshalYAML uses the func-based unmarshaler signature (still honoured
// by gopkg.in/yaml.v3) so config files can write human durations instead
// of raw nanosecond integers.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Backoff mirrors the exponential-backoff parameters of spec §4.6.
type Backoff struct {
	Initial       Duration `yaml:"initial"`
	Max           Duration `yaml:"max"`
	Multiplier    float64  `yaml:"multiplier"`
	Randomization float64  `yaml:"randomization"`
}

// ScraperConfig is immutable at runtime once loaded (spec §3).
type ScraperConfig struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	Period       Duration          `yaml:"period"`
	Format       Format            `yaml:"format"`
	MetricFilter string            `yaml:"metric_filter,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	ExtraLabels  map[string]string `yaml:"extra_labels,omitempty"`
	DropLabels   []string          `yaml:"drop_labels,omitempty"`
	PoolSize     int               `yaml:"pool_size"`

	metricFilterRe *regexp.Regexp
}

// CompiledMetricFilter returns the compiled MetricFilter regex, or nil if
// none was configured. Validate must be called first.
func (s *ScraperConfig) CompiledMetricFilter() *regexp.Regexp { return s.metricFilterRe }

// SinkConfig describes one downstream ingest endpoint.
type SinkConfig struct {
	Name              string   `yaml:"name"`
	URL               string   `yaml:"url"`
	Token             string   `yaml:"token"`
	TokenHeader       string   `yaml:"token_header"`
	Selector          string   `yaml:"selector,omitempty"`
	TTL               Duration `yaml:"ttl"`
	MaxSize           int64    `yaml:"max_size"`
	Parallel          int      `yaml:"parallel"`
	KeepAlive         bool     `yaml:"keep_alive"`
	KeepAliveTimeout  Duration `yaml:"keep_alive_timeout"`

	selectorRe *regexp.Regexp
}

// CompiledSelector returns the compiled Selector regex, or nil if none
// was configured. Validate must be called first.
func (s *SinkConfig) CompiledSelector() *regexp.Regexp { return s.selectorRe }

// Parameters are the process-wide knobs of spec §3.
type Parameters struct {
	ScanPeriod        Duration `yaml:"scan_period"`
	SourceDir         string   `yaml:"source_dir"`
	SinkDir           string   `yaml:"sink_dir"`
	BatchSize         int64    `yaml:"batch_size"`
	BatchCount        int      `yaml:"batch_count"`
	Timeout           Duration `yaml:"timeout"`
	RouterParallel    int      `yaml:"router_parallel"`
	FilesystemParallel int     `yaml:"filesystem_parallel"`
	Backoff           Backoff  `yaml:"backoff"`
	MetricsListen     string   `yaml:"metrics_listen,omitempty"`
}

// Config is the whole document the core pipeline runs against.
type Config struct {
	Parameters Parameters      `yaml:"parameters"`
	Scrapers   []ScraperConfig `yaml:"scrapers"`
	Sinks      []SinkConfig    `yaml:"sinks"`
	Labels     map[string]string `yaml:"labels,omitempty"` // global labels, added to every sink fanout (spec §4.4.c)
}

// Validate sanity-checks a loaded Config and compiles its regexes. It is
// the one piece of "config parsing" that belongs to the core: once an
// external loader has produced a struct, the core must refuse to start
// against a structurally broken one.
func (c *Config) Validate() error {
	if c.Parameters.SourceDir == "" {
		return fmt.Errorf("config: parameters.source_dir is required")
	}
	if c.Parameters.SinkDir == "" {
		return fmt.Errorf("config: parameters.sink_dir is required")
	}
	if c.Parameters.ScanPeriod.AsDuration() <= 0 {
		return fmt.Errorf("config: parameters.scan_period must be positive")
	}
	if c.Parameters.BatchSize <= 0 {
		return fmt.Errorf("config: parameters.batch_size must be positive")
	}
	if c.Parameters.BatchCount <= 0 {
		return fmt.Errorf("config: parameters.batch_count must be positive")
	}
	if c.Parameters.Backoff.Multiplier <= 1 {
		return fmt.Errorf("config: parameters.backoff.multiplier must be > 1")
	}

	seenScrapers := map[string]struct{}{}
	for i := range c.Scrapers {
		s := &c.Scrapers[i]
		if s.Name == "" {
			return fmt.Errorf("config: scrapers[%d].name is required", i)
		}
		if _, dup := seenScrapers[s.Name]; dup {
			return fmt.Errorf("config: duplicate scraper name %q", s.Name)
		}
		seenScrapers[s.Name] = struct{}{}

		if s.URL == "" {
			return fmt.Errorf("config: scraper %q: url is required", s.Name)
		}
		if s.Period.AsDuration() <= 0 {
			return fmt.Errorf("config: scraper %q: period must be positive", s.Name)
		}
		switch s.Format {
		case FormatPrometheus, FormatSensision:
		case "":
			s.Format = FormatPrometheus
		default:
			return fmt.Errorf("config: scraper %q: unknown format %q", s.Name, s.Format)
		}
		if s.PoolSize <= 0 {
			s.PoolSize = 1
		}
		if s.MetricFilter != "" {
			re, err := regexp.Compile(s.MetricFilter)
			if err != nil {
				return fmt.Errorf("config: scraper %q: metric_filter: %w", s.Name, err)
			}
			s.metricFilterRe = re
		}
	}

	seenSinks := map[string]struct{}{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if s.Name == "" {
			return fmt.Errorf("config: sinks[%d].name is required", i)
		}
		if _, dup := seenSinks[s.Name]; dup {
			return fmt.Errorf("config: duplicate sink name %q", s.Name)
		}
		seenSinks[s.Name] = struct{}{}

		if s.URL == "" {
			return fmt.Errorf("config: sink %q: url is required", s.Name)
		}
		if s.TokenHeader == "" {
			s.TokenHeader = "X-Warp10-Token"
		}
		if s.Parallel <= 0 {
			s.Parallel = 1
		}
		if s.TTL.AsDuration() <= 0 {
			return fmt.Errorf("config: sink %q: ttl must be positive", s.Name)
		}
		if s.MaxSize <= 0 {
			return fmt.Errorf("config: sink %q: max_size must be positive", s.Name)
		}
		if s.Selector != "" {
			re, err := regexp.Compile(s.Selector)
			if err != nil {
				return fmt.Errorf("config: sink %q: selector: %w", s.Name, err)
			}
			s.selectorRe = re
		}
	}

	return nil
}
