package router

import (
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovh/beamium/internal/config"
	"github.com/ovh/beamium/internal/spool"
	"github.com/ovh/beamium/internal/telemetry"
)

func newWorker(t *testing.T, fs afero.Fs, sinks []config.SinkConfig) *Worker {
	t.Helper()
	params := config.Parameters{
		SourceDir:      "/source",
		SinkDir:        "/sink",
		ScanPeriod:     config.Duration(time.Hour),
		RouterParallel: 2,
	}
	require.NoError(t, fs.MkdirAll(params.SourceDir, 0o755))
	require.NoError(t, fs.MkdirAll(params.SinkDir, 0o755))
	return New(params, sinks, "", fs, telemetry.New(nil), log.NewNopLogger())
}

// S3 from the spec: a selector routes matching lines to one sink and all
// lines to an unselected sink.
func TestRouterFansOutBySelector(t *testing.T) {
	fs := afero.NewMemMapFs()
	sinks := []config.SinkConfig{
		{Name: "sa", Selector: "^foo"},
		{Name: "sb"},
	}
	for i := range sinks {
		if sinks[i].Selector != "" {
			require.NoError(t, compileSelector(&sinks[i]))
		}
	}
	w := newWorker(t, fs, sinks)

	require.NoError(t, spool.Write(fs, "/source", "scraper1-0-1#1.metrics", "1// foo{} 1\n1// bar{} 2\n"))
	w.tick()

	saEntries, err := afero.ReadDir(fs, "/sink")
	require.NoError(t, err)
	var saLines, sbLines []string
	for _, e := range saEntries {
		lines, err := spool.ReadLines(fs, "/sink/"+e.Name())
		require.NoError(t, err)
		if e.Name()[:2] == "sa" {
			saLines = append(saLines, lines...)
		} else {
			sbLines = append(sbLines, lines...)
		}
	}
	assert.Equal(t, []string{"1// foo{} 1"}, saLines)
	assert.ElementsMatch(t, []string{"1// foo{} 1", "1// bar{} 2"}, sbLines)

	// Source file was consumed.
	remaining, err := afero.ReadDir(fs, "/source")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRouterSkipsSinkWithNoMatchingLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	sinks := []config.SinkConfig{{Name: "sa", Selector: "^nomatch"}}
	require.NoError(t, compileSelector(&sinks[0]))
	w := newWorker(t, fs, sinks)

	require.NoError(t, spool.Write(fs, "/source", "scraper1-0-1#1.metrics", "1// foo{} 1\n"))
	w.tick()

	entries, err := afero.ReadDir(fs, "/sink")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRouterPreservesLineOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	sinks := []config.SinkConfig{{Name: "sb"}}
	w := newWorker(t, fs, sinks)

	require.NoError(t, spool.Write(fs, "/source", "scraper1-0-1#1.metrics", "1// a{} 1\n1// b{} 2\n1// c{} 3\n"))
	w.tick()

	entries, err := afero.ReadDir(fs, "/sink")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	lines, err := spool.ReadLines(fs, "/sink/"+entries[0].Name())
	require.NoError(t, err)
	assert.Equal(t, []string{"1// a{} 1", "1// b{} 2", "1// c{} 3"}, lines)
}

func TestRouterRetriesFailedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	params := config.Parameters{SourceDir: "/source", SinkDir: "/sink", ScanPeriod: config.Duration(time.Hour), RouterParallel: 1}
	require.NoError(t, fs.MkdirAll(params.SourceDir, 0o755))
	require.NoError(t, fs.MkdirAll(params.SinkDir, 0o755))
	// A read-only view of the filesystem makes the sink write fail; the
	// source file must survive.
	w := New(params, []config.SinkConfig{{Name: "sb"}}, "", afero.NewReadOnlyFs(fs), telemetry.New(nil), log.NewNopLogger())

	require.NoError(t, spool.Write(fs, "/source", "scraper1-0-1#1.metrics", "1// a{} 1\n"))
	w.tick()

	remaining, err := afero.ReadDir(fs, "/source")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	// Retried on the next tick: must be reprocessed, not skipped as "seen".
	w.fs = fs
	w.tick()
	remaining, err = afero.ReadDir(fs, "/source")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func compileSelector(s *config.SinkConfig) error {
	c := config.Config{Sinks: []config.SinkConfig{*s}}
	c.Parameters = config.Parameters{SourceDir: "x", SinkDir: "y", ScanPeriod: config.Duration(time.Second), BatchSize: 1, BatchCount: 1, Backoff: config.Backoff{Multiplier: 2}}
	c.Sinks[0].TTL = config.Duration(time.Hour)
	c.Sinks[0].MaxSize = 1
	if err := c.Validate(); err != nil {
		return err
	}
	*s = c.Sinks[0]
	return nil
}
