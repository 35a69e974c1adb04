package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovh/beamium/internal/telemetry"
)

// fakeRunner blocks until its context is cancelled, then records its
// name into a shared, mutex-guarded log.
type fakeRunner struct {
	name string

	mu  *sync.Mutex
	log *[]string
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	f.mu.Lock()
	*f.log = append(*f.log, f.name)
	f.mu.Unlock()
	return nil
}

func TestRunCreatesSpoolDirectoriesBeforeStarting(t *testing.T) {
	fs := afero.NewMemMapFs()

	s := &Supervisor{
		Fs:        fs,
		SourceDir: "/data/sources",
		SinkDir:   "/data/sinks",
		Metrics:   telemetry.New(nil),
		Logger:    log.NewNopLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, srcErr := fs.Stat("/data/sources")
		_, sinkErr := fs.Stat("/data/sinks")
		return srcErr == nil && sinkErr == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down")
	}
}

func TestSupervisorStopsInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var stopOrder []string

	newRunner := func(name string) Runner {
		return &fakeRunner{name: name, mu: &mu, log: &stopOrder}
	}

	s := &Supervisor{
		Scrapers: []Runner{newRunner("scraper-a"), newRunner("scraper-b")},
		Router:   newRunner("router"),
		Sinks:    []Runner{newRunner("sink-a")},
		Metrics:  telemetry.New(nil),
		Logger:   log.NewNopLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stopOrder, 4)

	indexOf := func(name string) int {
		for i, n := range stopOrder {
			if n == name {
				return i
			}
		}
		return -1
	}

	scraperAIdx, scraperBIdx := indexOf("scraper-a"), indexOf("scraper-b")
	routerIdx := indexOf("router")
	sinkIdx := indexOf("sink-a")

	assert.Less(t, scraperAIdx, routerIdx, "scrapers must stop before the router")
	assert.Less(t, scraperBIdx, routerIdx, "scrapers must stop before the router")
	assert.Less(t, routerIdx, sinkIdx, "the router must stop before sinks")
}

func TestWatchConfigTriggersReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "beamium.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("parameters: {}\n"), 0o644))

	reloaded := make(chan struct{}, 1)
	s := &Supervisor{
		ConfigPath: configPath,
		Reload: func() error {
			reloaded <- struct{}{}
			return nil
		},
		Metrics: telemetry.New(nil),
		Logger:  log.NewNopLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.watchConfig(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(configPath, []byte("parameters: {scan_period: 1s}\n"), 0o644))

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("config change was not observed")
	}

	cancel()
	<-done
}
