package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovh/beamium/internal/config"
	"github.com/ovh/beamium/internal/queue"
	"github.com/ovh/beamium/internal/spool"
	"github.com/ovh/beamium/internal/telemetry"
)

func testParams() config.Parameters {
	return config.Parameters{
		BatchCount: 10,
		BatchSize:  1 << 20,
		Timeout:    config.Duration(5 * time.Second),
		Backoff: config.Backoff{
			Initial:       config.Duration(time.Millisecond),
			Max:           config.Duration(10 * time.Millisecond),
			Multiplier:    2,
			Randomization: 0,
		},
	}
}

func TestSenderDeletesFilesOnSuccess(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, spool.Write(fs, "/sink", "sa-0-1#1.metrics", "1// a{} 1\n"))

	q := queue.New()
	q.PushFront("/sink/sa-0-1#1.metrics")

	cfg := config.SinkConfig{Name: "sa", URL: srv.URL, TokenHeader: "X-Warp10-Token", Token: "tok"}
	s := NewSender(cfg, testParams(), fs, q, srv.Client(), telemetry.New(nil), log.NewNopLogger())

	ok := s.sendOnce(context.Background())
	assert.True(t, ok)
	assert.Contains(t, string(gotBody), "1// a{} 1")

	_, err := fs.Stat("/sink/sa-0-1#1.metrics")
	assert.Error(t, err, "sent file should have been removed")
	assert.Equal(t, 0, q.Len())
}

func TestSenderRequeuesFilesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, spool.Write(fs, "/sink", "sa-0-1#1.metrics", "1// a{} 1\n"))

	q := queue.New()
	q.PushFront("/sink/sa-0-1#1.metrics")

	cfg := config.SinkConfig{Name: "sa", URL: srv.URL, TokenHeader: "X-Warp10-Token", Token: "tok"}
	s := NewSender(cfg, testParams(), fs, q, srv.Client(), telemetry.New(nil), log.NewNopLogger())

	ok := s.sendOnce(context.Background())
	assert.False(t, ok)

	_, err := fs.Stat("/sink/sa-0-1#1.metrics")
	assert.NoError(t, err, "file must survive a failed push")
	assert.Equal(t, 1, q.Len())
}

func TestSenderRunStopsOnContextCancel(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, spool.Write(fs, "/sink", "sa-0-1#1.metrics", "1// a{} 1\n"))

	q := queue.New()
	q.PushFront("/sink/sa-0-1#1.metrics")

	cfg := config.SinkConfig{Name: "sa", URL: srv.URL, TokenHeader: "X-Warp10-Token", Token: "tok"}
	s := NewSender(cfg, testParams(), fs, q, srv.Client(), telemetry.New(nil), log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop on cancel")
	}
	assert.Greater(t, int(atomic.LoadInt32(&hits)), 0, "sender should have attempted at least one push before cancellation")
}
