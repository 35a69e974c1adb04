package sink

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/ovh/beamium/internal/config"
	"github.com/ovh/beamium/internal/queue"
	"github.com/ovh/beamium/internal/telemetry"
)

// threadSleep is how long an Idle sender waits on an empty queue before
// looking again (spec §4.6's THREAD_SLEEP).
const threadSleep = 100 * time.Millisecond

// backoffWarn is the delay threshold above which a backing-off sender
// logs a warning (spec §4.6, named BACKOFF_WARN in the original source).
const backoffWarn = 1 * time.Second

type senderState int

const (
	stateIdle senderState = iota
	stateWaiting
	stateBackoff
)

// Sender drives one POST-and-retry loop against a sink's queue. N
// senders share one Queue and one HTTP client per sink.
type Sender struct {
	cfg     config.SinkConfig
	params  config.Parameters
	fs      afero.Fs
	q       *queue.Queue
	client  *http.Client
	backoff *backoff.ExponentialBackOff
	metrics *telemetry.Metrics
	logger  log.Logger
}

// NewSender builds a sender bound to q. client and q are shared across
// every sender of the same sink.
func NewSender(cfg config.SinkConfig, params config.Parameters, fs afero.Fs, q *queue.Queue, client *http.Client, metrics *telemetry.Metrics, logger log.Logger) *Sender {
	return &Sender{
		cfg:     cfg,
		params:  params,
		fs:      fs,
		q:       q,
		client:  client,
		backoff: newBackoff(params.Backoff),
		metrics: metrics,
		logger:  logger,
	}
}

// Run drives the Idle/Sending/Waiting/Backoff state machine of spec
// §4.6 until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	state := stateIdle
	var delay time.Duration

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		switch state {
		case stateIdle:
			if s.q.Len() == 0 {
				state = stateWaiting
				continue
			}
			if s.sendOnce(ctx) {
				s.backoff.Reset()
				state = stateIdle
			} else {
				delay = s.backoff.NextBackOff()
				if delay > backoffWarn {
					level.Warn(s.logger).Log("msg", "backoff delay exceeds threshold", "sink", s.cfg.Name, "delay", delay)
				}
				state = stateBackoff
			}

		case stateWaiting:
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(threadSleep):
			}
			state = stateIdle

		case stateBackoff:
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			state = stateIdle
		}
	}
}

// sendOnce builds one request from whatever the queue currently holds
// and drives it to completion. It returns true on a 2xx response.
func (s *Sender) sendOnce(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, s.params.Timeout.AsDuration())
	defer cancel()

	body := NewBody(s.fs, s.q, s.params.BatchCount, s.params.BatchSize)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.cfg.URL, body)
	if err != nil {
		level.Error(s.logger).Log("msg", "building push request failed", "sink", s.cfg.Name, "err", err)
		s.requeue(body)
		s.metrics.PushErrors.WithLabelValues(s.cfg.Name).Inc()
		return false
	}
	req.Header.Set(s.cfg.TokenHeader, s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		level.Error(s.logger).Log("msg", "push request failed", "sink", s.cfg.Name, "err", err)
		s.requeue(body)
		s.metrics.PushErrors.WithLabelValues(s.cfg.Name).Inc()
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	s.metrics.PushHTTPStatus.WithLabelValues(s.cfg.Name, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		level.Error(s.logger).Log("msg", "sink rejected push", "sink", s.cfg.Name, "status", resp.StatusCode)
		s.requeue(body)
		s.metrics.PushErrors.WithLabelValues(s.cfg.Name).Inc()
		return false
	}

	for _, path := range body.Consumed() {
		if err := s.fs.Remove(path); err != nil {
			level.Error(s.logger).Log("msg", "removing sent spool file failed", "sink", s.cfg.Name, "path", path, "err", err)
		}
	}
	s.metrics.PushDatapoints.WithLabelValues(s.cfg.Name).Add(float64(body.Lines()))
	return true
}

// requeue pushes every file a failed request consumed back to the front
// of the queue, preserving their relative order (spec §4.6).
func (s *Sender) requeue(body *Body) {
	s.q.PushFrontAll(body.Consumed())
}
