package sink

import (
	"github.com/cenkalti/backoff/v4"

	"github.com/ovh/beamium/internal/config"
)

// newBackoff builds the per-sender exponential backoff state machine
// described in spec §4.6: never gives up (MaxElapsedTime is unbounded),
// resets on success.
func newBackoff(cfg config.Backoff) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Initial.AsDuration()
	b.MaxInterval = cfg.Max.AsDuration()
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = cfg.Randomization
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
