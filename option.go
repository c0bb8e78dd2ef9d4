package quarry

import (
	"time"

	"github.com/quarrylabs/quarry/logger"
	"github.com/quarrylabs/quarry/metrics"
)

type Option func(*Quarry)

func WithLogger(l logger.Logger) Option {
	return func(q *Quarry) {
		q.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(q *Quarry) {
		q.rec = r
	}
}

// WithClock overrides the time source used for session accrual.
// Tests use it to drive deterministic elapsed-minute math.
func WithClock(now func() time.Time) Option {
	return func(q *Quarry) {
		q.now = now
	}
}
