// Package metrics defines the instrumentation hooks the quarry
// components report through.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter names reported by the core components.
const (
	CounterSessionsStarted = "sessions_started"
	CounterRewardsMinted   = "rewards_minted"
	CounterTeleports       = "teleports"
	CounterClaims          = "claims"
	CounterPayments        = "payments"
)
