// Package session manages attestation-gated mining sessions. A session
// is opened against a verified confidential-compute quote, accrues
// rewards per whole elapsed minute at a tier-dependent multiplier, and
// is removed on completion.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/quarrylabs/quarry/clients"
	"github.com/quarrylabs/quarry/emission"
	"github.com/quarrylabs/quarry/logger"
	"github.com/quarrylabs/quarry/metrics"
	"github.com/quarrylabs/quarry/types"
)

// accrual granularity: rewards are paid per whole elapsed minute,
// sub-minute remainders carry over to the next accrual.
const accrualUnit = time.Minute

// MiningSession is one live session record. The multiplier is fixed at
// start from the attestation privacy tier and never changes.
type MiningSession struct {
	ID              string
	Miner           common.Address
	StartTime       time.Time
	LastAccrualTime time.Time
	MultiplierBps   uint32
	DeviceID        common.Hash
}

// Registry owns the session records of one chain and drives reward
// minting through the emission ledger.
//
// Mutating operations assume a single writer per chain: the mutex
// keeps reads consistent against a concurrent writer, but concurrent
// accruals of the same session are not serialized against each other.
// Drive one chain's sessions from one goroutine.
type Registry struct {
	mu sync.Mutex

	chainID   uint64
	attestor  clients.Attestation
	ledger    *emission.Ledger
	authority common.Address
	now       func() time.Time
	log       logger.Logger
	rec       metrics.Recorder

	sessions map[string]*MiningSession
}

// NewRegistry builds a registry minting through ledger under the given
// session authority identity.
func NewRegistry(chainID uint64, attestor clients.Attestation, ledger *emission.Ledger,
	authority common.Address, now func() time.Time, log logger.Logger, rec metrics.Recorder) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		chainID:   chainID,
		attestor:  attestor,
		ledger:    ledger,
		authority: authority,
		now:       now,
		log:       log,
		rec:       rec,
		sessions:  make(map[string]*MiningSession),
	}
}

// NewID returns a fresh opaque session identifier.
func NewID() string {
	return uuid.NewString()
}

// StartSession verifies the raw quote, maps its privacy tier to a
// reward multiplier, and opens a session for miner under id. Fails if
// a session with this id is already live.
func (r *Registry) StartSession(ctx context.Context, miner common.Address, id string, quote []byte) error {
	// Verify before touching any local state: the attestor is an
	// external capability and its result gates everything else.
	report, err := r.attestor.Verify(ctx, quote)
	if err != nil {
		return fmt.Errorf("verify attestation: %w", err)
	}
	if !report.Valid {
		return types.NewError(types.ErrInvalidAttestation, "attestation quote rejected", "sessionId", id)
	}
	multiplier, ok := report.Tier.MultiplierBps()
	if !ok {
		return types.NewError(types.ErrInvalidAttestation,
			fmt.Sprintf("unrecognized privacy tier %d", report.Tier),
			"sessionId", id, "tier", uint8(report.Tier))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.sessions[id]; live {
		return types.NewError(types.ErrSessionActive,
			fmt.Sprintf("session %s is already active", id), "sessionId", id)
	}

	start := r.now()
	r.sessions[id] = &MiningSession{
		ID:              id,
		Miner:           miner,
		StartTime:       start,
		LastAccrualTime: start,
		MultiplierBps:   multiplier,
		DeviceID:        report.DeviceID,
	}

	r.rec.IncCounter(metrics.CounterSessionsStarted, r.label())
	r.log.Info("session started", map[string]any{
		"chain": r.chainID, "sessionId": id, "miner": miner.Hex(),
		"tier": report.Tier.String(), "multiplierBps": multiplier,
	})
	return nil
}

// Heartbeat accrues whole elapsed minutes since the last accrual and
// mints the resulting reward. Fails HeartbeatTooEarly inside the same
// minute window. Returns the gross accrued reward (the treasury cut is
// visible only in ledger balances).
func (r *Registry) Heartbeat(ctx context.Context, id string) (math.Int, error) {
	return r.accrue(ctx, id, false)
}

// CompleteSession performs a final accrual (zero minutes is fine:
// completion never fails for lack of elapsed time) and removes the
// session record. Returns the final increment's gross reward.
func (r *Registry) CompleteSession(ctx context.Context, id string) (math.Int, error) {
	return r.accrue(ctx, id, true)
}

func (r *Registry) accrue(ctx context.Context, id string, complete bool) (math.Int, error) {
	zero := math.ZeroInt()

	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return zero, types.NewError(types.ErrSessionNotFound,
			fmt.Sprintf("no active session %s", id), "sessionId", id)
	}

	now := r.now()
	minutes := int64(now.Sub(s.LastAccrualTime) / accrualUnit)
	if minutes < 0 {
		// The clock stepped backwards. The accrual clock only ever
		// advances, so treat this as no elapsed time.
		minutes = 0
	}
	if minutes == 0 && !complete {
		return zero, types.NewError(types.ErrHeartbeatTooEarly,
			fmt.Sprintf("session %s: less than a minute since last accrual", id),
			"sessionId", id)
	}

	reward := zero
	if minutes > 0 {
		base, err := r.ledger.CurrentReward(ctx)
		if err != nil {
			return zero, err
		}
		reward = base.MulRaw(minutes).MulRaw(int64(s.MultiplierBps)).QuoRaw(types.BpsDenominator)
		if reward.IsPositive() {
			// Mint first: a failed mint must leave the accrual clock
			// untouched so a retry re-earns the same minutes.
			if _, _, err := r.ledger.MintReward(r.authority, s.Miner, reward); err != nil {
				return zero, err
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.sessions[id]; !live {
		// Removed between accrual and commit. Cannot happen under the
		// single-writer discipline, but fail loudly rather than revive it.
		return zero, types.NewError(types.ErrSessionNotFound,
			fmt.Sprintf("no active session %s", id), "sessionId", id)
	}
	s.LastAccrualTime = s.LastAccrualTime.Add(time.Duration(minutes) * accrualUnit)
	if complete {
		delete(r.sessions, id)
	}

	r.log.Info("session accrued", map[string]any{
		"chain": r.chainID, "sessionId": id, "minutes": minutes,
		"reward": reward.String(), "completed": complete,
	})
	return reward, nil
}

// ActiveSession returns a copy of the live session record for id.
func (r *Registry) ActiveSession(id string) (MiningSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return MiningSession{}, false
	}
	return *s, true
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) label() map[string]string {
	return map[string]string{"chain": strconv.FormatUint(r.chainID, 10)}
}
