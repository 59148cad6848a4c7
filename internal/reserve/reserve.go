// Package reserve implements the bridge's gas-sponsorship reserve: a single
// mutex-guarded balance per destination chain/asset, with daily spend
// limits, lock/unlock/commit accounting, and derived health levels.
package reserve

import (
	"sync"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"math/big"
)

type chainKey struct {
	chainID int64
	asset   string
}

// Manager serializes every reserve mutation behind one mutex, matching
// spec.md §5's "Reserve is the only contended resource" requirement.
type Manager struct {
	mu       sync.Mutex
	reserves map[chainKey]*gaslessbridge.Reserve
	locked   map[chainKey]*big.Int // currently locked (quoted, not yet committed) funds
}

// New builds an empty Manager. Reserves are registered via Topup before
// first use.
func New() *Manager {
	return &Manager{
		reserves: make(map[chainKey]*gaslessbridge.Reserve),
		locked:   make(map[chainKey]*big.Int),
	}
}

func key(chainID int64, asset string) chainKey { return chainKey{chainID, asset} }

func (m *Manager) rolloverLocked(r *gaslessbridge.Reserve, now time.Time) {
	if !sameUTCDay(r.DailyResetAt, now) {
		r.DailySpent = big.NewInt(0)
		r.DailyResetAt = now.UTC()
	}
}

func sameUTCDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// Topup registers or increases the balance of a chain/asset reserve.
func (m *Manager) Topup(chainID int64, asset string, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(chainID, asset)
	r.Balance.Add(r.Balance, amount)
}

func (m *Manager) getOrCreate(chainID int64, asset string) *gaslessbridge.Reserve {
	k := key(chainID, asset)
	r, ok := m.reserves[k]
	if !ok {
		r = &gaslessbridge.Reserve{
			ChainID:            chainID,
			Asset:              asset,
			Balance:            big.NewInt(0),
			DailyLimit:         big.NewInt(0),
			DailySpent:         big.NewInt(0),
			DailyResetAt:       time.Now().UTC(),
			WarningThreshold:   big.NewInt(0),
			CriticalThreshold:  big.NewInt(0),
		}
		m.reserves[k] = r
		m.locked[k] = big.NewInt(0)
	}
	return r
}

// SetDailyLimit sets the daily sponsorship spend cap for a chain/asset.
func (m *Manager) SetDailyLimit(chainID int64, asset string, limit *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(chainID, asset)
	r.DailyLimit = new(big.Int).Set(limit)
}

// SetThresholds overrides the warning/critical available-headroom
// thresholds (absolute amounts of the reserve's asset, not fractions).
func (m *Manager) SetThresholds(chainID int64, asset string, warning, critical *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(chainID, asset)
	r.WarningThreshold = new(big.Int).Set(warning)
	r.CriticalThreshold = new(big.Int).Set(critical)
}

// Pause disables new locks against a chain/asset reserve (existing locks
// are unaffected).
func (m *Manager) Pause(chainID int64, asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(chainID, asset).Paused = true
}

// Unpause re-enables locking.
func (m *Manager) Unpause(chainID int64, asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(chainID, asset).Paused = false
}

// Lock reserves amount against the chain/asset reserve for a pending quote.
// It fails if the reserve is paused, the daily limit would be exceeded, or
// the available (balance - locked) headroom is insufficient.
func (m *Manager) Lock(chainID int64, asset string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	r := m.getOrCreate(chainID, asset)
	m.rolloverLocked(r, now)

	if r.Paused {
		return gaslessbridge.ReservePausedError("reserve for chain %d asset %s is paused", chainID, asset)
	}

	k := key(chainID, asset)
	lockedSoFar := m.locked[k]
	available := new(big.Int).Sub(r.Balance, lockedSoFar)
	if r.CriticalThreshold.Sign() > 0 && available.Cmp(r.CriticalThreshold) < 0 {
		return gaslessbridge.ReserveInsufficientError("reserve for chain %d asset %s below critical threshold: available %s, critical %s", chainID, asset, available.String(), r.CriticalThreshold.String())
	}
	if available.Cmp(amount) < 0 {
		return gaslessbridge.ReserveInsufficientError("insufficient reserve for chain %d asset %s: available %s, requested %s", chainID, asset, available.String(), amount.String())
	}

	if r.DailyLimit.Sign() > 0 {
		projected := new(big.Int).Add(r.DailySpent, amount)
		if projected.Cmp(r.DailyLimit) > 0 {
			return gaslessbridge.ReserveDailyLimitError("daily limit exceeded for chain %d asset %s: spent %s + requested %s > limit %s", chainID, asset, r.DailySpent.String(), amount.String(), r.DailyLimit.String())
		}
	}

	m.locked[k] = new(big.Int).Add(lockedSoFar, amount)
	return nil
}

// Unlock releases a previously-locked amount without spending it (used on
// quote expiry or rollback after a failed quote creation).
func (m *Manager) Unlock(chainID int64, asset string, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(chainID, asset)
	if l, ok := m.locked[k]; ok {
		l.Sub(l, amount)
		if l.Sign() < 0 {
			l.SetInt64(0)
		}
	}
}

// Commit converts a locked amount into an actual spend: it decrements the
// reserve balance, releases the lock, and advances the daily spent counter.
func (m *Manager) Commit(chainID int64, asset string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	r := m.getOrCreate(chainID, asset)
	m.rolloverLocked(r, now)

	k := key(chainID, asset)
	if l, ok := m.locked[k]; ok {
		l.Sub(l, amount)
		if l.Sign() < 0 {
			l.SetInt64(0)
		}
	}
	r.Balance.Sub(r.Balance, amount)
	r.DailySpent.Add(r.DailySpent, amount)
	return nil
}

// Status is a point-in-time snapshot of one chain/asset reserve's health.
type Status struct {
	Reserve gaslessbridge.Reserve
	Locked  *big.Int
	Health  gaslessbridge.ReserveHealth
}

// Status returns the current health and balance snapshot for a chain/asset
// reserve, recomputing the health level rather than storing it.
func (m *Manager) Status(chainID int64, asset string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.getOrCreate(chainID, asset)
	l := new(big.Int).Set(m.locked[key(chainID, asset)])
	available := new(big.Int).Sub(r.Balance, l)
	return Status{
		Reserve: *r,
		Locked:  l,
		Health:  health(r, available),
	}
}

// AllStatuses snapshots every chain/asset reserve currently tracked, for
// the bridge-wide status and statistics endpoints.
func (m *Manager) AllStatuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.reserves))
	for k, r := range m.reserves {
		l := new(big.Int).Set(m.locked[k])
		available := new(big.Int).Sub(r.Balance, l)
		out = append(out, Status{Reserve: *r, Locked: l, Health: health(r, available)})
	}
	return out
}

// health classifies available (balance - locked) against the reserve's
// configured thresholds: Healthy above warning, Warning above critical,
// Critical above zero, Emergency at or below zero or while paused.
func health(r *gaslessbridge.Reserve, available *big.Int) gaslessbridge.ReserveHealth {
	if r.Paused || available.Sign() <= 0 {
		return gaslessbridge.ReserveEmergency
	}
	switch {
	case available.Cmp(r.WarningThreshold) > 0:
		return gaslessbridge.ReserveHealthy
	case available.Cmp(r.CriticalThreshold) > 0:
		return gaslessbridge.ReserveWarning
	default:
		return gaslessbridge.ReserveCritical
	}
}
