// Package ledger implements per-(user, asset) balances with an
// available/reserved split, and the reserve/release/settle operations
// that are atomic with respect to one another (spec.md §4.1).
//
// Balances are guarded individually rather than behind one global lock:
// each (user, asset) pair gets its own mutex, grown lazily, following the
// teacher's sharded-map-plus-mutex shape in internal/net/server.go
// (clientSessionsLock guarding clientSessions) generalized from one lock
// to one lock per key.
package ledger

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

type key struct {
	user  string
	asset common.Asset
}

type balance struct {
	mu        sync.Mutex
	available decimal.Decimal
	reserved  decimal.Decimal
}

// Ledger owns every balance in the system; no other component mutates
// balances directly (spec.md §3 Ownership).
type Ledger struct {
	mapMu sync.RWMutex
	rows  map[key]*balance
}

func New() *Ledger {
	return &Ledger{rows: make(map[key]*balance)}
}

// row returns the balance cell for (user, asset), creating it on first
// touch. Balance entries are created on first credit and never destroyed
// (spec.md §3 Lifecycles).
func (l *Ledger) row(user string, asset common.Asset) *balance {
	k := key{user, asset}

	l.mapMu.RLock()
	row, ok := l.rows[k]
	l.mapMu.RUnlock()
	if ok {
		return row
	}

	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	if row, ok = l.rows[k]; ok {
		return row
	}
	row = &balance{}
	l.rows[k] = row
	return row
}

// Snapshot is a point-in-time read of a balance, used for BalanceUpdate
// events and tests.
type Snapshot struct {
	User      string
	Asset     common.Asset
	Available decimal.Decimal
	Reserved  decimal.Decimal
}

func (l *Ledger) Balance(user string, asset common.Asset) Snapshot {
	row := l.row(user, asset)
	row.mu.Lock()
	defer row.mu.Unlock()
	return Snapshot{User: user, Asset: asset, Available: row.available, Reserved: row.reserved}
}

// Reserve moves amount from available to reserved. Fails with
// InsufficientFunds if available < amount.
func (l *Ledger) Reserve(user string, asset common.Asset, amount decimal.Decimal) error {
	row := l.row(user, asset)
	row.mu.Lock()
	defer row.mu.Unlock()

	if row.available.LessThan(amount) {
		return common.NewAPIError(common.CodeInsufficientFunds,
			fmt.Sprintf("available %s < required %s for %s", row.available, amount, asset))
	}
	row.available = row.available.Sub(amount)
	row.reserved = row.reserved.Add(amount)
	return nil
}

// Release moves amount from reserved back to available. A reserved
// underflow is a bug, not a user error, and is reported as Inconsistent
// (spec.md §4.1/§7).
func (l *Ledger) Release(user string, asset common.Asset, amount decimal.Decimal) error {
	row := l.row(user, asset)
	row.mu.Lock()
	defer row.mu.Unlock()

	if row.reserved.LessThan(amount) {
		err := common.NewInconsistentError(
			fmt.Sprintf("release %s exceeds reserved %s for %s/%s", amount, row.reserved, user, asset))
		log.Error().Err(err).Str("user", user).Str("asset", string(asset)).Msg("ledger inconsistency")
		return err
	}
	row.reserved = row.reserved.Sub(amount)
	row.available = row.available.Add(amount)
	return nil
}

// Credit adds amount to available, outside the matching critical section
// (deposits, withdrawals refunds, fee payouts).
func (l *Ledger) Credit(user string, asset common.Asset, amount decimal.Decimal, reason string) {
	row := l.row(user, asset)
	row.mu.Lock()
	defer row.mu.Unlock()
	row.available = row.available.Add(amount)
	log.Debug().Str("user", user).Str("asset", string(asset)).Str("amount", amount.String()).
		Str("reason", reason).Msg("ledger credit")
}

// Debit removes amount from available. Fails with InsufficientFunds if
// available < amount.
func (l *Ledger) Debit(user string, asset common.Asset, amount decimal.Decimal, reason string) error {
	row := l.row(user, asset)
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.available.LessThan(amount) {
		return common.NewAPIError(common.CodeInsufficientFunds,
			fmt.Sprintf("available %s < requested debit %s for %s", row.available, amount, asset))
	}
	row.available = row.available.Sub(amount)
	log.Debug().Str("user", user).Str("asset", string(asset)).Str("amount", amount.String()).
		Str("reason", reason).Msg("ledger debit")
	return nil
}
