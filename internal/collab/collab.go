// Package collab defines the boundary interfaces the matching core calls
// out to but never implements: wallet custody, authentication, and KYC
// policy are all explicitly out of scope (spec.md §1). Only an
// in-memory stand-in is provided; cmd/server wires it in directly since
// no concrete custody/identity provider exists in this pack.
package collab

import (
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// WalletAdapter moves funds between the exchange's custody and a user's
// external wallet. The ledger's Credit/Debit cover in-system transfers;
// WalletAdapter is what would call out to a real custody/chain layer.
type WalletAdapter interface {
	Deposit(user string, asset common.Asset, amount decimal.Decimal) error
	Withdraw(user string, asset common.Asset, amount decimal.Decimal) error
}

// AuthResolver maps a caller's credential to the user identity the
// Gateway should attribute an order, cancel, or subscription to
// (spec.md §6: AuthResolver.verify(token) -> user | Unauthorized).
type AuthResolver interface {
	Resolve(credential string) (user string, err error)
}

// TradingLimits is the per-order ceiling a KycPolicy returns for a
// user. A zero MaxOrderNotional or MaxLeverage means the policy has no
// limit of its own tighter than the symbol's configured maximum.
type TradingLimits struct {
	MaxOrderNotional decimal.Decimal
	MaxLeverage      int
}

// KycPolicy resolves a user's trading limits (spec.md §6:
// KycPolicy.limits(user) -> {max_order_notional, max_leverage}). The
// Gateway rejects with Unauthorized any order whose notional or
// leverage exceeds the tighter of this and the symbol's own maximum.
type KycPolicy interface {
	Limits(user string) (TradingLimits, error)
}

// InMemory is an in-memory stand-in implementing all three interfaces
// with no external calls; cmd/server uses it as both the gateway's
// KycPolicy and the HTTP layer's AuthResolver.
type InMemory struct {
	balances map[string]map[common.Asset]decimal.Decimal
	users    map[string]string        // credential -> user
	limits   map[string]TradingLimits // user -> limits override
}

func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[string]map[common.Asset]decimal.Decimal),
		users:    make(map[string]string),
		limits:   make(map[string]TradingLimits),
	}
}

func (m *InMemory) Deposit(user string, asset common.Asset, amount decimal.Decimal) error {
	row, ok := m.balances[user]
	if !ok {
		row = make(map[common.Asset]decimal.Decimal)
		m.balances[user] = row
	}
	row[asset] = row[asset].Add(amount)
	return nil
}

func (m *InMemory) Withdraw(user string, asset common.Asset, amount decimal.Decimal) error {
	row := m.balances[user]
	if row[asset].LessThan(amount) {
		return common.NewAPIError(common.CodeInsufficientFunds, "wallet balance too low")
	}
	row[asset] = row[asset].Sub(amount)
	return nil
}

func (m *InMemory) RegisterCredential(credential, user string) {
	m.users[credential] = user
}

// Resolve maps credential to the user it was registered under. With no
// credentials registered at all, it passes the credential through
// unchanged, so a deployment that never wires a real AuthResolver still
// gets working identity matching (caller presents "alice", gets back
// "alice") instead of rejecting every caller outright.
func (m *InMemory) Resolve(credential string) (string, error) {
	if user, ok := m.users[credential]; ok {
		return user, nil
	}
	if len(m.users) == 0 {
		return credential, nil
	}
	return "", common.NewAPIError(common.CodeUnauthorized, "unknown credential")
}

// SetLimits installs a per-user override consulted by Limits.
func (m *InMemory) SetLimits(user string, limits TradingLimits) {
	m.limits[user] = limits
}

// Limits returns user's override, or the zero value (no tighter limit
// than the symbol's configured maximum) if none was set.
func (m *InMemory) Limits(user string) (TradingLimits, error) {
	return m.limits[user], nil
}
