package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset is an opaque uppercase identifier, e.g. "BTC", "USDT".
type Asset string

// Symbol is an ordered (base, quote) pair. The book trades base against
// quote; it prints as "BASE/QUOTE".
type Symbol struct {
	Base  Asset
	Quote Asset
}

func (s Symbol) String() string {
	return fmt.Sprintf("%s/%s", s.Base, s.Quote)
}

// ParseSymbol parses the canonical "BASE/QUOTE" wire representation.
func ParseSymbol(s string) (Symbol, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Symbol{}, NewAPIError(CodeInvalidSymbol, "symbol must be BASE/QUOTE")
	}
	return Symbol{Base: Asset(strings.ToUpper(parts[0])), Quote: Asset(strings.ToUpper(parts[1]))}, nil
}

// SymbolConfig carries the per-symbol tick/step/fee parameters spec.md §4.1
// and §4.2 require for rounding and reservation math.
type SymbolConfig struct {
	Symbol Symbol

	// PriceTick is the smallest allowed price increment.
	PriceTick decimal.Decimal
	// QtyStep is the smallest allowed quantity increment.
	QtyStep decimal.Decimal

	TakerFeeRate decimal.Decimal
	MakerFeeRate decimal.Decimal

	// FeeAccount receives collected fees (spec.md §4.1).
	FeeAccount string

	// MaxOrderNotional/MaxLeverage are defaults used when KycPolicy does
	// not return a tighter limit (spec.md §6).
	MaxOrderNotional decimal.Decimal
	MaxLeverage      int
}

// AlignedToTick reports whether price is an exact multiple of the tick.
func (c SymbolConfig) AlignedToTick(price decimal.Decimal) bool {
	return alignedToStep(price, c.PriceTick)
}

// AlignedToStep reports whether qty is an exact multiple of the step.
func (c SymbolConfig) AlignedToStep(qty decimal.Decimal) bool {
	return alignedToStep(qty, c.QtyStep)
}

func alignedToStep(value, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	rem := value.Mod(step)
	return rem.IsZero()
}

// Fee computes floor(notional*rate/tick)*tick to avoid dust creation,
// exactly as spec.md §4.1 prescribes.
func (c SymbolConfig) Fee(notional, rate decimal.Decimal) decimal.Decimal {
	if c.PriceTick.IsZero() {
		return notional.Mul(rate).Truncate(8)
	}
	units := notional.Mul(rate).Div(c.PriceTick).Floor()
	return units.Mul(c.PriceTick)
}
