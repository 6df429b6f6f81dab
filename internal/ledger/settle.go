package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// SettleInput carries everything Settle needs to know about one matched
// trade: the symbol's fee configuration, which side was buyer/seller (not
// which was taker/maker — fees differ by taker/maker role, quote/base
// flow differs by buy/sell role), and the already-computed fee amounts.
type SettleInput struct {
	Symbol common.Symbol

	BuyerUser  string
	SellerUser string

	// BuyerIsTaker distinguishes which fee rate applied to which party;
	// the incoming order is always taker, the resting order always maker
	// (spec.md §9's resolution of the source's inconsistent assignment).
	BuyerIsTaker bool

	Price    decimal.Decimal
	Quantity decimal.Decimal

	TakerFee decimal.Decimal
	MakerFee decimal.Decimal

	FeeAccount string
}

// Settle applies one matched trade atomically with respect to every other
// ledger operation touching the same cells (spec.md §4.1). The buyer's
// reserved QUOTE is debited at quantity*price plus whichever fee they
// owe; the seller's reserved BASE is debited at quantity; the seller
// receives quantity*price minus their fee in QUOTE; the buyer receives
// quantity in BASE. Fees accrue to FeeAccount in QUOTE.
//
// Lock acquisition follows spec.md §5: every (user, asset) cell touched
// by this call is locked in ascending (asset, user) order before any
// mutation, and unlocked in the reverse order.
func (l *Ledger) Settle(in SettleInput) error {
	base := in.Symbol.Base
	quote := in.Symbol.Quote

	buyerFee, sellerFee := in.MakerFee, in.TakerFee
	if in.BuyerIsTaker {
		buyerFee, sellerFee = in.TakerFee, in.MakerFee
	}

	notional := in.Quantity.Mul(in.Price)
	buyerQuoteDebit := notional.Add(buyerFee)
	sellerQuoteCredit := notional.Sub(sellerFee)
	totalFee := in.TakerFee.Add(in.MakerFee)

	type cellKey struct {
		user  string
		asset common.Asset
	}
	wanted := []cellKey{
		{in.BuyerUser, quote},
		{in.BuyerUser, base},
		{in.SellerUser, base},
		{in.SellerUser, quote},
	}
	if totalFee.GreaterThan(decimal.Zero) && in.FeeAccount != "" {
		wanted = append(wanted, cellKey{in.FeeAccount, quote})
	}

	seen := make(map[cellKey]*balance, len(wanted))
	unique := make([]cellKey, 0, len(wanted))
	for _, k := range wanted {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = l.row(k.user, k.asset)
		unique = append(unique, k)
	}
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].asset != unique[j].asset {
			return unique[i].asset < unique[j].asset
		}
		return unique[i].user < unique[j].user
	})

	for _, k := range unique {
		seen[k].mu.Lock()
	}
	defer func() {
		for i := len(unique) - 1; i >= 0; i-- {
			seen[unique[i]].mu.Unlock()
		}
	}()

	buyerQuote := seen[cellKey{in.BuyerUser, quote}]
	buyerBase := seen[cellKey{in.BuyerUser, base}]
	sellerBase := seen[cellKey{in.SellerUser, base}]
	sellerQuote := seen[cellKey{in.SellerUser, quote}]

	if buyerQuote.reserved.LessThan(buyerQuoteDebit) {
		return common.NewInconsistentError(fmt.Sprintf(
			"settle: buyer %s reserved %s quote < required %s", in.BuyerUser, buyerQuote.reserved, buyerQuoteDebit))
	}
	if sellerBase.reserved.LessThan(in.Quantity) {
		return common.NewInconsistentError(fmt.Sprintf(
			"settle: seller %s reserved %s base < required %s", in.SellerUser, sellerBase.reserved, in.Quantity))
	}

	buyerQuote.reserved = buyerQuote.reserved.Sub(buyerQuoteDebit)
	buyerBase.available = buyerBase.available.Add(in.Quantity)

	sellerBase.reserved = sellerBase.reserved.Sub(in.Quantity)
	sellerQuote.available = sellerQuote.available.Add(sellerQuoteCredit)

	if totalFee.GreaterThan(decimal.Zero) && in.FeeAccount != "" {
		feeCell := seen[cellKey{in.FeeAccount, quote}]
		feeCell.available = feeCell.available.Add(totalFee)
	}

	return nil
}
