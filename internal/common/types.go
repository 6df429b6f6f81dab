// Package common holds the domain vocabulary shared by the ledger, book,
// gateway, publisher and bus: sides, order types, statuses, symbols and
// error codes. Amounts are shopspring/decimal.Decimal; tick/step
// alignment and fee rounding live on SymbolConfig (symbol.go).
package common

import "github.com/shopspring/decimal"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType int

const (
	Limit OrderType = iota
	Market
	StopLimit
	StopMarket
	IOC
	FOK
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	case StopLimit:
		return "stop_limit"
	case StopMarket:
		return "stop_market"
	case IOC:
		return "ioc"
	case FOK:
		return "fok"
	default:
		return "unknown"
	}
}

// IsStop reports whether the type is dormant until a trigger condition fires.
func (t OrderType) IsStop() bool {
	return t == StopLimit || t == StopMarket
}

type TimeInForce int

const (
	GTC TimeInForce = iota
	TIFIOC
	TIFFOK
	GTD
)

func (tif TimeInForce) String() string {
	switch tif {
	case GTC:
		return "gtc"
	case TIFIOC:
		return "ioc"
	case TIFFOK:
		return "fok"
	case GTD:
		return "gtd"
	default:
		return "unknown"
	}
}

type OrderStatus int

const (
	Open OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s OrderStatus) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no path leaves this state (spec.md §4.3).
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// StopReference selects which price feeds a stop shelf trigger.
type StopReference int

const (
	LastPrice StopReference = iota
	MarkPrice
)

// StopOp is the comparison applied between the reference price and the
// stop's trigger price.
type StopOp int

const (
	GTE StopOp = iota // reference >= stop_price
	LTE               // reference <= stop_price
)

func (op StopOp) Triggered(reference, stopPrice decimal.Decimal) bool {
	if op == GTE {
		return reference.GreaterThanOrEqual(stopPrice)
	}
	return reference.LessThanOrEqual(stopPrice)
}
