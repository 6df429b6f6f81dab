// Package net is the binary TCP gateway ingress: PlaceOrder, CancelOrder
// and QueryOrder framing, extended from the teacher's
// internal/net/messages.go and internal/net/server.go. The teacher's
// fixed-width float64/uint64 wire layout could not survive spec.md §3's
// exact-decimal requirement, so numeric fields are now length-prefixed
// decimal strings; the 2-byte type header, BigEndian integers, and
// length-prefixed trailing strings are kept as-is.
package net

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrInvalidSymbol      = errors.New("invalid symbol")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	QueryOrder
)

const BaseMessageHeaderLen = 2

type Message interface {
	GetType() MessageType
}

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

// --- wire primitives ---

func putString(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func putDecimal(buf []byte, d decimal.Decimal) []byte {
	return putString(buf, d.String())
}

func readString(msg []byte) (string, []byte, error) {
	if len(msg) < 2 {
		return "", nil, ErrMessageTooShort
	}
	n := int(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	if len(msg) < n {
		return "", nil, ErrMessageTooShort
	}
	return string(msg[:n]), msg[n:], nil
}

func readDecimal(msg []byte) (decimal.Decimal, []byte, error) {
	s, rest, err := readString(msg)
	if err != nil {
		return decimal.Decimal{}, nil, err
	}
	if s == "" {
		return decimal.Zero, rest, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, rest, nil
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case QueryOrder:
		return parseQueryOrder(msg)
	default:
		return nil, ErrInvalidMessageType
	}
}

// NewOrderMessage is the wire form of a PlaceOrder request. Field order
// on the wire: side(1) type(1) tif(1) post_only(1) reduce_only(1)
// stop_ref(1) stop_op(1) leverage(1) good_til_ns(8), then length-prefixed
// strings: user, client_order_id, symbol, price, stop_price, qty,
// quote_budget.
type NewOrderMessage struct {
	BaseMessage

	Side       common.Side
	Type       common.OrderType
	TIF        common.TimeInForce
	PostOnly   bool
	ReduceOnly bool
	StopRef    common.StopReference
	StopOp     common.StopOp
	Leverage   uint8
	GoodTilNs  int64

	User          string
	ClientOrderID string
	SymbolStr     string
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	Qty           decimal.Decimal
	QuoteBudget   decimal.Decimal
}

// ToOrder builds the domain Order this message describes. Type IOC/FOK
// (spec.md §3) imply their matching time_in_force regardless of what the
// wire carries in the tif field, since the book only ever consults
// order.TIF to decide IOC/FOK behavior.
func (m *NewOrderMessage) ToOrder() (*common.Order, error) {
	sym, err := common.ParseSymbol(m.SymbolStr)
	if err != nil {
		return nil, ErrInvalidSymbol
	}
	tif := m.TIF
	switch m.Type {
	case common.IOC:
		tif = common.TIFIOC
	case common.FOK:
		tif = common.TIFFOK
	}
	leverage := int(m.Leverage)
	if leverage == 0 {
		leverage = 1
	}
	return &common.Order{
		OrderID:       uuid.NewString(),
		ClientOrderID: m.ClientOrderID,
		User:          m.User,
		Symbol:        sym,
		Side:          m.Side,
		Type:          m.Type,
		Price:         m.Price,
		StopPrice:     m.StopPrice,
		StopRef:       m.StopRef,
		StopOp:        m.StopOp,
		Qty:           m.Qty,
		QuoteBudget:   m.QuoteBudget,
		PostOnly:      m.PostOnly,
		ReduceOnly:    m.ReduceOnly,
		TIF:           tif,
		Leverage:      leverage,
		GoodTilNs:     m.GoodTilNs,
		Status:        common.Open,
	}, nil
}

func (m *NewOrderMessage) Serialize() []byte {
	buf := make([]byte, 0, 64)
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(NewOrder))
	buf = append(buf, typeBuf[:]...)

	buf = append(buf, byte(m.Side), byte(m.Type), byte(m.TIF))
	buf = append(buf, boolByte(m.PostOnly), boolByte(m.ReduceOnly))
	buf = append(buf, byte(m.StopRef), byte(m.StopOp), m.Leverage)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(m.GoodTilNs))
	buf = append(buf, ts[:]...)

	buf = putString(buf, m.User)
	buf = putString(buf, m.ClientOrderID)
	buf = putString(buf, m.SymbolStr)
	buf = putDecimal(buf, m.Price)
	buf = putDecimal(buf, m.StopPrice)
	buf = putDecimal(buf, m.Qty)
	buf = putDecimal(buf, m.QuoteBudget)
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func parseNewOrder(msg []byte) (*NewOrderMessage, error) {
	if len(msg) < 1+1+1+1+1+1+1+1+8 {
		return nil, ErrMessageTooShort
	}
	m := &NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	m.Side = common.Side(msg[0])
	m.Type = common.OrderType(msg[1])
	m.TIF = common.TimeInForce(msg[2])
	m.PostOnly = msg[3] != 0
	m.ReduceOnly = msg[4] != 0
	m.StopRef = common.StopReference(msg[5])
	m.StopOp = common.StopOp(msg[6])
	m.Leverage = msg[7]
	m.GoodTilNs = int64(binary.BigEndian.Uint64(msg[8:16]))
	msg = msg[16:]

	var err error
	if m.User, msg, err = readString(msg); err != nil {
		return nil, err
	}
	if m.ClientOrderID, msg, err = readString(msg); err != nil {
		return nil, err
	}
	if m.SymbolStr, msg, err = readString(msg); err != nil {
		return nil, err
	}
	if m.Price, msg, err = readDecimal(msg); err != nil {
		return nil, err
	}
	if m.StopPrice, msg, err = readDecimal(msg); err != nil {
		return nil, err
	}
	if m.Qty, msg, err = readDecimal(msg); err != nil {
		return nil, err
	}
	if m.QuoteBudget, _, err = readDecimal(msg); err != nil {
		return nil, err
	}
	return m, nil
}

// CancelOrderMessage asks the gateway to cancel a resting order.
type CancelOrderMessage struct {
	BaseMessage
	User    string
	OrderID string
}

func (m *CancelOrderMessage) Serialize() []byte {
	buf := make([]byte, 0, 32)
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(CancelOrder))
	buf = append(buf, typeBuf[:]...)
	buf = putString(buf, m.User)
	buf = putString(buf, m.OrderID)
	return buf
}

func parseCancelOrder(msg []byte) (*CancelOrderMessage, error) {
	m := &CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	var err error
	if m.User, msg, err = readString(msg); err != nil {
		return nil, err
	}
	if m.OrderID, _, err = readString(msg); err != nil {
		return nil, err
	}
	return m, nil
}

// QueryOrderMessage asks the gateway for an order's current state.
type QueryOrderMessage struct {
	BaseMessage
	OrderID string
}

func (m *QueryOrderMessage) Serialize() []byte {
	buf := make([]byte, 0, 24)
	var typeBuf [2]byte
	binary.BigEndian.PutUint16(typeBuf[:], uint16(QueryOrder))
	buf = append(buf, typeBuf[:]...)
	return putString(buf, m.OrderID)
}

func parseQueryOrder(msg []byte) (*QueryOrderMessage, error) {
	m := &QueryOrderMessage{BaseMessage: BaseMessage{TypeOf: QueryOrder}}
	var err error
	if m.OrderID, _, err = readString(msg); err != nil {
		return nil, err
	}
	return m, nil
}

// Report is the synchronous ack/error sent back on the connection that
// submitted a request (spec.md §6 error taxonomy). Trades, book deltas,
// and balance updates flow out over internal/bus instead, not here.
type Report struct {
	OK      bool
	OrderID string
	Code    common.ErrorCode
	Message string

	Status       common.OrderStatus
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
}

func (r *Report) Serialize() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, boolByte(r.OK))
	buf = putString(buf, r.OrderID)
	buf = putString(buf, string(r.Code))
	buf = putString(buf, r.Message)
	buf = append(buf, byte(r.Status))
	buf = putDecimal(buf, r.FilledQty)
	buf = putDecimal(buf, r.AvgFillPrice)
	return buf
}

// ParseReport decodes a Report off the wire; used by cmd/client to print
// acks without depending on anything beyond this package.
func ParseReport(msg []byte) (*Report, error) {
	if len(msg) < 1 {
		return nil, ErrMessageTooShort
	}
	r := &Report{OK: msg[0] != 0}
	msg = msg[1:]
	var err error
	if r.OrderID, msg, err = readString(msg); err != nil {
		return nil, err
	}
	var code string
	if code, msg, err = readString(msg); err != nil {
		return nil, err
	}
	r.Code = common.ErrorCode(code)
	if r.Message, msg, err = readString(msg); err != nil {
		return nil, err
	}
	if len(msg) < 1 {
		return nil, ErrMessageTooShort
	}
	r.Status = common.OrderStatus(msg[0])
	msg = msg[1:]
	if r.FilledQty, msg, err = readDecimal(msg); err != nil {
		return nil, err
	}
	if r.AvgFillPrice, _, err = readDecimal(msg); err != nil {
		return nil, err
	}
	return r, nil
}

func ReportFromOrder(o *common.Order) *Report {
	return &Report{
		OK:           true,
		OrderID:      o.OrderID,
		Status:       o.Status,
		FilledQty:    o.FilledQty,
		AvgFillPrice: o.AvgFillPrice,
	}
}

func ReportFromError(orderID string, err error) *Report {
	if apiErr, ok := err.(*common.APIError); ok {
		return &Report{OrderID: orderID, Code: apiErr.Code, Message: apiErr.Message}
	}
	return &Report{OrderID: orderID, Code: common.CodeInconsistent, Message: err.Error()}
}
