package bus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"fenrir/internal/publish"
)

// upgrader is shared across all websocket channels; origin checking is
// left to whatever reverse proxy terminates TLS in front of this
// process, matching 0xtitan6-polymarket-mm and uhyunpark-hyperlicked's
// own bare gorilla/websocket.Upgrader use for market-data streams.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

const writeTimeout = 5 * time.Second

// wireEvent is the JSON frame sent to a websocket subscriber. Exactly
// one payload field is set, mirroring publish.Event's Kind discriminant.
type wireEvent struct {
	Seq  int64  `json:"seq"`
	Ts   int64  `json:"ts"`
	Kind string `json:"kind"`

	Trade         *jsonTrade                   `json:"trade,omitempty"`
	BookDelta     *publish.BookDelta           `json:"book_delta,omitempty"`
	OrderUpdate   *publish.OrderUpdate         `json:"order_update,omitempty"`
	BalanceUpdate *publish.BalanceUpdate       `json:"balance_update,omitempty"`
	SymbolHalted  *publish.SymbolHaltedPayload `json:"symbol_halted,omitempty"`
}

// jsonTrade is the wire form of common.Trade's identity, price and
// quantity fields, with json tags and decimals rendered as strings, so
// common.Trade itself needs no json tags. Fees are not included.
type jsonTrade struct {
	TradeID      string `json:"trade_id"`
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	TakerOrderID string `json:"taker_order_id"`
	MakerOrderID string `json:"maker_order_id"`
	TakerUser    string `json:"taker_user"`
	MakerUser    string `json:"maker_user"`
}

func toWire(e publish.Event) wireEvent {
	w := wireEvent{Seq: e.Seq, Ts: e.Ts}
	switch e.Kind {
	case publish.EventTrade:
		w.Kind = "trade"
		w.Trade = &jsonTrade{
			TradeID:      e.Trade.TradeID,
			Symbol:       e.Trade.Symbol.String(),
			Price:        e.Trade.Price.String(),
			Quantity:     e.Trade.Quantity.String(),
			TakerOrderID: e.Trade.TakerOrderID,
			MakerOrderID: e.Trade.MakerOrderID,
			TakerUser:    e.Trade.TakerUser,
			MakerUser:    e.Trade.MakerUser,
		}
	case publish.EventBookDelta:
		w.Kind = "book_delta"
		w.BookDelta = e.BookDelta
	case publish.EventOrderUpdate:
		w.Kind = "order_update"
		w.OrderUpdate = e.OrderUpdate
	case publish.EventBalanceUpdate:
		w.Kind = "balance_update"
		w.BalanceUpdate = e.BalanceUpdate
	case publish.EventSymbolHalted:
		w.Kind = "symbol_halted"
		w.SymbolHalted = e.SymbolHalted
	}
	return w
}

// ServeChannel upgrades the connection and streams channelName's events
// as JSON frames until the client disconnects or is evicted for lag.
func (b *Bus) ServeChannel(w http.ResponseWriter, r *http.Request, channelName string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := b.Subscribe(channelName)
	defer sub.Unsubscribe()

	for {
		select {
		case <-sub.Lagged():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseMessage, "lagged, reconnect and re-snapshot"))
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(toWire(event))
			if err != nil {
				log.Error().Err(err).Msg("failed marshalling event")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
