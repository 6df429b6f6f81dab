package main

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"fenrir/internal/common"
	"fenrir/internal/publish"
	"fenrir/internal/wal"
)

// encodeEvent serializes a committed event for the WAL. JSON keeps the
// record self-describing across the event kinds without a second
// bespoke binary layout alongside internal/net's wire protocol; replay
// only ever needs to read events back in order, never parse them live.
func encodeEvent(e publish.Event) []byte {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("failed marshalling event for wal")
		return nil
	}
	return payload
}

// replaySeqs walks path and returns, per symbol, the highest sequence
// number any record reached. Balance update events carry no symbol and
// are skipped; they never gate a symbol worker's sequencing.
func replaySeqs(path string) (map[common.Symbol]int64, error) {
	out := make(map[common.Symbol]int64)
	err := wal.Replay(path, func(rec wal.Record) error {
		var e publish.Event
		if err := json.Unmarshal(rec.Payload, &e); err != nil {
			log.Error().Err(err).Msg("skipping unreadable wal record during replay")
			return nil
		}
		symbol, ok := symbolOf(e)
		if !ok {
			return nil
		}
		if e.Seq > out[symbol] {
			out[symbol] = e.Seq
		}
		return nil
	})
	return out, err
}

func symbolOf(e publish.Event) (common.Symbol, bool) {
	switch e.Kind {
	case publish.EventTrade:
		if e.Trade != nil {
			return e.Trade.Symbol, true
		}
	case publish.EventBookDelta:
		if e.BookDelta != nil {
			return e.BookDelta.Symbol, true
		}
	case publish.EventOrderUpdate:
		if e.OrderUpdate != nil {
			return e.OrderUpdate.Symbol, true
		}
	case publish.EventSymbolHalted:
		if e.SymbolHalted != nil {
			return e.SymbolHalted.Symbol, true
		}
	}
	return common.Symbol{}, false
}
