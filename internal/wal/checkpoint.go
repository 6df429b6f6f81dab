package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Checkpoint is a small pebble-backed key-value store of each symbol's
// last-durable sequence number and an opaque snapshot blob. It
// supplements the WAL and never replaces it. Replay cannot start from a
// checkpoint, and cmd/server opens the store without saving or loading
// any checkpoint.
type Checkpoint struct {
	db *pebble.DB
}

func OpenCheckpoint(dir string) (*Checkpoint, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store %s: %w", dir, err)
	}
	return &Checkpoint{db: db}, nil
}

func (c *Checkpoint) Close() error {
	return c.db.Close()
}

// Save records a symbol's last-durable sequence plus an opaque snapshot
// blob, keyed by symbol name.
func (c *Checkpoint) Save(symbol string, seq uint64, snapshot []byte) error {
	value := make([]byte, 8+len(snapshot))
	binary.BigEndian.PutUint64(value[:8], seq)
	copy(value[8:], snapshot)
	return c.db.Set([]byte(symbol), value, pebble.Sync)
}

// Load returns the last-saved (seq, snapshot) for a symbol, if any.
func (c *Checkpoint) Load(symbol string) (seq uint64, snapshot []byte, ok bool, err error) {
	value, closer, getErr := c.db.Get([]byte(symbol))
	if getErr == pebble.ErrNotFound {
		return 0, nil, false, nil
	}
	if getErr != nil {
		return 0, nil, false, fmt.Errorf("loading checkpoint for %s: %w", symbol, getErr)
	}
	defer closer.Close()

	if len(value) < 8 {
		return 0, nil, false, fmt.Errorf("corrupt checkpoint record for %s", symbol)
	}
	seq = binary.BigEndian.Uint64(value[:8])
	snapshot = append([]byte(nil), value[8:]...)
	return seq, snapshot, true, nil
}
