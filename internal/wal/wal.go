// Package wal is the append-only write-ahead log every committed event
// passes through before the bus ever sees it (spec.md §6), plus a
// pebble-backed checkpoint store (checkpoint.go). Replay always reads a
// log from its first record. Grounded on the teacher's internal/net/messages.go wire
// encoding style (binary.BigEndian field packing via encoding/binary)
// applied to a file instead of a socket — the teacher has no
// persistence at all, so the record framing itself is new.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// recordHeaderLen is the fixed {len:u32, seq:u64, ts_ns:u64} header
// spec.md §6 specifies for every WAL record.
const recordHeaderLen = 4 + 8 + 8

// Record is one decoded WAL entry.
type Record struct {
	Seq     uint64
	TsNs    int64
	Payload []byte
}

// Writer appends records to one file, fsyncing after every write so a
// crash never loses an acknowledged commit (spec.md §6).
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening wal %s: %w", path, err)
	}
	return &Writer{file: f}, nil
}

func (w *Writer) Append(seq uint64, tsNs int64, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var header [recordHeaderLen]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint64(header[4:12], seq)
	binary.BigEndian.PutUint64(header[12:20], uint64(tsNs))

	if _, err := w.file.Write(header[:]); err != nil {
		return fmt.Errorf("writing wal header: %w", err)
	}
	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("writing wal payload: %w", err)
	}
	return w.file.Sync()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Replay reads every record in path from the start, calling fn in
// order. Used on restart before the bus or any symbol worker accepts
// new traffic (spec.md §6).
func Replay(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening wal %s for replay: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var header [recordHeaderLen]byte
		_, err := io.ReadFull(r, header[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading wal header: %w", err)
		}

		length := binary.BigEndian.Uint32(header[0:4])
		seq := binary.BigEndian.Uint64(header[4:12])
		tsNs := int64(binary.BigEndian.Uint64(header[12:20]))

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("reading wal payload: %w", err)
		}

		if err := fn(Record{Seq: seq, TsNs: tsNs, Payload: payload}); err != nil {
			return err
		}
	}
}
