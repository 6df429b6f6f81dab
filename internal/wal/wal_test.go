package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendThenReplay_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.wal")

	w, err := OpenWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(1, 1000, []byte("first")))
	require.NoError(t, w.Append(2, 2000, []byte("second")))
	require.NoError(t, w.Close())

	var got []Record
	err = Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0].Seq)
	assert.Equal(t, "first", string(got[0].Payload))
	assert.EqualValues(t, 2, got[1].Seq)
	assert.Equal(t, "second", string(got[1].Payload))
}

func TestReplay_MissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.wal")
	called := false
	err := Replay(path, func(Record) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}
