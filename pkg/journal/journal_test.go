package journal

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

func decode(t *testing.T, raws []json.RawMessage) []record {
	t.Helper()
	records := make([]record, 0, len(raws))
	for _, raw := range raws {
		var r record
		require.NoError(t, json.Unmarshal(raw, &r))
		records = append(records, r)
	}
	return records
}

func TestJournalWriteAndTail(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "atm.journal"))
	require.NoError(t, err)
	defer j.Close()

	all, err := j.Tail(0)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, j.Write(record{ID: "a", Amount: 2600}))
	require.NoError(t, j.Write(record{ID: "b", Amount: 5400}))
	require.NoError(t, j.Write(record{ID: "c", Amount: 100}))

	all, err = j.Tail(0)
	require.NoError(t, err)
	assert.Equal(t, []record{{"a", 2600}, {"b", 5400}, {"c", 100}}, decode(t, all))

	last, err := j.Tail(2)
	require.NoError(t, err)
	assert.Equal(t, []record{{"b", 5400}, {"c", 100}}, decode(t, last))

	// 讀取後寫入仍然 append 在檔尾
	require.NoError(t, j.Write(record{ID: "d", Amount: 10}))
	last, err = j.Tail(1)
	require.NoError(t, err)
	assert.Equal(t, []record{{"d", 10}}, decode(t, last))
}

func TestJournalEachStopsOnError(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "atm.journal"))
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.Write(record{ID: "a"}))
	require.NoError(t, j.Write(record{ID: "b"}))

	stop := errors.New("stop")
	var seen int
	err = j.Each(func(json.RawMessage) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestJournalRejectsUnencodable(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "atm.journal"))
	require.NoError(t, err)
	defer j.Close()

	assert.Error(t, j.Write(make(chan int)))
	all, err := j.Tail(0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestJournalReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm.journal")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Write(record{ID: "a", Amount: 1}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	all, err := j.Tail(0)
	require.NoError(t, err)
	assert.Equal(t, []record{{"a", 1}}, decode(t, all))
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "atm.journal"))
	assert.Error(t, err)
}
