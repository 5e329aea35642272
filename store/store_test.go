package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tyrochess/tyro/selfplay"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	rows := []GameRow{
		{GameID: "g1", Generation: 3, Outcome: 1, Plies: 40, PGN: "1. e4 e5 1-0 {Black is checkmated}", Source: "selfplay"},
		{GameID: "g2", Generation: 3, Outcome: 0, Plies: 120, PGN: "1/2-1/2 {Draw by fifty-move rule}", Source: "selfplay"},
	}

	path, err := WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)

	got, err := ReadBatchParquet(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, rows[0].PGN, got[0].PGN)
	require.Equal(t, rows[1].Outcome, got[1].Outcome)
}

func TestWriterFlushesOnClose(t *testing.T) {
	dir := t.TempDir()

	w := NewWriter(dir, 100)
	w.Record(selfplay.FinishedGame{
		PGN:        "1. toy 1/2-1/2 {toy}",
		Plies:      2,
		Generation: 1,
		FinishedAt: time.Now(),
	})
	w.Close()

	files, err := listParquet(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	rows, err := ReadBatchParquet(files[0])
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int32(2), rows[0].Plies)
}
