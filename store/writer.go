package store

import (
	"fmt"
	"log"

	"github.com/tyrochess/tyro/selfplay"
)

// Writer batches finished games and flushes them to parquet once
// gamesPerFlush have accumulated. Feed it through Record from any
// goroutine; Close drains and performs a final flush.
type Writer struct {
	outDir        string
	gamesPerFlush int
	in            chan selfplay.FinishedGame
	done          chan struct{}
}

// NewWriter starts the background flush loop.
func NewWriter(outDir string, gamesPerFlush int) *Writer {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}
	w := &Writer{
		outDir:        outDir,
		gamesPerFlush: gamesPerFlush,
		in:            make(chan selfplay.FinishedGame, 256),
		done:          make(chan struct{}),
	}
	go w.loop()
	return w
}

// Record enqueues one finished game. Drops the game rather than block a
// producer worker when the writer is saturated.
func (w *Writer) Record(g selfplay.FinishedGame) {
	select {
	case w.in <- g:
	default:
		log.Printf("[archive] writer saturated, dropping game")
	}
}

// Close stops the loop and flushes any pending rows.
func (w *Writer) Close() {
	close(w.in)
	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)

	pending := make([]GameRow, 0, w.gamesPerFlush)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		path, err := WriteBatchParquetAtomic(w.outDir, pending)
		if err != nil {
			log.Printf("[archive] flush failed (games=%d): %v", len(pending), err)
		} else {
			log.Printf("[archive] flush ok: %s (games=%d)", path, len(pending))
		}
		pending = pending[:0]
	}

	for g := range w.in {
		pending = append(pending, GameRow{
			GameID:     fmt.Sprintf("selfplay_%d_%d", g.FinishedAt.UnixNano(), g.Worker),
			Generation: int32(g.Generation),
			Outcome:    g.Outcome,
			Plies:      int32(g.Plies),
			Worker:     int32(g.Worker),
			PGN:        g.PGN,
			FinishedNs: g.FinishedAt.UnixNano(),
			Source:     "selfplay",
		})
		if len(pending) >= w.gamesPerFlush {
			flush()
		}
	}

	flush()
}
