// Package store archives finished self-play games as parquet batches.
//
// One row per game, compressed with zstd, written to a temp path and
// renamed so readers never observe a partial file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// GameRow is a single archived self-play game.
type GameRow struct {
	GameID     string  `parquet:"game_id,dict"`
	Generation int32   `parquet:"generation"`
	Outcome    float32 `parquet:"outcome"` // relative to White
	Plies      int32   `parquet:"plies"`
	Worker     int32   `parquet:"worker"`
	PGN        string  `parquet:"pgn,zstd"`
	FinishedNs int64   `parquet:"finished_ns"`
	Source     string  `parquet:"source,dict"`
}

// WriteBatchParquetAtomic writes a batch of games into outDir/tmp and
// atomically moves the file into outDir.
func WriteBatchParquetAtomic(outDir string, rows []GameRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("games_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "selfplay_game_v1"),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadBatchParquet loads one archive file, mostly for tooling and tests.
func ReadBatchParquet(path string) ([]GameRow, error) {
	rows, err := parquet.ReadFile[GameRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}

// listParquet returns the finished archive files under dir, ignoring the
// tmp staging directory.
func listParquet(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
