package etl

import (
	"context"

	"github.com/sparkify/datalake/internal/engine"
	"github.com/sparkify/datalake/internal/partition"
	"github.com/sparkify/datalake/internal/storage"
)

// Options tunes the extractors.
type Options struct {
	// ReuseSongCatalog joins song plays against song_staging when the song
	// extractor already staged the same input in this session.
	ReuseSongCatalog bool

	// VerifyOutput reads each table back after writing it.
	VerifyOutput bool
}

// writeTable writes records as table and, with verify set, checks the
// stored table against the sidecar of this write. key extracts the sidecar
// key of a row read back.
func writeTable[T any](ctx context.Context, w *engine.Writer, s *engine.Session, verify bool,
	out storage.Location, table engine.Table, records []partition.Record, key func(T) string) error {
	meta, err := w.Write(ctx, out, table, records)
	if err != nil {
		return err
	}
	if !verify {
		return nil
	}
	return engine.VerifyTable(ctx, s, out, table, meta, key)
}
