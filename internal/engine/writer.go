package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/observability"
	"github.com/sparkify/datalake/internal/partition"
	"github.com/sparkify/datalake/internal/storage"
)

// Table describes one output table.
type Table struct {
	// Name is the logical table name, e.g. "songs"
	Name string

	// Path is the table directory relative to the output root, e.g. "songs/songs.parquet"
	Path string

	// PartitionBy lists the partition columns in directory order
	PartitionBy []string

	// KeyColumn is the column tracked in sidecar key ranges and bloom filters
	KeyColumn string

	// Schema is a pointer to the Parquet record struct, e.g. new(types.Song)
	Schema interface{}
}

// Writer persists tables to object storage with overwrite semantics.
type Writer struct {
	session *Session
	stats   *observability.RunStats
	logger  *zap.Logger
}

// NewWriter creates a table writer. stats may be nil.
func NewWriter(session *Session, stats *observability.RunStats) *Writer {
	if stats == nil {
		stats = observability.NewRunStats()
	}
	return &Writer{
		session: session,
		stats:   stats,
		logger:  session.Logger(),
	}
}

// Write replaces the table under out with records. Every object under the
// table directory is deleted first, then one part file per partition
// directory is built and uploaded, followed by the _metadata.json sidecar
// and the _SUCCESS marker. A partitioned table with no rows gets only the
// sidecar and the marker; an unpartitioned one also gets a schema-only file.
// A failure leaves whatever was already written in place.
func (w *Writer) Write(ctx context.Context, out storage.Location, table Table, records []partition.Record) (*partition.TableMetadata, error) {
	start := time.Now()

	store, err := w.session.Storage(ctx, out)
	if err != nil {
		return nil, err
	}
	prefix := out.Key(table.Path)

	if err := w.clear(ctx, store, prefix); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	localDir := filepath.Join(w.session.RunDir(), "output", table.Name+"-"+jobID)
	defer os.RemoveAll(localDir)

	groups := partition.Route(records, partition.PartitionValues)
	if len(groups) == 0 && len(table.PartitionBy) == 0 {
		groups = []*partition.Group[partition.Record]{{}}
	}

	builder := partition.NewBuilder(localDir, jobID)
	generator := partition.NewMetadataGenerator()
	files := make([]partition.FileMetadata, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.session.Concurrency())
	for i, group := range groups {
		g.Go(func() error {
			info, err := builder.Build(gctx, i, table.Schema, group)
			if err != nil {
				return pipelineerrors.NewEngineError(pipelineerrors.CodeWriteFailed,
					"failed to build part file for "+table.Name, err).
					WithDetails(map[string]interface{}{"partition": group.Dir})
			}
			defer os.Remove(info.LocalPath)

			objectPath := prefix + "/" + info.RelativePath()
			etag, err := store.UploadMultipart(gctx, info.LocalPath, objectPath)
			if err != nil {
				return pipelineerrors.NewStorageError(pipelineerrors.CodeUploadFailed,
					"failed to upload "+objectPath, err)
			}

			files[i] = generator.Generate(info, group.Items, etag)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	meta := partition.NewTableMetadata(table.Name, table.KeyColumn, jobID, table.PartitionBy)
	for _, f := range files {
		meta.AddFile(f)
	}

	if err := w.finish(ctx, store, prefix, localDir, meta); err != nil {
		return nil, err
	}

	duration := time.Since(start)
	w.stats.RecordTable(observability.TableStats{
		Table:      table.Name,
		Rows:       meta.RowCount,
		Partitions: int64(countPartitions(groups)),
		Files:      int64(len(meta.Files)),
		Bytes:      meta.SizeBytes,
		Duration:   duration,
	})
	w.logger.Info("table written",
		zap.String("table", table.Name),
		zap.String("path", out.Key(table.Path)),
		zap.Int64("rows", meta.RowCount),
		zap.Int("partitions", countPartitions(groups)),
		zap.Int("files", len(meta.Files)),
		zap.Int64("bytes", meta.SizeBytes),
		zap.Duration("duration", duration),
	)
	return meta, nil
}

// clear deletes every object under the table directory.
func (w *Writer) clear(ctx context.Context, store storage.ObjectStorage, prefix string) error {
	existing, err := store.ListObjects(ctx, prefix+"/")
	if err != nil {
		return pipelineerrors.NewStorageError(pipelineerrors.CodeListFailed,
			"failed to list existing output under "+prefix, err)
	}
	if len(existing) == 0 {
		return nil
	}

	if err := store.DeleteObjects(ctx, existing); err != nil {
		return pipelineerrors.NewStorageError(pipelineerrors.CodeDeleteFailed,
			"failed to delete existing output under "+prefix, err)
	}

	w.logger.Debug("cleared previous output", zap.String("path", prefix), zap.Int("objects", len(existing)))
	return nil
}

// finish uploads the sidecar, then the _SUCCESS marker.
func (w *Writer) finish(ctx context.Context, store storage.ObjectStorage, prefix, localDir string, meta *partition.TableMetadata) error {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return pipelineerrors.NewEngineError(pipelineerrors.CodeWriteFailed, "failed to create output directory", err)
	}

	metaPath := filepath.Join(localDir, partition.MetadataFile)
	if err := meta.WriteToFile(metaPath); err != nil {
		return pipelineerrors.NewEngineError(pipelineerrors.CodeWriteFailed, "failed to write sidecar", err)
	}
	if err := store.Upload(ctx, metaPath, prefix+"/"+partition.MetadataFile); err != nil {
		return pipelineerrors.NewStorageError(pipelineerrors.CodeUploadFailed, "failed to upload sidecar", err)
	}

	successPath := filepath.Join(localDir, partition.SuccessMarker)
	if err := os.WriteFile(successPath, nil, 0644); err != nil {
		return pipelineerrors.NewEngineError(pipelineerrors.CodeWriteFailed, "failed to write success marker", err)
	}
	if err := store.Upload(ctx, successPath, prefix+"/"+partition.SuccessMarker); err != nil {
		return pipelineerrors.NewStorageError(pipelineerrors.CodeUploadFailed, "failed to upload success marker", err)
	}
	return nil
}

func countPartitions(groups []*partition.Group[partition.Record]) int {
	n := 0
	for _, g := range groups {
		if g.Dir != "" {
			n++
		}
	}
	return n
}
