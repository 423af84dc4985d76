package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/partition"
	"github.com/sparkify/datalake/internal/storage"
)

// ReadMetadata downloads and decodes the _metadata.json sidecar of a table.
func ReadMetadata(ctx context.Context, s *Session, out storage.Location, tablePath string) (*partition.TableMetadata, error) {
	store, err := s.Storage(ctx, out)
	if err != nil {
		return nil, err
	}

	objectPath := out.Key(tablePath, partition.MetadataFile)
	localPath := filepath.Join(s.RunDir(), "verify", filepath.FromSlash(tablePath), partition.MetadataFile)
	if err := store.Download(ctx, objectPath, localPath); err != nil {
		code := pipelineerrors.CodeDownloadFailed
		if errors.Is(err, storage.ErrObjectNotFound) {
			code = pipelineerrors.CodeObjectNotFound
		}
		return nil, pipelineerrors.NewStorageError(code, "failed to download "+objectPath, err)
	}

	meta, err := partition.ReadMetadataFromFile(localPath)
	if err != nil {
		return nil, pipelineerrors.NewSchemaError(pipelineerrors.CodeMalformedInput, "bad sidecar "+objectPath, err)
	}
	return meta, nil
}

// VerifyTable reads a table back from storage and checks it against the
// sidecar returned by the write that produced it. Every non-empty key must
// hit the bloom filter of the file holding it.
func VerifyTable[T any](ctx context.Context, s *Session, out storage.Location, table Table, written *partition.TableMetadata, key func(T) string) error {
	meta, err := ReadMetadata(ctx, s, out, table.Path)
	if err != nil {
		return err
	}
	if meta.JobID != written.JobID {
		return verifyError(table, "sidecar belongs to job %s, wrote %s", meta.JobID, written.JobID)
	}
	if meta.RowCount != written.RowCount || len(meta.Files) != len(written.Files) {
		return verifyError(table, "sidecar lists %d rows in %d files, wrote %d rows in %d files",
			meta.RowCount, len(meta.Files), written.RowCount, len(written.Files))
	}

	rows, err := ReadTable[T](ctx, s, out, table.Path)
	if err != nil {
		return err
	}
	if int64(len(rows)) != meta.RowCount {
		return verifyError(table, "read %d rows, sidecar lists %d", len(rows), meta.RowCount)
	}

	for _, row := range rows {
		k := key(row.Record)
		if k == "" {
			continue
		}
		paths, err := meta.MightContain(k)
		if err != nil {
			return verifyError(table, "bloom filter lookup: %v", err)
		}
		if !contains(paths, row.File) {
			return verifyError(table, "key %q in %s is missing from its bloom filter", k, row.File)
		}
	}

	s.Logger().Debug("table verified",
		zap.String("table", table.Name),
		zap.Int64("rows", meta.RowCount),
		zap.Int("files", len(meta.Files)),
	)
	return nil
}

func verifyError(table Table, format string, args ...interface{}) error {
	return pipelineerrors.NewEngineError(pipelineerrors.CodeVerifyFailed,
		fmt.Sprintf("verify %s: "+format, append([]interface{}{table.Name}, args...)...), nil)
}

func contains(paths []string, p string) bool {
	for _, candidate := range paths {
		if candidate == p {
			return true
		}
	}
	return false
}
