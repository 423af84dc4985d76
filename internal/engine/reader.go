package engine

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/partition"
	"github.com/sparkify/datalake/internal/storage"
	"github.com/sparkify/datalake/pkg/types"
)

// TableRow is a record read back from a written table, with the partition
// values recovered from its directory.
type TableRow[T any] struct {
	// File is the part file path relative to the table directory, as listed
	// in the sidecar
	File      string
	Partition []types.PartitionValue
	Record    T
}

// PartitionValue returns the value of a partition column and whether it is
// set (non-NULL).
func (r TableRow[T]) PartitionValue(column string) (string, bool) {
	for _, v := range r.Partition {
		if v.Column == column {
			return v.Value, !v.Null
		}
	}
	return "", false
}

// ReadTable reads every part file of a table back into T, in key order.
func ReadTable[T any](ctx context.Context, s *Session, out storage.Location, tablePath string) ([]TableRow[T], error) {
	store, err := s.Storage(ctx, out)
	if err != nil {
		return nil, err
	}

	prefix := out.Key(tablePath)
	keys, err := store.ListObjects(ctx, prefix+"/")
	if err != nil {
		return nil, pipelineerrors.NewStorageError(pipelineerrors.CodeListFailed, "failed to list "+prefix, err)
	}

	var parts []string
	for _, k := range keys {
		if strings.HasSuffix(k, ".parquet") && strings.HasPrefix(path.Base(k), "part-") {
			parts = append(parts, k)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}

	destDir := filepath.Join(s.RunDir(), "read", path.Base(prefix))
	batch, err := storage.NewBatchDownloader(store, s.Concurrency(), destDir).Download(ctx, parts)
	if err != nil {
		return nil, err
	}

	var rows []TableRow[T]
	for _, k := range parts {
		if dlErr, failed := batch.Errors[k]; failed {
			return nil, pipelineerrors.NewStorageError(pipelineerrors.CodeDownloadFailed, "failed to download "+k, dlErr)
		}

		rel := strings.TrimPrefix(path.Dir(k), prefix)
		values, err := partition.ParseDir(strings.Trim(rel, "/"))
		if err != nil {
			return nil, pipelineerrors.NewSchemaError(pipelineerrors.CodeMalformedInput, "bad partition path "+k, err)
		}

		records, err := partition.ReadFile[T](batch.LocalPaths[k])
		if err != nil {
			return nil, pipelineerrors.NewSchemaError(pipelineerrors.CodeMalformedInput, "failed to read "+k, err)
		}
		file := strings.TrimPrefix(k, prefix+"/")
		for _, rec := range records {
			rows = append(rows, TableRow[T]{File: file, Partition: values, Record: rec})
		}
	}
	return rows, nil
}
