package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/storage"
	"github.com/sparkify/datalake/pkg/types"
)

// SeqColumn is the arrival-order column every staging table carries. Rows
// are numbered in (object key, position in file) order.
const SeqColumn = "_seq"

// LoadResult describes a completed staging load.
type LoadResult struct {
	Table    string
	Files    int
	Rows     int64
	Duration time.Duration
}

// LoadJSON stages every object matching pattern under loc into the schema's
// table, replacing any previous contents. A file may hold one JSON object,
// a stream of objects (JSON Lines), or an array of objects.
//
// It fails with STORAGE:NO_INPUT when nothing matches, SCHEMA:MALFORMED_INPUT
// on undecodable files or values, and SCHEMA:MISSING_COLUMN when a required
// key appears in no record at all.
func (s *Session) LoadJSON(ctx context.Context, loc storage.Location, pattern string, schema types.Schema) (*LoadResult, error) {
	start := time.Now()

	store, err := s.Storage(ctx, loc)
	if err != nil {
		return nil, err
	}

	keys, err := ExpandGlob(ctx, store, loc, pattern)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, pipelineerrors.NewStorageError(pipelineerrors.CodeNoInput,
			"no input objects match "+loc.Key(pattern)+" in "+loc.String(), nil)
	}

	destDir := filepath.Join(s.runDir, "staging", schema.Table)
	downloader := storage.NewBatchDownloader(store, s.opts.Concurrency, destDir)
	defer os.RemoveAll(destDir)

	batch, err := downloader.Download(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(batch.Errors) > 0 {
		failed := make([]string, 0, len(batch.Errors))
		for k := range batch.Errors {
			failed = append(failed, k)
		}
		sort.Strings(failed)
		cause := batch.Errors[failed[0]]
		code := pipelineerrors.CodeDownloadFailed
		if errors.Is(cause, storage.ErrObjectNotFound) {
			code = pipelineerrors.CodeObjectNotFound
		}
		return nil, pipelineerrors.NewStorageError(code,
			fmt.Sprintf("failed to download %d of %d input objects", len(failed), len(keys)),
			cause).WithDetails(map[string]interface{}{"object": failed[0]})
	}

	rows, err := s.stage(ctx, schema, keys, batch.LocalPaths)
	if err != nil {
		return nil, err
	}

	s.markStaged(StagedSource(loc, pattern), schema.Table)

	result := &LoadResult{
		Table:    schema.Table,
		Files:    len(keys),
		Rows:     rows,
		Duration: time.Since(start),
	}
	s.logger.Info("staged input",
		zap.String("table", schema.Table),
		zap.String("source", loc.Key(pattern)),
		zap.Int("files", result.Files),
		zap.Int64("rows", result.Rows),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// StagedSource is the key LoadJSON records a load under; see StagedTable.
func StagedSource(loc storage.Location, pattern string) string {
	return loc.Key(pattern) + "@" + loc.ConnectorKey()
}

// stage recreates the table and inserts every record in key order inside one
// transaction.
func (s *Session) stage(ctx context.Context, schema types.Schema, keys []string, localPaths map[string]string) (int64, error) {
	if err := s.createStagingTable(ctx, schema); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pipelineerrors.NewEngineError(pipelineerrors.CodeQueryFailed, "failed to begin staging transaction", err)
	}
	defer tx.Rollback()

	cols := append([]string{SeqColumn}, schema.ColumnNames()...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", schema.Table, strings.Join(cols, ", "), placeholders)

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, pipelineerrors.NewEngineError(pipelineerrors.CodeQueryFailed, "failed to prepare staging insert", err)
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(schema.Columns))
	var seq int64

	for _, key := range keys {
		err := decodeFile(localPaths[key], func(r types.Row) error {
			for k := range r {
				seen[k] = true
			}

			values, err := r.Values(schema)
			if err != nil {
				return err
			}

			seq++
			args := make([]interface{}, 0, len(values)+1)
			args = append(args, seq)
			args = append(args, values...)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return &insertError{err: err}
			}
			return nil
		})
		if err != nil {
			var ie *insertError
			if errors.As(err, &ie) {
				return 0, pipelineerrors.NewEngineError(pipelineerrors.CodeQueryFailed,
					"failed to insert staged row", ie.err).WithDetails(map[string]interface{}{"object": key})
			}
			return 0, pipelineerrors.NewSchemaError(pipelineerrors.CodeMalformedInput,
				"malformed input in "+key, err).WithDetails(map[string]interface{}{"object": key})
		}
	}

	for _, col := range schema.Columns {
		if col.Required && !seen[col.SourceKey()] {
			return 0, pipelineerrors.NewSchemaError(pipelineerrors.CodeMissingColumn,
				fmt.Sprintf("required key %q appears in no %s record", col.SourceKey(), schema.Table), nil).
				WithDetails(map[string]interface{}{"column": col.Name, "table": schema.Table})
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, pipelineerrors.NewEngineError(pipelineerrors.CodeQueryFailed, "failed to commit staging transaction", err)
	}
	return seq, nil
}

type insertError struct{ err error }

func (e *insertError) Error() string { return e.err.Error() }

func (s *Session) createStagingTable(ctx context.Context, schema types.Schema) error {
	defs := make([]string, 0, len(schema.Columns)+1)
	defs = append(defs, SeqColumn+" INTEGER NOT NULL")
	for _, col := range schema.Columns {
		switch col.Type {
		case types.TypeText, types.TypeInteger, types.TypeReal:
		default:
			return pipelineerrors.NewInternalError(
				fmt.Sprintf("column %s.%s: %v", schema.Table, col.Name, types.ErrUnknownColumnType), nil)
		}
		defs = append(defs, col.Name+" "+col.Type)
	}

	if err := s.Exec(ctx, "DROP TABLE IF EXISTS "+schema.Table); err != nil {
		return err
	}
	return s.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", schema.Table, strings.Join(defs, ", ")))
}

// decodeFile streams the JSON records of one file into fn.
func decodeFile(path string, fn func(types.Row) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	for {
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch x := v.(type) {
		case map[string]interface{}:
			if err := fn(types.Row(x)); err != nil {
				return err
			}
		case []interface{}:
			for i, elem := range x {
				obj, ok := elem.(map[string]interface{})
				if !ok {
					return fmt.Errorf("array element %d is %T, not an object", i, elem)
				}
				if err := fn(types.Row(obj)); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("top-level value is %T, not an object", v)
		}
	}
}
