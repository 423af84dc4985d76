// Package partition builds Hive-partitioned Parquet part files and the
// metadata sidecars that describe them.
package partition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/sparkify/datalake/pkg/types"
)

// Record is one output row.
type Record struct {
	// Partition holds the values of the partition columns, in directory order
	Partition []types.PartitionValue

	// Key is the table's key column value, tracked in stats and bloom filters
	Key string

	// Value is the Parquet struct written to the file
	Value interface{}
}

// PartitionValues returns the record's partition values. It is the routing
// function used with Route.
func PartitionValues(r Record) []types.PartitionValue {
	return r.Partition
}

// PartitionInfo contains metadata about a built part file.
type PartitionInfo struct {
	FileName  string
	LocalPath string
	Dir       string
	Values    []types.PartitionValue
	RowCount  int64
	SizeBytes int64
	KeyRange  *MinMax
	NullKeys  int64
	CreatedAt time.Time
}

// RelativePath is the file path relative to the table root.
func (p *PartitionInfo) RelativePath() string {
	if p.Dir == "" {
		return p.FileName
	}
	return p.Dir + "/" + p.FileName
}

// MinMax holds the key range of a file.
type MinMax struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// Builder writes part files under a local output directory. All files of
// one table write share the job ID in their names.
type Builder struct {
	outputDir   string
	jobID       string
	parallelism int64
}

// NewBuilder creates a new part file builder.
func NewBuilder(outputDir, jobID string) *Builder {
	return &Builder{
		outputDir:   outputDir,
		jobID:       jobID,
		parallelism: 4,
	}
}

// FileName returns the part file name for a sequence number.
func (b *Builder) FileName(seq int) string {
	return fmt.Sprintf("part-%05d-%s.c000.snappy.parquet", seq, b.jobID)
}

// Build writes the group's records to one snappy-compressed Parquet file.
// schema is a pointer to the record struct, e.g. new(types.Song). An empty
// group yields a valid file holding only the schema.
func (b *Builder) Build(ctx context.Context, seq int, schema interface{}, group *Group[Record]) (*PartitionInfo, error) {
	fileName := b.FileName(seq)
	localPath := filepath.Join(b.outputDir, filepath.FromSlash(group.Dir), fileName)

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return nil, fmt.Errorf("partition: failed to create output directory: %w", err)
	}

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to create file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, schema, b.parallelism)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("partition: failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	stats := NewStatsTracker()
	for _, rec := range group.Items {
		if err := ctx.Err(); err != nil {
			fw.Close()
			return nil, err
		}
		if err := pw.Write(rec.Value); err != nil {
			fw.Close()
			return nil, fmt.Errorf("partition: failed to write record: %w", err)
		}
		stats.Update(rec.Key)
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return nil, fmt.Errorf("partition: failed to finalize parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("partition: failed to close parquet file: %w", err)
	}

	fileInfo, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to stat parquet file: %w", err)
	}

	return &PartitionInfo{
		FileName:  fileName,
		LocalPath: localPath,
		Dir:       group.Dir,
		Values:    group.Values,
		RowCount:  stats.RowCount(),
		SizeBytes: fileInfo.Size(),
		KeyRange:  stats.MinMax(),
		NullKeys:  stats.NullKeys(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ReadFile reads every row of a local Parquet file into T.
func ReadFile[T any](path string) ([]T, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to open parquet file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(T), 4)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]T, int(pr.GetNumRows()))
	if len(rows) == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("partition: failed to read rows: %w", err)
	}
	return rows, nil
}
