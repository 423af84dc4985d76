package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Well-known object names inside a table directory.
const (
	SuccessMarker = "_SUCCESS"
	MetadataFile  = "_metadata.json"
)

// TableMetadata is the _metadata.json sidecar describing one table write.
type TableMetadata struct {
	Table            string         `json:"table"`
	PartitionColumns []string       `json:"partition_columns"`
	KeyColumn        string         `json:"key_column,omitempty"`
	JobID            string         `json:"job_id"`
	RowCount         int64          `json:"row_count"`
	SizeBytes        int64          `json:"size_bytes"`
	Files            []FileMetadata `json:"files"`
	CreatedAt        int64          `json:"created_at"`
}

// FileMetadata describes one part file.
type FileMetadata struct {
	Path      string             `json:"path"`
	Partition map[string]*string `json:"partition,omitempty"`
	RowCount  int64              `json:"row_count"`
	SizeBytes int64              `json:"size_bytes"`
	ETag      string             `json:"etag"`
	KeyRange  *MinMax            `json:"key_range,omitempty"`
	NullKeys  int64              `json:"null_keys,omitempty"`
	Bloom     *BloomFilterMeta   `json:"bloom_filter,omitempty"`
}

// MetadataGenerator builds sidecar entries for part files.
type MetadataGenerator struct {
	targetFPR float64 // Target false positive rate for bloom filters
}

// NewMetadataGenerator creates a new metadata generator.
func NewMetadataGenerator() *MetadataGenerator {
	return &MetadataGenerator{
		targetFPR: 0.01,
	}
}

// Generate creates the sidecar entry for a built file. The bloom filter
// covers the non-empty keys of the records written to it.
func (g *MetadataGenerator) Generate(info *PartitionInfo, records []Record, etag string) FileMetadata {
	fm := FileMetadata{
		Path:      info.RelativePath(),
		RowCount:  info.RowCount,
		SizeBytes: info.SizeBytes,
		ETag:      etag,
		KeyRange:  info.KeyRange,
		NullKeys:  info.NullKeys,
	}

	if len(info.Values) > 0 {
		fm.Partition = make(map[string]*string, len(info.Values))
		for _, v := range info.Values {
			if v.Null || v.Value == "" {
				fm.Partition[v.Column] = nil
				continue
			}
			value := v.Value
			fm.Partition[v.Column] = &value
		}
	}

	if info.KeyRange != nil {
		filter := NewBloomFilterWithEstimates(len(records), g.targetFPR)
		for _, r := range records {
			if r.Key != "" {
				filter.Add(r.Key)
			}
		}
		fm.Bloom = filter.Meta()
	}

	return fm
}

// NewTableMetadata starts a sidecar for a table write.
func NewTableMetadata(table, keyColumn, jobID string, partitionColumns []string) *TableMetadata {
	if partitionColumns == nil {
		partitionColumns = []string{}
	}
	return &TableMetadata{
		Table:            table,
		PartitionColumns: partitionColumns,
		KeyColumn:        keyColumn,
		JobID:            jobID,
		Files:            []FileMetadata{},
		CreatedAt:        time.Now().UTC().Unix(),
	}
}

// AddFile appends a file entry and updates the totals.
func (m *TableMetadata) AddFile(fm FileMetadata) {
	m.Files = append(m.Files, fm)
	m.RowCount += fm.RowCount
	m.SizeBytes += fm.SizeBytes
}

// MightContain reports which files may hold the key, using the bloom
// filters and key ranges. Files without a filter are always included.
func (m *TableMetadata) MightContain(key string) ([]string, error) {
	var paths []string
	for _, f := range m.Files {
		if f.KeyRange != nil && (key < f.KeyRange.Min || key > f.KeyRange.Max) {
			continue
		}
		if f.Bloom != nil {
			filter, err := f.Bloom.Filter()
			if err != nil {
				return nil, fmt.Errorf("metadata: file %s: %w", f.Path, err)
			}
			if !filter.Contains(key) {
				continue
			}
		}
		paths = append(paths, f.Path)
	}
	return paths, nil
}

// WriteToFile writes the sidecar as indented JSON.
func (m *TableMetadata) WriteToFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: failed to marshal sidecar: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("metadata: failed to write sidecar file: %w", err)
	}

	return nil
}

// ReadMetadataFromFile reads a sidecar from a JSON file.
func ReadMetadataFromFile(path string) (*TableMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to read sidecar file: %w", err)
	}
	return FromJSON(data)
}

// FromJSON deserializes a sidecar from JSON bytes.
func FromJSON(data []byte) (*TableMetadata, error) {
	var m TableMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("metadata: failed to unmarshal sidecar: %w", err)
	}
	return &m, nil
}

// CreatedAtTime returns the creation time as time.Time.
func (m *TableMetadata) CreatedAtTime() time.Time {
	return time.Unix(m.CreatedAt, 0)
}
