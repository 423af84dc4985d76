package partition

import (
	"path/filepath"
	"testing"

	"github.com/sparkify/datalake/pkg/types"
)

func TestMetadataGenerator_Generate(t *testing.T) {
	info := &PartitionInfo{
		FileName:  "part-00000-x.c000.snappy.parquet",
		Dir:       "year=2018/month=11",
		Values:    []types.PartitionValue{{Column: "year", Value: "2018"}, {Column: "month", Value: "11"}},
		RowCount:  3,
		SizeBytes: 1024,
		KeyRange:  &MinMax{Min: "S1", Max: "S3"},
	}
	records := []Record{{Key: "S1"}, {Key: "S2"}, {Key: "S3"}}

	fm := NewMetadataGenerator().Generate(info, records, "abc123")

	if fm.Path != "year=2018/month=11/part-00000-x.c000.snappy.parquet" {
		t.Errorf("Path = %s", fm.Path)
	}
	if fm.ETag != "abc123" || fm.RowCount != 3 || fm.SizeBytes != 1024 {
		t.Errorf("unexpected file metadata: %+v", fm)
	}
	if fm.Partition["year"] == nil || *fm.Partition["year"] != "2018" {
		t.Errorf("partition map = %v", fm.Partition)
	}
	if fm.Bloom == nil {
		t.Fatal("expected bloom filter")
	}

	filter, err := fm.Bloom.Filter()
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	for _, r := range records {
		if !filter.Contains(r.Key) {
			t.Errorf("bloom filter lost key %s", r.Key)
		}
	}
}

func TestMetadataGenerator_NoKeysNoBloom(t *testing.T) {
	info := &PartitionInfo{FileName: "f.parquet", Values: []types.PartitionValue{{Column: "artist_id", Null: true}}}
	fm := NewMetadataGenerator().Generate(info, nil, "")

	if fm.Bloom != nil {
		t.Error("expected no bloom filter without keys")
	}
	if v, ok := fm.Partition["artist_id"]; !ok || v != nil {
		t.Errorf("NULL partition should map to nil, got %v", fm.Partition)
	}
}

func TestTableMetadata_RoundTripAndPruning(t *testing.T) {
	gen := NewMetadataGenerator()
	m := NewTableMetadata("songs", "song_id", "job", []string{"year", "artist_id"})

	m.AddFile(gen.Generate(&PartitionInfo{
		FileName: "a.parquet", RowCount: 2, SizeBytes: 10,
		KeyRange: &MinMax{Min: "SA", Max: "SB"},
	}, []Record{{Key: "SA"}, {Key: "SB"}}, "e1"))
	m.AddFile(gen.Generate(&PartitionInfo{
		FileName: "b.parquet", RowCount: 1, SizeBytes: 5,
		KeyRange: &MinMax{Min: "SX", Max: "SX"},
	}, []Record{{Key: "SX"}}, "e2"))

	if m.RowCount != 3 || m.SizeBytes != 15 {
		t.Errorf("totals = %d rows, %d bytes", m.RowCount, m.SizeBytes)
	}

	path := filepath.Join(t.TempDir(), MetadataFile)
	if err := m.WriteToFile(path); err != nil {
		t.Fatalf("WriteToFile failed: %v", err)
	}
	restored, err := ReadMetadataFromFile(path)
	if err != nil {
		t.Fatalf("ReadMetadataFromFile failed: %v", err)
	}
	if restored.Table != "songs" || len(restored.Files) != 2 || restored.KeyColumn != "song_id" {
		t.Errorf("unexpected restored sidecar: %+v", restored)
	}

	paths, err := restored.MightContain("SX")
	if err != nil {
		t.Fatalf("MightContain failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != "b.parquet" {
		t.Errorf("MightContain(SX) = %v", paths)
	}

	// Outside every key range
	paths, err = restored.MightContain("ZZZ")
	if err != nil {
		t.Fatalf("MightContain failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("MightContain(ZZZ) = %v", paths)
	}
}

func TestFromJSON_Invalid(t *testing.T) {
	if _, err := FromJSON([]byte("{")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
