package partition

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sparkify/datalake/pkg/types"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func songRecord(year, artist, songID string, duration float64) Record {
	return Record{
		Partition: []types.PartitionValue{
			{Column: "year", Value: year},
			{Column: "artist_id", Value: artist},
		},
		Key: songID,
		Value: types.Song{
			SongID:   strPtr(songID),
			Title:    strPtr("title " + songID),
			Duration: floatPtr(duration),
		},
	}
}

func TestBuilder_BuildAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	builder := NewBuilder(tmpDir, "job-1")

	records := []Record{
		songRecord("1999", "A1", "S2", 180),
		songRecord("1999", "A1", "S1", 200.5),
	}
	groups := Route(records, PartitionValues)

	info, err := builder.Build(context.Background(), 0, new(types.Song), groups[0])
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if info.RowCount != 2 {
		t.Errorf("expected RowCount=2, got %d", info.RowCount)
	}
	if info.SizeBytes == 0 {
		t.Error("expected SizeBytes > 0")
	}
	if info.FileName != "part-00000-job-1.c000.snappy.parquet" {
		t.Errorf("unexpected file name %s", info.FileName)
	}
	if info.RelativePath() != "year=1999/artist_id=A1/part-00000-job-1.c000.snappy.parquet" {
		t.Errorf("unexpected relative path %s", info.RelativePath())
	}
	if info.KeyRange == nil || info.KeyRange.Min != "S1" || info.KeyRange.Max != "S2" {
		t.Errorf("unexpected key range %+v", info.KeyRange)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "year=1999", "artist_id=A1", info.FileName)); err != nil {
		t.Errorf("part file not at partition path: %v", err)
	}

	rows, err := ReadFile[types.Song](info.LocalPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if *rows[0].SongID != "S2" || *rows[1].SongID != "S1" || *rows[1].Duration != 200.5 {
		t.Errorf("unexpected rows: %+v %+v", rows[0], rows[1])
	}
}

func TestBuilder_NullableColumns(t *testing.T) {
	builder := NewBuilder(t.TempDir(), "job-2")
	group := &Group[Record]{Items: []Record{{
		Key:   "A1",
		Value: types.Artist{ArtistID: strPtr("A1"), Name: strPtr("Prince")},
	}}}

	info, err := builder.Build(context.Background(), 0, new(types.Artist), group)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if strings.Contains(info.RelativePath(), "/") {
		t.Errorf("unpartitioned file should sit at the table root: %s", info.RelativePath())
	}

	rows, err := ReadFile[types.Artist](info.LocalPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Latitude != nil || rows[0].Location != nil || *rows[0].Name != "Prince" {
		t.Errorf("unexpected row: %+v", rows[0])
	}
}

func TestBuilder_EmptyGroupWritesSchemaOnlyFile(t *testing.T) {
	builder := NewBuilder(t.TempDir(), "job-3")

	info, err := builder.Build(context.Background(), 0, new(types.User), &Group[Record]{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if info.RowCount != 0 || info.KeyRange != nil {
		t.Errorf("unexpected info for empty file: %+v", info)
	}

	rows, err := ReadFile[types.User](info.LocalPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestBuilder_CancelledContext(t *testing.T) {
	builder := NewBuilder(t.TempDir(), "job-4")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	group := &Group[Record]{Items: []Record{songRecord("2000", "A", "S", 1)}}
	if _, err := builder.Build(ctx, 0, new(types.Song), group); err == nil {
		t.Error("expected error for cancelled context")
	}
}
