package etl

import (
	"context"
	"database/sql"
	"strconv"

	"go.uber.org/zap"

	"github.com/sparkify/datalake/internal/engine"
	"github.com/sparkify/datalake/internal/observability"
	"github.com/sparkify/datalake/internal/partition"
	"github.com/sparkify/datalake/internal/storage"
	"github.com/sparkify/datalake/pkg/types"
)

// SongExtractor builds the songs and artists tables from song metadata.
type SongExtractor struct {
	session *engine.Session
	writer  *engine.Writer
	stats   *observability.RunStats
	logger  *zap.Logger
	opts    Options
}

// NewSongExtractor creates a song catalog extractor.
func NewSongExtractor(session *engine.Session, writer *engine.Writer, stats *observability.RunStats, opts Options) *SongExtractor {
	return &SongExtractor{
		session: session,
		writer:  writer,
		stats:   stats,
		logger:  session.Logger().Named("songs"),
		opts:    opts,
	}
}

// Run stages <in>/song_data and writes songs and artists under out.
func (e *SongExtractor) Run(ctx context.Context, in, out storage.Location) error {
	if err := stage(ctx, e.session, e.stats, in, SongDataPattern, SongStagingSchema); err != nil {
		return err
	}

	songs, err := e.songs(ctx)
	if err != nil {
		return err
	}
	if err := writeTable(ctx, e.writer, e.session, e.opts.VerifyOutput, out, SongsTable, songs,
		func(s types.Song) string { return deref(s.SongID) }); err != nil {
		return err
	}

	artists, err := e.artists(ctx)
	if err != nil {
		return err
	}
	if err := writeTable(ctx, e.writer, e.session, e.opts.VerifyOutput, out, ArtistsTable, artists,
		func(a types.Artist) string { return deref(a.ArtistID) }); err != nil {
		return err
	}

	dup, err := e.session.Count(ctx, duplicateArtistIDsQuery)
	if err != nil {
		return err
	}
	e.stats.AddQuality(observability.QualityDuplicateArtistIDs, dup)
	if dup > 0 {
		e.logger.Warn("artist ids with conflicting attributes", zap.Int64("artist_ids", dup))
	}
	return nil
}

func (e *SongExtractor) songs(ctx context.Context) ([]partition.Record, error) {
	var records []partition.Record
	err := e.session.Query(ctx, songsQuery, func(rows *sql.Rows) error {
		var (
			song     types.Song
			artistID *string
			year     *int64
		)
		if err := rows.Scan(&song.SongID, &song.Title, &artistID, &year, &song.Duration); err != nil {
			return err
		}
		records = append(records, partition.Record{
			Partition: []types.PartitionValue{
				types.PartitionOf("year", year, formatInt),
				types.PartitionOf("artist_id", artistID, identity),
			},
			Key:   deref(song.SongID),
			Value: song,
		})
		return nil
	})
	return records, err
}

func (e *SongExtractor) artists(ctx context.Context) ([]partition.Record, error) {
	var records []partition.Record
	err := e.session.Query(ctx, artistsQuery, func(rows *sql.Rows) error {
		var a types.Artist
		if err := rows.Scan(&a.ArtistID, &a.Name, &a.Location, &a.Latitude, &a.Longitude); err != nil {
			return err
		}
		records = append(records, partition.Record{Key: deref(a.ArtistID), Value: a})
		return nil
	})
	return records, err
}

// stage loads one input glob and records the load in stats.
func stage(ctx context.Context, s *engine.Session, stats *observability.RunStats, in storage.Location, pattern string, schema types.Schema) error {
	res, err := s.LoadJSON(ctx, in, pattern, schema)
	if err != nil {
		return err
	}
	stats.RecordLoad(observability.LoadStats{
		Table:    res.Table,
		Files:    int64(res.Files),
		Rows:     res.Rows,
		Duration: res.Duration,
	})
	return nil
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func identity(s string) string { return s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
