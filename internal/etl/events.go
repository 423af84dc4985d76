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

// EventExtractor builds the users, time and songplays tables from event
// logs.
type EventExtractor struct {
	session *engine.Session
	writer  *engine.Writer
	stats   *observability.RunStats
	logger  *zap.Logger
	opts    Options
}

// NewEventExtractor creates an event log extractor.
func NewEventExtractor(session *engine.Session, writer *engine.Writer, stats *observability.RunStats, opts Options) *EventExtractor {
	return &EventExtractor{
		session: session,
		writer:  writer,
		stats:   stats,
		logger:  session.Logger().Named("events"),
		opts:    opts,
	}
}

// Run stages <in>/log-data and writes users, time and songplays under out.
// The song catalog is read again from <in>/song_data for the join.
func (e *EventExtractor) Run(ctx context.Context, in, out storage.Location) error {
	if err := e.session.Exec(ctx, "DROP VIEW IF EXISTS "+FilteredLogsView); err != nil {
		return err
	}
	if err := stage(ctx, e.session, e.stats, in, LogDataPattern, LogStagingSchema); err != nil {
		return err
	}

	if err := e.writeUsers(ctx, out); err != nil {
		return err
	}

	if err := e.session.Exec(ctx, filteredLogsView); err != nil {
		return err
	}
	plays, err := e.session.Count(ctx, "SELECT COUNT(*) FROM "+FilteredLogsView)
	if err != nil {
		return err
	}
	e.logger.Debug("filtered song plays", zap.Int64("rows", plays))

	if err := e.writeTime(ctx, out); err != nil {
		return err
	}

	catalog, err := e.catalog(ctx, in)
	if err != nil {
		return err
	}
	return e.writeSongplays(ctx, out, catalog)
}

func (e *EventExtractor) writeUsers(ctx context.Context, out storage.Location) error {
	var records []partition.Record
	err := e.session.Query(ctx, usersQuery, func(rows *sql.Rows) error {
		var u types.User
		if err := rows.Scan(&u.UserID, &u.FirstName, &u.LastName, &u.Gender, &u.Level); err != nil {
			return err
		}
		records = append(records, partition.Record{Key: deref(u.UserID), Value: u})
		return nil
	})
	if err != nil {
		return err
	}
	if err := writeTable(ctx, e.writer, e.session, e.opts.VerifyOutput, out, UsersTable, records,
		func(u types.User) string { return deref(u.UserID) }); err != nil {
		return err
	}

	multi, err := e.session.Count(ctx, multiLevelUsersQuery)
	if err != nil {
		return err
	}
	e.stats.AddQuality(observability.QualityMultiLevelUsers, multi)
	return nil
}

func (e *EventExtractor) writeTime(ctx context.Context, out storage.Location) error {
	var records []partition.Record
	err := e.session.Query(ctx, timeQuery, func(rows *sql.Rows) error {
		var (
			t     types.Time
			month *int64
			year  *int64
		)
		if err := rows.Scan(&t.StartTime, &t.Hour, &t.Day, &t.Week, &month, &year, &t.Weekday); err != nil {
			return err
		}
		records = append(records, partition.Record{
			Partition: yearMonth(year, month),
			Key:       deref(t.StartTime),
			Value:     t,
		})
		return nil
	})
	if err != nil {
		return err
	}
	return writeTable(ctx, e.writer, e.session, e.opts.VerifyOutput, out, TimeTable, records,
		func(t types.Time) string { return deref(t.StartTime) })
}

// catalog stages the song catalog for the join and returns the table to
// join against.
func (e *EventExtractor) catalog(ctx context.Context, in storage.Location) (string, error) {
	if e.opts.ReuseSongCatalog {
		if table, ok := e.session.StagedTable(engine.StagedSource(in, SongDataPattern)); ok && table == SongStagingTable {
			e.logger.Debug("reusing staged song catalog", zap.String("table", table))
			return table, nil
		}
	}
	if err := stage(ctx, e.session, e.stats, in, SongDataPattern, SongCatalogSchema); err != nil {
		return "", err
	}
	return SongCatalogTable, nil
}

func (e *EventExtractor) writeSongplays(ctx context.Context, out storage.Location, catalog string) error {
	var records []partition.Record
	err := e.session.Query(ctx, songplaysQuery(catalog), func(rows *sql.Rows) error {
		var (
			p     types.Songplay
			year  *int64
			month *int64
		)
		if err := rows.Scan(&p.SongplayID, &p.StartTime, &p.UserID, &p.Level, &p.SongID, &p.ArtistID,
			&p.SessionID, &p.Location, &p.UserAgent, &year, &month); err != nil {
			return err
		}
		records = append(records, partition.Record{
			Partition: yearMonth(year, month),
			Key:       strconv.FormatInt(p.SongplayID, 10),
			Value:     p,
		})
		return nil
	})
	if err != nil {
		return err
	}
	if err := writeTable(ctx, e.writer, e.session, e.opts.VerifyOutput, out, SongplaysTable, records,
		func(p types.Songplay) string { return strconv.FormatInt(p.SongplayID, 10) }); err != nil {
		return err
	}

	unmatched, err := e.session.Count(ctx, unmatchedPlaysQuery(catalog))
	if err != nil {
		return err
	}
	e.stats.AddQuality(observability.QualityUnmatchedPlays, unmatched)
	if unmatched > 0 {
		e.logger.Info("song plays without a catalog match were dropped", zap.Int64("plays", unmatched))
	}
	return nil
}

func yearMonth(year, month *int64) []types.PartitionValue {
	return []types.PartitionValue{
		types.PartitionOf("year", year, formatInt),
		types.PartitionOf("month", month, formatInt),
	}
}
