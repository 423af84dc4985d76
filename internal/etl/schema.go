// Package etl holds the Sparkify extraction steps: the song catalog
// extractor, the event log extractor, and the pipeline that runs them in
// order against one engine session.
package etl

import (
	"github.com/sparkify/datalake/internal/engine"
	"github.com/sparkify/datalake/pkg/types"
)

// Input globs, relative to the input root.
const (
	SongDataPattern = "song_data/*/*/*/*.json"
	LogDataPattern  = "log-data/*.json"
)

// Staging table names.
const (
	SongStagingTable = "song_staging"
	SongCatalogTable = "song_catalog"
	LogStagingTable  = "log_staging"
	FilteredLogsView = "filtered_logs"
)

// songColumns are the keys of a song metadata record. Every column a query
// reads is required.
var songColumns = []types.ColumnDef{
	{Name: "num_songs", Type: types.TypeInteger},
	{Name: "artist_id", Type: types.TypeText, Required: true},
	{Name: "artist_latitude", Type: types.TypeReal, Required: true},
	{Name: "artist_longitude", Type: types.TypeReal, Required: true},
	{Name: "artist_location", Type: types.TypeText, Required: true},
	{Name: "artist_name", Type: types.TypeText, Required: true},
	{Name: "song_id", Type: types.TypeText, Required: true},
	{Name: "title", Type: types.TypeText, Required: true},
	{Name: "duration", Type: types.TypeReal, Required: true},
	{Name: "year", Type: types.TypeInteger, Required: true},
}

// SongStagingSchema stages song metadata for the songs and artists tables.
var SongStagingSchema = types.Schema{Table: SongStagingTable, Columns: songColumns}

// SongCatalogSchema stages the same files again for the songplays join.
var SongCatalogSchema = types.Schema{Table: SongCatalogTable, Columns: songColumns}

// LogStagingSchema stages event log records. Keys are camelCase in the
// input and snake_case in the engine.
var LogStagingSchema = types.Schema{
	Table: LogStagingTable,
	Columns: []types.ColumnDef{
		{Name: "artist", Type: types.TypeText, Required: true},
		{Name: "auth", Type: types.TypeText},
		{Name: "first_name", Source: "firstName", Type: types.TypeText, Required: true},
		{Name: "gender", Type: types.TypeText, Required: true},
		{Name: "item_in_session", Source: "itemInSession", Type: types.TypeInteger},
		{Name: "last_name", Source: "lastName", Type: types.TypeText, Required: true},
		{Name: "length", Type: types.TypeReal},
		{Name: "level", Type: types.TypeText, Required: true},
		{Name: "location", Type: types.TypeText, Required: true},
		{Name: "method", Type: types.TypeText},
		{Name: "page", Type: types.TypeText, Required: true},
		{Name: "registration", Type: types.TypeReal},
		{Name: "session_id", Source: "sessionId", Type: types.TypeInteger, Required: true},
		{Name: "song", Type: types.TypeText},
		{Name: "status", Type: types.TypeInteger},
		{Name: "ts", Type: types.TypeInteger, Required: true},
		{Name: "user_agent", Source: "userAgent", Type: types.TypeText, Required: true},
		{Name: "user_id", Source: "userId", Type: types.TypeText, Required: true},
	},
}

// Output tables.
var (
	SongsTable = engine.Table{
		Name:        "songs",
		Path:        "songs/songs.parquet",
		PartitionBy: []string{"year", "artist_id"},
		KeyColumn:   "song_id",
		Schema:      new(types.Song),
	}

	ArtistsTable = engine.Table{
		Name:      "artists",
		Path:      "artists/artists.parquet",
		KeyColumn: "artist_id",
		Schema:    new(types.Artist),
	}

	UsersTable = engine.Table{
		Name:      "users",
		Path:      "users/users.parquet",
		KeyColumn: "user_id",
		Schema:    new(types.User),
	}

	TimeTable = engine.Table{
		Name:        "time",
		Path:        "time/time.parquet",
		PartitionBy: []string{"year", "month"},
		KeyColumn:   "start_time",
		Schema:      new(types.Time),
	}

	SongplaysTable = engine.Table{
		Name:        "songplays",
		Path:        "songplays/songplays.parquet",
		PartitionBy: []string{"year", "month"},
		KeyColumn:   "songplay_id",
		Schema:      new(types.Songplay),
	}
)
