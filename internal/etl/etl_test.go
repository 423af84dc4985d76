package etl

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/sparkify/datalake/internal/config"
	"github.com/sparkify/datalake/internal/engine"
	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/observability"
	"github.com/sparkify/datalake/internal/partition"
	"github.com/sparkify/datalake/internal/storage"
	"github.com/sparkify/datalake/pkg/types"
)

type record = map[string]interface{}

// fixture is a local input root, output root and work dir for one test.
type fixture struct {
	t    *testing.T
	in   string
	out  string
	work string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{t: t, in: t.TempDir(), out: t.TempDir(), work: t.TempDir()}
}

func (f *fixture) write(rel string, records ...record) {
	f.t.Helper()
	var b strings.Builder
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			f.t.Fatal(err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	p := filepath.Join(f.in, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		f.t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(b.String()), 0644); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) song(rel string, r record) {
	f.write("song_data/"+rel, r)
}

func (f *fixture) logs(name string, events ...record) {
	f.write("log-data/"+name, events...)
}

func (f *fixture) config() *config.Config {
	f.t.Helper()
	cfg := config.DefaultConfig()
	cfg.InputData = f.in
	cfg.OutputData = f.out
	cfg.WorkDir = f.work
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		f.t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

func (f *fixture) run(mods ...func(*config.Config)) *observability.RunStats {
	f.t.Helper()
	cfg := f.config()
	for _, mod := range mods {
		mod(cfg)
	}
	p := NewPipeline(cfg, zap.NewNop())
	if err := p.Run(context.Background()); err != nil {
		f.t.Fatalf("Run failed: %v", err)
	}
	return p.Stats()
}

func (f *fixture) exists(rel ...string) bool {
	_, err := os.Stat(filepath.Join(append([]string{f.out}, rel...)...))
	return err == nil
}

func readTable[T any](t *testing.T, out string, table engine.Table) []engine.TableRow[T] {
	t.Helper()
	s, err := engine.NewSession(context.Background(), engine.Options{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer s.Close()

	loc, err := storage.ParseLocation(out)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := engine.ReadTable[T](context.Background(), s, loc, table.Path)
	if err != nil {
		t.Fatalf("ReadTable(%s) failed: %v", table.Name, err)
	}
	return rows
}

// mustLen fails the test unless rows has exactly n entries.
func mustLen[T any](t *testing.T, rows []engine.TableRow[T], n int) {
	t.Helper()
	if len(rows) != n {
		t.Fatalf("expected %d rows, got %d", n, len(rows))
	}
}

func partitionValue[T any](t *testing.T, row engine.TableRow[T], column string) string {
	t.Helper()
	v, ok := row.PartitionValue(column)
	if !ok {
		t.Fatalf("partition column %s not set", column)
	}
	return v
}

func princeSong() record {
	return record{
		"num_songs":        1,
		"song_id":          "S1",
		"artist_id":        "A1",
		"artist_name":      "Prince",
		"year":             1999,
		"duration":         180.0,
		"artist_location":  "MN",
		"artist_latitude":  44.9,
		"artist_longitude": -93.2,
		"title":            "1999",
	}
}

func songFor(id, artistID, artistName string, year int) record {
	r := princeSong()
	r["song_id"] = id
	r["artist_id"] = artistID
	r["artist_name"] = artistName
	r["year"] = year
	r["title"] = "title-" + id
	return r
}

func play(userID string, sessionID int, ts int64, artist string) record {
	return record{
		"artist":        artist,
		"auth":          "Logged In",
		"firstName":     "A",
		"gender":        "F",
		"itemInSession": 0,
		"lastName":      "B",
		"length":        180.0,
		"level":         "free",
		"location":      "X",
		"method":        "PUT",
		"page":          "NextSong",
		"registration":  1540919166796.0,
		"sessionId":     sessionID,
		"song":          "1999",
		"status":        200,
		"ts":            ts,
		"userAgent":     "UA",
		"userId":        userID,
	}
}

func pageView(userID string, page string, ts int64) record {
	r := play(userID, 99, ts, "")
	r["artist"] = nil
	r["song"] = nil
	r["length"] = nil
	r["page"] = page
	r["method"] = "GET"
	return r
}

func ptr[T any](v T) *T { return &v }

func TestPipeline_PrinceExample(t *testing.T) {
	f := newFixture(t)
	f.song("A/B/C/S1.json", princeSong())
	f.logs("2018-11-01-events.json", record{
		"page": "NextSong", "artist": "Prince", "ts": 915148800000, "userId": "7",
		"firstName": "A", "lastName": "B", "gender": "F", "level": "free",
		"sessionId": 1, "location": "X", "userAgent": "UA",
	})

	stats := f.run()

	songs := readTable[types.Song](t, f.out, SongsTable)
	mustLen(t, songs, 1)
	song := songs[0].Record
	if *song.SongID != "S1" || *song.Title != "1999" || *song.Duration != 180.0 {
		t.Errorf("unexpected song %+v", song)
	}
	if y, a := partitionValue(t, songs[0], "year"), partitionValue(t, songs[0], "artist_id"); y != "1999" || a != "A1" {
		t.Errorf("song partition = year=%s artist_id=%s", y, a)
	}

	artists := readTable[types.Artist](t, f.out, ArtistsTable)
	mustLen(t, artists, 1)
	wantArtist := types.Artist{
		ArtistID:  ptr("A1"),
		Name:      ptr("Prince"),
		Location:  ptr("MN"),
		Latitude:  ptr(44.9),
		Longitude: ptr(-93.2),
	}
	if !reflect.DeepEqual(artists[0].Record, wantArtist) {
		t.Errorf("artist = %+v, want %+v", artists[0].Record, wantArtist)
	}

	users := readTable[types.User](t, f.out, UsersTable)
	mustLen(t, users, 1)
	if *users[0].Record.UserID != "7" || *users[0].Record.Level != "free" {
		t.Errorf("unexpected user %+v", users[0].Record)
	}

	times := readTable[types.Time](t, f.out, TimeTable)
	mustLen(t, times, 1)
	wantTime := types.Time{
		StartTime: ptr("1999-01-01 00:00:00"),
		Hour:      ptr(int32(0)),
		Day:       ptr(int32(1)),
		Week:      ptr(int32(53)),
		Weekday:   ptr(int32(6)),
	}
	if !reflect.DeepEqual(times[0].Record, wantTime) {
		t.Errorf("time = %+v, want %+v", times[0].Record, wantTime)
	}
	if y, m := partitionValue(t, times[0], "year"), partitionValue(t, times[0], "month"); y != "1999" || m != "1" {
		t.Errorf("time partition = year=%s month=%s", y, m)
	}

	plays := readTable[types.Songplay](t, f.out, SongplaysTable)
	mustLen(t, plays, 1)
	p := plays[0].Record
	if p.SongplayID != 1 || *p.SongID != "S1" || *p.ArtistID != "A1" || *p.UserID != "7" || *p.SessionID != 1 {
		t.Errorf("unexpected songplay %+v", p)
	}
	if *p.StartTime != "1999-01-01 00:00:00" {
		t.Errorf("songplay start_time = %q", *p.StartTime)
	}
	if y := partitionValue(t, plays[0], "year"); y != "1999" {
		t.Errorf("songplay year partition = %s", y)
	}

	if n := stats.Quality()[observability.QualityUnmatchedPlays]; n != 0 {
		t.Errorf("unmatched plays = %d", n)
	}
	if n := len(stats.Tables()); n != 5 {
		t.Errorf("expected 5 table stats, got %d", n)
	}

	for _, table := range []engine.Table{SongsTable, ArtistsTable, UsersTable, TimeTable, SongplaysTable} {
		dir := filepath.FromSlash(table.Path)
		if !f.exists(dir, partition.SuccessMarker) || !f.exists(dir, partition.MetadataFile) {
			t.Errorf("%s: missing marker or sidecar", table.Name)
		}
	}
}

func TestPipeline_DroppedJoin(t *testing.T) {
	f := newFixture(t)
	f.song("A/B/C/S1.json", princeSong())
	f.logs("2018-11-01-events.json",
		play("7", 1, 915148800000, "Prince"),
		play("7", 1, 915148801000, "Unknown Artist"),
	)

	stats := f.run()

	plays := readTable[types.Songplay](t, f.out, SongplaysTable)
	mustLen(t, plays, 1)
	if *plays[0].Record.SongID != "S1" {
		t.Errorf("song_id = %s", *plays[0].Record.SongID)
	}
	if n := stats.Quality()[observability.QualityUnmatchedPlays]; n != 1 {
		t.Errorf("unmatched plays = %d, want 1", n)
	}

	// Both plays still reach the time table.
	mustLen(t, readTable[types.Time](t, f.out, TimeTable), 2)
}

func TestPipeline_EmptyJoinIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.song("A/B/C/S1.json", princeSong())
	f.logs("2018-11-01-events.json", play("7", 1, 915148800000, "Unknown Artist"))

	stats := f.run()

	mustLen(t, readTable[types.Songplay](t, f.out, SongplaysTable), 0)
	if !f.exists("songplays", "songplays.parquet", partition.SuccessMarker) ||
		!f.exists("songplays", "songplays.parquet", partition.MetadataFile) {
		t.Error("empty songplays table missing marker or sidecar")
	}

	st, ok := stats.Table("songplays")
	if !ok {
		t.Fatal("no stats for songplays")
	}
	if st.Rows != 0 || st.Files != 0 {
		t.Errorf("unexpected songplays stats %+v", st)
	}
}

func TestPipeline_NextSongFilter(t *testing.T) {
	f := newFixture(t)
	f.song("A/B/C/S1.json", princeSong())
	f.logs("2018-11-01-events.json",
		pageView("3", "Home", 915148700000),
		play("7", 1, 915148800000, "Prince"),
		// A non-play event naming a catalog artist must not become a songplay.
		func() record { r := play("8", 2, 915148900000, "Prince"); r["page"] = "Logout"; return r }(),
	)

	f.run()

	times := readTable[types.Time](t, f.out, TimeTable)
	mustLen(t, times, 1)
	if got := *times[0].Record.StartTime; got != "1999-01-01 00:00:00" {
		t.Errorf("start_time = %q", got)
	}

	plays := readTable[types.Songplay](t, f.out, SongplaysTable)
	mustLen(t, plays, 1)
	if *plays[0].Record.UserID != "7" {
		t.Errorf("user_id = %s", *plays[0].Record.UserID)
	}

	// Users come from every event, not only plays.
	var ids []string
	for _, u := range readTable[types.User](t, f.out, UsersTable) {
		ids = append(ids, *u.Record.UserID)
	}
	sort.Strings(ids)
	if want := []string{"3", "7", "8"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("user ids = %v, want %v", ids, want)
	}
}

func TestPipeline_PlaysWithinOneSecond(t *testing.T) {
	f := newFixture(t)
	f.song("A/B/C/S1.json", princeSong())
	f.logs("2018-11-15-events.json",
		play("7", 1, 1542241826796, "Prince"),
		play("7", 1, 1542241826100, "Prince"),
	)

	f.run()

	var starts []string
	for _, tr := range readTable[types.Time](t, f.out, TimeTable) {
		starts = append(starts, *tr.Record.StartTime)
	}
	sort.Strings(starts)
	want := []string{"2018-11-15 00:30:26.100000", "2018-11-15 00:30:26.796000"}
	if !reflect.DeepEqual(starts, want) {
		t.Errorf("time start_times = %v, want %v", starts, want)
	}

	plays := readTable[types.Songplay](t, f.out, SongplaysTable)
	mustLen(t, plays, 2)
	byID := map[int64]string{}
	for _, p := range plays {
		byID[p.Record.SongplayID] = *p.Record.StartTime
		if y, m := partitionValue(t, p, "year"), partitionValue(t, p, "month"); y != "2018" || m != "11" {
			t.Errorf("songplay partition = year=%s month=%s", y, m)
		}
	}
	if byID[1] != want[0] || byID[2] != want[1] {
		t.Errorf("songplay start_times by id = %v", byID)
	}
}

func TestPipeline_ArtistDistinctness(t *testing.T) {
	f := newFixture(t)
	f.song("A/A/A/S1.json", songFor("S1", "A1", "Prince", 1999))
	f.song("A/A/B/S2.json", songFor("S2", "A1", "Prince", 1982))
	moved := songFor("S3", "A1", "Prince", 0)
	moved["artist_location"] = "Minneapolis"
	f.song("A/A/C/S3.json", moved)
	f.logs("2018-11-01-events.json", play("7", 1, 915148800000, "Nobody"))

	stats := f.run()

	artists := readTable[types.Artist](t, f.out, ArtistsTable)
	mustLen(t, artists, 2)
	if *artists[0].Record.Location != "MN" || *artists[1].Record.Location != "Minneapolis" {
		t.Errorf("artist locations = %s, %s", *artists[0].Record.Location, *artists[1].Record.Location)
	}
	if n := stats.Quality()[observability.QualityDuplicateArtistIDs]; n != 1 {
		t.Errorf("duplicate artist ids = %d, want 1", n)
	}

	songs := readTable[types.Song](t, f.out, SongsTable)
	mustLen(t, songs, 3)
	years := map[string]string{}
	for _, s := range songs {
		years[*s.Record.SongID] = partitionValue(t, s, "year")
		if a := partitionValue(t, s, "artist_id"); a != "A1" {
			t.Errorf("artist_id partition = %s", a)
		}
	}
	if want := map[string]string{"S1": "1999", "S2": "1982", "S3": "0"}; !reflect.DeepEqual(years, want) {
		t.Errorf("year partitions = %v, want %v", years, want)
	}
}

func TestPipeline_MultiLevelUsers(t *testing.T) {
	f := newFixture(t)
	f.song("A/B/C/S1.json", princeSong())
	paid := play("7", 2, 915148900000, "Prince")
	paid["level"] = "paid"
	f.logs("2018-11-01-events.json",
		play("7", 1, 915148800000, "Prince"),
		play("7", 1, 915148850000, "Prince"),
		paid,
	)

	stats := f.run()

	users := readTable[types.User](t, f.out, UsersTable)
	mustLen(t, users, 2)
	if *users[0].Record.Level != "free" || *users[1].Record.Level != "paid" {
		t.Errorf("levels = %s, %s", *users[0].Record.Level, *users[1].Record.Level)
	}
	if n := stats.Quality()[observability.QualityMultiLevelUsers]; n != 1 {
		t.Errorf("multi-level users = %d, want 1", n)
	}
}

func TestPipeline_NumericUserID(t *testing.T) {
	f := newFixture(t)
	f.song("A/B/C/S1.json", princeSong())
	r := play("", 1, 915148800000, "Prince")
	r["userId"] = 42
	f.logs("2018-11-01-events.json", r)

	f.run()

	plays := readTable[types.Songplay](t, f.out, SongplaysTable)
	mustLen(t, plays, 1)
	if *plays[0].Record.UserID != "42" {
		t.Errorf("user_id = %q, want \"42\"", *plays[0].Record.UserID)
	}
}

func TestPipeline_OverwriteReplaces(t *testing.T) {
	f := newFixture(t)
	f.song("A/A/A/S1.json", princeSong())
	f.song("A/A/B/S2.json", songFor("S2", "A2", "Other", 2000))
	f.logs("2018-11-01-events.json",
		play("7", 1, 915148800000, "Prince"),
		play("8", 2, 946684800000, "Other"),
	)

	f.run()
	first := readTable[types.Songplay](t, f.out, SongplaysTable)
	f.run()
	second := readTable[types.Songplay](t, f.out, SongplaysTable)
	if !reflect.DeepEqual(sortedPlays(first), sortedPlays(second)) {
		t.Errorf("rerun changed songplays:\n%+v\n%+v", records(first), records(second))
	}
	mustLen(t, readTable[types.Song](t, f.out, SongsTable), 2)

	if err := os.Remove(filepath.Join(f.in, "song_data", "A", "A", "B", "S2.json")); err != nil {
		t.Fatal(err)
	}
	f.run()

	songs := readTable[types.Song](t, f.out, SongsTable)
	mustLen(t, songs, 1)
	if *songs[0].Record.SongID != "S1" {
		t.Errorf("song_id = %s", *songs[0].Record.SongID)
	}

	plays := readTable[types.Songplay](t, f.out, SongplaysTable)
	mustLen(t, plays, 1)
	if y := partitionValue(t, plays[0], "year"); y != "1999" {
		t.Errorf("year partition = %s", y)
	}
}

func records[T any](rows []engine.TableRow[T]) []T {
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out
}

func sortedPlays(rows []engine.TableRow[types.Songplay]) []types.Songplay {
	plays := records(rows)
	sort.Slice(plays, func(i, j int) bool { return plays[i].SongplayID < plays[j].SongplayID })
	return plays
}

func TestPipeline_DeterministicSongplayIDs(t *testing.T) {
	f := newFixture(t)
	f.song("A/A/A/S1.json", princeSong())
	f.song("A/A/B/S9.json", songFor("S9", "A9", "Prince", 1984))
	f.logs("2018-11-01-events.json",
		play("2", 2, 3000, "Prince"),
		play("1", 1, 2000, "Prince"),
	)
	f.logs("2018-11-02-events.json",
		play("1", 1, 1000, "Prince"),
		play("1", 1, 1000, "Prince"),
	)

	type key struct {
		id      int64
		ts      string
		session int64
		song    string
	}
	collect := func() []key {
		var keys []key
		for _, p := range readTable[types.Songplay](t, f.out, SongplaysTable) {
			keys = append(keys, key{p.Record.SongplayID, *p.Record.StartTime, *p.Record.SessionID, *p.Record.SongID})
		}
		return keys
	}

	f.run()
	got := collect()
	f.run()
	if again := collect(); !reflect.DeepEqual(got, again) {
		t.Errorf("ids changed between runs:\n%v\n%v", got, again)
	}

	// Two plays per event: every event matches both catalog rows for Prince.
	want := []key{
		{1, "1970-01-01 00:00:01", 1, "S1"},
		{2, "1970-01-01 00:00:01", 1, "S9"},
		{3, "1970-01-01 00:00:01", 1, "S1"},
		{4, "1970-01-01 00:00:01", 1, "S9"},
		{5, "1970-01-01 00:00:02", 1, "S1"},
		{6, "1970-01-01 00:00:02", 1, "S9"},
		{7, "1970-01-01 00:00:03", 2, "S1"},
		{8, "1970-01-01 00:00:03", 2, "S9"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("songplays = %v, want %v", got, want)
	}
}

func TestPipeline_ReuseSongCatalog(t *testing.T) {
	f := newFixture(t)
	f.song("A/B/C/S1.json", princeSong())
	f.logs("2018-11-01-events.json", play("7", 1, 915148800000, "Prince"))

	stats := f.run()
	if n := len(stats.Loads()); n != 3 {
		t.Errorf("expected 3 loads, got %d", n)
	}
	reread := records(readTable[types.Songplay](t, f.out, SongplaysTable))

	stats = f.run(func(cfg *config.Config) { cfg.Engine.ReuseSongCatalog = true })
	if n := len(stats.Loads()); n != 2 {
		t.Fatalf("expected 2 loads, got %d", n)
	}
	for _, l := range stats.Loads() {
		if l.Table == SongCatalogTable {
			t.Errorf("song catalog staged again")
		}
	}
	if reused := records(readTable[types.Songplay](t, f.out, SongplaysTable)); !reflect.DeepEqual(reread, reused) {
		t.Errorf("songplays differ: %+v vs %+v", reread, reused)
	}
}

func TestPipeline_VerifyOutput(t *testing.T) {
	f := newFixture(t)
	f.song("A/A/A/S1.json", princeSong())
	f.song("A/A/B/S2.json", songFor("S2", "A2", "Other", 2000))
	f.logs("2018-11-01-events.json",
		pageView("3", "Home", 915148700000),
		play("7", 1, 915148800000, "Prince"),
		play("8", 2, 946684800500, "Other"),
		play("9", 3, 946684800000, "Unknown Artist"),
	)

	stats := f.run(func(cfg *config.Config) { cfg.Engine.VerifyOutput = true })

	if n := len(stats.Tables()); n != 5 {
		t.Errorf("expected 5 table stats, got %d", n)
	}
	mustLen(t, readTable[types.Songplay](t, f.out, SongplaysTable), 2)
}

func TestPipeline_Failures(t *testing.T) {
	t.Run("no song input", func(t *testing.T) {
		f := newFixture(t)
		f.logs("2018-11-01-events.json", play("7", 1, 915148800000, "Prince"))

		err := NewPipeline(f.config(), nil).Run(context.Background())
		if code := pipelineerrors.GetCode(err); code != pipelineerrors.CodeNoInput {
			t.Errorf("expected %s, got %v", pipelineerrors.CodeNoInput, err)
		}
	})

	t.Run("no log input", func(t *testing.T) {
		f := newFixture(t)
		f.song("A/B/C/S1.json", princeSong())

		err := NewPipeline(f.config(), nil).Run(context.Background())
		if code := pipelineerrors.GetCode(err); code != pipelineerrors.CodeNoInput {
			t.Errorf("expected %s, got %v", pipelineerrors.CodeNoInput, err)
		}

		// The song catalog step already completed and is not rolled back.
		if !f.exists("songs", "songs.parquet", partition.SuccessMarker) {
			t.Error("songs table was rolled back")
		}
	})

	t.Run("missing column", func(t *testing.T) {
		f := newFixture(t)
		r := princeSong()
		delete(r, "artist_name")
		f.song("A/B/C/S1.json", r)

		err := NewPipeline(f.config(), nil).Run(context.Background())
		if pipelineerrors.GetCategory(err) != pipelineerrors.ErrCategorySchema ||
			pipelineerrors.GetCode(err) != pipelineerrors.CodeMissingColumn {
			t.Errorf("expected %s, got %v", pipelineerrors.CodeMissingColumn, err)
		}
	})

	t.Run("missing credentials for remote output", func(t *testing.T) {
		f := newFixture(t)
		cfg := f.config()
		cfg.OutputData = "s3a://output-data"
		cfg.CredentialsFile = filepath.Join(t.TempDir(), "dl.cfg")

		err := NewPipeline(cfg, nil).Run(context.Background())
		if code := pipelineerrors.GetCode(err); code != pipelineerrors.CodeMissingFile {
			t.Errorf("expected %s, got %v", pipelineerrors.CodeMissingFile, err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t)
		f.song("A/B/C/S1.json", princeSong())
		f.logs("2018-11-01-events.json", play("7", 1, 915148800000, "Prince"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := NewPipeline(f.config(), nil).Run(ctx); err == nil {
			t.Error("expected an error for a cancelled context")
		}
	})
}
