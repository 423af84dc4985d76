package etl

import (
	"fmt"
	"strings"
)

// millisExpr is the millisecond part of ts, in [0, 1000) also before the
// epoch.
const millisExpr = "((ts % 1000) + 1000) % 1000"

// timestampExpr is ts in whole epoch seconds, rounded down.
const timestampExpr = "(ts - " + millisExpr + ") / 1000"

// startTimeExpr turns the millisecond epoch into a UTC calendar timestamp.
// Whole seconds render as YYYY-MM-DD HH:MM:SS; otherwise the fraction is
// appended as six digits (.796000), so plays within one second stay apart.
const startTimeExpr = "datetime(" + timestampExpr + ", 'unixepoch') || " +
	"CASE WHEN " + millisExpr + " = 0 THEN '' ELSE printf('.%06d', " + millisExpr + " * 1000) END"

// timeParts returns the select list decomposing a datetime expression.
// week is the ISO-8601 week: the week number of the Thursday in the same
// Monday-based week. weekday runs from 1 (Sunday) to 7 (Saturday).
func timeParts(dt string) string {
	parts := []string{
		fmt.Sprintf("CAST(strftime('%%H', %s) AS INTEGER) AS hour", dt),
		fmt.Sprintf("CAST(strftime('%%d', %s) AS INTEGER) AS day", dt),
		fmt.Sprintf("(CAST(strftime('%%j', date(%s, '-3 days', 'weekday 4')) AS INTEGER) - 1) / 7 + 1 AS week", dt),
		fmt.Sprintf("CAST(strftime('%%m', %s) AS INTEGER) AS month", dt),
		fmt.Sprintf("CAST(strftime('%%Y', %s) AS INTEGER) AS year", dt),
		fmt.Sprintf("CAST(strftime('%%w', %s) AS INTEGER) + 1 AS weekday", dt),
	}
	return strings.Join(parts, ",\n\t")
}

const songsQuery = `SELECT song_id, title, artist_id, year, duration
FROM song_staging
ORDER BY _seq`

// artistsQuery is a full-row DISTINCT; GROUP BY keeps first-arrival order.
const artistsQuery = `SELECT artist_id, artist_name, artist_location, artist_latitude, artist_longitude
FROM song_staging
GROUP BY artist_id, artist_name, artist_location, artist_latitude, artist_longitude
ORDER BY MIN(_seq)`

// duplicateArtistIDsQuery counts artist_ids spread over more than one
// artists row.
const duplicateArtistIDsQuery = `SELECT COUNT(*) FROM (
	SELECT artist_id FROM (
		SELECT DISTINCT artist_id, artist_name, artist_location, artist_latitude, artist_longitude
		FROM song_staging
	)
	GROUP BY artist_id
	HAVING COUNT(*) > 1
)`

// usersQuery runs over every log row, not only song plays.
const usersQuery = `SELECT user_id, first_name, last_name, gender, level
FROM log_staging
GROUP BY user_id, first_name, last_name, gender, level
ORDER BY MIN(_seq)`

const multiLevelUsersQuery = `SELECT COUNT(*) FROM (
	SELECT user_id FROM (
		SELECT DISTINCT user_id, first_name, last_name, gender, level
		FROM log_staging
	)
	GROUP BY user_id
	HAVING COUNT(DISTINCT level) > 1
)`

var filteredLogsView = `CREATE VIEW filtered_logs AS
SELECT *,
	` + timestampExpr + ` AS timestamp,
	` + startTimeExpr + ` AS start_time
FROM log_staging
WHERE page = 'NextSong'`

var timeQuery = `SELECT start_time,
	` + timeParts("start_time") + `
FROM (SELECT DISTINCT start_time FROM filtered_logs WHERE start_time IS NOT NULL)
ORDER BY start_time`

// songplaysQuery joins song plays to the catalog by artist name. The
// surrogate key orders by session, then play time, then the arrival order
// of the log row and of the catalog row, so numbering is stable across runs.
func songplaysQuery(catalog string) string {
	return fmt.Sprintf(`SELECT
	row_number() OVER (ORDER BY l.session_id, l.ts, l._seq, s._seq) AS songplay_id,
	l.start_time, l.user_id, l.level, s.song_id, s.artist_id,
	l.session_id, l.location, l.user_agent,
	CAST(strftime('%%Y', l.start_time) AS INTEGER) AS year,
	CAST(strftime('%%m', l.start_time) AS INTEGER) AS month
FROM filtered_logs l
JOIN %s s ON l.artist = s.artist_name
ORDER BY songplay_id`, catalog)
}

func unmatchedPlaysQuery(catalog string) string {
	return fmt.Sprintf(`SELECT COUNT(*) FROM filtered_logs l
WHERE NOT EXISTS (SELECT 1 FROM %s s WHERE s.artist_name = l.artist)`, catalog)
}
