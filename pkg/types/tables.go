// Package types provides the record and schema types shared by the Sparkify ETL packages.
package types

// Parquet record layouts for the five output tables. Partition columns are
// carried in the directory path, so they do not appear here. Every column is
// nullable except the surrogate songplay_id.

// Song is a row of songs.parquet, partitioned by year and artist_id.
type Song struct {
	SongID   *string  `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Title    *string  `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Duration *float64 `parquet:"name=duration, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// Artist is a row of artists.parquet.
type Artist struct {
	ArtistID  *string  `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Name      *string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Location  *string  `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Latitude  *float64 `parquet:"name=latitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	Longitude *float64 `parquet:"name=longitude, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// User is a row of users.parquet.
type User struct {
	UserID    *string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	FirstName *string `parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	LastName  *string `parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Gender    *string `parquet:"name=gender, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Level     *string `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// Time is a row of time.parquet, partitioned by year and month.
type Time struct {
	StartTime *string `parquet:"name=start_time, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Hour      *int32  `parquet:"name=hour, type=INT32, repetitiontype=OPTIONAL"`
	Day       *int32  `parquet:"name=day, type=INT32, repetitiontype=OPTIONAL"`
	Week      *int32  `parquet:"name=week, type=INT32, repetitiontype=OPTIONAL"`
	Weekday   *int32  `parquet:"name=weekday, type=INT32, repetitiontype=OPTIONAL"`
}

// Songplay is a row of songplays.parquet, partitioned by year and month.
type Songplay struct {
	SongplayID int64   `parquet:"name=songplay_id, type=INT64"`
	StartTime  *string `parquet:"name=start_time, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UserID     *string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Level      *string `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SongID     *string `parquet:"name=song_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArtistID   *string `parquet:"name=artist_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SessionID  *int64  `parquet:"name=session_id, type=INT64, repetitiontype=OPTIONAL"`
	Location   *string `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UserAgent  *string `parquet:"name=user_agent, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}
