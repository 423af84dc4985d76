// Package observability tracks per-run statistics for the ETL job.
package observability

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Data-quality counters. They describe artifacts the pipeline accepts
// silently; none of them fails a run.
const (
	// QualityUnmatchedPlays counts NextSong events whose artist matched no catalog entry.
	QualityUnmatchedPlays = "unmatched_song_plays"
	// QualityMultiLevelUsers counts user IDs that appear with more than one level.
	QualityMultiLevelUsers = "multi_level_users"
	// QualityDuplicateArtistIDs counts artist IDs with more than one distinct row.
	QualityDuplicateArtistIDs = "duplicate_artist_ids"
)

// TableStats holds the outcome of one table write.
type TableStats struct {
	Table      string
	Rows       int64
	Partitions int64
	Files      int64
	Bytes      int64
	Duration   time.Duration
}

// LoadStats holds the outcome of one staging load.
type LoadStats struct {
	Table    string
	Files    int64
	Rows     int64
	Duration time.Duration
}

// RunStats collects statistics for a single pipeline run. It is safe for
// concurrent use.
type RunStats struct {
	mu      sync.RWMutex
	started time.Time
	order   []string
	tables  map[string]*TableStats
	loads   []LoadStats
	quality map[string]int64
}

// NewRunStats creates a new run statistics tracker.
func NewRunStats() *RunStats {
	return &RunStats{
		started: time.Now(),
		tables:  make(map[string]*TableStats),
		quality: make(map[string]int64),
	}
}

// RecordTable records a completed table write. Recording the same table
// twice replaces the earlier entry.
func (r *RunStats) RecordTable(s TableStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tables[s.Table]; !exists {
		r.order = append(r.order, s.Table)
	}
	r.tables[s.Table] = &s
}

// RecordLoad records a completed staging load.
func (r *RunStats) RecordLoad(s LoadStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, s)
}

// AddQuality adds n to a data-quality counter.
func (r *RunStats) AddQuality(counter string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quality[counter] += n
}

// Table returns a copy of the stats for one table.
func (r *RunStats) Table(name string) (TableStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.tables[name]
	if !ok {
		return TableStats{}, false
	}
	return *s, true
}

// Tables returns copies of all table stats in write order.
func (r *RunStats) Tables() []TableStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TableStats, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.tables[name])
	}
	return out
}

// Loads returns copies of all load stats in load order.
func (r *RunStats) Loads() []LoadStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LoadStats, len(r.loads))
	copy(out, r.loads)
	return out
}

// Quality returns a copy of the data-quality counters.
func (r *RunStats) Quality() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.quality))
	for k, v := range r.quality {
		out[k] = v
	}
	return out
}

// Elapsed returns the time since the run started.
func (r *RunStats) Elapsed() time.Duration {
	return time.Since(r.started)
}

// Log writes a run summary: one line per table, then the totals.
func (r *RunStats) Log(logger *zap.Logger) {
	var totalRows, totalBytes int64
	for _, t := range r.Tables() {
		logger.Info("table summary",
			zap.String("table", t.Table),
			zap.Int64("rows", t.Rows),
			zap.Int64("partitions", t.Partitions),
			zap.Int64("files", t.Files),
			zap.Int64("bytes", t.Bytes),
			zap.Duration("duration", t.Duration),
		)
		totalRows += t.Rows
		totalBytes += t.Bytes
	}

	quality := r.Quality()
	names := make([]string, 0, len(quality))
	for k := range quality {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := []zap.Field{
		zap.Int64("rows", totalRows),
		zap.Int64("bytes", totalBytes),
		zap.Duration("elapsed", r.Elapsed()),
	}
	for _, k := range names {
		fields = append(fields, zap.Int64(k, quality[k]))
	}
	logger.Info("run summary", fields...)
}
