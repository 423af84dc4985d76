package partition

// StatsTracker tracks row count and key range while a part file is built.
type StatsTracker struct {
	rowCount int64
	nullKeys int64

	minKey *string
	maxKey *string
}

// NewStatsTracker creates a new statistics tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// Update records one row with the given key. An empty key counts as NULL.
func (s *StatsTracker) Update(key string) {
	s.rowCount++

	if key == "" {
		s.nullKeys++
		return
	}

	// Lexicographic comparison
	if s.minKey == nil || key < *s.minKey {
		k := key
		s.minKey = &k
	}
	if s.maxKey == nil || key > *s.maxKey {
		k := key
		s.maxKey = &k
	}
}

// MinMax returns the key range, or nil when no non-null key was seen.
func (s *StatsTracker) MinMax() *MinMax {
	if s.minKey == nil {
		return nil
	}
	return &MinMax{Min: *s.minKey, Max: *s.maxKey}
}

// RowCount returns the number of rows tracked.
func (s *StatsTracker) RowCount() int64 {
	return s.rowCount
}

// NullKeys returns the number of rows with a NULL key.
func (s *StatsTracker) NullKeys() int64 {
	return s.nullKeys
}
