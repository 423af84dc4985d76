// Package engine is the execution engine of the ETL job: an embedded SQLite
// database that JSON input is staged into and queried from, plus the storage
// connectors that move data in and out of it.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/storage"
)

// Options configures a session.
type Options struct {
	// WorkDir is the base directory; each session works in its own run-* subdirectory
	WorkDir string

	// DBPath overrides the database location (default: <run dir>/engine.db)
	DBPath string

	// Credentials are injected into every S3 connector. Nil falls back to
	// the SDK default chain.
	Credentials *storage.Credentials

	// S3 holds region, endpoint and multipart settings for S3 connectors
	S3 storage.S3Config

	// Concurrency bounds parallel downloads and uploads
	Concurrency int

	// Logger receives engine logs (default: no-op)
	Logger *zap.Logger
}

// Session is a handle on the execution engine. A session is used by one
// pipeline run at a time; the database has a single connection.
type Session struct {
	db     *sql.DB
	runDir string
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	connectors map[string]storage.ObjectStorage
	staged     map[string]string
}

// NewSession opens the database and prepares the run directory.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "sparkify-etl")
	}

	if err := os.MkdirAll(opts.WorkDir, 0755); err != nil {
		return nil, pipelineerrors.NewEngineError(pipelineerrors.CodeSessionFailed,
			"failed to create work directory", err)
	}
	runDir, err := os.MkdirTemp(opts.WorkDir, "run-*")
	if err != nil {
		return nil, pipelineerrors.NewEngineError(pipelineerrors.CodeSessionFailed,
			"failed to create run directory", err)
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(runDir, "engine.db")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		os.RemoveAll(runDir)
		return nil, pipelineerrors.NewEngineError(pipelineerrors.CodeSessionFailed,
			"failed to open engine database", err)
	}
	db.SetMaxOpenConns(1)

	s := &Session{
		db:         db,
		runDir:     runDir,
		opts:       opts,
		logger:     opts.Logger,
		connectors: make(map[string]storage.ObjectStorage),
		staged:     make(map[string]string),
	}

	if err := s.init(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("engine session started",
		zap.String("run_dir", runDir),
		zap.String("db_path", dbPath),
		zap.Int("concurrency", opts.Concurrency),
	)
	return s, nil
}

// init tunes the database for bulk staging and checks that the SQLite build
// supports the window and date functions the extraction queries rely on.
func (s *Session) init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=OFF",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return pipelineerrors.NewEngineError(pipelineerrors.CodeSessionFailed,
				"failed to configure engine", err).WithDetails(map[string]interface{}{"pragma": p})
		}
	}

	var n int64
	var hour string
	probe := `SELECT row_number() OVER (ORDER BY x), strftime('%H', datetime(0, 'unixepoch')) FROM (SELECT 1 AS x)`
	if err := s.db.QueryRowContext(ctx, probe).Scan(&n, &hour); err != nil {
		return pipelineerrors.NewEngineError(pipelineerrors.CodeSessionFailed,
			"engine lacks window or date function support", err)
	}
	return nil
}

// DB returns the engine database.
func (s *Session) DB() *sql.DB {
	return s.db
}

// RunDir returns the session's private scratch directory.
func (s *Session) RunDir() string {
	return s.runDir
}

// Logger returns the session logger.
func (s *Session) Logger() *zap.Logger {
	return s.logger
}

// Concurrency returns the transfer concurrency.
func (s *Session) Concurrency() int {
	return s.opts.Concurrency
}

// Storage returns the connector for a location, creating it on first use.
// Locations in the same bucket or root share a connector.
func (s *Session) Storage(ctx context.Context, loc storage.Location) (storage.ObjectStorage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := loc.ConnectorKey()
	if conn, ok := s.connectors[key]; ok {
		return conn, nil
	}

	var conn storage.ObjectStorage
	switch loc.Scheme {
	case storage.SchemeS3:
		cfg := s.opts.S3
		cfg.Credentials = s.opts.Credentials
		if cfg.MultipartConfig.PartSize == 0 {
			cfg.MultipartConfig = storage.DefaultMultipartConfig()
		}
		s3Store, err := storage.NewS3Storage(ctx, loc.Bucket, cfg)
		if err != nil {
			return nil, pipelineerrors.NewEngineError(pipelineerrors.CodeSessionFailed,
				"failed to create S3 connector for "+loc.Bucket, err)
		}
		conn = s3Store
	case storage.SchemeLocal:
		local, err := storage.NewLocalStorage(loc.Root)
		if err != nil {
			return nil, pipelineerrors.NewEngineError(pipelineerrors.CodeSessionFailed,
				"failed to open local storage at "+loc.Root, err)
		}
		conn = local
	default:
		return nil, pipelineerrors.NewEngineError(pipelineerrors.CodeSessionFailed,
			fmt.Sprintf("no connector for scheme %q", loc.Scheme), nil)
	}

	s.connectors[key] = conn
	s.logger.Debug("storage connector created", zap.String("connector", key))
	return conn, nil
}

// SetStorage registers a connector for a location, replacing any existing
// one. Tests use it to substitute storage backends.
func (s *Session) SetStorage(loc storage.Location, conn storage.ObjectStorage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[loc.ConnectorKey()] = conn
}

// markStaged records that the input addressed by source was loaded into table.
func (s *Session) markStaged(source, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[source] = table
}

// StagedTable returns the staging table already holding the input addressed
// by source, if any.
func (s *Session) StagedTable(source string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.staged[source]
	return t, ok
}

// Exec runs a statement against the engine.
func (s *Session) Exec(ctx context.Context, query string, args ...interface{}) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return pipelineerrors.NewEngineError(pipelineerrors.CodeQueryFailed, "statement failed", err).
			WithDetails(map[string]interface{}{"query": query})
	}
	return nil
}

// Query runs a query and calls scan for every result row.
func (s *Session) Query(ctx context.Context, query string, scan func(*sql.Rows) error, args ...interface{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return pipelineerrors.NewEngineError(pipelineerrors.CodeQueryFailed, "query failed", err).
			WithDetails(map[string]interface{}{"query": query})
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return pipelineerrors.NewEngineError(pipelineerrors.CodeQueryFailed, "failed to scan row", err).
				WithDetails(map[string]interface{}{"query": query})
		}
	}
	if err := rows.Err(); err != nil {
		return pipelineerrors.NewEngineError(pipelineerrors.CodeQueryFailed, "query failed", err).
			WithDetails(map[string]interface{}{"query": query})
	}
	return nil
}

// Count returns the single integer produced by a query.
func (s *Session) Count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, pipelineerrors.NewEngineError(pipelineerrors.CodeQueryFailed, "count query failed", err).
			WithDetails(map[string]interface{}{"query": query})
	}
	return n, nil
}

// Close closes the database and removes the run directory.
func (s *Session) Close() error {
	err := s.db.Close()
	if rmErr := os.RemoveAll(s.runDir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
