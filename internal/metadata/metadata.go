// Package metadata is the embedded relational store co-located with the
// data lake: partition-stats cache, schema-version registry entries,
// analysis run records, and lineage entries. Checkpoints are not kept
// here; internal/checkpoint stores them as files.
package metadata

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/sqrtqiezi/diting/internal/atomicfile"
	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

const ddl = `
CREATE TABLE IF NOT EXISTS schema_versions (
	schema_name TEXT NOT NULL,
	version     INTEGER NOT NULL,
	fields_json TEXT NOT NULL,
	registered_at INTEGER NOT NULL,
	PRIMARY KEY (schema_name, version)
);

CREATE TABLE IF NOT EXISTS partition_stats (
	partition_dir TEXT PRIMARY KEY,
	row_count     INTEGER NOT NULL,
	size_bytes    INTEGER NOT NULL,
	min_create_time INTEGER NOT NULL,
	max_create_time INTEGER NOT NULL,
	cached_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_runs (
	chatroom    TEXT NOT NULL,
	run_date    TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	topic_count INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	PRIMARY KEY (chatroom, run_date)
);

CREATE TABLE IF NOT EXISTS lineage (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	source_path   TEXT NOT NULL,
	target_path   TEXT NOT NULL,
	recorded_at   INTEGER NOT NULL
);
`

// Store wraps the sqlite-backed metadata database. Writers serialize via
// the file-based advisory lock of internal/atomicfile scoped to the
// database file; readers open their own independent connection in
// read-only mode and don't contend with writers.
type Store struct {
	path string
	db   *sql.DB
}

// Open opens (creating if absent) the metadata database at path and
// applies idempotent DDL.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, chatlakeerr.NewIoError(chatlakeerr.IoOther, "opening metadata database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, chatlakeerr.NewIoError(chatlakeerr.IoOther, "applying metadata schema", err)
	}

	return &Store{path: path, db: db}, nil
}

// OpenReadOnly opens an independent read-only handle to the same
// database file, for the metadata store's multi-reader contract.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, chatlakeerr.NewIoError(chatlakeerr.IoOther, "opening metadata database read-only", err)
	}
	return &Store{path: path, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withWriteLock scopes a single-writer section to the database file via
// the same advisory-lock primitive the rest of the pipeline uses.
func (s *Store) withWriteLock(fn func() error) error {
	return atomicfile.WithLock(s.path+".lock", 60*time.Second, fn)
}

// RegisterSchemaVersion records one versioned schema, idempotently
// (re-registering the same name+version is a no-op via INSERT OR IGNORE).
func (s *Store) RegisterSchemaVersion(name string, version int, fieldsJSON string, registeredAt time.Time) error {
	return s.withWriteLock(func() error {
		_, err := s.db.Exec(
			`INSERT OR IGNORE INTO schema_versions (schema_name, version, fields_json, registered_at) VALUES (?, ?, ?, ?)`,
			name, version, fieldsJSON, registeredAt.Unix(),
		)
		if err != nil {
			return chatlakeerr.NewIoError(chatlakeerr.IoOther, "registering schema version", err)
		}
		return nil
	})
}

// PartitionStatsCache is one cached partition_stats row.
type PartitionStatsCache struct {
	PartitionDir  string
	RowCount      int64
	SizeBytes     int64
	MinCreateTime int64
	MaxCreateTime int64
	CachedAt      time.Time
}

// UpsertPartitionStats caches stats for partitionDir, replacing any
// earlier cached entry for the same directory.
func (s *Store) UpsertPartitionStats(stats PartitionStatsCache) error {
	return s.withWriteLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO partition_stats (partition_dir, row_count, size_bytes, min_create_time, max_create_time, cached_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(partition_dir) DO UPDATE SET
				row_count=excluded.row_count, size_bytes=excluded.size_bytes,
				min_create_time=excluded.min_create_time, max_create_time=excluded.max_create_time,
				cached_at=excluded.cached_at`,
			stats.PartitionDir, stats.RowCount, stats.SizeBytes, stats.MinCreateTime, stats.MaxCreateTime, stats.CachedAt.Unix(),
		)
		if err != nil {
			return chatlakeerr.NewIoError(chatlakeerr.IoOther, "upserting partition stats", err)
		}
		return nil
	})
}

// PartitionStats looks up a cached entry, returning ok=false if absent.
func (s *Store) PartitionStats(partitionDir string) (PartitionStatsCache, bool, error) {
	var stats PartitionStatsCache
	var cachedAtUnix int64
	var row = s.db.QueryRow(
		`SELECT partition_dir, row_count, size_bytes, min_create_time, max_create_time, cached_at
		 FROM partition_stats WHERE partition_dir = ?`, partitionDir)

	err := row.Scan(&stats.PartitionDir, &stats.RowCount, &stats.SizeBytes, &stats.MinCreateTime, &stats.MaxCreateTime, &cachedAtUnix)
	if err == sql.ErrNoRows {
		return PartitionStatsCache{}, false, nil
	}
	if err != nil {
		return PartitionStatsCache{}, false, chatlakeerr.NewIoError(chatlakeerr.IoOther, "reading partition stats", err)
	}
	stats.CachedAt = time.Unix(cachedAtUnix, 0).UTC()
	return stats, true, nil
}

// RunStatus enumerates the analysis run state machine of spec.md §4.11.
type RunStatus string

const (
	RunPending           RunStatus = "pending"
	RunRunning           RunStatus = "running"
	RunCompleted         RunStatus = "completed"
	RunCompletedPartial  RunStatus = "completed-partial"
	RunFailed            RunStatus = "failed"
)

// StartRun records a new run transitioning into pending, idempotently
// (re-starting an existing run for the same chatroom+date overwrites it,
// per the repeated-analysis-overwrites decision).
func (s *Store) StartRun(chatroom, runDate string, startedAt time.Time) error {
	return s.withWriteLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO analysis_runs (chatroom, run_date, status, started_at, topic_count)
			 VALUES (?, ?, ?, ?, 0)
			 ON CONFLICT(chatroom, run_date) DO UPDATE SET
				status=excluded.status, started_at=excluded.started_at,
				finished_at=NULL, topic_count=0, error=NULL`,
			chatroom, runDate, string(RunPending), startedAt.Unix(),
		)
		if err != nil {
			return chatlakeerr.NewIoError(chatlakeerr.IoOther, "starting analysis run", err)
		}
		return nil
	})
}

// TransitionRun updates a run's status and terminal fields.
func (s *Store) TransitionRun(chatroom, runDate string, status RunStatus, finishedAt time.Time, topicCount int, runErr string) error {
	return s.withWriteLock(func() error {
		var finishedUnix interface{}
		if !finishedAt.IsZero() {
			finishedUnix = finishedAt.Unix()
		}
		_, err := s.db.Exec(
			`UPDATE analysis_runs SET status=?, finished_at=?, topic_count=?, error=? WHERE chatroom=? AND run_date=?`,
			string(status), finishedUnix, topicCount, nullableString(runErr), chatroom, runDate,
		)
		if err != nil {
			return chatlakeerr.NewIoError(chatlakeerr.IoOther, "transitioning analysis run", err)
		}
		return nil
	})
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// RecordLineage appends one append-only lineage entry.
func (s *Store) RecordLineage(sourcePath, targetPath string, recordedAt time.Time) error {
	return s.withWriteLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO lineage (source_path, target_path, recorded_at) VALUES (?, ?, ?)`,
			sourcePath, targetPath, recordedAt.Unix(),
		)
		if err != nil {
			return chatlakeerr.NewIoError(chatlakeerr.IoOther, "recording lineage entry", err)
		}
		return nil
	})
}
