// Package catalog stores sweep results in a SQLite database so runs of the
// same setup can be listed and compared later.
package catalog

// CreateRunsTableSQL creates one row per sweep execution.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    suite TEXT NOT NULL,
    policy TEXT NOT NULL,
    times INTEGER NOT NULL,
    backends TEXT NOT NULL,
    config_json TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    cache_resets INTEGER NOT NULL DEFAULT 0,
    cache_reset_failures INTEGER NOT NULL DEFAULT 0
)`

// CreatePointsTableSQL creates one row per axis point, seq being the
// iteration order within the run.
const CreatePointsTableSQL = `
CREATE TABLE IF NOT EXISTS points (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    nprocs INTEGER NOT NULL,
    regions TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    conversion_json TEXT,
    duration_ns INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateAggregatesTableSQL creates one row per backend of a successful point.
const CreateAggregatesTableSQL = `
CREATE TABLE IF NOT EXISTS aggregates (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    backend TEXT NOT NULL,
    mean REAL NOT NULL,
    repetitions INTEGER NOT NULL,
    min REAL NOT NULL,
    max REAL NOT NULL,
    median REAL NOT NULL,
    ci_lo REAL NOT NULL,
    ci_hi REAL NOT NULL,
    confidence REAL NOT NULL,
    PRIMARY KEY (run_id, seq, backend)
)`

// CreateRepetitionsTableSQL creates one row per repetition of a point.
const CreateRepetitionsTableSQL = `
CREATE TABLE IF NOT EXISTS repetitions (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    rep_index INTEGER NOT NULL,
    samples_json TEXT,
    error TEXT,
    PRIMARY KEY (run_id, seq, rep_index)
)`

// CreateOutputsTableSQL creates the archive of captured stdout, stored
// snappy-compressed.
const CreateOutputsTableSQL = `
CREATE TABLE IF NOT EXISTS outputs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    nprocs INTEGER NOT NULL,
    regions TEXT NOT NULL,
    repetition INTEGER NOT NULL,
    probe TEXT NOT NULL,
    command TEXT NOT NULL,
    error TEXT,
    stdout BLOB NOT NULL,
    raw_size INTEGER NOT NULL,
    duration_ns INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateIndexesSQL creates the lookup indexes.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint, started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_outputs_run ON outputs(run_id, id)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateRunsTableSQL,
		CreatePointsTableSQL,
		CreateAggregatesTableSQL,
		CreateRepetitionsTableSQL,
		CreateOutputsTableSQL,
	}
	return append(statements, CreateIndexesSQL...)
}
