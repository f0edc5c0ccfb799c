package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/pkg/types"
)

// Catalog persists sweep results.
type Catalog interface {
	// BeginRun registers a sweep before its first point is measured.
	BeginRun(ctx context.Context, r *report.SweepReport, configJSON []byte) error

	// RecordPoint stores one finished axis point under sequence number seq.
	RecordPoint(ctx context.Context, runID string, seq int, point *report.AxisResult) error

	// FinishRun stores the finish time and cache counters of a sweep.
	FinishRun(ctx context.Context, r *report.SweepReport) error

	// ArchiveOutput stores the compressed stdout of one invocation.
	ArchiveOutput(ctx context.Context, runID string, out *OutputRecord) (int64, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	// LoadReport rebuilds the report of a stored run.
	LoadReport(ctx context.Context, runID string) (*report.SweepReport, error)

	// Outputs returns the archived outputs of a run in capture order.
	Outputs(ctx context.Context, runID string) ([]*OutputRecord, error)

	// Close closes the catalog database connection.
	Close() error
}

// RunRecord is the history view of a stored run.
type RunRecord struct {
	RunID       string
	Fingerprint string
	Suite       string
	Policy      string
	Times       int
	Started     time.Time
	Finished    *time.Time
	Points      int
	Failed      int
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	// Fingerprint restricts the listing to one setup; empty lists all
	Fingerprint string

	// Limit caps the number of runs returned; zero means no cap
	Limit int
}

// OutputRecord is one archived invocation output.
type OutputRecord struct {
	ID         int64
	Axis       types.Axis
	Repetition int
	Probe      string
	Command    string
	Error      string
	Stdout     string
	Duration   time.Duration
	CreatedAt  time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // serializes writes
}

// NewCatalog opens or creates the catalog database at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, benchErrors.NewCatalogError(benchErrors.CodeOpenFailed, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &SQLiteCatalog{db: db, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, benchErrors.NewCatalogError(benchErrors.CodeOpenFailed, "failed to initialize schema", err)
	}
	return c, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// BeginRun registers a sweep before its first point is measured.
func (c *SQLiteCatalog) BeginRun(ctx context.Context, r *report.SweepReport, configJSON []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	backends, err := json.Marshal(r.Backends)
	if err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to encode backends", err)
	}
	if configJSON == nil {
		configJSON = []byte("{}")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, fingerprint, suite, policy, times, backends, config_json, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Fingerprint, r.Suite, r.Policy, r.Times, string(backends), string(configJSON), r.Started.UnixNano())
	if err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to insert run "+r.RunID, err)
	}
	return nil
}

// RecordPoint stores one finished axis point with its aggregates and
// repetitions in a single transaction.
func (c *SQLiteCatalog) RecordPoint(ctx context.Context, runID string, seq int, point *report.AxisResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var conversion interface{}
	if len(point.Conversion) > 0 {
		data, err := json.Marshal(point.Conversion)
		if err != nil {
			return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to encode conversion times", err)
		}
		conversion = string(data)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO points (run_id, seq, nprocs, regions, status, error, conversion_json, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, point.Axis.NProcs, point.Axis.Regions.String(), point.Status,
		nullString(point.Error), conversion, int64(point.Duration))
	if err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, fmt.Sprintf("failed to insert point %s", point.Axis), err)
	}

	for _, p := range point.Points {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO aggregates (run_id, seq, backend, mean, repetitions, min, max, median, ci_lo, ci_hi, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, seq, string(p.Backend), p.Mean, p.Repetitions, p.Min, p.Max, p.Median, p.Lo, p.Hi, p.Confidence)
		if err != nil {
			return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to insert aggregate", err)
		}
	}

	for _, rep := range point.Repetitions {
		var samples interface{}
		if rep.Samples != nil {
			data, err := json.Marshal(rep.Samples)
			if err != nil {
				return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to encode samples", err)
			}
			samples = string(data)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO repetitions (run_id, seq, rep_index, samples_json, error)
			VALUES (?, ?, ?, ?, ?)`,
			runID, seq, rep.Index, samples, nullString(rep.Error))
		if err != nil {
			return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to insert repetition", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to commit point", err)
	}
	return nil
}

// FinishRun stores the finish time and cache counters of a sweep.
func (c *SQLiteCatalog) FinishRun(ctx context.Context, r *report.SweepReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, cache_resets = ?, cache_reset_failures = ?
		WHERE run_id = ?`,
		r.Finished.UnixNano(), r.CacheResets, r.CacheResetFailures, r.RunID)
	if err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to finish run "+r.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return benchErrors.NewCatalogError(benchErrors.CodeRunNotFound, "run not found: "+r.RunID, nil)
	}
	return nil
}

// ArchiveOutput stores the snappy-compressed stdout of one invocation and
// returns its archive id.
func (c *SQLiteCatalog) ArchiveOutput(ctx context.Context, runID string, out *OutputRecord) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	created := out.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	compressed := snappy.Encode(nil, []byte(out.Stdout))

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO outputs (run_id, nprocs, regions, repetition, probe, command, error, stdout, raw_size, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, out.Axis.NProcs, out.Axis.Regions.String(), out.Repetition, out.Probe, out.Command,
		nullString(out.Error), compressed, len(out.Stdout), int64(out.Duration), created.UnixNano())
	if err != nil {
		return 0, benchErrors.NewCatalogError(benchErrors.CodeWriteFailed, "failed to archive output", err)
	}
	return res.LastInsertId()
}

// ListRuns returns runs newest first with their point counts.
func (c *SQLiteCatalog) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	query := `
		SELECT r.run_id, r.fingerprint, r.suite, r.policy, r.times, r.started_at, r.finished_at,
			(SELECT COUNT(*) FROM points p WHERE p.run_id = r.run_id),
			(SELECT COUNT(*) FROM points p WHERE p.run_id = r.run_id AND p.status != ?)
		FROM runs r`
	args := []interface{}{report.StatusOK}
	if filter.Fingerprint != "" {
		query += " WHERE r.fingerprint = ?"
		args = append(args, filter.Fingerprint)
	}
	query += " ORDER BY r.started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to list runs", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		var rec RunRecord
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&rec.RunID, &rec.Fingerprint, &rec.Suite, &rec.Policy, &rec.Times,
			&started, &finished, &rec.Points, &rec.Failed); err != nil {
			return nil, benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to scan run", err)
		}
		rec.Started = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			rec.Finished = &t
		}
		runs = append(runs, &rec)
	}
	return runs, rows.Err()
}

// LoadReport rebuilds the report of a stored run.
func (c *SQLiteCatalog) LoadReport(ctx context.Context, runID string) (*report.SweepReport, error) {
	r := &report.SweepReport{RunID: runID}
	var backends string
	var started int64
	var finished sql.NullInt64

	err := c.db.QueryRowContext(ctx, `
		SELECT fingerprint, suite, policy, times, backends, started_at, finished_at, cache_resets, cache_reset_failures
		FROM runs WHERE run_id = ?`, runID,
	).Scan(&r.Fingerprint, &r.Suite, &r.Policy, &r.Times, &backends, &started, &finished,
		&r.CacheResets, &r.CacheResetFailures)
	if err == sql.ErrNoRows {
		return nil, benchErrors.NewCatalogError(benchErrors.CodeRunNotFound, "run not found: "+runID, nil)
	}
	if err != nil {
		return nil, benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to load run "+runID, err)
	}
	if err := json.Unmarshal([]byte(backends), &r.Backends); err != nil {
		return nil, benchErrors.NewCatalogError(benchErrors.CodeCorruptRecord, "corrupt backends column", err)
	}
	r.Started = time.Unix(0, started).UTC()
	if finished.Valid {
		r.Finished = time.Unix(0, finished.Int64).UTC()
	}

	if err := c.loadPoints(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *SQLiteCatalog) loadPoints(ctx context.Context, r *report.SweepReport) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT seq, nprocs, regions, status, error, conversion_json, duration_ns
		FROM points WHERE run_id = ? ORDER BY seq`, r.RunID)
	if err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to load points", err)
	}

	bySeq := make(map[int]*report.AxisResult)
	for rows.Next() {
		var seq int
		var regions string
		var errText, conversion sql.NullString
		var duration int64
		point := &report.AxisResult{}
		if err := rows.Scan(&seq, &point.Axis.NProcs, &regions, &point.Status, &errText, &conversion, &duration); err != nil {
			rows.Close()
			return benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to scan point", err)
		}
		point.Axis.Regions = types.ParseRegionSpec(regions)
		point.Error = errText.String
		point.Duration = time.Duration(duration)
		if conversion.Valid {
			if err := json.Unmarshal([]byte(conversion.String), &point.Conversion); err != nil {
				rows.Close()
				return benchErrors.NewCatalogError(benchErrors.CodeCorruptRecord, "corrupt conversion column", err)
			}
		}
		bySeq[seq] = point
		r.Entries = append(r.Entries, point)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to load points", err)
	}

	if err := c.loadAggregates(ctx, r.RunID, bySeq); err != nil {
		return err
	}
	return c.loadRepetitions(ctx, r.RunID, bySeq)
}

func (c *SQLiteCatalog) loadAggregates(ctx context.Context, runID string, bySeq map[int]*report.AxisResult) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT seq, backend, mean, repetitions, min, max, median, ci_lo, ci_hi, confidence
		FROM aggregates WHERE run_id = ?`, runID)
	if err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to load aggregates", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int
		var backend string
		var p report.AggregatePoint
		if err := rows.Scan(&seq, &backend, &p.Mean, &p.Repetitions, &p.Min, &p.Max,
			&p.Median, &p.Lo, &p.Hi, &p.Confidence); err != nil {
			return benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to scan aggregate", err)
		}
		p.Backend = types.Backend(backend)
		if point, ok := bySeq[seq]; ok {
			point.Points = append(point.Points, p)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, point := range bySeq {
		sortPoints(point.Points)
	}
	return nil
}

func (c *SQLiteCatalog) loadRepetitions(ctx context.Context, runID string, bySeq map[int]*report.AxisResult) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT seq, rep_index, samples_json, error
		FROM repetitions WHERE run_id = ? ORDER BY seq, rep_index`, runID)
	if err != nil {
		return benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to load repetitions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int
		var rep report.Repetition
		var samples, errText sql.NullString
		if err := rows.Scan(&seq, &rep.Index, &samples, &errText); err != nil {
			return benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to scan repetition", err)
		}
		rep.Error = errText.String
		if samples.Valid {
			if err := json.Unmarshal([]byte(samples.String), &rep.Samples); err != nil {
				return benchErrors.NewCatalogError(benchErrors.CodeCorruptRecord, "corrupt samples column", err)
			}
		}
		if point, ok := bySeq[seq]; ok {
			point.Repetitions = append(point.Repetitions, rep)
		}
	}
	return rows.Err()
}

// Outputs returns the archived outputs of a run, decompressed.
func (c *SQLiteCatalog) Outputs(ctx context.Context, runID string) ([]*OutputRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, nprocs, regions, repetition, probe, command, error, stdout, duration_ns, created_at
		FROM outputs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to load outputs", err)
	}
	defer rows.Close()

	var outs []*OutputRecord
	for rows.Next() {
		var rec OutputRecord
		var regions string
		var errText sql.NullString
		var compressed []byte
		var duration, created int64
		if err := rows.Scan(&rec.ID, &rec.Axis.NProcs, &regions, &rec.Repetition, &rec.Probe,
			&rec.Command, &errText, &compressed, &duration, &created); err != nil {
			return nil, benchErrors.NewCatalogError(benchErrors.CodeReadFailed, "failed to scan output", err)
		}
		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, benchErrors.NewCatalogError(benchErrors.CodeCorruptRecord, fmt.Sprintf("output %d: snappy decompress failed", rec.ID), err)
		}
		rec.Axis.Regions = types.ParseRegionSpec(regions)
		rec.Error = errText.String
		rec.Stdout = string(raw)
		rec.Duration = time.Duration(duration)
		rec.CreatedAt = time.Unix(0, created).UTC()
		outs = append(outs, &rec)
	}
	return outs, rows.Err()
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func sortPoints(points []report.AggregatePoint) {
	rank := make(map[types.Backend]int, len(types.BackendOrder))
	for i, b := range types.BackendOrder {
		rank[b] = i + 1
	}
	sort.SliceStable(points, func(i, j int) bool {
		ri, rj := rank[points[i].Backend], rank[points[j].Backend]
		if ri == 0 || rj == 0 {
			return ri > rj
		}
		return ri < rj
	})
}
