package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"streakline/internal/calendar"
	"streakline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) exec(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

const runColumns = `id,kind,repo_path,status,started_at,finished_at,dates,commits,succeeded,failed,pushed,COALESCE(push_error,''),COALESCE(error,'')`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var (
		run      domain.Run
		finished sql.NullString
		pushed   int
	)
	err := row.Scan(&run.ID, &run.Kind, &run.RepoPath, &run.Status, &run.StartedAt, &finished,
		&run.Dates, &run.Commits, &run.Succeeded, &run.Failed, &pushed, &run.PushError, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.String
	}
	run.Pushed = pushed != 0
	return run, nil
}

// InsertRun records a run in the running state.
func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO runs(id,kind,repo_path,status,started_at,dates) VALUES (?,?,?,?,?,?)`,
		run.ID, run.Kind, run.RepoPath, run.Status, run.StartedAt, run.Dates)
	return err
}

// FinishRun stores the final status and counters of a run.
func (r Repo) FinishRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	res, err := r.exec(tx).ExecContext(ctx, `UPDATE runs SET status=?,finished_at=?,dates=?,commits=?,succeeded=?,failed=?,pushed=?,push_error=?,error=? WHERE id=?`,
		run.Status, nullableStringPtr(run.FinishedAt), run.Dates, run.Commits, run.Succeeded, run.Failed,
		boolInt(run.Pushed), nullable(run.PushError), nullable(run.Error), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertResults stores the per-date outcomes of a run.
func (r Repo) InsertResults(ctx context.Context, tx *sql.Tx, runID string, results []domain.DateResult) error {
	ex := r.exec(tx)
	for _, res := range results {
		ids := res.CommitIDs
		if ids == nil {
			ids = []string{}
		}
		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		if _, err := ex.ExecContext(ctx, `INSERT INTO run_results(run_id,date,requested,created,status,error,commit_ids) VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(run_id,date) DO UPDATE SET requested=requested+excluded.requested, created=created+excluded.created,
			status=excluded.status, error=COALESCE(excluded.error,error), commit_ids=excluded.commit_ids`,
			runID, res.Date.String(), res.Requested, res.Created, res.Status, nullable(res.Error), string(data)); err != nil {
			return fmt.Errorf("insert result %s: %w", res.Date, err)
		}
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

type RunFilters struct {
	Limit  int
	Kind   string
	Status string
}

// ListRuns returns runs newest first.
func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.Run, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s ORDER BY started_at DESC, rowid DESC LIMIT ?`, runColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunResults returns the per-date outcomes of a run in date order.
func (r Repo) RunResults(ctx context.Context, runID string) ([]domain.DateResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT date,requested,created,status,COALESCE(error,''),commit_ids FROM run_results WHERE run_id=? ORDER BY date`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []domain.DateResult{}
	for rows.Next() {
		var (
			res  domain.DateResult
			date string
			ids  string
		)
		if err := rows.Scan(&date, &res.Requested, &res.Created, &res.Status, &res.Error, &ids); err != nil {
			return nil, err
		}
		if res.Date, err = calendar.Parse(date); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &res.CommitIDs); err != nil {
			return nil, fmt.Errorf("decode commit ids for %s: %w", date, err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// AbortRunning marks runs still in the running state as aborted. Such rows
// are left behind by a process that died mid-run.
func (r Repo) AbortRunning(ctx context.Context, finishedAt, reason string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET status=?,finished_at=?,error=? WHERE status=?`,
		domain.RunAborted, finishedAt, reason, domain.RunRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, runID, evtType string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, runID, evtType)
}

// LatestEventsFrom pages events newest first, starting below cursor when set.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, runID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if runID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, runID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(run_id,''),payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	evs := []domain.Event{}
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.RunID, &ev.Payload); err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
