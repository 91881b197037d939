package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"hourline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound is domain.ErrNotFound so callers can test either.
var ErrNotFound = domain.ErrNotFound

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) InsertContributor(ctx context.Context, tx *sql.Tx, c domain.Contributor) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO contributors(id,name,role,hourly_rate,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.Name, c.Role, c.HourlyRate, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert contributor %s: %w", c.ID, err)
	}
	for _, rc := range c.Rates {
		if err := r.UpsertRate(ctx, tx, c.ID, rc); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRate stores a rate change; a second change on the same day replaces the first.
func (r Repo) UpsertRate(ctx context.Context, tx *sql.Tx, contributorID string, rc domain.RateChange) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO contributor_rates(contributor_id,effective_from,rate) VALUES (?,?,?)
ON CONFLICT(contributor_id, effective_from) DO UPDATE SET rate=excluded.rate`,
		contributorID, rc.EffectiveFrom, rc.Rate)
	if err != nil {
		return fmt.Errorf("upsert rate for %s: %w", contributorID, err)
	}
	return nil
}

// ListContributors returns every contributor with its rate history.
func (r Repo) ListContributors(ctx context.Context) ([]domain.Contributor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,role,hourly_rate,created_at FROM contributors ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contributor
	index := map[string]int{}
	for rows.Next() {
		var c domain.Contributor
		if err := rows.Scan(&c.ID, &c.Name, &c.Role, &c.HourlyRate, &c.CreatedAt); err != nil {
			return nil, err
		}
		index[c.ID] = len(res)
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rateRows, err := r.DB.QueryContext(ctx, `SELECT contributor_id,effective_from,rate FROM contributor_rates ORDER BY contributor_id, effective_from`)
	if err != nil {
		return nil, err
	}
	defer rateRows.Close()
	for rateRows.Next() {
		var cid string
		var rc domain.RateChange
		if err := rateRows.Scan(&cid, &rc.EffectiveFrom, &rc.Rate); err != nil {
			return nil, err
		}
		if i, ok := index[cid]; ok {
			res[i].Rates = append(res[i].Rates, rc)
		}
	}
	return res, rateRows.Err()
}

const entryColumns = `id,contributor_id,date,hours,task,notes,start_time,end_time,status,reason,reviewer_id,review_note,submitted_at,reviewed_at,version,created_at,updated_at`

// SaveEntry inserts or replaces the row for e.ID.
func (r Repo) SaveEntry(ctx context.Context, tx *sql.Tx, e domain.TimeEntry) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO entries(`+entryColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET hours=excluded.hours, task=excluded.task, notes=excluded.notes,
  start_time=excluded.start_time, end_time=excluded.end_time, status=excluded.status, reason=excluded.reason,
  reviewer_id=excluded.reviewer_id, review_note=excluded.review_note, submitted_at=excluded.submitted_at,
  reviewed_at=excluded.reviewed_at, version=excluded.version, updated_at=excluded.updated_at`,
		e.ID, e.ContributorID, e.Date, e.Hours, e.Task, e.Notes, e.StartTime, e.EndTime, e.Status, e.Reason,
		e.ReviewerID, e.ReviewNote, e.SubmittedAt, e.ReviewedAt, e.Version, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save entry %s: %w", e.Key(), err)
	}
	return nil
}

func (r Repo) DeleteEntry(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM entries WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntries returns every stored entry in date order.
func (r Repo) ListEntries(ctx context.Context) ([]domain.TimeEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries ORDER BY date, contributor_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeEntry
	for rows.Next() {
		var e domain.TimeEntry
		if err := rows.Scan(&e.ID, &e.ContributorID, &e.Date, &e.Hours, &e.Task, &e.Notes, &e.StartTime, &e.EndTime,
			&e.Status, &e.Reason, &e.ReviewerID, &e.ReviewNote, &e.SubmittedAt, &e.ReviewedAt, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventFilter narrows ListEvents. Cursor pages backwards: only ids below it are returned.
type EventFilter struct {
	Limit      int
	Cursor     int64
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
}

// ListEvents returns the newest events first.
func (r Repo) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	for col, v := range map[string]string{"type": f.Type, "entity_kind": f.EntityKind, "entity_id": f.EntityID, "actor_id": f.ActorID} {
		if v != "" {
			clauses = append(clauses, col+"=?")
			args = append(args, v)
		}
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, f.Limit)
	return r.scanEvents(ctx, query, args...)
}

// EventsAfter returns events with id above cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.scanEvents(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) scanEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
