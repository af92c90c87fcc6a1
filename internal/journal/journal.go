// Package journal persists an audit trail of every attendance commit the
// gateway issued, including the ones the backend rejected or that died in
// transit. The user sees the same failure either way; the journal is where
// the two stay distinguishable.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcomes of an issued commit.
const (
	OutcomeAccepted       = "accepted"
	OutcomeRejected       = "rejected"
	OutcomeNetworkFailure = "network_failure"
)

// Entry is one issued attendance write and its outcome.
type Entry struct {
	ID           string    `json:"id"`
	PersonID     int64     `json:"person_id"`
	PersonCode   string    `json:"person_code"`
	Date         string    `json:"date"`
	Action       string    `json:"action"`
	Time         string    `json:"time"`
	GuardianType string    `json:"guardian_type"`
	GuardianName string    `json:"guardian_name"`
	MarkedByName string    `json:"marked_by_name"`
	MarkedByRole string    `json:"marked_by_role"`
	Method       string    `json:"method"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Repository persists journal entries in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes one entry.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.IssuedAt.IsZero() {
		e.IssuedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commit_journal
			(id, person_id, person_code, date, action, time, guardian_type,
			 guardian_name, marked_by_name, marked_by_role, method, outcome,
			 detail, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, e.ID, e.PersonID, e.PersonCode, e.Date, e.Action, e.Time, e.GuardianType,
		e.GuardianName, e.MarkedByName, e.MarkedByRole, e.Method, e.Outcome,
		e.Detail, e.IssuedAt)
	return err
}

// List returns recent entries, newest first, with basic filters.
func (r *Repository) List(ctx context.Context, personCode string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, person_id, person_code, date, action, time, guardian_type,
		       guardian_name, marked_by_name, marked_by_role, method, outcome,
		       detail, issued_at
		FROM commit_journal`
	args := []any{}
	if personCode != "" {
		query += ` WHERE person_code = $1`
		args = append(args, personCode)
	}
	query += ` ORDER BY issued_at DESC LIMIT $` + itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PersonID, &e.PersonCode, &e.Date, &e.Action,
			&e.Time, &e.GuardianType, &e.GuardianName, &e.MarkedByName,
			&e.MarkedByRole, &e.Method, &e.Outcome, &e.Detail, &e.IssuedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
