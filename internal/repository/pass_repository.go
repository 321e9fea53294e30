package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/temple-admission/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// PassRepo stores passes in the passes table:
//
//  token         CHAR(36) PRIMARY KEY
//  venue_id      VARCHAR(64)
//  visit_date    DATE
//  time_window   VARCHAR(32)
//  party_size    TINYINT
//  state         ENUM('PENDING','CONFIRMED','USED','EXPIRED','CANCELLED','COMPLETED')
//  holder_name   VARCHAR(128)
//  holder_email  VARCHAR(255)
//  entry_at      DATETIME NULL
//  exit_at       DATETIME NULL
//  created_at    DATETIME
//  updated_at    DATETIME
//
// All timestamps are UTC.  Rows are never deleted; finished passes are kept
// for audit.
type PassRepo struct {
	db *sql.DB
}

// NewPassRepo returns a PassRepo bound to the given database.
func NewPassRepo(db *sql.DB) *PassRepo { return &PassRepo{db: db} }

// Create inserts a new pass.  The token must already be set by the caller.
// CreatedAt and UpdatedAt are populated on the given struct.
func (r *PassRepo) Create(ctx context.Context, p *model.Pass) (string, error) {
	now := time.Now().UTC().Truncate(time.Second)
	const q = `INSERT INTO passes (token, venue_id, visit_date, time_window, party_size, state, holder_name, holder_email, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		p.Token, p.VenueID, p.VisitDate.UTC().Format("2006-01-02"), p.TimeWindow, p.PartySize,
		string(p.State), p.HolderName, p.HolderEmail, now, now,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return "", ErrDuplicateToken
		}
		return "", fmt.Errorf("insert pass: %w", err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return p.Token, nil
}

// Get loads a pass by token.  ErrPassNotFound is returned when no row
// matches.
func (r *PassRepo) Get(ctx context.Context, token string) (*model.Pass, error) {
	const q = `SELECT token, venue_id, visit_date, time_window, party_size, state, holder_name, holder_email,
                      entry_at, exit_at, created_at, updated_at
               FROM passes WHERE token = ?`
	var (
		p              model.Pass
		state          string
		entryAt, exitAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, token).Scan(
		&p.Token, &p.VenueID, &p.VisitDate, &p.TimeWindow, &p.PartySize, &state,
		&p.HolderName, &p.HolderEmail, &entryAt, &exitAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPassNotFound
		}
		return nil, fmt.Errorf("select pass: %w", err)
	}
	p.State = model.PassState(state)
	if entryAt.Valid {
		t := entryAt.Time
		p.EntryAt = &t
	}
	if exitAt.Valid {
		t := exitAt.Time
		p.ExitAt = &t
	}
	return &p, nil
}

// Transition moves a pass from one state to another with a single
// conditional UPDATE, which makes it linearizable per pass: of several
// concurrent callers racing on the same edge exactly one sees a changed
// row.  Entry and exit timestamps follow the state: they are stamped on the
// way into USED/COMPLETED and cleared when a transition is reverted.
func (r *PassRepo) Transition(ctx context.Context, token string, from, to model.PassState) error {
	q := `UPDATE passes SET state = ?, updated_at = UTC_TIMESTAMP()` + timestampClause(from, to) +
		` WHERE token = ? AND state = ?`
	res, err := r.db.ExecContext(ctx, q, string(to), token, string(from))
	if err != nil {
		return fmt.Errorf("update pass state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pass state: %w", err)
	}
	if n == 1 {
		return nil
	}
	// Nothing changed: tell a missing pass apart from a lost race.
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM passes WHERE token = ?`, token).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrPassNotFound
	case err != nil:
		return fmt.Errorf("check pass: %w", err)
	}
	return ErrConflict
}

func timestampClause(from, to model.PassState) string {
	switch {
	case to == model.PassUsed && from == model.PassConfirmed:
		return `, entry_at = UTC_TIMESTAMP()`
	case to == model.PassCompleted:
		return `, exit_at = UTC_TIMESTAMP()`
	case from == model.PassUsed && to == model.PassConfirmed:
		return `, entry_at = NULL`
	case from == model.PassCompleted && to == model.PassUsed:
		return `, exit_at = NULL`
	}
	return ""
}

// BookedVisitors sums party sizes of live bookings for a venue slot.
func (r *PassRepo) BookedVisitors(ctx context.Context, venueID string, date time.Time, window string) (int64, error) {
	const q = `SELECT COALESCE(SUM(party_size), 0) FROM passes
               WHERE venue_id = ? AND visit_date = ? AND time_window = ? AND state IN ('CONFIRMED', 'USED')`
	var n int64
	if err := r.db.QueryRowContext(ctx, q, venueID, date.UTC().Format("2006-01-02"), window).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum booked visitors: %w", err)
	}
	return n, nil
}

var _ PassRegistry = (*PassRepo)(nil)
