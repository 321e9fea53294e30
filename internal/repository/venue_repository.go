package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/temple-admission/internal/model"
)

// VenueRepo reads venues and mirrors live counts into the venues table.
// Columns used: id, name, capacity_total, slot_capacity, warning_ratio,
// critical_ratio, live_count, live_count_at.
type VenueRepo struct {
	db *sql.DB
}

// NewVenueRepo returns a VenueRepo bound to the given database.
func NewVenueRepo(db *sql.DB) *VenueRepo { return &VenueRepo{db: db} }

const venueColumns = `id, name, capacity_total, slot_capacity, warning_ratio, critical_ratio`

func scanVenue(row interface{ Scan(...any) error }) (model.Venue, error) {
	var (
		v                 model.Venue
		warning, critical sql.NullFloat64
	)
	if err := row.Scan(&v.ID, &v.Name, &v.CapacityTotal, &v.SlotCapacity, &warning, &critical); err != nil {
		return model.Venue{}, err
	}
	v.WarningRatio = warning.Float64
	v.CriticalRatio = critical.Float64
	return v.WithDefaults(), nil
}

// Get returns one venue.  Missing thresholds fall back to the defaults.
func (r *VenueRepo) Get(ctx context.Context, id string) (*model.Venue, error) {
	v, err := scanVenue(r.db.QueryRowContext(ctx, `SELECT `+venueColumns+` FROM venues WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVenueNotFound
		}
		return nil, fmt.Errorf("select venue: %w", err)
	}
	return &v, nil
}

// List returns every venue ordered by name.
func (r *VenueRepo) List(ctx context.Context) ([]model.Venue, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+venueColumns+` FROM venues ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	defer rows.Close()
	var out []model.Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan venue: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	return out, nil
}

// SaveLiveCount records a snapshot of a venue's live count.
func (r *VenueRepo) SaveLiveCount(ctx context.Context, venueID string, count int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE venues SET live_count = ?, live_count_at = UTC_TIMESTAMP() WHERE id = ?`, count, venueID)
	if err != nil {
		return fmt.Errorf("save live count: %w", err)
	}
	return nil
}

// LiveCounts returns the last snapshot for every venue.
func (r *VenueRepo) LiveCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, live_count FROM venues`)
	if err != nil {
		return nil, fmt.Errorf("select live counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			id string
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan live count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

var (
	_ VenueReader   = (*VenueRepo)(nil)
	_ SnapshotStore = (*VenueRepo)(nil)
)
