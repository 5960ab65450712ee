package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mastertime-app/mastertime/internal/schedule"
	"github.com/mastertime-app/mastertime/libs/db"
)

// ScheduleRepository serves the resolver's read side and the back-office
// writes for templates, exceptions and blockers. Reads return nil (not an
// error) when no row exists, matching the schedule.Store contract.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) GetException(ctx context.Context, staffID string, date time.Time) (*schedule.Exception, error) {
	var exc schedule.Exception
	err := r.pool.QueryRow(ctx, `
		SELECT staff_id::text, date, is_day_off, start_minute, end_minute
		FROM staff_schedule_exceptions
		WHERE staff_id = $1 AND date = $2::date
	`, staffID, date).Scan(&exc.StaffID, &exc.Date, &exc.IsDayOff, &exc.StartMinute, &exc.EndMinute)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &exc, nil
}

func (r *ScheduleRepository) GetTemplateEntry(ctx context.Context, staffID string, weekday int) (*schedule.TemplateEntry, error) {
	var entry schedule.TemplateEntry
	err := r.pool.QueryRow(ctx, `
		SELECT staff_id::text, weekday, start_minute, end_minute
		FROM staff_weekly_template
		WHERE staff_id = $1 AND weekday = $2
	`, staffID, weekday).Scan(&entry.StaffID, &entry.Weekday, &entry.StartMinute, &entry.EndMinute)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *ScheduleRepository) ListBlockers(ctx context.Context, staffID string, date time.Time) ([]schedule.Blocker, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, staff_id::text, date, start_minute, end_minute, COALESCE(reason, '')
		FROM staff_time_blockers
		WHERE staff_id = $1 AND date = $2::date
		ORDER BY start_minute ASC
	`, staffID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blockers []schedule.Blocker
	for rows.Next() {
		var b schedule.Blocker
		if err := rows.Scan(&b.ID, &b.StaffID, &b.Date, &b.StartMinute, &b.EndMinute, &b.Reason); err != nil {
			return nil, err
		}
		blockers = append(blockers, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blockers, nil
}

// UpsertTemplateEntry replaces the weekly window for one (staff, weekday).
func (r *ScheduleRepository) UpsertTemplateEntry(ctx context.Context, entry schedule.TemplateEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staff_weekly_template (staff_id, weekday, start_minute, end_minute)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (staff_id, weekday)
		DO UPDATE SET start_minute = EXCLUDED.start_minute,
		              end_minute = EXCLUDED.end_minute,
		              updated_at = now()
	`, entry.StaffID, entry.Weekday, entry.StartMinute, entry.EndMinute)
	return err
}

// DeleteTemplateEntry removes the weekly window, turning that weekday into a
// day off by omission.
func (r *ScheduleRepository) DeleteTemplateEntry(ctx context.Context, staffID string, weekday int) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM staff_weekly_template
		WHERE staff_id = $1 AND weekday = $2
	`, staffID, weekday)
	return err
}

// UpsertException replaces the single exception for one (staff, date).
func (r *ScheduleRepository) UpsertException(ctx context.Context, exc schedule.Exception) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staff_schedule_exceptions (staff_id, date, is_day_off, start_minute, end_minute)
		VALUES ($1, $2::date, $3, $4, $5)
		ON CONFLICT (staff_id, date)
		DO UPDATE SET is_day_off = EXCLUDED.is_day_off,
		              start_minute = EXCLUDED.start_minute,
		              end_minute = EXCLUDED.end_minute,
		              updated_at = now()
	`, exc.StaffID, exc.Date, exc.IsDayOff, exc.StartMinute, exc.EndMinute)
	return err
}

func (r *ScheduleRepository) DeleteException(ctx context.Context, staffID string, date time.Time) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM staff_schedule_exceptions
		WHERE staff_id = $1 AND date = $2::date
	`, staffID, date)
	return err
}

func (r *ScheduleRepository) CreateBlocker(ctx context.Context, b schedule.Blocker) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO staff_time_blockers (staff_id, date, start_minute, end_minute, reason)
		VALUES ($1, $2::date, $3, $4, $5)
		RETURNING id::text
	`, b.StaffID, b.Date, b.StartMinute, b.EndMinute, nullIfEmpty(b.Reason)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ScheduleRepository) DeleteBlocker(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM staff_time_blockers
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return translate(pgx.ErrNoRows)
	}
	return nil
}
