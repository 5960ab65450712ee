package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mastertime-app/mastertime/internal/booking"
	"github.com/mastertime-app/mastertime/internal/model"
	"github.com/mastertime-app/mastertime/internal/outbox"
	"github.com/mastertime-app/mastertime/libs/db"
)

// AppointmentRepository persists appointments and their outbox events in one
// transaction. The appointments table carries an exclusion constraint over
// (staff_id, tstzrange(start_time, end_time)) for active statuses; its
// violation (SQLSTATE 23P01) is the authoritative overlap guard and surfaces
// as booking.ErrSlotConflict.
type AppointmentRepository struct {
	pool   *db.Pool
	events *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, events *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, events: events}
}

const appointmentColumns = `
	id::text, business_id::text, staff_id::text, service_id::text,
	customer_name, COALESCE(customer_phone, ''), COALESCE(address, ''),
	start_time, end_time, duration_mins, price::text, status,
	cancelled_at, COALESCE(cancellation_reason, ''), created_at`

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	return appt, nil
}

func (r *AppointmentRepository) ListActiveOverlapping(ctx context.Context, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE staff_id = $1
			AND status IN ('PENDING', 'CONFIRMED')
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY start_time ASC
	`, staffID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *AppointmentRepository) ListByStaffRange(ctx context.Context, staffID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE staff_id = $1
			AND start_time >= $2
			AND start_time < $3
		ORDER BY start_time ASC
	`, staffID, start, end)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment, events []booking.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, business_id, staff_id, service_id, customer_name, customer_phone, address,
			 start_time, end_time, duration_mins, price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.BusinessID, appt.StaffID, appt.ServiceID, appt.CustomerName,
		nullIfEmpty(appt.CustomerPhone), nullIfEmpty(appt.Address),
		appt.StartTime, appt.EndTime, appt.DurationMins, appt.Price, appt.Status)
	created, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, translate(err)
	}

	if err := r.events.Insert(ctx, tx, events); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, translate(err)
	}
	return created, nil
}

func (r *AppointmentRepository) Reschedule(ctx context.Context, id string, start, end time.Time, events []booking.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
			end_time = $3
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, start, end)
	moved, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, translate(err)
	}

	if err := r.events.Insert(ctx, tx, events); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, translate(err)
	}
	return moved, nil
}

func (r *AppointmentRepository) SetStatus(ctx context.Context, id, status, cancelReason string, events []booking.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN now() ELSE cancelled_at END,
			cancellation_reason = CASE WHEN $2 = 'CANCELLED' THEN $3 ELSE cancellation_reason END
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, status, cancelReason)
	updated, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, translate(err)
	}

	if err := r.events.Insert(ctx, tx, events); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, translate(err)
	}
	return updated, nil
}

func (r *AppointmentRepository) CompletePast(ctx context.Context, cutoff time.Time, event func(model.Appointment) booking.Event) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET status = 'COMPLETED'
		WHERE status = 'CONFIRMED'
			AND end_time <= $1
		RETURNING `+appointmentColumns+`
	`, cutoff)
	if err != nil {
		return 0, err
	}
	swept, err := scanAppointments(rows)
	if err != nil {
		return 0, err
	}

	events := make([]booking.Event, 0, len(swept))
	for _, appt := range swept {
		events = append(events, event(appt))
	}
	if err := r.events.Insert(ctx, tx, events); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int64(len(swept)), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.StaffID,
		&appt.ServiceID,
		&appt.CustomerName,
		&appt.CustomerPhone,
		&appt.Address,
		&appt.StartTime,
		&appt.EndTime,
		&appt.DurationMins,
		&appt.Price,
		&appt.Status,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// translate maps pgx errors onto the engine's sentinels.
func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return booking.ErrSlotConflict
	}
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
