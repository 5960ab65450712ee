package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mastertime-app/mastertime/internal/availability"
	"github.com/mastertime-app/mastertime/internal/interval"
	"github.com/mastertime-app/mastertime/internal/model"
	"github.com/mastertime-app/mastertime/internal/schedule"
)

// Event is the outbox envelope recorded atomically with appointment writes.
// The storage layer inserts it in the same transaction; a separate publisher
// ships it to the broker.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type AppointmentStore interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	// ListActiveOverlapping returns PENDING/CONFIRMED appointments for the
	// staff member whose [start_time, end_time) intersects [start, end),
	// excluding excludeID when non-empty.
	ListActiveOverlapping(ctx context.Context, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error)
	ListByStaffRange(ctx context.Context, staffID string, start, end time.Time) ([]model.Appointment, error)
	// Create persists the appointment and events atomically. A violation of
	// the staff overlap constraint surfaces as ErrSlotConflict.
	Create(ctx context.Context, appt *model.Appointment, events []Event) (model.Appointment, error)
	// Reschedule moves an appointment and recomputes nothing else; overlap
	// violations surface as ErrSlotConflict.
	Reschedule(ctx context.Context, id string, start, end time.Time, events []Event) (model.Appointment, error)
	SetStatus(ctx context.Context, id, status, cancelReason string, events []Event) (model.Appointment, error)
	// CompletePast transitions CONFIRMED appointments ending before cutoff to
	// COMPLETED and returns how many rows changed. An event built by the
	// callback is recorded atomically for every swept row, so downstream
	// consumers see sweep completions the same way as manual ones.
	CompletePast(ctx context.Context, cutoff time.Time, event func(model.Appointment) Event) (int64, error)
}

type CatalogStore interface {
	GetStaff(ctx context.Context, id string) (model.Staff, error)
	GetService(ctx context.Context, id string) (model.Service, error)
	ListStaffForService(ctx context.Context, serviceID string) ([]model.Staff, error)
}

// Service is the availability and booking engine. All schedule reads go
// through the resolver; all appointment writes go through the conflict guard
// before reaching storage.
type Service struct {
	appointments    AppointmentStore
	catalog         CatalogStore
	resolver        *schedule.Resolver
	logger          *slog.Logger
	loc             *time.Location
	stepMins        int
	reminderOffsets []time.Duration
	now             func() time.Time
}

type Config struct {
	// Location is the business-local timezone used for every
	// minute-from-midnight conversion.
	Location *time.Location
	// StepMinutes is the slot-offering granularity; defaults to
	// availability.DefaultStepMinutes.
	StepMinutes     int
	ReminderOffsets []time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

func NewService(appointments AppointmentStore, catalog CatalogStore, resolver *schedule.Resolver, logger *slog.Logger, cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	step := cfg.StepMinutes
	if step <= 0 {
		step = availability.DefaultStepMinutes
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		appointments:    appointments,
		catalog:         catalog,
		resolver:        resolver,
		logger:          logger,
		loc:             loc,
		stepMins:        step,
		reminderOffsets: cfg.ReminderOffsets,
		now:             now,
	}
}

// ParseDate parses a business-local calendar date in YYYY-MM-DD form.
func (s *Service) ParseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", raw, s.loc)
	if err != nil {
		return time.Time{}, invalidArgf("invalid date %q (want YYYY-MM-DD)", raw)
	}
	return d, nil
}

// WorkingHours resolves the free-of-blockers working spans for one staff
// member and date. An empty result means a day off, not an error.
func (s *Service) WorkingHours(ctx context.Context, staffID, dateStr string) ([]interval.Span, error) {
	date, err := s.ParseDate(dateStr)
	if err != nil {
		return nil, err
	}
	if _, err := s.getStaff(ctx, staffID); err != nil {
		return nil, err
	}
	return s.resolver.WorkingIntervals(ctx, staffID, date)
}

// Slot is one offerable start time for a specific staff member.
type Slot struct {
	StaffID   string
	StaffName string
	Start     time.Time
	End       time.Time
}

type SlotsRequest struct {
	StaffID   string
	ServiceID string
	Date      string
	// ExcludeAppointmentID frees up the slot currently held by an
	// appointment being rescheduled.
	ExcludeAppointmentID string
}

// Slots returns the offerable slots for one staff member on one date.
func (s *Service) Slots(ctx context.Context, req SlotsRequest) ([]Slot, error) {
	date, err := s.checkedDate(req.Date)
	if err != nil {
		return nil, err
	}
	svc, err := s.getService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	staff, err := s.getStaff(ctx, req.StaffID)
	if err != nil {
		return nil, err
	}
	if !staff.IsActive {
		return nil, invalidArgf("staff %s is not active", staff.ID)
	}
	return s.slotsForStaff(ctx, staff, svc, date, req.ExcludeAppointmentID)
}

// SlotsForService aggregates slots over every active staff member offering
// the service. A staff member whose schedule data fails to resolve is skipped
// and logged; the rest of the view still succeeds.
func (s *Service) SlotsForService(ctx context.Context, serviceID, dateStr string) ([]Slot, error) {
	date, err := s.checkedDate(dateStr)
	if err != nil {
		return nil, err
	}
	svc, err := s.getService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	staffList, err := s.catalog.ListStaffForService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	var all []Slot
	for _, staff := range staffList {
		if !staff.IsActive {
			continue
		}
		slots, err := s.slotsForStaff(ctx, staff, svc, date, "")
		if err != nil {
			s.logger.Warn("skipping staff member in availability view",
				"staff_id", staff.ID, "date", dateStr, "err", err)
			continue
		}
		all = append(all, slots...)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Start.Equal(all[j].Start) {
			return all[i].Start.Before(all[j].Start)
		}
		return all[i].StaffName < all[j].StaffName
	})
	return all, nil
}

func (s *Service) slotsForStaff(ctx context.Context, staff model.Staff, svc model.Service, date time.Time, excludeID string) ([]Slot, error) {
	working, err := s.resolver.WorkingIntervals(ctx, staff.ID, date)
	if err != nil {
		return nil, err
	}
	if len(working) == 0 {
		return nil, nil
	}

	dayStart := availability.MinuteToTime(date, 0, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	appts, err := s.appointments.ListActiveOverlapping(ctx, staff.ID, dayStart, dayEnd, excludeID)
	if err != nil {
		return nil, err
	}
	busy := make([]interval.Span, 0, len(appts))
	for _, a := range appts {
		busy = append(busy, interval.Span{
			Start: availability.MinuteOfDay(a.StartTime, date, s.loc),
			End:   availability.MinuteOfDay(a.EndTime, date, s.loc),
		})
	}

	free := interval.Subtract(working, busy)

	now := s.now().In(s.loc)
	nowMinute := -1
	if sameDate(now, date) {
		nowMinute = now.Hour()*60 + now.Minute()
	}

	starts := availability.SlotStarts(free, svc.TotalDuration(), s.stepMins, nowMinute)
	slots := make([]Slot, 0, len(starts))
	for _, m := range starts {
		start := availability.MinuteToTime(date, m, s.loc)
		slots = append(slots, Slot{
			StaffID:   staff.ID,
			StaffName: staff.Name,
			Start:     start,
			End:       start.Add(time.Duration(svc.TotalDuration()) * time.Minute),
		})
	}
	return slots, nil
}

type BookRequest struct {
	BusinessID    string
	StaffID       string
	ServiceID     string
	CustomerName  string
	CustomerPhone string
	Address       string
	StartTime     time.Time
	// Confirm books straight into CONFIRMED (trusted channels); otherwise the
	// appointment starts PENDING.
	Confirm bool
}

// Book creates an appointment. The overlap pre-flight produces a friendly
// conflict message; the storage-level exclusion constraint remains the
// authoritative guard under concurrency.
func (s *Service) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	if req.CustomerName == "" {
		return model.Appointment{}, invalidArgf("customer_name is required")
	}
	staff, err := s.getStaff(ctx, req.StaffID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !staff.IsActive {
		return model.Appointment{}, invalidArgf("staff %s is not active", staff.ID)
	}
	svc, err := s.getService(ctx, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !svc.IsActive {
		return model.Appointment{}, invalidArgf("service %s is not active", svc.ID)
	}
	if !req.StartTime.After(s.now()) {
		return model.Appointment{}, invalidArgf("start_time must be in the future")
	}

	duration := svc.TotalDuration()
	end := req.StartTime.Add(time.Duration(duration) * time.Minute)

	if err := s.checkConflicts(ctx, staff.ID, req.StartTime, end, ""); err != nil {
		return model.Appointment{}, err
	}

	status := model.StatusPending
	if req.Confirm {
		status = model.StatusConfirmed
	}
	appt := &model.Appointment{
		ID:            uuid.NewString(),
		BusinessID:    req.BusinessID,
		StaffID:       staff.ID,
		ServiceID:     svc.ID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Address:       req.Address,
		StartTime:     req.StartTime,
		EndTime:       end,
		DurationMins:  duration,
		Price:         svc.BasePrice,
		Status:        status,
	}

	events := []Event{s.appointmentEvent("booking.appointment.booked.v1", appt)}
	events = append(events, s.reminderEvents(appt)...)

	created, err := s.appointments.Create(ctx, appt, events)
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			return model.Appointment{}, &SlotConflictError{Start: req.StartTime, End: end}
		}
		return model.Appointment{}, err
	}
	return created, nil
}

// Reschedule moves an active appointment to a new start time, keeping the
// duration snapshot taken at booking time.
func (s *Service) Reschedule(ctx context.Context, appointmentID string, newStart time.Time) (model.Appointment, error) {
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !model.IsActiveStatus(appt.Status) {
		return model.Appointment{}, invalidArgf("appointment %s is %s and cannot be rescheduled", appt.ID, appt.Status)
	}
	if !newStart.After(s.now()) {
		return model.Appointment{}, invalidArgf("start_time must be in the future")
	}

	duration := appt.DurationMins
	if duration <= 0 {
		svc, err := s.getService(ctx, appt.ServiceID)
		if err != nil {
			return model.Appointment{}, err
		}
		duration = svc.TotalDuration()
	}
	newEnd := newStart.Add(time.Duration(duration) * time.Minute)

	if err := s.checkConflicts(ctx, appt.StaffID, newStart, newEnd, appt.ID); err != nil {
		return model.Appointment{}, err
	}

	moved := appt
	moved.StartTime = newStart
	moved.EndTime = newEnd
	events := []Event{s.appointmentEvent("booking.appointment.rescheduled.v1", &moved)}

	updated, err := s.appointments.Reschedule(ctx, appt.ID, newStart, newEnd, events)
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			return model.Appointment{}, &SlotConflictError{Start: newStart, End: newEnd}
		}
		return model.Appointment{}, err
	}
	return updated, nil
}

// Confirm transitions PENDING to CONFIRMED. Confirming twice is a no-op.
func (s *Service) Confirm(ctx context.Context, appointmentID string) (model.Appointment, error) {
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	switch appt.Status {
	case model.StatusConfirmed:
		return appt, nil
	case model.StatusPending:
	default:
		return model.Appointment{}, invalidArgf("appointment %s is %s and cannot be confirmed", appt.ID, appt.Status)
	}
	events := []Event{s.appointmentEvent("booking.appointment.confirmed.v1", &appt)}
	return s.appointments.SetStatus(ctx, appt.ID, model.StatusConfirmed, "", events)
}

// Cancel releases the slot. Cancelling an already-cancelled appointment is a
// no-op; cancellation never needs the conflict guard because it only shrinks
// the active set.
func (s *Service) Cancel(ctx context.Context, appointmentID, reason string) (model.Appointment, error) {
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	switch appt.Status {
	case model.StatusCancelled:
		return appt, nil
	case model.StatusCompleted:
		return model.Appointment{}, invalidArgf("appointment %s is completed and cannot be cancelled", appt.ID)
	}
	events := []Event{s.appointmentEvent("booking.appointment.cancelled.v1", &appt)}
	return s.appointments.SetStatus(ctx, appt.ID, model.StatusCancelled, reason, events)
}

// Complete transitions CONFIRMED to COMPLETED. Completing twice is a no-op.
func (s *Service) Complete(ctx context.Context, appointmentID string) (model.Appointment, error) {
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	switch appt.Status {
	case model.StatusCompleted:
		return appt, nil
	case model.StatusConfirmed:
	default:
		return model.Appointment{}, invalidArgf("appointment %s is %s and cannot be completed", appt.ID, appt.Status)
	}
	events := []Event{s.appointmentEvent("booking.appointment.completed.v1", &appt)}
	return s.appointments.SetStatus(ctx, appt.ID, model.StatusCompleted, "", events)
}

// CompletePast sweeps CONFIRMED appointments whose end time has passed,
// emitting a completed event per swept appointment.
func (s *Service) CompletePast(ctx context.Context) (int64, error) {
	return s.appointments.CompletePast(ctx, s.now(), func(appt model.Appointment) Event {
		appt.Status = model.StatusCompleted
		return s.appointmentEvent("booking.appointment.completed.v1", &appt)
	})
}

func (s *Service) ListAppointments(ctx context.Context, staffID, dateStr string) ([]model.Appointment, error) {
	date, err := s.ParseDate(dateStr)
	if err != nil {
		return nil, err
	}
	if _, err := s.getStaff(ctx, staffID); err != nil {
		return nil, err
	}
	dayStart := availability.MinuteToTime(date, 0, s.loc)
	return s.appointments.ListByStaffRange(ctx, staffID, dayStart, dayStart.AddDate(0, 0, 1))
}

// checkConflicts is the application-level half of the conflict guard: it
// exists to produce a friendly error with the blocking range. The database
// constraint stays in place for racing writers.
func (s *Service) checkConflicts(ctx context.Context, staffID string, start, end time.Time, excludeID string) error {
	existing, err := s.appointments.ListActiveOverlapping(ctx, staffID, start, end, excludeID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return &SlotConflictError{Start: existing[0].StartTime, End: existing[0].EndTime}
	}
	return nil
}

func (s *Service) checkedDate(raw string) (time.Time, error) {
	date, err := s.ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	if date.Before(s.todayStart()) {
		return time.Time{}, invalidArgf("cannot query past dates")
	}
	return date, nil
}

func (s *Service) todayStart() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) getStaff(ctx context.Context, id string) (model.Staff, error) {
	if id == "" {
		return model.Staff{}, invalidArgf("staff_id is required")
	}
	return s.catalog.GetStaff(ctx, id)
}

func (s *Service) getService(ctx context.Context, id string) (model.Service, error) {
	if id == "" {
		return model.Service{}, invalidArgf("service_id is required")
	}
	return s.catalog.GetService(ctx, id)
}

func (s *Service) appointmentEvent(eventType string, appt *model.Appointment) Event {
	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"staff_id":       appt.StaffID,
		"service_id":     appt.ServiceID,
		"customer_name":  appt.CustomerName,
		"customer_phone": appt.CustomerPhone,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	return Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}

func (s *Service) reminderEvents(appt *model.Appointment) []Event {
	if appt.CustomerPhone == "" {
		return nil
	}
	now := s.now()
	var events []Event
	for _, offset := range s.reminderOffsets {
		remindAt := appt.StartTime.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		payload, _ := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"business_id":    appt.BusinessID,
			"recipient":      appt.CustomerPhone,
			"remind_at":      remindAt.UTC().Format(time.RFC3339),
			"template_data": map[string]any{
				"customer_name": appt.CustomerName,
				"service_id":    appt.ServiceID,
				"start_time":    appt.StartTime.UTC().Format(time.RFC3339),
			},
		})
		events = append(events, Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     "booking.reminder.requested.v1",
			Payload:       payload,
		})
	}
	return events
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
