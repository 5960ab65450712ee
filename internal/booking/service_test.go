package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mastertime-app/mastertime/internal/model"
	"github.com/mastertime-app/mastertime/internal/schedule"
)

// fakeAppointments keeps appointments in memory and mimics the storage
// contract, including the exclusion-constraint conflict on write.
type fakeAppointments struct {
	appts  map[string]model.Appointment
	events []Event
}

func newFakeAppointments() *fakeAppointments {
	return &fakeAppointments{appts: map[string]model.Appointment{}}
}

func (f *fakeAppointments) Get(_ context.Context, id string) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (f *fakeAppointments) ListActiveOverlapping(_ context.Context, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.StaffID != staffID || a.ID == excludeID || !model.IsActiveStatus(a.Status) {
			continue
		}
		if a.StartTime.Before(end) && a.EndTime.After(start) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointments) ListByStaffRange(_ context.Context, staffID string, start, end time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.StaffID == staffID && a.StartTime.Before(end) && !a.StartTime.Before(start) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointments) Create(ctx context.Context, appt *model.Appointment, events []Event) (model.Appointment, error) {
	overlapping, _ := f.ListActiveOverlapping(ctx, appt.StaffID, appt.StartTime, appt.EndTime, "")
	if model.IsActiveStatus(appt.Status) && len(overlapping) > 0 {
		return model.Appointment{}, ErrSlotConflict
	}
	appt.CreatedAt = time.Now()
	f.appts[appt.ID] = *appt
	f.events = append(f.events, events...)
	return *appt, nil
}

func (f *fakeAppointments) Reschedule(ctx context.Context, id string, start, end time.Time, events []Event) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	overlapping, _ := f.ListActiveOverlapping(ctx, a.StaffID, start, end, id)
	if len(overlapping) > 0 {
		return model.Appointment{}, ErrSlotConflict
	}
	a.StartTime = start
	a.EndTime = end
	f.appts[id] = a
	f.events = append(f.events, events...)
	return a, nil
}

func (f *fakeAppointments) SetStatus(_ context.Context, id, status, cancelReason string, events []Event) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	a.Status = status
	if status == model.StatusCancelled {
		now := time.Now()
		a.CancelledAt = &now
		a.CancelReason = cancelReason
	}
	f.appts[id] = a
	f.events = append(f.events, events...)
	return a, nil
}

func (f *fakeAppointments) CompletePast(_ context.Context, cutoff time.Time, event func(model.Appointment) Event) (int64, error) {
	var n int64
	for id, a := range f.appts {
		if a.Status == model.StatusConfirmed && !a.EndTime.After(cutoff) {
			a.Status = model.StatusCompleted
			f.appts[id] = a
			f.events = append(f.events, event(a))
			n++
		}
	}
	return n, nil
}

// racingAppointments models the database under concurrent writers: the
// read-side overlap query reports nothing (so the engine's pre-flight always
// passes) and the write path performs an atomic check-and-insert, standing in
// for the exclusion constraint as the sole authority.
type racingAppointments struct {
	mu    sync.Mutex
	appts map[string]model.Appointment
}

func (r *racingAppointments) Get(_ context.Context, id string) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (r *racingAppointments) ListActiveOverlapping(_ context.Context, _ string, _, _ time.Time, _ string) ([]model.Appointment, error) {
	return nil, nil
}

func (r *racingAppointments) ListByStaffRange(_ context.Context, _ string, _, _ time.Time) ([]model.Appointment, error) {
	return nil, nil
}

func (r *racingAppointments) Create(_ context.Context, appt *model.Appointment, _ []Event) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.StaffID != appt.StaffID || !model.IsActiveStatus(a.Status) {
			continue
		}
		if a.StartTime.Before(appt.EndTime) && a.EndTime.After(appt.StartTime) {
			return model.Appointment{}, ErrSlotConflict
		}
	}
	r.appts[appt.ID] = *appt
	return *appt, nil
}

func (r *racingAppointments) Reschedule(_ context.Context, id string, start, end time.Time, _ []Event) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	a.StartTime, a.EndTime = start, end
	r.appts[id] = a
	return a, nil
}

func (r *racingAppointments) SetStatus(_ context.Context, id, status, _ string, _ []Event) (model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	a.Status = status
	r.appts[id] = a
	return a, nil
}

func (r *racingAppointments) CompletePast(_ context.Context, _ time.Time, _ func(model.Appointment) Event) (int64, error) {
	return 0, nil
}

type fakeCatalog struct {
	staff    map[string]model.Staff
	services map[string]model.Service
	offering map[string][]string // serviceID -> staff IDs
}

func (f *fakeCatalog) GetStaff(_ context.Context, id string) (model.Staff, error) {
	s, ok := f.staff[id]
	if !ok {
		return model.Staff{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeCatalog) GetService(_ context.Context, id string) (model.Service, error) {
	s, ok := f.services[id]
	if !ok {
		return model.Service{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeCatalog) ListStaffForService(_ context.Context, serviceID string) ([]model.Staff, error) {
	var out []model.Staff
	for _, id := range f.offering[serviceID] {
		out = append(out, f.staff[id])
	}
	return out, nil
}

type fakeScheduleStore struct {
	templates  map[string]map[int]*schedule.TemplateEntry
	exceptions map[string]*schedule.Exception
	failFor    string
}

func (f *fakeScheduleStore) GetException(_ context.Context, staffID string, _ time.Time) (*schedule.Exception, error) {
	if staffID == f.failFor && f.failFor != "" {
		return nil, errors.New("malformed schedule row")
	}
	return f.exceptions[staffID], nil
}

func (f *fakeScheduleStore) GetTemplateEntry(_ context.Context, staffID string, weekday int) (*schedule.TemplateEntry, error) {
	return f.templates[staffID][weekday], nil
}

func (f *fakeScheduleStore) ListBlockers(_ context.Context, _ string, _ time.Time) ([]schedule.Blocker, error) {
	return nil, nil
}

// Fixed clock: Friday 2026-09-04 12:00 UTC. The Monday under test is 09-07.
var testNow = time.Date(2026, 9, 4, 12, 0, 0, 0, time.UTC)

const testMonday = "2026-09-07"

func newTestService(t *testing.T, appts AppointmentStore, sched schedule.Store) (*Service, *fakeCatalog) {
	t.Helper()
	catalog := &fakeCatalog{
		staff: map[string]model.Staff{
			"staff-1": {ID: "staff-1", BusinessID: "biz-1", Name: "Anna", IsActive: true},
			"staff-2": {ID: "staff-2", BusinessID: "biz-1", Name: "Boris", IsActive: true},
			"staff-3": {ID: "staff-3", BusinessID: "biz-1", Name: "Vera", IsActive: false},
		},
		services: map[string]model.Service{
			"svc-1": {ID: "svc-1", BusinessID: "biz-1", Name: "Haircut", BaseDurationMins: 45, BufferMins: 15, BasePrice: "30.00", IsActive: true},
		},
		offering: map[string][]string{"svc-1": {"staff-1", "staff-2"}},
	}
	if sched == nil {
		sched = &fakeScheduleStore{
			templates: map[string]map[int]*schedule.TemplateEntry{
				"staff-1": {1: {StaffID: "staff-1", Weekday: 1, StartMinute: 540, EndMinute: 1020}},
			},
		}
	}
	svc := NewService(appts, catalog, schedule.NewResolver(sched), slog.Default(), Config{
		Location:        time.UTC,
		StepMinutes:     30,
		ReminderOffsets: []time.Duration{24 * time.Hour},
		Now:             func() time.Time { return testNow },
	})
	return svc, catalog
}

func TestSlots_FullMonday(t *testing.T) {
	svc, _ := newTestService(t, newFakeAppointments(), nil)
	slots, err := svc.Slots(context.Background(), SlotsRequest{StaffID: "staff-1", ServiceID: "svc-1", Date: testMonday})
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 15 {
		t.Fatalf("expected 15 slots, got %d", len(slots))
	}
	first := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	last := time.Date(2026, 9, 7, 16, 0, 0, 0, time.UTC)
	if !slots[0].Start.Equal(first) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start)
	}
	if !slots[14].Start.Equal(last) {
		t.Fatalf("expected last slot 16:00, got %s", slots[14].Start)
	}
}

func TestSlots_BookedHourRemovesOverlappingStarts(t *testing.T) {
	appts := newFakeAppointments()
	appts.appts["a1"] = model.Appointment{
		ID: "a1", StaffID: "staff-1", Status: model.StatusConfirmed,
		StartTime: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC),
	}
	svc, _ := newTestService(t, appts, nil)
	slots, err := svc.Slots(context.Background(), SlotsRequest{StaffID: "staff-1", ServiceID: "svc-1", Date: testMonday})
	if err != nil {
		t.Fatal(err)
	}

	have := map[string]bool{}
	for _, s := range slots {
		have[s.Start.Format("15:04")] = true
	}
	if !have["09:00"] || !have["11:00"] {
		t.Fatalf("expected 09:00 and 11:00 offered, got %v", have)
	}
	for _, gone := range []string{"09:30", "10:00", "10:30"} {
		if have[gone] {
			t.Fatalf("slot %s overlaps the booking and must not be offered", gone)
		}
	}
}

func TestSlots_CancelledAppointmentDoesNotBlock(t *testing.T) {
	appts := newFakeAppointments()
	appts.appts["a1"] = model.Appointment{
		ID: "a1", StaffID: "staff-1", Status: model.StatusCancelled,
		StartTime: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC),
	}
	svc, _ := newTestService(t, appts, nil)
	slots, err := svc.Slots(context.Background(), SlotsRequest{StaffID: "staff-1", ServiceID: "svc-1", Date: testMonday})
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 15 {
		t.Fatalf("cancelled appointment must not block slots, got %d", len(slots))
	}
}

func TestSlots_PastDateRejected(t *testing.T) {
	svc, _ := newTestService(t, newFakeAppointments(), nil)
	_, err := svc.Slots(context.Background(), SlotsRequest{StaffID: "staff-1", ServiceID: "svc-1", Date: "2026-09-01"})
	if !IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument for past date, got %v", err)
	}
}

func TestSlots_MalformedDateRejected(t *testing.T) {
	svc, _ := newTestService(t, newFakeAppointments(), nil)
	_, err := svc.Slots(context.Background(), SlotsRequest{StaffID: "staff-1", ServiceID: "svc-1", Date: "07.09.2026"})
	if !IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument for malformed date, got %v", err)
	}
}

func TestSlots_UnknownServiceNotFound(t *testing.T) {
	svc, _ := newTestService(t, newFakeAppointments(), nil)
	_, err := svc.Slots(context.Background(), SlotsRequest{StaffID: "staff-1", ServiceID: "nope", Date: testMonday})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSlots_DayOffYieldsEmptyNotError(t *testing.T) {
	sched := &fakeScheduleStore{
		templates: map[string]map[int]*schedule.TemplateEntry{
			"staff-1": {1: {StaffID: "staff-1", Weekday: 1, StartMinute: 540, EndMinute: 1020}},
		},
		exceptions: map[string]*schedule.Exception{
			"staff-1": {StaffID: "staff-1", IsDayOff: true},
		},
	}
	svc, _ := newTestService(t, newFakeAppointments(), sched)
	slots, err := svc.Slots(context.Background(), SlotsRequest{StaffID: "staff-1", ServiceID: "svc-1", Date: testMonday})
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots on a day off, got %d", len(slots))
	}
}

func TestSlots_TodayCutoff(t *testing.T) {
	appts := newFakeAppointments()
	sched := &fakeScheduleStore{
		templates: map[string]map[int]*schedule.TemplateEntry{
			// Friday (weekday 5) 09:00-17:00; the fixed clock is Friday 12:00.
			"staff-1": {5: {StaffID: "staff-1", Weekday: 5, StartMinute: 540, EndMinute: 1020}},
		},
	}
	svc, _ := newTestService(t, appts, sched)
	slots, err := svc.Slots(context.Background(), SlotsRequest{StaffID: "staff-1", ServiceID: "svc-1", Date: "2026-09-04"})
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) == 0 {
		t.Fatal("expected afternoon slots")
	}
	noon := time.Date(2026, 9, 4, 12, 0, 0, 0, time.UTC)
	if slots[0].Start.Before(noon) {
		t.Fatalf("first slot %s precedes current time", slots[0].Start)
	}
}

func TestSlotsForService_SkipsFailingStaff(t *testing.T) {
	sched := &fakeScheduleStore{
		templates: map[string]map[int]*schedule.TemplateEntry{
			"staff-1": {1: {StaffID: "staff-1", Weekday: 1, StartMinute: 540, EndMinute: 1020}},
			"staff-2": {1: {StaffID: "staff-2", Weekday: 1, StartMinute: 540, EndMinute: 1020}},
		},
		failFor: "staff-2",
	}
	svc, _ := newTestService(t, newFakeAppointments(), sched)
	slots, err := svc.SlotsForService(context.Background(), "svc-1", testMonday)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 15 {
		t.Fatalf("expected staff-1's 15 slots with staff-2 skipped, got %d", len(slots))
	}
	for _, s := range slots {
		if s.StaffID != "staff-1" {
			t.Fatalf("unexpected staff %s in aggregate", s.StaffID)
		}
	}
}

func TestBook_SnapshotsDurationAndPrice(t *testing.T) {
	appts := newFakeAppointments()
	svc, catalog := newTestService(t, appts, nil)
	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)

	appt, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", CustomerPhone: "+70000000001", StartTime: start,
	})
	if err != nil {
		t.Fatal(err)
	}
	if appt.DurationMins != 60 {
		t.Fatalf("expected snapshot duration 60 (45+15), got %d", appt.DurationMins)
	}
	if appt.Price != "30.00" {
		t.Fatalf("expected snapshot price 30.00, got %s", appt.Price)
	}
	if !appt.EndTime.Equal(start.Add(60 * time.Minute)) {
		t.Fatalf("end_time not derived from start + duration: %s", appt.EndTime)
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("expected PENDING, got %s", appt.Status)
	}

	// A later catalog edit must not touch the stored appointment.
	edited := catalog.services["svc-1"]
	edited.BaseDurationMins = 90
	edited.BasePrice = "99.00"
	catalog.services["svc-1"] = edited

	stored, err := svc.appointments.Get(context.Background(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.DurationMins != 60 || stored.Price != "30.00" {
		t.Fatalf("catalog edit leaked into appointment: %d %s", stored.DurationMins, stored.Price)
	}
}

func TestBook_EmitsBookedAndReminderEvents(t *testing.T) {
	appts := newFakeAppointments()
	svc, _ := newTestService(t, appts, nil)
	_, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", CustomerPhone: "+70000000001",
		StartTime: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	var booked, reminders int
	for _, e := range appts.events {
		switch e.EventType {
		case "booking.appointment.booked.v1":
			booked++
		case "booking.reminder.requested.v1":
			reminders++
		}
	}
	if booked != 1 || reminders != 1 {
		t.Fatalf("expected 1 booked + 1 reminder event, got %d/%d", booked, reminders)
	}
}

func TestBook_ConflictAtEitherBoundary(t *testing.T) {
	appts := newFakeAppointments()
	svc, _ := newTestService(t, appts, nil)
	base := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)

	if _, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: base,
	}); err != nil {
		t.Fatal(err)
	}

	for _, offset := range []time.Duration{-30 * time.Minute, 0, 30 * time.Minute} {
		_, err := svc.Book(context.Background(), BookRequest{
			BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
			CustomerName: "Petr", StartTime: base.Add(offset),
		})
		var conflict *SlotConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("offset %s: expected SlotConflictError, got %v", offset, err)
		}
		if !errors.Is(err, ErrSlotConflict) {
			t.Fatalf("conflict error must match ErrSlotConflict sentinel")
		}
	}

	// Half-open intervals: an appointment starting exactly at the previous
	// end does not conflict.
	if _, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Petr", StartTime: base.Add(60 * time.Minute),
	}); err != nil {
		t.Fatalf("back-to-back booking must succeed, got %v", err)
	}
}

func TestBook_ConcurrentAttemptsExactlyOneWins(t *testing.T) {
	store := &racingAppointments{appts: map[string]model.Appointment{}}
	svc, _ := newTestService(t, store, nil)
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(context.Background(), BookRequest{
				BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
				CustomerName: fmt.Sprintf("customer-%d", i), StartTime: start,
			})
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != attempts-1 {
		t.Fatalf("expected exactly 1 success and %d conflicts, got %d/%d", attempts-1, wins, conflicts)
	}
	if len(store.appts) != 1 {
		t.Fatalf("expected exactly 1 stored appointment, got %d", len(store.appts))
	}
}

func TestBook_InactiveStaffRejected(t *testing.T) {
	svc, _ := newTestService(t, newFakeAppointments(), nil)
	_, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-3", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
	})
	if !IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument for inactive staff, got %v", err)
	}
}

func TestSlots_InactiveStaffRejected(t *testing.T) {
	svc, _ := newTestService(t, newFakeAppointments(), nil)
	_, err := svc.Slots(context.Background(), SlotsRequest{StaffID: "staff-3", ServiceID: "svc-1", Date: testMonday})
	if !IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument for inactive staff, got %v", err)
	}
}

func TestBook_PastStartRejected(t *testing.T) {
	svc, _ := newTestService(t, newFakeAppointments(), nil)
	_, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: testNow.Add(-time.Hour),
	})
	if !IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument for past start, got %v", err)
	}
}

func TestBook_UnknownStaffNotFound(t *testing.T) {
	svc, _ := newTestService(t, newFakeAppointments(), nil)
	_, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "ghost", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: testNow.Add(time.Hour),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReschedule_ExcludesSelfFromConflictCheck(t *testing.T) {
	appts := newFakeAppointments()
	svc, _ := newTestService(t, appts, nil)
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)

	appt, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: start,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Shift by 30 minutes: overlaps its own old window, which must not count.
	moved, err := svc.Reschedule(context.Background(), appt.ID, start.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !moved.EndTime.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("end_time not recomputed from snapshot duration: %s", moved.EndTime)
	}
}

func TestReschedule_ConflictWithOtherAppointment(t *testing.T) {
	appts := newFakeAppointments()
	svc, _ := newTestService(t, appts, nil)
	first := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	second := time.Date(2026, 9, 7, 14, 0, 0, 0, time.UTC)

	if _, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: first,
	}); err != nil {
		t.Fatal(err)
	}
	b, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Petr", StartTime: second,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Reschedule(context.Background(), b.ID, first.Add(30*time.Minute))
	var conflict *SlotConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected SlotConflictError, got %v", err)
	}
}

func TestReschedule_TerminalStatusRejected(t *testing.T) {
	appts := newFakeAppointments()
	svc, _ := newTestService(t, appts, nil)
	appt, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Cancel(context.Background(), appt.ID, "client request"); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Reschedule(context.Background(), appt.ID, time.Date(2026, 9, 7, 14, 0, 0, 0, time.UTC))
	if !IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument for cancelled appointment, got %v", err)
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	appts := newFakeAppointments()
	svc, _ := newTestService(t, appts, nil)
	appt, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Completing a PENDING appointment is not allowed.
	if _, err := svc.Complete(context.Background(), appt.ID); !IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument completing PENDING, got %v", err)
	}

	confirmed, err := svc.Confirm(context.Background(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if confirmed.Status != model.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", confirmed.Status)
	}
	// Confirming twice is a no-op.
	if _, err := svc.Confirm(context.Background(), appt.ID); err != nil {
		t.Fatalf("double confirm must be a no-op, got %v", err)
	}

	completed, err := svc.Complete(context.Background(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if completed.Status != model.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", completed.Status)
	}
	// No transition out of COMPLETED.
	if _, err := svc.Cancel(context.Background(), appt.ID, ""); !IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument cancelling COMPLETED, got %v", err)
	}
}

func TestCancel_IsIdempotent(t *testing.T) {
	appts := newFakeAppointments()
	svc, _ := newTestService(t, appts, nil)
	appt, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	first, err := svc.Cancel(context.Background(), appt.ID, "client request")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != model.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", first.Status)
	}
	eventsAfterFirst := len(appts.events)

	second, err := svc.Cancel(context.Background(), appt.ID, "again")
	if err != nil {
		t.Fatalf("second cancel must be a no-op, got %v", err)
	}
	if second.Status != model.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", second.Status)
	}
	if len(appts.events) != eventsAfterFirst {
		t.Fatal("second cancel must not emit another event")
	}
}

func TestCancelledSlotBecomesBookableAgain(t *testing.T) {
	appts := newFakeAppointments()
	svc, _ := newTestService(t, appts, nil)
	start := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)

	appt, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Ivan", StartTime: start,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Cancel(context.Background(), appt.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Book(context.Background(), BookRequest{
		BusinessID: "biz-1", StaffID: "staff-1", ServiceID: "svc-1",
		CustomerName: "Petr", StartTime: start,
	}); err != nil {
		t.Fatalf("slot freed by cancellation must be bookable, got %v", err)
	}
}

func TestCompletePast_SweepsConfirmedOnly(t *testing.T) {
	appts := newFakeAppointments()
	svc, _ := newTestService(t, appts, nil)
	past := testNow.Add(-2 * time.Hour)
	appts.appts["done"] = model.Appointment{
		ID: "done", StaffID: "staff-1", Status: model.StatusConfirmed,
		StartTime: past, EndTime: past.Add(time.Hour),
	}
	appts.appts["pending"] = model.Appointment{
		ID: "pending", StaffID: "staff-1", Status: model.StatusPending,
		StartTime: past, EndTime: past.Add(time.Hour),
	}

	n, err := svc.CompletePast(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept appointment, got %d", n)
	}
	if appts.appts["done"].Status != model.StatusCompleted {
		t.Fatal("confirmed past appointment not completed")
	}
	if appts.appts["pending"].Status != model.StatusPending {
		t.Fatal("pending appointment must not be auto-completed")
	}

	// The sweep announces completions the same way the manual path does.
	var completed int
	for _, e := range appts.events {
		if e.EventType == "booking.appointment.completed.v1" {
			completed++
			if e.AggregateID != "done" {
				t.Fatalf("completed event for wrong appointment: %s", e.AggregateID)
			}
		}
	}
	if completed != 1 {
		t.Fatalf("expected 1 completed event from the sweep, got %d", completed)
	}
}
