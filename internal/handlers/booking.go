package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mastertime-app/mastertime/internal/booking"
	"github.com/mastertime-app/mastertime/internal/model"
)

type BookingHandler struct {
	engine *booking.Service
	logger *slog.Logger
}

func NewBookingHandler(engine *booking.Service, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, logger: logger}
}

type slotItem struct {
	StaffID   string `json:"staff_id"`
	StaffName string `json:"staff_name"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type bookRequest struct {
	BusinessID    string `json:"business_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Address       string `json:"address"`
	StartTime     string `json:"start_time"`
	Confirm       bool   `json:"confirm"`
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	CustomerName  string `json:"customer_name"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	DurationMins  int    `json:"duration_mins"`
	Price         string `json:"price"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty"`
}

type workingHoursItem struct {
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

// Slots serves GET /api/v1/public/slots. With staff_id it returns one staff
// member's slots; without it, the aggregate over everyone offering the
// service.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	staffID := strings.TrimSpace(q.Get("staff_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	excludeID := strings.TrimSpace(q.Get("exclude_appointment_id"))
	if serviceID == "" || dateStr == "" {
		http.Error(w, "service_id and date are required", http.StatusBadRequest)
		return
	}

	var slots []booking.Slot
	var err error
	if staffID == "" {
		slots, err = h.engine.SlotsForService(r.Context(), serviceID, dateStr)
	} else {
		slots, err = h.engine.Slots(r.Context(), booking.SlotsRequest{
			StaffID:              staffID,
			ServiceID:            serviceID,
			Date:                 dateStr,
			ExcludeAppointmentID: excludeID,
		})
	}
	if err != nil {
		h.writeError(w, err, "failed to compute slots")
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StaffID:   s.StaffID,
			StaffName: s.StaffName,
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// Book serves POST /api/v1/public/book.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.StaffID == "" || req.ServiceID == "" || req.CustomerName == "" {
		http.Error(w, "staff_id, service_id and customer_name are required", http.StatusBadRequest)
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Book(r.Context(), booking.BookRequest{
		BusinessID:    req.BusinessID,
		StaffID:       req.StaffID,
		ServiceID:     req.ServiceID,
		CustomerName:  req.CustomerName,
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Address:       strings.TrimSpace(req.Address),
		StartTime:     startTime,
		Confirm:       req.Confirm,
	})
	if err != nil {
		h.writeError(w, err, "failed to book appointment")
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

type appointmentActionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
	StartTime     string `json:"start_time"`
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.appointmentAction(w, r, func(req appointmentActionRequest) (model.Appointment, error) {
		return h.engine.Confirm(r.Context(), req.AppointmentID)
	})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.appointmentAction(w, r, func(req appointmentActionRequest) (model.Appointment, error) {
		return h.engine.Cancel(r.Context(), req.AppointmentID, strings.TrimSpace(req.Reason))
	})
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.appointmentAction(w, r, func(req appointmentActionRequest) (model.Appointment, error) {
		return h.engine.Complete(r.Context(), req.AppointmentID)
	})
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	h.appointmentAction(w, r, func(req appointmentActionRequest) (model.Appointment, error) {
		newStart, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return model.Appointment{}, &booking.InvalidArgumentError{Reason: "invalid start_time"}
		}
		return h.engine.Reschedule(r.Context(), req.AppointmentID, newStart)
	})
}

func (h *BookingHandler) appointmentAction(w http.ResponseWriter, r *http.Request, action func(appointmentActionRequest) (model.Appointment, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req appointmentActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	appt, err := action(req)
	if err != nil {
		h.writeError(w, err, "appointment update failed")
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// List serves GET /api/v1/appointments?staff_id=&date=.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if staffID == "" || dateStr == "" {
		http.Error(w, "staff_id and date are required", http.StatusBadRequest)
		return
	}

	appts, err := h.engine.ListAppointments(r.Context(), staffID, dateStr)
	if err != nil {
		h.writeError(w, err, "failed to list appointments")
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, items)
}

// WorkingHours serves GET /api/v1/staff/working-hours?staff_id=&date=. An
// empty list means a day off.
func (h *BookingHandler) WorkingHours(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if staffID == "" || dateStr == "" {
		http.Error(w, "staff_id and date are required", http.StatusBadRequest)
		return
	}

	spans, err := h.engine.WorkingHours(r.Context(), staffID, dateStr)
	if err != nil {
		h.writeError(w, err, "failed to resolve working hours")
		return
	}
	items := make([]workingHoursItem, 0, len(spans))
	for _, s := range spans {
		items = append(items, workingHoursItem{
			StartMinute: s.Start,
			EndMinute:   s.End,
			Start:       formatMinute(s.Start),
			End:         formatMinute(s.End),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) writeError(w http.ResponseWriter, err error, fallback string) {
	var conflict *booking.SlotConflictError
	switch {
	case errors.As(err, &conflict):
		http.Error(w, conflict.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrSlotConflict):
		http.Error(w, "time slot already booked", http.StatusConflict)
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case booking.IsInvalidArgument(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(fallback, "err", err)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID: a.ID,
		BusinessID:    a.BusinessID,
		StaffID:       a.StaffID,
		ServiceID:     a.ServiceID,
		CustomerName:  a.CustomerName,
		StartTime:     a.StartTime.UTC().Format(time.RFC3339),
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
		DurationMins:  a.DurationMins,
		Price:         a.Price,
		Status:        a.Status,
		CancelReason:  a.CancelReason,
	}
	if a.CancelledAt != nil {
		resp.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
