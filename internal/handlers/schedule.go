package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mastertime-app/mastertime/internal/booking"
	"github.com/mastertime-app/mastertime/internal/schedule"
	"github.com/mastertime-app/mastertime/internal/storage"
)

// ScheduleHandler covers the back-office writes: weekly templates, per-date
// exceptions and intraday blockers. Changes take effect on the next
// availability read; existing appointments are never touched.
type ScheduleHandler struct {
	repo   *storage.ScheduleRepository
	logger *slog.Logger
	loc    *time.Location
}

func NewScheduleHandler(repo *storage.ScheduleRepository, logger *slog.Logger, loc *time.Location) *ScheduleHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ScheduleHandler{repo: repo, logger: logger, loc: loc}
}

type templateRequest struct {
	StaffID     string `json:"staff_id"`
	Weekday     int    `json:"weekday"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
}

// Template serves PUT (upsert) and DELETE on /api/v1/admin/schedule/template.
// Deleting the entry makes that weekday a day off.
func (h *ScheduleHandler) Template(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.StaffID = strings.TrimSpace(req.StaffID)
	if req.StaffID == "" {
		http.Error(w, "staff_id required", http.StatusBadRequest)
		return
	}
	if req.Weekday < 0 || req.Weekday > 6 {
		http.Error(w, "weekday must be 0 (Sunday) through 6 (Saturday)", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		entry := schedule.TemplateEntry{
			StaffID:     req.StaffID,
			Weekday:     req.Weekday,
			StartMinute: req.StartMinute,
			EndMinute:   req.EndMinute,
		}
		if !entry.Valid() {
			http.Error(w, "start_minute must be before end_minute within 0..1440", http.StatusBadRequest)
			return
		}
		if err := h.repo.UpsertTemplateEntry(r.Context(), entry); err != nil {
			h.logger.Error("template upsert failed", "err", err)
			http.Error(w, "failed to save template", http.StatusInternalServerError)
			return
		}
	case http.MethodDelete:
		if err := h.repo.DeleteTemplateEntry(r.Context(), req.StaffID, req.Weekday); err != nil {
			h.logger.Error("template delete failed", "err", err)
			http.Error(w, "failed to delete template", http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exceptionRequest struct {
	StaffID     string `json:"staff_id"`
	Date        string `json:"date"`
	IsDayOff    bool   `json:"is_day_off"`
	StartMinute *int   `json:"start_minute"`
	EndMinute   *int   `json:"end_minute"`
}

// Exception serves PUT (upsert) and DELETE on /api/v1/admin/schedule/exception.
// An override must carry both minute bounds; a day off carries neither.
func (h *ScheduleHandler) Exception(w http.ResponseWriter, r *http.Request) {
	var req exceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.StaffID = strings.TrimSpace(req.StaffID)
	if req.StaffID == "" {
		http.Error(w, "staff_id required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), h.loc)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		if !req.IsDayOff {
			if req.StartMinute == nil || req.EndMinute == nil {
				http.Error(w, "override requires start_minute and end_minute", http.StatusBadRequest)
				return
			}
			if *req.StartMinute < 0 || *req.EndMinute > 24*60 || *req.StartMinute >= *req.EndMinute {
				http.Error(w, "start_minute must be before end_minute within 0..1440", http.StatusBadRequest)
				return
			}
		}
		exc := schedule.Exception{
			StaffID:  req.StaffID,
			Date:     date,
			IsDayOff: req.IsDayOff,
		}
		if !req.IsDayOff {
			exc.StartMinute = req.StartMinute
			exc.EndMinute = req.EndMinute
		}
		if err := h.repo.UpsertException(r.Context(), exc); err != nil {
			h.logger.Error("exception upsert failed", "err", err)
			http.Error(w, "failed to save exception", http.StatusInternalServerError)
			return
		}
	case http.MethodDelete:
		if err := h.repo.DeleteException(r.Context(), req.StaffID, date); err != nil {
			h.logger.Error("exception delete failed", "err", err)
			http.Error(w, "failed to delete exception", http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type blockerRequest struct {
	StaffID     string `json:"staff_id"`
	Date        string `json:"date"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Reason      string `json:"reason"`
}

type blockerResponse struct {
	BlockerID string `json:"blocker_id"`
}

// CreateBlocker serves POST /api/v1/admin/schedule/blockers.
func (h *ScheduleHandler) CreateBlocker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req blockerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.StaffID = strings.TrimSpace(req.StaffID)
	if req.StaffID == "" {
		http.Error(w, "staff_id required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), h.loc)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	if req.StartMinute < 0 || req.EndMinute > 24*60 || req.StartMinute >= req.EndMinute {
		http.Error(w, "start_minute must be before end_minute within 0..1440", http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateBlocker(r.Context(), schedule.Blocker{
		StaffID:     req.StaffID,
		Date:        date,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
		Reason:      strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.logger.Error("blocker create failed", "err", err)
		http.Error(w, "failed to create blocker", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, blockerResponse{BlockerID: id})
}

type deleteBlockerRequest struct {
	BlockerID string `json:"blocker_id"`
}

// DeleteBlocker serves POST /api/v1/admin/schedule/blockers/delete.
func (h *ScheduleHandler) DeleteBlocker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req deleteBlockerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BlockerID = strings.TrimSpace(req.BlockerID)
	if req.BlockerID == "" {
		http.Error(w, "blocker_id required", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeleteBlocker(r.Context(), req.BlockerID); err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			http.Error(w, "blocker not found", http.StatusNotFound)
			return
		}
		h.logger.Error("blocker delete failed", "err", err)
		http.Error(w, "failed to delete blocker", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
