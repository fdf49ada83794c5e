package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reluam/pokrok.app-sub006/libs/auth"
	"github.com/reluam/pokrok.app-sub006/libs/httpx"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/storage"
)

const maxWindows = 100

// AvailabilityHandler edits the coach's weekly and per-event windows. Every
// save replaces the whole set.
type AvailabilityHandler struct {
	repo   *storage.WindowRepository
	logger *slog.Logger
}

func NewAvailabilityHandler(repo *storage.WindowRepository, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{repo: repo, logger: logger}
}

type windowItem struct {
	ID                  string `json:"id,omitempty"`
	DayOfWeek           int    `json:"day_of_week"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	SlotDurationMinutes int    `json:"slot_duration_minutes,omitempty"`
}

type windowsBody struct {
	Windows []windowItem `json:"windows"`
}

type eventWindowsResponse struct {
	EventID         string       `json:"event_id"`
	DurationMinutes int          `json:"duration_minutes"`
	Windows         []windowItem `json:"windows"`
}

// parseWindows validates items into availability windows. Per-event windows
// take their duration from the event, so requireDuration is false for them.
func parseWindows(items []windowItem, requireDuration bool) ([]availability.Window, error) {
	if len(items) > maxWindows {
		return nil, fmt.Errorf("at most %d windows are allowed", maxWindows)
	}
	out := make([]availability.Window, 0, len(items))
	for i, item := range items {
		start, err := availability.ParseClock(item.StartTime)
		if err != nil {
			return nil, fmt.Errorf("windows[%d]: %w", i, err)
		}
		end, err := availability.ParseClock(item.EndTime)
		if err != nil {
			return nil, fmt.Errorf("windows[%d]: %w", i, err)
		}
		if item.DayOfWeek < 0 || item.DayOfWeek > 6 {
			return nil, fmt.Errorf("windows[%d]: day_of_week must be 0-6", i)
		}
		if start >= end {
			return nil, fmt.Errorf("windows[%d]: start_time must be before end_time", i)
		}
		w := availability.Window{DayOfWeek: item.DayOfWeek, StartMinute: start, EndMinute: end}
		if requireDuration {
			if item.SlotDurationMinutes <= 0 || item.SlotDurationMinutes > maxDurationMinutes {
				return nil, fmt.Errorf("windows[%d]: invalid slot_duration_minutes", i)
			}
			w.SlotDurationMinutes = item.SlotDurationMinutes
		}
		out = append(out, w)
	}
	return out, nil
}

// Windows serves GET and PUT /api/v1/availability.
func (h *AvailabilityHandler) Windows(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var body windowsBody
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
			return
		}
		windows, err := parseWindows(body.Windows, true)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		stored := make([]model.AvailabilityWindow, 0, len(windows))
		for _, win := range windows {
			stored = append(stored, model.AvailabilityWindow{
				UserID:              userID,
				DayOfWeek:           win.DayOfWeek,
				StartMinute:         win.StartMinute,
				EndMinute:           win.EndMinute,
				SlotDurationMinutes: win.SlotDurationMinutes,
			})
		}
		if err := h.repo.ReplaceWindows(r.Context(), userID, stored); err != nil {
			h.logger.Error("save windows failed", "user_id", userID, "err", err)
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to save availability")
			return
		}
	default:
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	windows, err := h.repo.ListWindows(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load availability")
		return
	}
	items := make([]windowItem, 0, len(windows))
	for _, win := range windows {
		items = append(items, windowItem{
			ID:                  win.ID,
			DayOfWeek:           win.DayOfWeek,
			StartTime:           availability.FormatClock(win.StartMinute),
			EndTime:             availability.FormatClock(win.EndMinute),
			SlotDurationMinutes: win.SlotDurationMinutes,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, windowsBody{Windows: items})
}

// EventWindows serves GET and PUT /api/v1/events/availability?event_id=.
func (h *AvailabilityHandler) EventWindows(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPut {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	eventID := strings.TrimSpace(r.URL.Query().Get("event_id"))
	if eventID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "event_id is required")
		return
	}

	var body windowsBody
	var windows []availability.Window
	if r.Method == http.MethodPut {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
			return
		}
		var err error
		if windows, err = parseWindows(body.Windows, false); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx := r.Context()
	evt, err := h.repo.GetEvent(ctx, eventID)
	if err != nil || evt.UserID != userID {
		if err != nil && !storage.IsNotFound(err) {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load event")
			return
		}
		httpx.WriteError(w, r, http.StatusNotFound, "event not found")
		return
	}

	if r.Method == http.MethodPut {
		stored := make([]model.EventAvailabilityWindow, 0, len(windows))
		for _, win := range windows {
			stored = append(stored, model.EventAvailabilityWindow{
				EventID:     eventID,
				DayOfWeek:   win.DayOfWeek,
				StartMinute: win.StartMinute,
				EndMinute:   win.EndMinute,
			})
		}
		if err := h.repo.ReplaceEventWindows(ctx, userID, eventID, stored); err != nil {
			if errors.Is(err, storage.ErrNotOwner) || storage.IsNotFound(err) {
				httpx.WriteError(w, r, http.StatusNotFound, "event not found")
				return
			}
			h.logger.Error("save event windows failed", "event_id", eventID, "err", err)
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to save availability")
			return
		}
	}

	stored, err := h.repo.ListEventWindows(ctx, eventID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load availability")
		return
	}
	resp := eventWindowsResponse{EventID: evt.ID, DurationMinutes: evt.DurationMinutes, Windows: make([]windowItem, 0, len(stored))}
	for _, win := range stored {
		resp.Windows = append(resp.Windows, windowItem{
			ID:        win.ID,
			DayOfWeek: win.DayOfWeek,
			StartTime: availability.FormatClock(win.StartMinute),
			EndTime:   availability.FormatClock(win.EndMinute),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
