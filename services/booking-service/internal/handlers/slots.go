package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reluam/pokrok.app-sub006/libs/httpx"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
)

// SlotResolver is the availability surface the handlers depend on.
type SlotResolver interface {
	GetAvailableSlots(ctx context.Context, fromDate, toDate, userID string) ([]availability.Slot, error)
	GetAvailableSlotsForEvent(ctx context.Context, eventID, fromDate, toDate string) ([]availability.Slot, error)
	IsSlotFree(ctx context.Context, scheduledAt time.Time, durationMinutes int, userID, excludeSessionID string) (bool, error)
}

type SlotsHandler struct {
	resolver     SlotResolver
	maxRangeDays int
	logger       *slog.Logger
}

func NewSlotsHandler(resolver SlotResolver, maxRangeDays int, logger *slog.Logger) *SlotsHandler {
	if maxRangeDays <= 0 {
		maxRangeDays = 62
	}
	return &SlotsHandler{resolver: resolver, maxRangeDays: maxRangeDays, logger: logger}
}

// Slots serves GET /api/v1/public/slots?user_id=&from=&to=.
func (h *SlotsHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	from, to, err := h.dateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	slots, err := h.resolver.GetAvailableSlots(r.Context(), from, to, userID)
	if err != nil {
		h.logger.Error("list slots failed", "user_id", userID, "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load slots")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slots)
}

// EventSlots serves GET /api/v1/public/events/slots?event_id=&from=&to=.
func (h *SlotsHandler) EventSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	eventID := strings.TrimSpace(q.Get("event_id"))
	if eventID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "event_id is required")
		return
	}
	from, to, err := h.dateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	slots, err := h.resolver.GetAvailableSlotsForEvent(r.Context(), eventID, from, to)
	if err != nil {
		if errors.Is(err, availability.ErrEventNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Error("list event slots failed", "event_id", eventID, "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load slots")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slots)
}

// dateRange validates YYYY-MM-DD bounds and the maximum span.
func (h *SlotsHandler) dateRange(rawFrom, rawTo string) (string, string, error) {
	rawFrom, rawTo = strings.TrimSpace(rawFrom), strings.TrimSpace(rawTo)
	if rawFrom == "" || rawTo == "" {
		return "", "", errors.New("from and to are required")
	}
	from, err := time.Parse(availability.DateLayout, rawFrom)
	if err != nil {
		return "", "", errors.New("from must be YYYY-MM-DD")
	}
	to, err := time.Parse(availability.DateLayout, rawTo)
	if err != nil {
		return "", "", errors.New("to must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return "", "", errors.New("to must not be before from")
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > h.maxRangeDays {
		return "", "", fmt.Errorf("range exceeds %d days", h.maxRangeDays)
	}
	return rawFrom, rawTo, nil
}
