package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/reluam/pokrok.app-sub006/libs/auth"
	"github.com/reluam/pokrok.app-sub006/libs/httpx"
	"github.com/reluam/pokrok.app-sub006/libs/metrics"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/outbox"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/storage"
)

type SessionHandler struct {
	bookings   BookingStore
	sessions   SessionStore
	contacts   *storage.ContactRepository
	outboxRepo *outbox.Repository
	resolver   SlotResolver
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewSessionHandler(bookings BookingStore, sessions SessionStore, contacts *storage.ContactRepository, outboxRepo *outbox.Repository, resolver SlotResolver, m *metrics.Metrics, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		bookings:   bookings,
		sessions:   sessions,
		contacts:   contacts,
		outboxRepo: outboxRepo,
		resolver:   resolver,
		metrics:    m,
		logger:     logger,
	}
}

type createSessionRequest struct {
	ClientName      string `json:"client_name"`
	ClientEmail     string `json:"client_email"`
	Title           string `json:"title"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

type rescheduleSessionRequest struct {
	SessionID       string `json:"session_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

type sessionResponse struct {
	SessionID       string `json:"session_id"`
	ClientID        string `json:"client_id"`
	ScheduledAt     string `json:"scheduled_at,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
}

// parseOptionalTime accepts an empty value as "no date".
func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New("scheduled_at must be RFC3339")
	}
	t = t.UTC()
	return &t, nil
}

func (req *createSessionRequest) validate() (*time.Time, error) {
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	req.Title = strings.TrimSpace(req.Title)
	if req.ClientEmail == "" {
		return nil, errors.New("client_email is required")
	}
	if _, err := mail.ParseAddress(req.ClientEmail); err != nil {
		return nil, errors.New("invalid client_email")
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > maxDurationMinutes {
		return nil, errors.New("invalid duration_minutes")
	}
	return parseOptionalTime(req.ScheduledAt)
}

// Create serves POST /api/v1/sessions: the coach schedules a session with an
// attendee, creating the client and lead on first contact.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	scheduledAt, err := req.validate()
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	duration := req.DurationMinutes
	if duration == 0 {
		duration = model.DefaultDurationMinutes
	}

	ctx := r.Context()
	tx, err := h.bookings.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if scheduledAt != nil {
		if err := claimSlot(ctx, h.bookings, h.resolver, tx, userID, *scheduledAt, duration, ""); err != nil {
			h.writeClaimError(w, r, "create_session", err)
			return
		}
	}

	clientID, err := h.contacts.UpsertClient(ctx, tx, userID, req.ClientName, req.ClientEmail)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to save client")
		return
	}
	if _, err := h.contacts.UpsertLead(ctx, tx, userID, req.ClientName, req.ClientEmail, "session"); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to save lead")
		return
	}

	session := &model.Session{
		ClientID:        clientID,
		UserID:          userID,
		Title:           req.Title,
		ScheduledAt:     scheduledAt,
		DurationMinutes: &duration,
	}
	id, err := h.sessions.Create(ctx, tx, session)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to create session")
		return
	}

	resp := sessionResponse{SessionID: id, ClientID: clientID, DurationMinutes: duration}
	if scheduledAt != nil {
		resp.ScheduledAt = scheduledAt.Format(availability.SlotLayout)
		evt, err := outbox.NewEvent("session", id, outbox.SessionScheduled, map[string]any{
			"session_id":       id,
			"client_id":        clientID,
			"user_id":          userID,
			"scheduled_at":     resp.ScheduledAt,
			"duration_minutes": duration,
		})
		if err == nil {
			err = h.outboxRepo.Insert(ctx, tx, evt)
		}
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

// Reschedule serves PUT /api/v1/sessions/reschedule. The session's current
// time does not count against its new one.
func (h *SessionHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req rescheduleSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	scheduledAt, err := parseOptionalTime(req.ScheduledAt)
	if err != nil || scheduledAt == nil || req.SessionID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "session_id and scheduled_at are required")
		return
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > maxDurationMinutes {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid duration_minutes")
		return
	}

	ctx := r.Context()
	tx, err := h.bookings.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	session, err := h.sessions.GetForUpdate(ctx, tx, userID, req.SessionID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, r, http.StatusNotFound, "session not found")
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load session")
		return
	}

	var newDuration *int
	duration := int(model.EffectiveDuration(session.DurationMinutes) / time.Minute)
	if req.DurationMinutes > 0 {
		duration = req.DurationMinutes
		newDuration = &duration
	}

	if err := claimSlot(ctx, h.bookings, h.resolver, tx, userID, *scheduledAt, duration, session.ID); err != nil {
		h.writeClaimError(w, r, "reschedule_session", err)
		return
	}
	if err := h.sessions.Reschedule(ctx, tx, session.ID, *scheduledAt, newDuration); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to reschedule session")
		return
	}

	resp := sessionResponse{
		SessionID:       session.ID,
		ClientID:        session.ClientID,
		ScheduledAt:     scheduledAt.Format(availability.SlotLayout),
		DurationMinutes: duration,
	}
	previous := ""
	if session.ScheduledAt != nil {
		previous = session.ScheduledAt.UTC().Format(availability.SlotLayout)
	}
	evt, err := outbox.NewEvent("session", session.ID, outbox.SessionRescheduled, map[string]any{
		"session_id":            session.ID,
		"user_id":               userID,
		"previous_scheduled_at": previous,
		"scheduled_at":          resp.ScheduledAt,
		"duration_minutes":      duration,
	})
	if err == nil {
		err = h.outboxRepo.Insert(ctx, tx, evt)
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) writeClaimError(w http.ResponseWriter, r *http.Request, flow string, err error) {
	if errors.Is(err, errSlotTaken) {
		h.metrics.SlotConflict(flow)
		httpx.WriteError(w, r, http.StatusConflict, err.Error())
		return
	}
	h.logger.Error("slot check failed", "flow", flow, "err", err)
	httpx.WriteError(w, r, http.StatusServiceUnavailable, "availability check failed")
}
