package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/reluam/pokrok.app-sub006/libs/auth"
	"github.com/reluam/pokrok.app-sub006/libs/httpx"
	"github.com/reluam/pokrok.app-sub006/libs/metrics"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/availability"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/outbox"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/storage"
)

const maxDurationMinutes = 8 * 60

var errSlotTaken = errors.New("slot no longer available")

type BookingHandler struct {
	repo       BookingStore
	windows    *storage.WindowRepository
	contacts   *storage.ContactRepository
	outboxRepo *outbox.Repository
	resolver   SlotResolver
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewBookingHandler(repo BookingStore, windows *storage.WindowRepository, contacts *storage.ContactRepository, outboxRepo *outbox.Repository, resolver SlotResolver, m *metrics.Metrics, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:       repo,
		windows:    windows,
		contacts:   contacts,
		outboxRepo: outboxRepo,
		resolver:   resolver,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

type createBookingRequest struct {
	UserID          string `json:"user_id"`
	EventID         string `json:"event_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Note            string `json:"note"`
}

type bookingResponse struct {
	BookingID       string `json:"booking_id"`
	Status          string `json:"status"`
	ScheduledAt     string `json:"scheduled_at"`
	EndsAt          string `json:"ends_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

type updateStatusRequest struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type listBookingItem struct {
	BookingID       string `json:"booking_id"`
	EventID         string `json:"event_id,omitempty"`
	LeadID          string `json:"lead_id,omitempty"`
	ScheduledAt     string `json:"scheduled_at"`
	EndsAt          string `json:"ends_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Note            string `json:"note,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// validate normalizes the request. The caller resolves event ownership and
// duration afterwards.
func (req *createBookingRequest) validate(now time.Time) (time.Time, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.EventID = strings.TrimSpace(req.EventID)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Note = strings.TrimSpace(req.Note)

	if req.UserID == "" && req.EventID == "" {
		return time.Time{}, errors.New("user_id or event_id is required")
	}
	if req.Name == "" || req.Email == "" {
		return time.Time{}, errors.New("name and email are required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return time.Time{}, errors.New("invalid email")
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		return time.Time{}, errors.New("scheduled_at must be RFC3339")
	}
	if !at.After(now) {
		return time.Time{}, errors.New("scheduled_at must be in the future")
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > maxDurationMinutes {
		return time.Time{}, errors.New("invalid duration_minutes")
	}
	return at.UTC(), nil
}

// Create serves the public POST /api/v1/public/bookings. The slot is claimed
// under a per-coach lock so concurrent requests for one time cannot both
// succeed.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	scheduledAt, err := req.validate(h.now())
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	booking := &model.Booking{
		UserID:      req.UserID,
		EventID:     req.EventID,
		ScheduledAt: scheduledAt,
		Status:      model.BookingPending,
		Name:        req.Name,
		Email:       req.Email,
		Note:        req.Note,
	}
	duration := req.DurationMinutes
	if req.EventID != "" {
		evt, err := h.windows.GetEvent(ctx, req.EventID)
		if err != nil || !evt.IsActive || (req.UserID != "" && req.UserID != evt.UserID) {
			if err != nil && !storage.IsNotFound(err) {
				httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load event")
				return
			}
			httpx.WriteError(w, r, http.StatusNotFound, "event not found")
			return
		}
		booking.UserID = evt.UserID
		duration = evt.DurationMinutes
	}
	if duration <= 0 {
		duration = model.DefaultDurationMinutes
	}
	booking.DurationMinutes = &duration

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, booking.UserID, idempotencyKey)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to lock idempotency key")
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	if err := claimSlot(ctx, h.repo, h.resolver, tx, booking.UserID, scheduledAt, duration, ""); err != nil {
		if errors.Is(err, errSlotTaken) {
			h.metrics.SlotConflict("public_booking")
			if idempotencyKey != "" && h.finalizeIdempotencyError(ctx, tx, booking.UserID, idempotencyKey, r, http.StatusConflict, err.Error()) {
				_ = tx.Commit(ctx)
			}
			httpx.WriteError(w, r, http.StatusConflict, err.Error())
			return
		}
		// Not finalized: the client may retry with the same key.
		h.logger.Error("slot check failed", "user_id", booking.UserID, "err", err)
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "availability check failed")
		return
	}

	leadID, err := h.contacts.UpsertLead(ctx, tx, booking.UserID, booking.Name, booking.Email, "booking")
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to save lead")
		return
	}
	booking.LeadID = leadID

	id, err := h.repo.Create(ctx, tx, booking)
	if err != nil {
		if storage.IsConflict(err) {
			httpx.WriteError(w, r, http.StatusConflict, errSlotTaken.Error())
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to create booking")
		return
	}

	evt, err := outbox.NewEvent("booking", id, outbox.BookingCreated, map[string]any{
		"booking_id":       id,
		"user_id":          booking.UserID,
		"event_id":         booking.EventID,
		"lead_id":          booking.LeadID,
		"scheduled_at":     scheduledAt.Format(availability.SlotLayout),
		"duration_minutes": duration,
		"name":             booking.Name,
		"email":            booking.Email,
		"status":           string(booking.Status),
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to build event payload")
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, evt); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	booking.ID = id
	respBody, err := json.Marshal(toBookingResponse(*booking))
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to build response")
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, booking.UserID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to finalize idempotency key")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}

	h.logger.Info("booking created", "booking_id", id, "user_id", booking.UserID, "scheduled_at", scheduledAt)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// claimSlot takes the coach lock for the rest of tx and re-checks the slot.
// The re-check reads through tx, so a claim never needs a second pooled
// connection while it holds the first.
func claimSlot(ctx context.Context, locker CoachLocker, resolver SlotResolver, tx pgx.Tx, userID string, at time.Time, duration int, excludeSessionID string) error {
	if err := locker.LockCoach(ctx, tx, userID); err != nil {
		return err
	}
	free, err := resolver.IsSlotFree(storage.WithTx(ctx, tx), at, duration, userID, excludeSessionID)
	if err != nil {
		return err
	}
	if !free {
		return errSlotTaken
	}
	return nil
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, userID, key string, r *http.Request, status int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg, "request_id": httpx.RequestIDFromContext(r.Context())})
	if err != nil {
		return false
	}
	return h.repo.FinalizeIdempotency(ctx, tx, userID, key, "", status, body) == nil
}

// UpdateStatus serves POST /api/v1/bookings/status for the signed-in coach.
// Cancelled is terminal; confirming an already confirmed booking is a no-op.
func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	next := model.BookingStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if req.BookingID == "" || (next != model.BookingConfirmed && next != model.BookingCancelled) {
		httpx.WriteError(w, r, http.StatusBadRequest, "booking_id and status (confirmed|cancelled) are required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetForUpdate(ctx, tx, userID, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, r, http.StatusNotFound, "booking not found")
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load booking")
		return
	}

	if booking.Status == next {
		httpx.WriteJSON(w, http.StatusOK, toBookingResponse(booking))
		return
	}
	if booking.Status == model.BookingCancelled {
		httpx.WriteError(w, r, http.StatusConflict, "booking is cancelled")
		return
	}

	if err := h.repo.UpdateStatus(ctx, tx, userID, booking.ID, next); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to update booking")
		return
	}
	prev := booking.Status
	booking.Status = next

	evt, err := outbox.NewEvent("booking", booking.ID, outbox.BookingStatusChanged, map[string]any{
		"booking_id":      booking.ID,
		"user_id":         userID,
		"previous_status": string(prev),
		"status":          string(next),
		"scheduled_at":    booking.ScheduledAt.UTC().Format(availability.SlotLayout),
		"email":           booking.Email,
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to build event payload")
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, evt); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBookingResponse(booking))
}

func toBookingResponse(b model.Booking) bookingResponse {
	return bookingResponse{
		BookingID:       b.ID,
		Status:          string(b.Status),
		ScheduledAt:     b.ScheduledAt.UTC().Format(availability.SlotLayout),
		EndsAt:          b.End().UTC().Format(availability.SlotLayout),
		DurationMinutes: int(model.EffectiveDuration(b.DurationMinutes) / time.Minute),
	}
}

// List serves GET /api/v1/bookings for the signed-in coach.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	bookings, err := h.repo.ListByUser(r.Context(), userID, limit)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to list bookings")
		return
	}

	items := make([]listBookingItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, listBookingItem{
			BookingID:       b.ID,
			EventID:         b.EventID,
			LeadID:          b.LeadID,
			ScheduledAt:     b.ScheduledAt.UTC().Format(availability.SlotLayout),
			EndsAt:          b.End().UTC().Format(availability.SlotLayout),
			DurationMinutes: int(model.EffectiveDuration(b.DurationMinutes) / time.Minute),
			Status:          string(b.Status),
			Name:            b.Name,
			Email:           b.Email,
			Note:            b.Note,
			CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}
