package storage

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ContactRepository upserts the clients and leads derived from an attendee
// email. Both are unique per coach and lower-cased email.
type ContactRepository struct{}

func NewContactRepository() *ContactRepository {
	return &ContactRepository{}
}

func (r *ContactRepository) UpsertLead(ctx context.Context, tx pgx.Tx, userID, name, email, source string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO leads (id, user_id, name, email, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, email)
		DO UPDATE SET name = COALESCE(NULLIF(EXCLUDED.name, ''), leads.name)
		RETURNING id::text
	`, uuid.NewString(), userID, name, normalizeEmail(email), source).Scan(&id)
	return id, err
}

func (r *ContactRepository) UpsertClient(ctx context.Context, tx pgx.Tx, userID, name, email string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO clients (id, user_id, name, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, email)
		DO UPDATE SET name = COALESCE(NULLIF(EXCLUDED.name, ''), clients.name)
		RETURNING id::text
	`, uuid.NewString(), userID, name, normalizeEmail(email)).Scan(&id)
	return id, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
