package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/reluam/pokrok.app-sub006/libs/db"
	"github.com/reluam/pokrok.app-sub006/services/booking-service/internal/model"
	"golang.org/x/oauth2"
)

type CalendarRepository struct {
	pool *db.Pool
}

func NewCalendarRepository(pool *db.Pool) *CalendarRepository {
	return &CalendarRepository{pool: pool}
}

func (r *CalendarRepository) CalendarConnection(ctx context.Context, userID string) (model.CalendarConnection, bool, error) {
	var c model.CalendarConnection
	var expiry *time.Time
	q, release := querier(ctx, r.pool)
	defer release()
	err := q.QueryRow(ctx, `
		SELECT user_id, access_token, refresh_token, token_expiry, calendar_ids
		FROM calendar_connections
		WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &expiry, &c.CalendarIDs)
	if err != nil {
		if IsNotFound(err) {
			return model.CalendarConnection{}, false, nil
		}
		return model.CalendarConnection{}, false, err
	}
	if expiry != nil {
		c.TokenExpiry = *expiry
	}
	return c, true, nil
}

// SaveToken stores a refreshed token. Google omits the refresh token on
// refresh, so an empty one keeps the stored value.
func (r *CalendarRepository) SaveToken(ctx context.Context, userID string, tok *oauth2.Token) error {
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		expiry = &tok.Expiry
	}
	q, release := querier(ctx, r.pool)
	defer release()
	tag, err := q.Exec(ctx, `
		UPDATE calendar_connections
		SET access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expiry = $4,
			updated_at = now()
		WHERE user_id = $1
	`, userID, tok.AccessToken, tok.RefreshToken, expiry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
