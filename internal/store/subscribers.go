package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subscriber is one digest recipient. Counties is empty for all-county
// subscriptions.
type Subscriber struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Counties  []string  `json:"counties"`
	Token     string    `json:"token"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UpsertSubscriber creates or reactivates a subscription by email and
// returns the unsubscribe token. Existing subscribers keep their token;
// their county list is replaced.
func (s *Store) UpsertSubscriber(ctx context.Context, email string, counties []string) (*Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("empty email")
	}
	countiesJSON, _ := json.Marshal(counties)
	token := uuid.NewString()
	_, err := s.execRetry(ctx, `INSERT INTO subscribers(email, counties, token, active, created_at) VALUES(?,?,?,1,?)
		ON CONFLICT(email) DO UPDATE SET counties=excluded.counties, active=1`,
		email, string(countiesJSON), token, now())
	if err != nil {
		return nil, fmt.Errorf("upsert subscriber: %w", err)
	}
	return s.subscriberByEmail(ctx, email)
}

// Unsubscribe deactivates the subscription for a token. Unknown tokens
// report ErrNotFound.
func (s *Store) Unsubscribe(ctx context.Context, token string) error {
	res, err := s.execRetry(ctx, `UPDATE subscribers SET active=0 WHERE token=?`, token)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, counties, token, active, created_at FROM subscribers WHERE active=1 ORDER BY email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows.Scan)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *Store) subscriberByEmail(ctx context.Context, email string) (*Subscriber, error) {
	var sub *Subscriber
	err := s.queryRowRetry(ctx, func(row *sql.Row) error {
		var scanErr error
		sub, scanErr = scanSubscriber(row.Scan)
		return scanErr
	}, `SELECT id, email, counties, token, active, created_at FROM subscribers WHERE email=?`, email)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func scanSubscriber(scan func(...any) error) (*Subscriber, error) {
	var sub Subscriber
	var countiesJSON string
	var active int
	if err := scan(&sub.ID, &sub.Email, &countiesJSON, &sub.Token, &active, &sub.CreatedAt); err != nil {
		return nil, err
	}
	sub.Active = active != 0
	if countiesJSON != "" {
		_ = json.Unmarshal([]byte(countiesJSON), &sub.Counties)
	}
	return &sub, nil
}
