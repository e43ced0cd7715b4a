package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"momobot/internal/momo"
)

// Subscription is one chat's saved scope selections and daily-send
// settings.
type Subscription struct {
	ChatID       int64
	Scopes       []momo.Scope
	AutoSend     bool
	NotifyHour   int
	NotifyMinute int
}

// Subscription returns the chat's saved subscription, or ErrNotFound
// for a chat that never saved one.
func (s *Store) Subscription(ctx context.Context, chatID int64) (Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scopes, auto_send, notify_hour, notify_minute
		FROM subscriptions WHERE chat_id = ?
	`, chatID)
	return scanSubscription(row, chatID)
}

// SaveSubscription upserts the chat's subscription.
func (s *Store) SaveSubscription(ctx context.Context, sub Subscription) error {
	keys := make([]string, 0, len(sub.Scopes))
	for _, sc := range sub.Scopes {
		keys = append(keys, sc.Key())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (chat_id, scopes, auto_send, notify_hour, notify_minute)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			scopes        = excluded.scopes,
			auto_send     = excluded.auto_send,
			notify_hour   = excluded.notify_hour,
			notify_minute = excluded.notify_minute
	`, sub.ChatID, strings.Join(keys, ","), boolToInt(sub.AutoSend), sub.NotifyHour, sub.NotifyMinute)
	if err != nil {
		return fmt.Errorf("save subscription for chat %d: %w", sub.ChatID, err)
	}
	return nil
}

// ListAutoSend returns every subscription with daily sends enabled,
// used to re-register notification jobs on startup.
func (s *Store) ListAutoSend(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, scopes, auto_send, notify_hour, notify_minute
		FROM subscriptions WHERE auto_send = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("list auto-send subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var (
			sub       Subscription
			scopesStr string
			autoSend  int
		)
		if err := rows.Scan(&sub.ChatID, &scopesStr, &autoSend, &sub.NotifyHour, &sub.NotifyMinute); err != nil {
			return nil, err
		}
		sub.AutoSend = autoSend != 0
		sub.Scopes = parseScopeKeys(scopesStr)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SubscribedScopes returns the distinct scopes any chat is subscribed
// to; the nightly refresh job warms exactly these.
func (s *Store) SubscribedScopes(ctx context.Context) ([]momo.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scopes FROM subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("list subscribed scopes: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]momo.Scope)
	for rows.Next() {
		var scopesStr string
		if err := rows.Scan(&scopesStr); err != nil {
			return nil, err
		}
		for _, sc := range parseScopeKeys(scopesStr) {
			seen[sc.Key()] = sc
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scopes := make([]momo.Scope, 0, len(seen))
	for _, sc := range seen {
		scopes = append(scopes, sc)
	}
	return scopes, nil
}

func scanSubscription(row *sql.Row, chatID int64) (Subscription, error) {
	var (
		scopesStr string
		autoSend  int
		sub       = Subscription{ChatID: chatID}
	)
	if err := row.Scan(&scopesStr, &autoSend, &sub.NotifyHour, &sub.NotifyMinute); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, err
	}
	sub.AutoSend = autoSend != 0
	sub.Scopes = parseScopeKeys(scopesStr)
	return sub, nil
}

func parseScopeKeys(joined string) []momo.Scope {
	if joined == "" {
		return nil
	}
	var scopes []momo.Scope
	for _, key := range strings.Split(joined, ",") {
		sc, err := momo.ScopeFromKey(key)
		if err != nil {
			log.Printf("store: skipping corrupt scope key %q: %v", key, err)
			continue
		}
		scopes = append(scopes, sc)
	}
	return scopes
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
