// Package notify provides a durable notification outbox.
//
// The pipeline produces notifications (import failures, fatal fetch/index
// errors) but never delivers them itself: delivery is an external
// collaborator. Notifications are written to an SQLite outbox table where a
// delivery process can pick them up; a slog-backed Notifier is available
// for development and tests.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/marque/idgen"
)

// Notifier delivers (or records for delivery) one notification.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject string, payload any) error
}

// Notification is one outbox row.
type Notification struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Payload   string `json:"payload"` // JSON
	Delivered bool   `json:"delivered"`
	CreatedAt int64  `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
    id         TEXT PRIMARY KEY,
    recipient  TEXT NOT NULL,
    subject    TEXT NOT NULL,
    payload    TEXT NOT NULL DEFAULT '{}',
    delivered  INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications(delivered) WHERE delivered = 0;
`

// Outbox is an SQLite-backed Notifier.
type Outbox struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewOutbox creates an Outbox and applies its schema.
func NewOutbox(db *sql.DB) (*Outbox, error) {
	if db == nil {
		return nil, fmt.Errorf("notify: db is required")
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("notify schema: %w", err)
		}
	}
	return &Outbox{
		db:    db,
		newID: idgen.Prefixed("ntf_", idgen.Default),
	}, nil
}

// Notify writes one notification row. payload is marshalled to JSON.
func (o *Outbox) Notify(ctx context.Context, recipient, subject string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	_, err = o.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient, subject, payload, created_at)
		VALUES (?,?,?,?,?)`,
		o.newID(), recipient, subject, string(body), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("notify: insert: %w", err)
	}
	return nil
}

// Pending lists undelivered notifications, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, recipient, subject, payload, delivered, created_at
		FROM notifications WHERE delivered = 0
		ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Subject, &n.Payload, &n.Delivered, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkDelivered flags a notification as handed off to the delivery channel.
func (o *Outbox) MarkDelivered(ctx context.Context, id string) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE notifications SET delivered = 1 WHERE id = ?`, id)
	return err
}

// LogNotifier logs notifications instead of persisting them. Used in tests
// and when no outbox database is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notification at Info level.
func (l LogNotifier) Notify(ctx context.Context, recipient, subject string, payload any) error {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "recipient", recipient, "subject", subject, "payload", payload)
	return nil
}
