package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReadableContent is the fetch outcome for one bookmark. Content is nil
// when the target was an image, empty, or could not be fetched; the status
// fields always carry the classification.
type ReadableContent struct {
	BookmarkID    string
	Content       *string
	ContentType   string
	StatusCode    int
	StatusMessage string
	FetchedAt     time.Time
}

// UpsertReadableContent stores the latest fetch outcome for a bookmark,
// replacing any previous one. Every fetch attempt writes a row, even
// failures, so the last outcome is always inspectable.
func (s *Store) UpsertReadableContent(ctx context.Context, rc *ReadableContent) error {
	if rc.FetchedAt.IsZero() {
		rc.FetchedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO readable_content
		(bookmark_id, content, content_type, status_code, status_message, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bookmark_id) DO UPDATE SET
			content = excluded.content,
			content_type = excluded.content_type,
			status_code = excluded.status_code,
			status_message = excluded.status_message,
			fetched_at = excluded.fetched_at`,
		rc.BookmarkID, rc.Content, rc.ContentType, rc.StatusCode,
		rc.StatusMessage, rc.FetchedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert readable content %s: %w", rc.BookmarkID, err)
	}
	return nil
}

// GetReadableContent loads the stored fetch outcome for a bookmark.
func (s *Store) GetReadableContent(ctx context.Context, bookmarkID string) (*ReadableContent, error) {
	rc := &ReadableContent{}
	var fetched int64
	var content sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT bookmark_id, content, content_type,
		status_code, status_message, fetched_at
		FROM readable_content WHERE bookmark_id = ?`, bookmarkID).
		Scan(&rc.BookmarkID, &content, &rc.ContentType, &rc.StatusCode,
			&rc.StatusMessage, &fetched)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get readable content %s: %w", bookmarkID, err)
	}
	if content.Valid {
		rc.Content = &content.String
	}
	rc.FetchedAt = time.Unix(fetched, 0)
	return rc, nil
}
