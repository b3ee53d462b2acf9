package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = fmt.Errorf("store: not found")

// Bookmark is one (owner, url) pair with its tag set. The tag slice keeps
// first-seen order; persistence sorts nothing.
type Bookmark struct {
	ID          string
	Owner       string
	URL         string
	URLHash     string
	Description string
	Extended    string
	InsertedBy  string
	ClickCount  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	tags []string
}

// NewBookmark builds an in-memory bookmark with the given tags.
func NewBookmark(id, owner, url, hash string, tags []string) *Bookmark {
	b := &Bookmark{ID: id, Owner: owner, URL: url, URLHash: hash}
	for _, t := range tags {
		b.AddTag(t)
	}
	return b
}

// HasTag reports whether the bookmark carries the named tag.
func (b *Bookmark) HasTag(name string) bool {
	return slices.Contains(b.tags, name)
}

// AddTag appends the tag unless already present.
func (b *Bookmark) AddTag(name string) {
	if name == "" || b.HasTag(name) {
		return
	}
	b.tags = append(b.tags, name)
}

// RemoveTag drops the tag if present.
func (b *Bookmark) RemoveTag(name string) {
	b.tags = slices.DeleteFunc(b.tags, func(t string) bool { return t == name })
}

// TagNames returns a copy of the tag set in first-seen order.
func (b *Bookmark) TagNames() []string {
	return slices.Clone(b.tags)
}

// TagString renders the tag set as a space-separated string.
func (b *Bookmark) TagString() string {
	return strings.Join(b.tags, " ")
}

// UpsertURLIdentityTx records the URL under its hash. An existing identity
// is left untouched so its click count survives re-imports.
func UpsertURLIdentityTx(tx *sql.Tx, hash, url string) error {
	_, err := tx.Exec(`INSERT INTO url_identities (hash, url) VALUES (?, ?)
		ON CONFLICT(hash) DO NOTHING`, hash, url)
	if err != nil {
		return fmt.Errorf("upsert url identity %s: %w", hash, err)
	}
	return nil
}

// InsertBookmarkTx persists a bookmark, its URL identity, and its tag set
// inside the given transaction. CreatedAt and UpdatedAt are filled if zero.
func InsertBookmarkTx(tx *sql.Tx, b *Bookmark) error {
	if err := UpsertURLIdentityTx(tx, b.URLHash, b.URL); err != nil {
		return err
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	_, err := tx.Exec(`INSERT INTO bookmarks
		(id, owner, url_hash, description, extended, tag_string, inserted_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Owner, b.URLHash, b.Description, b.Extended, b.TagString(),
		b.InsertedBy, b.CreatedAt.Unix(), b.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert bookmark %s: %w", b.ID, err)
	}
	for _, tag := range b.tags {
		if _, err := tx.Exec(`INSERT INTO tags (name) VALUES (?)
			ON CONFLICT(name) DO NOTHING`, tag); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
		if _, err := tx.Exec(`INSERT INTO bookmark_tags (bookmark_id, tag_name)
			VALUES (?, ?) ON CONFLICT DO NOTHING`, b.ID, tag); err != nil {
			return fmt.Errorf("link tag %q: %w", tag, err)
		}
	}
	return nil
}

// GetBookmark loads one bookmark by id, tags included.
func (s *Store) GetBookmark(ctx context.Context, id string) (*Bookmark, error) {
	b := &Bookmark{}
	var created, updated int64
	var tagString string
	err := s.DB.QueryRowContext(ctx, `SELECT b.id, b.owner, u.url, b.url_hash,
		b.description, b.extended, b.tag_string, b.inserted_by, b.click_count,
		b.created_at, b.updated_at
		FROM bookmarks b JOIN url_identities u ON u.hash = b.url_hash
		WHERE b.id = ?`, id).Scan(
		&b.ID, &b.Owner, &b.URL, &b.URLHash, &b.Description, &b.Extended,
		&tagString, &b.InsertedBy, &b.ClickCount, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bookmark %s: %w", id, err)
	}
	b.CreatedAt = time.Unix(created, 0)
	b.UpdatedAt = time.Unix(updated, 0)
	if tagString != "" {
		b.tags = strings.Fields(tagString)
	}
	return b, nil
}

// OwnerURLHashes returns the set of URL hashes the owner already bookmarked.
// Import loads this once and dedups in memory instead of probing per entry.
func (s *Store) OwnerURLHashes(ctx context.Context, owner string) (map[string]struct{}, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT url_hash FROM bookmarks WHERE owner = ?`, owner)
	if err != nil {
		return nil, fmt.Errorf("owner url hashes: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		set[h] = struct{}{}
	}
	return set, rows.Err()
}

// IncrementClicks bumps the click counter on both the bookmark and its
// shared URL identity.
func (s *Store) IncrementClicks(ctx context.Context, bookmarkID string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE bookmarks
		SET click_count = click_count + 1 WHERE id = ?`, bookmarkID)
	if err != nil {
		return fmt.Errorf("increment clicks: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE url_identities SET click_count = click_count + 1
		WHERE hash = (SELECT url_hash FROM bookmarks WHERE id = ?)`, bookmarkID)
	if err != nil {
		return fmt.Errorf("increment url clicks: %w", err)
	}
	return nil
}

// ListBookmarkIDs returns every bookmark id for the owner, or all bookmarks
// when owner is empty. Used by reindex fan-out.
func (s *Store) ListBookmarkIDs(ctx context.Context, owner string) ([]string, error) {
	query := `SELECT id FROM bookmarks ORDER BY created_at`
	args := []any{}
	if owner != "" {
		query = `SELECT id FROM bookmarks WHERE owner = ? ORDER BY created_at`
		args = append(args, owner)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookmark ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountBookmarks returns the total bookmark count, for stats.
func (s *Store) CountBookmarks(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks`).Scan(&n)
	return n, err
}
