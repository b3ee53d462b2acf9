package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/marque/dbopen"
)

// ErrIndexLocked is returned when the fulltext index already has a writer.
// The index admits exactly one writer and refuses to queue a second; the
// caller retries later.
var ErrIndexLocked = fmt.Errorf("store: fulltext index locked")

// Document is the indexed representation of a bookmark: its user-entered
// fields plus the readable page text.
type Document struct {
	BookmarkID  string
	Description string
	Extended    string
	TagString   string
	Readable    string
	UpdatedAt   time.Time
}

// UpsertDocument writes (or rewrites) a bookmark's fulltext document. Only
// one upsert runs at a time; a concurrent attempt gets ErrIndexLocked
// immediately rather than waiting. The write is transactional so the FTS
// triggers never see a partial document.
func (s *Store) UpsertDocument(ctx context.Context, d *Document) error {
	select {
	case s.indexWriter <- struct{}{}:
	default:
		return ErrIndexLocked
	}
	defer func() { <-s.indexWriter }()

	return s.writeDocument(ctx, d)
}

// UpsertDocumentLocked writes a document for a caller that already holds
// the writer slot via HoldIndexWriter.
func (s *Store) UpsertDocumentLocked(ctx context.Context, d *Document) error {
	return s.writeDocument(ctx, d)
}

func (s *Store) writeDocument(ctx context.Context, d *Document) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		// Delete-then-insert keeps the FTS delete trigger's old-value
		// bookkeeping correct across rowid reuse.
		if _, err := tx.Exec(`DELETE FROM documents WHERE bookmark_id = ?`,
			d.BookmarkID); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT INTO documents
			(bookmark_id, description, extended, tag_string, readable, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			d.BookmarkID, d.Description, d.Extended, d.TagString, d.Readable,
			d.UpdatedAt.Unix())
		return err
	})
	if err != nil {
		if dbopen.IsBusy(err) {
			return ErrIndexLocked
		}
		return fmt.Errorf("upsert document %s: %w", d.BookmarkID, err)
	}
	return nil
}

// HoldIndexWriter occupies the single writer slot until the returned
// release function is called. Lets tests and maintenance tasks simulate or
// enforce an exclusive writer.
func HoldIndexWriter(s *Store) func() {
	s.indexWriter <- struct{}{}
	return func() { <-s.indexWriter }
}

// SearchResult is one ranked fulltext hit.
type SearchResult struct {
	BookmarkID  string
	Owner       string
	URL         string
	Description string
	TagString   string
	Snippet     string
	Rank        float64
}

// Search runs an FTS5 match over the document index, scoped to an owner
// when one is given, ordered by bm25 relevance.
func (s *Store) Search(ctx context.Context, owner, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT d.bookmark_id, b.owner, u.url, b.description, b.tag_string,
		snippet(documents_fts, 3, '[', ']', '…', 16), bm25(documents_fts)
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.rowid
		JOIN bookmarks b ON b.id = d.bookmark_id
		JOIN url_identities u ON u.hash = b.url_hash
		WHERE documents_fts MATCH ?`
	args := []any{query}
	if owner != "" {
		q += ` AND b.owner = ?`
		args = append(args, owner)
	}
	q += ` ORDER BY bm25(documents_fts) LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.BookmarkID, &r.Owner, &r.URL, &r.Description,
			&r.TagString, &r.Snippet, &r.Rank); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountDocuments returns the number of indexed documents, for stats.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}
