// Package index maintains the fulltext document for each bookmark. The
// underlying index admits one writer at a time; a second writer is turned
// away and its job redelivered later with a countdown, never queued in
// memory.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/marque/idgen"
	"github.com/hazyhaar/marque/markpipe/internal/store"
	"github.com/hazyhaar/marque/observability"
	"github.com/hazyhaar/marque/vtq"
)

// Redelivery delays. A missing bookmark usually means the writer raced an
// import commit; a locked index means another document is being written.
const (
	missingBookmarkDelay = 30 * time.Second
	indexLockedDelay     = 60 * time.Second
)

type indexPayload struct {
	BookmarkID string `json:"bookmark_id"`
	// Content, when set, replaces the stored readable text for this write.
	Content string `json:"content,omitempty"`
}

// Writer processes index jobs.
type Writer struct {
	store  *store.Store
	queue  *vtq.Q
	events *observability.EventLogger
	newID  idgen.Generator
	log    *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithEvents enables domain event recording.
func WithEvents(e *observability.EventLogger) Option {
	return func(w *Writer) { w.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.log = l }
}

// New builds an index Writer. queue is the writer's own queue, used by
// Reindex fan-out.
func New(s *store.Store, queue *vtq.Q, opts ...Option) *Writer {
	w := &Writer{
		store: s,
		queue: queue,
		newID: idgen.Prefixed("idx_", idgen.Default),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle is the queue handler: build the document and write it, deferring
// when the bookmark is not there yet or the index has another writer.
func (w *Writer) Handle(ctx context.Context, job *vtq.Job) error {
	var p indexPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode index payload: %w", err)
	}

	b, err := w.store.GetBookmark(ctx, p.BookmarkID)
	if err == store.ErrNotFound {
		return vtq.RetryAfter(missingBookmarkDelay, "bookmark not found")
	}
	if err != nil {
		return err
	}

	doc := &store.Document{
		BookmarkID:  b.ID,
		Description: b.Description,
		Extended:    b.Extended,
		TagString:   b.TagString(),
		Readable:    w.readableText(ctx, b.ID, p.Content),
	}

	if err := w.store.UpsertDocument(ctx, doc); err != nil {
		if err == store.ErrIndexLocked {
			w.event(ctx, observability.EventIndexDeferred, b, false, "index locked")
			return vtq.RetryAfter(indexLockedDelay, "index locked")
		}
		return err
	}

	w.event(ctx, observability.EventIndexWritten, b, true, "")
	w.log.Info("document indexed", "bookmark_id", b.ID, "owner", b.Owner,
		"readable_len", len(doc.Readable))
	return nil
}

// readableText picks the document body: an explicit override wins, then the
// stored fetch result, then nothing. A bookmark with no fetched text is
// still searchable by its own fields.
func (w *Writer) readableText(ctx context.Context, bookmarkID, override string) string {
	if override != "" {
		return override
	}
	rc, err := w.store.GetReadableContent(ctx, bookmarkID)
	if err != nil || rc.Content == nil {
		return ""
	}
	return *rc.Content
}

// Reindex enqueues an index job for every bookmark, or for one owner's
// bookmarks when owner is non-empty. Returns the number of jobs published.
func (w *Writer) Reindex(ctx context.Context, owner string) (int, error) {
	ids, err := w.store.ListBookmarkIDs(ctx, owner)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, id := range ids {
		payload, _ := json.Marshal(indexPayload{BookmarkID: id})
		// Fresh job ids so a reindex coexists with in-flight pipeline jobs.
		if err := w.queue.Publish(ctx, w.newID(), payload); err != nil {
			if isDuplicateJob(err) {
				continue
			}
			return published, fmt.Errorf("enqueue reindex for %s: %w", id, err)
		}
		published++
	}
	w.log.Info("reindex enqueued", "owner", owner, "jobs", published)
	return published, nil
}

// ReindexSync rebuilds documents inline, one bookmark at a time, without
// going through the queue. Bootstrap and diagnostic use; the exclusive hold
// keeps queue-driven writers out for the duration.
func (w *Writer) ReindexSync(ctx context.Context, owner string) (int, error) {
	ids, err := w.store.ListBookmarkIDs(ctx, owner)
	if err != nil {
		return 0, err
	}
	release := store.HoldIndexWriter(w.store)
	defer release()

	written := 0
	for _, id := range ids {
		b, err := w.store.GetBookmark(ctx, id)
		if err != nil {
			return written, err
		}
		doc := &store.Document{
			BookmarkID:  b.ID,
			Description: b.Description,
			Extended:    b.Extended,
			TagString:   b.TagString(),
			Readable:    w.readableText(ctx, b.ID, ""),
		}
		if err := w.store.UpsertDocumentLocked(ctx, doc); err != nil {
			return written, err
		}
		written++
	}
	w.log.Info("synchronous reindex complete", "owner", owner, "documents", written)
	return written, nil
}

func (w *Writer) event(ctx context.Context, typ string, b *store.Bookmark, ok bool, detail string) {
	if w.events == nil {
		return
	}
	w.events.Log(ctx, observability.Event{
		Type:     typ,
		Entity:   "bookmark",
		EntityID: b.ID,
		Owner:    b.Owner,
		Detail:   detail,
		Success:  ok,
	})
}

func isDuplicateJob(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
