// Package fetch downloads bookmarked pages, classifies the outcome, and
// stores the extracted readable text. Every fetch ends with a stored
// outcome row and exactly one index job, success or not.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/marque/extract"
	"github.com/hazyhaar/marque/markpipe/internal/store"
	"github.com/hazyhaar/marque/observability"
	"github.com/hazyhaar/marque/vtq"
)

// Synthetic status codes for outcomes HTTP has no number for. Real HTTP
// statuses (including 429) pass through verbatim.
const (
	StatusUnparseable     = 900 // page fetched but no readable text found
	StatusBadURL          = 901 // unsupported scheme or unparseable URL
	StatusSocketError     = 902 // connection could not be established
	StatusIncompleteRead  = 903 // body read aborted mid-stream
	StatusEmptyDocument   = 904 // fetched fine but zero-length body
	StatusMalformedStatus = 905 // server answered with garbage, not HTTP
)

const userAgent = "marque-fetcher/1.0 (+https://github.com/hazyhaar/marque)"

// maxBodySize caps downloads; pages past this are truncated, not failed.
const maxBodySize = 4 << 20

type fetchPayload struct {
	BookmarkID string `json:"bookmark_id"`
	// Content, when set, is page HTML supplied at bookmark creation time;
	// the worker extracts from it instead of fetching.
	Content string `json:"content,omitempty"`
}

type indexPayload struct {
	BookmarkID string `json:"bookmark_id"`
	Content    string `json:"content,omitempty"`
}

// Worker processes fetch jobs.
type Worker struct {
	store  *store.Store
	client *http.Client
	indexQ *vtq.Q
	events *observability.EventLogger
	log    *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithClient overrides the HTTP client, mainly for tests.
func WithClient(c *http.Client) Option {
	return func(w *Worker) { w.client = c }
}

// WithEvents enables domain event recording.
func WithEvents(e *observability.EventLogger) Option {
	return func(w *Worker) { w.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// New builds a fetch Worker publishing follow-up jobs to indexQ.
func New(s *store.Store, indexQ *vtq.Q, opts ...Option) *Worker {
	w := &Worker{
		store:  s,
		client: &http.Client{Timeout: 30 * time.Second},
		indexQ: indexQ,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle is the queue handler: fetch, classify, store, enqueue index.
func (w *Worker) Handle(ctx context.Context, job *vtq.Job) error {
	var p fetchPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode fetch payload: %w", err)
	}

	b, err := w.store.GetBookmark(ctx, p.BookmarkID)
	if err == store.ErrNotFound {
		// The bookmark row may not be visible yet right after an import
		// commit races the queue. Come back shortly.
		return vtq.RetryAfter(30*time.Second, "bookmark not found")
	}
	if err != nil {
		return err
	}

	var out *store.ReadableContent
	if p.Content != "" {
		out = extractOutcome([]byte(p.Content), "text/html")
	} else {
		out = w.fetch(ctx, b)
	}
	out.BookmarkID = b.ID
	if err := w.store.UpsertReadableContent(ctx, out); err != nil {
		return err
	}

	if w.events != nil {
		w.events.Log(ctx, observability.Event{
			Type:     observability.EventFetchClassified,
			Entity:   "bookmark",
			EntityID: b.ID,
			Owner:    b.Owner,
			Detail:   fmt.Sprintf(`{"status":%d}`, out.StatusCode),
			Success:  out.StatusCode == http.StatusOK,
		})
	}
	w.log.Info("fetch classified",
		"bookmark_id", b.ID, "url", b.URL,
		"status", out.StatusCode, "message", out.StatusMessage)

	// Carry the freshly extracted text; the indexer prefers it over the
	// stored row.
	idx := indexPayload{BookmarkID: b.ID}
	if out.Content != nil {
		idx.Content = *out.Content
	}
	ip, _ := json.Marshal(idx)
	if err := w.indexQ.Publish(ctx, "index_"+b.ID, ip); err != nil && !isDuplicateJob(err) {
		return fmt.Errorf("enqueue index: %w", err)
	}
	return nil
}

// fetch downloads and classifies one URL. It never returns an error: every
// possible failure maps to an outcome row.
func (w *Worker) fetch(ctx context.Context, b *store.Bookmark) *store.ReadableContent {
	u, err := url.Parse(b.URL)
	if err != nil {
		return outcome(StatusBadURL, fmt.Sprintf("unparseable url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return outcome(StatusBadURL, "unsupported scheme "+u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL, nil)
	if err != nil {
		return outcome(StatusBadURL, err.Error())
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 429 and every other non-200 pass through verbatim so the page
		// status stays inspectable per bookmark.
		return outcome(resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return outcome(StatusIncompleteRead, fmt.Sprintf("body read: %v", err))
	}
	if len(body) == 0 {
		return outcome(StatusEmptyDocument, "empty body")
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "image/") {
		// Images are valid bookmarks with nothing to index.
		rc := outcome(http.StatusOK, "OK (image)")
		rc.ContentType = contentType
		return rc
	}

	return extractOutcome(body, contentType)
}

// extractOutcome runs readability extraction over page HTML and classifies
// the result.
func extractOutcome(body []byte, contentType string) *store.ReadableContent {
	result, err := extract.Readable(body, extract.Options{})
	if err != nil {
		if errors.Is(err, extract.ErrEmptyDocument) {
			return outcome(StatusEmptyDocument, "no text content")
		}
		return outcome(StatusUnparseable, fmt.Sprintf("extract: %v", err))
	}

	text := extract.CleanText(result.Text)
	if text == "" {
		return outcome(StatusUnparseable, "no readable region")
	}
	rc := outcome(http.StatusOK, "OK")
	rc.Content = &text
	rc.ContentType = contentType
	return rc
}

func outcome(status int, msg string) *store.ReadableContent {
	return &store.ReadableContent{StatusCode: status, StatusMessage: msg}
}

// classifyTransportError distinguishes a socket that never answered from a
// server that answered garbage.
func classifyTransportError(err error) *store.ReadableContent {
	msg := err.Error()
	if strings.Contains(msg, "malformed HTTP") ||
		strings.Contains(msg, "malformed MIME") {
		return outcome(StatusMalformedStatus, msg)
	}
	return outcome(StatusSocketError, msg)
}

func isDuplicateJob(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
