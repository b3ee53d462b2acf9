package index

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/marque/markpipe/internal/store"
	"github.com/hazyhaar/marque/urlid"
	"github.com/hazyhaar/marque/vtq"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testWriter(t *testing.T, s *store.Store) (*Writer, *vtq.Q) {
	t.Helper()
	q := vtq.New(s.DB, vtq.Options{Queue: "index"})
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(s, q), q
}

func addBookmark(t *testing.T, s *store.Store, id, url string, tags []string, desc string) {
	t.Helper()
	tx, err := s.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	b := store.NewBookmark(id, "alice", url, urlid.Hash(url), tags)
	b.Description = desc
	if err := store.InsertBookmarkTx(tx, b); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func indexJob(id string) *vtq.Job {
	return &vtq.Job{ID: "index_" + id, Payload: []byte(`{"bookmark_id":"` + id + `"}`)}
}

func TestIndexFromStoredReadable(t *testing.T) {
	s := testStore(t)
	w, _ := testWriter(t, s)
	ctx := context.Background()

	addBookmark(t, s, "bm_1", "https://example.com/gc", []string{"go", "runtime"}, "GC notes")
	text := "The garbage collector runs concurrently with the mutator."
	if err := s.UpsertReadableContent(ctx, &store.ReadableContent{
		BookmarkID: "bm_1", Content: &text, StatusCode: 200,
	}); err != nil {
		t.Fatal(err)
	}

	if err := w.Handle(ctx, indexJob("bm_1")); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(ctx, "alice", "mutator", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].BookmarkID != "bm_1" {
		t.Errorf("hits = %+v", hits)
	}
	// Tags are part of the document too.
	if hits, _ := s.Search(ctx, "alice", "runtime", 10); len(hits) != 1 {
		t.Error("tag tokens not searchable")
	}
}

func TestIndexWithoutReadableContent(t *testing.T) {
	s := testStore(t)
	w, _ := testWriter(t, s)
	ctx := context.Background()

	addBookmark(t, s, "bm_1", "https://example.com/", nil, "unreachable but described")
	if err := w.Handle(ctx, indexJob("bm_1")); err != nil {
		t.Fatal(err)
	}
	if hits, _ := s.Search(ctx, "alice", "described", 10); len(hits) != 1 {
		t.Error("description not searchable without fetched content")
	}
}

func TestIndexContentOverride(t *testing.T) {
	s := testStore(t)
	w, _ := testWriter(t, s)
	ctx := context.Background()

	addBookmark(t, s, "bm_1", "https://example.com/", nil, "")
	stored := "stored readable text"
	if err := s.UpsertReadableContent(ctx, &store.ReadableContent{
		BookmarkID: "bm_1", Content: &stored, StatusCode: 200,
	}); err != nil {
		t.Fatal(err)
	}

	job := &vtq.Job{ID: "j1", Payload: []byte(`{"bookmark_id":"bm_1","content":"override wins"}`)}
	if err := w.Handle(ctx, job); err != nil {
		t.Fatal(err)
	}
	if hits, _ := s.Search(ctx, "", "override", 10); len(hits) != 1 {
		t.Error("override content not indexed")
	}
	if hits, _ := s.Search(ctx, "", "stored", 10); len(hits) != 0 {
		t.Error("stored content indexed despite override")
	}
}

func TestIndexMissingBookmarkRetries(t *testing.T) {
	s := testStore(t)
	w, _ := testWriter(t, s)

	err := w.Handle(context.Background(), indexJob("ghost"))
	var retry *vtq.ErrRetryAfter
	if !errors.As(err, &retry) {
		t.Fatalf("err = %v, want ErrRetryAfter", err)
	}
	if retry.Delay != 30*time.Second {
		t.Errorf("delay = %v, want 30s", retry.Delay)
	}
}

func TestIndexLockedDefers(t *testing.T) {
	s := testStore(t)
	w, _ := testWriter(t, s)
	ctx := context.Background()

	addBookmark(t, s, "bm_1", "https://example.com/", nil, "desc")

	// Hold the single writer slot while the job runs.
	release := store.HoldIndexWriter(s)
	err := w.Handle(ctx, indexJob("bm_1"))
	release()

	var retry *vtq.ErrRetryAfter
	if !errors.As(err, &retry) {
		t.Fatalf("err = %v, want ErrRetryAfter", err)
	}
	if retry.Delay != 60*time.Second {
		t.Errorf("delay = %v, want 60s", retry.Delay)
	}
	// Nothing was written while locked.
	if n, _ := s.CountDocuments(ctx); n != 0 {
		t.Errorf("documents = %d, want 0", n)
	}

	// With the slot free the same job succeeds.
	if err := w.Handle(ctx, indexJob("bm_1")); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountDocuments(ctx); n != 1 {
		t.Errorf("documents = %d, want 1", n)
	}
}

func TestReindexSync(t *testing.T) {
	s := testStore(t)
	w, q := testWriter(t, s)
	ctx := context.Background()

	addBookmark(t, s, "bm_1", "https://a.example/", []string{"go"}, "first article")
	addBookmark(t, s, "bm_2", "https://b.example/", nil, "second article")

	n, err := w.ReindexSync(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}
	if docs, _ := s.CountDocuments(ctx); docs != 2 {
		t.Errorf("documents = %d, want 2", docs)
	}
	// Nothing went through the queue.
	if qn, _ := q.Len(ctx); qn != 0 {
		t.Errorf("queue = %d, want 0", qn)
	}
	if hits, _ := s.Search(ctx, "alice", "article", 10); len(hits) != 2 {
		t.Errorf("hits = %d, want 2", len(hits))
	}
}

func TestReindexFanOut(t *testing.T) {
	s := testStore(t)
	w, q := testWriter(t, s)
	ctx := context.Background()

	addBookmark(t, s, "bm_1", "https://a.example/", nil, "first")
	addBookmark(t, s, "bm_2", "https://b.example/", nil, "second")

	n, err := w.Reindex(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("published = %d, want 2", n)
	}
	if qn, _ := q.Len(ctx); qn != 2 {
		t.Errorf("queue = %d, want 2", qn)
	}
}
