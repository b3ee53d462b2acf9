package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

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

func testWorker(t *testing.T, s *store.Store) (*Worker, *vtq.Q) {
	t.Helper()
	indexQ := vtq.New(s.DB, vtq.Options{Queue: "index"})
	if err := indexQ.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(s, indexQ), indexQ
}

func addBookmark(t *testing.T, s *store.Store, id, url string) {
	t.Helper()
	tx, err := s.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := store.InsertBookmarkTx(tx, store.NewBookmark(id, "alice", url, urlid.Hash(url), nil)); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func handleFetch(t *testing.T, w *Worker, bookmarkID string) {
	t.Helper()
	err := w.Handle(context.Background(), &vtq.Job{
		ID:      "fetch_" + bookmarkID,
		Payload: []byte(`{"bookmark_id":"` + bookmarkID + `"}`),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
}

const articlePage = `<!DOCTYPE html><html><head><title>Testing in Go</title></head>
<body><nav><a href="/">home</a></nav>
<article><h1>Testing in Go</h1>
<p>Table driven tests keep Go test suites short and thorough. Each case is a
row, each row runs through the same assertion body, and adding coverage means
adding a line instead of a function.</p>
<p>The httptest package spins up a real listener on a random port so HTTP
clients can be exercised without mocks or fakes of any kind.</p>
</article></body></html>`

func TestFetchStoresReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "marque-fetcher/") {
			t.Errorf("user agent = %q", got)
		}
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		rw.Write([]byte(articlePage))
	}))
	defer srv.Close()

	s := testStore(t)
	w, indexQ := testWorker(t, s)
	addBookmark(t, s, "bm_1", srv.URL)
	handleFetch(t, w, "bm_1")

	rc, err := s.GetReadableContent(context.Background(), "bm_1")
	if err != nil {
		t.Fatal(err)
	}
	if rc.StatusCode != 200 {
		t.Errorf("status = %d, want 200", rc.StatusCode)
	}
	if rc.Content == nil || !strings.Contains(*rc.Content, "Table driven tests") {
		t.Errorf("content = %v", rc.Content)
	}
	if n, _ := indexQ.Len(context.Background()); n != 1 {
		t.Errorf("index queue = %d, want 1", n)
	}

	// The index job carries the extracted text along.
	job, err := indexQ.Claim(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var ip struct {
		BookmarkID string `json:"bookmark_id"`
		Content    string `json:"content"`
	}
	if err := json.Unmarshal(job.Payload, &ip); err != nil {
		t.Fatal(err)
	}
	if ip.BookmarkID != "bm_1" || !strings.Contains(ip.Content, "Table driven tests") {
		t.Errorf("index payload = %+v", ip)
	}
}

func TestFetchHTTPStatusPassthrough(t *testing.T) {
	cases := []int{http.StatusNotFound, http.StatusTooManyRequests, http.StatusInternalServerError}
	for _, code := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(code)
		}))
		s := testStore(t)
		w, indexQ := testWorker(t, s)
		addBookmark(t, s, "bm_1", srv.URL)
		handleFetch(t, w, "bm_1")
		srv.Close()

		rc, err := s.GetReadableContent(context.Background(), "bm_1")
		if err != nil {
			t.Fatal(err)
		}
		if rc.StatusCode != code {
			t.Errorf("status = %d, want %d verbatim", rc.StatusCode, code)
		}
		if rc.Content != nil {
			t.Errorf("content for %d = %q, want nil", code, *rc.Content)
		}
		// Failed fetches still index the user-entered fields.
		if n, _ := indexQ.Len(context.Background()); n != 1 {
			t.Errorf("index queue = %d, want 1", n)
		}
	}
}

func TestFetchImageKeepsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "image/png")
		rw.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	s := testStore(t)
	w, _ := testWorker(t, s)
	addBookmark(t, s, "bm_1", srv.URL)
	handleFetch(t, w, "bm_1")

	rc, err := s.GetReadableContent(context.Background(), "bm_1")
	if err != nil {
		t.Fatal(err)
	}
	if rc.StatusCode != 200 || rc.Content != nil {
		t.Errorf("status = %d content = %v, want 200 with nil content", rc.StatusCode, rc.Content)
	}
	if rc.ContentType != "image/png" {
		t.Errorf("content type = %q", rc.ContentType)
	}
}

func TestFetchBadScheme(t *testing.T) {
	s := testStore(t)
	w, _ := testWorker(t, s)
	addBookmark(t, s, "bm_1", "ftp://example.com/file")
	handleFetch(t, w, "bm_1")

	rc, err := s.GetReadableContent(context.Background(), "bm_1")
	if err != nil {
		t.Fatal(err)
	}
	if rc.StatusCode != StatusBadURL {
		t.Errorf("status = %d, want %d", rc.StatusCode, StatusBadURL)
	}
}

func TestFetchSocketError(t *testing.T) {
	// A server that is immediately closed leaves a refusing port behind.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := testStore(t)
	w, _ := testWorker(t, s)
	addBookmark(t, s, "bm_1", url)
	handleFetch(t, w, "bm_1")

	rc, err := s.GetReadableContent(context.Background(), "bm_1")
	if err != nil {
		t.Fatal(err)
	}
	if rc.StatusCode != StatusSocketError {
		t.Errorf("status = %d, want %d", rc.StatusCode, StatusSocketError)
	}
}

func TestFetchIncompleteRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		// Promise more bytes than we send, then hang up mid-body.
		rw.Header().Set("Content-Length", "4096")
		rw.Write([]byte("<html><body>truncated"))
	}))
	defer srv.Close()

	s := testStore(t)
	w, indexQ := testWorker(t, s)
	addBookmark(t, s, "bm_1", srv.URL)
	handleFetch(t, w, "bm_1")

	rc, err := s.GetReadableContent(context.Background(), "bm_1")
	if err != nil {
		t.Fatal(err)
	}
	if rc.StatusCode != StatusIncompleteRead {
		t.Errorf("status = %d, want %d", rc.StatusCode, StatusIncompleteRead)
	}
	if rc.Content != nil {
		t.Errorf("content = %q, want nil", *rc.Content)
	}
	if n, _ := indexQ.Len(context.Background()); n != 1 {
		t.Errorf("index queue = %d, want 1", n)
	}
}

func TestFetchMalformedStatusLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, _, err := rw.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		// Answer with something that is not an HTTP status line.
		conn.Write([]byte("SPEAK FRIEND AND ENTER\r\n\r\n"))
		conn.Close()
	}))
	defer srv.Close()

	s := testStore(t)
	w, _ := testWorker(t, s)
	addBookmark(t, s, "bm_1", srv.URL)
	handleFetch(t, w, "bm_1")

	rc, err := s.GetReadableContent(context.Background(), "bm_1")
	if err != nil {
		t.Fatal(err)
	}
	if rc.StatusCode != StatusMalformedStatus {
		t.Errorf("status = %d, want %d", rc.StatusCode, StatusMalformedStatus)
	}
}

func TestFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		// 200 with no body at all.
	}))
	defer srv.Close()

	s := testStore(t)
	w, _ := testWorker(t, s)
	addBookmark(t, s, "bm_1", srv.URL)
	handleFetch(t, w, "bm_1")

	rc, err := s.GetReadableContent(context.Background(), "bm_1")
	if err != nil {
		t.Fatal(err)
	}
	if rc.StatusCode != StatusEmptyDocument {
		t.Errorf("status = %d, want %d", rc.StatusCode, StatusEmptyDocument)
	}
}

func TestFetchPreSuppliedContentSkipsNetwork(t *testing.T) {
	s := testStore(t)
	w, _ := testWorker(t, s)

	// The URL points nowhere; supplied content must make fetching moot.
	addBookmark(t, s, "bm_1", "https://unreachable.invalid/")
	payload := `{"bookmark_id":"bm_1","content":"` +
		`<html><body><article><p>Supplied at creation time, long enough to ` +
		`count as a readable content region for extraction.</p></article></body></html>"}`
	if err := w.Handle(context.Background(), &vtq.Job{ID: "fetch_bm_1", Payload: []byte(payload)}); err != nil {
		t.Fatal(err)
	}

	rc, err := s.GetReadableContent(context.Background(), "bm_1")
	if err != nil {
		t.Fatal(err)
	}
	if rc.StatusCode != 200 {
		t.Errorf("status = %d, want 200", rc.StatusCode)
	}
	if rc.Content == nil || !strings.Contains(*rc.Content, "creation time") {
		t.Errorf("content = %v", rc.Content)
	}
}

func TestFetchMissingBookmarkRetries(t *testing.T) {
	s := testStore(t)
	w, _ := testWorker(t, s)

	err := w.Handle(context.Background(), &vtq.Job{
		ID:      "fetch_ghost",
		Payload: []byte(`{"bookmark_id":"ghost"}`),
	})
	var retry *vtq.ErrRetryAfter
	if !errors.As(err, &retry) {
		t.Fatalf("err = %v, want ErrRetryAfter", err)
	}
	if retry.Delay.Seconds() != 30 {
		t.Errorf("delay = %v, want 30s", retry.Delay)
	}
}
