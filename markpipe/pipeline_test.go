package markpipe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		DBPath:    dir + "/marque.db",
		UploadDir: dir + "/uploads",
		Import:    ImportConfig{PollInterval: 20 * time.Millisecond},
		Fetch:     FetchConfig{PollInterval: 20 * time.Millisecond, Timeout: 5 * time.Second},
		Index:     IndexConfig{PollInterval: 20 * time.Millisecond},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

const pageBody = `<!DOCTYPE html><html><head><title>Generics</title></head><body>
<article><h1>Generics</h1>
<p>Type parameters arrived in Go 1.18 and changed how container libraries
are written. Constraints describe what a type argument must provide, and
the compiler checks every instantiation at build time.</p>
<p>Most code still does not need them, and that is fine. A little copying
is better than a little dependency, as the proverb goes.</p>
</article></body></html>`

func TestPipelineEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/html")
		rw.Write([]byte(pageBody))
	}))
	defer srv.Close()

	p, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	upload := fmt.Sprintf(`<!DOCTYPE NETSCAPE-Bookmark-file-1>
<TITLE>Bookmarks</TITLE>
<DL><p>
<DT><A HREF="%s" TAGS="go generics">Generics notes</A>
</DL><p>
`, srv.URL)

	jobID, err := p.Submit(ctx, "alice", "bookmarks.html", []byte(upload))
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 10*time.Second, func() bool {
		st, err := p.ImportStatus(ctx, jobID)
		return err == nil && st.Status == "COMPLETE"
	})

	// Fetch and index follow asynchronously; wait until the page text is
	// searchable.
	waitFor(t, 10*time.Second, func() bool {
		hits, err := p.Search(ctx, "alice", "instantiation", 10)
		return err == nil && len(hits) == 1
	})

	hits, err := p.Search(ctx, "alice", "generics", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || !strings.Contains(hits[0].URL, "127.0.0.1") {
		t.Errorf("hits = %+v", hits)
	}

	if err := p.Click(ctx, hits[0].BookmarkID); err != nil {
		t.Fatal(err)
	}

	stats, err := p.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Bookmarks != 1 || stats.Documents != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPipelineSubmitConflict(t *testing.T) {
	p, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	ctx := context.Background()

	// Workers are not started, so the first job stays NEW.
	jobID, err := p.Submit(ctx, "alice", "b.html", []byte("<!DOCTYPE NETSCAPE-Bookmark-file-1>\n<DL></DL>"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Submit(ctx, "alice", "b.html", []byte("x")); err != ErrImportInFlight {
		t.Errorf("err = %v, want ErrImportInFlight", err)
	}

	active, err := p.ActiveImport(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if active.JobID != jobID || active.Status != "NEW" {
		t.Errorf("active = %+v", active)
	}

	st, err := p.ImportStatus(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if st.QueuePosition != 0 {
		t.Errorf("queue position = %d, want 0", st.QueuePosition)
	}
}

func TestPipelineReindex(t *testing.T) {
	p, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	ctx := context.Background()

	n, err := p.Reindex(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("reindex on empty store = %d jobs, want 0", n)
	}
}
