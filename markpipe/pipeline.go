// Package markpipe is the bookmark ingestion pipeline.
//
// It turns uploaded bookmark export files into stored, deduplicated,
// fulltext-searchable bookmarks:
//
//	upload → import claim → import run → fetch → index → search
//
// Each arrow is a persistent queue, so a crash at any stage resumes where
// it left off. Key properties:
//   - One import per owner in flight at a time; later uploads are refused
//     with their queue position.
//   - URLs are identified by a hash shared across owners; re-importing the
//     same file stores nothing new.
//   - Every fetch outcome is classified and stored, failures included.
//   - The fulltext index admits one writer; contention redelivers with a
//     countdown instead of queueing in memory.
//
// Usage:
//
//	p, err := markpipe.New(cfg, logger)
//	defer p.Close()
//	p.Start(ctx)
//	jobID, err := p.Submit(ctx, owner, filename, data)
package markpipe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/marque/markfmt"
	"github.com/hazyhaar/marque/markpipe/internal/fetch"
	"github.com/hazyhaar/marque/markpipe/internal/index"
	"github.com/hazyhaar/marque/markpipe/internal/ingest"
	"github.com/hazyhaar/marque/markpipe/internal/store"
	"github.com/hazyhaar/marque/notify"
	"github.com/hazyhaar/marque/observability"
	"github.com/hazyhaar/marque/vtq"
)

// ErrImportInFlight is returned by Submit when the owner already has an
// active import.
var ErrImportInFlight = ingest.ErrImportInFlight

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = store.ErrNotFound

// stuckImportAge is how old a RUNNING import must be before the boot scan
// reports it as abandoned by a previous process.
const stuckImportAge = 10 * time.Minute

// Pipeline is the main orchestrator.
type Pipeline struct {
	store       *store.Store
	coordinator *ingest.Coordinator
	fetcher     *fetch.Worker
	indexer     *index.Writer
	claimQ      *vtq.Q
	runQ        *vtq.Q
	fetchQ      *vtq.Q
	indexQ      *vtq.Q
	events      *observability.EventLogger
	outbox      *notify.Outbox
	logger      *slog.Logger
	config      *Config
}

// New opens the database and wires every pipeline stage. Nothing runs
// until Start.
func New(cfg *Config, logger *slog.Logger) (*Pipeline, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	claimQ := vtq.New(s.DB, vtq.Options{
		Queue:        "import",
		Visibility:   cfg.Import.Visibility,
		PollInterval: cfg.Import.PollInterval,
		MaxAttempts:  cfg.Import.MaxAttempts,
		Logger:       logger,
	})
	runQ := vtq.New(s.DB, vtq.Options{
		Queue:        "import_run",
		Visibility:   cfg.Import.Visibility,
		PollInterval: cfg.Import.PollInterval,
		MaxAttempts:  cfg.Import.MaxAttempts,
		Logger:       logger,
	})
	fetchQ := vtq.New(s.DB, vtq.Options{
		Queue:        "fetch",
		Visibility:   cfg.Fetch.Visibility,
		PollInterval: cfg.Fetch.PollInterval,
		MaxAttempts:  cfg.Fetch.MaxAttempts,
		Logger:       logger,
	})
	indexQ := vtq.New(s.DB, vtq.Options{
		Queue:        "index",
		Visibility:   cfg.Index.Visibility,
		PollInterval: cfg.Index.PollInterval,
		MaxAttempts:  cfg.Index.MaxAttempts,
		Logger:       logger,
	})
	// All four queues share one table.
	if err := claimQ.EnsureTable(context.Background()); err != nil {
		s.Close()
		return nil, err
	}

	outbox, err := notify.NewOutbox(s.DB)
	if err != nil {
		s.Close()
		return nil, err
	}
	events, err := observability.NewEventLogger(s.DB)
	if err != nil {
		s.Close()
		return nil, err
	}

	coordinator := ingest.NewCoordinator(ingest.CoordinatorConfig{
		Store:     s,
		Engine:    ingest.NewEngine(s, ingest.WithBatchSize(cfg.Import.BatchSize), ingest.WithEngineLogger(logger)),
		Detector:  markfmt.NewDetector(markfmt.WithLogger(logger)),
		UploadDir: cfg.UploadDir,
		ClaimQ:    claimQ,
		RunQ:      runQ,
		FetchQ:    fetchQ,
		Notifier:  outbox,
		Events:    events,
		Logger:    logger,
	})
	fetcher := fetch.New(s, indexQ,
		fetch.WithClient(&http.Client{Timeout: cfg.Fetch.Timeout}),
		fetch.WithEvents(events),
		fetch.WithLogger(logger),
	)
	indexer := index.New(s, indexQ,
		index.WithEvents(events),
		index.WithLogger(logger),
	)

	return &Pipeline{
		store:       s,
		coordinator: coordinator,
		fetcher:     fetcher,
		indexer:     indexer,
		claimQ:      claimQ,
		runQ:        runQ,
		fetchQ:      fetchQ,
		indexQ:      indexQ,
		events:      events,
		outbox:      outbox,
		logger:      logger,
		config:      cfg,
	}, nil
}

// Start launches the queue consumers. It returns immediately; the workers
// stop when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	p.recoverStuckImports(ctx)

	go p.claimQ.Run(ctx, p.coordinator.HandleClaim)
	go p.runQ.Run(ctx, p.coordinator.HandleRun)
	go p.fetchQ.RunBatch(ctx, p.config.Fetch.Concurrency, p.config.Fetch.Concurrency, p.fetcher.Handle)
	// A single index consumer; the store enforces the writer limit anyway.
	go p.indexQ.Run(ctx, p.indexer.Handle)

	p.logger.Info("pipeline started", "db", p.config.DBPath,
		"fetch_concurrency", p.config.Fetch.Concurrency)
}

// recoverStuckImports reports imports a previous process abandoned while
// RUNNING. The queue's visibility timeout redelivers their jobs on its own;
// this scan just makes the condition visible to operators.
func (p *Pipeline) recoverStuckImports(ctx context.Context) {
	stuck, err := p.store.ListStuckRunning(ctx, stuckImportAge)
	if err != nil {
		p.logger.Warn("stuck import scan failed", "error", err)
		return
	}
	for _, j := range stuck {
		p.logger.Warn("import stuck in RUNNING from a previous run",
			"job_id", j.ID, "owner", j.Owner, "created_at", j.CreatedAt)
	}
}

// Close shuts the pipeline down and closes the database.
func (p *Pipeline) Close() error {
	return p.store.Close()
}

// Store exposes the underlying store for tests and admin tooling.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// Submit accepts one uploaded bookmark file for the owner.
func (p *Pipeline) Submit(ctx context.Context, owner, filename string, data []byte) (string, error) {
	return p.coordinator.Submit(ctx, owner, filename, data)
}

// ImportStatus describes one import job to API callers.
type ImportStatus struct {
	JobID         string    `json:"job_id"`
	Owner         string    `json:"owner"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	QueuePosition int       `json:"queue_position"`
	CreatedAt     time.Time `json:"created_at"`
}

// ImportStatus returns the state of one import job, including how many
// uploads sit ahead of it while it waits.
func (p *Pipeline) ImportStatus(ctx context.Context, jobID string) (*ImportStatus, error) {
	j, err := p.store.GetImportJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st := &ImportStatus{
		JobID:     j.ID,
		Owner:     j.Owner,
		Status:    j.Status,
		Error:     j.ErrorMessage,
		CreatedAt: j.CreatedAt,
	}
	if j.Status == store.ImportNew {
		pos, err := p.store.QueuePosition(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		st.QueuePosition = pos
	}
	return st, nil
}

// ActiveImport returns the owner's in-flight import, or ErrNotFound.
func (p *Pipeline) ActiveImport(ctx context.Context, owner string) (*ImportStatus, error) {
	j, err := p.store.ActiveImportJob(ctx, owner)
	if err != nil {
		return nil, err
	}
	return p.ImportStatus(ctx, j.ID)
}

// Search runs a fulltext query scoped to the owner.
func (p *Pipeline) Search(ctx context.Context, owner, query string, limit int) ([]store.SearchResult, error) {
	return p.store.Search(ctx, owner, query, limit)
}

// Click records a bookmark visit on the bookmark and its shared URL.
func (p *Pipeline) Click(ctx context.Context, bookmarkID string) error {
	return p.store.IncrementClicks(ctx, bookmarkID)
}

// Reindex re-enqueues index jobs for all bookmarks, or one owner's.
func (p *Pipeline) Reindex(ctx context.Context, owner string) (int, error) {
	return p.indexer.Reindex(ctx, owner)
}

// ReindexSync rebuilds the fulltext index inline, without the queue.
// Intended for bootstrap and one-shot maintenance runs.
func (p *Pipeline) ReindexSync(ctx context.Context, owner string) (int, error) {
	return p.indexer.ReindexSync(ctx, owner)
}

// Stats is a point-in-time snapshot for operators.
type Stats struct {
	Bookmarks int64          `json:"bookmarks"`
	Documents int64          `json:"documents"`
	Queues    map[string]int `json:"queues"`
	Events    map[string]int `json:"events"`
}

// Stats gathers counts across the store, the queues, and the event log.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Queues: map[string]int{}}
	var err error
	if st.Bookmarks, err = p.store.CountBookmarks(ctx); err != nil {
		return nil, err
	}
	if st.Documents, err = p.store.CountDocuments(ctx); err != nil {
		return nil, err
	}
	for name, q := range map[string]*vtq.Q{
		"import": p.claimQ, "import_run": p.runQ,
		"fetch": p.fetchQ, "index": p.indexQ,
	} {
		n, err := q.Len(ctx)
		if err != nil {
			return nil, err
		}
		st.Queues[name] = n
	}
	if st.Events, err = p.events.CountByType(ctx); err != nil {
		// The event log is best-effort everywhere else too.
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("event counts unavailable", "error", err)
		}
		st.Events = map[string]int{}
	}
	return st, nil
}
