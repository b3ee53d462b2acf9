// Package ingest turns uploaded bookmark files into stored bookmarks. The
// Coordinator owns the upload lifecycle; the Engine persists parsed entries
// in batches.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/marque/idgen"
	"github.com/hazyhaar/marque/markfmt"
	"github.com/hazyhaar/marque/markpipe/internal/store"
	"github.com/hazyhaar/marque/tagcmd"
	"github.com/hazyhaar/marque/urlid"
)

// defaultBatchSize is how many bookmarks commit together. Small enough that
// a crash mid-import loses little, large enough to amortise fsync.
const defaultBatchSize = 25

// Engine persists parsed bookmark entries for one owner at a time.
type Engine struct {
	store     *store.Store
	tags      *tagcmd.Engine
	newID     idgen.Generator
	log       *slog.Logger
	batchSize int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBatchSize overrides the commit batch size.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithTagEngine replaces the stock reserved-tag command set.
func WithTagEngine(t *tagcmd.Engine) EngineOption {
	return func(e *Engine) { e.tags = t }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine builds an Engine over the store with the stock tag commands.
func NewEngine(s *store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     s,
		tags:      tagcmd.New(tagcmd.Builtin()),
		newID:     idgen.Prefixed("bm_", idgen.Default),
		log:       slog.Default(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result summarises one persistence pass.
type Result struct {
	Stored     int
	Duplicates int
	Private    int
	Commits    int
	// NewIDs lists the stored bookmark ids in insertion order. The caller
	// enqueues fetch jobs from this only after Persist returns, so no
	// downstream worker ever races an uncommitted row.
	NewIDs []string
}

// isPrivate reports whether the entry carries a "private" tag token, in any
// case. Private entries never enter the pipeline and are not counted as
// duplicates.
func isPrivate(entry markfmt.RawBookmark) bool {
	for _, t := range entry.Tags() {
		if strings.EqualFold(t, "private") {
			return true
		}
	}
	return false
}

// Persist stores all non-private, non-duplicate entries for owner,
// committing every batchSize inserts plus a final partial batch.
// Duplicates are judged against the owner's existing bookmarks and against
// earlier entries in the same file.
func (e *Engine) Persist(ctx context.Context, owner string, entries []markfmt.RawBookmark) (*Result, error) {
	seen, err := e.store.OwnerURLHashes(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load existing urls: %w", err)
	}

	res := &Result{}
	var tx *sql.Tx
	var pending int

	commit := func() error {
		if tx == nil {
			return nil
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		tx = nil
		pending = 0
		res.Commits++
		return nil
	}

	for _, entry := range entries {
		if entry.URL == "" {
			continue
		}
		if isPrivate(entry) {
			res.Private++
			continue
		}
		hash := urlid.Hash(entry.URL)
		if _, dup := seen[hash]; dup {
			res.Duplicates++
			continue
		}
		seen[hash] = struct{}{}

		b := store.NewBookmark(e.newID(), owner, entry.URL, hash, entry.Tags())
		b.Description = entry.Description
		b.Extended = entry.Extended
		b.InsertedBy = "import"
		if !entry.CreatedAt.IsZero() {
			b.CreatedAt = entry.CreatedAt
		}
		e.tags.Apply(b)

		if tx == nil {
			tx, err = e.store.DB.BeginTx(ctx, nil)
			if err != nil {
				return nil, fmt.Errorf("begin batch: %w", err)
			}
		}
		if err := store.InsertBookmarkTx(tx, b); err != nil {
			tx.Rollback()
			return nil, err
		}
		res.Stored++
		res.NewIDs = append(res.NewIDs, b.ID)
		pending++

		if pending >= e.batchSize {
			if err := commit(); err != nil {
				return nil, err
			}
		}
	}
	if err := commit(); err != nil {
		return nil, err
	}

	e.log.Info("entries persisted",
		"owner", owner,
		"stored", res.Stored,
		"duplicates", res.Duplicates,
		"private", res.Private,
		"commits", res.Commits)
	return res, nil
}
