package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/marque/idgen"
	"github.com/hazyhaar/marque/markfmt"
	"github.com/hazyhaar/marque/markpipe/internal/store"
	"github.com/hazyhaar/marque/notify"
	"github.com/hazyhaar/marque/observability"
	"github.com/hazyhaar/marque/vtq"
)

// ErrImportInFlight is returned by Submit when the owner already has an
// upload waiting or running. One upload per owner at a time.
var ErrImportInFlight = errors.New("ingest: an import is already in flight for this owner")

// AdminRecipient is the recipient id for operator notifications.
const AdminRecipient = "admin"

type importPayload struct {
	JobID string `json:"job_id"`
}

type fetchPayload struct {
	BookmarkID string `json:"bookmark_id"`
}

// Coordinator drives the upload lifecycle: Submit accepts a file and
// records a NEW job; HandleClaim flips it to RUNNING quickly so the claim
// queue never blocks behind a slow parse; HandleRun does the actual work.
type Coordinator struct {
	store     *store.Store
	engine    *Engine
	detector  *markfmt.Detector
	uploadDir string
	claimQ    *vtq.Q
	runQ      *vtq.Q
	fetchQ    *vtq.Q
	notifier  notify.Notifier
	events    *observability.EventLogger
	newID     idgen.Generator
	log       *slog.Logger
}

// CoordinatorConfig wires a Coordinator. All queue handles are required;
// Notifier and Events may be nil to disable those side channels.
type CoordinatorConfig struct {
	Store     *store.Store
	Engine    *Engine
	Detector  *markfmt.Detector
	UploadDir string
	ClaimQ    *vtq.Q
	RunQ      *vtq.Q
	FetchQ    *vtq.Q
	Notifier  notify.Notifier
	Events    *observability.EventLogger
	Logger    *slog.Logger
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		store:     cfg.Store,
		engine:    cfg.Engine,
		detector:  cfg.Detector,
		uploadDir: cfg.UploadDir,
		claimQ:    cfg.ClaimQ,
		runQ:      cfg.RunQ,
		fetchQ:    cfg.FetchQ,
		notifier:  cfg.Notifier,
		events:    cfg.Events,
		newID:     idgen.Prefixed("imp_", idgen.Default),
		log:       cfg.Logger,
	}
	if c.detector == nil {
		c.detector = markfmt.NewDetector()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Submit stores the uploaded file on disk, records a NEW import job, and
// enqueues it. Returns ErrImportInFlight when the owner already has an
// active job; the caller can report the queue position of the existing one.
func (c *Coordinator) Submit(ctx context.Context, owner, filename string, data []byte) (string, error) {
	if _, err := c.store.ActiveImportJob(ctx, owner); err == nil {
		return "", ErrImportInFlight
	} else if err != store.ErrNotFound {
		return "", err
	}

	jobID := c.newID()
	path := filepath.Join(c.uploadDir, jobID+sanitizeExt(filename))
	if err := os.MkdirAll(c.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}

	if err := c.store.CreateImportJob(ctx, jobID, owner, path); err != nil {
		if errors.Is(err, store.ErrImportActive) {
			// Lost a race with a concurrent upload for the same owner.
			os.Remove(path)
			return "", ErrImportInFlight
		}
		return "", err
	}
	payload, _ := json.Marshal(importPayload{JobID: jobID})
	if err := c.claimQ.Publish(ctx, jobID, payload); err != nil {
		return "", fmt.Errorf("enqueue import: %w", err)
	}

	c.log.Info("import submitted", "job_id", jobID, "owner", owner, "bytes", len(data))
	return jobID, nil
}

// sanitizeExt keeps a short, safe file extension from the uploaded name.
func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	switch ext {
	case ".html", ".htm", ".json", ".xml":
		return ext
	}
	return ".dat"
}

// HandleClaim moves a NEW job to RUNNING and hands it to the run queue.
// The transition is cheap so claim workers stay responsive; a redelivered
// claim for an already-running job is acked without effect.
func (c *Coordinator) HandleClaim(ctx context.Context, job *vtq.Job) error {
	var p importPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode claim payload: %w", err)
	}
	if err := c.store.MarkImportRunning(ctx, p.JobID); err != nil {
		if err == store.ErrNotFound {
			c.log.Warn("claim for job not in NEW state, dropping", "job_id", p.JobID)
			return nil
		}
		return err
	}
	if err := c.runQ.Publish(ctx, "run_"+p.JobID, job.Payload); err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}
	return nil
}

// HandleRun parses the uploaded file and persists its entries. Parse and
// persistence failures finish the job as ERROR with a notification; only
// infrastructure errors propagate for queue retry.
func (c *Coordinator) HandleRun(ctx context.Context, job *vtq.Job) error {
	var p importPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode run payload: %w", err)
	}
	imp, err := c.store.GetImportJob(ctx, p.JobID)
	if err != nil {
		return err
	}

	c.event(ctx, observability.EventImportStarted, imp, true, "")
	data, err := os.ReadFile(imp.FilePath)
	if err != nil {
		return c.fail(ctx, imp, fmt.Sprintf("read upload: %v", err))
	}

	entries, format, err := c.detector.Parse(data)
	if err != nil {
		return c.fail(ctx, imp, err.Error())
	}

	res, err := c.engine.Persist(ctx, imp.Owner, entries)
	if err != nil {
		return c.fail(ctx, imp, fmt.Sprintf("persist entries: %v", err))
	}

	// Fetch jobs go out only now, after every batch has committed.
	for _, id := range res.NewIDs {
		fp, _ := json.Marshal(fetchPayload{BookmarkID: id})
		if err := c.fetchQ.Publish(ctx, "fetch_"+id, fp); err != nil && !isDuplicateJob(err) {
			return fmt.Errorf("enqueue fetch for %s: %w", id, err)
		}
	}

	if err := c.store.CompleteImportJob(ctx, imp.ID); err != nil {
		return err
	}
	c.event(ctx, observability.EventImportCompleted, imp, true, "")

	summary := map[string]any{
		"job_id":     imp.ID,
		"format":     format,
		"stored":     res.Stored,
		"duplicates": res.Duplicates,
		"private":    res.Private,
	}
	c.send(ctx, imp.Owner, "import complete", summary)
	c.send(ctx, AdminRecipient, "import complete", summary)

	c.log.Info("import complete",
		"job_id", imp.ID, "owner", imp.Owner, "format", format,
		"stored", res.Stored, "duplicates", res.Duplicates, "private", res.Private)
	return nil
}

// fail finishes the job as ERROR, notifies both parties, and acks the queue
// job: the failure is recorded, retrying the same file cannot help.
func (c *Coordinator) fail(ctx context.Context, imp *store.ImportJob, msg string) error {
	if err := c.store.FailImportJob(ctx, imp.ID, msg); err != nil {
		return err
	}
	c.event(ctx, observability.EventImportFailed, imp, false, msg)
	detail := map[string]any{"job_id": imp.ID, "error": msg}
	c.send(ctx, imp.Owner, "import failed", detail)
	c.send(ctx, AdminRecipient, "import failed", detail)
	c.log.Warn("import failed", "job_id", imp.ID, "owner", imp.Owner, "error", msg)
	return nil
}

func (c *Coordinator) send(ctx context.Context, recipient, subject string, payload any) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, recipient, subject, payload); err != nil {
		c.log.Warn("notification failed", "recipient", recipient, "error", err)
	}
}

func (c *Coordinator) event(ctx context.Context, typ string, imp *store.ImportJob, ok bool, detail string) {
	if c.events == nil {
		return
	}
	c.events.Log(ctx, observability.Event{
		Type:     typ,
		Entity:   "import_job",
		EntityID: imp.ID,
		Owner:    imp.Owner,
		Detail:   detail,
		Success:  ok,
	})
}

// isDuplicateJob reports whether a publish failed because the job id is
// already queued, which happens when a run job is redelivered after a
// partial fan-out.
func isDuplicateJob(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
