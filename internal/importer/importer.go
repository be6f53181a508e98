// Package importer drives the five-stage import pipeline over a
// persisted, resumable session record: discover, hash/dedup, place,
// extract, finalize. The session row is the single source of truth for
// what has already happened; resume never repeats a completed side
// effect, and cancellation is cooperative at file granularity.
package importer

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mkaverti/fieldvault/internal/bag"
	"github.com/mkaverti/fieldvault/internal/content"
	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/events"
	"github.com/mkaverti/fieldvault/internal/model"
	"github.com/mkaverti/fieldvault/internal/queue"
)

// ProgressEvent is reported once per file per stage.
type ProgressEvent struct {
	SessionID  string `json:"sessionId"`
	Stage      string `json:"stage"`
	FileIndex  int    `json:"fileIndex"`
	TotalFiles int    `json:"totalFiles"`
	Path       string `json:"path"`
	Status     string `json:"status"`
}

// ProgressFunc receives per-file progress. It is the only side channel
// to the caller's UI layer.
type ProgressFunc func(ProgressEvent)

// Options carries the import target and attribution metadata.
type Options struct {
	LocID       string
	SubID       string
	Attribution map[string]string // extra bag-info tags, e.g. Contact-Name
	Progress    ProgressFunc
}

// Result summarises a finished (or cancelled) run.
type Result struct {
	SessionID  string `json:"sessionId"`
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
	Errors     int    `json:"errors"`
	JobsQueued int    `json:"jobsQueued"`
	Cancelled  bool   `json:"cancelled"`
}

// Status describes the orchestrator's in-flight session, if any.
type Status struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// Orchestrator runs import sessions. One orchestrator instance may run
// sessions concurrently; each session is tracked by a cancellation
// token in an in-memory map.
type Orchestrator struct {
	DB    *sql.DB
	Queue *queue.Queue
	Sync  *bag.Synchronizer
	Hub   *events.Hub

	mu      sync.Mutex
	active  map[string]*atomic.Bool // session id -> abort flag
	current string
}

func New(database *sql.DB, q *queue.Queue, sync *bag.Synchronizer, hub *events.Hub) *Orchestrator {
	return &Orchestrator{
		DB:     database,
		Queue:  q,
		Sync:   sync,
		Hub:    hub,
		active: make(map[string]*atomic.Bool),
	}
}

// Import runs all five stages for a brand-new session.
func (o *Orchestrator) Import(ctx context.Context, paths []string, opts Options) (*Result, error) {
	loc, err := o.checkPreconditions(opts.LocID)
	if err != nil {
		return nil, err
	}

	sess := &model.ImportSession{
		ID:     newSessionID(),
		LocID:  opts.LocID,
		SubID:  opts.SubID,
		Status: model.SessionRunning,
		Stage:  model.StageDiscover,
		Paths:  paths,
	}
	if err := db.CreateImportSession(o.DB, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return o.run(ctx, sess, loc, opts)
}

// Resume loads a persisted session and continues from its last
// incomplete stage. Files already copied are never re-copied; files
// already hashed are never re-hashed.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, opts Options) (*Result, error) {
	sess, err := db.GetImportSession(o.DB, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrSessionNotFound)
	}
	if sess.Status == model.SessionCompleted {
		return &Result{SessionID: sess.ID}, nil
	}

	loc, err := o.checkPreconditions(sess.LocID)
	if err != nil {
		return nil, err
	}

	sess.Status = model.SessionRunning
	sess.Aborted = false
	opts.LocID = sess.LocID
	opts.SubID = sess.SubID
	return o.run(ctx, sess, loc, opts)
}

// Cancel sets the session's abort flag. The pipeline observes it
// between file operations and stops cleanly in a resumable state.
func (o *Orchestrator) Cancel(sessionID string) error {
	o.mu.Lock()
	flag := o.active[sessionID]
	o.mu.Unlock()
	if flag != nil {
		flag.Store(true)
	}
	return db.MarkImportSessionAborted(o.DB, sessionID)
}

// Status returns the current in-flight session, or idle.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == "" {
		return Status{Status: "idle"}
	}
	return Status{SessionID: o.current, Status: "importing"}
}

// ResumableSessions lists persisted sessions that have not completed.
func (o *Orchestrator) ResumableSessions() ([]model.ImportSession, error) {
	return db.ListResumableSessions(o.DB)
}

func (o *Orchestrator) checkPreconditions(locid string) (*model.Location, error) {
	root, err := o.archiveRoot()
	if err != nil {
		return nil, err
	}
	if root == "" {
		return nil, model.ErrArchiveNotConfigured
	}
	loc, err := db.GetLocation(o.DB, locid)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, fmt.Errorf("location %s: %w", locid, model.ErrLocationNotFound)
	}
	return loc, nil
}

func (o *Orchestrator) archiveRoot() (string, error) {
	return db.GetSetting(o.DB, db.ArchiveFolderKey)
}

func (o *Orchestrator) run(ctx context.Context, sess *model.ImportSession, loc *model.Location, opts Options) (*Result, error) {
	abort := &atomic.Bool{}
	o.mu.Lock()
	o.active[sess.ID] = abort
	o.current = sess.ID
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, sess.ID)
		if o.current == sess.ID {
			o.current = ""
		}
		o.mu.Unlock()
	}()

	slog.Info("import session started", "session", sess.ID, "locid", sess.LocID, "stage", sess.Stage)

	result := &Result{SessionID: sess.ID}
	for stage := sess.Stage; stage != ""; stage = stage.Next() {
		sess.Stage = stage

		var err error
		switch stage {
		case model.StageDiscover:
			err = o.stageDiscover(sess)
		case model.StageHash:
			err = o.stageHash(ctx, sess, abort, opts)
		case model.StagePlace:
			err = o.stagePlace(ctx, sess, abort, opts)
		case model.StageExtract:
			err = o.stageExtract(ctx, sess, abort, opts)
		case model.StageFinalize:
			err = o.stageFinalize(ctx, sess, loc, opts, result)
		}

		if err != nil {
			sess.Status = model.SessionFailed
			db.SaveImportSessionProgress(o.DB, sess)
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}

		if (abort.Load() || ctx.Err() != nil) && sess.Status != model.SessionCompleted {
			// leave the session resumable at the current stage
			sess.Status = model.SessionCancelled
			sess.Aborted = true
			if err := db.SaveImportSessionProgress(o.DB, sess); err != nil {
				return nil, err
			}
			o.tally(sess, result)
			result.Cancelled = true
			slog.Info("import session cancelled", "session", sess.ID, "stage", stage)
			return result, nil
		}

		if err := db.SaveImportSessionProgress(o.DB, sess); err != nil {
			return nil, fmt.Errorf("persist session after %s: %w", stage, err)
		}
	}

	o.tally(sess, result)
	slog.Info("import session finished", "session", sess.ID,
		"imported", result.Imported, "duplicates", result.Duplicates,
		"errors", result.Errors, "jobs", result.JobsQueued)
	o.publishDone(sess, result)
	return result, nil
}

func (o *Orchestrator) tally(sess *model.ImportSession, result *Result) {
	result.Imported, result.Duplicates, result.Errors = 0, 0, 0
	for _, out := range sess.Outcomes {
		switch out.Status {
		case model.OutcomeStored:
			result.Imported++
		case model.OutcomeDuplicate:
			result.Duplicates++
		case model.OutcomeError:
			result.Errors++
		}
	}
}

// stageDiscover expands input paths into per-file outcome records. On
// resume with outcomes already recorded it is a no-op.
func (o *Orchestrator) stageDiscover(sess *model.ImportSession) error {
	if len(sess.Outcomes) > 0 {
		return nil
	}
	candidates, err := discover(sess.Paths)
	if err != nil {
		return err
	}
	sess.Outcomes = make([]model.FileOutcome, 0, len(candidates))
	for _, path := range candidates {
		sess.Outcomes = append(sess.Outcomes, model.FileOutcome{
			Path:      path,
			Status:    model.OutcomePending,
			MediaType: string(content.TypeForExt(filepath.Ext(path))),
		})
	}
	slog.Info("discover complete", "session", sess.ID, "candidates", len(candidates))
	return nil
}

// stageHash computes content hashes and partitions candidates into
// accepted and duplicate sets. Duplicates are recognised against both
// the location's stored media and earlier files in the same batch.
func (o *Orchestrator) stageHash(ctx context.Context, sess *model.ImportSession, abort *atomic.Bool, opts Options) error {
	seen := make(map[string]bool)
	for i := range sess.Outcomes {
		out := &sess.Outcomes[i]
		if out.Status == model.OutcomeHashed {
			seen[out.Hash] = true
		}
	}

	total := len(sess.Outcomes)
	for i := range sess.Outcomes {
		if abort.Load() || ctx.Err() != nil {
			return nil
		}
		out := &sess.Outcomes[i]
		if out.Status != model.OutcomePending {
			continue
		}

		hash, err := content.Identify(out.Path)
		if err != nil {
			out.Status = model.OutcomeError
			out.Error = err.Error()
			o.progress(sess, model.StageHash, i, total, out, opts)
			continue
		}
		out.Hash = hash

		existing, err := content.FindDuplicate(o.DB, sess.LocID, hash)
		if err != nil {
			return fmt.Errorf("dedup lookup: %w", err)
		}
		if existing != nil || seen[hash] {
			out.Status = model.OutcomeDuplicate
		} else {
			out.Status = model.OutcomeHashed
			seen[hash] = true
		}
		o.progress(sess, model.StageHash, i, total, out, opts)
	}
	return nil
}

// stagePlace copies accepted files into archive storage under their
// deterministic content-addressed paths. A copy failure marks the file
// errored and the batch continues.
func (o *Orchestrator) stagePlace(ctx context.Context, sess *model.ImportSession, abort *atomic.Bool, opts Options) error {
	bagDir := o.Sync.BagDir(sess.LocID)
	total := len(sess.Outcomes)
	for i := range sess.Outcomes {
		if abort.Load() || ctx.Err() != nil {
			return nil
		}
		out := &sess.Outcomes[i]
		if out.Status != model.OutcomeHashed {
			continue
		}

		relPath := content.ArchivePath(model.MediaType(out.MediaType), out.Hash, out.Path)
		dst := filepath.Join(bagDir, filepath.FromSlash(relPath))
		if err := copyFile(out.Path, dst); err != nil {
			slog.Warn("place failed", "session", sess.ID, "file", out.Path, "error", err)
			out.Status = model.OutcomeError
			out.Error = err.Error()
			o.progress(sess, model.StagePlace, i, total, out, opts)
			continue
		}
		out.Status = model.OutcomeCopied
		o.progress(sess, model.StagePlace, i, total, out, opts)

		// persist after each copy so resume knows what is on disk
		if err := db.SaveImportSessionProgress(o.DB, sess); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}
	return nil
}

// stageExtract pulls minimal structural metadata for row creation.
// Failures degrade to nulls, never abort the batch.
func (o *Orchestrator) stageExtract(ctx context.Context, sess *model.ImportSession, abort *atomic.Bool, opts Options) error {
	bagDir := o.Sync.BagDir(sess.LocID)
	total := len(sess.Outcomes)
	for i := range sess.Outcomes {
		if abort.Load() || ctx.Err() != nil {
			return nil
		}
		out := &sess.Outcomes[i]
		if out.Status != model.OutcomeCopied || out.SizeBytes != 0 {
			continue
		}

		relPath := content.ArchivePath(model.MediaType(out.MediaType), out.Hash, out.Path)
		extractMeta(ctx, filepath.Join(bagDir, filepath.FromSlash(relPath)), out)
		o.progress(sess, model.StageExtract, i, total, out, opts)
	}
	return nil
}

// stageFinalize commits database rows for placed files, enqueues
// follow-on jobs, regenerates the location's bag, and completes the
// session. Finalize is not interrupted by cancellation: accepted work
// is never lost because the batch was cancelled late.
func (o *Orchestrator) stageFinalize(ctx context.Context, sess *model.ImportSession, loc *model.Location, opts Options, result *Result) error {
	total := len(sess.Outcomes)
	for i := range sess.Outcomes {
		out := &sess.Outcomes[i]
		if out.Status != model.OutcomeCopied {
			continue
		}

		relPath := content.ArchivePath(model.MediaType(out.MediaType), out.Hash, out.Path)
		media := &model.MediaFile{
			ID:           uuid.NewString(),
			LocID:        sess.LocID,
			SubID:        sess.SubID,
			MediaType:    model.MediaType(out.MediaType),
			OriginalName: filepath.Base(out.Path),
			ArchivePath:  relPath,
			Hash:         out.Hash,
			SizeBytes:    out.SizeBytes,
			Width:        out.Width,
			Height:       out.Height,
			DurationSecs: out.DurationSecs,
		}
		if err := db.CreateMediaFile(o.DB, media); err != nil {
			// UNIQUE(locid, hash) can fire when a concurrent import won
			// the race; treat as duplicate rather than losing the batch
			if existing, lookupErr := db.FindMediaByHash(o.DB, sess.LocID, out.Hash); lookupErr == nil && existing != nil {
				out.Status = model.OutcomeDuplicate
				o.progress(sess, model.StageFinalize, i, total, out, opts)
				continue
			}
			out.Status = model.OutcomeError
			out.Error = err.Error()
			o.progress(sess, model.StageFinalize, i, total, out, opts)
			continue
		}

		result.JobsQueued += o.enqueueFollowOns(media)
		out.Status = model.OutcomeStored
		out.MediaID = media.ID
		o.progress(sess, model.StageFinalize, i, total, out, opts)
	}

	// one rollup per location per import batch
	if id, err := o.Queue.Add(queue.Spec{
		Queue:    queue.QueueRollup,
		Payload:  map[string]string{"locid": sess.LocID},
		Priority: model.PriorityNormal,
		Key:      "rollup:" + sess.LocID,
	}); err != nil {
		slog.Error("enqueue rollup", "locid", sess.LocID, "error", err)
	} else if id != "" {
		result.JobsQueued++
	}

	files, err := db.ListLiveMedia(o.DB, sess.LocID)
	if err != nil {
		return fmt.Errorf("list media for manifest: %w", err)
	}
	if err := o.Sync.Regenerate(loc, files); err != nil {
		return fmt.Errorf("regenerate bag: %w", err)
	}
	if len(opts.Attribution) > 0 {
		if err := o.Sync.UpdateInfo(loc, opts.Attribution); err != nil {
			return fmt.Errorf("update bag info: %w", err)
		}
	}

	sess.Status = model.SessionCompleted
	return nil
}

// enqueueFollowOns queues post-processing per asset and returns how
// many jobs were actually created (idempotent no-ops excluded).
func (o *Orchestrator) enqueueFollowOns(media *model.MediaFile) int {
	payload := map[string]string{
		"mediaId":     media.ID,
		"hash":        media.Hash,
		"mediaType":   string(media.MediaType),
		"archivePath": media.ArchivePath,
		"locid":       media.LocID,
		"subid":       media.SubID,
	}

	type jobSpec struct {
		queueName string
		priority  int
	}
	var specs []jobSpec
	switch media.MediaType {
	case model.MediaImage:
		specs = []jobSpec{
			{queue.QueueThumbnail, model.PriorityHigh},
			{queue.QueueMetadata, model.PriorityNormal},
			{queue.QueuePHash, model.PriorityLow},
		}
	case model.MediaVideo:
		specs = []jobSpec{
			{queue.QueueThumbnail, model.PriorityHigh},
			{queue.QueueMetadata, model.PriorityNormal},
			{queue.QueueProxy, model.PriorityLow},
		}
	default:
		return 0
	}

	queued := 0
	for _, s := range specs {
		id, err := o.Queue.Add(queue.Spec{
			Queue:    s.queueName,
			Payload:  payload,
			Priority: s.priority,
			Key:      s.queueName + ":" + media.ID,
		})
		if err != nil {
			slog.Error("enqueue follow-on", "queue", s.queueName, "media", media.ID, "error", err)
			continue
		}
		if id != "" {
			queued++
		}
	}
	return queued
}

func (o *Orchestrator) progress(sess *model.ImportSession, stage model.Stage, idx, total int, out *model.FileOutcome, opts Options) {
	evt := ProgressEvent{
		SessionID:  sess.ID,
		Stage:      string(stage),
		FileIndex:  idx,
		TotalFiles: total,
		Path:       out.Path,
		Status:     out.Status,
	}
	if opts.Progress != nil {
		opts.Progress(evt)
	}
	if o.Hub != nil {
		if data, err := json.Marshal(evt); err == nil {
			o.Hub.Publish("session:"+sess.ID, events.Event{Type: events.TypeImportProgress, Data: string(data)})
		}
	}
}

func (o *Orchestrator) publishDone(sess *model.ImportSession, result *Result) {
	if o.Hub == nil {
		return
	}
	if data, err := json.Marshal(result); err == nil {
		o.Hub.Publish("session:"+sess.ID, events.Event{Type: events.TypeImportDone, Data: string(data)})
	}
}

// copyFile copies via a temp file in the destination directory and
// renames into place, so a crash mid-copy never leaves a half-written
// file at the final path.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".import-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// newSessionID returns a 16-hex-character identifier, the id convention
// used across the archive.
func newSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()[:16]
	}
	return hex.EncodeToString(b)
}
