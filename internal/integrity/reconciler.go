package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/alerts"
	"loom/internal/cache"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/vectorstore"
)

// LastScanKey is the cache key holding the most recent scan report.
const LastScanKey = "data_integrity:last_scan"

// Reconciler detects and repairs drift between the relational store, the
// vector store, and the content flags that summarize them. Scans are
// idempotent: a clean system produces an empty report.
type Reconciler struct {
	cfg     *config.Config
	store   *catalog.Store
	jobs    *queue.Store
	vectors vectorstore.Client
	cache   cache.Client
	alerts  *alerts.Service
	logger  *slog.Logger
}

// New wires a reconciler over the stores.
func New(cfg *config.Config, store *catalog.Store, jobs *queue.Store, vectors vectorstore.Client, cacheClient cache.Client, alertSvc *alerts.Service, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:     cfg,
		store:   store,
		jobs:    jobs,
		vectors: vectors,
		cache:   cacheClient,
		alerts:  alertSvc,
		logger:  logger.With(logging.String(logging.FieldComponent, "integrity")),
	}
}

// ScanAndFix runs a full consistency pass: per-content flag reconciliation,
// collection-wide orphan and duplicate cleanup, and reprocessing enqueues for
// content stuck incomplete. The report is persisted to the cache.
func (r *Reconciler) ScanAndFix(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	items, err := r.store.ListContent(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	report.ScannedContent = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := r.reconcileContent(ctx, item, report); err != nil {
			r.logger.Error("reconcile content failed",
				logging.Int64(logging.FieldContentID, item.ID),
				logging.Error(err))
		}
	}

	if err := r.cleanOrphanRows(ctx, report); err != nil {
		r.logger.Error("orphan row cleanup failed", logging.Error(err))
	}

	for _, collection := range r.cfg.VectorStore.Collections {
		if err := r.reconcileCollection(ctx, collection, report); err != nil {
			r.logger.Error("reconcile collection failed",
				logging.String("collection", collection),
				logging.Error(err))
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	r.persistReport(ctx, report)

	if !report.Clean() {
		r.alerts.Publish(ctx, alerts.Alert{
			Severity:  severityFor(report),
			Component: "integrity",
			Message: fmt.Sprintf("integrity scan found %d issues, fixed %d",
				report.IssuesFound, report.IssuesFixed),
		})
	}
	r.logger.Info("integrity scan finished",
		logging.Int("scanned", report.ScannedContent),
		logging.Int("found", report.IssuesFound),
		logging.Int("fixed", report.IssuesFixed),
		logging.Duration("duration", report.Duration))
	return report, nil
}

// reconcileContent checks one content item: do the flags agree with the
// rows, and do the recorded mappings agree with the points actually stored?
func (r *Reconciler) reconcileContent(ctx context.Context, item *catalog.Content, report *Report) error {
	transcripts, err := r.store.CountTranscripts(ctx, item.ID)
	if err != nil {
		return err
	}
	hasTranscripts := transcripts > 0
	transcriptDrift := item.TranscriptAvailable && !hasTranscripts
	if item.TranscriptAvailable != hasTranscripts {
		if err := r.store.SetTranscriptAvailable(ctx, item.ID, hasTranscripts, ""); err != nil {
			return err
		}
		report.record(Issue{
			Type:      IssueTranscriptFlagDrift,
			ContentID: item.ID,
			Description: fmt.Sprintf("transcript_available was %t but %d segments stored",
				item.TranscriptAvailable, transcripts),
			Fixed: true,
		})
		item.TranscriptAvailable = hasTranscripts
	}

	mappings, err := r.store.MappingsByContent(ctx, item.ID)
	if err != nil {
		return err
	}

	// Mappings promise points; verify the vector store delivers them.
	missing := 0
	if len(mappings) > 0 {
		byCollection := make(map[string][]*catalog.VectorMapping)
		for _, mapping := range mappings {
			byCollection[mapping.Collection] = append(byCollection[mapping.Collection], mapping)
		}
		for collection, expected := range byCollection {
			points, scrollErr := r.vectors.ScrollByContent(ctx, collection, item.ID)
			if scrollErr != nil {
				return scrollErr
			}
			present := make(map[string]bool, len(points))
			for _, point := range points {
				present[point.ID] = true
			}
			var stale []string
			for _, mapping := range expected {
				if !present[mapping.ChunkID] {
					stale = append(stale, mapping.ChunkID)
				}
			}
			if len(stale) == 0 {
				continue
			}
			missing += len(stale)
			fixed := false
			if r.cfg.Integrity.FixOrphans {
				if err := r.store.DeleteMappingsByChunkIDs(ctx, item.ID, stale); err != nil {
					return err
				}
				fixed = true
			}
			report.record(Issue{
				Type:       IssueMissingVectors,
				ContentID:  item.ID,
				Collection: collection,
				Description: fmt.Sprintf("%d mapped chunks have no stored point",
					len(stale)),
				Fixed: fixed,
			})
		}
	}

	hasVectors := len(mappings)-missing > 0
	vectorDrift := item.VectorStored && !hasVectors
	if item.VectorStored != hasVectors {
		if err := r.store.SetVectorStored(ctx, item.ID, hasVectors); err != nil {
			return err
		}
		report.record(Issue{
			Type:      IssueVectorFlagDrift,
			ContentID: item.ID,
			Description: fmt.Sprintf("vector_stored was %t but %d live mappings exist",
				item.VectorStored, len(mappings)-missing),
			Fixed: true,
		})
		item.VectorStored = hasVectors
	}

	return r.maybeReprocess(ctx, item, transcriptDrift, vectorDrift, report)
}

// maybeReprocess re-enqueues pipeline work for content whose completion
// flags promised rows that never arrived, once it has sat that way past the
// configured window. Content with an unfinished job is left to the queue's
// own lifecycle, and a permanent failure is never resurrected here.
func (r *Reconciler) maybeReprocess(ctx context.Context, item *catalog.Content, transcriptDrift, vectorDrift bool, report *Report) error {
	if !transcriptDrift && !vectorDrift {
		return nil
	}
	if time.Since(item.CreatedAt) < r.cfg.Integrity.ReprocessAfterDuration() {
		return nil
	}

	jobs, err := r.jobs.JobsByContent(ctx, item.ID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		switch job.Status {
		case queue.StatusCompleted, queue.StatusCancelled:
		default:
			return nil
		}
	}

	if transcriptDrift {
		if err := r.reprocess(ctx, item.ID, queue.JobExtractTranscript, r.cfg.Queue.DefaultPriority,
			"transcript flag set but no segments stored", report); err != nil {
			return err
		}
	}
	if vectorDrift {
		if err := r.reprocess(ctx, item.ID, queue.JobVectorize, r.cfg.Queue.VectorizePriority,
			"vector flag set but no live mappings stored", report); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reprocess(ctx context.Context, contentID int64, jobType queue.JobType, priority int, description string, report *Report) error {
	_, err := r.jobs.Enqueue(ctx, contentID, jobType, priority, r.cfg.Queue.MaxRetries, "")
	if errors.Is(err, queue.ErrDuplicateJob) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	report.record(Issue{
		Type:        IssueIncompleteContent,
		ContentID:   contentID,
		Description: fmt.Sprintf("%s, reprocessing as %s", description, jobType),
		Fixed:       true,
	})
	return nil
}

// cleanOrphanRows deletes transcript and mapping rows whose content row is
// gone. Rows younger than the orphan grace window are kept so a scan never
// races an in-flight creation.
func (r *Reconciler) cleanOrphanRows(ctx context.Context, report *Report) error {
	cutoff := time.Now().Add(-r.cfg.Integrity.OrphanGraceDuration())

	transcripts, err := r.store.CountOrphanTranscripts(ctx, cutoff)
	if err != nil {
		return err
	}
	if transcripts > 0 {
		fixed := false
		if r.cfg.Integrity.FixOrphans {
			if _, err := r.store.DeleteOrphanTranscripts(ctx, cutoff); err != nil {
				return err
			}
			fixed = true
		}
		report.record(Issue{
			Type:        IssueOrphanRows,
			Description: fmt.Sprintf("%d transcript rows reference missing content", transcripts),
			Fixed:       fixed,
		})
	}

	mappings, err := r.store.CountOrphanMappings(ctx, cutoff)
	if err != nil {
		return err
	}
	if mappings > 0 {
		fixed := false
		if r.cfg.Integrity.FixOrphans {
			if _, err := r.store.DeleteOrphanMappings(ctx, cutoff); err != nil {
				return err
			}
			fixed = true
		}
		report.record(Issue{
			Type:        IssueOrphanRows,
			Description: fmt.Sprintf("%d mapping rows reference missing content", mappings),
			Fixed:       fixed,
		})
	}
	return nil
}

// reconcileCollection scans every point in a collection for orphans (content
// gone or inactive) and duplicates (several points claiming one chunk).
func (r *Reconciler) reconcileCollection(ctx context.Context, collection string, report *Report) error {
	points, err := r.vectors.ScrollAll(ctx, collection)
	if err != nil {
		return fmt.Errorf("scroll %s: %w", collection, err)
	}

	type chunkKey struct {
		owner int64
		chunk string
	}

	var orphanIDs []string
	orphanOwners := make(map[int64]int)
	byChunk := make(map[chunkKey][]string)
	contentAlive := make(map[int64]bool)

	for _, point := range points {
		owner, ok := point.ContentID()
		if !ok {
			orphanIDs = append(orphanIDs, point.ID)
			continue
		}
		alive, checked := contentAlive[owner]
		if !checked {
			item, getErr := r.store.GetContent(ctx, owner)
			alive = getErr == nil && item.IsActive
			contentAlive[owner] = alive
		}
		if !alive {
			orphanIDs = append(orphanIDs, point.ID)
			orphanOwners[owner]++
			continue
		}
		// A chunk id only names a chunk within its own content item, so
		// duplicates are grouped per owner.
		key := chunkKey{owner: owner, chunk: point.ID}
		if chunkID, ok := point.Payload["chunk_id"].(string); ok && chunkID != "" {
			key.chunk = chunkID
		}
		byChunk[key] = append(byChunk[key], point.ID)
	}

	if len(orphanIDs) > 0 {
		fixed := false
		if r.cfg.Integrity.FixOrphans {
			if err := r.vectors.DeletePoints(ctx, collection, orphanIDs); err != nil {
				return fmt.Errorf("delete orphan points: %w", err)
			}
			fixed = true
		}
		report.record(Issue{
			Type:        IssueOrphanVectors,
			Collection:  collection,
			Description: fmt.Sprintf("%d points reference missing or inactive content", len(orphanIDs)),
			Fixed:       fixed,
		})
	}

	// Duplicates keep the first point per chunk, matching insertion order.
	var duplicateIDs []string
	for _, ids := range byChunk {
		if len(ids) > 1 {
			duplicateIDs = append(duplicateIDs, ids[1:]...)
		}
	}
	if len(duplicateIDs) > 0 {
		fixed := false
		if r.cfg.Integrity.FixDuplicates {
			if err := r.vectors.DeletePoints(ctx, collection, duplicateIDs); err != nil {
				return fmt.Errorf("delete duplicate points: %w", err)
			}
			fixed = true
		}
		report.record(Issue{
			Type:        IssueDuplicateVectors,
			Collection:  collection,
			Description: fmt.Sprintf("%d duplicate points share a chunk with an earlier point", len(duplicateIDs)),
			Fixed:       fixed,
		})
	}
	return nil
}

func (r *Reconciler) persistReport(ctx context.Context, report *Report) {
	encoded, err := json.Marshal(report)
	if err != nil {
		r.logger.Error("encode scan report", logging.Error(err))
		return
	}
	if err := r.cache.Set(ctx, LastScanKey, string(encoded), 0); err != nil {
		r.logger.Error("persist scan report", logging.Error(err))
	}
}

// LastReport loads the most recent persisted scan report, if any.
func LastReport(ctx context.Context, cacheClient cache.Client) (*Report, error) {
	encoded, ok, err := cacheClient.Get(ctx, LastScanKey)
	if err != nil || !ok {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal([]byte(encoded), &report); err != nil {
		return nil, fmt.Errorf("decode scan report: %w", err)
	}
	return &report, nil
}

func severityFor(report *Report) string {
	if report.IssuesFixed < report.IssuesFound {
		return alerts.SeverityCritical
	}
	return alerts.SeverityWarning
}
