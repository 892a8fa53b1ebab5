package integrity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loom/internal/alerts"
	"loom/internal/cache"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/integrity"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/testsupport"
	"loom/internal/vectorstore"
)

type fixture struct {
	cfg        *config.Config
	store      *catalog.Store
	jobs       *queue.Store
	vectors    *vectorstore.Memory
	cache      *cache.Memory
	reconciler *integrity.Reconciler
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenCatalog(t, cfg)
	jobs := testsupport.NewQueue(t, store)
	vectors := vectorstore.NewMemory()
	cacheClient := cache.NewMemory()
	alertSvc := alerts.NewService(cacheClient, logging.NewNop())
	return &fixture{
		cfg:        cfg,
		store:      store,
		jobs:       jobs,
		vectors:    vectors,
		cache:      cacheClient,
		reconciler: integrity.New(cfg, store, jobs, vectors, cacheClient, alertSvc, logging.NewNop()),
	}
}

const collection = "media_content"

func TestScanCleanSystemFindsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := testsupport.NewContent(t, f.store, "yt-clean", "Clean")
	if err := f.store.ReplaceTranscripts(ctx, item.ID, []catalog.Segment{{Text: "hi"}}); err != nil {
		t.Fatalf("ReplaceTranscripts: %v", err)
	}
	if err := f.store.SetTranscriptAvailable(ctx, item.ID, true, "caption"); err != nil {
		t.Fatalf("SetTranscriptAvailable: %v", err)
	}
	if err := f.store.UpsertMapping(ctx, &catalog.VectorMapping{
		ContentID: item.ID, ChunkID: "c1", Collection: collection,
	}); err != nil {
		t.Fatalf("UpsertMapping: %v", err)
	}
	if err := f.vectors.Upsert(ctx, collection, []vectorstore.Point{{
		ID: "c1", Payload: map[string]any{"content_id": item.ID, "chunk_id": "c1"},
	}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := f.store.SetVectorStored(ctx, item.ID, true); err != nil {
		t.Fatalf("SetVectorStored: %v", err)
	}

	report, err := f.reconciler.ScanAndFix(ctx)
	if err != nil {
		t.Fatalf("ScanAndFix: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean report, got %+v", report.Details)
	}
	if report.ScannedContent != 1 {
		t.Fatalf("scanned %d items, want 1", report.ScannedContent)
	}

	// The report is persisted for the API and CLI.
	if _, ok, _ := f.cache.Get(ctx, integrity.LastScanKey); !ok {
		t.Fatal("scan report not persisted to cache")
	}
}

func TestFlagDriftCorrectedBothDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Flag says transcript exists, table disagrees.
	overclaiming := testsupport.NewContent(t, f.store, "yt-over", "Over")
	if err := f.store.SetTranscriptAvailable(ctx, overclaiming.ID, true, "caption"); err != nil {
		t.Fatalf("SetTranscriptAvailable: %v", err)
	}

	// Table has segments, flag says otherwise.
	underclaiming := testsupport.NewContent(t, f.store, "yt-under", "Under")
	if err := f.store.ReplaceTranscripts(ctx, underclaiming.ID, []catalog.Segment{{Text: "hi"}}); err != nil {
		t.Fatalf("ReplaceTranscripts: %v", err)
	}
	if err := f.store.SetTranscriptAvailable(ctx, underclaiming.ID, false, ""); err != nil {
		t.Fatalf("SetTranscriptAvailable: %v", err)
	}

	report, err := f.reconciler.ScanAndFix(ctx)
	if err != nil {
		t.Fatalf("ScanAndFix: %v", err)
	}
	if report.IssuesFound != 2 || report.IssuesFixed != 2 {
		t.Fatalf("found/fixed = %d/%d, want 2/2", report.IssuesFound, report.IssuesFixed)
	}

	over, _ := f.store.GetContent(ctx, overclaiming.ID)
	if over.TranscriptAvailable {
		t.Fatal("overclaiming flag not cleared")
	}
	under, _ := f.store.GetContent(ctx, underclaiming.ID)
	if !under.TranscriptAvailable {
		t.Fatal("underclaiming flag not set")
	}

	// Second scan converges to clean.
	second, err := f.reconciler.ScanAndFix(ctx)
	if err != nil {
		t.Fatalf("ScanAndFix second: %v", err)
	}
	if !second.Clean() {
		t.Fatalf("scan not idempotent: %+v", second.Details)
	}
}

func TestOrphanPointsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := testsupport.NewContent(t, f.store, "yt-orphan", "Orphan")
	if err := f.vectors.Upsert(ctx, collection, []vectorstore.Point{
		{ID: "kept", Payload: map[string]any{"content_id": item.ID, "chunk_id": "kept"}},
		{ID: "ghost", Payload: map[string]any{"content_id": item.ID + 999, "chunk_id": "ghost"}},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := f.store.UpsertMapping(ctx, &catalog.VectorMapping{
		ContentID: item.ID, ChunkID: "kept", Collection: collection,
	}); err != nil {
		t.Fatalf("UpsertMapping: %v", err)
	}
	if err := f.store.SetVectorStored(ctx, item.ID, true); err != nil {
		t.Fatalf("SetVectorStored: %v", err)
	}

	report, err := f.reconciler.ScanAndFix(ctx)
	if err != nil {
		t.Fatalf("ScanAndFix: %v", err)
	}

	var sawOrphan bool
	for _, issue := range report.Details {
		if issue.Type == integrity.IssueOrphanVectors && issue.Fixed {
			sawOrphan = true
		}
	}
	if !sawOrphan {
		t.Fatalf("orphan issue not reported: %+v", report.Details)
	}
	if f.vectors.Count(collection) != 1 {
		t.Fatalf("expected orphan deleted, %d points remain", f.vectors.Count(collection))
	}
}

func TestDuplicatePointsKeepFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := testsupport.NewContent(t, f.store, "yt-dupes", "Dupes")
	if err := f.store.UpsertMapping(ctx, &catalog.VectorMapping{
		ContentID: item.ID, ChunkID: "abc", Collection: collection,
	}); err != nil {
		t.Fatalf("UpsertMapping: %v", err)
	}
	if err := f.store.SetVectorStored(ctx, item.ID, true); err != nil {
		t.Fatalf("SetVectorStored: %v", err)
	}
	// Three points claim the same chunk; only the first survives.
	if err := f.vectors.Upsert(ctx, collection, []vectorstore.Point{
		{ID: "abc", Payload: map[string]any{"content_id": item.ID, "chunk_id": "abc"}},
		{ID: "abc-retry-1", Payload: map[string]any{"content_id": item.ID, "chunk_id": "abc"}},
		{ID: "abc-retry-2", Payload: map[string]any{"content_id": item.ID, "chunk_id": "abc"}},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	report, err := f.reconciler.ScanAndFix(ctx)
	if err != nil {
		t.Fatalf("ScanAndFix: %v", err)
	}

	var sawDuplicates bool
	for _, issue := range report.Details {
		if issue.Type == integrity.IssueDuplicateVectors && issue.Fixed {
			sawDuplicates = true
		}
	}
	if !sawDuplicates {
		t.Fatalf("duplicate issue not reported: %+v", report.Details)
	}

	points, err := f.vectors.ScrollByContent(ctx, collection, item.ID)
	if err != nil {
		t.Fatalf("ScrollByContent: %v", err)
	}
	if len(points) != 1 || points[0].ID != "abc" {
		t.Fatalf("expected first point kept, got %+v", points)
	}
}

func TestMissingPointsDropStaleMappings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := testsupport.NewContent(t, f.store, "yt-stale", "Stale")
	if err := f.store.UpsertMapping(ctx, &catalog.VectorMapping{
		ContentID: item.ID, ChunkID: "vanished", Collection: collection,
	}); err != nil {
		t.Fatalf("UpsertMapping: %v", err)
	}
	if err := f.store.SetVectorStored(ctx, item.ID, true); err != nil {
		t.Fatalf("SetVectorStored: %v", err)
	}

	report, err := f.reconciler.ScanAndFix(ctx)
	if err != nil {
		t.Fatalf("ScanAndFix: %v", err)
	}

	var sawMissing bool
	for _, issue := range report.Details {
		if issue.Type == integrity.IssueMissingVectors && issue.Fixed {
			sawMissing = true
		}
	}
	if !sawMissing {
		t.Fatalf("missing vector issue not reported: %+v", report.Details)
	}

	count, err := f.store.CountMappings(ctx, item.ID)
	if err != nil {
		t.Fatalf("CountMappings: %v", err)
	}
	if count != 0 {
		t.Fatalf("stale mappings not dropped, %d remain", count)
	}
	updated, _ := f.store.GetContent(ctx, item.ID)
	if updated.VectorStored {
		t.Fatal("vector flag should be cleared when no live mappings remain")
	}
}

func TestReprocessEnqueuesStaleDriftedContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Transcript flag promised segments that were never stored.
	lostTranscript := testsupport.NewContent(t, f.store, "yt-repro-a", "ReproA")
	if err := f.store.SetTranscriptAvailable(ctx, lostTranscript.ID, true, "caption"); err != nil {
		t.Fatalf("SetTranscriptAvailable: %v", err)
	}
	backdate(t, f, lostTranscript.ID, 2*time.Hour)

	// Vector flag promised mappings that were never stored.
	lostVectors := testsupport.NewContent(t, f.store, "yt-repro-b", "ReproB")
	if err := f.store.ReplaceTranscripts(ctx, lostVectors.ID, []catalog.Segment{{Text: "hi"}}); err != nil {
		t.Fatalf("ReplaceTranscripts: %v", err)
	}
	if err := f.store.SetTranscriptAvailable(ctx, lostVectors.ID, true, "caption"); err != nil {
		t.Fatalf("SetTranscriptAvailable: %v", err)
	}
	if err := f.store.SetVectorStored(ctx, lostVectors.ID, true); err != nil {
		t.Fatalf("SetVectorStored: %v", err)
	}
	backdate(t, f, lostVectors.ID, 2*time.Hour)

	// Incomplete without drifted flags: the pipeline never claimed success,
	// so the scan has nothing to repair.
	neverProcessed := testsupport.NewContent(t, f.store, "yt-repro-c", "ReproC")
	backdate(t, f, neverProcessed.ID, 2*time.Hour)

	// Drifted but fresh content is left alone.
	fresh := testsupport.NewContent(t, f.store, "yt-repro-d", "ReproD")
	if err := f.store.SetTranscriptAvailable(ctx, fresh.ID, true, "caption"); err != nil {
		t.Fatalf("SetTranscriptAvailable: %v", err)
	}

	if _, err := f.reconciler.ScanAndFix(ctx); err != nil {
		t.Fatalf("ScanAndFix: %v", err)
	}

	jobsA, _ := f.jobs.JobsByContent(ctx, lostTranscript.ID)
	if len(jobsA) != 1 || jobsA[0].Type != queue.JobExtractTranscript {
		t.Fatalf("expected extract_transcript job, got %+v", jobsA)
	}
	if jobsA[0].Priority != f.cfg.Queue.DefaultPriority || jobsA[0].RetryCount != 0 {
		t.Fatalf("unexpected extract job %+v", jobsA[0])
	}

	jobsB, _ := f.jobs.JobsByContent(ctx, lostVectors.ID)
	if len(jobsB) != 1 || jobsB[0].Type != queue.JobVectorize {
		t.Fatalf("expected vectorize job, got %+v", jobsB)
	}
	if jobsB[0].Priority != f.cfg.Queue.VectorizePriority {
		t.Fatalf("vectorize priority = %d, want %d", jobsB[0].Priority, f.cfg.Queue.VectorizePriority)
	}

	if jobsC, _ := f.jobs.JobsByContent(ctx, neverProcessed.ID); len(jobsC) != 0 {
		t.Fatalf("undrifted content should not be reprocessed: %+v", jobsC)
	}
	if jobsD, _ := f.jobs.JobsByContent(ctx, fresh.ID); len(jobsD) != 0 {
		t.Fatalf("fresh content should not be reprocessed: %+v", jobsD)
	}
}

func TestReprocessLeavesRunningJobsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := testsupport.NewContent(t, f.store, "yt-repro-busy", "Busy")
	if err := f.store.SetTranscriptAvailable(ctx, item.ID, true, "caption"); err != nil {
		t.Fatalf("SetTranscriptAvailable: %v", err)
	}
	backdate(t, f, item.ID, 2*time.Hour)

	queued, err := f.jobs.Enqueue(ctx, item.ID, queue.JobExtractTranscript, 5, 3, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := f.jobs.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed.ID != queued.ID {
		t.Fatalf("claimed job %d, want %d", claimed.ID, queued.ID)
	}

	if _, err := f.reconciler.ScanAndFix(ctx); err != nil {
		t.Fatalf("ScanAndFix: %v", err)
	}

	// The worker still owns the job: the scan must not reset it or add a
	// second claimable row for the same content.
	current, err := f.jobs.GetJob(ctx, queued.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if current.Status != queue.StatusProcessing || current.RetryCount != 0 {
		t.Fatalf("scan disturbed a processing job: %+v", current)
	}
	if all, _ := f.jobs.JobsByContent(ctx, item.ID); len(all) != 1 {
		t.Fatalf("expected 1 job, got %d", len(all))
	}
	if _, err := f.jobs.ClaimNext(ctx); !errors.Is(err, queue.ErrNoJob) {
		t.Fatalf("expected ErrNoJob after scan, got %v", err)
	}
}

func TestReprocessSkipsPermanentlyFailedContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := testsupport.NewContent(t, f.store, "yt-repro-perm", "Perm")
	if err := f.store.SetTranscriptAvailable(ctx, item.ID, true, "caption"); err != nil {
		t.Fatalf("SetTranscriptAvailable: %v", err)
	}
	backdate(t, f, item.ID, 2*time.Hour)

	job, err := f.jobs.Enqueue(ctx, item.ID, queue.JobExtractTranscript, 5, 3, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := f.jobs.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := f.jobs.MarkPermanentFailure(ctx, job.ID, "unsupported format"); err != nil {
		t.Fatalf("MarkPermanentFailure: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.reconciler.ScanAndFix(ctx); err != nil {
			t.Fatalf("ScanAndFix %d: %v", i, err)
		}
	}

	all, _ := f.jobs.JobsByContent(ctx, item.ID)
	if len(all) != 1 {
		t.Fatalf("scan resurrected permanently failed content: %+v", all)
	}
	if all[0].Status != queue.StatusPermanentFailure {
		t.Fatalf("job status = %s, want permanent_failure", all[0].Status)
	}
}

func TestDuplicateCleanupScopedToContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := testsupport.NewContent(t, f.store, "yt-share-a", "ShareA")
	second := testsupport.NewContent(t, f.store, "yt-share-b", "ShareB")
	for _, item := range []struct {
		id    int64
		point string
	}{{first.ID, "point-a"}, {second.ID, "point-b"}} {
		if err := f.store.UpsertMapping(ctx, &catalog.VectorMapping{
			ContentID: item.id, ChunkID: item.point, Collection: collection,
		}); err != nil {
			t.Fatalf("UpsertMapping: %v", err)
		}
		if err := f.store.SetVectorStored(ctx, item.id, true); err != nil {
			t.Fatalf("SetVectorStored: %v", err)
		}
		// Both points carry the same chunk_id string; they belong to
		// different content items and are not duplicates of each other.
		if err := f.vectors.Upsert(ctx, collection, []vectorstore.Point{{
			ID: item.point, Payload: map[string]any{"content_id": item.id, "chunk_id": "abc"},
		}}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	report, err := f.reconciler.ScanAndFix(ctx)
	if err != nil {
		t.Fatalf("ScanAndFix: %v", err)
	}
	for _, issue := range report.Details {
		if issue.Type == integrity.IssueDuplicateVectors {
			t.Fatalf("points from different content flagged as duplicates: %+v", issue)
		}
	}
	if f.vectors.Count(collection) != 2 {
		t.Fatalf("%d points remain, want 2", f.vectors.Count(collection))
	}
}

func TestOrphanRowsDeletedPastGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const goneContent = int64(999)
	const recentContent = int64(888)

	if err := f.store.ReplaceTranscripts(ctx, goneContent, []catalog.Segment{{Text: "left behind"}}); err != nil {
		t.Fatalf("ReplaceTranscripts: %v", err)
	}
	if err := f.store.UpsertMapping(ctx, &catalog.VectorMapping{
		ContentID: goneContent, ChunkID: "ghost", Collection: collection,
	}); err != nil {
		t.Fatalf("UpsertMapping: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339Nano)
	testsupport.Exec(t, f.store,
		`UPDATE transcripts SET created_at = ? WHERE content_id = ?`, old, goneContent)
	testsupport.Exec(t, f.store,
		`UPDATE vector_mappings SET created_at = ? WHERE content_id = ?`, old, goneContent)

	// Young orphans sit inside the grace window; a scan must not race the
	// creation that is about to reference them.
	if err := f.store.ReplaceTranscripts(ctx, recentContent, []catalog.Segment{{Text: "in flight"}}); err != nil {
		t.Fatalf("ReplaceTranscripts: %v", err)
	}
	if err := f.store.UpsertMapping(ctx, &catalog.VectorMapping{
		ContentID: recentContent, ChunkID: "fresh", Collection: collection,
	}); err != nil {
		t.Fatalf("UpsertMapping: %v", err)
	}

	report, err := f.reconciler.ScanAndFix(ctx)
	if err != nil {
		t.Fatalf("ScanAndFix: %v", err)
	}

	fixedOrphanRows := 0
	for _, issue := range report.Details {
		if issue.Type == integrity.IssueOrphanRows && issue.Fixed {
			fixedOrphanRows++
		}
	}
	if fixedOrphanRows != 2 {
		t.Fatalf("expected orphan transcript and mapping issues, got %+v", report.Details)
	}

	if count, _ := f.store.CountTranscripts(ctx, goneContent); count != 0 {
		t.Fatalf("%d orphan transcript rows survived", count)
	}
	if count, _ := f.store.CountMappings(ctx, goneContent); count != 0 {
		t.Fatalf("%d orphan mapping rows survived", count)
	}
	if count, _ := f.store.CountTranscripts(ctx, recentContent); count != 1 {
		t.Fatalf("young orphan transcript deleted inside the grace window")
	}
	if count, _ := f.store.CountMappings(ctx, recentContent); count != 1 {
		t.Fatalf("young orphan mapping deleted inside the grace window")
	}
}

func backdate(t *testing.T, f *fixture, contentID int64, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age).UTC().Format(time.RFC3339Nano)
	testsupport.Exec(t, f.store,
		`UPDATE content SET created_at = ? WHERE id = ?`, old, contentID)
}
