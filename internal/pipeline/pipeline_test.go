package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"loom/internal/cache"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/media"
	"loom/internal/pipeline"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/services/transcriber"
	"loom/internal/testsupport"
	"loom/internal/txn"
	"loom/internal/vectorstore"
)

type stubMedia struct {
	captions    []catalog.Segment
	captionLang string
	captionErr  error
	audioRef    string
	audioErr    error
}

func (s *stubMedia) Inspect(_ context.Context, _ string) (*media.Info, error) {
	return &media.Info{ID: "stub", Title: "Stub"}, nil
}

func (s *stubMedia) FetchCaptions(context.Context, *media.Info, string) ([]catalog.Segment, string, error) {
	return s.captions, s.captionLang, s.captionErr
}

func (s *stubMedia) DownloadAudio(context.Context, *media.Info, string) (string, error) {
	return s.audioRef, s.audioErr
}

type stubTranscriber struct {
	readyErr error
	result   *transcriber.Result
	err      error
}

func (s *stubTranscriber) CheckReady(context.Context) error { return s.readyErr }

func (s *stubTranscriber) Transcribe(context.Context, string, string) (*transcriber.Result, error) {
	return s.result, s.err
}

type stubEmbedder struct {
	dimension int
	err       error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, s.dimension)
	}
	return vectors, s.dimension, nil
}

type fixture struct {
	cfg      *config.Config
	store    *catalog.Store
	jobs     *queue.Store
	vectors  *vectorstore.Memory
	cache    *cache.Memory
	media    *stubMedia
	stt      *stubTranscriber
	embedder *stubEmbedder
	pipe     *pipeline.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	jobs := testsupport.NewQueue(t, store)
	vectors := vectorstore.NewMemory()
	cacheClient := cache.NewMemory()
	manager := txn.NewManager(store, vectors, cacheClient, logging.NewNop())

	f := &fixture{
		cfg:      cfg,
		store:    store,
		jobs:     jobs,
		vectors:  vectors,
		cache:    cacheClient,
		media:    &stubMedia{},
		stt:      &stubTranscriber{},
		embedder: &stubEmbedder{dimension: 4},
	}
	f.pipe = pipeline.New(cfg, store, jobs, manager, f.media, f.stt, f.embedder, logging.NewNop())
	return f
}

func TestExtractTranscriptStoresCaptionsAndChainsVectorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-captions", "Captions")
	f.media.captions = []catalog.Segment{{Text: "hello", Start: 0, End: 1}}
	f.media.captionLang = "en"

	err := f.pipe.HandleExtractTranscript(ctx, &queue.Job{ContentID: item.ID})
	if err != nil {
		t.Fatalf("HandleExtractTranscript: %v", err)
	}

	updated, _ := f.store.GetContent(ctx, item.ID)
	if !updated.TranscriptAvailable || updated.TranscriptType != "caption" {
		t.Fatalf("transcript flag not set: %+v", updated)
	}
	segments, _ := f.store.TranscriptsByContent(ctx, item.ID)
	if len(segments) != 1 || segments[0].SegmentText != "hello" {
		t.Fatalf("unexpected transcripts %+v", segments)
	}

	// Full text cached.
	key := fmt.Sprintf("content:%d:transcript", item.ID)
	if value, ok, _ := f.cache.Get(ctx, key); !ok || value != "hello" {
		t.Fatalf("cached transcript = %q ok=%v", value, ok)
	}

	// Vectorize follows.
	jobs, _ := f.jobs.JobsByContent(ctx, item.ID)
	if len(jobs) != 1 || jobs[0].Type != queue.JobVectorize {
		t.Fatalf("expected vectorize follow-on, got %+v", jobs)
	}
	if jobs[0].Priority != f.cfg.Queue.VectorizePriority {
		t.Fatalf("follow-on priority = %d", jobs[0].Priority)
	}
}

func TestExtractTranscriptFallsBackToAudioWhenNoCaptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-nocaptions", "NoCaptions")
	f.media.captionErr = services.Wrap(services.ErrNotFound, "media", "captions", "no caption tracks published", nil)

	if err := f.pipe.HandleExtractTranscript(ctx, &queue.Job{ContentID: item.ID}); err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}

	jobs, _ := f.jobs.JobsByContent(ctx, item.ID)
	if len(jobs) != 1 || jobs[0].Type != queue.JobProcessAudio {
		t.Fatalf("expected process_audio follow-on, got %+v", jobs)
	}
	updated, _ := f.store.GetContent(ctx, item.ID)
	if updated.TranscriptAvailable {
		t.Fatal("no transcript should be stored on fallback")
	}
}

func TestProcessAudioStoresSpeechTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-speech", "Speech")
	f.media.audioRef = "yt-speech.m4a"
	f.stt.result = &transcriber.Result{
		Segments:  []transcriber.Segment{{Text: "spoken words", Start: 0, End: 3}},
		Language:  "en",
		ModelInfo: "whisper-large-v3",
	}

	if err := f.pipe.HandleProcessAudio(ctx, &queue.Job{ContentID: item.ID}); err != nil {
		t.Fatalf("HandleProcessAudio: %v", err)
	}

	updated, _ := f.store.GetContent(ctx, item.ID)
	if !updated.TranscriptAvailable || updated.TranscriptType != "speech" {
		t.Fatalf("transcript flag not set: %+v", updated)
	}
	jobs, _ := f.jobs.JobsByContent(ctx, item.ID)
	if len(jobs) != 1 || jobs[0].Type != queue.JobVectorize {
		t.Fatalf("expected vectorize follow-on, got %+v", jobs)
	}
}

func TestProcessAudioFailsFastWhenModelServerNotReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-notready", "NotReady")
	f.stt.readyErr = services.Wrap(services.ErrExternalService, "transcriber", "health", "model server on cpu", nil)

	err := f.pipe.HandleProcessAudio(ctx, &queue.Job{ContentID: item.ID})
	if err == nil {
		t.Fatal("expected readiness error")
	}
	if !services.Retryable(err) {
		t.Fatal("readiness failure should stay retryable")
	}
}

func TestVectorizeReplacesPointsAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-vectors", "Vectors")
	collection := f.cfg.VectorStore.Collections[0]

	if err := f.store.ReplaceTranscripts(ctx, item.ID, []catalog.Segment{
		{Text: "first part of the talk", Start: 0, End: 5},
		{Text: "second part of the talk", Start: 5, End: 10},
	}); err != nil {
		t.Fatalf("ReplaceTranscripts: %v", err)
	}

	// Stale state from an earlier vectorization run.
	if err := f.vectors.Upsert(ctx, collection, []vectorstore.Point{{
		ID: "old-point", Payload: map[string]any{"content_id": item.ID},
	}}); err != nil {
		t.Fatalf("seed vectors: %v", err)
	}
	if err := f.store.UpsertMapping(ctx, &catalog.VectorMapping{
		ContentID: item.ID, ChunkID: "old-point", Collection: collection,
	}); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}

	if err := f.pipe.HandleVectorize(ctx, &queue.Job{ContentID: item.ID}); err != nil {
		t.Fatalf("HandleVectorize: %v", err)
	}

	points, _ := f.vectors.ScrollByContent(ctx, collection, item.ID)
	if len(points) == 0 {
		t.Fatal("no points stored")
	}
	for _, point := range points {
		if point.ID == "old-point" {
			t.Fatal("stale point survived revectorization")
		}
	}

	mappings, _ := f.store.MappingsByContent(ctx, item.ID)
	if len(mappings) != len(points) {
		t.Fatalf("%d mappings for %d points", len(mappings), len(points))
	}
	byID := make(map[string]bool, len(points))
	for _, point := range points {
		byID[point.ID] = true
	}
	for _, mapping := range mappings {
		if !byID[mapping.ChunkID] {
			t.Fatalf("mapping %q has no matching point", mapping.ChunkID)
		}
	}

	updated, _ := f.store.GetContent(ctx, item.ID)
	if !updated.VectorStored {
		t.Fatal("vector flag not set")
	}
	if updated.ProcessedAt == nil {
		t.Fatal("processed_at not stamped")
	}
}

func TestVectorizeWithoutTranscriptIsNonRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-empty", "Empty")

	err := f.pipe.HandleVectorize(ctx, &queue.Job{ContentID: item.ID})
	if err == nil {
		t.Fatal("expected error for missing transcript")
	}
	if services.Retryable(err) {
		t.Fatal("missing transcript should not be retryable")
	}
}

func TestVectorizeEmbedderFailureLeavesOldStateIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := testsupport.NewContent(t, f.store, "yt-embedfail", "EmbedFail")
	collection := f.cfg.VectorStore.Collections[0]

	if err := f.store.ReplaceTranscripts(ctx, item.ID, []catalog.Segment{{Text: "words"}}); err != nil {
		t.Fatalf("ReplaceTranscripts: %v", err)
	}
	if err := f.vectors.Upsert(ctx, collection, []vectorstore.Point{{
		ID: "existing", Payload: map[string]any{"content_id": item.ID},
	}}); err != nil {
		t.Fatalf("seed vectors: %v", err)
	}
	f.embedder.err = services.Wrap(services.ErrExternalService, "embedder", "embed", "model server unreachable", nil)

	err := f.pipe.HandleVectorize(ctx, &queue.Job{ContentID: item.ID})
	if err == nil {
		t.Fatal("expected embed failure")
	}
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("unexpected error %v", err)
	}

	points, _ := f.vectors.ScrollByContent(ctx, collection, item.ID)
	if len(points) != 1 || points[0].ID != "existing" {
		t.Fatalf("pre-existing points disturbed: %+v", points)
	}
}
