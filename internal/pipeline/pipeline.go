package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/media"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/services/transcriber"
	"loom/internal/txn"
	"loom/internal/vectorstore"
)

// MediaSource resolves content URLs into captions and audio files.
type MediaSource interface {
	Inspect(ctx context.Context, sourceURL string) (*media.Info, error)
	FetchCaptions(ctx context.Context, info *media.Info, language string) ([]catalog.Segment, string, error)
	DownloadAudio(ctx context.Context, info *media.Info, externalID string) (string, error)
}

// Transcriber turns audio references into timed segments.
type Transcriber interface {
	CheckReady(ctx context.Context) error
	Transcribe(ctx context.Context, audioRef, language string) (*transcriber.Result, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
}

// Pipeline owns the three job handlers: caption extraction, audio
// transcription fallback, and vectorization. All cross-store writes go
// through the transaction manager.
type Pipeline struct {
	cfg         *config.Config
	store       *catalog.Store
	jobs        *queue.Store
	txn         *txn.Manager
	media       MediaSource
	transcriber Transcriber
	embedder    Embedder
	logger      *slog.Logger
}

// New wires a pipeline over the stores and model servers.
func New(cfg *config.Config, store *catalog.Store, jobs *queue.Store, manager *txn.Manager, source MediaSource, stt Transcriber, embed Embedder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:         cfg,
		store:       store,
		jobs:        jobs,
		txn:         manager,
		media:       source,
		transcriber: stt,
		embedder:    embed,
		logger:      logger.With(logging.String(logging.FieldComponent, "pipeline")),
	}
}

// Handlers returns the job handlers by type, for worker pool registration.
func (p *Pipeline) Handlers() map[queue.JobType]func(context.Context, *queue.Job) error {
	return map[queue.JobType]func(context.Context, *queue.Job) error{
		queue.JobExtractTranscript: p.HandleExtractTranscript,
		queue.JobProcessAudio:      p.HandleProcessAudio,
		queue.JobVectorize:         p.HandleVectorize,
	}
}

// HandleExtractTranscript fetches published captions for the content. When
// the source has none the job succeeds by handing off to the audio
// transcription path instead.
func (p *Pipeline) HandleExtractTranscript(ctx context.Context, job *queue.Job) error {
	content, err := p.store.GetContent(ctx, job.ContentID)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "extract_transcript", "load content", err)
	}

	info, err := p.media.Inspect(ctx, content.SourceURL)
	if err != nil {
		return err
	}

	segments, trackLanguage, err := p.media.FetchCaptions(ctx, info, p.language(content))
	if errors.Is(err, services.ErrNotFound) {
		p.logger.Info("no captions published, falling back to audio transcription",
			logging.Int64(logging.FieldContentID, content.ID))
		return p.enqueueFollowOn(ctx, content.ID, queue.JobProcessAudio, p.cfg.Queue.DefaultPriority)
	}
	if err != nil {
		return err
	}

	if err := p.storeTranscript(ctx, content, segments, "caption"); err != nil {
		return err
	}
	p.logger.Info("stored published captions",
		logging.Int64(logging.FieldContentID, content.ID),
		logging.String("language", trackLanguage),
		logging.Int("segments", len(segments)))
	return p.enqueueFollowOn(ctx, content.ID, queue.JobVectorize, p.cfg.Queue.VectorizePriority)
}

// HandleProcessAudio downloads the audio and runs it through the speech
// model. The readiness probe runs first so a CPU-degraded model server fails
// fast instead of after a long download.
func (p *Pipeline) HandleProcessAudio(ctx context.Context, job *queue.Job) error {
	content, err := p.store.GetContent(ctx, job.ContentID)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "process_audio", "load content", err)
	}

	if err := p.transcriber.CheckReady(ctx); err != nil {
		return err
	}

	info, err := p.media.Inspect(ctx, content.SourceURL)
	if err != nil {
		return err
	}
	audioRef, err := p.media.DownloadAudio(ctx, info, content.ExternalID)
	if err != nil {
		return err
	}

	result, err := p.transcriber.Transcribe(ctx, audioRef, p.language(content))
	if err != nil {
		return err
	}
	if len(result.Segments) == 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "process_audio", "model produced no segments", nil)
	}

	segments := make([]catalog.Segment, len(result.Segments))
	for i, segment := range result.Segments {
		segments[i] = catalog.Segment{Text: segment.Text, Start: segment.Start, End: segment.End}
	}
	if err := p.storeTranscript(ctx, content, segments, "speech"); err != nil {
		return err
	}
	p.logger.Info("transcribed audio",
		logging.Int64(logging.FieldContentID, content.ID),
		logging.String("model", result.ModelInfo),
		logging.Int("segments", len(segments)))
	return p.enqueueFollowOn(ctx, content.ID, queue.JobVectorize, p.cfg.Queue.VectorizePriority)
}

// HandleVectorize chunks the stored transcript, embeds the chunks, and
// atomically replaces the content's points in the vector store.
func (p *Pipeline) HandleVectorize(ctx context.Context, job *queue.Job) error {
	content, err := p.store.GetContent(ctx, job.ContentID)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "vectorize", "load content", err)
	}

	transcripts, err := p.store.TranscriptsByContent(ctx, content.ID)
	if err != nil {
		return err
	}
	if len(transcripts) == 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "vectorize", "content has no transcript", nil)
	}

	texts := make([]string, len(transcripts))
	for i, segment := range transcripts {
		texts[i] = segment.SegmentText
	}
	chunks := ChunkText(strings.Join(texts, " "), p.cfg.Chunking.Size, p.cfg.Chunking.Overlap)
	if len(chunks) == 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "vectorize", "transcript chunked to nothing", nil)
	}

	chunkTexts := make([]string, len(chunks))
	for i, chunk := range chunks {
		chunkTexts[i] = chunk.Text
	}
	vectors, dimension, err := p.embedder.Embed(ctx, chunkTexts)
	if err != nil {
		return err
	}

	collection := p.collection()
	if err := p.txn.VectorClient().EnsureCollection(ctx, collection, dimension); err != nil {
		return err
	}

	points := make([]vectorstore.Point, len(chunks))
	mappings := make([]*catalog.VectorMapping, len(chunks))
	for i, chunk := range chunks {
		pointID := uuid.NewString()
		points[i] = vectorstore.Point{
			ID:     pointID,
			Vector: vectors[i],
			Payload: map[string]any{
				"content_id":  content.ID,
				"chunk_id":    fmt.Sprintf("%d_%d", content.ID, chunk.Order),
				"chunk_order": chunk.Order,
				"text":        chunk.Text,
			},
		}
		mappings[i] = &catalog.VectorMapping{
			ChunkID:    pointID,
			ChunkText:  chunk.Text,
			ChunkOrder: chunk.Order,
		}
	}

	err = p.txn.AtomicOperation(ctx, content.ID, "store_vectors", func(op *txn.Operation) error {
		if err := op.RemoveVectors(collection); err != nil {
			return err
		}
		if err := op.StoreVectors(collection, points, mappings); err != nil {
			return err
		}
		return op.InvalidateCache()
	})
	if err != nil {
		return err
	}

	if err := p.store.MarkProcessed(ctx, content.ID); err != nil {
		return err
	}
	p.logger.Info("vectorized content",
		logging.Int64(logging.FieldContentID, content.ID),
		logging.Int("chunks", len(chunks)),
		logging.Int("dimension", dimension))
	return nil
}

// storeTranscript atomically replaces the stored transcript and refreshes
// the cached full text.
func (p *Pipeline) storeTranscript(ctx context.Context, content *catalog.Content, segments []catalog.Segment, transcriptType string) error {
	texts := make([]string, len(segments))
	for i, segment := range segments {
		texts[i] = segment.Text
	}
	fullText := strings.Join(texts, " ")

	return p.txn.AtomicOperation(ctx, content.ID, "store_transcript", func(op *txn.Operation) error {
		if err := op.ReplaceTranscripts(segments, transcriptType); err != nil {
			return err
		}
		key := fmt.Sprintf("content:%d:transcript", content.ID)
		return op.CacheSet(key, fullText, 24*time.Hour)
	})
}

func (p *Pipeline) enqueueFollowOn(ctx context.Context, contentID int64, jobType queue.JobType, priority int) error {
	_, err := p.jobs.Enqueue(ctx, contentID, jobType, priority, p.cfg.Queue.MaxRetries, "")
	if errors.Is(err, queue.ErrDuplicateJob) {
		return nil
	}
	return err
}

func (p *Pipeline) language(content *catalog.Content) string {
	if content.Language != "" {
		return content.Language
	}
	return p.cfg.Transcriber.Language
}

func (p *Pipeline) collection() string {
	if len(p.cfg.VectorStore.Collections) > 0 {
		return p.cfg.VectorStore.Collections[0]
	}
	return "media_content"
}
