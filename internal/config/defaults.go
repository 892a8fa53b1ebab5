package config

const (
	defaultDataDir           = "~/.local/share/loom/data"
	defaultLogDir            = "~/.local/share/loom/logs"
	defaultMediaDir          = "~/.local/share/loom/media"
	defaultAPIBind           = "127.0.0.1:7519"
	defaultWorkers           = 4
	defaultPollInterval      = 5
	defaultMaxRetries        = 3
	defaultJobPriority       = 5
	defaultVectorizePriority = 4
	defaultRecoveryInterval  = 600
	defaultStuckTimeout      = 1800
	defaultRetryGrace        = 300
	defaultTerminalRetention = 604800
	defaultIntegrityInterval = 1800
	defaultOrphanGrace       = 600
	defaultReprocessAfter    = 3600
	defaultTranscriberURL    = "http://127.0.0.1:8501"
	defaultHealthTimeout     = 5
	defaultTranscribeTimeout = 1800
	defaultLanguage          = "en"
	defaultEmbedderURL       = "http://127.0.0.1:8502"
	defaultEmbedTimeout      = 120
	defaultEmbedBatchSize    = 32
	defaultVectorStoreURL    = "http://127.0.0.1:6333"
	defaultVectorTimeout     = 30
	defaultChunkSize         = 1000
	defaultChunkOverlap      = 200
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

func defaultCollections() []string {
	return []string{"media_content"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			MediaDir: defaultMediaDir,
			APIBind:  defaultAPIBind,
		},
		Queue: Queue{
			Workers:           defaultWorkers,
			PollInterval:      defaultPollInterval,
			MaxRetries:        defaultMaxRetries,
			DefaultPriority:   defaultJobPriority,
			VectorizePriority: defaultVectorizePriority,
		},
		Recovery: Recovery{
			Interval:          defaultRecoveryInterval,
			StuckTimeout:      defaultStuckTimeout,
			RetryGrace:        defaultRetryGrace,
			TerminalRetention: defaultTerminalRetention,
		},
		Integrity: Integrity{
			Interval:       defaultIntegrityInterval,
			OrphanGrace:    defaultOrphanGrace,
			ReprocessAfter: defaultReprocessAfter,
			FixDuplicates:  true,
			FixOrphans:     true,
		},
		Transcriber: Transcriber{
			URL:               defaultTranscriberURL,
			HealthTimeout:     defaultHealthTimeout,
			TranscribeTimeout: defaultTranscribeTimeout,
			RequireGPU:        true,
			Language:          defaultLanguage,
		},
		Embedder: Embedder{
			URL:       defaultEmbedderURL,
			Timeout:   defaultEmbedTimeout,
			BatchSize: defaultEmbedBatchSize,
		},
		VectorStore: VectorStore{
			URL:         defaultVectorStoreURL,
			Collections: defaultCollections(),
			Timeout:     defaultVectorTimeout,
		},
		Chunking: Chunking{
			Size:    defaultChunkSize,
			Overlap: defaultChunkOverlap,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
