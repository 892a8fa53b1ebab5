package catalog

import "time"

// Content is a media item tracked through the pipeline. The
// transcript_available and vector_stored flags are authoritative only when
// they agree with the transcripts and vector_mappings tables; the integrity
// reconciler corrects them when they drift.
type Content struct {
	ID                  int64
	ExternalID          string
	Title               string
	SourceURL           string
	DurationSeconds     int64
	Language            string
	TranscriptAvailable bool
	TranscriptType      string
	VectorStored        bool
	IsActive            bool
	ProcessedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Segment is one ordered span of transcript text with timing.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcript is a stored transcript segment row.
type Transcript struct {
	ID           int64
	ContentID    int64
	SegmentText  string
	StartTime    float64
	EndTime      float64
	SegmentOrder int
	CreatedAt    time.Time
}

// VectorMapping records a point that should exist in the vector store.
// chunk_id matches the point ID used in the vector collection.
type VectorMapping struct {
	ID         int64
	ContentID  int64
	ChunkID    string
	Collection string
	ChunkText  string
	ChunkOrder int
	Metadata   string
	CreatedAt  time.Time
}

// Transaction log statuses.
const (
	TxPending    = "pending"
	TxSuccess    = "success"
	TxRolledBack = "rolled_back"
	TxFailed     = "failed"
)

// TransactionLog records the outcome of one atomic cross-store operation.
// Snapshot holds the serialized pre-operation state used for compensation.
type TransactionLog struct {
	ID            int64
	TransactionID string
	ContentID     int64
	Operation     string
	Status        string
	Snapshot      string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
