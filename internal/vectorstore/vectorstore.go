package vectorstore

import "context"

// Point is one embedded chunk stored in a vector collection. ID is the chunk
// ID recorded in the catalog's vector mappings; Payload always carries
// content_id so points can be filtered and reconciled per content item.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// ContentID extracts the content_id payload field, tolerating the numeric
// types JSON decoding produces.
func (p Point) ContentID() (int64, bool) {
	raw, ok := p.Payload["content_id"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Client is the vector store surface the pipeline needs. Qdrant backs it in
// production; Memory backs it in tests.
type Client interface {
	EnsureCollection(ctx context.Context, collection string, dimension int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	DeletePoints(ctx context.Context, collection string, ids []string) error
	DeleteByContent(ctx context.Context, collection string, contentID int64) error
	ScrollByContent(ctx context.Context, collection string, contentID int64) ([]Point, error)
	ScrollAll(ctx context.Context, collection string) ([]Point, error)
	Ping(ctx context.Context) error
}
