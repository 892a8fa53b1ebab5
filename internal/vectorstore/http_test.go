package vectorstore_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"loom/internal/vectorstore"
)

func TestHTTPClientUpsertAndDeleteByContent(t *testing.T) {
	var (
		upsertBody map[string]any
		deleteBody map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/media_content/points":
			if err := json.NewDecoder(r.Body).Decode(&upsertBody); err != nil {
				t.Errorf("decode upsert body: %v", err)
			}
		case r.Method == http.MethodPost && r.URL.Path == "/collections/media_content/points/delete":
			if err := json.NewDecoder(r.Body).Decode(&deleteBody); err != nil {
				t.Errorf("decode delete body: %v", err)
			}
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := vectorstore.NewHTTPClientWithDoer(server.URL, server.Client())
	ctx := context.Background()

	err := client.Upsert(ctx, "media_content", []vectorstore.Point{
		{ID: "p1", Vector: []float32{0.1, 0.2}, Payload: map[string]any{"content_id": int64(7)}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	points, ok := upsertBody["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("unexpected upsert body %v", upsertBody)
	}

	if err := client.DeleteByContent(ctx, "media_content", 7); err != nil {
		t.Fatalf("DeleteByContent: %v", err)
	}
	filter, ok := deleteBody["filter"].(map[string]any)
	if !ok {
		t.Fatalf("delete body missing filter: %v", deleteBody)
	}
	must, ok := filter["must"].([]any)
	if !ok || len(must) != 1 {
		t.Fatalf("unexpected filter %v", filter)
	}
}

func TestHTTPClientScrollPaginates(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/media_content/points/scroll" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		calls++
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if calls == 1 {
			if _, hasOffset := body["offset"]; hasOffset {
				t.Error("first page should not carry an offset")
			}
			_, _ = w.Write([]byte(`{"result":{"points":[{"id":"a","vector":[0.1],"payload":{"content_id":7}}],"next_page_offset":"a"}}`))
			return
		}
		if body["offset"] != "a" {
			t.Errorf("second page offset = %v, want \"a\"", body["offset"])
		}
		_, _ = w.Write([]byte(`{"result":{"points":[{"id":"b","vector":[0.2],"payload":{"content_id":7}}],"next_page_offset":null}}`))
	}))
	defer server.Close()

	client := vectorstore.NewHTTPClientWithDoer(server.URL, server.Client())
	points, err := client.ScrollAll(context.Background(), "media_content")
	if err != nil {
		t.Fatalf("ScrollAll: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("scrolled %d points, want 2", len(points))
	}
	if points[0].ID != "a" || points[1].ID != "b" {
		t.Fatalf("unexpected points %v", points)
	}
	if owner, ok := points[0].ContentID(); !ok || owner != 7 {
		t.Fatalf("payload content_id not decoded: %v", points[0].Payload)
	}
}

func TestHTTPClientEnsureCollectionToleratesConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":{"error":"already exists"}}`))
	}))
	defer server.Close()

	client := vectorstore.NewHTTPClientWithDoer(server.URL, server.Client())
	if err := client.EnsureCollection(context.Background(), "media_content", 384); err != nil {
		t.Fatalf("EnsureCollection should tolerate existing collection: %v", err)
	}
}

func TestMemoryScrollByContentFilters(t *testing.T) {
	mem := vectorstore.NewMemory()
	ctx := context.Background()

	err := mem.Upsert(ctx, "media_content", []vectorstore.Point{
		{ID: "p1", Payload: map[string]any{"content_id": int64(1)}},
		{ID: "p2", Payload: map[string]any{"content_id": int64(2)}},
		{ID: "p3", Payload: map[string]any{"content_id": int64(1)}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	points, err := mem.ScrollByContent(ctx, "media_content", 1)
	if err != nil {
		t.Fatalf("ScrollByContent: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("scrolled %d points for content 1, want 2", len(points))
	}

	if err := mem.DeleteByContent(ctx, "media_content", 1); err != nil {
		t.Fatalf("DeleteByContent: %v", err)
	}
	if mem.Count("media_content") != 1 {
		t.Fatalf("expected 1 surviving point, have %d", mem.Count("media_content"))
	}
}
