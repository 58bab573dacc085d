package toolsurface_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/crjfisher/bergamot/internal/toolsurface"
	"github.com/crjfisher/bergamot/internal/vectorstore"
	"github.com/crjfisher/bergamot/pkg/models"
)

type fakeEmbedder struct {
	vector []float64
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }
func (f *fakeEmbedder) Kind() string    { return "fake" }

func newTestServer(t *testing.T) *toolsurface.Server {
	t.Helper()
	vs := vectorstore.NewEmbeddedStore()
	ctx := context.Background()
	docs := []models.VectorDocument{
		{Key: "p1", Content: strings.Repeat("alpha ", 100), Embedding: []float32{1, 0, 0},
			Metadata: models.VectorDocMetadata{URL: "https://example.com/a", Title: "Alpha"}},
		{Key: "p2", Content: "beta", Embedding: []float32{0, 1, 0},
			Metadata: models.VectorDocMetadata{URL: "https://example.com/b", Title: "Beta"}},
	}
	for _, d := range docs {
		if err := vs.Put(ctx, d); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	return toolsurface.New(vs, &fakeEmbedder{vector: []float64{1, 0, 0}})
}

func runLine(t *testing.T, s *toolsurface.Server, line string) map[string]any {
	t.Helper()
	in := bytes.NewBufferString(line + "\n")
	var out bytes.Buffer
	if err := s.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", out.String(), err)
	}
	return resp
}

func TestSemanticSearch(t *testing.T) {
	s := newTestServer(t)
	resp := runLine(t, s, `{"name":"semantic_search","arguments":{"query":"alpha","limit":1}}`)
	if resp["error"] != nil {
		t.Fatalf("unexpected error: %v", resp["error"])
	}
	results, ok := resp["result"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("result = %+v, want 1 hit", resp["result"])
	}
	hit := results[0].(map[string]any)
	if hit["id"] != "p1" {
		t.Errorf("top hit id = %v, want p1", hit["id"])
	}
	if preview, _ := hit["preview"].(string); len([]rune(preview)) > 200 {
		t.Errorf("preview length = %d, want <= 200", len([]rune(preview)))
	}
}

func TestGetContent(t *testing.T) {
	s := newTestServer(t)
	resp := runLine(t, s, `{"name":"get_content","arguments":{"id":"p2"}}`)
	if resp["error"] != nil {
		t.Fatalf("unexpected error: %v", resp["error"])
	}
	result := resp["result"].(map[string]any)
	if result["content"] != "beta" {
		t.Errorf("content = %v, want beta", result["content"])
	}
}

func TestGetContent_UnknownID(t *testing.T) {
	s := newTestServer(t)
	resp := runLine(t, s, `{"name":"get_content","arguments":{"id":"missing"}}`)
	if resp["error"] == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestUnknownTool(t *testing.T) {
	s := newTestServer(t)
	resp := runLine(t, s, `{"name":"bogus","arguments":{}}`)
	if resp["error"] == nil {
		t.Fatal("expected error for unknown tool")
	}
}
