// Package toolsurface exposes the two read-only retrieval operations
// (spec §4.7) to an external agent process over a line-delimited JSON
// protocol on stdio: semantic_search and get_content. Both are
// stateless and read directly from the vector store — neither touches
// the reconciler, the classifier, or the structured store.
package toolsurface

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/crjfisher/bergamot/internal/embeddings"
	"github.com/crjfisher/bergamot/internal/vectorstore"
)

const previewLength = 200

const defaultSearchLimit = 10

// Server serves tool requests against a vector store.
type Server struct {
	vectors  vectorstore.Store
	embedder embeddings.Driver
}

// New creates a Server.
func New(vectors vectorstore.Store, embedder embeddings.Driver) *Server {
	return &Server{vectors: vectors, embedder: embedder}
}

type request struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Run reads one request per line from r and writes one response per
// line to w, until r is exhausted or ctx is cancelled. A malformed
// request line produces an error response rather than terminating the
// loop; only an I/O error on r or w stops it.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handleLine(ctx, line)

		out, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		if _, err := bw.Write(append(out, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return response{Error: "malformed request: " + err.Error()}
	}

	switch req.Name {
	case "semantic_search":
		return s.semanticSearch(ctx, req.Arguments)
	case "get_content":
		return s.getContent(ctx, req.Arguments)
	default:
		return response{Error: "unknown tool: " + req.Name}
	}
}

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchHit struct {
	ID      string  `json:"id"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Preview string  `json:"preview"`
}

func (s *Server) semanticSearch(ctx context.Context, raw json.RawMessage) response {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return response{Error: "malformed semantic_search arguments: " + err.Error()}
	}
	if args.Query == "" {
		return response{Error: "query is required"}
	}
	if args.Limit <= 0 {
		args.Limit = defaultSearchLimit
	}

	vectors, err := s.embedder.Embed(ctx, []string{args.Query})
	if err != nil || len(vectors) == 0 {
		log.Error().Err(err).Msg("semantic_search: embedding query failed")
		return response{Error: "failed to embed query"}
	}
	query := toFloat32(vectors[0])

	results, err := s.vectors.KNN(ctx, query, args.Limit)
	if err != nil {
		log.Error().Err(err).Msg("semantic_search: knn failed")
		return response{Error: "search failed"}
	}

	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, searchHit{
			ID:      r.Doc.Key,
			URL:     r.Doc.Metadata.URL,
			Title:   r.Doc.Metadata.Title,
			Score:   r.Score,
			Preview: preview(r.Doc.Content),
		})
	}
	return response{Result: hits}
}

type contentArgs struct {
	ID string `json:"id"`
}

type contentResult struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) getContent(ctx context.Context, raw json.RawMessage) response {
	var args contentArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return response{Error: "malformed get_content arguments: " + err.Error()}
	}
	if args.ID == "" {
		return response{Error: "id is required"}
	}

	doc, err := s.vectors.Get(ctx, args.ID)
	if err != nil {
		var notFound *vectorstore.ErrNotFound
		if errors.As(err, &notFound) {
			return response{Error: "unknown id: " + args.ID}
		}
		return response{Error: "lookup failed"}
	}

	return response{Result: contentResult{
		ID:      doc.Key,
		URL:     doc.Metadata.URL,
		Title:   doc.Metadata.Title,
		Content: doc.Content,
	}}
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLength {
		return content
	}
	return string(r[:previewLength])
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
