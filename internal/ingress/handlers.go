package ingress

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/crjfisher/bergamot/internal/queue"
	"github.com/crjfisher/bergamot/pkg/models"
)

// Handlers holds the dependencies the ingress routes need.
type Handlers struct {
	queue   *queue.Queue
	version string
}

// visitRequest is the wire shape of POST /visit: identical to
// models.Visit except content travels as base64 zstd-compressed text
// rather than the decompressed RawContent the rest of the system works
// with.
type visitRequest struct {
	URL               string   `json:"url"`
	PageLoadedAt      string   `json:"page_loaded_at"`
	TabID             string   `json:"tab_id"`
	OpenerTabID       string   `json:"opener_tab_id,omitempty"`
	GroupID           string   `json:"group_id"`
	Referrer          string   `json:"referrer,omitempty"`
	ReferrerTimestamp *float64 `json:"referrer_timestamp,omitempty"`
	Title             string   `json:"title,omitempty"`
	Content           string   `json:"content"`
}

type visitResponse struct {
	Status   string `json:"status"`
	Position int    `json:"position"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

func (h *Handlers) handleVisit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", nil)
		return
	}

	var req visitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", nil)
		return
	}

	issues := validate(req)
	if len(issues) > 0 {
		writeError(w, http.StatusBadRequest, "validation failed", issues)
		return
	}

	pageLoadedAt, err := time.Parse(time.RFC3339, req.PageLoadedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", []string{"page_loaded_at: not a valid ISO-8601 timestamp"})
		return
	}

	content := decodeContent(req.Content)

	v := models.Visit{
		ID:                computeID(req.URL, req.PageLoadedAt),
		URL:               req.URL,
		PageLoadedAt:      pageLoadedAt,
		TabID:             req.TabID,
		OpenerTabID:       req.OpenerTabID,
		GroupID:           req.GroupID,
		ReferrerURL:       req.Referrer,
		ReferrerTimestamp: req.ReferrerTimestamp,
		Title:             req.Title,
		RawContent:        content,
	}

	position, err := h.queue.Enqueue(v)
	if err != nil {
		if errors.Is(err, queue.ErrFull) {
			writeError(w, http.StatusServiceUnavailable, "queue at capacity", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue visit", nil)
		return
	}

	writeJSON(w, http.StatusOK, visitResponse{Status: "queued", Position: position})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": h.queue.Depth(),
		"visits_total": h.queue.TotalSeen(),
		"version":     h.version,
	})
}

// decodeContent decodes the base64 zstd payload. Per spec §7, a
// decompression failure is not fatal: the raw provided string is kept
// as-is and the request proceeds.
func decodeContent(raw string) string {
	if raw == "" {
		return ""
	}

	compressed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		log.Warn().Err(err).Msg("content is not valid base64, treating as raw text")
		return raw
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize zstd decoder, treating content as raw text")
		return raw
	}
	defer dec.Close()

	decompressed, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to decompress content, treating as raw text")
		return raw
	}
	return string(decompressed)
}

// computeID derives a deterministic visit id from the URL and the raw
// page_loaded_at string exactly as received, so re-posting the same
// visit collides on the same id (spec §8 dedup property).
func computeID(rawURL, pageLoadedAt string) string {
	sum := md5.Sum([]byte(rawURL + ":" + pageLoadedAt))
	return hex.EncodeToString(sum[:])
}

func validate(req visitRequest) []string {
	var issues []string

	if req.URL == "" {
		issues = append(issues, "url: required")
	} else if u, err := url.Parse(req.URL); err != nil || !u.IsAbs() {
		issues = append(issues, "url: must be an absolute URL")
	}
	if req.PageLoadedAt == "" {
		issues = append(issues, "page_loaded_at: required")
	}
	if req.TabID == "" {
		issues = append(issues, "tab_id: required")
	}
	if req.GroupID == "" {
		issues = append(issues, "group_id: required")
	}
	return issues
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string, issues []string) {
	writeJSON(w, status, errorResponse{Error: msg, Issues: issues})
}
