package ingress_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crjfisher/bergamot/internal/ingress"
	"github.com/crjfisher/bergamot/internal/queue"
)

func postVisit(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/visit", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func validVisitJSON(tabID string) string {
	return `{
		"url": "https://example.com/a",
		"page_loaded_at": "2026-01-01T00:00:00Z",
		"tab_id": "` + tabID + `",
		"group_id": "g1"
	}`
}

func TestHandleVisit_Queued(t *testing.T) {
	q := queue.New(4)
	h := ingress.NewRouter(q, "test")

	w := postVisit(t, h, validVisitJSON("1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Status   string `json:"status"`
		Position int    `json:"position"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 1, resp.Position)
}

func TestHandleVisit_ValidationFailure(t *testing.T) {
	q := queue.New(4)
	h := ingress.NewRouter(q, "test")

	w := postVisit(t, h, `{"tab_id": "1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestHandleVisit_MalformedJSON(t *testing.T) {
	q := queue.New(4)
	h := ingress.NewRouter(q, "test")

	w := postVisit(t, h, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleVisit_QueueBackpressure(t *testing.T) {
	q := queue.New(2)
	h := ingress.NewRouter(q, "test")

	w1 := postVisit(t, h, validVisitJSON("1"))
	w2 := postVisit(t, h, validVisitJSON("2"))
	w3 := postVisit(t, h, validVisitJSON("3"))

	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, http.StatusServiceUnavailable, w3.Code)
}

func TestHandleStatus(t *testing.T) {
	q := queue.New(4)
	h := ingress.NewRouter(q, "test")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status      string `json:"status"`
		QueueDepth  int    `json:"queue_depth"`
		VisitsTotal int    `json:"visits_total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}
