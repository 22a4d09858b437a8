package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odin/internal/adapters"
	"odin/internal/audit"
	"odin/internal/events"
	"odin/internal/pipeline"
	"odin/internal/prompts"
	"odin/internal/scoring"
	"odin/internal/service"
	"odin/internal/store"
)

func newTestServer(t *testing.T, gen *adapters.MockGenerator) (*httptest.Server, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "odin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	logger := audit.NewLogger(s, nil)
	svc := &service.Service{
		Pipeline:  &pipeline.Orchestrator{Generator: gen, Prompts: &prompts.Builder{}, Audit: logger},
		Store:     s,
		Publisher: events.NewPublisher(s, nil, nil),
		Audit:     logger,
		Policy:    scoring.PolicyRecord,
	}
	ts := httptest.NewServer(New(svc, s, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

const createBody = `{"initiative": "ops automation", "market_data": {"emerging_needs": ["Process automation"]}}`

func TestCreateStrategy(t *testing.T) {
	ts, s := newTestServer(t, &adapters.MockGenerator{Recommendation: "pursue"})

	resp := postJSON(t, ts.URL+"/strategies", createBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got service.Response
	decode(t, resp, &got)
	assert.Equal(t, "created", got.Status)
	assert.Equal(t, "pursue", string(got.Recommendation))
	assert.NotEmpty(t, got.StrategyID)

	stored, err := s.ListEvents(t.Context(), got.StrategyID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Processed)
}

func TestCreateStrategyFailureIs500(t *testing.T) {
	ts, _ := newTestServer(t, &adapters.MockGenerator{FailPhase: "validation"})

	for _, body := range []string{createBody, `{}`, `not json`} {
		resp := postJSON(t, ts.URL+"/strategies", body)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, body)

		var failure map[string]any
		decode(t, resp, &failure)
		assert.NotEmpty(t, failure["error"])
		assert.NotEmpty(t, failure["timestamp"])
	}
}

func TestListGetAndTransition(t *testing.T) {
	ts, _ := newTestServer(t, &adapters.MockGenerator{Recommendation: "investigate_further"})

	var created service.Response
	decode(t, postJSON(t, ts.URL+"/strategies", createBody), &created)

	resp, err := http.Get(ts.URL + "/strategies?status=draft&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list struct {
		Count      int `json:"count"`
		Strategies []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"strategies"`
	}
	decode(t, resp, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, created.StrategyID, list.Strategies[0].ID)

	resp = postJSON(t, ts.URL+"/strategies/"+created.StrategyID+"/reject", `{"user": "dana", "reason": "too small"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc struct {
		Status     string `json:"status"`
		AuditTrail []struct {
			Action string `json:"action"`
			User   string `json:"user"`
		} `json:"audit_trail"`
	}
	decode(t, resp, &doc)
	assert.Equal(t, "rejected", doc.Status)
	assert.Equal(t, "dana", doc.AuditTrail[len(doc.AuditTrail)-1].User)

	resp = postJSON(t, ts.URL+"/strategies/"+created.StrategyID+"/approve", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/strategies/"+created.StrategyID+"/promote", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	get, err := http.Get(ts.URL + "/strategies/" + created.StrategyID)
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)
}

func TestNotFoundAndBadQuery(t *testing.T) {
	ts, _ := newTestServer(t, &adapters.MockGenerator{})

	for path, want := range map[string]int{
		"/strategies/does-not-exist":   http.StatusNotFound,
		"/strategies?status=pending":   http.StatusBadRequest,
		"/strategies?limit=-1":         http.StatusBadRequest,
		"/strategies?recommendation=x": http.StatusBadRequest,
		"/reports/unknown":             http.StatusNotFound,
		"/healthz":                     http.StatusOK,
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestReports(t *testing.T) {
	ts, _ := newTestServer(t, &adapters.MockGenerator{})
	postJSON(t, ts.URL+"/strategies", createBody)

	for _, name := range store.ReportNames {
		resp, err := http.Get(ts.URL + "/reports/" + name)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, name)
		assert.NotEmpty(t, strings.TrimSpace(string(body)), name)
	}
}
