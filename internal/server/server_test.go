package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/lectern/config"
	"github.com/mohammad-safakhou/lectern/internal/assembler"
	"github.com/mohammad-safakhou/lectern/internal/completion"
	"github.com/mohammad-safakhou/lectern/internal/metrics"
	"github.com/mohammad-safakhou/lectern/internal/rag"
)

type fakeBot struct {
	lastReq  rag.Request
	queryErr error
	cleared  []string
}

func (f *fakeBot) Query(_ context.Context, req rag.Request) (rag.Response, error) {
	f.lastReq = req
	if f.queryErr != nil {
		return rag.Response{}, f.queryErr
	}
	if err := req.Validate(); err != nil {
		return rag.Response{}, err
	}
	return rag.Response{
		Answer: "Nodes publish on topics [Source 1].",
		Citations: []assembler.Citation{
			{SourceFile: "ros2/nodes.md", SectionTitle: "Topics", RelevanceScore: 0.9, TextPreview: "Nodes..."},
		},
		SessionID:  "sess-1",
		TokensUsed: 77,
		ElapsedMs:  12,
	}, nil
}

func (f *fakeBot) ClearSession(_ context.Context, id string) error {
	f.cleared = append(f.cleared, id)
	return nil
}

func (f *fakeBot) Health(context.Context) rag.Health {
	active := 3
	return rag.Health{
		Status:    rag.StatusHealthy,
		Timestamp: time.Now().UTC(),
		Components: map[string]rag.ComponentHealth{
			"embedding": {Status: rag.StatusHealthy},
			"sessions":  {Status: rag.StatusHealthy, Active: &active},
		},
	}
}

func newTestServer(bot Chatbot, m *metrics.Metrics) http.Handler {
	return New(config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}}, bot, m, zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	bot := &fakeBot{}
	rec := do(t, newTestServer(bot, nil), http.MethodPost, "/api/chatbot/query",
		`{"query":"How do nodes talk?","selected_text":"publish/subscribe","session_id":"sess-1","top_k":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, rag.Request{Query: "How do nodes talk?", Highlighted: "publish/subscribe", SessionID: "sess-1", TopK: 3}, bot.lastReq)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, 77, resp.TokensUsed)
	assert.EqualValues(t, 12, resp.ProcessingTimeMs)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "ros2/nodes.md", resp.Sources[0].SourceFile)
	assert.Contains(t, rec.Body.String(), `"text_preview":"Nodes..."`)
}

func TestQueryValidationIs400(t *testing.T) {
	h := newTestServer(&fakeBot{}, nil)
	cases := []string{
		`{"query":""}`,
		`{"query":"` + strings.Repeat("x", rag.MaxQueryLength+1) + `"}`,
		`{"query":"ok","top_k":21}`,
		`{not json`,
	}
	for _, body := range cases {
		rec := do(t, h, http.MethodPost, "/api/chatbot/query", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}

func TestGenerationFailureIs503(t *testing.T) {
	bot := &fakeBot{queryErr: fmt.Errorf("openai completion: %w: %w", completion.ErrGeneration, errors.New("upstream 500"))}
	rec := do(t, newTestServer(bot, nil), http.MethodPost, "/api/chatbot/query", `{"query":"q"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "upstream 500")
}

func TestUnexpectedErrorIs500(t *testing.T) {
	bot := &fakeBot{queryErr: errors.New("load session: redis down")}
	rec := do(t, newTestServer(bot, nil), http.MethodPost, "/api/chatbot/query", `{"query":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClearSession(t *testing.T) {
	bot := &fakeBot{}
	rec := do(t, newTestServer(bot, nil), http.MethodPost, "/api/chatbot/sessions/abc/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"abc"}, bot.cleared)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
}

func TestHealthUpdatesActiveSessions(t *testing.T) {
	m := metrics.New()
	rec := do(t, newTestServer(&fakeBot{}, m), http.MethodGet, "/api/chatbot/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var h rag.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, rag.StatusHealthy, h.Status)
	require.NotNil(t, h.Components["sessions"].Active)
	assert.Equal(t, 3, *h.Components["sessions"].Active)

	rec = do(t, newTestServer(&fakeBot{}, m), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lectern_active_sessions 3")
}

func TestProbesAndDocs(t *testing.T) {
	h := newTestServer(&fakeBot{}, nil)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics", "").Code)

	rec := do(t, h, http.MethodGet, "/api/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/chatbot/query")
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/chatbot/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	newTestServer(&fakeBot{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
