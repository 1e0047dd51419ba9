package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmaksimov/structex/internal/config"
	"github.com/dmaksimov/structex/internal/extract"
	"github.com/dmaksimov/structex/internal/parser"
	"github.com/dmaksimov/structex/internal/session"
)

// scriptedModel replays canned responses in order.
type scriptedModel struct {
	responses []string
	calls     int
	err       error
}

func (m *scriptedModel) Chat(ctx context.Context, prompt string, temperature float64) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.calls >= len(m.responses) {
		return "", io.ErrUnexpectedEOF
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func newTestServer(model extract.Chatter) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	stats := extract.NewLLMStats(time.Hour)
	cfg := config.Config{
		MaxUploadBytes: 1 << 20,
		MaxRetries:     1,
	}
	return NewServer(
		session.NewStore(time.Hour),
		extract.NewExtractor(model, cfg.MaxRetries, stats, log),
		extract.NewSummarizer(model, stats),
		&parser.TextExtractor{},
		"test-model",
		stats,
		log,
		cfg,
	)
}

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["session_id"])
	return body["session_id"]
}

func saveTemplate(t *testing.T, srv *Server, sessionID, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/templates", bytes.NewBufferString(payload))
	req.Header.Set(SessionHeader, sessionID)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

const invoiceTemplate = `{
	"name": "invoices",
	"fields": [
		{"name": "amount", "type": "number", "required": true, "description": "total in dollars"},
		{"name": "date", "type": "string", "required": true}
	]
}`

func TestHealth(t *testing.T) {
	srv := newTestServer(&scriptedModel{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSessionRequired(t *testing.T) {
	srv := newTestServer(&scriptedModel{})

	req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	req.Header.Set(SessionHeader, "no-such-session")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSaveTemplate(t *testing.T) {
	srv := newTestServer(&scriptedModel{})
	sid := createSession(t, srv)

	rec := saveTemplate(t, srv, sid, invoiceTemplate)
	require.Equal(t, http.StatusCreated, rec.Code)

	var tpl session.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tpl))
	assert.Equal(t, "invoices", tpl.Name)
	assert.Len(t, tpl.Fields, 2)
	assert.Equal(t, []string{"amount", "date"}, tpl.Schema.Required)
}

func TestSaveTemplate_Rejections(t *testing.T) {
	srv := newTestServer(&scriptedModel{})
	sid := createSession(t, srv)

	rec := saveTemplate(t, srv, sid, `{"name": "", "fields": [{"name": "a", "type": "string"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = saveTemplate(t, srv, sid, `{"name": "empty", "fields": [{"name": "  ", "type": "string"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = saveTemplate(t, srv, sid, invoiceTemplate)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = saveTemplate(t, srv, sid, invoiceTemplate)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSaveTemplate_LegacySchemaOnly(t *testing.T) {
	srv := newTestServer(&scriptedModel{})
	sid := createSession(t, srv)

	rec := saveTemplate(t, srv, sid, `{
		"name": "legacy",
		"schema": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {"total": {"type": "number"}},
				"required": ["total"]
			}
		}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var tpl session.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tpl))
	assert.Equal(t, "legacy", tpl.Name)
	assert.Empty(t, tpl.Fields)
	assert.Equal(t, []string{"total"}, tpl.Schema.Required)
}

func TestProcessDocument(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`[{"amount": 100, "date": "2024-01-01"}]`,
	}}
	srv := newTestServer(model)
	sid := createSession(t, srv)

	rec := saveTemplate(t, srv, sid, invoiceTemplate)
	require.Equal(t, http.StatusCreated, rec.Code)

	req := uploadRequest(t, "/api/documents", "invoice.txt", "Invoice total: $100 dated 2024-01-01", map[string]string{"template": "invoices"})
	req.Header.Set(SessionHeader, sid)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var summary map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	docID, _ := summary["id"].(string)
	require.NotEmpty(t, docID)
	assert.Equal(t, "invoice.txt", summary["filename"])
	assert.Equal(t, float64(1), summary["rows"])

	// The registered document carries the result and its table view.
	req = httptest.NewRequest(http.MethodGet, "/api/documents/"+docID, nil)
	req.Header.Set(SessionHeader, sid)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc session.ProcessedDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "invoices", doc.TemplateName)
	assert.Equal(t, []string{"amount", "date"}, doc.Table.Columns)
	assert.Equal(t, [][]string{{"100", "2024-01-01"}}, doc.Table.Rows)
}

func TestProcessDocument_RetryThenSuccess(t *testing.T) {
	model := &scriptedModel{responses: []string{
		"sure! here is the data you asked for",
		`[{"amount": 42.5, "date": "2024-02-02"}]`,
	}}
	srv := newTestServer(model)
	sid := createSession(t, srv)
	saveTemplate(t, srv, sid, invoiceTemplate)

	req := uploadRequest(t, "/api/documents", "a.txt", "text", map[string]string{"template": "invoices"})
	req.Header.Set(SessionHeader, sid)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, model.calls)
}

func TestProcessDocument_Exhausted(t *testing.T) {
	model := &scriptedModel{responses: []string{
		"not json",
		"still not json",
	}}
	srv := newTestServer(model)
	sid := createSession(t, srv)
	saveTemplate(t, srv, sid, invoiceTemplate)

	req := uploadRequest(t, "/api/documents", "a.txt", "text", map[string]string{"template": "invoices"})
	req.Header.Set(SessionHeader, sid)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "still not json", body["raw_output"])
	assert.Contains(t, body["failure"], "invalid JSON")
}

func TestProcessDocument_ModelUnavailable(t *testing.T) {
	model := &scriptedModel{err: &extract.ModelError{Kind: extract.ModelUnavailable, Err: io.ErrUnexpectedEOF}}
	srv := newTestServer(model)
	sid := createSession(t, srv)
	saveTemplate(t, srv, sid, invoiceTemplate)

	req := uploadRequest(t, "/api/documents", "a.txt", "text", map[string]string{"template": "invoices"})
	req.Header.Set(SessionHeader, sid)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProcessDocument_UnsupportedFormat(t *testing.T) {
	srv := newTestServer(&scriptedModel{})
	sid := createSession(t, srv)
	saveTemplate(t, srv, sid, invoiceTemplate)

	req := uploadRequest(t, "/api/documents", "photo.png", "binary", map[string]string{"template": "invoices"})
	req.Header.Set(SessionHeader, sid)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessDocument_UnknownTemplate(t *testing.T) {
	srv := newTestServer(&scriptedModel{})
	sid := createSession(t, srv)

	req := uploadRequest(t, "/api/documents", "a.txt", "text", map[string]string{"template": "missing"})
	req.Header.Set(SessionHeader, sid)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportDocument(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`[{"amount": 100, "date": "2024-01-01"}]`,
	}}
	srv := newTestServer(model)
	sid := createSession(t, srv)
	saveTemplate(t, srv, sid, invoiceTemplate)

	req := uploadRequest(t, "/api/documents", "invoice.txt", "text", map[string]string{"template": "invoices"})
	req.Header.Set(SessionHeader, sid)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	docID := summary["id"].(string)

	cases := []struct {
		format      string
		contentType string
		filename    string
	}{
		{"json", "application/json", "invoice.json"},
		{"csv", "text/csv", "invoice.csv"},
		{"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "invoice.xlsx"},
	}
	for _, tc := range cases {
		req = httptest.NewRequest(http.MethodGet, "/api/documents/"+docID+"/export/"+tc.format, nil)
		req.Header.Set(SessionHeader, sid)
		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, tc.format)
		assert.Equal(t, tc.contentType, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), tc.filename)
		assert.NotEmpty(t, rec.Body.Bytes())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/documents/"+docID+"/export/pdf", nil)
	req.Header.Set(SessionHeader, sid)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeDocument(t *testing.T) {
	model := &scriptedModel{responses: []string{
		"## Key points\n\n- one\n- two",
	}}
	srv := newTestServer(model)
	sid := createSession(t, srv)

	req := uploadRequest(t, "/api/analyze", "report.txt", "quarterly report text", map[string]string{"level": "short", "focus": "risks"})
	req.Header.Set(SessionHeader, sid)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "short", body["level"])
	assert.Equal(t, "## Key points\n\n- one\n- two", body["summary"])
	assert.Contains(t, body["summary_html"], "<li>one</li>")
}

func TestAnalyzeDocument_UnknownLevel(t *testing.T) {
	srv := newTestServer(&scriptedModel{})
	sid := createSession(t, srv)

	req := uploadRequest(t, "/api/analyze", "report.txt", "text", map[string]string{"level": "epic"})
	req.Header.Set(SessionHeader, sid)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionsAreIsolated(t *testing.T) {
	srv := newTestServer(&scriptedModel{})
	first := createSession(t, srv)
	second := createSession(t, srv)

	rec := saveTemplate(t, srv, first, invoiceTemplate)
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/templates/invoices", nil)
	req.Header.Set(SessionHeader, second)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLLMStatsEndpoint(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`[{"amount": 1, "date": "d"}]`,
	}}
	srv := newTestServer(model)
	sid := createSession(t, srv)
	saveTemplate(t, srv, sid, invoiceTemplate)

	req := uploadRequest(t, "/api/documents", "a.txt", "text", map[string]string{"template": "invoices"})
	req.Header.Set(SessionHeader, sid)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Model string                `json:"model"`
		Stats extract.StatsSnapshot `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "test-model", body.Model)
	assert.Equal(t, 1, body.Stats.Calls)
	assert.Equal(t, int64(1), body.Stats.Extractions)
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":         "report.pdf",
		"../../etc/passwd":   "passwd",
		"dir/inner/file.txt": "file.txt",
		"":                   "unnamed",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeFilename(in), in)
	}
}
