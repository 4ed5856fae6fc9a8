package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/experiment"
	"github.com/ahrav/go-sweep/internal/llm"
	"github.com/ahrav/go-sweep/internal/metrics"
	"github.com/ahrav/go-sweep/internal/storage"
)

const answer = "Quantum computing uses qubits in superposition. " +
	"For example, Shor's algorithm factors numbers. Grover search speeds lookup."

type stubClient struct {
	pingErr error
	genErr  error
}

func (c *stubClient) Generate(_ context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	if c.genErr != nil {
		return nil, c.genErr
	}
	return &llm.GenerateResult{Text: answer, TokensUsed: 42, LatencyMs: 80, Model: req.Model}, nil
}

func (c *stubClient) Ping(context.Context) error { return c.pingErr }

// brokenStore fails every response append.
type brokenStore struct {
	storage.Store
}

func (brokenStore) AddResponse(context.Context, string, *domain.Response) (string, error) {
	return "", errors.New("disk full at /var/lib/sweep")
}

type fixture struct {
	srv     *Server
	svc     *experiment.Service
	store   storage.Store
	handler http.Handler
}

func newFixture(t *testing.T, store storage.Store, client *stubClient, opts ...Option) *fixture {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	if client == nil {
		client = &stubClient{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := experiment.NewService(store, client, experiment.Options{MaxCombinations: 4}, logger, nil)
	opts = append([]Option{WithLogger(logger)}, opts...)
	srv := New(svc, client, opts...)
	srv.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{srv: srv, svc: svc, store: store, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// seed runs a complete sweep and returns its id.
func (f *fixture) seed(t *testing.T) string {
	t.Helper()
	exp, err := f.svc.Run(context.Background(), domain.CreateExperimentRequest{
		Prompt: "Explain quantum computing",
		Parameters: domain.ParameterRanges{
			Temperatures: []float64{0.2, 0.8},
			TopP:         []float64{1.0},
		},
	}, nil)
	require.NoError(t, err)
	return exp.ID
}

func parseEvents(t *testing.T, body string) []domain.ProgressEvent {
	t.Helper()
	var events []domain.ProgressEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const createBody = `{"prompt":"Explain quantum computing","parameterRanges":{"temperatures":[0.3,1.0],"topP":[0.9,1.0]}}`

func TestCreate_StreamsCheckpoints(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/api/experiments", createBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 4)
	for i, want := range []domain.ProgressType{
		domain.ProgressStarted,
		domain.ProgressProcessing,
		domain.ProgressResponsesGenerated,
		domain.ProgressComplete,
	} {
		assert.Equal(t, want, events[i].Type)
		assert.Equal(t, (i+1)*25, events[i].Progress.Percentage)
	}

	started, ok := events[0].Payload.(domain.StartedPayload)
	require.True(t, ok)
	assert.Equal(t, 4, started.TotalCombinations)

	complete, ok := events[3].Payload.(domain.CompletePayload)
	require.True(t, ok)
	assert.Equal(t, started.ExperimentID, complete.ExperimentID)
	assert.Equal(t, 4, complete.CompletedResponses)

	exp, err := f.store.GetExperiment(context.Background(), started.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, exp.Status)
}

func TestCreate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{
			name:    "malformed json",
			body:    `{"prompt":`,
			message: "invalid request body",
		},
		{
			name:    "empty prompt",
			body:    `{"prompt":"","parameterRanges":{"temperatures":[0.5],"topP":[1]}}`,
			message: "prompt",
		},
		{
			name:    "too many combinations",
			body:    `{"prompt":"hi","parameterRanges":{"temperatures":[0.1,0.2,0.3],"topP":[0.5,1]}}`,
			message: "Too many parameter combinations (6). Maximum allowed is 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)

			rec := f.do(t, http.MethodPost, "/api/experiments", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, http.StatusBadRequest, body.StatusCode)
			assert.Contains(t, body.Message, tt.message)

			page, err := f.svc.List(context.Background(), 10, "")
			require.NoError(t, err)
			assert.Empty(t, page.Experiments)
		})
	}
}

func TestCreate_StorageFailureIsMasked(t *testing.T) {
	f := newFixture(t, brokenStore{Store: storage.NewMemoryStore()}, nil)

	rec := f.do(t, http.MethodPost, "/api/experiments", createBody)

	require.Equal(t, http.StatusOK, rec.Code)
	events := parseEvents(t, rec.Body.String())
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, domain.ProgressError, last.Type)
	assert.Equal(t, "Error: "+internalErrorMessage, last.Message)
	assert.NotContains(t, rec.Body.String(), "/var/lib/sweep")

	for _, ev := range events[:len(events)-1] {
		assert.NotEqual(t, domain.ProgressError, ev.Type)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t, nil, nil)
	first := f.seed(t)
	second := f.seed(t)

	rec := f.do(t, http.MethodGet, "/api/experiments?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page experiment.ListPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Experiments, 1)
	assert.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)

	rec = f.do(t, http.MethodGet, "/api/experiments?limit=1&cursor="+*page.NextCursor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var next experiment.ListPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	require.Len(t, next.Experiments, 1)
	assert.False(t, next.HasMore)

	assert.ElementsMatch(t,
		[]string{first, second},
		[]string{page.Experiments[0].ID, next.Experiments[0].ID})
}

func TestList_BadLimit(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodGet, "/api/experiments?limit=ten", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "limit must be an integer", decodeError(t, rec).Message)
}

func TestGet(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.seed(t)

	rec := f.do(t, http.MethodGet, "/api/experiments/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var details domain.ExperimentDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
	assert.Equal(t, id, details.Experiment.ID)
	assert.Len(t, details.Responses, 2)
	assert.NotNil(t, details.BestResponse)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodGet, "/api/experiments/missing", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Experiment missing not found", body.Message)
	assert.Equal(t, http.StatusNotFound, body.StatusCode)
}

func TestMetricsReport(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.seed(t)

	rec := f.do(t, http.MethodGet, "/api/experiments/"+id+"/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report experiment.MetricsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, id, report.ExperimentID)
	assert.Equal(t, 2, report.Summary.TotalResponses)
	assert.Len(t, report.Responses, 2)
}

func TestExport(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.seed(t)

	t.Run("csv", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/experiments/"+id+"/export?format=csv", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="experiment-`+id+`.csv"`, rec.Header().Get("Content-Disposition"))
		lines := strings.Split(rec.Body.String(), "\n")
		assert.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "Response ID,Temperature"))
	})

	t.Run("json default", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/experiments/"+id+"/export", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var details domain.ExperimentDetails
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
		assert.Equal(t, id, details.Experiment.ID)
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/experiments/"+id+"/export?format=xml", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown experiment", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/experiments/missing/export?format=csv", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.seed(t)

	rec := f.do(t, http.MethodDelete, "/api/experiments/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Experiment "+id+" deleted successfully", body.Message)

	rec = f.do(t, http.MethodGet, "/api/experiments/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/experiments/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		provider string
	}{
		{name: "connected", provider: "connected"},
		{name: "provider down", pingErr: errors.New("dial tcp: refused"), provider: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, &stubClient{pingErr: tt.pingErr})

			rec := f.do(t, http.MethodGet, "/api/health", "")

			require.Equal(t, http.StatusOK, rec.Code)
			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "ok", body.Status)
			assert.Equal(t, tt.provider, body.LLMProvider)
			assert.Equal(t, "2026-03-01T12:00:00.000Z", body.Timestamp)
		})
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil, nil, WithCORSOrigin("http://localhost:3000"))

	rec := f.do(t, http.MethodOptions, "/api/experiments", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")

	rec = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	client := &stubClient{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := experiment.NewService(store, client, experiment.Options{}, logger, rec)
	srv := New(svc, client, WithLogger(logger), WithGatherer(reg))

	_, err = svc.Run(context.Background(), domain.CreateExperimentRequest{
		Prompt:     "Explain quantum computing",
		Parameters: domain.ParameterRanges{Temperatures: []float64{0.5}, TopP: []float64{1}},
	}, nil)
	require.NoError(t, err)

	resp := httptest.NewRecorder()
	srv.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `sweep_experiments_total{status="completed"} 1`)
}

func TestShutdown_WaitsForSweeps(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(t, http.MethodPost, "/api/experiments", createBody)
	require.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, f.srv.Shutdown(ctx))
}
