package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/domino/pkg/detect"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	base := detect.DefaultOptions()
	base.Seed = 3
	h := NewHandlers(base, DefaultLimits(), zerolog.Nop())
	srv := httptest.NewServer(NewHandler(h, nil, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
}

func post(t *testing.T, srv *httptest.Server, body any) (*http.Response, envelope) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/v1/detect", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func cliqueEdges(size int) []Edge {
	var edges []Edge
	for c := 0; c < 2; c++ {
		for i := 0; i < size; i++ {
			for j := i + 1; j < size; j++ {
				edges = append(edges, Edge{Source: c*size + i, Target: c*size + j})
			}
		}
	}
	return edges
}

func TestHealthAndFamilies(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = uuid.Parse(resp.Header.Get(RequestIDHeader))
	assert.NoError(t, err)

	resp, err = http.Get(srv.URL + "/api/v1/families")
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	var fams []FamilyInfo
	require.NoError(t, json.Unmarshal(env.Data, &fams))
	require.Len(t, fams, 6)
	assert.Equal(t, "SBM", fams[0].Name)
	assert.Equal(t, "wdcSBM", fams[5].Name)
	assert.True(t, fams[5].DegreeCorrected)
	assert.Equal(t, "weighted", fams[5].Mode)
}

func TestDetectEdges(t *testing.T) {
	srv := newTestServer(t)
	resp, env := post(t, srv, DetectRequest{Edges: cliqueEdges(10), NumNodes: 20, Report: true})
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)
	assert.True(t, env.Success)
	assert.Equal(t, resp.Header.Get(RequestIDHeader), env.RequestID)

	var out DetectResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "SBM", out.Family)
	assert.Equal(t, 2, out.NumBlocks)
	assert.Len(t, out.Labels, 20)
	assert.NotEqual(t, out.Labels[0], out.Labels[10])
	assert.Contains(t, out.Report, "blocks")
}

func TestDetectMatrixWithLayout(t *testing.T) {
	srv := newTestServer(t)
	m := make([][]float64, 6)
	for i := range m {
		m[i] = make([]float64, 6)
	}
	for _, e := range [][2]int{{0, 1}, {1, 2}, {0, 2}, {3, 4}, {4, 5}, {3, 5}, {2, 3}} {
		m[e[0]][e[1]], m[e[1]][e[0]] = 2, 2
	}
	resp, env := post(t, srv, DetectRequest{Matrix: m, Mode: "weighted", Viz: true})
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)

	var out DetectResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "wSBM", out.Family)
	assert.Len(t, out.Positions, 6)
}

func TestDetectErrors(t *testing.T) {
	srv := newTestServer(t)
	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"no graph", DetectRequest{}, http.StatusBadRequest},
		{"ragged matrix", DetectRequest{Matrix: [][]float64{{0, 1}, {1}}}, http.StatusBadRequest},
		{"edge out of range", DetectRequest{Edges: []Edge{{Source: 0, Target: 5}}, NumNodes: 3}, http.StatusBadRequest},
		{"unknown mode", DetectRequest{Edges: cliqueEdges(3), NumNodes: 6, Mode: "directed"}, http.StatusBadRequest},
		{"signed without negatives", DetectRequest{Edges: cliqueEdges(3), NumNodes: 6, Mode: "signed"}, http.StatusUnprocessableEntity},
		{"unknown field", map[string]any{"graph": 1}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, env := post(t, srv, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestDetectRequiresJSON(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/detect", "text/plain", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestRequestIDIsKept(t *testing.T) {
	srv := newTestServer(t)
	id := uuid.New().String()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, id, resp.Header.Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/detect", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
