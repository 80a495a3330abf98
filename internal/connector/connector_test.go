package connector_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cnap-oss/sheetflow/internal/common"
	"github.com/cnap-oss/sheetflow/internal/connector"
	"github.com/cnap-oss/sheetflow/internal/controller"
	"github.com/cnap-oss/sheetflow/internal/operator"
	"github.com/cnap-oss/sheetflow/internal/storage"
	"github.com/cnap-oss/sheetflow/internal/testutil"
	"github.com/cnap-oss/sheetflow/internal/testutil/mocks"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testUser   = "user-1"
	testAPIKey = "key-123"
)

type testServer struct {
	handler http.Handler
	repo    *storage.Repository
	search  *mocks.MockOperator
	sheet   *storage.Sheet
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t)
	repo := testutil.NewTestRepository(t)
	search := mocks.NewMockOperator(operator.TypeGoogleSearch)

	opMetrics := &operator.Metrics{}
	reg := operator.NewRegistry(operator.WithRegistryLogger(logger), operator.WithMetrics(opMetrics))
	require.NoError(t, reg.Register(search))

	ctrl := controller.NewController(logger, repo, reg, controller.WithRobotsMode(false))
	srv := connector.NewServer(logger, ctrl, common.ServerConfig{
		APIKeys: map[string]string{testAPIKey: testUser},
	}, connector.WithOperatorMetrics(opMetrics))

	sheet := testutil.SeedSheet(t, repo, testUser,
		testutil.ColumnSpec{Title: "Query"},
		testutil.ColumnSpec{Title: "Answer", OperatorType: operator.TypeGoogleSearch},
	)
	return &testServer{handler: srv.Handler(), repo: repo, search: search, sheet: sheet}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	ts.handler.ServeHTTP(resp, req)
	return resp
}

func asUser() map[string]string {
	return map[string]string{"X-User-ID": testUser}
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", decode(t, resp)["status"])
}

func TestUpdateCellThenUpdateSheet(t *testing.T) {
	ts := newTestServer(t)
	ts.search.SetResponse(0, 1, "found it")

	resp := ts.do(t, http.MethodPost, "/trpc/cell.updateCell", map[string]interface{}{
		"sheetId":  ts.sheet.SheetID,
		"rowIndex": 0,
		"colIndex": 0,
		"content":  "where is it?",
	}, asUser())
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decode(t, resp)["data"].(map[string]interface{})
	assert.NotEmpty(t, data["eventId"])

	resp = ts.do(t, http.MethodPost, "/update-sheet?sheetId="+ts.sheet.SheetID, nil, asUser())
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var tick controller.TickResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &tick))
	assert.True(t, tick.Success)
	assert.Equal(t, 1, tick.TotalApplied)
	require.Len(t, tick.AppliedUpdates, 1)
	assert.Equal(t, "found it", tick.AppliedUpdates[0].Content)

	resp = ts.do(t, http.MethodGet, "/trpc/cell.getEvents?sheetId="+ts.sheet.SheetID+"&order=oldest", nil, asUser())
	require.Equal(t, http.StatusOK, resp.Code)
	events := decode(t, resp)["data"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, storage.EventStatusCompleted, events[0].(map[string]interface{})["status"])

	resp = ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	metrics := decode(t, resp)
	assert.EqualValues(t, 1, metrics["operator"].(map[string]interface{})["dispatches_total"])
	assert.EqualValues(t, 1, metrics["controller"].(map[string]interface{})["updatesApplied"])
}

func TestMetricsWithoutOperatorMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	ctrl := controller.NewController(logger, testutil.NewTestRepository(t), operator.NewRegistry())
	srv := connector.NewServer(logger, ctrl, common.ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	srv.Handler().ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	body := decode(t, resp)
	assert.Contains(t, body, "controller")
	assert.NotContains(t, body, "operator")
}

func TestUserHeaderRequired(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/update-sheet?sheetId="+ts.sheet.SheetID, nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, false, decode(t, resp)["success"])
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown sheet tick", http.MethodPost, "/update-sheet?sheetId=missing", nil, http.StatusNotFound},
		{"missing sheet id", http.MethodPost, "/update-sheet", nil, http.StatusBadRequest},
		{"column out of range", http.MethodPost, "/trpc/cell.updateCell",
			map[string]interface{}{"sheetId": ts.sheet.SheetID, "rowIndex": 0, "colIndex": 9, "content": "x"}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/trpc/cell.updateCell", "nope", http.StatusBadRequest},
		{"unknown event", http.MethodPost, "/trpc/cell.retryEvent", map[string]string{"eventId": "missing"}, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/trpc/cell.getEvents?sheetId=" + ts.sheet.SheetID + "&limit=-1", nil, http.StatusBadRequest},
		{"bad order", http.MethodGet, "/trpc/cell.getEvents?sheetId=" + ts.sheet.SheetID + "&order=random", nil, http.StatusBadRequest},
		{"reprocess first column", http.MethodPost, "/trpc/cell.reprocessColumn",
			map[string]interface{}{"sheetId": ts.sheet.SheetID, "colIndex": 0}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, tt.body, asUser())
			require.Equal(t, tt.want, resp.Code, resp.Body.String())
			body := decode(t, resp)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCreateRowsWithAPIKey(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/v1/sheets/" + ts.sheet.SheetID + "/rows"
	rows := map[string]interface{}{"rows": [][]string{{"a"}, {"b"}, {"c"}}}

	resp := ts.do(t, http.MethodPost, path, rows, map[string]string{"X-API-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.do(t, http.MethodPost, path, rows, map[string]string{"X-API-Key": testAPIKey})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	data := decode(t, resp)["data"].(map[string]interface{})
	assert.EqualValues(t, 3, data["rowCount"])
	assert.Len(t, data["eventIds"], 3)

	events, err := ts.repo.ListEvents(context.Background(), ts.sheet.SheetID, testUser, 10, false)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	resp = ts.do(t, http.MethodPost, path, map[string]interface{}{"rows": [][]string{{"", "orphan"}}},
		map[string]string{"X-API-Key": testAPIKey})
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	resp = ts.do(t, http.MethodPost, path, map[string]interface{}{"rows": [][]string{{"d"}}},
		map[string]string{"X-API-Key": testAPIKey})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.EqualValues(t, 3, decode(t, resp)["data"].(map[string]interface{})["firstRow"])
}

func TestClearCellsAndRetry(t *testing.T) {
	ts := newTestServer(t)
	ts.search.SetErrorMessage(0, 1, "upstream 503")

	resp := ts.do(t, http.MethodPost, "/trpc/cell.updateCell", map[string]interface{}{
		"sheetId": ts.sheet.SheetID, "rowIndex": 0, "colIndex": 0, "content": "q",
	}, asUser())
	require.Equal(t, http.StatusOK, resp.Code)
	eventID := decode(t, resp)["data"].(map[string]interface{})["eventId"].(string)

	resp = ts.do(t, http.MethodPost, "/process-events", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(t, http.MethodPost, "/trpc/cell.retryEvent", map[string]string{"eventId": eventID}, asUser())
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	retried := decode(t, resp)["data"].(map[string]interface{})
	assert.Equal(t, eventID, retried["retryOf"])
	assert.Equal(t, storage.EventStatusPending, retried["status"])

	resp = ts.do(t, http.MethodPost, "/trpc/cell.clearCells", map[string]interface{}{
		"sheetId": ts.sheet.SheetID, "rowIndex": 0, "fromColIndex": 0,
	}, asUser())
	require.Equal(t, http.StatusOK, resp.Code)
	cleared := decode(t, resp)["data"].(map[string]interface{})
	assert.EqualValues(t, 1, cleared["deletedCells"])
	assert.EqualValues(t, 1, cleared["cancelledEvents"])
}
