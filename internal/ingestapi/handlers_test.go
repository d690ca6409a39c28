package ingestapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/sqrtqiezi/diting/internal/rawlog"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	var dir = t.TempDir()
	writer, err := rawlog.NewWriter(dir, 5*time.Second)
	require.NoError(t, err)
	var logger = log.New()
	logger.SetOutput(io.Discard)
	return NewServer(writer, logger, 2, 16, time.Hour), dir
}

func TestServeWebhookReturnsOKWithinBudget(t *testing.T) {
	server, _ := newTestServer(t)

	var req = httptest.NewRequest(http.MethodPost, "/webhook/wechat",
		strings.NewReader(`{"msg_id":"m1","from_username":"u1","to_username":"filehelper","msg_type":1,"create_time":1737590400,"content":"hello","is_chatroom_msg":0}`))
	req.Header.Set("Content-Type", "application/json")
	var rec = httptest.NewRecorder()

	var start = time.Now()
	server.ServeWebhook(rec, req)
	require.Less(t, time.Since(start), time.Second)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, body["request_id"])
}

func TestServeHealthHealthyByDefault(t *testing.T) {
	server, _ := newTestServer(t)

	var rec = httptest.NewRecorder()
	server.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.True(t, resp.LogWritable)
}

func TestServeHealthReportsUnhealthyWhenProbeFails(t *testing.T) {
	server, _ := newTestServer(t)
	server.lastProbeOK.Store(false)
	server.lastProbeErr.Store("disk full")

	var rec = httptest.NewRecorder()
	server.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "unhealthy", resp.Status)
	require.False(t, resp.LogWritable)
	require.Equal(t, "disk full", resp.Error)
}
