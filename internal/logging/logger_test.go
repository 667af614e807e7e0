package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMiddlewareEmitsOneRecordWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf)
	env := Environment{Service: "manifest-wall-node", Version: "v1", Commit: "abc", Region: "ledger", NodeKeyID: "ed25519:0011"}

	handler := Middleware(logger, env)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddField(r.Context(), "tx_signature", "sig")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("{}"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var record struct {
		Msg   string         `json:"msg"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record))
	require.Equal(t, "http_request", record.Msg)
	require.Equal(t, "manifest-wall-node", record.Event["service"])
	require.Equal(t, "ed25519:0011", record.Event["node_kid"])
	require.Equal(t, "sig", record.Event["tx_signature"])
	require.Equal(t, float64(http.StatusUnprocessableEntity), record.Event["status_code"])
	require.Equal(t, "success", record.Event["outcome"])
	require.Equal(t, float64(2), record.Event["response_size"])
	require.Equal(t, rec.Header().Get("X-Request-ID"), record.Event["request_id"])
}

func TestMiddlewareKeepsCallerRequestID(t *testing.T) {
	var buf bytes.Buffer
	handler := Middleware(NewJSONLoggerTo(&buf), Environment{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	require.Contains(t, buf.String(), `"request_id":"req-123"`)
}

func TestAddFieldWithoutMiddlewareIsNoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	AddField(req.Context(), "k", "v")
}
