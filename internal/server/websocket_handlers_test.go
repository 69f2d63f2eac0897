package server

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/mediscan-tech/mediscan/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialScanSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scan"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestScanWebSocket_Completed(t *testing.T) {
	st := newFakeStore()
	sc := &fakeScanner{record: testRecord(), stages: []pipeline.Stage{
		pipeline.StageNormalized,
		pipeline.StageDetected,
		pipeline.StageLanguageIdentified,
		pipeline.StageRecognized,
		pipeline.StageExtracted,
	}}
	conn := dialScanSocket(t, newTestServer(sc, st))

	require.NoError(t, conn.WriteJSON(WebSocketScanRequest{
		RequestID: "req-1",
		Front:     []byte("img-bytes"),
	}))

	var stages []string
	var final WebSocketScanResponse
	for {
		var resp WebSocketScanResponse
		require.NoError(t, conn.ReadJSON(&resp))
		assert.Equal(t, "req-1", resp.RequestID)
		if resp.Status != "processing" {
			final = resp
			break
		}
		stages = append(stages, resp.Stage)
	}

	assert.Equal(t, []string{
		"received", "normalized", "detected", "language_identified", "recognized", "extracted",
	}, stages)
	assert.Equal(t, "completed", final.Status)
	assert.Equal(t, "complete", final.Stage)
	require.NotNil(t, final.Record)
	assert.Equal(t, "Tylenol", final.Record.MedicineName)
}

func TestScanWebSocket_Error(t *testing.T) {
	failing := &fakeScanner{err: &pipeline.StageError{
		Stage: pipeline.StageRecognized,
		Err:   fmt.Errorf("no region produced a recognition result"),
	}}
	conn := dialScanSocket(t, newTestServer(failing, newFakeStore()))

	require.NoError(t, conn.WriteJSON(WebSocketScanRequest{Front: []byte("img")}))

	var first WebSocketScanResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "processing", first.Status)

	var second WebSocketScanResponse
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "error", second.Status)
	assert.Equal(t, "recognized", second.Stage)
	assert.NotEmpty(t, second.Error)
}
