package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mediscan-tech/mediscan/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Browsers enforce CORS on the HTTP endpoints; the socket carries
		// no credentials, so any origin may connect.
		return true
	},
}

// WebSocketScanRequest is one scan submitted over the socket. Images are
// base64-encoded by the JSON codec.
type WebSocketScanRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Front     []byte `json:"front"`
	Back      []byte `json:"back,omitempty"`
}

// WebSocketScanResponse reports scan progress and the final record. While a
// scan is processing, one frame is sent per completed stage per side.
type WebSocketScanResponse struct {
	Status    string                   `json:"status"` // "processing", "completed", "error"
	Stage     string                   `json:"stage,omitempty"`
	Side      string                   `json:"side,omitempty"`
	Record    *pipeline.MedicineRecord `json:"record,omitempty"`
	Error     string                   `json:"error,omitempty"`
	RequestID string                   `json:"request_id,omitempty"`
}

// scanWebSocketHandler accepts scan requests over a WebSocket and streams
// progress back. Each connection handles requests sequentially.
func (s *Server) scanWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		var req WebSocketScanRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		s.processWebSocketScan(ctx, conn, &req)
	}
}

func (s *Server) processWebSocketScan(ctx context.Context, conn *websocket.Conn, req *WebSocketScanRequest) {
	// Front and back progress callbacks arrive concurrently; the connection
	// allows only one writer at a time.
	var writeMu sync.Mutex
	send := func(resp WebSocketScanResponse) {
		resp.RequestID = req.RequestID
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(resp); err != nil {
			slog.Warn("WebSocket write failed", "error", err)
		}
	}

	send(WebSocketScanResponse{Status: "processing", Stage: string(pipeline.StageReceived)})

	sctx, cancel := context.WithTimeout(ctx, s.RequestTimeout())
	defer cancel()

	record, err := s.scanner.ProcessPairWithProgress(sctx, req.Front, req.Back, func(p pipeline.Progress) {
		send(WebSocketScanResponse{Status: "processing", Stage: string(p.Stage), Side: string(p.Side)})
	})
	if err != nil {
		scanRequestsTotal.WithLabelValues("error").Inc()
		stage := ""
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			stage = string(stageErr.Stage)
		}
		send(WebSocketScanResponse{Status: "error", Stage: stage, Error: err.Error()})
		return
	}
	scanRequestsTotal.WithLabelValues("success").Inc()
	recordConfidence.Observe(record.Confidence)

	if s.store != nil {
		if err := s.store.SaveRecord(sctx, record); err != nil {
			slog.Error("Failed to persist record", "image_id", record.ImageID, "error", err)
		}
	}
	send(WebSocketScanResponse{Status: "completed", Stage: string(pipeline.StageComplete), Record: record})
}
