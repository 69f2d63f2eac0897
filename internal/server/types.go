// Package server exposes the recognition pipeline over HTTP: multipart
// scan uploads, stored record lookup, health and metrics endpoints, and a
// WebSocket channel with per-stage progress.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/mediscan-tech/mediscan/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// scanner is the part of the pipeline the server needs.
type scanner interface {
	ProcessPair(ctx context.Context, front, back []byte) (*pipeline.MedicineRecord, error)
	ProcessPairWithProgress(ctx context.Context, front, back []byte, progress pipeline.ProgressFunc) (*pipeline.MedicineRecord, error)
	Close() error
}

// recordStore is the persistence surface the server needs.
type recordStore interface {
	SaveRecord(ctx context.Context, rec *pipeline.MedicineRecord) error
	GetRecord(ctx context.Context, imageID string) (*pipeline.MedicineRecord, error)
	ListRecords(ctx context.Context, limit int) ([]*pipeline.MedicineRecord, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	scanner     scanner
	store       recordStore
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	PipelineConfig pipeline.Config
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ScanResponse is the /scan payload.
type ScanResponse struct {
	Success bool                     `json:"success"`
	Record  *pipeline.MedicineRecord `json:"record,omitempty"`
	Error   string                   `json:"error,omitempty"`
	Stage   string                   `json:"stage,omitempty"`
}

// RecordsResponse is the /records list payload.
type RecordsResponse struct {
	Records []*pipeline.MedicineRecord `json:"records"`
	Count   int                        `json:"count"`
}

// NewServer builds the pipeline from config and wires it to a server.
func NewServer(config Config, store recordStore) (*Server, error) {
	pl, err := pipeline.NewBuilder().WithConfig(config.PipelineConfig).Build()
	if err != nil {
		return nil, err
	}
	return NewServerWith(pl, store, config), nil
}

// NewServerWith wires an existing pipeline and store to a server.
func NewServerWith(sc scanner, store recordStore, config Config) *Server {
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 20
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 120
	}
	return &Server{
		scanner:     sc,
		store:       store,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
	}
}

// SetupRoutes registers all endpoints on the mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("POST /scan", s.corsMiddleware(s.scanHandler))
	mux.HandleFunc("GET /records", s.corsMiddleware(s.listRecordsHandler))
	mux.HandleFunc("GET /records/{id}", s.corsMiddleware(s.getRecordHandler))
	mux.HandleFunc("/ws/scan", s.scanWebSocketHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the fully-routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// RequestTimeout returns the per-request processing budget.
func (s *Server) RequestTimeout() time.Duration {
	return time.Duration(s.timeoutSec) * time.Second
}

// Close releases the pipeline.
func (s *Server) Close() error {
	return s.scanner.Close()
}
