package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/mediscan-tech/mediscan/internal/detect"
	"github.com/mediscan-tech/mediscan/internal/pipeline"
	"github.com/mediscan-tech/mediscan/internal/preprocess"
	"github.com/mediscan-tech/mediscan/internal/store"
	"github.com/mediscan-tech/mediscan/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// scanHandler processes a multipart upload with a required "front" image
// and an optional "back" image, runs the pipeline, persists the record,
// and returns it.
func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)

	if err := r.ParseMultipartForm(s.maxUploadMB * 1024 * 1024); err != nil {
		s.writeScanError(w, "Failed to parse form data", "", http.StatusBadRequest)
		return
	}

	front, err := readFormImage(r, "front")
	if err != nil {
		s.writeScanError(w, "No front image provided", "", http.StatusBadRequest)
		return
	}
	back, err := readFormImage(r, "back")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		s.writeScanError(w, "Failed to read back image", "", http.StatusBadRequest)
		return
	}
	uploadSizeBytes.Observe(float64(len(front) + len(back)))

	ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout())
	defer cancel()

	start := time.Now()
	record, err := s.scanner.ProcessPair(ctx, front, back)
	if err != nil {
		s.handleScanError(w, err)
		return
	}
	scanRequestsTotal.WithLabelValues("success").Inc()
	scanDuration.Observe(time.Since(start).Seconds())
	recordConfidence.Observe(record.Confidence)

	if s.store != nil {
		if err := s.store.SaveRecord(ctx, record); err != nil {
			slog.Error("Failed to persist record", "image_id", record.ImageID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, ScanResponse{Success: true, Record: record})
}

// getRecordHandler returns one stored record by image ID.
func (s *Server) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Record store not configured", http.StatusServiceUnavailable)
		return
	}
	record, err := s.store.GetRecord(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to load record", "error", err)
		http.Error(w, "Failed to load record", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ScanResponse{Success: true, Record: record})
}

// listRecordsHandler returns the most recent stored records.
func (s *Server) listRecordsHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Record store not configured", http.StatusServiceUnavailable)
		return
	}
	records, err := s.store.ListRecords(r.Context(), 50)
	if err != nil {
		slog.Error("Failed to list records", "error", err)
		http.Error(w, "Failed to list records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*pipeline.MedicineRecord{}
	}
	writeJSON(w, http.StatusOK, RecordsResponse{Records: records, Count: len(records)})
}

// handleScanError maps pipeline failures to HTTP statuses: invalid input
// is the client's fault, a missing detection model is a service problem,
// and everything else failed mid-pipeline.
func (s *Server) handleScanError(w http.ResponseWriter, err error) {
	scanRequestsTotal.WithLabelValues("error").Inc()

	stage := ""
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		stage = string(stageErr.Stage)
	}

	var invalid *preprocess.InvalidImageError
	var unavailable *detect.UnavailableError
	switch {
	case errors.As(err, &invalid):
		s.writeScanError(w, invalid.Error(), stage, http.StatusBadRequest)
	case errors.As(err, &unavailable):
		s.writeScanError(w, "Region detection unavailable", stage, http.StatusServiceUnavailable)
	default:
		s.writeScanError(w, err.Error(), stage, http.StatusUnprocessableEntity)
	}
}

func (s *Server) writeScanError(w http.ResponseWriter, msg, stage string, status int) {
	writeJSON(w, status, ScanResponse{Success: false, Error: msg, Stage: stage})
}

func readFormImage(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer func(f multipart.File) { _ = f.Close() }(file)
	return io.ReadAll(file)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
