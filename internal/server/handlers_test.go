package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mediscan-tech/mediscan/internal/detect"
	"github.com/mediscan-tech/mediscan/internal/pipeline"
	"github.com/mediscan-tech/mediscan/internal/preprocess"
	"github.com/mediscan-tech/mediscan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	record *pipeline.MedicineRecord
	stages []pipeline.Stage
	err    error
	closed bool
}

func (f *fakeScanner) ProcessPair(ctx context.Context, front, back []byte) (*pipeline.MedicineRecord, error) {
	return f.ProcessPairWithProgress(ctx, front, back, nil)
}

func (f *fakeScanner) ProcessPairWithProgress(_ context.Context, front, _ []byte, progress pipeline.ProgressFunc) (*pipeline.MedicineRecord, error) {
	if len(front) == 0 {
		return nil, &pipeline.StageError{Stage: pipeline.StageNormalized, Err: fmt.Errorf("front image is required")}
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, stage := range f.stages {
		if progress != nil {
			progress(pipeline.Progress{Side: pipeline.SideFront, Stage: stage})
		}
	}
	return f.record, nil
}

func (f *fakeScanner) Close() error {
	f.closed = true
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*pipeline.MedicineRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*pipeline.MedicineRecord)}
}

func (f *fakeStore) SaveRecord(_ context.Context, rec *pipeline.MedicineRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ImageID] = rec
	return nil
}

func (f *fakeStore) GetRecord(_ context.Context, imageID string) (*pipeline.MedicineRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[imageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) ListRecords(_ context.Context, limit int) ([]*pipeline.MedicineRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*pipeline.MedicineRecord, 0, len(f.records))
	for _, rec := range f.records {
		if len(out) == limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func testRecord() *pipeline.MedicineRecord {
	return &pipeline.MedicineRecord{
		ImageID:          "img-1",
		DetectedLanguage: "en",
		MedicineName:     "Tylenol",
		Ingredients:      []string{"Acetaminophen 500mg"},
		Quantity:         "20 tablets",
		Source:           pipeline.SourceMerged,
		Confidence:       0.85,
	}
}

func newTestServer(sc scanner, st recordStore) *Server {
	return NewServerWith(sc, st, Config{CORSOrigin: "*", MaxUploadMB: 5, TimeoutSec: 10})
}

func multipartBody(t *testing.T, fields map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, data := range fields {
		part, err := writer.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(&fakeScanner{record: testRecord()}, newFakeStore())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestScanHandler_Success(t *testing.T) {
	st := newFakeStore()
	srv := newTestServer(&fakeScanner{record: testRecord()}, st)

	body, contentType := multipartBody(t, map[string][]byte{"front": []byte("img-bytes")})
	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Record)
	assert.Equal(t, "Tylenol", resp.Record.MedicineName)

	// Record was persisted.
	_, err := st.GetRecord(context.Background(), "img-1")
	assert.NoError(t, err)
}

func TestScanHandler_MissingFront(t *testing.T) {
	srv := newTestServer(&fakeScanner{record: testRecord()}, newFakeStore())

	body, contentType := multipartBody(t, map[string][]byte{"back": []byte("img-bytes")})
	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		stage  string
	}{
		{
			name: "invalid image",
			err: &pipeline.StageError{
				Stage: pipeline.StageNormalized,
				Err:   &preprocess.InvalidImageError{Err: fmt.Errorf("bad bytes")},
			},
			status: http.StatusBadRequest,
			stage:  "normalized",
		},
		{
			name: "detector unavailable",
			err: &pipeline.StageError{
				Stage: pipeline.StageDetected,
				Err:   &detect.UnavailableError{Err: fmt.Errorf("model missing")},
			},
			status: http.StatusServiceUnavailable,
			stage:  "detected",
		},
		{
			name: "recognition failed",
			err: &pipeline.StageError{
				Stage: pipeline.StageRecognized,
				Err:   fmt.Errorf("no region produced a recognition result"),
			},
			status: http.StatusUnprocessableEntity,
			stage:  "recognized",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeScanner{err: tc.err}, newFakeStore())

			body, contentType := multipartBody(t, map[string][]byte{"front": []byte("img")})
			req := httptest.NewRequest(http.MethodPost, "/scan", body)
			req.Header.Set("Content-Type", contentType)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			var resp ScanResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tc.stage, resp.Stage)
		})
	}
}

func TestGetRecordHandler(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.SaveRecord(context.Background(), testRecord()))
	srv := newTestServer(&fakeScanner{}, st)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records/img-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "img-1", resp.Record.ImageID)
}

func TestGetRecordHandler_NotFound(t *testing.T) {
	srv := newTestServer(&fakeScanner{}, newFakeStore())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRecordsHandler(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.SaveRecord(context.Background(), testRecord()))
	srv := newTestServer(&fakeScanner{}, st)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RecordsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&fakeScanner{}, newFakeStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/records", nil)
	srv.corsMiddleware(srv.listRecordsHandler)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerClose(t *testing.T) {
	sc := &fakeScanner{}
	srv := newTestServer(sc, newFakeStore())

	require.NoError(t, srv.Close())
	assert.True(t, sc.closed)
}
