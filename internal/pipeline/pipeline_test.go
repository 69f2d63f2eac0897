package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/mediscan-tech/mediscan/internal/detect"
	"github.com/mediscan-tech/mediscan/internal/extract"
	"github.com/mediscan-tech/mediscan/internal/langid"
	"github.com/mediscan-tech/mediscan/internal/ocr"
	"github.com/mediscan-tech/mediscan/internal/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	regions []detect.Region
	err     error
	closed  bool
}

func (f *fakeDetector) Detect(_ context.Context, c *preprocess.Canonical) ([]detect.Region, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.regions) == 0 {
		return []detect.Region{detect.WholeImage(c.Width, c.Height)}, nil
	}
	return f.regions, nil
}

func (f *fakeDetector) Close() error {
	f.closed = true
	return nil
}

type fakeEngine struct {
	id    string
	lines []ocr.Line
	err   error

	mu    sync.Mutex
	calls int
}

func (f *fakeEngine) ID() string { return f.id }

func (f *fakeEngine) Recognize(_ context.Context, _ image.Image) (*ocr.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Result{EngineID: f.id, Lines: f.lines}, nil
}

func (f *fakeEngine) Close() error { return nil }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, det detect.Detector, prov ocr.Engine,
	def ocr.Engine, engines map[langid.Code]ocr.Engine,
) *Pipeline {
	t.Helper()
	registry, err := ocr.NewRegistry(def, engines)
	require.NoError(t, err)

	p, err := NewBuilder().
		WithDetector(det).
		WithProvisionalEngine(prov).
		WithRegistry(registry).
		Build()
	require.NoError(t, err)
	return p
}

func TestProcessImage_FullFlow(t *testing.T) {
	en := &fakeEngine{id: "eng", lines: []ocr.Line{
		{Text: "Tylenol", Confidence: 0.95},
		{Text: "Acetaminophen 500mg 20 tablets", Confidence: 0.9},
	}}
	det := &fakeDetector{regions: []detect.Region{
		{X: 0, Y: 0, W: 64, H: 32, Confidence: 0.9},
		{X: 0, Y: 32, W: 64, H: 32, Confidence: 0.6},
	}}
	prov := &fakeEngine{id: "prov", lines: []ocr.Line{{Text: "Pain reliever tablets", Confidence: 0.7}}}
	p := newTestPipeline(t, det, prov, &fakeEngine{id: "default"},
		map[langid.Code]ocr.Engine{langid.English: en})

	res, err := p.ProcessImage(context.Background(), pngBytes(t, 64, 64), SideFront)
	require.NoError(t, err)

	assert.Equal(t, SideFront, res.Side)
	assert.Equal(t, langid.English, res.Language.Code)
	assert.Equal(t, 2, res.Regions)
	assert.Equal(t, 2, en.calls)
	assert.Equal(t, 1, prov.calls)
	assert.Equal(t, "Tylenol", res.Fields.MedicineName.Value)
	assert.Equal(t, []string{"Acetaminophen 500mg"}, res.Fields.Ingredients.Values)
	assert.Equal(t, "20 tablets", res.Fields.Quantity.Value)
	assert.Greater(t, res.Confidence, 0.0)
}

func TestProcessImage_InvalidImage(t *testing.T) {
	p := newTestPipeline(t, &fakeDetector{}, &fakeEngine{id: "prov"},
		&fakeEngine{id: "default"}, nil)

	_, err := p.ProcessImage(context.Background(), []byte("not an image"), SideFront)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageNormalized, stageErr.Stage)
	var invalid *preprocess.InvalidImageError
	assert.ErrorAs(t, err, &invalid)
}

func TestProcessImage_DetectorUnavailable(t *testing.T) {
	det := &fakeDetector{err: &detect.UnavailableError{Err: fmt.Errorf("session gone")}}
	p := newTestPipeline(t, det, &fakeEngine{id: "prov"}, &fakeEngine{id: "default"}, nil)

	_, err := p.ProcessImage(context.Background(), pngBytes(t, 64, 64), SideFront)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDetected, stageErr.Stage)
	var unavailable *detect.UnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestProcessImage_ProvisionalFailureUsesDefault(t *testing.T) {
	en := &fakeEngine{id: "eng", lines: []ocr.Line{{Text: "hello", Confidence: 0.9}}}
	def := &fakeEngine{id: "default", lines: []ocr.Line{{Text: "hello", Confidence: 0.9}}}
	prov := &fakeEngine{id: "prov", err: fmt.Errorf("tesseract crashed")}
	p := newTestPipeline(t, &fakeDetector{}, prov, def,
		map[langid.Code]ocr.Engine{langid.English: en})

	res, err := p.ProcessImage(context.Background(), pngBytes(t, 64, 64), SideFront)
	require.NoError(t, err)

	assert.Equal(t, langid.Unknown, res.Language.Code)
	assert.Zero(t, en.calls)
	assert.Positive(t, def.calls)
}

func TestProcessImage_RegionRetriesWithDefault(t *testing.T) {
	en := &fakeEngine{id: "eng", err: fmt.Errorf("bad region")}
	def := &fakeEngine{id: "default", lines: []ocr.Line{{Text: "Aspirin 100mg", Confidence: 0.8}}}
	prov := &fakeEngine{id: "prov", lines: []ocr.Line{{Text: "Pain relief", Confidence: 0.7}}}
	p := newTestPipeline(t, &fakeDetector{}, prov, def,
		map[langid.Code]ocr.Engine{langid.English: en})

	res, err := p.ProcessImage(context.Background(), pngBytes(t, 64, 64), SideFront)
	require.NoError(t, err)

	assert.Equal(t, 1, en.calls)
	assert.Equal(t, 1, def.calls)
	assert.Equal(t, []string{"Aspirin 100mg"}, res.Fields.Ingredients.Values)
}

func TestProcessImage_AllRegionsFail(t *testing.T) {
	cause := fmt.Errorf("no text")
	def := &fakeEngine{id: "default", err: cause}
	prov := &fakeEngine{id: "prov", lines: []ocr.Line{{Text: "something", Confidence: 0.5}}}
	p := newTestPipeline(t, &fakeDetector{}, prov, def, nil)

	_, err := p.ProcessImage(context.Background(), pngBytes(t, 64, 64), SideFront)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageRecognized, stageErr.Stage)

	var failed *ocr.FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "default", failed.EngineID)
	assert.Equal(t, 64, failed.Region.W)
	assert.ErrorIs(t, err, cause)
}

func TestProcessImage_RegionFailureCarriesEngineError(t *testing.T) {
	en := &fakeEngine{id: "eng", err: fmt.Errorf("first pass failed")}
	def := &fakeEngine{id: "default", err: fmt.Errorf("retry failed")}
	prov := &fakeEngine{id: "prov", lines: []ocr.Line{{Text: "hello", Confidence: 0.9}}}
	p := newTestPipeline(t, &fakeDetector{}, prov, def,
		map[langid.Code]ocr.Engine{langid.English: en})

	_, err := p.ProcessImage(context.Background(), pngBytes(t, 64, 64), SideFront)

	// The default engine ran last, so the failure is attributed to it.
	var failed *ocr.FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "default", failed.EngineID)
}

func TestProcessImage_EmptyOCRStillExtracts(t *testing.T) {
	def := &fakeEngine{id: "default"} // no lines at all
	prov := &fakeEngine{id: "prov"}
	p := newTestPipeline(t, &fakeDetector{}, prov, def, nil)

	res, err := p.ProcessImage(context.Background(), pngBytes(t, 64, 64), SideFront)
	require.NoError(t, err)

	assert.Empty(t, res.Fields.MedicineName.Value)
	assert.Zero(t, res.Confidence)
}

func TestProcessImage_RepeatedRunsAgree(t *testing.T) {
	def := &fakeEngine{id: "default", lines: []ocr.Line{
		{Text: "Tylenol", Confidence: 0.95},
		{Text: "Acetaminophen 500mg", Confidence: 0.9},
		{Text: "20錠", Confidence: 0.85},
	}}
	prov := &fakeEngine{id: "prov", lines: []ocr.Line{{Text: "acetaminophen tablets", Confidence: 0.8}}}
	p := newTestPipeline(t, &fakeDetector{}, prov, def, nil)

	img := pngBytes(t, 64, 64)
	first, err := p.ProcessImage(context.Background(), img, SideFront)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		next, err := p.ProcessImage(context.Background(), img, SideFront)
		require.NoError(t, err)
		assert.Equal(t, first.Fields, next.Fields)
		assert.Equal(t, first.Language, next.Language)
		assert.Equal(t, first.Confidence, next.Confidence)
		assert.Equal(t, first.Regions, next.Regions)
	}
}

func TestBuild_InvalidVocabulary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Extract.Vocabulary = extract.Vocabulary{}

	_, err := NewBuilder().WithConfig(cfg).Build()
	require.Error(t, err)
}

func TestClose_ClosesComponents(t *testing.T) {
	det := &fakeDetector{}
	p := newTestPipeline(t, det, &fakeEngine{id: "prov"}, &fakeEngine{id: "default"}, nil)

	require.NoError(t, p.Close())
	assert.True(t, det.closed)
}

func TestWithBudget_Expires(t *testing.T) {
	_, err := withBudget(context.Background(), 10*time.Millisecond, func() (int, error) {
		time.Sleep(500 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithBudget_ReturnsResult(t *testing.T) {
	v, err := withBudget(context.Background(), time.Second, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestProcessPairWithProgress_ReportsStages(t *testing.T) {
	def := &fakeEngine{id: "default", lines: []ocr.Line{{Text: "Aspirin 100mg", Confidence: 0.9}}}
	p := newTestPipeline(t, &fakeDetector{}, &fakeEngine{id: "prov"}, def, nil)

	var (
		mu     sync.Mutex
		events []Progress
	)
	_, err := p.ProcessPairWithProgress(context.Background(),
		pngBytes(t, 64, 64), pngBytes(t, 64, 64), func(ev Progress) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		})
	require.NoError(t, err)

	want := []Stage{StageNormalized, StageDetected, StageLanguageIdentified, StageRecognized, StageExtracted}
	perSide := map[Side][]Stage{}
	for _, ev := range events {
		perSide[ev.Side] = append(perSide[ev.Side], ev.Stage)
	}
	assert.Equal(t, want, perSide[SideFront])
	assert.Equal(t, want, perSide[SideBack])
}

func TestProcessImage_CancelledContext(t *testing.T) {
	p := newTestPipeline(t, &fakeDetector{}, &fakeEngine{id: "prov"},
		&fakeEngine{id: "default"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ProcessImage(ctx, pngBytes(t, 64, 64), SideFront)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
