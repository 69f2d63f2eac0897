package detect

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterbox_GeometryAndNormalization(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	lb := letterbox(img, 100)
	assert.InDelta(t, 0.5, lb.scale, 1e-9)
	assert.Equal(t, 0, lb.padX)
	assert.Equal(t, 25, lb.padY)
	assert.Len(t, lb.data, 3*100*100)

	// Padded rows stay black, content rows are normalized to 1.0.
	assert.InDelta(t, 0.0, float64(lb.data[0]), 1e-6)
	assert.InDelta(t, 1.0, float64(lb.data[50*100+10]), 1e-6)
}

func TestDecodeDetections_ThresholdAndMapping(t *testing.T) {
	lb := letterboxed{scale: 0.5, padX: 0, padY: 25}
	out := []float32{
		// Box in letterbox coords covering (10,35)-(60,85): maps to (20,20)-(120,120).
		10, 35, 60, 85, 0.9, 0,
		// Below threshold, dropped.
		0, 25, 50, 75, 0.1, 0,
	}

	regions := decodeDetections(out, lb, 200, 100, 0.25)
	require.Len(t, regions, 1)
	assert.Equal(t, Region{X: 20, Y: 20, W: 100, H: 80, Confidence: 0.9}, regions[0])
}

func TestDecodeDetections_ClampsToImage(t *testing.T) {
	lb := letterboxed{scale: 1.0, padX: 0, padY: 0}
	out := []float32{-10, -10, 500, 500, 0.8, 0}

	regions := decodeDetections(out, lb, 100, 100, 0.25)
	require.Len(t, regions, 1)
	assert.Equal(t, Region{X: 0, Y: 0, W: 100, H: 100, Confidence: 0.8}, regions[0])
}

func TestSuppressOverlaps_KeepsHighestConfidence(t *testing.T) {
	regions := []Region{
		{X: 0, Y: 0, W: 100, H: 100, Confidence: 0.6},
		{X: 5, Y: 5, W: 100, H: 100, Confidence: 0.9},
		{X: 300, Y: 300, W: 50, H: 50, Confidence: 0.7},
	}

	kept := suppressOverlaps(regions, 0.45)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-9)
	assert.InDelta(t, 0.7, kept[1].Confidence, 1e-9)
}

func TestSuppressOverlaps_DisjointRegionsUntouched(t *testing.T) {
	regions := []Region{
		{X: 0, Y: 0, W: 10, H: 10, Confidence: 0.5},
		{X: 100, Y: 100, W: 10, H: 10, Confidence: 0.4},
	}
	kept := suppressOverlaps(regions, 0.45)
	assert.Len(t, kept, 2)
}

func TestWholeImage_IsFlaggedFallback(t *testing.T) {
	r := WholeImage(640, 480)
	assert.True(t, r.Fallback)
	assert.Zero(t, r.Confidence)
	assert.Equal(t, image.Rect(0, 0, 640, 480), r.Bounds())
}

func TestIoU(t *testing.T) {
	a := Region{X: 0, Y: 0, W: 10, H: 10}
	b := Region{X: 5, Y: 0, W: 10, H: 10}
	assert.InDelta(t, 50.0/150.0, iou(a, b), 1e-9)
	assert.InDelta(t, 1.0, iou(a, a), 1e-9)
	assert.Zero(t, iou(a, Region{X: 50, Y: 50, W: 10, H: 10}))
}

func TestNewModelDetector_MissingModel(t *testing.T) {
	_, err := NewModelDetector(Config{ModelPath: "nonexistent/box.onnx", InputSize: 640})
	require.Error(t, err)
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestNewModelDetector_EmptyModelPath(t *testing.T) {
	_, err := NewModelDetector(Config{InputSize: 640})
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestSortByConfidence_StableForTies(t *testing.T) {
	regions := []Region{
		{X: 1, Confidence: 0.5},
		{X: 2, Confidence: 0.5},
		{X: 3, Confidence: 0.8},
	}
	sortByConfidence(regions)
	assert.Equal(t, 3, regions[0].X)
	assert.Equal(t, 1, regions[1].X)
	assert.Equal(t, 2, regions[2].X)
}
