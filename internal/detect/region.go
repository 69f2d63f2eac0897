package detect

import (
	"image"
	"sort"
)

// Region is a detected label-bearing sub-area of a normalized image.
// Fallback marks the whole-image region returned when no candidate cleared
// the detection confidence threshold; callers should discount results
// extracted from fallback regions.
type Region struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// Bounds returns the region as an image.Rectangle.
func (r Region) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Area returns the region area in pixels.
func (r Region) Area() int { return r.W * r.H }

// WholeImage returns the fallback region covering the full image.
func WholeImage(width, height int) Region {
	return Region{X: 0, Y: 0, W: width, H: height, Confidence: 0, Fallback: true}
}

// sortByConfidence orders regions by confidence, descending. Ties keep the
// original (model output) order so results stay deterministic.
func sortByConfidence(regions []Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Confidence > regions[j].Confidence
	})
}

// iou computes intersection-over-union of two regions.
func iou(a, b Region) float64 {
	inter := a.Bounds().Intersect(b.Bounds())
	if inter.Empty() {
		return 0
	}
	interArea := inter.Dx() * inter.Dy()
	union := a.Area() + b.Area() - interArea
	if union <= 0 {
		return 0
	}
	return float64(interArea) / float64(union)
}
