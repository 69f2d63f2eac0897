package detect

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// letterboxed holds the model input tensor data together with the geometry
// needed to map detections back to the original image.
type letterboxed struct {
	data  []float32
	scale float64
	padX  int
	padY  int
}

// letterbox resizes the image to fit a size×size square, preserving aspect
// ratio and centering on a black background, and converts the result to a
// normalized NCHW float32 tensor.
func letterbox(img image.Image, size int) letterboxed {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	resized := imaging.Resize(img, nw, nh, imaging.Linear)

	padX := (size - nw) / 2
	padY := (size - nh) / 2

	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			idx := (y+padY)*size + (x + padX)
			off := y*resized.Stride + x*4
			data[idx] = float32(resized.Pix[off]) / 255.0
			data[plane+idx] = float32(resized.Pix[off+1]) / 255.0
			data[2*plane+idx] = float32(resized.Pix[off+2]) / 255.0
		}
	}

	return letterboxed{data: data, scale: scale, padX: padX, padY: padY}
}

// decodeDetections parses flat [N,6] model output rows
// (x1, y1, x2, y2, score, class) in letterbox coordinates into regions in
// original-image coordinates, dropping rows below the confidence threshold.
func decodeDetections(out []float32, lb letterboxed, origW, origH int, confThresh float64) []Region {
	const stride = 6
	regions := make([]Region, 0, len(out)/stride)
	for i := 0; i+stride <= len(out); i += stride {
		score := float64(out[i+4])
		if score < confThresh {
			continue
		}
		x1 := unpad(float64(out[i]), lb.padX, lb.scale, origW)
		y1 := unpad(float64(out[i+1]), lb.padY, lb.scale, origH)
		x2 := unpad(float64(out[i+2]), lb.padX, lb.scale, origW)
		y2 := unpad(float64(out[i+3]), lb.padY, lb.scale, origH)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		regions = append(regions, Region{
			X:          x1,
			Y:          y1,
			W:          x2 - x1,
			H:          y2 - y1,
			Confidence: score,
		})
	}
	return regions
}

func unpad(v float64, pad int, scale float64, limit int) int {
	mapped := int(math.Round((v - float64(pad)) / scale))
	if mapped < 0 {
		return 0
	}
	if mapped > limit {
		return limit
	}
	return mapped
}

// suppressOverlaps performs greedy IoU non-maximum suppression.
func suppressOverlaps(regions []Region, iouThresh float64) []Region {
	if len(regions) <= 1 {
		return regions
	}
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Confidence > regions[j].Confidence
	})
	kept := make([]Region, 0, len(regions))
	suppressed := make([]bool, len(regions))
	for i := range regions {
		if suppressed[i] {
			continue
		}
		kept = append(kept, regions[i])
		for j := i + 1; j < len(regions); j++ {
			if !suppressed[j] && iou(regions[i], regions[j]) > iouThresh {
				suppressed[j] = true
			}
		}
	}
	return kept
}
