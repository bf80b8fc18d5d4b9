// Package params holds the numeric heuristics that turn micrograph metadata
// and CLI inputs into picking and training parameters. All functions are pure.
package params

import "math"

// resnetWindow is the receptive window (px) of the topaz resnet8 model; the
// downscale factor is chosen so a particle roughly fills it.
const resnetWindow = 71

// nyquistLimit is the effective pixel size (A/px) below which a downscaled
// box still resolves better than 8.5 A at Nyquist.
const nyquistLimit = 4.25

// boxSizeCandidates are the box sizes RELION extracts efficiently, scanned in
// ascending order when choosing a downsampled box.
var boxSizeCandidates = []int{
	48, 64, 96, 128, 160, 192, 256, 288, 300, 320,
	360, 384, 400, 420, 450, 480, 512, 640, 768,
	896, 1024,
}

// DownscaleFactor returns the micrograph downscaling factor for a particle of
// the given diameter (A) at the given pixel size (A/px), never below 4.
func DownscaleFactor(diameter int, pixelSize float64) int {
	scale := int(2 * float64(diameter) / pixelSize / resnetWindow)
	if scale < 4 {
		scale = 4
	}
	return scale
}

// ExtractionRadius returns the particle radius (px) in the downscaled
// micrograph.
func ExtractionRadius(diameter int, pixelSize float64, scale int) int {
	return int(float64(diameter) / (2 * pixelSize * float64(scale)))
}

// SuggestedBoxSize returns the full extraction box (px) for a particle of the
// given diameter (A): the diameter plus 10% margin, forced even.
func SuggestedBoxSize(diameter int, pixelSize float64) int {
	return int(math.Ceil(float64(diameter)*1.1/pixelSize/2)) * 2
}

// SuggestedBinnedBoxSize scans the fixed candidate list for the smallest
// downsampled box that keeps the effective pixel size under the Nyquist
// limit. A candidate larger than the original box is never chosen; in that
// case the original box is returned unchanged.
func SuggestedBinnedBoxSize(boxSize int, pixelSize float64) int {
	for _, box := range boxSizeCandidates {
		if box > boxSize {
			return boxSize
		}
		if pixelSize*float64(boxSize)/float64(box) < nyquistLimit {
			return box
		}
	}
	return boxSize
}

// UnbinnedBoxSize converts a binned box size back to the unbinned pixel grid
// using the legacy fixed-point convention: the pixel-size ratio is truncated
// before multiplying.
func UnbinnedBoxSize(imagePixelSize, originalPixelSize float64, binnedBox int) int {
	return int(imagePixelSize/originalPixelSize) * binnedBox
}
