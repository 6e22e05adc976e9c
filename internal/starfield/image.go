// Package starfield implements the single-exposure data model (Image, Star)
// and the star-finder used to select and re-measure the guide star each
// frame.
package starfield

import (
	"fmt"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// Rect is an integer subframe rectangle within an Image.
type Rect struct {
	X, Y, Width, Height int
}

// Empty reports whether r has zero area (i.e. "no subframe", full frame).
func (r Rect) Empty() bool { return r.Width == 0 || r.Height == 0 }

// Image is one captured camera frame. It is immutable once captured: the
// star finder reads it and nothing else may mutate it.
type Image struct {
	Width, Height int
	MinADU        float64
	MaxADU        float64
	MeanADU       float64
	Subframe      Rect
	Pixels        []float64 // row-major, len == Width*Height

	smoothed []float64 // lazily populated by smoothedAt
}

// peakSearchSigma is the Gaussian blur radius applied before the finder's
// peak search, stabilizing it against shot noise; photometry (mass, SNR,
// HFD, centroid) still reads the raw plane via At.
const peakSearchSigma = 1.2

// DecodeImage decodes a raw camera frame buffer (FITS/TIFF/16-bit grayscale
// blob, as handed up by the camera driver) using ImageMagick, computes
// whole-frame ADU statistics, and exports a flat float64 pixel plane for
// the star finder.
func DecodeImage(buf []byte, subframe Rect) (*Image, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	wand := imagick.NewMagickWand()
	defer wand.Destroy()

	if err := wand.ReadImageBlob(buf); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	width := int(wand.GetImageWidth())
	height := int(wand.GetImageHeight())

	stats, err := wand.GetImageChannelStatistics()
	if err != nil {
		return nil, fmt.Errorf("frame statistics: %w", err)
	}
	gray := stats[imagick.CHANNEL_GRAY]

	pixels, _, err := wand.ExportImagePixels(0, 0, uint(width), uint(height), "I", imagick.PIXEL_DOUBLE)
	if err != nil {
		return nil, fmt.Errorf("export pixels: %w", err)
	}
	flat := make([]float64, len(pixels))
	for i, v := range pixels {
		flat[i] = v.(float64)
	}

	return &Image{
		Width:    width,
		Height:   height,
		MinADU:   gray.Minima,
		MaxADU:   gray.Maxima,
		MeanADU:  gray.Mean,
		Subframe: subframe,
		Pixels:   flat,
	}, nil
}

// At returns the ADU value at (x, y), or 0 if out of bounds.
func (img *Image) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height {
		return 0
	}
	return img.Pixels[y*img.Width+x]
}

// smoothedAt returns the blurred-plane ADU value at (x, y), computing and
// caching the blur on first use. Used by the finder's peak search only;
// photometry reads At directly.
func (img *Image) smoothedAt(x, y int) float64 {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height {
		return 0
	}
	if img.smoothed == nil {
		img.smoothed = img.Smoothed(peakSearchSigma)
	}
	return img.smoothed[y*img.Width+x]
}

// Smoothed returns a copy of img's pixel plane after a light Gaussian blur,
// used to stabilize the peak search against shot noise before the PSF fit.
func (img *Image) Smoothed(sigma float64) []float64 {
	if sigma <= 0 {
		out := make([]float64, len(img.Pixels))
		copy(out, img.Pixels)
		return out
	}

	imagick.Initialize()
	defer imagick.Terminate()

	wand := imagick.NewMagickWand()
	defer wand.Destroy()

	if err := wand.NewImage(uint(img.Width), uint(img.Height), imagick.NewPixelWand()); err != nil {
		out := make([]float64, len(img.Pixels))
		copy(out, img.Pixels)
		return out
	}
	if err := wand.ImportImagePixels(0, 0, uint(img.Width), uint(img.Height), "I", imagick.PIXEL_DOUBLE, img.Pixels); err != nil {
		out := make([]float64, len(img.Pixels))
		copy(out, img.Pixels)
		return out
	}
	if err := wand.GaussianBlurImage(sigma*2, sigma); err != nil {
		out := make([]float64, len(img.Pixels))
		copy(out, img.Pixels)
		return out
	}

	pixels, _, err := wand.ExportImagePixels(0, 0, uint(img.Width), uint(img.Height), "I", imagick.PIXEL_DOUBLE)
	if err != nil {
		out := make([]float64, len(img.Pixels))
		copy(out, img.Pixels)
		return out
	}
	flat := make([]float64, len(pixels))
	for i, v := range pixels {
		flat[i] = v.(float64)
	}
	return flat
}
