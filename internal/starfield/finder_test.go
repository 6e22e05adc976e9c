package starfield

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"photonic/internal/point"
)

func syntheticStar(w, h, cx, cy int, peak, bg, sigma float64) *Image {
	pixels := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := float64(x - cx)
			dy := float64(y - cy)
			r2 := dx*dx + dy*dy
			v := bg + peak*math.Exp(-r2/(2*sigma*sigma))
			pixels[y*w+x] = v
		}
	}
	return &Image{Width: w, Height: h, Pixels: pixels, MinADU: bg, MaxADU: bg + peak, MeanADU: bg}
}

func TestAutoSelectFindsBrightestStar(t *testing.T) {
	img := syntheticStar(100, 100, 50, 60, 5000, 200, 2.5)
	p := DefaultFinderParams()
	p.MinMass = 10

	s := AutoSelect(img, p)
	require.True(t, s.OK(), "expected a successful find, got %v", s.Result)
	require.InDelta(t, 50, s.X, 1.0)
	require.InDelta(t, 60, s.Y, 1.0)
	require.Greater(t, s.Mass, 0.0)
	require.Greater(t, s.SNR, p.MinSNR)
}

func TestFindAtTracksNearbyStar(t *testing.T) {
	img := syntheticStar(100, 100, 52, 58, 4000, 150, 2.0)
	p := DefaultFinderParams()
	p.MinMass = 10

	s := FindAt(img, point.New(50, 60), p)
	require.True(t, s.OK())
	require.InDelta(t, 52, s.X, 1.0)
	require.InDelta(t, 58, s.Y, 1.0)
}

func TestMeasureAtTooNearEdge(t *testing.T) {
	img := syntheticStar(40, 40, 5, 5, 5000, 200, 2.0)
	p := DefaultFinderParams()

	s := measureAt(img, 5, 5, p)
	require.Equal(t, FindTooNearEdge, s.Result)
}
