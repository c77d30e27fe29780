package fit

import (
	"gonum.org/v1/gonum/mat"

	"github.com/navyTensor/celeste/internal/bvn"
)

// Tile is one rectangular block of an image's pixel grid. Pixels holds
// observed counts and Epsilon the per-pixel expected sky level in counts;
// both share the same shape.
type Tile struct {
	H0, W0  int // pixel coordinates of the tile origin within the image
	Pixels  *mat.Dense
	Epsilon *mat.Dense
}

// Image is a single-band tiled exposure together with its PSF mixture.
// Iota converts nMgy to expected counts.
type Image struct {
	H, W  int
	Band  int
	Iota  float64
	Tiles []Tile
	PSF   []bvn.Component
}

// SkyPatch bounds the region of one image that one source can plausibly
// affect, plus a local background estimate in nMgy. Patches are prepared by
// the caller and referenced read-only by ElboArgs, which rejects nil patches
// and negative background estimates at construction.
type SkyPatch struct {
	Center     [2]float64 // source center, pixel coordinates
	Radius     float64    // pixels
	Background float64
}

// Contains reports whether pixel (h, w) lies inside the patch.
func (p *SkyPatch) Contains(h, w float64) bool {
	dh := h - p.Center[0]
	dw := w - p.Center[1]
	return dh*dh+dw*dw <= p.Radius*p.Radius
}

// ActivePixel identifies one pixel visited during ELBO accumulation, by
// image index, tile index within the image, and row/column within the tile.
type ActivePixel struct {
	N, Tile, H, W int
}
