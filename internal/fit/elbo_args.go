package fit

import "math"

// ElboArgs carries the full state of one variational fitting problem: the
// images, the per-source variational parameters, the tile-to-source mapping,
// the per-(source, image) sky patches, the subset of sources being
// optimized, and the enumerated pixel worklist. VP is the only field mutated
// after construction; everything else is read-only for the lifetime of a
// run.
type ElboArgs struct {
	S int // number of sources
	N int // number of images

	PsfK         int
	NumAllowedSD float64

	Images        []*Image
	VP            [][]float64
	TileSourceMap [][][]int
	Patches       [][]*SkyPatch
	ActiveSources []int
	ActivePixels  []ActivePixel
}

// Option configures optional ElboArgs fields.
type Option func(*ElboArgs)

// WithPsfK sets the PSF mixture component count. The default is 2.
func WithPsfK(k int) Option {
	return func(ea *ElboArgs) { ea.PsfK = k }
}

// WithNumAllowedSD sets the Mahalanobis-distance cutoff, in standard
// deviations, beyond which a Gaussian component contributes exact zeros.
// The default is +Inf, which disables culling.
func WithNumAllowedSD(sd float64) Option {
	return func(ea *ElboArgs) { ea.NumAllowedSD = sd }
}

// NewElboArgs constructs a validated problem state and enumerates the
// active-pixel worklist. Preconditions are enforced here, never deferred:
// a violated input yields an *InvalidInputError and no ElboArgs.
func NewElboArgs(images []*Image, vp [][]float64, tileSourceMap [][][]int,
	patches [][]*SkyPatch, activeSources []int, opts ...Option) (*ElboArgs, error) {

	ea := &ElboArgs{
		S:             len(vp),
		N:             len(images),
		PsfK:          2,
		NumAllowedSD:  math.Inf(1),
		Images:        images,
		VP:            vp,
		TileSourceMap: tileSourceMap,
		Patches:       patches,
		ActiveSources: activeSources,
	}
	for _, opt := range opts {
		opt(ea)
	}

	if ea.PsfK <= 0 {
		return nil, invalidInputf("psf_K must be > 0, got %d", ea.PsfK)
	}
	if len(tileSourceMap) != ea.N {
		return nil, invalidInputf("tile_source_map has %d entries, want %d (one per image)",
			len(tileSourceMap), ea.N)
	}
	if len(patches) != ea.S {
		return nil, invalidInputf("patches has %d rows, want S=%d", len(patches), ea.S)
	}
	for s, row := range patches {
		if len(row) != ea.N {
			return nil, invalidInputf("patches[%d] has %d entries, want N=%d", s, len(row), ea.N)
		}
		for n, p := range row {
			if p == nil {
				return nil, invalidInputf("patches[%d][%d] is nil", s, n)
			}
			if !(p.Background >= 0) {
				return nil, invalidInputf("patches[%d][%d] background %g must be >= 0",
					s, n, p.Background)
			}
		}
	}
	for s, vs := range vp {
		if len(vs) != ParamsPerSource {
			return nil, invalidInputf("vp[%d] has %d parameters, want %d", s, len(vs), ParamsPerSource)
		}
	}
	for _, s := range activeSources {
		if s < 0 || s >= ea.S {
			return nil, invalidInputf("active source %d out of range [0,%d)", s, ea.S)
		}
	}

	for n, img := range images {
		if len(img.PSF) != ea.PsfK {
			return nil, invalidInputf("image %d has %d PSF components, want psf_K=%d",
				n, len(img.PSF), ea.PsfK)
		}
		if len(tileSourceMap[n]) != len(img.Tiles) {
			return nil, invalidInputf("tile_source_map[%d] has %d entries, want %d tiles",
				n, len(tileSourceMap[n]), len(img.Tiles))
		}
		for t := range img.Tiles {
			tile := &img.Tiles[t]
			th, tw := tile.Pixels.Dims()
			eh, ew := tile.Epsilon.Dims()
			if th != eh || tw != ew {
				return nil, invalidInputf("image %d tile %d: epsilon_mat is %dx%d, pixels are %dx%d",
					n, t, eh, ew, th, tw)
			}
			for h := 0; h < th; h++ {
				for w := 0; w < tw; w++ {
					if !(tile.Epsilon.At(h, w) > 0) {
						return nil, invalidInputf("epsilon_mat must be > 0 (image %d tile %d pixel %d,%d)",
							n, t, h, w)
					}
				}
			}
		}
	}

	ea.ActivePixels = enumerateActivePixels(images)
	return ea, nil
}

// enumerateActivePixels derives the flat pixel worklist in image-major,
// tile-major, then row/column order. The ordering fixes the floating-point
// summation order, not correctness.
func enumerateActivePixels(images []*Image) []ActivePixel {
	var total int
	for _, img := range images {
		for t := range img.Tiles {
			h, w := img.Tiles[t].Pixels.Dims()
			total += h * w
		}
	}
	pixels := make([]ActivePixel, 0, total)
	for n, img := range images {
		for t := range img.Tiles {
			th, tw := img.Tiles[t].Pixels.Dims()
			for h := 0; h < th; h++ {
				for w := 0; w < tw; w++ {
					pixels = append(pixels, ActivePixel{N: n, Tile: t, H: h, W: w})
				}
			}
		}
	}
	return pixels
}
