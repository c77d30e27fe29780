// Package synth generates small synthetic star/galaxy fields with known
// ground truth, for tests and benchmarks. Rendered counts follow the same
// generative model the fitter assumes, so a fit initialized at the truth
// should already sit near the optimum.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/navyTensor/celeste/internal/bvn"
	"github.com/navyTensor/celeste/internal/fit"
)

// CountsPerNmgy is the default photon count per nanomaggie of flux.
const CountsPerNmgy = 1000.0

// Source is one ground-truth catalog entry. RefFlux is the reference-band
// flux in nMgy; Colors are adjacent-band log flux ratios. The shape block is
// ignored for stars but must still hold valid values.
type Source struct {
	Position [2]float64
	IsGalaxy bool
	RefFlux  float64
	Colors   [fit.NumColors]float64

	DevWeight float64
	Axis      float64
	Angle     float64
	Scale     float64
}

// Star returns a point source at (h, w) with the given reference flux and
// the default stellar colors. The shape block is filled with placeholder
// values so the variational parameters stay in range.
func Star(h, w, refFlux float64) Source {
	return Source{
		Position:  [2]float64{h, w},
		RefFlux:   refFlux,
		Colors:    defaultColors(false),
		DevWeight: 0.5,
		Axis:      0.7,
		Angle:     0,
		Scale:     2,
	}
}

// Galaxy returns an extended source at (h, w) with the given reference flux,
// de Vaucouleurs weight, and shape.
func Galaxy(h, w, refFlux, devWeight, axis, angle, scale float64) Source {
	return Source{
		Position:  [2]float64{h, w},
		IsGalaxy:  true,
		RefFlux:   refFlux,
		Colors:    defaultColors(true),
		DevWeight: devWeight,
		Axis:      axis,
		Angle:     angle,
		Scale:     scale,
	}
}

func defaultColors(galaxy bool) [fit.NumColors]float64 {
	rel := [fit.NumBands]float64{0.1330, 0.5308, 1, 1.3179, 1.5417}
	if galaxy {
		rel = [fit.NumBands]float64{0.4013, 0.4990, 1, 1.4031, 1.7750}
	}
	var c [fit.NumColors]float64
	for k := 0; k < fit.NumColors; k++ {
		c[k] = math.Log(rel[k+1] / rel[k])
	}
	return c
}

// BandFluxes expands the reference flux and colors into per-band fluxes.
func (s *Source) BandFluxes() [fit.NumBands]float64 {
	var f [fit.NumBands]float64
	f[fit.RefBand] = s.RefFlux
	for b := fit.RefBand + 1; b < fit.NumBands; b++ {
		f[b] = f[b-1] * math.Exp(s.Colors[b-1])
	}
	for b := fit.RefBand - 1; b >= 0; b-- {
		f[b] = f[b+1] * math.Exp(-s.Colors[b])
	}
	return f
}

// FieldConfig describes one synthetic multi-band field. Every band shares
// the PSF, sky level, and gain.
type FieldConfig struct {
	Height, Width int
	Iota          float64 // counts per nMgy; defaults to CountsPerNmgy
	Epsilon       float64 // sky level, counts per pixel; defaults to 30
	PsfSigma      float64 // width of the narrow PSF component; defaults to 1.2
	Noise         bool    // Poisson-sample the counts instead of using the mean
	Seed          uint64
}

func (c *FieldConfig) fill() {
	if c.Iota == 0 {
		c.Iota = CountsPerNmgy
	}
	if c.Epsilon == 0 {
		c.Epsilon = 30
	}
	if c.PsfSigma == 0 {
		c.PsfSigma = 1.2
	}
}

// PSF builds the two-component Gaussian point-spread mixture used by all
// synthetic images: a narrow core carrying most of the weight and a broad
// halo at twice the core width.
func PSF(sigma float64) []bvn.Component {
	core, err := bvn.NewComponent(0.7, [2]float64{0, 0}, [3]float64{sigma * sigma, 0, sigma * sigma})
	if err != nil {
		panic(err)
	}
	halo, err := bvn.NewComponent(0.3, [2]float64{0, 0}, [3]float64{4 * sigma * sigma, 0, 4 * sigma * sigma})
	if err != nil {
		panic(err)
	}
	return []bvn.Component{core, halo}
}

// Render draws the expected (or Poisson-sampled) counts of every band into
// freshly allocated single-tile images.
func Render(cfg FieldConfig, sources []Source) ([]*fit.Image, error) {
	cfg.fill()
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("field must have positive dimensions, got %dx%d", cfg.Height, cfg.Width)
	}

	psf := PSF(cfg.PsfSigma)
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	images := make([]*fit.Image, fit.NumBands)
	for b := 0; b < fit.NumBands; b++ {
		pixels := mat.NewDense(cfg.Height, cfg.Width, nil)
		epsilon := mat.NewDense(cfg.Height, cfg.Width, nil)
		for h := 0; h < cfg.Height; h++ {
			for w := 0; w < cfg.Width; w++ {
				mu := cfg.Epsilon
				for i := range sources {
					mu += cfg.Iota * expectedNmgy(&sources[i], b, psf, float64(h), float64(w))
				}
				if cfg.Noise {
					mu = distuv.Poisson{Lambda: mu, Src: rng}.Rand()
				}
				pixels.Set(h, w, mu)
				epsilon.Set(h, w, cfg.Epsilon)
			}
		}
		images[b] = &fit.Image{
			H:     cfg.Height,
			W:     cfg.Width,
			Band:  b,
			Iota:  cfg.Iota,
			Tiles: []fit.Tile{{H0: 0, W0: 0, Pixels: pixels, Epsilon: epsilon}},
			PSF:   psf,
		}
	}
	return images, nil
}

// expectedNmgy evaluates one source's expected flux density at a pixel, in
// nMgy, under the same convolved mixture the fitter uses.
func expectedNmgy(src *Source, band int, psf []bvn.Component, x1, x2 float64) float64 {
	flux := src.BandFluxes()[band]
	inf := math.Inf(1)

	if !src.IsGalaxy {
		var f float64
		for k := range psf {
			mean := [2]float64{src.Position[0] + psf[k].Mean[0], src.Position[1] + psf[k].Mean[1]}
			comp, err := bvn.NewComponent(psf[k].Weight, mean, psf[k].Cov)
			if err != nil {
				panic(err)
			}
			f += comp.Density(x1, x2, inf)
		}
		return flux * f
	}

	shape := bvn.GalaxyShape{Axis: src.Axis, Angle: src.Angle, Scale: src.Scale}
	var sd bvn.ShapeDerivs
	shape.Cov(&sd)

	var f float64
	for _, family := range [2]struct {
		protos []bvn.Prototype
		weight float64
	}{{bvn.ExpProfile, 1 - src.DevWeight}, {bvn.DevProfile, src.DevWeight}} {
		for _, proto := range family.protos {
			for k := range psf {
				cov := [3]float64{
					psf[k].Cov[0] + proto.Var*sd.S[0],
					psf[k].Cov[1] + proto.Var*sd.S[1],
					psf[k].Cov[2] + proto.Var*sd.S[2],
				}
				mean := [2]float64{src.Position[0] + psf[k].Mean[0], src.Position[1] + psf[k].Mean[1]}
				comp, err := bvn.NewComponent(psf[k].Weight*proto.Weight, mean, cov)
				if err != nil {
					panic(err)
				}
				f += family.weight * comp.Density(x1, x2, inf)
			}
		}
	}
	return flux * f
}

// VariationalInit builds per-source variational parameters centered at the
// catalog truth: the type probability is nearly deterministic, the lognormal
// flux moments match the true flux, and color and shape blocks carry the
// truth directly.
func VariationalInit(sources []Source) [][]float64 {
	const tightVar = 1e-4
	vp := make([][]float64, len(sources))
	for i := range sources {
		src := &sources[i]
		vs := make([]float64, fit.ParamsPerSource)
		vs[fit.ParamU0] = src.Position[0]
		vs[fit.ParamU1] = src.Position[1]
		if src.IsGalaxy {
			vs[fit.ParamA] = 0.99
		} else {
			vs[fit.ParamA] = 0.01
		}
		for t := 0; t < fit.NumTypes; t++ {
			// E[l] = exp(r1 + r2/2) = flux.
			vs[fit.ParamR1(t)] = math.Log(src.RefFlux) - tightVar/2
			vs[fit.ParamR2(t)] = tightVar
			for k := 0; k < fit.NumColors; k++ {
				vs[fit.ParamC1(k, t)] = src.Colors[k]
				vs[fit.ParamC2(k, t)] = tightVar
			}
		}
		vs[fit.ParamEDev] = src.DevWeight
		vs[fit.ParamEAxis] = src.Axis
		vs[fit.ParamEAngle] = src.Angle
		vs[fit.ParamEScale] = src.Scale
		vp[i] = vs
	}
	return vp
}

// Problem renders a field and assembles a complete fitting problem around
// it: every tile maps to every source, each source's patch covers the whole
// field, and every source is active.
func Problem(cfg FieldConfig, sources []Source, opts ...fit.Option) (*fit.ElboArgs, error) {
	cfg.fill()
	images, err := Render(cfg, sources)
	if err != nil {
		return nil, err
	}

	allSources := make([]int, len(sources))
	for i := range allSources {
		allSources[i] = i
	}

	tileSourceMap := make([][][]int, len(images))
	for n := range images {
		tileSourceMap[n] = make([][]int, len(images[n].Tiles))
		for t := range tileSourceMap[n] {
			tileSourceMap[n][t] = allSources
		}
	}

	radius := float64(cfg.Height + cfg.Width)
	patches := make([][]*fit.SkyPatch, len(sources))
	for s := range sources {
		patches[s] = make([]*fit.SkyPatch, len(images))
		for n := range images {
			patches[s][n] = &fit.SkyPatch{
				Center:     sources[s].Position,
				Radius:     radius,
				Background: cfg.Epsilon / cfg.Iota,
			}
		}
	}

	return fit.NewElboArgs(images, VariationalInit(sources), tileSourceMap,
		patches, allSources, opts...)
}
