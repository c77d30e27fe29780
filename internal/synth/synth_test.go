package synth

import (
	"math"
	"testing"

	"github.com/navyTensor/celeste/internal/fit"
)

func TestBandFluxes(t *testing.T) {
	s := Star(5, 5, 20)
	f := s.BandFluxes()

	if f[fit.RefBand] != 20 {
		t.Errorf("reference band flux = %g, want 20", f[fit.RefBand])
	}
	// Adjacent ratios reproduce the colors.
	for k := 0; k < fit.NumColors; k++ {
		if got := math.Log(f[k+1] / f[k]); math.Abs(got-s.Colors[k]) > 1e-12 {
			t.Errorf("color %d = %g, want %g", k, got, s.Colors[k])
		}
	}
}

func TestRenderStarField(t *testing.T) {
	cfg := FieldConfig{Height: 11, Width: 11}
	images, err := Render(cfg, []Source{Star(5, 5, 20)})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(images) != fit.NumBands {
		t.Fatalf("got %d images, want %d", len(images), fit.NumBands)
	}

	for b, img := range images {
		if img.Band != b {
			t.Errorf("image %d has band %d", b, img.Band)
		}
		px := img.Tiles[0].Pixels

		// The source center outshines the corner, and everything sits
		// above the sky.
		center := px.At(5, 5)
		corner := px.At(0, 0)
		if center <= corner {
			t.Errorf("band %d: center %g not brighter than corner %g", b, center, corner)
		}
		for h := 0; h < 11; h++ {
			for w := 0; w < 11; w++ {
				if px.At(h, w) < 30 {
					t.Fatalf("band %d pixel (%d,%d) = %g below sky", b, h, w, px.At(h, w))
				}
			}
		}
	}
}

func TestRenderFluxConservation(t *testing.T) {
	// On a field much larger than the PSF nearly all flux lands inside,
	// so the summed counts above sky approximate iota times the band flux.
	cfg := FieldConfig{Height: 41, Width: 41, Iota: CountsPerNmgy, Epsilon: 30}
	src := Star(20, 20, 10)
	images, err := Render(cfg, []Source{src})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	img := images[fit.RefBand]
	var total float64
	for h := 0; h < 41; h++ {
		for w := 0; w < 41; w++ {
			total += img.Tiles[0].Pixels.At(h, w) - cfg.Epsilon
		}
	}
	want := cfg.Iota * 10
	if math.Abs(total-want) > 0.01*want {
		t.Errorf("summed source counts = %g, want ~%g", total, want)
	}
}

func TestRenderNoiseDeterministic(t *testing.T) {
	cfg := FieldConfig{Height: 8, Width: 8, Noise: true, Seed: 99}
	a, err := Render(cfg, []Source{Star(4, 4, 20)})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	b, err := Render(cfg, []Source{Star(4, 4, 20)})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for n := range a {
		for h := 0; h < 8; h++ {
			for w := 0; w < 8; w++ {
				if a[n].Tiles[0].Pixels.At(h, w) != b[n].Tiles[0].Pixels.At(h, w) {
					t.Fatalf("band %d pixel (%d,%d) differs across identically seeded renders", n, h, w)
				}
			}
		}
	}
}

func TestProblemIsValid(t *testing.T) {
	ea, err := Problem(FieldConfig{Height: 10, Width: 10},
		[]Source{Star(3, 3, 20), Galaxy(7, 6, 12, 0.5, 0.7, 0.3, 1.5)})
	if err != nil {
		t.Fatalf("Problem: %v", err)
	}

	if ea.S != 2 || ea.N != fit.NumBands {
		t.Errorf("S, N = %d, %d, want 2, %d", ea.S, ea.N, fit.NumBands)
	}
	if len(ea.ActiveSources) != 2 {
		t.Errorf("active sources = %v, want both", ea.ActiveSources)
	}
	if got, want := len(ea.ActivePixels), fit.NumBands*10*10; got != want {
		t.Errorf("active pixels = %d, want %d", got, want)
	}

	// The problem must evaluate cleanly straight out of the generator.
	el, err := fit.ComputeElbo(ea)
	if err != nil {
		t.Fatalf("ComputeElbo: %v", err)
	}
	if math.IsNaN(el.V) || math.IsInf(el.V, 0) {
		t.Errorf("ELBO = %g", el.V)
	}
}

func TestVariationalInitMatchesTruth(t *testing.T) {
	src := Galaxy(5, 6, 12, 0.35, 0.6, 0.4, 2.5)
	vp := VariationalInit([]Source{src})

	vs := vp[0]
	if vs[fit.ParamU0] != 5 || vs[fit.ParamU1] != 6 {
		t.Errorf("location = (%g, %g), want (5, 6)", vs[fit.ParamU0], vs[fit.ParamU1])
	}
	if vs[fit.ParamA] != 0.99 {
		t.Errorf("galaxy probability = %g, want 0.99", vs[fit.ParamA])
	}
	// E[l] under the lognormal must match the catalog flux.
	el := math.Exp(vs[fit.ParamR1(fit.Galaxy)] + vs[fit.ParamR2(fit.Galaxy)]/2)
	if math.Abs(el-12) > 1e-9 {
		t.Errorf("expected flux = %g, want 12", el)
	}
	if vs[fit.ParamEDev] != 0.35 || vs[fit.ParamEScale] != 2.5 {
		t.Errorf("shape block = (%g, %g), want (0.35, 2.5)",
			vs[fit.ParamEDev], vs[fit.ParamEScale])
	}
}
