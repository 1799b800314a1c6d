package fit

import (
	"errors"
	"image/color"
	"math"
	"testing"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

func TestResolveCoverScenario(t *testing.T) {
	plan, err := Resolve(Dimensions{Width: 800, Height: 600}, Spec{Mode: ModeCover, Width: 300, Height: 200})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.CanvasWidth != 300 || plan.CanvasHeight != 200 {
		t.Fatalf("expected canvas 300x200, got %dx%d", plan.CanvasWidth, plan.CanvasHeight)
	}
	want := Rect{X: 0, Y: -13, Width: 300, Height: 225}
	if plan.Draw != want {
		t.Fatalf("expected draw %+v, got %+v", want, plan.Draw)
	}
	if plan.FillBackground {
		t.Fatal("cover plan must not need background fill")
	}
}

func TestResolveCoverAlwaysCovers(t *testing.T) {
	sources := []Dimensions{{800, 600}, {600, 800}, {1, 1}, {1920, 1080}, {333, 777}, {10, 3}}
	targets := [][2]int{{300, 200}, {200, 300}, {1, 1}, {999, 17}, {64, 64}, {1280, 720}}
	positions := []Position{PositionCenter, PositionTopLeft, PositionBottomRight, PositionTop, PositionRight}

	for _, src := range sources {
		for _, tgt := range targets {
			for _, pos := range positions {
				plan, err := Resolve(src, Spec{Mode: ModeCover, Width: tgt[0], Height: tgt[1], Position: pos})
				if err != nil {
					t.Fatalf("resolve %v -> %v: %v", src, tgt, err)
				}
				if plan.CanvasWidth != tgt[0] || plan.CanvasHeight != tgt[1] {
					t.Fatalf("%v -> %v: canvas %dx%d", src, tgt, plan.CanvasWidth, plan.CanvasHeight)
				}
				if !plan.Covers() {
					t.Fatalf("%v -> %v (%s): draw %+v leaves gaps", src, tgt, pos, plan.Draw)
				}
			}
		}
	}
}

func TestResolveContainFitsInside(t *testing.T) {
	sources := []Dimensions{{800, 600}, {600, 800}, {1, 1}, {1920, 1080}, {333, 777}, {10, 3}}
	targets := [][2]int{{300, 200}, {200, 300}, {999, 17}, {64, 64}, {1280, 720}}

	for _, src := range sources {
		for _, tgt := range targets {
			plan, err := Resolve(src, Spec{Mode: ModeContain, Width: tgt[0], Height: tgt[1]})
			if err != nil {
				t.Fatalf("resolve %v -> %v: %v", src, tgt, err)
			}
			d := plan.Draw
			if d.X < 0 || d.Y < 0 || d.X+d.Width > tgt[0] || d.Y+d.Height > tgt[1] {
				t.Fatalf("%v -> %v: draw %+v escapes canvas", src, tgt, d)
			}
			if d.Width != tgt[0] && d.Height != tgt[1] {
				t.Fatalf("%v -> %v: draw %+v matches neither axis", src, tgt, d)
			}
		}
	}
}

func TestResolveContainBackground(t *testing.T) {
	bg := color.NRGBA{R: 255, A: 255}
	plan, err := Resolve(Dimensions{Width: 800, Height: 600}, Spec{Mode: ModeContain, Width: 300, Height: 300, Background: bg})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !plan.FillBackground {
		t.Fatal("expected background fill for letterboxed contain")
	}
	if plan.Background != bg {
		t.Fatalf("expected background to be carried, got %v", plan.Background)
	}
	want := Rect{X: 0, Y: 38, Width: 300, Height: 225}
	if plan.Draw != want {
		t.Fatalf("expected draw %+v, got %+v", want, plan.Draw)
	}
}

func TestResolveFillStretches(t *testing.T) {
	plan, err := Resolve(Dimensions{Width: 800, Height: 600}, Spec{Mode: ModeFill, Width: 100, Height: 400})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.Draw != (Rect{Width: 100, Height: 400}) {
		t.Fatalf("unexpected draw %+v", plan.Draw)
	}
}

func TestResolveSingleDimension(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want Dimensions
	}{
		{"cover width only", Spec{Mode: ModeCover, Width: 400}, Dimensions{400, 300}},
		{"contain height only", Spec{Mode: ModeContain, Height: 150}, Dimensions{200, 150}},
		{"fill width only", Spec{Mode: ModeFill, Width: 80}, Dimensions{80, 60}},
		{"maxFit width only", Spec{Mode: ModeMaxFit, Width: 400}, Dimensions{400, 300}},
		{"minFit height only", Spec{Mode: ModeMinFit, Height: 1200}, Dimensions{1600, 1200}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := Resolve(Dimensions{Width: 800, Height: 600}, tc.spec)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if plan.Canvas() != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, plan.Canvas())
			}
		})
	}
}

func TestResolveMaxFitNeverEnlarges(t *testing.T) {
	plan, err := Resolve(Dimensions{Width: 100, Height: 50}, Spec{Mode: ModeMaxFit, Width: 400, Height: 400})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.Canvas() != (Dimensions{100, 50}) {
		t.Fatalf("expected original size, got %+v", plan.Canvas())
	}

	plan, err = Resolve(Dimensions{Width: 1000, Height: 500}, Spec{Mode: ModeMaxFit, Width: 400, Height: 400})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.Canvas() != (Dimensions{400, 200}) {
		t.Fatalf("expected 400x200, got %+v", plan.Canvas())
	}
}

func TestResolveMinFitNeverShrinks(t *testing.T) {
	plan, err := Resolve(Dimensions{Width: 1000, Height: 500}, Spec{Mode: ModeMinFit, Width: 400, Height: 400})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.Canvas() != (Dimensions{1000, 500}) {
		t.Fatalf("expected original size, got %+v", plan.Canvas())
	}

	plan, err = Resolve(Dimensions{Width: 100, Height: 50}, Spec{Mode: ModeMinFit, Width: 400, Height: 400})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.CanvasWidth < 100 || plan.CanvasHeight < 50 {
		t.Fatalf("minFit shrank the source: %+v", plan.Canvas())
	}
	if plan.Canvas() != (Dimensions{400, 200}) {
		t.Fatalf("expected 400x200, got %+v", plan.Canvas())
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		orig Dimensions
		spec Spec
		want error
	}{
		{"no target", Dimensions{10, 10}, Spec{Mode: ModeCover}, imgerr.ErrInvalidFitSpec},
		{"unknown mode", Dimensions{10, 10}, Spec{Mode: "zoom", Width: 5}, imgerr.ErrInvalidFitSpec},
		{"unknown position", Dimensions{10, 10}, Spec{Mode: ModeCover, Width: 5, Height: 5, Position: "upside-down"}, imgerr.ErrInvalidFitSpec},
		{"zero source", Dimensions{0, 10}, Spec{Mode: ModeCover, Width: 5}, imgerr.ErrInvalidDimension},
		{"negative target", Dimensions{10, 10}, Spec{Mode: ModeCover, Width: -5, Height: 5}, imgerr.ErrInvalidDimension},
		{"derived axis rounds to zero", Dimensions{1000, 1}, Spec{Mode: ModeContain, Width: 10}, imgerr.ErrInvalidDimension},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.orig, tc.spec)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestResolveScale(t *testing.T) {
	plan, err := ResolveScale(Dimensions{Width: 801, Height: 601}, 0.5, 0.5)
	if err != nil {
		t.Fatalf("resolve scale: %v", err)
	}
	if plan.Canvas() != (Dimensions{401, 301}) {
		t.Fatalf("expected half-away rounding to 401x301, got %+v", plan.Canvas())
	}

	plan, err = ResolveScale(Dimensions{Width: 100, Height: 100}, 2, 0.25)
	if err != nil {
		t.Fatalf("resolve anisotropic scale: %v", err)
	}
	if plan.Canvas() != (Dimensions{200, 25}) {
		t.Fatalf("expected 200x25, got %+v", plan.Canvas())
	}

	for _, s := range []float64{0, -1} {
		if _, err := ResolveScale(Dimensions{Width: 10, Height: 10}, s, s); !errors.Is(err, imgerr.ErrInvalidFitSpec) {
			t.Fatalf("scale %v: expected invalid fit spec, got %v", s, err)
		}
	}
}

func TestResolveCrop(t *testing.T) {
	plan, err := ResolveCrop(Dimensions{Width: 100, Height: 80}, Rect{X: 10, Y: 20, Width: 30, Height: 40})
	if err != nil {
		t.Fatalf("resolve crop: %v", err)
	}
	if plan.Canvas() != (Dimensions{30, 40}) {
		t.Fatalf("unexpected canvas %+v", plan.Canvas())
	}
	if plan.Draw != (Rect{X: -10, Y: -20, Width: 100, Height: 80}) {
		t.Fatalf("unexpected draw %+v", plan.Draw)
	}

	if _, err := ResolveCrop(Dimensions{Width: 100, Height: 80}, Rect{X: 0, Y: 0, Width: 100, Height: 80}); err != nil {
		t.Fatalf("expected full-frame crop to pass, got %v", err)
	}

	outside := map[string]Rect{
		"past right edge":   {X: 90, Y: 0, Width: 30, Height: 10},
		"past bottom edge":  {X: 0, Y: 70, Width: 10, Height: 11},
		"negative origin":   {X: -1, Y: 0, Width: 10, Height: 10},
		"origin past edge":  {X: 101, Y: 0, Width: 1, Height: 1},
		"wrapping width":    {X: 1, Y: 1, Width: math.MaxInt, Height: 10},
		"wrapping both":     {X: 1, Y: 1, Width: math.MaxInt, Height: math.MaxInt},
		"wrapping from max": {X: math.MaxInt, Y: 0, Width: math.MaxInt, Height: 1},
	}
	for name, region := range outside {
		plan, err := ResolveCrop(Dimensions{Width: 100, Height: 80}, region)
		if !errors.Is(err, imgerr.ErrInvalidDimension) {
			t.Fatalf("%s: expected invalid dimension, got plan=%+v err=%v", name, plan, err)
		}
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := map[float64]int{0.5: 1, 1.5: 2, 2.5: 3, -0.5: -1, -12.5: -13, 2.49: 2}
	for in, want := range cases {
		if got := RoundHalfAwayFromZero(in); got != want {
			t.Fatalf("round(%v): expected %d, got %d", in, want, got)
		}
	}
}

func TestPositionAnchors(t *testing.T) {
	plan, err := Resolve(Dimensions{Width: 400, Height: 100}, Spec{Mode: ModeCover, Width: 100, Height: 100, Position: "east"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plan.Draw.X != -300 {
		t.Fatalf("expected right anchoring at x=-300, got %d", plan.Draw.X)
	}

	if _, ok := ParsePosition("upside-down"); ok {
		t.Fatal("expected unknown position to be rejected")
	}
}

func TestParseBackground(t *testing.T) {
	tests := []struct {
		in   string
		want color.Color
	}{
		{"", nil},
		{"transparent", nil},
		{"#fff", color.NRGBA{R: 255, G: 255, B: 255, A: 255}},
		{"#102030", color.NRGBA{R: 16, G: 32, B: 48, A: 255}},
		{"#10203080", color.NRGBA{R: 16, G: 32, B: 48, A: 128}},
		{"FF0000", color.NRGBA{R: 255, A: 255}},
	}
	for _, tc := range tests {
		got, err := ParseBackground(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.in, tc.want, got)
		}
	}

	for _, in := range []string{"#12", "#gggggg", "#102030zz"} {
		if _, err := ParseBackground(in); !errors.Is(err, imgerr.ErrInvalidFitSpec) {
			t.Fatalf("%q: expected invalid fit spec, got %v", in, err)
		}
	}
}
