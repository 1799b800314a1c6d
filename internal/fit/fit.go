// Package fit computes render geometry: the output canvas size and where the
// source lands on it. Everything here is pure; no pixels are touched.
package fit

import (
	"image/color"
	"math"
	"strings"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

type Mode string

const (
	ModeCover   Mode = "cover"
	ModeContain Mode = "contain"
	ModeFill    Mode = "fill"
	ModeMaxFit  Mode = "maxFit"
	ModeMinFit  Mode = "minFit"
)

// ParseMode accepts the canonical names plus the lowercase/dashed spellings
// used in JSON and YAML recipes ("max-fit", "maxfit", "inside", ...).
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cover", "crop":
		return ModeCover, true
	case "contain", "fit":
		return ModeContain, true
	case "fill", "stretch":
		return ModeFill, true
	case "maxfit", "max-fit", "max_fit", "inside":
		return ModeMaxFit, true
	case "minfit", "min-fit", "min_fit", "outside":
		return ModeMinFit, true
	default:
		return "", false
	}
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Rect is a placement on the canvas. X and Y may be negative when the source
// overhangs the canvas (cover, crop).
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Spec is a declarative fit request. At least one of Width/Height must be set.
type Spec struct {
	Mode       Mode
	Width      int
	Height     int
	Position   Position
	Background color.Color
}

// Plan is the resolved geometry for one render.
type Plan struct {
	CanvasWidth  int
	CanvasHeight int
	Draw         Rect
	// FillBackground is set when part of the canvas is not covered by Draw.
	FillBackground bool
	Background     color.Color
}

func (p Plan) Canvas() Dimensions {
	return Dimensions{Width: p.CanvasWidth, Height: p.CanvasHeight}
}

// Covers reports whether the draw rect leaves no canvas pixel uncovered.
func (p Plan) Covers() bool {
	return p.Draw.X <= 0 && p.Draw.Y <= 0 &&
		p.Draw.X+p.Draw.Width >= p.CanvasWidth &&
		p.Draw.Y+p.Draw.Height >= p.CanvasHeight
}

// RoundHalfAwayFromZero is the rounding rule applied at fractional pixel
// boundaries. Truncation would under-crop systematically.
func RoundHalfAwayFromZero(v float64) int {
	return int(math.Round(v))
}

// Round is the rule used by every resolver in this package.
var Round = RoundHalfAwayFromZero

// Validate checks the parts of a spec that do not depend on the source size.
func (s Spec) Validate() error {
	if _, ok := ParseMode(string(s.Mode)); !ok {
		return imgerr.New(imgerr.CodeInvalidFitSpec, "unknown fit mode %q", s.Mode)
	}
	if _, ok := ParsePosition(string(s.Position)); !ok {
		return imgerr.New(imgerr.CodeInvalidFitSpec, "unknown position %q", s.Position)
	}
	if s.Width == 0 && s.Height == 0 {
		return imgerr.New(imgerr.CodeInvalidFitSpec, "a target width or height is required")
	}
	if s.Width < 0 || s.Height < 0 {
		return imgerr.New(imgerr.CodeInvalidDimension, "target %dx%d must not be negative", s.Width, s.Height)
	}
	return nil
}

func Resolve(orig Dimensions, spec Spec) (Plan, error) {
	if !orig.Valid() {
		return Plan{}, imgerr.New(imgerr.CodeInvalidDimension, "source size %dx%d must be positive", orig.Width, orig.Height)
	}
	if err := spec.Validate(); err != nil {
		return Plan{}, err
	}
	mode, _ := ParseMode(string(spec.Mode))

	switch mode {
	case ModeMaxFit:
		return resolveBounded(orig, spec, math.Min)
	case ModeMinFit:
		return resolveBounded(orig, spec, math.Max)
	}

	if spec.Width == 0 || spec.Height == 0 {
		return resolveSingleAxis(orig, spec)
	}

	sx := float64(spec.Width) / float64(orig.Width)
	sy := float64(spec.Height) / float64(orig.Height)

	var draw Rect
	switch mode {
	case ModeFill:
		draw = Rect{Width: spec.Width, Height: spec.Height}
	case ModeCover:
		draw = place(orig, math.Max(sx, sy), spec)
	case ModeContain:
		draw = place(orig, math.Min(sx, sy), spec)
	}

	plan := Plan{
		CanvasWidth:  spec.Width,
		CanvasHeight: spec.Height,
		Draw:         draw,
		Background:   spec.Background,
	}
	plan.FillBackground = !plan.Covers()
	return plan, checkPlan(plan)
}

// place scales orig uniformly and anchors it inside the target box.
func place(orig Dimensions, scale float64, spec Spec) Rect {
	w := Round(float64(orig.Width) * scale)
	h := Round(float64(orig.Height) * scale)

	fx, fy := spec.Position.anchor()
	return Rect{
		X:      Round(float64(spec.Width-w) * fx),
		Y:      Round(float64(spec.Height-h) * fy),
		Width:  w,
		Height: h,
	}
}

// resolveSingleAxis handles cover/contain/fill with one target dimension: the
// missing one follows the source aspect ratio, so every mode agrees.
func resolveSingleAxis(orig Dimensions, spec Spec) (Plan, error) {
	w, h := spec.Width, spec.Height
	if w == 0 {
		w = Round(float64(orig.Width) * float64(h) / float64(orig.Height))
	} else {
		h = Round(float64(orig.Height) * float64(w) / float64(orig.Width))
	}
	plan := Plan{
		CanvasWidth:  w,
		CanvasHeight: h,
		Draw:         Rect{Width: w, Height: h},
		Background:   spec.Background,
	}
	return plan, checkPlan(plan)
}

// resolveBounded implements maxFit (pick = math.Min, never enlarges) and
// minFit (pick = math.Max over the fit scale and 1, never shrinks).
func resolveBounded(orig Dimensions, spec Spec, pick func(a, b float64) float64) (Plan, error) {
	scale := math.Inf(1)
	if spec.Width > 0 {
		scale = float64(spec.Width) / float64(orig.Width)
	}
	if spec.Height > 0 {
		scale = math.Min(scale, float64(spec.Height)/float64(orig.Height))
	}
	scale = pick(scale, 1)

	w := Round(float64(orig.Width) * scale)
	h := Round(float64(orig.Height) * scale)
	plan := Plan{
		CanvasWidth:  w,
		CanvasHeight: h,
		Draw:         Rect{Width: w, Height: h},
		Background:   spec.Background,
	}
	return plan, checkPlan(plan)
}

// ResolveScale sizes the canvas by factor instead of absolute targets.
func ResolveScale(orig Dimensions, sx, sy float64) (Plan, error) {
	if !orig.Valid() {
		return Plan{}, imgerr.New(imgerr.CodeInvalidDimension, "source size %dx%d must be positive", orig.Width, orig.Height)
	}
	if !(sx > 0) || !(sy > 0) || math.IsInf(sx, 0) || math.IsInf(sy, 0) {
		return Plan{}, imgerr.New(imgerr.CodeInvalidFitSpec, "scale %gx%g must be positive", sx, sy)
	}
	w := Round(float64(orig.Width) * sx)
	h := Round(float64(orig.Height) * sy)
	plan := Plan{
		CanvasWidth:  w,
		CanvasHeight: h,
		Draw:         Rect{Width: w, Height: h},
	}
	return plan, checkPlan(plan)
}

// Within reports whether r lies inside a canvas of size d. The bounds are
// compared by subtraction so huge sizes cannot wrap around.
func (r Rect) Within(d Dimensions) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width >= 0 && r.Height >= 0 &&
		r.X <= d.Width && r.Y <= d.Height &&
		r.Width <= d.Width-r.X && r.Height <= d.Height-r.Y
}

// ResolveCrop cuts region out of the source at native resolution.
func ResolveCrop(orig Dimensions, region Rect) (Plan, error) {
	if !orig.Valid() {
		return Plan{}, imgerr.New(imgerr.CodeInvalidDimension, "source size %dx%d must be positive", orig.Width, orig.Height)
	}
	if region.Width <= 0 || region.Height <= 0 {
		return Plan{}, imgerr.New(imgerr.CodeInvalidDimension, "crop size %dx%d must be positive", region.Width, region.Height)
	}
	if !region.Within(orig) {
		return Plan{}, imgerr.New(imgerr.CodeInvalidDimension,
			"crop region (%d,%d %dx%d) outside source %dx%d",
			region.X, region.Y, region.Width, region.Height, orig.Width, orig.Height)
	}
	return Plan{
		CanvasWidth:  region.Width,
		CanvasHeight: region.Height,
		Draw:         Rect{X: -region.X, Y: -region.Y, Width: orig.Width, Height: orig.Height},
	}, nil
}

// Passthrough keeps the source size for canvas and draw rect.
func Passthrough(orig Dimensions) (Plan, error) {
	if !orig.Valid() {
		return Plan{}, imgerr.New(imgerr.CodeInvalidDimension, "source size %dx%d must be positive", orig.Width, orig.Height)
	}
	return Plan{
		CanvasWidth:  orig.Width,
		CanvasHeight: orig.Height,
		Draw:         Rect{Width: orig.Width, Height: orig.Height},
	}, nil
}

func checkPlan(p Plan) error {
	if p.CanvasWidth <= 0 || p.CanvasHeight <= 0 {
		return imgerr.New(imgerr.CodeInvalidDimension, "computed canvas %dx%d is not positive", p.CanvasWidth, p.CanvasHeight)
	}
	if p.Draw.Width <= 0 || p.Draw.Height <= 0 {
		return imgerr.New(imgerr.CodeInvalidDimension, "computed draw size %dx%d is not positive", p.Draw.Width, p.Draw.Height)
	}
	return nil
}
