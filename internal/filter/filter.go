// Package filter holds the pixel kernels applied after the resize pass, the
// parameter range table that guards them, and the chain optimizer.
//
// Buffers are *image.NRGBA (non-premultiplied RGBA, 8 bits per channel). Per
// pixel kernels never touch alpha.
package filter

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

type Kind int

const (
	Brightness Kind = iota + 1
	Contrast
	Saturation
	Hue
	Grayscale
	Sepia
	Invert
	Noise
	Blur
	Sharpen

	kindCount = int(Sharpen) + 1
)

var kindNames = [kindCount]string{
	Brightness: "brightness",
	Contrast:   "contrast",
	Saturation: "saturation",
	Hue:        "hue",
	Grayscale:  "grayscale",
	Sepia:      "sepia",
	Invert:     "invert",
	Noise:      "noise",
	Blur:       "blur",
	Sharpen:    "sharpen",
}

func (k Kind) String() string {
	if k.valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) valid() bool {
	return k > 0 && int(k) < kindCount
}

func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "greyscale" {
		s = "grayscale"
	}
	for k := Brightness; k.valid(); k++ {
		if kindNames[k] == s {
			return k, true
		}
	}
	return 0, false
}

// Kinds lists the catalog in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := Brightness; k.valid(); k++ {
		out = append(out, k)
	}
	return out
}

// Op is one filter invocation. Params missing from the map take the declared default.
type Op struct {
	Kind   Kind               `json:"kind"`
	Params map[string]float64 `json:"params,omitempty"`
}

func (o Op) String() string {
	if len(o.Params) == 0 {
		return o.Kind.String()
	}
	names := make([]string, 0, len(o.Params))
	for name := range o.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", name, o.Params[name]))
	}
	return fmt.Sprintf("%s(%s)", o.Kind, strings.Join(parts, ","))
}

// Param returns the named parameter, falling back to its declared default.
func (o Op) Param(name string) float64 {
	if v, ok := o.Params[name]; ok {
		return v
	}
	if o.Kind.valid() {
		for _, p := range catalog[o.Kind].params {
			if p.name == name {
				return p.def
			}
		}
	}
	return 0
}

type Chain []Op

type param struct {
	name     string
	min, max float64
	def      float64
}

type definition struct {
	params []param
	// additive kinds merge by summing their single parameter.
	additive bool
}

const (
	MaxBlurRadius      = 100
	MaxSharpenStrength = 10
	MaxNoiseAmount     = 100
	MaxNoiseSeed       = 1 << 53
)

var catalog = [kindCount]definition{
	Brightness: {params: []param{{name: "value", min: -100, max: 100}}, additive: true},
	Contrast:   {params: []param{{name: "value", min: -100, max: 100}}, additive: true},
	Saturation: {params: []param{{name: "value", min: -100, max: 100}}},
	Hue:        {params: []param{{name: "degrees", min: -360, max: 360}}},
	Grayscale:  {},
	Sepia:      {params: []param{{name: "intensity", min: 0, max: 1, def: 1}}},
	Invert:     {},
	Noise: {params: []param{
		{name: "amount", min: 0, max: MaxNoiseAmount, def: 10},
		{name: "seed", min: 0, max: MaxNoiseSeed},
	}},
	Blur:    {params: []param{{name: "radius", min: 0, max: MaxBlurRadius, def: 1}}},
	Sharpen: {params: []param{{name: "strength", min: 0, max: MaxSharpenStrength, def: 1}}},
}

// Validate checks op against the range table. Values are never clamped here.
func Validate(op Op) error {
	if !op.Kind.valid() {
		return imgerr.New(imgerr.CodeFilterValidation, "unknown filter kind %d", int(op.Kind))
	}
	def := catalog[op.Kind]

	for name, v := range op.Params {
		p, ok := def.lookup(name)
		if !ok {
			return imgerr.New(imgerr.CodeFilterValidation, "%s does not take parameter %q", op.Kind, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return imgerr.New(imgerr.CodeFilterValidation, "%s.%s must be a finite number", op.Kind, name)
		}
		if v < p.min || v > p.max {
			return imgerr.New(imgerr.CodeFilterValidation, "%s.%s=%g is outside [%g, %g]", op.Kind, name, v, p.min, p.max)
		}
	}
	return nil
}

// ValidateChain reports the first invalid op, naming its position.
func ValidateChain(chain Chain) error {
	for i, op := range chain {
		if err := Validate(op); err != nil {
			return fmt.Errorf("filter[%d]: %w", i, err)
		}
	}
	return nil
}

func (d definition) lookup(name string) (param, bool) {
	for _, p := range d.params {
		if p.name == name {
			return p, true
		}
	}
	return param{}, false
}

// Optimize merges runs of adjacent same-kind additive ops (brightness,
// contrast) by summing their values, clamped to the parameter range so the
// merged op still validates. Everything else is kept as is, in order.
func Optimize(chain Chain) Chain {
	out := make(Chain, 0, len(chain))
	for _, op := range chain {
		if n := len(out); n > 0 && op.Kind.valid() && catalog[op.Kind].additive && out[n-1].Kind == op.Kind {
			p := catalog[op.Kind].params[0]
			merged := min(max(out[n-1].Param(p.name)+op.Param(p.name), p.min), p.max)
			out[n-1] = Op{Kind: op.Kind, Params: map[string]float64{p.name: merged}}
			continue
		}
		out = append(out, op)
	}
	return out
}
