package filter

import (
	"fmt"
	"image"
	"math"
	"math/rand/v2"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// Apply runs one op over buf. Per-pixel kernels work in place and return buf;
// neighborhood kernels (blur, sharpen) return a new buffer of the same size.
func Apply(buf *image.NRGBA, op Op) (*image.NRGBA, error) {
	if buf == nil {
		return nil, fmt.Errorf("apply %s: nil pixel buffer", op.Kind)
	}
	if err := Validate(op); err != nil {
		return nil, err
	}
	return apply(buf, op), nil
}

// ApplyChain validates the whole chain before touching any pixel, then runs
// the optimized chain in order.
func ApplyChain(buf *image.NRGBA, chain Chain) (*image.NRGBA, error) {
	if buf == nil {
		return nil, fmt.Errorf("apply chain: nil pixel buffer")
	}
	if err := ValidateChain(chain); err != nil {
		return nil, err
	}
	for _, op := range Optimize(chain) {
		buf = apply(buf, op)
	}
	return buf, nil
}

func apply(buf *image.NRGBA, op Op) *image.NRGBA {
	switch op.Kind {
	case Brightness:
		brightness(buf, op.Param("value"))
	case Contrast:
		contrast(buf, op.Param("value"))
	case Saturation:
		saturation(buf, op.Param("value"))
	case Hue:
		hue(buf, op.Param("degrees"))
	case Grayscale:
		grayscale(buf)
	case Sepia:
		sepia(buf, op.Param("intensity"))
	case Invert:
		invert(buf)
	case Noise:
		seed, seeded := op.Params["seed"]
		noise(buf, op.Param("amount"), uint64(seed), seeded)
	case Blur:
		return boxBlur(buf, op.Param("radius"))
	case Sharpen:
		return sharpen(buf, op.Param("strength"))
	}
	return buf
}

// eachPixel hands fn the 4-byte RGBA slice of every pixel inside buf.Rect.
func eachPixel(buf *image.NRGBA, fn func(px []uint8)) {
	b := buf.Rect
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := buf.Pix[buf.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			fn(row[x*4 : x*4+4 : x*4+4])
		}
	}
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}

func brightness(buf *image.NRGBA, value float64) {
	offset := value * 255 / 100
	eachPixel(buf, func(px []uint8) {
		px[0] = clamp8(float64(px[0]) + offset)
		px[1] = clamp8(float64(px[1]) + offset)
		px[2] = clamp8(float64(px[2]) + offset)
	})
}

// contrast scales each channel around the 128 midpoint; -100 flattens to gray.
func contrast(buf *image.NRGBA, value float64) {
	factor := math.Max(0, 1+value/100)
	eachPixel(buf, func(px []uint8) {
		px[0] = clamp8((float64(px[0])-128)*factor + 128)
		px[1] = clamp8((float64(px[1])-128)*factor + 128)
		px[2] = clamp8((float64(px[2])-128)*factor + 128)
	})
}

func saturation(buf *image.NRGBA, value float64) {
	factor := math.Max(0, 1+value/100)
	eachHSL(buf, func(h, s, l float64) (float64, float64, float64) {
		return h, math.Min(1, s*factor), l
	})
}

func hue(buf *image.NRGBA, degrees float64) {
	eachHSL(buf, func(h, s, l float64) (float64, float64, float64) {
		h = math.Mod(h+degrees, 360)
		if h < 0 {
			h += 360
		}
		return h, s, l
	})
}

func eachHSL(buf *image.NRGBA, fn func(h, s, l float64) (float64, float64, float64)) {
	eachPixel(buf, func(px []uint8) {
		c := colorful.Color{R: float64(px[0]) / 255, G: float64(px[1]) / 255, B: float64(px[2]) / 255}
		out := colorful.Hsl(fn(c.Hsl())).Clamped()
		px[0], px[1], px[2] = out.RGB255()
	})
}

func grayscale(buf *image.NRGBA) {
	eachPixel(buf, func(px []uint8) {
		y := clamp8(0.299*float64(px[0]) + 0.587*float64(px[1]) + 0.114*float64(px[2]))
		px[0], px[1], px[2] = y, y, y
	})
}

// sepia blends toward the classic sepia color matrix by intensity.
func sepia(buf *image.NRGBA, intensity float64) {
	eachPixel(buf, func(px []uint8) {
		r, g, b := float64(px[0]), float64(px[1]), float64(px[2])
		sr := 0.393*r + 0.769*g + 0.189*b
		sg := 0.349*r + 0.686*g + 0.168*b
		sb := 0.272*r + 0.534*g + 0.131*b
		px[0] = clamp8(r + (sr-r)*intensity)
		px[1] = clamp8(g + (sg-g)*intensity)
		px[2] = clamp8(b + (sb-b)*intensity)
	})
}

func invert(buf *image.NRGBA) {
	eachPixel(buf, func(px []uint8) {
		px[0] = 255 - px[0]
		px[1] = 255 - px[1]
		px[2] = 255 - px[2]
	})
}

// noise adds one monochrome offset in [-amount%, +amount%] of full scale per
// pixel. The same seed always yields the same perturbation.
func noise(buf *image.NRGBA, amount float64, seed uint64, seeded bool) {
	if !seeded {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	span := amount * 255 / 100
	eachPixel(buf, func(px []uint8) {
		offset := (rng.Float64()*2 - 1) * span
		px[0] = clamp8(float64(px[0]) + offset)
		px[1] = clamp8(float64(px[1]) + offset)
		px[2] = clamp8(float64(px[2]) + offset)
	})
}

func boxBlur(buf *image.NRGBA, radius float64) *image.NRGBA {
	if radius <= 0 {
		return buf
	}
	return imaging.Clone(blur.Box(buf, radius))
}

func sharpen(buf *image.NRGBA, strength float64) *image.NRGBA {
	if strength <= 0 {
		return buf
	}
	return imaging.Sharpen(buf, strength)
}
