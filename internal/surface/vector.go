package surface

import (
	"bytes"
	"encoding/xml"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/dunamismax/pixelpass/internal/fit"
	"github.com/dunamismax/pixelpass/internal/imgerr"
)

// Intrinsic size used when a document declares neither a viewBox nor a
// width/height pair.
const (
	DefaultVectorWidth  = 300
	DefaultVectorHeight = 150
)

// Vector is a parsed vector document kept symbolic until it is drawn.
type Vector struct {
	icon   *oksvg.SvgIcon
	width  int
	height int
}

func ParseVector(markup []byte) (*Vector, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(markup), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.CodeDecode, err, "parse vector markup")
	}

	w := int(math.Ceil(icon.ViewBox.W))
	h := int(math.Ceil(icon.ViewBox.H))
	if w <= 0 || h <= 0 {
		w, h = rootSize(markup)
		icon.ViewBox.X, icon.ViewBox.Y = 0, 0
		icon.ViewBox.W, icon.ViewBox.H = float64(w), float64(h)
	}
	return &Vector{icon: icon, width: w, height: h}, nil
}

func (v *Vector) Size() fit.Dimensions {
	return fit.Dimensions{Width: v.width, Height: v.height}
}

func (v *Vector) Bounds() image.Rectangle {
	return image.Rect(0, 0, v.width, v.height)
}

// render rasterizes the document directly at rect on dst.
func (v *Vector) render(dst *image.RGBA, rect fit.Rect) {
	v.icon.SetTarget(float64(rect.X), float64(rect.Y), float64(rect.Width), float64(rect.Height))
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	v.icon.Draw(dasher, 1.0)
}

// rootSize reads width/height from the root element, falling back to the
// default intrinsic size.
func rootSize(markup []byte) (int, int) {
	dec := xml.NewDecoder(bytes.NewReader(markup))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return DefaultVectorWidth, DefaultVectorHeight
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		w, h := DefaultVectorWidth, DefaultVectorHeight
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "width":
				if n, ok := parseLength(attr.Value); ok {
					w = n
				}
			case "height":
				if n, ok := parseLength(attr.Value); ok {
					h = n
				}
			}
		}
		return w, h
	}
}

func parseLength(s string) (int, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int(math.Ceil(f)), true
}
