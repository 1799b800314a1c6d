// Package surface is the raster drawing target every render goes through.
//
// A Surface is allocated once per render at the final canvas size, receives
// exactly one DrawSource call, exposes its pixels for the filter pass and is
// encoded at the end. Raster sources are composited with gg or scaled in a
// single CatmullRom pass; vector sources are rasterized straight into the
// destination rectangle.
package surface

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/dunamismax/pixelpass/internal/fit"
	"github.com/dunamismax/pixelpass/internal/imgerr"
)

// DefaultMaxPixels bounds a single canvas allocation (about 268 megapixels).
const DefaultMaxPixels = 1 << 28

var ErrReleased = errors.New("surface already released")

// Drawable is a decoded raster (any image.Image) or a parsed *Vector.
type Drawable interface {
	Bounds() image.Rectangle
}

type Surface interface {
	Width() int
	Height() int
	// DrawSource places src at rect. A non-nil background is painted over the
	// whole canvas first.
	DrawSource(src Drawable, rect fit.Rect, background color.Color) error
	// PixelBuffer returns a non-premultiplied copy of the canvas. Edits are
	// only visible after SetPixelBuffer.
	PixelBuffer() (*image.NRGBA, error)
	SetPixelBuffer(buf *image.NRGBA) error
	// Encode takes a canonical format name ("png", "jpeg", ...) and a quality
	// in (0, 1].
	Encode(format string, quality float64) ([]byte, error)
	Supports(format string) bool
	Release()
}

type Factory interface {
	CreateSurface(width, height int) (Surface, error)
}

// CanvasFactory allocates gg-backed canvases.
type CanvasFactory struct {
	MaxPixels int64
}

func (f CanvasFactory) CreateSurface(width, height int) (Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, imgerr.New(imgerr.CodeInvalidDimension, "canvas %dx%d must be positive", width, height)
	}
	limit := f.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	// Compared by division: width*height can overflow int64.
	if int64(width) > limit/int64(height) {
		return nil, imgerr.New(imgerr.CodeInvalidDimension, "canvas %dx%d exceeds %d pixels", width, height, limit)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	return &Canvas{rgba: rgba, dc: gg.NewContextForRGBA(rgba)}, nil
}

// Canvas draws into an *image.RGBA through gg. After SetPixelBuffer the
// filtered NRGBA buffer becomes the encode source.
type Canvas struct {
	rgba  *image.RGBA
	dc    *gg.Context
	pix   *image.NRGBA
	drawn bool
}

func (c *Canvas) Width() int {
	if c.rgba == nil {
		return 0
	}
	return c.rgba.Rect.Dx()
}

func (c *Canvas) Height() int {
	if c.rgba == nil {
		return 0
	}
	return c.rgba.Rect.Dy()
}

func (c *Canvas) DrawSource(src Drawable, rect fit.Rect, background color.Color) error {
	if c.rgba == nil {
		return ErrReleased
	}
	if c.drawn {
		return imgerr.New(imgerr.CodeMultipleResize, "surface already holds a drawn source")
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return imgerr.New(imgerr.CodeInvalidDimension, "draw rect %dx%d must be positive", rect.Width, rect.Height)
	}
	c.drawn = true

	if background != nil {
		if _, _, _, a := background.RGBA(); a > 0 {
			c.dc.SetColor(background)
			c.dc.Clear()
		}
	}

	switch v := src.(type) {
	case *Vector:
		v.render(c.rgba, rect)
	case image.Image:
		c.drawRaster(v, rect)
	default:
		return fmt.Errorf("draw source: unsupported drawable %T", src)
	}
	return nil
}

// drawRaster blits at native size, or scales once with CatmullRom when the
// rect differs from the source size.
func (c *Canvas) drawRaster(img image.Image, rect fit.Rect) {
	b := img.Bounds()
	if b.Dx() == rect.Width && b.Dy() == rect.Height {
		c.dc.DrawImage(img, rect.X-b.Min.X, rect.Y-b.Min.Y)
		return
	}
	dr := image.Rect(rect.X, rect.Y, rect.X+rect.Width, rect.Y+rect.Height)
	xdraw.CatmullRom.Scale(c.rgba, dr, img, b, xdraw.Over, nil)
}

func (c *Canvas) PixelBuffer() (*image.NRGBA, error) {
	if c.rgba == nil {
		return nil, ErrReleased
	}
	if c.pix != nil {
		return imaging.Clone(c.pix), nil
	}
	return imaging.Clone(c.rgba), nil
}

func (c *Canvas) SetPixelBuffer(buf *image.NRGBA) error {
	if c.rgba == nil {
		return ErrReleased
	}
	if buf == nil {
		return errors.New("set pixel buffer: nil buffer")
	}
	if buf.Rect.Dx() != c.Width() || buf.Rect.Dy() != c.Height() {
		return imgerr.New(imgerr.CodeInvalidDimension,
			"pixel buffer %dx%d does not match canvas %dx%d", buf.Rect.Dx(), buf.Rect.Dy(), c.Width(), c.Height())
	}
	c.pix = buf
	draw.Draw(c.rgba, c.rgba.Rect, buf, buf.Rect.Min, draw.Src)
	return nil
}

func (c *Canvas) Encode(format string, quality float64) ([]byte, error) {
	if c.rgba == nil {
		return nil, ErrReleased
	}
	var img image.Image = c.rgba
	if c.pix != nil {
		img = c.pix
	}
	return encode(img, format, quality)
}

func (c *Canvas) Supports(format string) bool {
	return supports(format)
}

func (c *Canvas) Release() {
	c.rgba = nil
	c.dc = nil
	c.pix = nil
}

// Image exposes the current canvas content for callers that need a handle
// rather than encoded bytes.
func (c *Canvas) Image() image.Image {
	if c.pix != nil {
		return c.pix
	}
	if c.rgba == nil {
		return nil
	}
	return c.rgba
}
