package surface

import (
	"bytes"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

// DefaultQuality applies when a caller passes quality 0.
const DefaultQuality = 0.92

var stdFormats = map[string]imaging.Format{
	"png":  imaging.PNG,
	"jpeg": imaging.JPEG,
	"gif":  imaging.GIF,
	"bmp":  imaging.BMP,
	"tiff": imaging.TIFF,
}

// Decode turns encoded bytes into a raster, honoring EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, imgerr.New(imgerr.CodeDecode, "empty image payload")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	if native, nerr := decodeNative(data); nerr == nil {
		return native, nil
	}
	return nil, imgerr.Wrap(imgerr.CodeDecode, err, "decode image")
}

// Supported reports whether the active build can encode format.
func Supported(format string) bool {
	return supports(format)
}

func encodeStd(img image.Image, format string, quality float64) ([]byte, error) {
	f, ok := stdFormats[strings.ToLower(format)]
	if !ok {
		return nil, imgerr.New(imgerr.CodeUnsupportedFormat, "format %q cannot be encoded by this build", format)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(qualityPercent(quality))); err != nil {
		return nil, imgerr.Wrap(imgerr.CodeEncode, err, "encode %s", format)
	}
	return buf.Bytes(), nil
}

// qualityPercent maps (0, 1] onto the 1..100 scale encoders take.
func qualityPercent(q float64) int {
	if q <= 0 || math.IsNaN(q) {
		q = DefaultQuality
	}
	p := int(math.Round(q * 100))
	if p < 1 {
		return 1
	}
	if p > 100 {
		return 100
	}
	return p
}
