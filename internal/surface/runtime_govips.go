//go:build govips && cgo

package surface

import (
	"bytes"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func supports(format string) bool {
	switch strings.ToLower(format) {
	case "webp", "avif":
		return true
	}
	_, ok := stdFormats[strings.ToLower(format)]
	return ok
}

// encode hands webp and avif to libvips; everything else stays on the
// pure-Go encoders.
func encode(img image.Image, format string, quality float64) ([]byte, error) {
	format = strings.ToLower(format)
	if format != "webp" && format != "avif" {
		return encodeStd(img, format, quality)
	}

	var staged bytes.Buffer
	if err := imaging.Encode(&staged, img, imaging.PNG); err != nil {
		return nil, imgerr.Wrap(imgerr.CodeEncode, err, "stage %s export", format)
	}
	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return nil, imgerr.Wrap(imgerr.CodeEncode, err, "load %s export", format)
	}
	defer ref.Close()

	var data []byte
	switch format {
	case "webp":
		params := vips.NewWebpExportParams()
		params.Quality = qualityPercent(quality)
		data, _, err = ref.ExportWebp(params)
	case "avif":
		params := vips.NewAvifExportParams()
		params.Quality = qualityPercent(quality)
		data, _, err = ref.ExportAvif(params)
	}
	if err != nil {
		return nil, imgerr.Wrap(imgerr.CodeEncode, err, "encode %s", format)
	}
	return data, nil
}

// decodeNative covers formats the Go decoders do not know (heif, avif, ...).
func decodeNative(data []byte) (image.Image, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("vips autorotate: %w", err)
	}
	img, err := ref.ToImage(vips.NewDefaultExportParams())
	if err != nil {
		return nil, fmt.Errorf("vips to image: %w", err)
	}
	return img, nil
}
