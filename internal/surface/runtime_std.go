//go:build !govips || !cgo

package surface

import (
	"errors"
	"image"
	"strings"
)

func Startup() error {
	return nil
}

func Shutdown() {}

func supports(format string) bool {
	_, ok := stdFormats[strings.ToLower(format)]
	return ok
}

func encode(img image.Image, format string, quality float64) ([]byte, error) {
	return encodeStd(img, format, quality)
}

func decodeNative([]byte) (image.Image, error) {
	return nil, errors.New("native decoding requires the govips build tag")
}
