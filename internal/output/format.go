package output

import (
	"path"
	"strings"
)

type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
	WebP Format = "webp"
	AVIF Format = "avif"
)

type formatInfo struct {
	mime string
	ext  string
}

var formatTable = map[Format]formatInfo{
	PNG:  {mime: "image/png", ext: "png"},
	JPEG: {mime: "image/jpeg", ext: "jpg"},
	GIF:  {mime: "image/gif", ext: "gif"},
	BMP:  {mime: "image/bmp", ext: "bmp"},
	TIFF: {mime: "image/tiff", ext: "tiff"},
	WebP: {mime: "image/webp", ext: "webp"},
	AVIF: {mime: "image/avif", ext: "avif"},
}

var formatAliases = map[string]Format{
	"jpg":      JPEG,
	"jpe":      JPEG,
	"tif":      TIFF,
	"x-ms-bmp": BMP,
}

// Formats lists every format the converter knows, in a stable order.
func Formats() []Format {
	return []Format{PNG, JPEG, GIF, BMP, TIFF, WebP, AVIF}
}

// ParseFormat accepts names, common aliases and a leading dot ("jpg", ".TIF").
func ParseFormat(s string) (Format, bool) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	if f, ok := formatAliases[s]; ok {
		return f, true
	}
	if _, ok := formatTable[Format(s)]; ok {
		return Format(s), true
	}
	return "", false
}

func FormatFromMIME(mime string) (Format, bool) {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	sub, ok := strings.CutPrefix(mime, "image/")
	if !ok {
		return "", false
	}
	return ParseFormat(sub)
}

// FormatFromName looks at the file extension only.
func FormatFromName(name string) (Format, bool) {
	ext := path.Ext(strings.ReplaceAll(name, `\`, "/"))
	if ext == "" {
		return "", false
	}
	return ParseFormat(ext)
}

func (f Format) MIME() string {
	if info, ok := formatTable[f]; ok {
		return info.mime
	}
	return "application/octet-stream"
}

// Extension is the preferred file extension without the dot; jpeg maps to jpg.
func (f Format) Extension() string {
	if info, ok := formatTable[f]; ok {
		return info.ext
	}
	return string(f)
}

func (f Format) Valid() bool {
	_, ok := formatTable[f]
	return ok
}
