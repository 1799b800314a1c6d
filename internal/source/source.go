// Package source decides what kind of image input a caller handed us before
// anything is fetched, decoded or rendered.
//
// Classification is ordered: byte-order mark, comments and the XML prolog are
// skipped first, then the first real tag decides whether the text is vector
// markup, then data URIs, then references (paths and URLs), and finally raw
// binary. Text that merely mentions <svg> somewhere is never vector markup.
package source

import (
	"fmt"
	"image"
	"net/url"
	"strings"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindVectorMarkup
	KindDataURI
	KindReference
	KindEncodedBinary
	KindDecodedRaster
)

func (k Kind) String() string {
	switch k {
	case KindVectorMarkup:
		return "vector_markup"
	case KindDataURI:
		return "data_uri"
	case KindReference:
		return "reference"
	case KindEncodedBinary:
		return "encoded_binary"
	case KindDecodedRaster:
		return "decoded_raster"
	default:
		return "unknown"
	}
}

const MIMEVector = "image/svg+xml"

// Source is the classified input. Which fields are set depends on Kind:
//
//	KindVectorMarkup   Markup
//	KindDataURI        MIME, Data (decoded payload)
//	KindReference      Ref
//	KindEncodedBinary  MIME, Data
//	KindDecodedRaster  Raster
type Source struct {
	Kind   Kind
	Markup []byte
	MIME   string
	Data   []byte
	Ref    string
	Raster image.Image
}

// Binary is an encoded image with a caller-declared MIME type.
type Binary struct {
	Data []byte
	MIME string
}

// Classify never panics. Unsupported inputs return an imgerr ClassificationFailure.
func Classify(input any) (Source, error) {
	switch v := input.(type) {
	case nil:
		return Source{}, imgerr.New(imgerr.CodeClassification, "input is nil")
	case Source:
		if v.Kind == KindUnknown {
			return Source{}, imgerr.New(imgerr.CodeClassification, "source has no kind")
		}
		return v, nil
	case image.Image:
		return classifyRaster(v)
	case string:
		return classifyString(v)
	case []byte:
		return classifyBytes(v, "")
	case Binary:
		return classifyBytes(v.Data, v.MIME)
	case *Binary:
		if v == nil {
			return Source{}, imgerr.New(imgerr.CodeClassification, "input is nil")
		}
		return classifyBytes(v.Data, v.MIME)
	case *url.URL:
		if v == nil {
			return Source{}, imgerr.New(imgerr.CodeClassification, "input is nil")
		}
		return classifyString(v.String())
	case fmt.Stringer:
		return classifyString(v.String())
	default:
		return Source{}, imgerr.New(imgerr.CodeClassification, "unsupported input type %T", input)
	}
}

func classifyRaster(img image.Image) (Source, error) {
	if isNilRaster(img) {
		return Source{}, imgerr.New(imgerr.CodeClassification, "raster handle is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Source{}, imgerr.New(imgerr.CodeClassification, "raster handle has empty bounds %v", b)
	}
	return Source{Kind: KindDecodedRaster, Raster: img}, nil
}

// isNilRaster catches typed nil pointers such as (*image.RGBA)(nil).
func isNilRaster(img image.Image) (isNil bool) {
	defer func() {
		if recover() != nil {
			isNil = true
		}
	}()
	_ = img.Bounds()
	return false
}

func classifyString(s string) (Source, error) {
	s = strings.TrimPrefix(s, "\uFEFF")
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Source{}, imgerr.New(imgerr.CodeClassification, "input string is empty")
	}

	if IsVectorMarkup(trimmed) {
		return Source{Kind: KindVectorMarkup, Markup: []byte(trimmed)}, nil
	}

	if hasDataScheme(trimmed) {
		return classifyDataURI(trimmed)
	}

	if isReference(trimmed) {
		return Source{Kind: KindReference, Ref: trimmed}, nil
	}

	return Source{}, imgerr.New(imgerr.CodeClassification, "string is neither vector markup, a data URI nor a reference")
}

func classifyBytes(data []byte, declared string) (Source, error) {
	if len(data) == 0 {
		return Source{}, imgerr.New(imgerr.CodeClassification, "binary input is empty")
	}

	mime := normalizeMIME(declared)
	if mime == "" {
		mime = sniffMIME(data)
	}

	if mime == MIMEVector || looksTextual(mime) {
		text := strings.TrimPrefix(string(data), "\uFEFF")
		if IsVectorMarkup(text) {
			return Source{Kind: KindVectorMarkup, Markup: []byte(strings.TrimSpace(text))}, nil
		}
		if mime == MIMEVector {
			return Source{}, imgerr.New(imgerr.CodeClassification, "declared %s but root element is not <svg>", MIMEVector)
		}
	}

	return Source{Kind: KindEncodedBinary, MIME: mime, Data: data}, nil
}
