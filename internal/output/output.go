// Package output turns a finished surface into bytes, a data URI string or a
// named file, applying format fallback and optional render metadata.
package output

import (
	"encoding/base64"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

const DefaultQuality = 0.92

// Encoder is the part of a rendering surface the converter uses.
type Encoder interface {
	Width() int
	Height() int
	Supports(format string) bool
	Encode(format string, quality float64) ([]byte, error)
}

type Options struct {
	Format Format `json:"format,omitempty" yaml:"format,omitempty"`
	// Quality is in [0, 1]; 0 selects DefaultQuality.
	Quality         float64 `json:"quality,omitempty" yaml:"quality,omitempty"`
	IncludeMetadata bool    `json:"include_metadata,omitempty" yaml:"include_metadata,omitempty"`
	// FallbackFormat is used when Format cannot be encoded. Empty disables
	// fallback.
	FallbackFormat Format `json:"fallback_format,omitempty" yaml:"fallback_format,omitempty"`
	AutoExtension  bool   `json:"auto_extension,omitempty" yaml:"auto_extension,omitempty"`
}

func DefaultOptions() Options {
	return Options{
		Format:         PNG,
		Quality:        DefaultQuality,
		FallbackFormat: PNG,
		AutoExtension:  true,
	}
}

// Validate rejects quality outside [0, 1] and unknown format names.
func (o Options) Validate() error {
	if o.Quality < 0 || o.Quality > 1 {
		return imgerr.New(imgerr.CodeFilterValidation, "quality %g is outside [0, 1]", o.Quality)
	}
	if o.Format != "" && !o.Format.Valid() {
		return imgerr.New(imgerr.CodeUnsupportedFormat, "unknown output format %q", o.Format)
	}
	if o.FallbackFormat != "" && !o.FallbackFormat.Valid() {
		return imgerr.New(imgerr.CodeUnsupportedFormat, "unknown fallback format %q", o.FallbackFormat)
	}
	return nil
}

type Metadata struct {
	Width   int           `json:"width"`
	Height  int           `json:"height"`
	Elapsed time.Duration `json:"elapsed"`
}

type Binary struct {
	Data     []byte
	Format   Format
	MIME     string
	Metadata *Metadata
}

type Text struct {
	Value    string
	Format   Format
	MIME     string
	Metadata *Metadata
}

type File struct {
	Name     string
	Data     []byte
	Format   Format
	MIME     string
	Metadata *Metadata
}

// ResolveFormat picks the requested format when enc supports it, else the
// configured fallback. No fallback yields UnsupportedFormat.
func ResolveFormat(enc Encoder, opts Options) (Format, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	want := opts.Format
	if want == "" {
		want = PNG
	}
	if enc.Supports(string(want)) {
		return want, nil
	}
	if opts.FallbackFormat == "" {
		return "", imgerr.New(imgerr.CodeUnsupportedFormat, "%s is not supported and no fallback is configured", want)
	}
	if !enc.Supports(string(opts.FallbackFormat)) {
		return "", imgerr.New(imgerr.CodeUnsupportedFormat, "neither %s nor fallback %s is supported", want, opts.FallbackFormat)
	}
	return opts.FallbackFormat, nil
}

// ToBinary encodes enc. started is when the render began; it feeds Elapsed.
func ToBinary(enc Encoder, opts Options, started time.Time) (Binary, error) {
	format, err := ResolveFormat(enc, opts)
	if err != nil {
		return Binary{}, err
	}
	data, err := enc.Encode(string(format), opts.Quality)
	if err != nil {
		if imgerr.CodeOf(err) == "" {
			err = imgerr.Wrap(imgerr.CodeEncode, err, "encode %s", format)
		}
		return Binary{}, err
	}

	out := Binary{Data: data, Format: format, MIME: format.MIME()}
	if opts.IncludeMetadata {
		out.Metadata = &Metadata{Width: enc.Width(), Height: enc.Height(), Elapsed: time.Since(started)}
	}
	return out, nil
}

func ToString(enc Encoder, opts Options, started time.Time) (Text, error) {
	bin, err := ToBinary(enc, opts, started)
	if err != nil {
		return Text{}, err
	}
	return bin.Text(), nil
}

func ToFile(enc Encoder, name string, opts Options, started time.Time) (File, error) {
	bin, err := ToBinary(enc, opts, started)
	if err != nil {
		return File{}, err
	}
	return bin.File(name, opts.AutoExtension), nil
}

// Text renders the payload as a base64 data URI.
func (b Binary) Text() Text {
	return Text{
		Value:    DataURI(b.MIME, b.Data),
		Format:   b.Format,
		MIME:     b.MIME,
		Metadata: b.Metadata,
	}
}

func (b Binary) File(name string, autoExtension bool) File {
	prev, known := FormatFromName(name)
	changed := !known || prev != b.Format
	return File{
		Name:     FileName(name, b.Format, changed, autoExtension),
		Data:     b.Data,
		Format:   b.Format,
		MIME:     b.MIME,
		Metadata: b.Metadata,
	}
}

func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// FileName applies extension rules: a name without an extension always gets
// one; with auto set and a changed format the last extension is replaced;
// otherwise the name is kept verbatim.
func FileName(name string, format Format, changed, auto bool) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "image"
	}
	ext := path.Ext(name)
	if ext == "" || ext == "." {
		return strings.TrimSuffix(name, ".") + "." + format.Extension()
	}
	if auto && changed {
		return strings.TrimSuffix(name, ext) + "." + format.Extension()
	}
	return name
}

// Passthrough returns the caller's bytes untouched when they are already in
// the requested format. The returned Data aliases data.
func Passthrough(data []byte, mime string, opts Options, started time.Time, width, height int) (Binary, bool) {
	current, ok := FormatFromMIME(mime)
	if !ok {
		return Binary{}, false
	}
	if opts.Format != "" && opts.Format != current {
		return Binary{}, false
	}
	out := Binary{Data: data, Format: current, MIME: current.MIME()}
	if opts.IncludeMetadata {
		out.Metadata = &Metadata{Width: width, Height: height, Elapsed: time.Since(started)}
	}
	return out, true
}
