// Package pipeline renders one image per Request: a single resize-type
// operation, an ordered filter chain and one encode, all on one surface
// allocation. Processor runs a job's steps against a fetched source.
package pipeline

import (
	"context"
	"image"
	"io"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelpass/internal/output"
	"github.com/dunamismax/pixelpass/internal/surface"
)

const tracerName = "github.com/dunamismax/pixelpass/internal/pipeline"

// Decoder turns encoded bytes into pixels.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (image.Image, error)
}

type DecoderFunc func(ctx context.Context, data []byte) (image.Image, error)

func (f DecoderFunc) Decode(ctx context.Context, data []byte) (image.Image, error) {
	return f(ctx, data)
}

// Fetcher resolves a reference (path or URL) to encoded bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

type EngineConfig struct {
	Surfaces surface.Factory
	Decoder  Decoder
	// Fetcher resolves Reference sources. Nil makes references fail to render.
	Fetcher Fetcher
	// Defaults apply to every new request; zero FallbackFormat disables
	// fallback.
	Defaults output.Options
	Logger   *log.Logger
	Tracer   trace.Tracer
}

type Engine struct {
	surfaces surface.Factory
	decoder  Decoder
	fetcher  Fetcher
	defaults output.Options
	logger   *log.Logger
	tracer   trace.Tracer
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		surfaces: cfg.Surfaces,
		decoder:  cfg.Decoder,
		fetcher:  cfg.Fetcher,
		defaults: cfg.Defaults,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
	}
	if e.surfaces == nil {
		e.surfaces = surface.CanvasFactory{}
	}
	if e.decoder == nil {
		e.decoder = DecoderFunc(func(_ context.Context, data []byte) (image.Image, error) {
			return surface.Decode(data)
		})
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// NewRequest returns an empty request; bind a source with Request.Source.
func (e *Engine) NewRequest() *Request {
	return &Request{engine: e, opts: e.defaults}
}

// Load is NewRequest followed by Source.
func (e *Engine) Load(input any) (*Request, error) {
	req := e.NewRequest()
	if err := req.Source(input); err != nil {
		return nil, err
	}
	return req, nil
}

