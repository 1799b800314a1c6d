package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelpass/internal/filter"
	"github.com/dunamismax/pixelpass/internal/fit"
	"github.com/dunamismax/pixelpass/internal/imgerr"
	"github.com/dunamismax/pixelpass/internal/output"
	"github.com/dunamismax/pixelpass/internal/source"
	"github.com/dunamismax/pixelpass/internal/surface"
)

type State int

const (
	StateEmpty State = iota
	StateSourceBound
	StateGeometryPlanned
	StateFiltersQueued
	StateRendered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateSourceBound:
		return "source_bound"
	case StateGeometryPlanned:
		return "geometry_planned"
	case StateFiltersQueued:
		return "filters_queued"
	case StateRendered:
		return "rendered"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) terminal() bool {
	return s == StateRendered || s == StateFailed
}

type geometryKind int

const (
	geometryFit geometryKind = iota + 1
	geometryScale
	geometryCrop
)

type geometry struct {
	kind   geometryKind
	spec   fit.Spec
	sx, sy float64
	crop   fit.Rect
}

// Request is a single-use render. Mutators may be called in any order before
// the terminal call; at most one resize-type call (Resize, Scale, ScaleXY,
// Crop) is accepted. Any failure moves the request to StateFailed for good.
type Request struct {
	engine *Engine

	mu       sync.Mutex
	state    State
	consumed bool
	src      source.Source
	geom     *geometry
	chain    filter.Chain
	opts     output.Options
	failure  error
}

func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the failure that moved the request to StateFailed, if any.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

func (r *Request) Source(input any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.mutable(); err != nil {
		return err
	}
	if r.state != StateEmpty {
		return r.fail(imgerr.New(imgerr.CodeClassification, "request already has a source"))
	}
	src, err := source.Classify(input)
	if err != nil {
		return r.fail(err)
	}
	r.src = src
	r.state = StateSourceBound
	return nil
}

func (r *Request) Resize(spec fit.Spec) error {
	return r.plan(geometry{kind: geometryFit, spec: spec}, spec.Validate)
}

func (r *Request) Scale(factor float64) error {
	return r.ScaleXY(factor, factor)
}

func (r *Request) ScaleXY(sx, sy float64) error {
	return r.plan(geometry{kind: geometryScale, sx: sx, sy: sy}, func() error {
		if !(sx > 0) || !(sy > 0) || math.IsInf(sx, 0) || math.IsInf(sy, 0) {
			return imgerr.New(imgerr.CodeInvalidFitSpec, "scale %gx%g must be positive", sx, sy)
		}
		return nil
	})
}

// Crop cuts region out of the source at native resolution. Bounds against
// the source are checked at render time, once the source size is known.
func (r *Request) Crop(region fit.Rect) error {
	return r.plan(geometry{kind: geometryCrop, crop: region}, func() error {
		if region.Width <= 0 || region.Height <= 0 || region.X < 0 || region.Y < 0 {
			return imgerr.New(imgerr.CodeInvalidDimension,
				"crop region (%d,%d %dx%d) must have a non-negative origin and positive size",
				region.X, region.Y, region.Width, region.Height)
		}
		return nil
	})
}

// plan is the GeometryPlanned guard shared by every resize-type call. A
// second call fails with MultipleResizeNotAllowed before its arguments are
// even looked at.
func (r *Request) plan(g geometry, validate func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.mutable(); err != nil {
		return err
	}
	if err := r.requireSource(); err != nil {
		return err
	}
	if r.geom != nil {
		return r.fail(imgerr.New(imgerr.CodeMultipleResize, "a resize-type operation is already planned for this request"))
	}
	if err := validate(); err != nil {
		return r.fail(err)
	}
	r.geom = &g
	if r.state == StateSourceBound {
		r.state = StateGeometryPlanned
	}
	return nil
}

// Filter queues op after validating it. Order is preserved.
func (r *Request) Filter(ops ...filter.Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.mutable(); err != nil {
		return err
	}
	if err := r.requireSource(); err != nil {
		return err
	}
	for _, op := range ops {
		if err := filter.Validate(op); err != nil {
			return r.fail(err)
		}
	}
	r.chain = append(r.chain, ops...)
	r.state = StateFiltersQueued
	return nil
}

// SetOutput replaces the output options taken from the engine defaults.
func (r *Request) SetOutput(opts output.Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.mutable(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return r.fail(err)
	}
	r.opts = opts
	return nil
}

func (r *Request) ToBinary(ctx context.Context) (output.Binary, error) {
	return r.render(ctx)
}

func (r *Request) ToString(ctx context.Context) (output.Text, error) {
	bin, err := r.render(ctx)
	if err != nil {
		return output.Text{}, err
	}
	return bin.Text(), nil
}

func (r *Request) ToFile(ctx context.Context, name string) (output.File, error) {
	bin, err := r.render(ctx)
	if err != nil {
		return output.File{}, err
	}
	r.mu.Lock()
	auto := r.opts.AutoExtension
	r.mu.Unlock()
	return bin.File(name, auto), nil
}

// mutable must be called with mu held.
func (r *Request) mutable() error {
	if r.consumed || r.state.terminal() {
		return imgerr.New(imgerr.CodeAlreadyConsumed, "request is %s and can no longer be changed", r.state)
	}
	return nil
}

func (r *Request) requireSource() error {
	if r.state == StateEmpty {
		return r.fail(imgerr.New(imgerr.CodeClassification, "no source bound to request"))
	}
	return nil
}

// fail must be called with mu held.
func (r *Request) fail(err error) error {
	r.state = StateFailed
	r.failure = err
	return err
}

// render is the single terminal transition. The request is marked consumed
// before any work starts so a concurrent second call cannot render again.
func (r *Request) render(ctx context.Context) (output.Binary, error) {
	r.mu.Lock()
	if r.consumed || r.state.terminal() {
		state := r.state
		r.mu.Unlock()
		return output.Binary{}, imgerr.New(imgerr.CodeAlreadyConsumed, "request was already consumed (state %s)", state)
	}
	r.consumed = true
	if r.state == StateEmpty {
		err := r.fail(imgerr.New(imgerr.CodeClassification, "no source bound to request"))
		r.mu.Unlock()
		return output.Binary{}, err
	}
	job := renderJob{
		src:   r.src,
		geom:  r.geom,
		chain: append(filter.Chain(nil), r.chain...),
		opts:  r.opts,
	}
	r.mu.Unlock()

	out, err := r.engine.execute(ctx, job)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		return output.Binary{}, r.fail(err)
	}
	r.state = StateRendered
	return out, nil
}

type renderJob struct {
	src   source.Source
	geom  *geometry
	chain filter.Chain
	opts  output.Options
}

func (e *Engine) execute(ctx context.Context, job renderJob) (output.Binary, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "pipeline.render", trace.WithAttributes(
		attribute.String("source.kind", job.src.Kind.String()),
		attribute.Int("filters", len(job.chain)),
	))
	defer span.End()

	out, err := e.executeTraced(ctx, job, started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Printf("render failed source=%s code=%s err=%v", job.src.Kind, imgerr.CodeOf(err), err)
		return output.Binary{}, err
	}

	span.SetAttributes(
		attribute.String("output.format", string(out.Format)),
		attribute.Int("output.bytes", len(out.Data)),
	)
	e.logger.Printf("render complete source=%s format=%s bytes=%d elapsed_ms=%d",
		job.src.Kind, out.Format, len(out.Data), time.Since(started).Milliseconds())
	return out, nil
}

func (e *Engine) executeTraced(ctx context.Context, job renderJob, started time.Time) (output.Binary, error) {
	if err := ctx.Err(); err != nil {
		return output.Binary{}, err
	}

	src, err := e.resolveReference(ctx, job.src)
	if err != nil {
		return output.Binary{}, err
	}

	if out, ok := passthrough(src, job, started); ok {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("passthrough", true))
		return out, nil
	}

	drawable, err := e.drawable(ctx, src)
	if err != nil {
		return output.Binary{}, err
	}

	b := drawable.Bounds()
	plan, err := resolvePlan(fit.Dimensions{Width: b.Dx(), Height: b.Dy()}, job.geom)
	if err != nil {
		return output.Binary{}, err
	}
	if err := ctx.Err(); err != nil {
		return output.Binary{}, err
	}

	surf, err := e.surfaces.CreateSurface(plan.CanvasWidth, plan.CanvasHeight)
	if err != nil {
		return output.Binary{}, err
	}
	defer surf.Release()

	if err := e.draw(ctx, surf, drawable, plan); err != nil {
		return output.Binary{}, err
	}
	if err := e.applyFilters(ctx, surf, job.chain); err != nil {
		return output.Binary{}, err
	}
	if err := ctx.Err(); err != nil {
		return output.Binary{}, err
	}

	// An unset format keeps the source's; ResolveFormat applies the fallback
	// when the surface cannot encode it.
	opts := job.opts
	if opts.Format == "" {
		opts.Format = sourceFormat(src)
	}

	_, span := e.tracer.Start(ctx, "pipeline.encode", trace.WithAttributes(attribute.String("format", string(opts.Format))))
	defer span.End()
	out, err := output.ToBinary(surf, opts, started)
	if err != nil {
		span.RecordError(err)
		return output.Binary{}, err
	}
	return out, nil
}

// resolveReference fetches Reference sources and classifies the bytes, so the
// rest of the render only sees inline kinds.
func (e *Engine) resolveReference(ctx context.Context, src source.Source) (source.Source, error) {
	if src.Kind != source.KindReference {
		return src, nil
	}
	if e.fetcher == nil {
		return source.Source{}, imgerr.New(imgerr.CodeDecode, "no fetcher configured for reference %q", src.Ref)
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.fetch", trace.WithAttributes(attribute.String("ref", src.Ref)))
	defer span.End()

	data, err := e.fetcher.Fetch(ctx, src.Ref)
	if err != nil {
		span.RecordError(err)
		if imgerr.CodeOf(err) == "" {
			err = imgerr.Wrap(imgerr.CodeDecode, err, "fetch %s", src.Ref)
		}
		return source.Source{}, err
	}
	resolved, err := source.Classify(data)
	if err != nil {
		return source.Source{}, err
	}
	return resolved, nil
}

// passthrough returns encoded input untouched when nothing would change it.
func passthrough(src source.Source, job renderJob, started time.Time) (output.Binary, bool) {
	if job.geom != nil || len(job.chain) > 0 {
		return output.Binary{}, false
	}
	if src.Kind != source.KindEncodedBinary && src.Kind != source.KindDataURI {
		return output.Binary{}, false
	}
	var w, h int
	if job.opts.IncludeMetadata {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(src.Data)); err == nil {
			w, h = cfg.Width, cfg.Height
		}
	}
	return output.Passthrough(src.Data, src.MIME, job.opts, started, w, h)
}

func (e *Engine) drawable(ctx context.Context, src source.Source) (surface.Drawable, error) {
	switch src.Kind {
	case source.KindVectorMarkup:
		return surface.ParseVector(src.Markup)
	case source.KindDecodedRaster:
		return src.Raster, nil
	case source.KindEncodedBinary, source.KindDataURI:
		ctx, span := e.tracer.Start(ctx, "pipeline.decode", trace.WithAttributes(attribute.String("mime", src.MIME)))
		defer span.End()
		img, err := e.decoder.Decode(ctx, src.Data)
		if err != nil {
			span.RecordError(err)
			if imgerr.CodeOf(err) == "" {
				err = imgerr.Wrap(imgerr.CodeDecode, err, "decode %s", src.MIME)
			}
			return nil, err
		}
		return img, nil
	default:
		return nil, imgerr.New(imgerr.CodeClassification, "cannot render source of kind %s", src.Kind)
	}
}

func resolvePlan(orig fit.Dimensions, g *geometry) (fit.Plan, error) {
	if g == nil {
		return fit.Passthrough(orig)
	}
	switch g.kind {
	case geometryScale:
		return fit.ResolveScale(orig, g.sx, g.sy)
	case geometryCrop:
		return fit.ResolveCrop(orig, g.crop)
	default:
		return fit.Resolve(orig, g.spec)
	}
}

func (e *Engine) draw(ctx context.Context, surf surface.Surface, src surface.Drawable, plan fit.Plan) error {
	_, span := e.tracer.Start(ctx, "pipeline.draw", trace.WithAttributes(
		attribute.Int("canvas.width", plan.CanvasWidth),
		attribute.Int("canvas.height", plan.CanvasHeight),
	))
	defer span.End()

	bg := plan.Background
	if !plan.FillBackground {
		bg = nil
	}
	if err := surf.DrawSource(src, plan.Draw, bg); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (e *Engine) applyFilters(ctx context.Context, surf surface.Surface, chain filter.Chain) error {
	if len(chain) == 0 {
		return nil
	}
	_, span := e.tracer.Start(ctx, "pipeline.filters", trace.WithAttributes(attribute.Int("ops", len(chain))))
	defer span.End()

	buf, err := surf.PixelBuffer()
	if err != nil {
		return err
	}
	buf, err = filter.ApplyChain(buf, chain)
	if err != nil {
		span.RecordError(err)
		return err
	}
	return surf.SetPixelBuffer(buf)
}

// sourceFormat keeps the input format when it is a known output format.
func sourceFormat(src source.Source) output.Format {
	if f, ok := output.FormatFromMIME(src.MIME); ok {
		return f
	}
	return output.PNG
}

// Options returns the output options the terminal call will use.
func (r *Request) Options() output.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts
}
