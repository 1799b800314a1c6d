package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dunamismax/pixelpass/internal/filter"
	"github.com/dunamismax/pixelpass/internal/fit"
	"github.com/dunamismax/pixelpass/internal/imgerr"
	"github.com/dunamismax/pixelpass/internal/output"
	"github.com/dunamismax/pixelpass/internal/surface"
)

func TestRenderCoverScenario(t *testing.T) {
	engine := NewEngine(EngineConfig{})
	req, err := engine.Load(buildTestPNG(t, 800, 600))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if req.State() != StateSourceBound {
		t.Fatalf("expected source_bound, got %s", req.State())
	}

	if err := req.Resize(fit.Spec{Mode: fit.ModeCover, Width: 300, Height: 200}); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if req.State() != StateGeometryPlanned {
		t.Fatalf("expected geometry_planned, got %s", req.State())
	}
	opts := output.DefaultOptions()
	opts.IncludeMetadata = true
	if err := req.SetOutput(opts); err != nil {
		t.Fatalf("set output: %v", err)
	}

	out, err := req.ToBinary(context.Background())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if req.State() != StateRendered {
		t.Fatalf("expected rendered, got %s", req.State())
	}
	if out.Format != output.PNG || out.MIME != "image/png" {
		t.Fatalf("unexpected format %s (%s)", out.Format, out.MIME)
	}
	if out.Metadata == nil || out.Metadata.Width != 300 || out.Metadata.Height != 200 {
		t.Fatalf("unexpected metadata %+v", out.Metadata)
	}

	img := decodePNG(t, out.Data)
	if b := img.Bounds(); b.Dx() != 300 || b.Dy() != 200 {
		t.Fatalf("expected 300x200, got %dx%d", b.Dx(), b.Dy())
	}
	// Cover leaves no transparent border.
	for _, p := range []image.Point{{0, 0}, {299, 0}, {0, 199}, {299, 199}} {
		if _, _, _, a := img.At(p.X, p.Y).RGBA(); a>>8 < 250 {
			t.Fatalf("expected opaque pixel at %v, alpha=%d", p, a>>8)
		}
	}
}

func TestSecondResizeFailsEvenWithFiltersBetween(t *testing.T) {
	req, err := NewEngine(EngineConfig{}).Load(buildTestPNG(t, 40, 30))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.Filter(filter.Of(filter.Grayscale)); err != nil {
		t.Fatalf("filter before resize: %v", err)
	}
	if err := req.Resize(fit.Spec{Mode: fit.ModeContain, Width: 20}); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := req.Filter(filter.Of(filter.Brightness, 10)); err != nil {
		t.Fatalf("filter: %v", err)
	}
	if req.State() != StateFiltersQueued {
		t.Fatalf("expected filters_queued, got %s", req.State())
	}

	err = req.Scale(2)
	if !errors.Is(err, imgerr.ErrMultipleResize) {
		t.Fatalf("expected MultipleResizeNotAllowed, got %v", err)
	}
	if req.State() != StateFailed {
		t.Fatalf("expected failed, got %s", req.State())
	}
	if !errors.Is(req.Err(), imgerr.ErrMultipleResize) {
		t.Fatalf("expected stored failure, got %v", req.Err())
	}

	if _, err := req.ToBinary(context.Background()); !errors.Is(err, imgerr.ErrAlreadyConsumed) {
		t.Fatalf("expected AlreadyConsumed after failure, got %v", err)
	}
}

func TestSecondResizeWinsOverBadArguments(t *testing.T) {
	req, err := NewEngine(EngineConfig{}).Load(buildTestPNG(t, 10, 10))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.Crop(fit.Rect{Width: 5, Height: 5}); err != nil {
		t.Fatalf("crop: %v", err)
	}
	if err := req.Scale(-1); !errors.Is(err, imgerr.ErrMultipleResize) {
		t.Fatalf("expected MultipleResizeNotAllowed, got %v", err)
	}
}

func TestTerminalCallIsSingleUse(t *testing.T) {
	req, err := NewEngine(EngineConfig{}).Load(buildTestPNG(t, 16, 16))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.Scale(0.5); err != nil {
		t.Fatalf("scale: %v", err)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		consumed  atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := req.ToString(context.Background())
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, imgerr.ErrAlreadyConsumed):
				consumed.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 || consumed.Load() != 3 {
		t.Fatalf("expected 1 render and 3 AlreadyConsumed, got %d and %d", succeeded.Load(), consumed.Load())
	}
	if err := req.Filter(filter.Of(filter.Invert)); !errors.Is(err, imgerr.ErrAlreadyConsumed) {
		t.Fatalf("expected mutator after render to fail, got %v", err)
	}
}

func TestPassthroughReturnsCallerBytes(t *testing.T) {
	data := buildTestPNG(t, 12, 8)
	req, err := NewEngine(EngineConfig{}).Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := req.ToBinary(context.Background())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(out.Data) != len(data) || &out.Data[0] != &data[0] {
		t.Fatal("expected passthrough to return the caller's slice")
	}
}

func TestPassthroughSkippedForFormatChange(t *testing.T) {
	data := buildTestPNG(t, 12, 8)
	req, err := NewEngine(EngineConfig{}).Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.SetOutput(output.Options{Format: output.JPEG}); err != nil {
		t.Fatalf("set output: %v", err)
	}
	out, err := req.ToBinary(context.Background())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Format != output.JPEG || bytes.Equal(out.Data, data) {
		t.Fatalf("expected a jpeg re-encode, got %s", out.Format)
	}
}

func TestRenderVectorAtTargetSize(t *testing.T) {
	markup := `<?xml version="1.0"?>
<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10" viewBox="0 0 10 10">
  <rect x="0" y="0" width="10" height="10" fill="#ff0000"/>
</svg>`
	req, err := NewEngine(EngineConfig{}).Load(markup)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.Resize(fit.Spec{Mode: fit.ModeFill, Width: 64, Height: 64}); err != nil {
		t.Fatalf("resize: %v", err)
	}
	out, err := req.ToBinary(context.Background())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Format != output.PNG {
		t.Fatalf("expected png for vector source, got %s", out.Format)
	}
	img := decodePNG(t, out.Data)
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("expected 64x64, got %v", b)
	}
	r, g, b, a := img.At(32, 32).RGBA()
	if r>>8 < 250 || g>>8 > 5 || b>>8 > 5 || a>>8 < 250 {
		t.Fatalf("expected solid red center, got %d %d %d %d", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestRenderDecodedRasterWithFilters(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for i := range src.Pix {
		src.Pix[i] = 200
		if i%4 == 3 {
			src.Pix[i] = 255
		}
	}
	req, err := NewEngine(EngineConfig{}).Load(src)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.Filter(filter.Of(filter.Invert)); err != nil {
		t.Fatalf("filter: %v", err)
	}
	out, err := req.ToBinary(context.Background())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img := decodePNG(t, out.Data)
	r, _, _, a := img.At(5, 5).RGBA()
	if r>>8 != 55 || a>>8 != 255 {
		t.Fatalf("expected inverted color with untouched alpha, got r=%d a=%d", r>>8, a>>8)
	}
}

func TestRenderReferenceThroughFetcher(t *testing.T) {
	fetcher := &staticFetcher{data: buildTestPNG(t, 100, 50)}
	req, err := NewEngine(EngineConfig{Fetcher: fetcher}).Load("https://images.example.com/a.png")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.Scale(0.5); err != nil {
		t.Fatalf("scale: %v", err)
	}
	out, err := req.ToFile(context.Background(), "thumb")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if fetcher.ref != "https://images.example.com/a.png" {
		t.Fatalf("unexpected ref %q", fetcher.ref)
	}
	if out.Name != "thumb.png" {
		t.Fatalf("expected thumb.png, got %s", out.Name)
	}
	if b := decodePNG(t, out.Data).Bounds(); b.Dx() != 50 || b.Dy() != 25 {
		t.Fatalf("expected 50x25, got %v", b)
	}
}

func TestReferenceWithoutFetcherFails(t *testing.T) {
	req, err := NewEngine(EngineConfig{}).Load("/tmp/missing.png")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := req.ToBinary(context.Background()); !errors.Is(err, imgerr.ErrDecode) {
		t.Fatalf("expected decode failure, got %v", err)
	}
	if req.State() != StateFailed {
		t.Fatalf("expected failed, got %s", req.State())
	}
}

func TestFailedRenderReleasesSurface(t *testing.T) {
	factory := &countingFactory{unsupported: true}
	req, err := NewEngine(EngineConfig{Surfaces: factory}).Load(buildTestPNG(t, 20, 20))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.Scale(2); err != nil {
		t.Fatalf("scale: %v", err)
	}
	if err := req.SetOutput(output.Options{Format: output.WebP}); err != nil {
		t.Fatalf("set output: %v", err)
	}

	_, err = req.ToBinary(context.Background())
	if !errors.Is(err, imgerr.ErrUnsupportedFormat) {
		t.Fatalf("expected UnsupportedFormat, got %v", err)
	}
	if factory.created.Load() != 1 || factory.released.Load() != 1 {
		t.Fatalf("expected one surface created and released, got %d/%d", factory.created.Load(), factory.released.Load())
	}
}

func TestSourceFormatFallsBackWhenUnencodable(t *testing.T) {
	cases := []struct {
		name     string
		fallback output.Format
		want     output.Format
		wantErr  error
	}{
		{name: "configured fallback", fallback: output.JPEG, want: output.JPEG},
		{name: "no fallback", wantErr: imgerr.ErrUnsupportedFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			factory := &countingFactory{formats: []string{"png", "jpeg"}}
			engine := NewEngine(EngineConfig{
				Surfaces: factory,
				Defaults: output.Options{FallbackFormat: tc.fallback},
			})
			req, err := engine.Load(buildTestGIF(t, 16, 16))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if err := req.Scale(0.5); err != nil {
				t.Fatalf("scale: %v", err)
			}

			out, err := req.ToBinary(context.Background())
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got format=%s err=%v", tc.wantErr, out.Format, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if out.Format != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, out.Format)
			}
			if factory.released.Load() != factory.created.Load() {
				t.Fatalf("surface leak: created=%d released=%d", factory.created.Load(), factory.released.Load())
			}
		})
	}
}

func TestOversizedTargetFailsWithoutAllocating(t *testing.T) {
	one := 1
	huge := one << 32
	req, err := NewEngine(EngineConfig{}).Load(buildTestPNG(t, 10, 10))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.Resize(fit.Spec{Mode: fit.ModeFill, Width: huge, Height: huge}); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if _, err := req.ToBinary(context.Background()); !errors.Is(err, imgerr.ErrInvalidDimension) {
		t.Fatalf("expected InvalidDimension, got %v", err)
	}
}

func TestCropOutsideSourceFails(t *testing.T) {
	factory := &countingFactory{}
	req, err := NewEngine(EngineConfig{Surfaces: factory}).Load(buildTestPNG(t, 20, 20))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := req.Crop(fit.Rect{X: 10, Y: 10, Width: 20, Height: 20}); err != nil {
		t.Fatalf("crop: %v", err)
	}
	if _, err := req.ToBinary(context.Background()); !errors.Is(err, imgerr.ErrInvalidDimension) {
		t.Fatalf("expected InvalidDimension, got %v", err)
	}
	if factory.created.Load() != 0 {
		t.Fatal("expected no surface for an invalid crop")
	}
}

func TestCanceledContextStopsRender(t *testing.T) {
	req, err := NewEngine(EngineConfig{}).Load(buildTestPNG(t, 8, 8))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := req.ToBinary(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMutatorsRequireSource(t *testing.T) {
	req := NewEngine(EngineConfig{}).NewRequest()
	if err := req.Scale(2); !errors.Is(err, imgerr.ErrClassification) {
		t.Fatalf("expected ClassificationFailure, got %v", err)
	}
}

type staticFetcher struct {
	data []byte
	ref  string
}

func (f *staticFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	f.ref = ref
	return f.data, nil
}

type countingFactory struct {
	unsupported bool
	// formats, when set, is the only set of encodable formats.
	formats []string
	created     atomic.Int32
	released    atomic.Int32
}

func (f *countingFactory) CreateSurface(w, h int) (surface.Surface, error) {
	s, err := surface.CanvasFactory{}.CreateSurface(w, h)
	if err != nil {
		return nil, err
	}
	f.created.Add(1)
	return &countingSurface{Surface: s, factory: f}, nil
}

type countingSurface struct {
	surface.Surface
	factory *countingFactory
}

func (s *countingSurface) Supports(format string) bool {
	if s.factory.unsupported {
		return false
	}
	if s.factory.formats != nil {
		return slices.Contains(s.factory.formats, format)
	}
	return s.Surface.Supports(format)
}

func (s *countingSurface) Release() {
	s.factory.released.Add(1)
	s.Surface.Release()
}

func buildTestPNG(tb testing.TB, w, h int) []byte {
	tb.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildTestGIF(tb testing.TB, w, h int) []byte {
	tb.Helper()

	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.Black, color.White})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetColorIndex(x, y, uint8((x+y)%2))
		}
	}
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		tb.Fatalf("encode source gif: %v", err)
	}
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}
