package pipeline

import (
	"fmt"

	"github.com/dunamismax/pixelpass/internal/domain"
)

// ApplyStep replays a declarative step onto req: at most one resize-type call,
// then filters in order, then output options. Output fields left empty in the
// step keep the request's current values (the engine defaults).
func ApplyStep(req *Request, step domain.RenderStep) error {
	if step.Fit != nil {
		spec, err := step.Fit.Spec()
		if err != nil {
			return fmt.Errorf("fit: %w", err)
		}
		if err := req.Resize(spec); err != nil {
			return err
		}
	}
	// Extra resize-type fields fall through to the request guard and fail
	// with MultipleResizeNotAllowed.
	if step.Scale != nil {
		x, y := step.Scale.Factors()
		if err := req.ScaleXY(x, y); err != nil {
			return err
		}
	}
	if step.Crop != nil {
		if err := req.Crop(step.Crop.Rect()); err != nil {
			return err
		}
	}

	for i, f := range step.Filters {
		op, err := f.Op()
		if err != nil {
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
		if err := req.Filter(op); err != nil {
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
	}

	opts, err := step.OutputOptions()
	if err != nil {
		return err
	}
	current := req.Options()
	if opts.FallbackFormat == "" {
		opts.FallbackFormat = current.FallbackFormat
	}
	if opts.Quality == 0 {
		opts.Quality = current.Quality
	}
	return req.SetOutput(opts)
}
