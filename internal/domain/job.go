package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/pixelpass/internal/filter"
	"github.com/dunamismax/pixelpass/internal/fit"
	"github.com/dunamismax/pixelpass/internal/output"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
	SourceTypeRemoteURL   = "remote_url"
)

type CreateJobRequest struct {
	SourceType string       `json:"source_type"`
	WebhookURL string       `json:"webhook_url,omitempty"`
	ObjectKey  string       `json:"object_key,omitempty"`
	SourceURL  string       `json:"source_url,omitempty"`
	Steps      []RenderStep `json:"steps"`
}

// RenderStep describes one output of a job. Fit, Scale and Crop are
// resize-type operations; a step may carry at most one of them.
type RenderStep struct {
	ID             string       `json:"id" yaml:"id"`
	Fit            *FitStep     `json:"fit,omitempty" yaml:"fit,omitempty"`
	Scale          *ScaleStep   `json:"scale,omitempty" yaml:"scale,omitempty"`
	Crop           *CropStep    `json:"crop,omitempty" yaml:"crop,omitempty"`
	Filters        []FilterStep `json:"filters,omitempty" yaml:"filters,omitempty"`
	Format         string       `json:"format,omitempty" yaml:"format,omitempty"`
	Quality        float64      `json:"quality,omitempty" yaml:"quality,omitempty"`
	FallbackFormat string       `json:"fallback_format,omitempty" yaml:"fallback_format,omitempty"`
	FileName       string       `json:"file_name,omitempty" yaml:"file_name,omitempty"`
}

type FitStep struct {
	Mode       string `json:"mode" yaml:"mode"`
	Width      int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height     int    `json:"height,omitempty" yaml:"height,omitempty"`
	Position   string `json:"position,omitempty" yaml:"position,omitempty"`
	Background string `json:"background,omitempty" yaml:"background,omitempty"`
}

// ScaleStep scales by Factor, or by X and Y independently when either is set.
type ScaleStep struct {
	Factor float64 `json:"factor,omitempty" yaml:"factor,omitempty"`
	X      float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y      float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

type CropStep struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

type FilterStep struct {
	Kind   string             `json:"kind" yaml:"kind"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Steps      []RenderStep
	ObjectKey  string
	SourceURL  string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	switch sourceType {
	case "":
		return errors.New("source_type is required")
	case SourceTypeLocalFile:
		if strings.TrimSpace(r.ObjectKey) == "" {
			return errors.New("object_key is required for source_type=local_file")
		}
	case SourceTypeS3Presigned:
	case SourceTypeRemoteURL:
		u, err := url.Parse(strings.TrimSpace(r.SourceURL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("source_url must be an absolute http(s) URL for source_type=remote_url")
		}
	default:
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	return ValidateSteps(r.Steps)
}

func ValidateSteps(steps []RenderStep) error {
	if len(steps) == 0 {
		return errors.New("steps must contain at least one step")
	}
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		if strings.TrimSpace(step.ID) == "" {
			return fmt.Errorf("steps[%d].id is required", i)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("steps[%d].id %q is duplicated", i, step.ID)
		}
		seen[step.ID] = struct{}{}
		if err := step.Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks a step without a source: shape, ranges and names.
func (s RenderStep) Validate() error {
	resizes := 0
	if s.Fit != nil {
		resizes++
		if _, err := s.Fit.Spec(); err != nil {
			return fmt.Errorf("fit: %w", err)
		}
	}
	if s.Scale != nil {
		resizes++
		if x, y := s.Scale.Factors(); !(x > 0) || !(y > 0) {
			return errors.New("scale: factors must be positive")
		}
	}
	if s.Crop != nil {
		resizes++
		if s.Crop.Width <= 0 || s.Crop.Height <= 0 || s.Crop.X < 0 || s.Crop.Y < 0 {
			return errors.New("crop: region must have a non-negative origin and positive size")
		}
	}
	if resizes > 1 {
		return errors.New("only one of fit, scale or crop may be set")
	}

	for i, f := range s.Filters {
		if _, err := f.Op(); err != nil {
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
	}
	if _, err := s.OutputOptions(); err != nil {
		return err
	}
	return nil
}

func (f FitStep) Spec() (fit.Spec, error) {
	mode, ok := fit.ParseMode(f.Mode)
	if !ok {
		return fit.Spec{}, fmt.Errorf("unknown mode %q", f.Mode)
	}
	pos, ok := fit.ParsePosition(f.Position)
	if !ok {
		return fit.Spec{}, fmt.Errorf("unknown position %q", f.Position)
	}
	bg, err := fit.ParseBackground(f.Background)
	if err != nil {
		return fit.Spec{}, err
	}
	spec := fit.Spec{Mode: mode, Width: f.Width, Height: f.Height, Position: pos, Background: bg}
	return spec, spec.Validate()
}

func (s ScaleStep) Factors() (float64, float64) {
	if s.X != 0 || s.Y != 0 {
		x, y := s.X, s.Y
		if x == 0 {
			x = 1
		}
		if y == 0 {
			y = 1
		}
		return x, y
	}
	return s.Factor, s.Factor
}

func (c CropStep) Rect() fit.Rect {
	return fit.Rect{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height}
}

func (f FilterStep) Op() (filter.Op, error) {
	return filter.New(f.Kind, f.Params)
}

// OutputOptions maps the step's format fields onto converter options. An
// empty format keeps the source format.
func (s RenderStep) OutputOptions() (output.Options, error) {
	opts := output.Options{Quality: s.Quality, IncludeMetadata: true, AutoExtension: true}
	if strings.TrimSpace(s.Format) != "" {
		f, ok := output.ParseFormat(s.Format)
		if !ok {
			return output.Options{}, fmt.Errorf("unsupported format %q", s.Format)
		}
		opts.Format = f
	}
	if strings.TrimSpace(s.FallbackFormat) != "" {
		f, ok := output.ParseFormat(s.FallbackFormat)
		if !ok {
			return output.Options{}, fmt.Errorf("unsupported fallback_format %q", s.FallbackFormat)
		}
		opts.FallbackFormat = f
	}
	if err := opts.Validate(); err != nil {
		return output.Options{}, err
	}
	return opts, nil
}
