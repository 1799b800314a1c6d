package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dunamismax/pixelpass/internal/domain"
	"github.com/dunamismax/pixelpass/internal/output"
	"github.com/dunamismax/pixelpass/internal/source"
	"github.com/dunamismax/pixelpass/internal/storage"
)

// Task is one job handed to a Processor: a source and the steps to render
// from it.
type Task struct {
	JobID      string
	SourceType string
	ObjectKey  string
	SourceURL  string
	Steps      []domain.RenderStep
}

// Ref returns the reference the task's fetcher resolves.
func (t Task) Ref() string {
	if strings.EqualFold(t.SourceType, domain.SourceTypeRemoteURL) {
		return t.SourceURL
	}
	return t.ObjectKey
}

// ErrInvalidTask marks tasks that can never succeed as submitted.
var ErrInvalidTask = errors.New("invalid task")

type Output struct {
	StepID      string        `json:"step_id"`
	Format      string        `json:"format"`
	MIME        string        `json:"mime"`
	Path        string        `json:"path"`
	Bytes       int           `json:"bytes"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	Elapsed     time.Duration `json:"elapsed"`
	Passthrough bool          `json:"passthrough,omitempty"`
	// URL is a time-limited download link for object store outputs.
	URL string `json:"url,omitempty"`
}

type Result struct {
	Outputs     []Output
	SourceBytes int
}

// Emitter persists one rendered file.
type Emitter interface {
	Emit(ctx context.Context, task Task, step domain.RenderStep, file output.File) (Output, error)
}

type Processor struct {
	engine   *Engine
	fetchers map[string]Fetcher
	emitter  Emitter
	logger   *log.Logger
}

type ProcessorConfig struct {
	Engine *Engine
	// Fetchers is keyed by source_type.
	Fetchers map[string]Fetcher
	Emitter  Emitter
	Logger   *log.Logger
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Emitter == nil {
		return nil, errors.New("emitter is required")
	}
	if len(cfg.Fetchers) == 0 {
		return nil, errors.New("at least one fetcher is required")
	}
	engine := cfg.Engine
	if engine == nil {
		engine = NewEngine(EngineConfig{Logger: cfg.Logger})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	fetchers := make(map[string]Fetcher, len(cfg.Fetchers))
	for k, f := range cfg.Fetchers {
		fetchers[strings.ToLower(k)] = f
	}
	return &Processor{engine: engine, fetchers: fetchers, emitter: cfg.Emitter, logger: logger}, nil
}

// NewLocalProcessor reads local files and writes outputs under outputDir.
func NewLocalProcessor(outputDir string) (*Processor, error) {
	return NewProcessor(ProcessorConfig{
		Fetchers: map[string]Fetcher{domain.SourceTypeLocalFile: LocalFileFetcher{}},
		Emitter:  LocalFileEmitter{OutputDir: outputDir},
	})
}

type ObjectStoreOptions struct {
	OutputPrefix string
	// OutputURLTTL enables presigned download links on outputs.
	OutputURLTTL   time.Duration
	FetchTimeout   time.Duration
	MaxSourceBytes int64
}

// NewObjectStoreProcessor reads uploads and remote URLs and writes outputs to
// the object store.
func NewObjectStoreProcessor(engine *Engine, client *storage.Client, opts ObjectStoreOptions, logger *log.Logger) (*Processor, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(ProcessorConfig{
		Engine: engine,
		Fetchers: map[string]Fetcher{
			domain.SourceTypeS3Presigned: ObjectStoreFetcher{Storage: client, MaxBytes: opts.MaxSourceBytes},
			domain.SourceTypeRemoteURL:   NewHTTPFetcher(opts.FetchTimeout, opts.MaxSourceBytes),
		},
		Emitter: ObjectStoreEmitter{Storage: client, OutputPrefix: opts.OutputPrefix, URLTTL: opts.OutputURLTTL},
		Logger:  logger,
	})
}

// Process fetches the source once and renders every step from it. Each step
// gets its own request, so steps never share a surface.
func (p *Processor) Process(ctx context.Context, task Task) (Result, error) {
	if strings.TrimSpace(task.JobID) == "" {
		return Result{}, fmt.Errorf("%w: job_id is required", ErrInvalidTask)
	}
	if err := domain.ValidateSteps(task.Steps); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	fetcher, ok := p.fetchers[strings.ToLower(strings.TrimSpace(task.SourceType))]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, task.SourceType)
	}
	data, err := fetcher.Fetch(ctx, task.Ref())
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	out := Result{Outputs: make([]Output, 0, len(task.Steps)), SourceBytes: len(data)}
	for _, step := range task.Steps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		file, err := p.render(ctx, data, step)
		if err != nil {
			return Result{}, fmt.Errorf("render stage step=%s: %w", step.ID, err)
		}

		written, err := p.emitter.Emit(ctx, task, step, file)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage step=%s: %w", step.ID, err)
		}
		written.Passthrough = len(data) > 0 && len(file.Data) > 0 && &file.Data[0] == &data[0]
		p.logger.Printf("step rendered job_id=%s step=%s format=%s bytes=%d", task.JobID, step.ID, written.Format, written.Bytes)
		out.Outputs = append(out.Outputs, written)
	}
	return out, nil
}

func (p *Processor) render(ctx context.Context, data []byte, step domain.RenderStep) (output.File, error) {
	req, err := p.engine.Load(source.Binary{Data: data})
	if err != nil {
		return output.File{}, err
	}
	if err := ApplyStep(req, step); err != nil {
		return output.File{}, err
	}
	name := step.FileName
	if strings.TrimSpace(name) == "" {
		name = sanitizePathToken(step.ID)
	}
	return req.ToFile(ctx, name)
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
