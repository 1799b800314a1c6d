// Package worker consumes render jobs from the asynq queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelpass/internal/config"
	"github.com/dunamismax/pixelpass/internal/domain"
	"github.com/dunamismax/pixelpass/internal/imgerr"
	"github.com/dunamismax/pixelpass/internal/output"
	"github.com/dunamismax/pixelpass/internal/pipeline"
	"github.com/dunamismax/pixelpass/internal/queue"
	"github.com/dunamismax/pixelpass/internal/storage"
	"github.com/dunamismax/pixelpass/internal/store"
	"github.com/dunamismax/pixelpass/internal/surface"
	"github.com/dunamismax/pixelpass/internal/webhook"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processors    map[string]jobProcessor
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type jobProcessor interface {
	Process(ctx context.Context, task pipeline.Task) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Deps struct {
	Logger     *log.Logger
	Queue      config.QueueConfig
	Worker     config.WorkerConfig
	Render     config.RenderConfig
	Storage    *storage.Client
	Webhook    *webhook.Client
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(deps Deps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	engine, err := NewEngine(deps.Render, logger)
	if err != nil {
		return nil, err
	}

	localProcessor, err := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Engine: engine,
		Fetchers: map[string]pipeline.Fetcher{
			domain.SourceTypeLocalFile: pipeline.LocalFileFetcher{Root: deps.Worker.LocalInputRoot, MaxBytes: deps.Render.MaxSourceBytes},
		},
		Emitter: pipeline.LocalFileEmitter{OutputDir: deps.Worker.LocalOutputDir},
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}
	processors := map[string]jobProcessor{domain.SourceTypeLocalFile: localProcessor}

	if deps.Storage != nil {
		objectProcessor, err := pipeline.NewObjectStoreProcessor(engine, deps.Storage, pipeline.ObjectStoreOptions{
			OutputPrefix:   deps.Worker.OutputPrefix,
			OutputURLTTL:   deps.Worker.OutputURLTTL,
			FetchTimeout:   deps.Render.FetchTimeout,
			MaxSourceBytes: deps.Render.MaxSourceBytes,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
		processors[domain.SourceTypeS3Presigned] = objectProcessor
		processors[domain.SourceTypeRemoteURL] = objectProcessor
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	var sender webhookSender
	if deps.Webhook != nil {
		sender = deps.Webhook
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			deps.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: deps.Worker.Concurrency,
				Queues: map[string]int{
					deps.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, deps.Worker.MaxActiveJobs)),
		processors:    processors,
		webhookClient: sender,
		jobStore:      deps.JobStore,
		usageStore:    usageStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelpass/worker"),
	}
	return s, nil
}

// NewEngine builds the render engine shared by the worker and the API's
// synchronous endpoint.
func NewEngine(cfg config.RenderConfig, logger *log.Logger) (*pipeline.Engine, error) {
	defaults := output.Options{Quality: cfg.DefaultQuality, IncludeMetadata: true, AutoExtension: true}
	if strings.TrimSpace(cfg.FallbackFormat) != "" {
		f, ok := output.ParseFormat(cfg.FallbackFormat)
		if !ok {
			return nil, fmt.Errorf("unknown fallback format %q", cfg.FallbackFormat)
		}
		defaults.FallbackFormat = f
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("render defaults: %w", err)
	}
	return pipeline.NewEngine(pipeline.EngineConfig{
		Surfaces: surface.CanvasFactory{MaxPixels: cfg.MaxPixels},
		Defaults: defaults,
		Logger:   logger,
	}), nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderImage, s.handleRenderImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRenderImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseRenderImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.render_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.steps", len(payload.Steps)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobSeconds.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobs.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.inFlight.Inc()
	defer func() {
		<-s.sem
		s.metrics.inFlight.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s steps=%d object_key=%s source_url=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Steps),
		payload.ObjectKey,
		payload.SourceURL,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing, "")

	result, err := s.process(ctx, payload)
	if err != nil {
		final := !retryable(err)
		s.metrics.failure(err, !final && !lastAttempt(ctx))
		if final || lastAttempt(ctx) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed, err.Error())
			_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
				"job_id":       payload.JobID,
				"status":       domain.JobStatusFailed,
				"source_type":  payload.SourceType,
				"requested_at": payload.RequestedAt,
				"failed_at":    time.Now().UTC(),
				"error":        err.Error(),
				"code":         string(imgerr.CodeOf(err)),
			})
		} else {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued, "")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		if final {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	s.logger.Printf("Processed job_id=%s outputs=%d", payload.JobID, len(result.Outputs))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded, "")
	s.metrics.result(result)
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"outputs":      result.Outputs,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.RenderImagePayload) (pipeline.Result, error) {
	p, ok := s.processors[strings.ToLower(payload.SourceType)]
	if !ok {
		return pipeline.Result{}, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
	return p.Process(ctx, pipeline.Task{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		SourceURL:  payload.SourceURL,
		Steps:      payload.Steps,
	})
}

// retryable reports whether another attempt could succeed. Anything decided
// by the input alone (bad steps, undecodable bytes, unsupported formats) is
// final; transport and storage failures are retried.
func retryable(err error) bool {
	switch {
	case errors.Is(err, pipeline.ErrInvalidTask),
		errors.Is(err, pipeline.ErrUnsupportedSourceType),
		errors.Is(err, pipeline.ErrSourceTooLarge):
		return false
	}
	return imgerr.CodeOf(err) == ""
}

// lastAttempt is true when asynq will not run the task again.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return !ok || retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status, reason string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status, reason); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RenderImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.RenderImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}

	sizes := make([]domain.OutputSize, 0, len(result.Outputs))
	for _, out := range result.Outputs {
		sizes = append(sizes, domain.OutputSize{Width: out.Width, Height: out.Height, Bytes: out.Bytes})
	}
	usage := domain.NewUsageLog(userID, payload.JobID, result.SourceBytes, sizes, computeDuration)
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.usage(usage)
}
