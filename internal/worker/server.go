// Package worker consumes queued document jobs and drives them through the
// processing pipeline.
package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/docflow/internal/config"
	"github.com/dunamismax/docflow/internal/domain"
	"github.com/dunamismax/docflow/internal/pipeline"
	"github.com/dunamismax/docflow/internal/queue"
	"github.com/dunamismax/docflow/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	runner        jobRunner
	jobStore      store.JobStore
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

type jobRunner interface {
	Run(ctx context.Context, jobID string) (pipeline.RunResult, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	runner jobRunner,
	jobStore store.JobStore,
	webhookClient webhookSender,
) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("pipeline runner is required")
	}
	if jobStore == nil {
		return nil, fmt.Errorf("job store is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		runner:        runner,
		jobStore:      jobStore,
		webhookClient: webhookClient,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("docflow/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessDocument, s.handleProcessDocument)
	return s.server.Run(mux)
}

// Start is the non-blocking variant of Run, for embedding the worker in the
// same process as the API.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessDocument, s.handleProcessDocument)
	return s.server.Start(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessDocument(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessDocumentPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_document", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.filename", payload.Filename),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.metrics.activeJobs.Inc()
	defer s.metrics.activeJobs.Dec()

	s.logger.Printf("Working... job_id=%s filename=%s", payload.JobID, payload.Filename)

	result, runErr := s.runner.Run(ctx, payload.JobID)
	s.metrics.imagesAnalyzedTotal.Add(float64(result.Images - result.Placeholders))
	s.metrics.analysisPlaceholdersTotal.Add(float64(result.Placeholders))
	span.SetAttributes(
		attribute.Int("job.images", result.Images),
		attribute.Int("job.analysis_placeholders", result.Placeholders),
	)

	job, ok, getErr := s.jobStore.Get(ctx, payload.JobID)
	if getErr != nil || !ok {
		span.RecordError(getErr)
		span.SetStatus(codes.Error, "job lookup failed")
		return fmt.Errorf("load job %s after run: ok=%v: %w", payload.JobID, ok, getErr)
	}
	if job.Terminal() {
		outcome = job.Status
	}

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "pipeline failed")
		s.dispatchWebhook(ctx, job, "job.failed", map[string]any{
			"job_id":       job.ID,
			"filename":     job.Filename,
			"status":       job.Status,
			"submitted_at": payload.SubmittedAt,
			"failed_at":    job.CompletedAt,
			"error":        job.ErrorDetail,
		})
		return fmt.Errorf("run pipeline: %w", runErr)
	}

	s.logger.Printf("Processed job_id=%s images=%d placeholders=%d duration=%s",
		payload.JobID, result.Images, result.Placeholders, time.Since(startedAt).Round(time.Millisecond))

	s.dispatchWebhook(ctx, job, "job.completed", map[string]any{
		"job_id":                  job.ID,
		"filename":                job.Filename,
		"status":                  job.Status,
		"submitted_at":            payload.SubmittedAt,
		"completed_at":            job.CompletedAt,
		"processing_time_seconds": job.ProcessingTime(time.Now().UTC()).Seconds(),
		"images_analyzed":         result.Images,
	})

	span.SetStatus(codes.Ok, "processed")
	return nil
}

// dispatchWebhook is best-effort: the job outcome is already recorded in the
// store, so a delivery failure never fails the task.
func (s *Server) dispatchWebhook(ctx context.Context, job domain.Job, event string, body map[string]any) {
	if job.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, job.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", job.ID, event, err)
	}
}
