// Package api exposes the document pipeline over HTTP: document submission,
// job polling, result retrieval, and the interactive text endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/docflow/internal/domain"
	"github.com/dunamismax/docflow/internal/id"
	"github.com/dunamismax/docflow/internal/ollama"
	"github.com/dunamismax/docflow/internal/pipeline"
	"github.com/dunamismax/docflow/internal/queue"
	"github.com/dunamismax/docflow/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxUploadBytes = 50 << 20

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	generator             textGenerator
	dataDir               string
	maxUploadBytes        int64
	textModel             string
	metrics               *metrics
	tracer                trace.Tracer
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	mux                   *http.ServeMux
	now                   func() time.Time
}

type queueEnqueuer interface {
	EnqueueProcessDocument(ctx context.Context, payload queue.ProcessDocumentPayload) (*asynq.TaskInfo, error)
}

// textGenerator is the slice of the inference client the interactive
// endpoints need.
type textGenerator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (string, error)
	GenerateStream(ctx context.Context, req ollama.GenerateRequest, emit func(chunk string) error) error
}

type Options struct {
	DataDir        string
	MaxUploadBytes int64
	TextModel      string
	RateLimiter    RateLimiter
	Tracer         trace.Tracer

	// Header carrying the caller identity for rate limiting. Defaults to
	// X-User-ID when a limiter is configured.
	RateLimitUserIDHeader string
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, generator textGenerator, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.DataDir == "" {
		opts.DataDir = "."
	}
	if opts.RateLimitUserIDHeader == "" {
		opts.RateLimitUserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		generator:             generator,
		dataDir:               opts.DataDir,
		maxUploadBytes:        opts.MaxUploadBytes,
		textModel:             opts.TextModel,
		metrics:               newMetrics(),
		tracer:                opts.Tracer,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		mux:                   http.NewServeMux(),
		now:                   func() time.Time { return time.Now().UTC() },
	}
	s.routes()
	return s
}

// Handler returns the full middleware chain: metrics outermost, then
// tracing, then rate limiting, then the route mux.
func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/documents", s.handleSubmitDocument)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleJobStatus)
	s.mux.HandleFunc("GET /v1/jobs/{id}/result", s.handleJobResult)
	s.mux.HandleFunc("POST /v1/summarize", s.handleSummarize)
	s.mux.HandleFunc("POST /v1/title", s.handleTitle)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("upload exceeds the %d byte limit", s.maxUploadBytes),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	if header.Size == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "uploaded file is empty"})
		return
	}

	filename := domain.SanitizeFilename(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only PDF documents are accepted"})
		return
	}

	jobID := id.New()
	workDir := filepath.Join(s.dataDir, jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		s.logger.Printf("create work dir failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store document"})
		return
	}

	documentPath := filepath.Join(workDir, filename)
	if err := saveUpload(documentPath, file); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("upload exceeds the %d byte limit", s.maxUploadBytes),
			})
			return
		}
		s.logger.Printf("save upload failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store document"})
		return
	}

	now := s.now()
	job := domain.Job{
		ID:           jobID,
		Filename:     filename,
		Status:       domain.JobStatusPending,
		WorkDir:      workDir,
		DocumentPath: documentPath,
		WebhookURL:   strings.TrimSpace(r.FormValue("webhook_url")),
		CreatedAt:    now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	payload := queue.ProcessDocumentPayload{
		JobID:       jobID,
		Filename:    filename,
		SubmittedAt: now,
	}
	taskInfo, err := s.queueClient.EnqueueProcessDocument(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", jobID, err)
		s.recordEnqueueFailure(r.Context(), jobID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   jobID,
		"filename": filename,
		"status":   domain.JobStatusPending,
	})
}

// recordEnqueueFailure moves a pending job to failed when it never made it
// onto the queue, so a later status poll does not report a job that nothing
// will ever pick up.
func (s *Server) recordEnqueueFailure(ctx context.Context, jobID string) {
	_, err := s.jobStore.Update(ctx, jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.ErrorDetail = "failed to enqueue job for processing"
		j.CompletedAt = s.now()
	})
	if err != nil {
		s.logger.Printf("record enqueue failure failed for job %s: %v", jobID, err)
	}
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create document file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("write document file: %w", err)
	}
	return dst.Close()
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	resp := map[string]any{
		"job_id":          job.ID,
		"filename":        job.Filename,
		"status":          job.Status,
		"created_at":      job.CreatedAt,
		"processing_time": job.ProcessingTime(s.now()).Seconds(),
	}
	if job.Status == domain.JobStatusFailed {
		resp["error"] = job.ErrorDetail
	}
	if job.Terminal() && !job.CompletedAt.IsZero() {
		resp["completed_at"] = job.CompletedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	if job.Status != domain.JobStatusCompleted {
		resp := map[string]string{
			"error":  "job is not completed",
			"status": job.Status,
		}
		if job.Status == domain.JobStatusFailed {
			resp["detail"] = job.ErrorDetail
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	summaryPath := job.SummaryPath
	if summaryPath == "" {
		summaryPath = filepath.Join(job.WorkDir, pipeline.ArtifactSummary)
	}
	summary, err := os.ReadFile(summaryPath)
	if err != nil {
		s.logger.Printf("read summary failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read summary artifact"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":   job.ID,
		"filename": job.Filename,
		"status":   job.Status,
		"summary":  string(summary),
	})
}

type textRequest struct {
	Text string `json:"text"`
}

// handleSummarize streams a plain-text summary of the submitted text as the
// model produces it. No job is created.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	flusher, _ := w.(http.Flusher)
	wrote := false
	err := s.generator.GenerateStream(r.Context(), ollama.GenerateRequest{
		Model:  s.textModel,
		Prompt: pipeline.SummarizeTextPrompt(req.Text),
	}, func(chunk string) error {
		if !wrote {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if wrote {
			// Headers are gone; the truncated stream is all we can signal.
			s.logger.Printf("summarize stream aborted: %v", err)
			return
		}
		s.writeGenerateError(w, err)
	}
}

// handleTitle generates a short document title for the submitted text in one
// blocking call.
func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	title, err := s.generator.Generate(r.Context(), ollama.GenerateRequest{
		Model:  s.textModel,
		Prompt: pipeline.TitlePrompt(req.Text),
	})
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"title": strings.TrimSpace(title)})
}

func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	s.logger.Printf("inference call failed: %v", err)

	var backendErr *ollama.BackendError
	if errors.As(err, &backendErr) {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": fmt.Sprintf("inference backend rejected the request: %s", backendErr.Detail),
		})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": "inference backend is unavailable"})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
