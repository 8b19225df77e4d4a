// Package pipeline drives one job through its stages: text extraction,
// per-image vision analysis, and combined summarization. Each stage advances
// the job's status in the store and persists its artifact under the job's
// working directory.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dunamismax/docflow/internal/domain"
	"github.com/dunamismax/docflow/internal/extract"
	"github.com/dunamismax/docflow/internal/ollama"
	"github.com/dunamismax/docflow/internal/store"
	"golang.org/x/sync/errgroup"
)

// Fixed artifact paths relative to a job's working directory.
const (
	ArtifactText     = "extracted_text.txt"
	ArtifactAnalysis = "image_analysis.txt"
	ArtifactSummary  = "summary.txt"

	imageDirName = "images"
)

const noImagesAnalysis = "No embedded images were found in this document.\n"

// ExtractFunc is the extraction adapter contract.
type ExtractFunc func(ctx context.Context, documentPath, outputDir string) (extract.Result, error)

// Generator is the blocking inference contract the pipeline needs.
type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (string, error)
}

// ArtifactMirror optionally copies each persisted artifact to object
// storage. Mirror failures are logged, never fatal.
type ArtifactMirror interface {
	MirrorArtifact(ctx context.Context, jobID, name string, data []byte) error
}

type Config struct {
	VisionModel      string
	TextModel        string
	ImageConcurrency int
}

type Runner struct {
	logger    *log.Logger
	jobs      store.JobStore
	extractor ExtractFunc
	generator Generator
	mirror    ArtifactMirror
	cfg       Config
}

func NewRunner(logger *log.Logger, jobs store.JobStore, extractor ExtractFunc, generator Generator, mirror ArtifactMirror, cfg Config) *Runner {
	if cfg.ImageConcurrency < 1 {
		cfg.ImageConcurrency = 1
	}
	return &Runner{
		logger:    logger,
		jobs:      jobs,
		extractor: extractor,
		generator: generator,
		mirror:    mirror,
		cfg:       cfg,
	}
}

// RunResult reports what the pipeline attempted, for the caller's metrics.
type RunResult struct {
	Images       int
	Placeholders int
}

// Run executes the full pipeline for one job. Job-fatal errors are recorded
// on the job before returning; the returned error is for the caller's
// logging and metrics only. A job is never re-run automatically.
func (r *Runner) Run(ctx context.Context, jobID string) (RunResult, error) {
	var result RunResult

	job, ok, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return result, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !ok {
		return result, fmt.Errorf("load job %s: %w", jobID, store.ErrJobNotFound)
	}

	// Stage 1: extraction. Fatal on failure.
	if _, err := r.jobs.SetStatus(ctx, jobID, domain.JobStatusExtractingText); err != nil {
		return result, fmt.Errorf("advance job %s to extracting_text: %w", jobID, err)
	}

	extracted, err := r.extractor(ctx, job.DocumentPath, filepath.Join(job.WorkDir, imageDirName))
	if err != nil {
		return result, r.fail(ctx, jobID, fmt.Errorf("text extraction failed: %w", err))
	}
	if err := r.persistArtifact(ctx, job, ArtifactText, []byte(extracted.Text)); err != nil {
		return result, r.fail(ctx, jobID, err)
	}
	result.Images = len(extracted.Images)
	r.logger.Printf("extracted job_id=%s chars=%d images=%d", jobID, len(extracted.Text), len(extracted.Images))

	// Stage 2: per-image analysis. Individual failures become placeholder
	// sections; the stage always advances.
	if _, err := r.jobs.SetStatus(ctx, jobID, domain.JobStatusAnalyzingImages); err != nil {
		return result, fmt.Errorf("advance job %s to analyzing_images: %w", jobID, err)
	}

	analysis, placeholders := r.analyzeImages(ctx, jobID, extracted.Images)
	result.Placeholders = placeholders
	if err := r.persistArtifact(ctx, job, ArtifactAnalysis, []byte(analysis)); err != nil {
		return result, r.fail(ctx, jobID, err)
	}

	// Stage 3: combined summarization. Fatal on failure.
	if _, err := r.jobs.SetStatus(ctx, jobID, domain.JobStatusGeneratingSummary); err != nil {
		return result, fmt.Errorf("advance job %s to generating_summary: %w", jobID, err)
	}

	summary, err := r.generator.Generate(ctx, ollama.GenerateRequest{
		Model:  r.cfg.TextModel,
		Prompt: DocumentSummaryPrompt(extracted.Text, analysis),
	})
	if err != nil {
		return result, r.fail(ctx, jobID, fmt.Errorf("summary generation failed: %w", err))
	}

	summaryPath := filepath.Join(job.WorkDir, ArtifactSummary)
	if err := r.persistArtifact(ctx, job, ArtifactSummary, []byte(summary)); err != nil {
		return result, r.fail(ctx, jobID, err)
	}

	_, err = r.jobs.Update(ctx, jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.SummaryPath = summaryPath
		j.CompletedAt = time.Now().UTC()
	})
	if err != nil {
		return result, fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return result, nil
}

// analyzeImages fans the vision calls out across a bounded worker group and
// reassembles the sections in original image order. One failing image yields
// a placeholder section and never blocks the others.
func (r *Runner) analyzeImages(ctx context.Context, jobID string, images []extract.Image) (string, int) {
	if len(images) == 0 {
		return noImagesAnalysis, 0
	}

	var (
		sections     = make([]string, len(images))
		placeholders atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ImageConcurrency)

	for i, img := range images {
		g.Go(func() error {
			body, err := r.analyzeOne(gctx, img)
			if err != nil {
				r.logger.Printf("image analysis failed job_id=%s image=%s err=%v", jobID, filepath.Base(img.Path), err)
				body = fmt.Sprintf("Analysis unavailable: %v", err)
				placeholders.Add(1)
			}
			sections[i] = analysisSection(img, body)
			return nil
		})
	}
	_ = g.Wait()

	var b strings.Builder
	for _, section := range sections {
		b.WriteString(section)
	}
	return b.String(), int(placeholders.Load())
}

func (r *Runner) analyzeOne(ctx context.Context, img extract.Image) (string, error) {
	data, err := os.ReadFile(img.Path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return r.generator.Generate(ctx, ollama.GenerateRequest{
		Model:  r.cfg.VisionModel,
		Prompt: ImageAnalysisPrompt,
		Images: [][]byte{data},
	})
}

func analysisSection(img extract.Image, body string) string {
	return fmt.Sprintf("\n\n----- Image %s (page %d, image %d) -----\n\n%s",
		filepath.Base(img.Path), img.PageNumber, img.Index, body)
}

func (r *Runner) persistArtifact(ctx context.Context, job domain.Job, name string, data []byte) error {
	path := filepath.Join(job.WorkDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("persist %s: %w", name, err)
	}

	if r.mirror != nil {
		if err := r.mirror.MirrorArtifact(ctx, job.ID, name, data); err != nil {
			r.logger.Printf("artifact mirror failed job_id=%s artifact=%s err=%v", job.ID, name, err)
		}
	}
	return nil
}

// fail records the terminal failure atomically: status and detail in one
// store update, never a partial write.
func (r *Runner) fail(ctx context.Context, jobID string, cause error) error {
	_, err := r.jobs.Update(ctx, jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.ErrorDetail = cause.Error()
		j.CompletedAt = time.Now().UTC()
	})
	if err != nil {
		r.logger.Printf("record failure failed job_id=%s err=%v", jobID, err)
	}
	return cause
}
