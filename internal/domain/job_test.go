package domain

import (
	"testing"
	"time"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	forward := []struct{ from, to string }{
		{JobStatusPending, JobStatusExtractingText},
		{JobStatusExtractingText, JobStatusAnalyzingImages},
		{JobStatusAnalyzingImages, JobStatusGeneratingSummary},
		{JobStatusGeneratingSummary, JobStatusCompleted},
	}
	for _, tc := range forward {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
		if CanTransition(tc.to, tc.from) {
			t.Fatalf("expected %s -> %s to be rejected", tc.to, tc.from)
		}
	}
}

func TestCanTransitionFailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range []string{
		JobStatusPending,
		JobStatusExtractingText,
		JobStatusAnalyzingImages,
		JobStatusGeneratingSummary,
	} {
		if !CanTransition(from, JobStatusFailed) {
			t.Fatalf("expected %s -> failed to be allowed", from)
		}
	}
}

func TestCanTransitionTerminalStatesAreFinal(t *testing.T) {
	for _, from := range []string{JobStatusCompleted, JobStatusFailed} {
		for _, to := range []string{
			JobStatusPending,
			JobStatusExtractingText,
			JobStatusGeneratingSummary,
			JobStatusCompleted,
			JobStatusFailed,
		} {
			if CanTransition(from, to) {
				t.Fatalf("expected %s -> %s to be rejected", from, to)
			}
		}
	}
}

func TestProcessingTime(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := created.Add(90 * time.Second)

	running := Job{Status: JobStatusAnalyzingImages, CreatedAt: created}
	if got := running.ProcessingTime(now); got != 90*time.Second {
		t.Fatalf("expected 90s for running job, got %s", got)
	}

	done := Job{
		Status:      JobStatusCompleted,
		CreatedAt:   created,
		CompletedAt: created.Add(30 * time.Second),
	}
	if got := done.ProcessingTime(now); got != 30*time.Second {
		t.Fatalf("expected 30s for completed job, got %s", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		"my report (v2).pdf":    "my_report__v2_.pdf",
		"":                      "document.pdf",
		"..":                    "document.pdf",
		"/tmp/upload/paper.pdf": "paper.pdf",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
