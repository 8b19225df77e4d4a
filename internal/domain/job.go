package domain

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	JobStatusPending           = "pending"
	JobStatusExtractingText    = "extracting_text"
	JobStatusAnalyzingImages   = "analyzing_images"
	JobStatusGeneratingSummary = "generating_summary"
	JobStatusCompleted         = "completed"
	JobStatusFailed            = "failed"
)

// Job tracks one document's end-to-end processing request. Records are owned
// by the job store; the worker mutates exactly its own job and the API only
// reads.
type Job struct {
	ID           string
	Filename     string
	Status       string
	WorkDir      string
	DocumentPath string
	WebhookURL   string
	SummaryPath  string
	ErrorDetail  string
	CreatedAt    time.Time
	CompletedAt  time.Time
}

func (j Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ProcessingTime reports elapsed wall time: now-created while the job is in
// flight, completed-created once terminal.
func (j Job) ProcessingTime(now time.Time) time.Duration {
	if j.Terminal() && !j.CompletedAt.IsZero() {
		return j.CompletedAt.Sub(j.CreatedAt)
	}
	return now.Sub(j.CreatedAt)
}

var statusRank = map[string]int{
	JobStatusPending:           0,
	JobStatusExtractingText:    1,
	JobStatusAnalyzingImages:   2,
	JobStatusGeneratingSummary: 3,
	JobStatusCompleted:         4,
}

// CanTransition reports whether a status change moves forward along the
// pipeline state machine. Terminal states accept no transition; failed is
// reachable from any non-terminal state.
func CanTransition(from, to string) bool {
	if from == JobStatusCompleted || from == JobStatusFailed {
		return false
	}
	if to == JobStatusFailed {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// SanitizeFilename strips directory components and replaces characters that
// are unsafe in a filesystem name.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "document.pdf"
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return "document.pdf"
	}
	return cleaned
}
