package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"careerhub-jobs/internal/models"
)

// ErrCancelRequested is surfaced by the progress callback once the owner's
// cancellation flag is visible. Handlers return it to stop at the checkpoint.
var ErrCancelRequested = errors.New("cancellation requested")

// ProgressFunc reports a checkpoint. The returned error is ErrCancelRequested
// when the job should stop; handlers that ignore it run to completion, which
// is the accepted cooperative-cancellation trade-off.
type ProgressFunc func(ctx context.Context, percent int, message string) error

// HandlerFunc executes one job and returns its result document.
type HandlerFunc func(ctx context.Context, job models.JobRecord, report ProgressFunc) (json.RawMessage, error)

// HandlerSet carries exactly one handler per job kind. Submissions are
// validated against the closed type set, so a nil field here is a deployment
// mistake, reported as a permanent failure rather than retried.
type HandlerSet struct {
	ResumeOptimization HandlerFunc
	SkillGapAnalysis   HandlerFunc
	CareerInsights     HandlerFunc
	ResumeGeneration   HandlerFunc
	InterviewPrep      HandlerFunc
}

// For resolves the handler for a type. The switch is exhaustive over the
// closed set.
func (h HandlerSet) For(t models.JobType) (HandlerFunc, error) {
	var fn HandlerFunc
	switch t {
	case models.TypeResumeOptimization:
		fn = h.ResumeOptimization
	case models.TypeSkillGapAnalysis:
		fn = h.SkillGapAnalysis
	case models.TypeCareerInsights:
		fn = h.CareerInsights
	case models.TypeResumeGeneration:
		fn = h.ResumeGeneration
	case models.TypeInterviewPrep:
		fn = h.InterviewPrep
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownJobType, t)
	}
	if fn == nil {
		return nil, fmt.Errorf("no handler configured for type %q", t)
	}
	return fn, nil
}
