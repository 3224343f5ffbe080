package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"careerhub-jobs/internal/models"
)

// jobResult is the envelope every handler produces. Data carries the opaque
// gateway document.
type jobResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func wrapResult(data json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(jobResult{Success: true, Data: data})
}

// DefaultHandlers wires the production handler per job kind: the four
// analysis kinds go straight to the AI gateway; resume generation
// additionally stores the produced document as an artifact.
func DefaultHandlers(gw *AIGateway, uploader ArtifactUploader) HandlerSet {
	return HandlerSet{
		ResumeOptimization: analysisHandler(gw),
		SkillGapAnalysis:   analysisHandler(gw),
		CareerInsights:     analysisHandler(gw),
		InterviewPrep:      analysisHandler(gw),
		ResumeGeneration:   resumeGenerationHandler(gw, uploader),
	}
}

// analysisHandler re-validates the payload, submits it to the gateway, and
// reports checkpoints that double as cancellation points.
func analysisHandler(gw *AIGateway) HandlerFunc {
	return func(ctx context.Context, job models.JobRecord, report ProgressFunc) (json.RawMessage, error) {
		payload, err := models.DecodePayload(job.Type, job.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if err := report(ctx, 10, "input validated"); err != nil {
			return nil, err
		}

		if err := report(ctx, 25, "submitting to analysis"); err != nil {
			return nil, err
		}
		data, err := gw.Analyze(ctx, string(job.Type), payload)
		if err != nil {
			return nil, err
		}
		if err := report(ctx, 90, "analysis received"); err != nil {
			return nil, err
		}
		return wrapResult(data)
	}
}

func resumeGenerationHandler(gw *AIGateway, uploader ArtifactUploader) HandlerFunc {
	return func(ctx context.Context, job models.JobRecord, report ProgressFunc) (json.RawMessage, error) {
		payload, err := models.DecodePayload(job.Type, job.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if err := report(ctx, 10, "input validated"); err != nil {
			return nil, err
		}

		document, err := gw.Analyze(ctx, string(job.Type), payload)
		if err != nil {
			return nil, err
		}
		if err := report(ctx, 60, "document generated"); err != nil {
			return nil, err
		}

		key := fmt.Sprintf("resumes/%s.json", strings.ReplaceAll(job.ID, ":", "-"))
		location, err := uploader.Upload(ctx, key, document, "application/json")
		if err != nil {
			return nil, fmt.Errorf("store document: %w", err)
		}
		if err := report(ctx, 90, "document stored"); err != nil {
			return nil, err
		}

		data, err := json.Marshal(map[string]string{
			"documentKey": key,
			"location":    location,
		})
		if err != nil {
			return nil, err
		}
		return wrapResult(data)
	}
}
