package models

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final and the record will never
// transition again.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JobType is the closed set of task kinds the engine knows how to run.
// Each type has its own ready queue and its own payload contract.
type JobType string

const (
	TypeResumeOptimization JobType = "resume-optimization"
	TypeSkillGapAnalysis   JobType = "skill-gap-analysis"
	TypeCareerInsights     JobType = "career-insights"
	TypeResumeGeneration   JobType = "resume-generation"
	TypeInterviewPrep      JobType = "interview-prep"
)

// JobTypes returns every registered job type, in a stable order.
func JobTypes() []JobType {
	return []JobType{
		TypeResumeOptimization,
		TypeSkillGapAnalysis,
		TypeCareerInsights,
		TypeResumeGeneration,
		TypeInterviewPrep,
	}
}

// ParseJobType maps a wire string onto the closed set.
func ParseJobType(s string) (JobType, bool) {
	for _, t := range JobTypes() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Progress tracks how far a processing job has come. Percent is monotone
// non-decreasing while the job is processing.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// JobRecord is one submitted task persisted in the store.
type JobRecord struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Type            JobType         `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	Status          JobStatus       `json:"status"`
	Progress        Progress        `json:"progress"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    string          `json:"error,omitempty"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	CancelRequested bool            `json:"cancel_requested"`
	WorkerID        string          `json:"worker_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	LastHeartbeatAt *time.Time      `json:"last_heartbeat_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// Active reports whether the record still occupies queue or worker capacity.
func (r *JobRecord) Active() bool {
	return r.Status == StatusQueued || r.Status == StatusProcessing
}
