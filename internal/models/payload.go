package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownJobType is returned when a submission names a type outside the
// closed set. It is rejected before anything is written.
var ErrUnknownJobType = errors.New("unknown job type")

// ValidationError reports a payload that failed its type's field contract.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: field %q %s", e.Field, e.Reason)
}

// ExperienceLevel values accepted by interview-prep payloads. Unrecognized
// values are rejected at the boundary rather than silently defaulted.
const (
	ExperienceEntry  = "entry"
	ExperienceMid    = "mid"
	ExperienceSenior = "senior"
	ExperienceLead   = "lead"
)

// One payload variant per job type. The shapes below are the submission
// contract; handlers re-decode into the same structs.

type ResumeOptimizationPayload struct {
	ResumeText string `json:"resumeText" validate:"required"`
	TargetRole string `json:"targetRole" validate:"required"`
}

type SkillGapAnalysisPayload struct {
	TargetRole    string   `json:"targetRole" validate:"required"`
	Industry      string   `json:"industry" validate:"required"`
	CurrentSkills []string `json:"currentSkills" validate:"required,min=1,dive,required"`
}

type CareerInsightsPayload struct {
	Domain string `json:"domain" validate:"required"`
}

type ResumeGenerationPayload struct {
	ResumeData map[string]any `json:"resumeData" validate:"required"`
}

type InterviewPrepPayload struct {
	TargetRole      string `json:"targetRole" validate:"required"`
	ExperienceLevel string `json:"experienceLevel" validate:"required,oneof=entry mid senior lead"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodePayload parses and validates raw payload bytes against the contract
// for the given type. The switch is exhaustive over the closed set; adding a
// type without a contract here fails every submission of that type.
func DecodePayload(t JobType, raw json.RawMessage) (any, error) {
	switch t {
	case TypeResumeOptimization:
		return decodeInto[ResumeOptimizationPayload](raw)
	case TypeSkillGapAnalysis:
		return decodeInto[SkillGapAnalysisPayload](raw)
	case TypeCareerInsights:
		return decodeInto[CareerInsightsPayload](raw)
	case TypeResumeGeneration:
		return decodeInto[ResumeGenerationPayload](raw)
	case TypeInterviewPrep:
		return decodeInto[InterviewPrepPayload](raw)
	default:
		return nil, ErrUnknownJobType
	}
}

func decodeInto[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, &ValidationError{Field: "payload", Reason: "is required"}
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &ValidationError{Field: "payload", Reason: "is not valid JSON"}
	}
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return v, &ValidationError{Field: jsonFieldName(fe), Reason: reasonFor(fe)}
		}
		return v, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return v, nil
}

func jsonFieldName(fe validator.FieldError) string {
	// Namespace looks like "SkillGapAnalysisPayload.CurrentSkills[0]".
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if ns == "" {
		return fe.Field()
	}
	// Lower-case the leading struct field to match the JSON casing.
	return strings.ToLower(ns[:1]) + ns[1:]
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must not be empty"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}
