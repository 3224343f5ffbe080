package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name      string
		jobType   JobType
		payload   string
		wantField string // empty means valid
	}{
		{
			name:    "valid resume optimization",
			jobType: TypeResumeOptimization,
			payload: `{"resumeText":"...","targetRole":"Backend Engineer"}`,
		},
		{
			name:      "resume optimization missing target role",
			jobType:   TypeResumeOptimization,
			payload:   `{"resumeText":"..."}`,
			wantField: "targetRole",
		},
		{
			name:    "valid skill gap analysis",
			jobType: TypeSkillGapAnalysis,
			payload: `{"targetRole":"SRE","industry":"tech","currentSkills":["go","linux"]}`,
		},
		{
			name:      "skill gap analysis empty skills",
			jobType:   TypeSkillGapAnalysis,
			payload:   `{"targetRole":"SRE","industry":"tech","currentSkills":[]}`,
			wantField: "currentSkills",
		},
		{
			name:      "skill gap analysis missing industry",
			jobType:   TypeSkillGapAnalysis,
			payload:   `{"targetRole":"SRE","currentSkills":["go"]}`,
			wantField: "industry",
		},
		{
			name:    "valid career insights",
			jobType: TypeCareerInsights,
			payload: `{"domain":"Full Stack Development"}`,
		},
		{
			name:      "career insights missing domain",
			jobType:   TypeCareerInsights,
			payload:   `{}`,
			wantField: "domain",
		},
		{
			name:    "valid resume generation",
			jobType: TypeResumeGeneration,
			payload: `{"resumeData":{"name":"A"}}`,
		},
		{
			name:    "valid interview prep",
			jobType: TypeInterviewPrep,
			payload: `{"targetRole":"EM","experienceLevel":"senior"}`,
		},
		{
			name:      "interview prep unknown experience level",
			jobType:   TypeInterviewPrep,
			payload:   `{"targetRole":"EM","experienceLevel":"guru"}`,
			wantField: "experienceLevel",
		},
		{
			name:      "not json",
			jobType:   TypeCareerInsights,
			payload:   `{{`,
			wantField: "payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.jobType, json.RawMessage(tt.payload))
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	_, err := DecodePayload(JobType("mystery"), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownJobType))
}

func TestParseJobType(t *testing.T) {
	for _, jt := range JobTypes() {
		got, ok := ParseJobType(string(jt))
		require.True(t, ok)
		assert.Equal(t, jt, got)
	}
	_, ok := ParseJobType("nope")
	assert.False(t, ok)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
