// Package jobid implements the job identifier scheme. Ownership and type are
// encoded directly in the identifier: {ownerID}:{type}:{submitMillis}:{suffix}.
// The first colon-delimited segment is the owning identity and is the sole
// authorization input; there is no separate ACL table.
package jobid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"careerhub-jobs/internal/models"
)

const segments = 4

var (
	ErrMalformed   = errors.New("malformed job id")
	ErrOwnerHasSep = errors.New("owner id must not contain ':'")
)

// New builds an identifier for a job submitted now. The uuid suffix makes
// collisions negligible but not impossible; the store's primary key catches
// the rest and the caller regenerates.
func New(ownerID string, jobType models.JobType, submittedAt time.Time) (string, error) {
	if ownerID == "" || strings.Contains(ownerID, ":") {
		return "", ErrOwnerHasSep
	}
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s:%s:%d:%s", ownerID, jobType, submittedAt.UnixMilli(), suffix), nil
}

// ExtractOwner returns the owner segment. It never fails: for a malformed
// identifier it returns the text before the first ':' (or the whole string),
// which simply will not match any real owner.
func ExtractOwner(id string) string {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i]
	}
	return id
}

// Parsed holds the decoded segments of a well-formed identifier.
type Parsed struct {
	OwnerID     string
	Type        models.JobType
	SubmittedAt time.Time
	Suffix      string
}

// Parse decodes and validates every segment of an identifier.
func Parse(id string) (Parsed, error) {
	parts := strings.SplitN(id, ":", segments)
	if len(parts) != segments || parts[0] == "" || parts[3] == "" {
		return Parsed{}, ErrMalformed
	}
	jobType, ok := models.ParseJobType(parts[1])
	if !ok {
		return Parsed{}, ErrMalformed
	}
	millis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Parsed{}, ErrMalformed
	}
	return Parsed{
		OwnerID:     parts[0],
		Type:        jobType,
		SubmittedAt: time.UnixMilli(millis),
		Suffix:      parts[3],
	}, nil
}

// Type extracts just the job type segment.
func Type(id string) (models.JobType, error) {
	p, err := Parse(id)
	if err != nil {
		return "", err
	}
	return p.Type, nil
}
