package manager

import "errors"

var (
	// ErrUnauthorized is returned when the owner segment of a job id does not
	// match the caller. It is raised before any store lookup so callers cannot
	// distinguish "not found" from "exists but not yours".
	ErrUnauthorized = errors.New("job does not belong to caller")

	// ErrIDCollision is returned when identifier generation kept colliding
	// with existing records; practically unreachable.
	ErrIDCollision = errors.New("could not generate a unique job id")
)
