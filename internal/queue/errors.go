package queue

import "errors"

var (
	// ErrClaimConflict means another process claimed the job first. It is
	// expected under contention; callers move on to the next job.
	ErrClaimConflict = errors.New("job already claimed")
	// ErrNotFound means no job has the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrNotClaimed means the caller does not hold the claim it tried to use.
	ErrNotClaimed = errors.New("job not claimed by caller")
)

// PermanentError is implemented by failures that retrying cannot fix.
// Jobs failing with one are dead-lettered at once.
type PermanentError interface {
	Permanent() bool
}

// IsPermanent reports whether err, or anything it wraps, is permanent.
func IsPermanent(err error) bool {
	var perm PermanentError
	return errors.As(err, &perm) && perm.Permanent()
}
