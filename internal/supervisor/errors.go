package supervisor

import "fmt"

// ErrorCode classifies launch-path failures. These are returned as values,
// never panics; the caller decides how to display them.
type ErrorCode string

const (
	ErrDirectoryNotFound ErrorCode = "directory-not-found"
	ErrAgentNotFound     ErrorCode = "agent-not-found"
	ErrSpawnFailed       ErrorCode = "spawn-failed"
	ErrAdmissionRejected ErrorCode = "admission-rejected"
)

// LaunchError is a classified failure from the launch path.
type LaunchError struct {
	Code ErrorCode
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func launchErrorf(code ErrorCode, format string, args ...any) *LaunchError {
	return &LaunchError{Code: code, Err: fmt.Errorf(format, args...)}
}
