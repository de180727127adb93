package build

import "errors"

// ErrorKind classifies fatal pipeline failures.
type ErrorKind string

const (
	KindPrecondition ErrorKind = "precondition"
	KindToolchain    ErrorKind = "toolchain"
	KindTransfer     ErrorKind = "transfer"
	KindSubmission   ErrorKind = "submission"
	KindPolling      ErrorKind = "polling"
)

var (
	// ErrNoArtifact is returned when no build artifact matches the expected pattern.
	ErrNoArtifact = errors.New("no build artifact found")
	// ErrTagTooLong is returned when a description tag exceeds MaxTagLength.
	ErrTagTooLong = errors.New("tag exceeds maximum length")
	// ErrPollLimit is returned when the image never left the pending state.
	ErrPollLimit = errors.New("image still pending after maximum poll attempts")
)

// A BuildError represents a fatal error that occurred during the build process.
type BuildError struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Err     error
}

// Error returns the error message.
func (e *BuildError) Error() string {
	msg := string(e.Kind) + " failure"
	if e.Stage != "" {
		msg += " in " + string(e.Stage)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, stage Stage, message string, err error) *BuildError {
	return &BuildError{Kind: kind, Stage: stage, Message: message, Err: err}
}

// KindOf returns the kind of the first BuildError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return buildErr.Kind
	}
	return ""
}
