package scan

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers classify with errors.Is.
var (
	// ErrInvalidInput rejects a request before any scan state exists: bad
	// encoding, unparseable folder reference, or no face in the target.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoCandidates means the folder holds no image files.
	ErrNoCandidates = errors.New("no images found in folder")
	// ErrAuthExpired means the storage credential was rejected.
	ErrAuthExpired = errors.New("authorization expired")
	// ErrTransientIO marks network failures worth retrying.
	ErrTransientIO = errors.New("transient I/O failure")
	// ErrNotFound is returned by stores for missing keys.
	ErrNotFound = errors.New("not found")
)

// TransientError wraps a retryable network failure and names its kind for
// the error event.
type TransientError struct {
	Kind string
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransientIO) match any TransientError.
func (e *TransientError) Is(target error) bool { return target == ErrTransientIO }

// HTTPStatusError is a non-retryable storage response.
type HTTPStatusError struct {
	Code    int
	Message string
}

func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// InputError carries the client-facing reason for an ErrInvalidInput.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// Invalid builds an InputError.
func Invalid(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}
