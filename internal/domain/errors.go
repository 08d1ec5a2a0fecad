package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by the store when a row does not exist
var ErrNotFound = errors.New("not found")

// SourceDataError reports a missing or malformed input artifact
type SourceDataError struct {
	Path string
	Err  error
}

func (e *SourceDataError) Error() string {
	return fmt.Sprintf("source data %s: %v", e.Path, e.Err)
}

func (e *SourceDataError) Unwrap() error { return e.Err }

// LinkageError reports an evidence artifact that cannot be matched to a question
type LinkageError struct {
	ArtifactID string
	Reason     string
}

func (e *LinkageError) Error() string {
	return fmt.Sprintf("link artifact %s: %s", e.ArtifactID, e.Reason)
}

// NotFoundError is a retrieval miss. Context is echoed to API callers.
type NotFoundError struct {
	Message string
	Context map[string]any
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports a missing or invalid request parameter
type ValidationError struct {
	Message string
	Context map[string]any
}

func (e *ValidationError) Error() string { return e.Message }

// AuthError reports an invalid or inactive credential
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "Invalid API key"
	}
	return e.Reason
}
