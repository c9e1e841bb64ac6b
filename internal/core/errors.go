package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error taxonomy shared by every pipeline component.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrParse             = errors.New("parse failed")
	ErrEmbedding         = errors.New("embedding failed")
	ErrService           = errors.New("service call failed")
	ErrDataIntegrity     = errors.New("data integrity violation")
	ErrNoDocuments       = errors.New("no documents to process")
	ErrAlreadyRunning    = errors.New("pipeline already running")
	ErrCancelled         = errors.New("run cancelled")
	ErrRender            = errors.New("report rendering failed")
	ErrUpload            = errors.New("report upload failed")
	ErrInvalidOutput     = errors.New("generated output failed validation")
)

// ServiceError wraps a failed call to an external service and records whether
// a retry may succeed.
type ServiceError struct {
	Op        string // Operation name, e.g. "embed" or "generate"
	Code      int    // HTTP-like status code, 0 when unknown
	Transient bool   // True for timeouts, throttling and 5xx responses
	Err       error
}

func (e *ServiceError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d): %v", ErrService, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrService, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() []error { return []error{ErrService, e.Err} }

// NewServiceError classifies err by status code. A zero code falls back to
// IsTransient on the wrapped error.
func NewServiceError(op string, code int, err error) *ServiceError {
	transient := false
	switch {
	case code == 0:
		transient = IsTransient(err)
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		transient = true
	}
	return &ServiceError{Op: op, Code: code, Transient: transient, Err: err}
}

// StageError marks the pipeline stage in which a run-fatal error happened.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// DocumentError ties a per-document failure to its document.
type DocumentError struct {
	DocumentID string
	Err        error
}

func (e *DocumentError) Error() string { return fmt.Sprintf("document %s: %v", e.DocumentID, e.Err) }

func (e *DocumentError) Unwrap() error { return e.Err }

// IsTransient is the retry predicate used across the pipeline.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) && (se.Code != 0 || se.Transient) {
		return se.Transient
	}
	if errors.Is(err, ErrInvalidOutput) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// Kind maps an error to its taxonomy name for status reporting.
func Kind(err error) string {
	kinds := []struct {
		target error
		name   string
	}{
		{ErrAlreadyRunning, "already_running"},
		{ErrCancelled, "cancelled"},
		{ErrNoDocuments, "no_documents"},
		{ErrDataIntegrity, "data_integrity"},
		{ErrEmbedding, "embedding"},
		{ErrSourceUnavailable, "source_unavailable"},
		{ErrUnsupportedFormat, "unsupported_format"},
		{ErrParse, "parse"},
		{ErrInvalidOutput, "invalid_output"},
		{ErrService, "service"},
		{ErrRender, "render"},
		{ErrUpload, "upload"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.name
		}
	}
	if err == nil {
		return ""
	}
	return "internal"
}
