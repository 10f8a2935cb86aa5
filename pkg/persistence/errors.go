// Package persistence provides the metadata store contracts, typed record
// helpers and standardized error types for the artifact store.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrProjectNotFound indicates no project record exists for the given id.
	ErrProjectNotFound = errors.New("project not found")

	// ErrAnalysisNotFound indicates no analysis record exists for the given id.
	ErrAnalysisNotFound = errors.New("analysis not found")

	// ErrReadOnlyTransaction indicates a write was attempted inside View.
	ErrReadOnlyTransaction = errors.New("read-only transaction")

	// ErrLockUnavailable indicates the store lock could not be acquired.
	ErrLockUnavailable = errors.New("metadata store is locked")

	// ErrCorruptStore indicates the metadata document failed validation.
	ErrCorruptStore = errors.New("metadata store is corrupt")
)

// ProjectError wraps project-related errors with additional context.
type ProjectError struct {
	Op        string // Operation being performed (e.g., "Get", "Rename", "Delete")
	ProjectID string
	Err       error
}

func (e *ProjectError) Error() string {
	return fmt.Sprintf("%s operation failed for project %s: %v", e.Op, e.ProjectID, e.Err)
}

func (e *ProjectError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for project errors.
func (e *ProjectError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewProjectError(op, projectID string, err error) *ProjectError {
	return &ProjectError{Op: op, ProjectID: projectID, Err: err}
}

// AnalysisError wraps analysis-related errors with additional context.
type AnalysisError struct {
	Op         string
	ProjectID  string
	AnalysisID string
	Err        error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s operation failed for analysis %s in project %s: %v", e.Op, e.AnalysisID, e.ProjectID, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func (e *AnalysisError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewAnalysisError(op, projectID, analysisID string, err error) *AnalysisError {
	return &AnalysisError{Op: op, ProjectID: projectID, AnalysisID: analysisID, Err: err}
}

// IsProjectNotFound checks if an error indicates a project was not found.
func IsProjectNotFound(err error) bool {
	return errors.Is(err, ErrProjectNotFound)
}

// IsAnalysisNotFound checks if an error indicates an analysis was not found.
func IsAnalysisNotFound(err error) bool {
	return errors.Is(err, ErrAnalysisNotFound)
}
