package repo

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBranchNotFound    = errors.New("branch not found")
	ErrCommitNotFound    = errors.New("commit not found")
	ErrFileNotFound      = errors.New("file not found")
	ErrFilePathRequired  = errors.New("file path required")
	ErrInvalidPath       = errors.New("invalid path")
	ErrInvalidBranchName = errors.New("invalid branch name")
	ErrAmbiguousRevision = errors.New("ambiguous revision")
	ErrBranchMoved       = errors.New("branch moved concurrently")
)

// MergeConflictError reports the paths both sides of a merge changed in
// incompatible ways. Nothing is written when it is returned.
type MergeConflictError struct {
	Target string
	Source string
	Paths  []string // sorted
}

func (e *MergeConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("merge %s into %s: conflicts in %d path(s): %s",
		e.Source, e.Target, len(e.Paths), strings.Join(e.Paths, ", "))
}

// PathError ties a path-level failure to the offending path.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %q", e.Err, e.Path)
}

func (e *PathError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func pathError(p string, err error) error {
	return &PathError{Path: p, Err: err}
}
