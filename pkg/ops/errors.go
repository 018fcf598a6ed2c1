package ops

import (
	"errors"
	"fmt"

	"github.com/odvcencio/gotd/pkg/catalog"
	"github.com/odvcencio/gotd/pkg/registry"
	"github.com/odvcencio/gotd/pkg/repo"
)

// Code is a stable machine-readable failure code.
type Code string

const (
	CodeRepositoryNotFound   Code = "REPOSITORY_NOT_FOUND"
	CodeRepositoryExists     Code = "REPOSITORY_EXISTS"
	CodeBranchNotFound       Code = "BRANCH_NOT_FOUND"
	CodeCommitNotFound       Code = "COMMIT_NOT_FOUND"
	CodeFileNotFound         Code = "FILE_NOT_FOUND"
	CodeFilePathRequired     Code = "FILE_PATH_REQUIRED"
	CodeUnsupportedOperation Code = "UNSUPPORTED_OPERATION"
	CodeMergeConflict        Code = "MERGE_CONFLICT"
	CodeInvalidParameters    Code = "INVALID_PARAMETERS"
	CodeInternalError        Code = "INTERNAL_ERROR"

	// Transport codes, never produced by Dispatch.
	CodeDecryptionFailed Code = "DECRYPTION_FAILED"
	CodeBadRequest       Code = "BAD_REQUEST"
)

// Error attaches a code to a failure detected by the dispatcher itself.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Classify maps an error from any layer to its Code. Unrecognized errors,
// including object store corruption and I/O failures, are internal.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	var conflict *repo.MergeConflictError
	if errors.As(err, &conflict) {
		return CodeMergeConflict
	}

	switch {
	case errors.Is(err, registry.ErrRepositoryNotFound), errors.Is(err, catalog.ErrRepositoryNotFound):
		return CodeRepositoryNotFound
	case errors.Is(err, registry.ErrRepositoryExists), errors.Is(err, catalog.ErrRepositoryExists):
		return CodeRepositoryExists
	case errors.Is(err, repo.ErrFilePathRequired):
		return CodeFilePathRequired
	case errors.Is(err, repo.ErrFileNotFound):
		return CodeFileNotFound
	case errors.Is(err, repo.ErrBranchNotFound):
		return CodeBranchNotFound
	case errors.Is(err, repo.ErrCommitNotFound):
		return CodeCommitNotFound
	case errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, repo.ErrInvalidPath),
		errors.Is(err, repo.ErrInvalidBranchName),
		errors.Is(err, repo.ErrAmbiguousRevision):
		return CodeInvalidParameters
	}
	return CodeInternalError
}
