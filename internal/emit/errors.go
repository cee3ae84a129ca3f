package emit

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// NameCollisionError reports two distinct sources resolving to one output path.
type NameCollisionError struct {
	Path    string
	Sources []string

	classified *ferrors.ClassifiedError
}

func newNameCollisionError(p string, sources ...string) *NameCollisionError {
	return &NameCollisionError{
		Path:    p,
		Sources: sources,
		classified: ferrors.CollisionError("output name collision").
			WithContext("output", p).
			WithContext("sources", strings.Join(sources, ", ")).
			Build(),
	}
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("output name collision on %s between %s", e.Path, strings.Join(e.Sources, " and "))
}

// Unwrap exposes the classified error.
func (e *NameCollisionError) Unwrap() error { return e.classified }

// OutputWriteError reports a failed filesystem operation while publishing.
type OutputWriteError struct {
	Path  string
	Op    string
	Cause error

	classified *ferrors.ClassifiedError
}

func newOutputWriteError(op, p string, cause error) *OutputWriteError {
	b := ferrors.WrapError(cause, ferrors.CategoryFileSystem, "output write failed").
		WithContext("path", p).
		WithContext("op", op)
	if isTransient(cause) {
		b = b.Retryable()
	}
	return &OutputWriteError{Path: p, Op: op, Cause: cause, classified: b.Build()}
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap exposes the classified error, which in turn wraps Cause.
func (e *OutputWriteError) Unwrap() error { return e.classified }

// isTransient reports filesystem errors worth retrying: locks and interrupted calls.
func isTransient(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.ETXTBSY)
}
