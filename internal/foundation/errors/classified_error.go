package errors

import (
	stderrors "errors"
	"maps"
)

// ClassifiedError is an error with a category, severity, retry hint and
// structured context. Values are immutable once built.
type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

func (e *ClassifiedError) Error() string {
	s := string(e.category) + ": " + e.message
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

// Is matches sentinel errors by category and message, so copies made by
// WithContext still match their sentinel.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	return ok && t.category == e.category && t.message == e.message
}

func (e *ClassifiedError) Category() ErrorCategory      { return e.category }
func (e *ClassifiedError) Severity() ErrorSeverity      { return e.severity }
func (e *ClassifiedError) RetryStrategy() RetryStrategy { return e.retry }
func (e *ClassifiedError) Message() string              { return e.message }
func (e *ClassifiedError) Cause() error                 { return e.cause }
func (e *ClassifiedError) Context() ErrorContext        { return e.context }

// CanRetry reports whether repeating the failed operation unchanged may succeed.
func (e *ClassifiedError) CanRetry() bool { return e.retry == RetryBackoff }

// IsFatal reports whether the error should end the run.
func (e *ClassifiedError) IsFatal() bool { return e.severity == SeverityFatal }

// WithContext returns a copy of e with key set.
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	cp := *e
	cp.context = maps.Clone(e.context)
	if cp.context == nil {
		cp.context = ErrorContext{}
	}
	cp.context[key] = value
	return &cp
}

// ErrorBuilder assembles a ClassifiedError.
type ErrorBuilder struct {
	err ClassifiedError
}

// NewError starts an error of category c with that category's default
// severity and retry strategy.
func NewError(c ErrorCategory, message string) *ErrorBuilder {
	t := traitsOf(c)
	return &ErrorBuilder{err: ClassifiedError{
		category: c,
		severity: t.severity,
		retry:    t.retry,
		message:  message,
		context:  ErrorContext{},
	}}
}

// WrapError starts an error of category c caused by err.
func WrapError(err error, c ErrorCategory, message string) *ErrorBuilder {
	return NewError(c, message).WithCause(err)
}

func (b *ErrorBuilder) WithSeverity(s ErrorSeverity) *ErrorBuilder {
	b.err.severity = s
	return b
}

func (b *ErrorBuilder) WithRetry(r RetryStrategy) *ErrorBuilder {
	b.err.retry = r
	return b
}

// Retryable marks the error as worth retrying with backoff.
func (b *ErrorBuilder) Retryable() *ErrorBuilder { return b.WithRetry(RetryBackoff) }

func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.err.cause = err
	return b
}

func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.context[key] = value
	return b
}

// Build returns the error. The builder must not be reused afterwards.
func (b *ErrorBuilder) Build() *ClassifiedError {
	e := b.err
	return &e
}

func ConfigError(message string) *ErrorBuilder     { return NewError(CategoryConfig, message) }
func ValidationError(message string) *ErrorBuilder { return NewError(CategoryValidation, message) }
func NotFoundError(message string) *ErrorBuilder   { return NewError(CategoryNotFound, message) }
func TransformError(message string) *ErrorBuilder  { return NewError(CategoryTransform, message) }
func CollisionError(message string) *ErrorBuilder  { return NewError(CategoryCollision, message) }
func BuildError(message string) *ErrorBuilder      { return NewError(CategoryBuild, message) }
func FileSystemError(message string) *ErrorBuilder { return NewError(CategoryFileSystem, message) }
func NetworkError(message string) *ErrorBuilder    { return NewError(CategoryNetwork, message) }
func StoreError(message string) *ErrorBuilder      { return NewError(CategoryStore, message) }
func ServerError(message string) *ErrorBuilder     { return NewError(CategoryServer, message) }
func InternalError(message string) *ErrorBuilder   { return NewError(CategoryInternal, message) }

// AsClassified returns the first ClassifiedError in err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var c *ClassifiedError
	if stderrors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// IsClassified reports whether err's chain contains a ClassifiedError.
func IsClassified(err error) bool {
	_, ok := AsClassified(err)
	return ok
}

// HasCategory reports whether the first classified error in the chain has category c.
func HasCategory(err error, c ErrorCategory) bool {
	ce, ok := AsClassified(err)
	return ok && ce.category == c
}

// HasSeverity reports whether the first classified error in the chain has severity s.
func HasSeverity(err error, s ErrorSeverity) bool {
	ce, ok := AsClassified(err)
	return ok && ce.severity == s
}

// IsRetryable reports whether the first classified error in the chain may be retried.
func IsRetryable(err error) bool {
	ce, ok := AsClassified(err)
	return ok && ce.CanRetry()
}

// GetCategory returns the category of err, or CategoryInternal for
// unclassified errors.
func GetCategory(err error) ErrorCategory {
	if ce, ok := AsClassified(err); ok {
		return ce.category
	}
	return CategoryInternal
}
