package errors

import "net/http"

// ErrorCategory classifies an error for exit codes, HTTP status and logging.
type ErrorCategory string

const (
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryTransform  ErrorCategory = "transform"
	CategoryCollision  ErrorCategory = "collision"
	CategoryBuild      ErrorCategory = "build"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryNetwork    ErrorCategory = "network"
	CategoryStore      ErrorCategory = "store"
	CategoryRuntime    ErrorCategory = "runtime"
	CategoryServer     ErrorCategory = "server"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity is the impact of an error on the current run.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
	SeverityInfo    ErrorSeverity = "info"
)

// RetryStrategy tells callers whether repeating the operation can help.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryBackoff    RetryStrategy = "backoff"
	RetryUserAction RetryStrategy = "user"
)

// traits are the defaults and presentation of one category.
type traits struct {
	severity ErrorSeverity
	retry    RetryStrategy
	exitCode int
	status   int
}

var categoryTraits = map[ErrorCategory]traits{
	CategoryValidation: {SeverityFatal, RetryNever, 2, http.StatusBadRequest},
	CategoryNotFound:   {SeverityError, RetryNever, 3, http.StatusNotFound},
	CategoryConfig:     {SeverityFatal, RetryUserAction, 7, http.StatusBadRequest},
	CategoryNetwork:    {SeverityError, RetryBackoff, 8, http.StatusBadGateway},
	CategoryStore:      {SeverityError, RetryNever, 8, http.StatusBadGateway},
	CategoryTransform:  {SeverityError, RetryNever, 11, http.StatusUnprocessableEntity},
	CategoryCollision:  {SeverityFatal, RetryNever, 11, http.StatusUnprocessableEntity},
	CategoryBuild:      {SeverityFatal, RetryNever, 11, http.StatusUnprocessableEntity},
	CategoryFileSystem: {SeverityError, RetryBackoff, 11, http.StatusInternalServerError},
	CategoryRuntime:    {SeverityError, RetryNever, 12, http.StatusServiceUnavailable},
	CategoryServer:     {SeverityFatal, RetryNever, 12, http.StatusServiceUnavailable},
	CategoryInternal:   {SeverityFatal, RetryNever, 10, http.StatusInternalServerError},
}

func traitsOf(c ErrorCategory) traits {
	if t, ok := categoryTraits[c]; ok {
		return t
	}
	return traits{SeverityError, RetryNever, 1, http.StatusInternalServerError}
}

// ErrorContext carries structured detail such as the unit or output path.
type ErrorContext map[string]any

// Get returns the value stored under key.
func (c ErrorContext) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// GetString returns the value under key if it is a string.
func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}
