// Package errors provides the classified error type used across assetbuilder.
//
// Every ClassifiedError carries an ErrorCategory. The category supplies the
// default severity and retry strategy, the CLI exit code and the HTTP status
// used by the dev server. Build errors with the per-category constructors:
//
//	err := errors.FileSystemError("write output failed").
//		WithContext("path", outPath).
//		WithCause(cause).
//		Build()
package errors
