package history

import (
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

var (
	// ErrDatabaseOpenFailed indicates the SQLite database could not be opened.
	ErrDatabaseOpenFailed = ferrors.StoreError("could not open build history database").Build()

	// ErrRecordNotFound indicates no build has the requested ID.
	ErrRecordNotFound = ferrors.NotFoundError("build not found").Build()
)
