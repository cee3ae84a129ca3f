package events

import "time"

// ChangeDetected reports source files that changed on disk. The watcher
// publishes one event per debounced batch.
type ChangeDetected struct {
	Paths      []string
	DetectedAt time.Time
}

// BuildStarted is published when a rebuild begins.
type BuildStarted struct {
	Trigger   string
	StartedAt time.Time
}

// BuildFinished is published when a rebuild ends, successfully or not.
type BuildFinished struct {
	BuildID  string
	Status   string
	Duration time.Duration
	Files    int
	// Err is nil for successful builds.
	Err        error
	FinishedAt time.Time
}

// StateChanged reports a dev server state transition.
type StateChanged struct {
	From string
	To   string
	At   time.Time
}
