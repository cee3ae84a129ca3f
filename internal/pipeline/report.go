package pipeline

import (
	"context"
	"errors"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/emit"
	"git.home.luguber.info/inful/assetbuilder/internal/graph"
	"git.home.luguber.info/inful/assetbuilder/internal/history"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
)

// Report summarizes one build run.
type Report struct {
	BuildID   string
	Trigger   history.Trigger
	StartedAt time.Time
	Duration  time.Duration
	Status    history.Status

	// Output is the emitted, post-processed output. It is nil when the
	// build failed before emission completed.
	Output *emit.Output
	Graph  *graph.Graph

	Units    int
	Cached   int
	Failed   int
	Warnings []graph.Warning
	Stages   []StageTiming

	Signature    string
	Commit       string
	ManifestHash string
	Err          error
}

// Files returns the number of output files.
func (r *Report) Files() int {
	if r.Output == nil {
		return 0
	}
	return len(r.Output.Files)
}

// Bundles maps entry names to their output paths.
func (r *Report) Bundles() map[string][]string {
	if r.Output == nil || r.Output.Manifest == nil {
		return nil
	}
	return r.Output.Manifest.Bundles
}

// finish settles the status and duration from the build error.
func (r *Report) finish(err error) {
	r.Duration = time.Since(r.StartedAt)
	r.Err = err
	switch {
	case err == nil:
		r.Status = history.StatusSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.Status = history.StatusCanceled
	default:
		r.Status = history.StatusFailed
	}
	if r.Graph != nil {
		r.Units = len(r.Graph.Units)
		r.Warnings = r.Graph.Warnings
		r.Cached, r.Failed = 0, 0
		for _, u := range r.Graph.Units {
			if u.Cached {
				r.Cached++
			}
			if u.Err != nil {
				r.Failed++
			}
		}
	}
}

func (r *Report) outcome() metrics.BuildOutcomeLabel {
	switch r.Status {
	case history.StatusSuccess:
		return metrics.BuildOutcomeSuccess
	case history.StatusCanceled:
		return metrics.BuildOutcomeCanceled
	default:
		return metrics.BuildOutcomeFailed
	}
}

// Record converts the report to a history record.
func (r *Report) Record() history.Record {
	rec := history.Record{
		ID:           r.BuildID,
		StartedAt:    r.StartedAt,
		Duration:     r.Duration,
		Status:       r.Status,
		Trigger:      r.Trigger,
		Files:        r.Files(),
		Units:        r.Units,
		CacheHits:    r.Cached,
		Signature:    r.Signature,
		SourceCommit: r.Commit,
		ManifestHash: r.ManifestHash,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// Event converts the report to a build notification.
func (r *Report) Event() notify.Event {
	ev := notify.Event{
		BuildID:      r.BuildID,
		Status:       string(r.Status),
		Trigger:      string(r.Trigger),
		Timestamp:    r.StartedAt.Add(r.Duration),
		DurationMS:   r.Duration.Milliseconds(),
		Files:        r.Files(),
		Bundles:      r.Bundles(),
		ManifestHash: r.ManifestHash,
		SourceCommit: r.Commit,
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	return ev
}
