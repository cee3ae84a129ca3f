package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

func TestNew_NoURLIsNoop(t *testing.T) {
	p, err := New("", "assetbuilder.builds", nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, p)
	assert.NoError(t, p.Publish(t.Context(), Event{BuildID: "b"}))
	assert.NoError(t, p.Close())
}

func TestNewNATSPublisher_Errors(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:4222", "", nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))

	// Nothing listens on port 1.
	_, err = NewNATSPublisher("nats://127.0.0.1:1", "assetbuilder.builds", nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
}

func TestEvent_JSON(t *testing.T) {
	ev := Event{
		BuildID:    "b-1",
		Status:     "success",
		Trigger:    "watch",
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		DurationMS: 120,
		Files:      3,
		Bundles:    map[string][]string{"app": {"css/app.css", "js/app.js"}},
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "b-1", fields["build_id"])
	assert.Equal(t, "2026-01-02T03:04:05Z", fields["timestamp"])
	assert.NotContains(t, fields, "error")
	assert.NotContains(t, fields, "manifest_hash")
}
