package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// pathsEvent is implemented by events that name source paths.
type pathsEvent interface {
	ChangedPaths() []string
}

type pathsChange struct{ paths []string }

func (c pathsChange) ChangedPaths() []string { return c.paths }

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestBus_DeliversByType(t *testing.T) {
	b := NewBus()
	defer b.Close()

	changes, stopChanges := Subscribe[ChangeDetected](b, 1)
	defer stopChanges()
	finished, stopFinished := Subscribe[BuildFinished](b, 1)
	defer stopFinished()

	require.NoError(t, b.Publish(t.Context(), ChangeDetected{Paths: []string{"css/main.css", "js/main.js"}}))
	assert.Equal(t, []string{"css/main.css", "js/main.js"}, receive(t, changes).Paths)

	require.NoError(t, b.Publish(t.Context(), BuildStarted{Trigger: "watch"}))
	select {
	case got := <-finished:
		t.Fatalf("BuildFinished subscriber got %+v", got)
	default:
	}
}

func TestBus_InterfaceSubscription(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, stop := Subscribe[pathsEvent](b, 2)
	defer stop()

	require.NoError(t, b.Publish(t.Context(), pathsChange{paths: []string{"img/logo.png"}}))
	assert.Equal(t, []string{"img/logo.png"}, receive(t, ch).ChangedPaths())
	assert.Equal(t, 0, SubscriberCount[pathsChange](b), "count is per exact type")
	assert.Equal(t, 1, SubscriberCount[pathsEvent](b))
}

func TestBus_FanOutToEverySubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	const subscribers = 4
	var wg sync.WaitGroup
	got := make([]int, subscribers)
	for i := range subscribers {
		ch, stop := Subscribe[StateChanged](b, 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stop()
			for range 3 {
				<-ch
				got[i]++
			}
		}()
	}
	for range 3 {
		require.NoError(t, b.Publish(t.Context(), StateChanged{}))
	}
	wg.Wait()
	assert.Equal(t, []int{3, 3, 3, 3}, got)
}

func TestBus_SlowSubscriberBlocksUntilDeadline(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, stop := Subscribe[ChangeDetected](b, 0)
	defer stop()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, ChangeDetected{})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_InvalidPublish(t *testing.T) {
	b := NewBus()
	defer b.Close()
	assert.True(t, ferrors.HasCategory(b.Publish(t.Context(), nil), ferrors.CategoryValidation))
}

func TestBus_UnsubscribeAndClose(t *testing.T) {
	b := NewBus()

	ch, stop := Subscribe[ChangeDetected](b, 1)
	require.Equal(t, 1, SubscriberCount[ChangeDetected](b))
	stop()
	stop()
	assert.Equal(t, 0, SubscriberCount[ChangeDetected](b))
	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")

	live, _ := Subscribe[ChangeDetected](b, 1)
	b.Close()
	b.Close()
	_, open = <-live
	assert.False(t, open)

	late, _ := Subscribe[ChangeDetected](b, 1)
	_, open = <-late
	assert.False(t, open, "subscribing to a closed bus yields a closed channel")

	err := b.Publish(t.Context(), ChangeDetected{})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryServer))
}
