package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-automation/internal/automation"
)

func messageEvent(conversationID, text string) Event {
	return Event{
		Trigger: automation.TriggerMessageReceived,
		Context: automation.TriggerContext{TenantID: "tn", ConversationID: conversationID, MessageText: text},
	}
}

func TestSchedulerKeepsConversationOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}
	var wg sync.WaitGroup
	wg.Add(6)

	s := NewScheduler(zerolog.Nop(), 8, func(_ context.Context, e Event) {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[e.Context.ConversationID] = append(seen[e.Context.ConversationID], e.Context.MessageText)
		mu.Unlock()
	})

	for _, text := range []string{"1", "2", "3"} {
		require.NoError(t, s.Enqueue(messageEvent("a", text)))
		require.NoError(t, s.Enqueue(messageEvent("b", text)))
	}
	wg.Wait()

	assert.Equal(t, []string{"1", "2", "3"}, seen["a"])
	assert.Equal(t, []string{"1", "2", "3"}, seen["b"])
}

func TestSchedulerRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	s := NewScheduler(zerolog.Nop(), 1, func(context.Context, Event) {
		started <- struct{}{}
		<-block
	})
	defer close(block)

	require.NoError(t, s.Enqueue(messageEvent("a", "1")))
	<-started
	require.NoError(t, s.Enqueue(messageEvent("a", "2")))
	assert.ErrorIs(t, s.Enqueue(messageEvent("a", "3")), ErrQueueFull)
}

func TestSchedulerRunDrainsAndCloses(t *testing.T) {
	var mu sync.Mutex
	handled := 0
	s := NewScheduler(zerolog.Nop(), 8, func(context.Context, Event) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		handled++
		mu.Unlock()
	})

	require.NoError(t, s.Enqueue(messageEvent("a", "1")))
	require.NoError(t, s.Enqueue(messageEvent("a", "2")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	mu.Lock()
	assert.Equal(t, 2, handled)
	mu.Unlock()
	assert.ErrorIs(t, s.Enqueue(messageEvent("a", "3")), ErrSchedulerClosed)
}

func TestSchedulerRunCancelsHandlersAfterGrace(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan error, 1)
	s := NewScheduler(zerolog.Nop(), 8, func(ctx context.Context, _ Event) {
		close(started)
		select {
		case <-ctx.Done():
			cancelled <- ctx.Err()
		case <-time.After(time.Hour):
			cancelled <- nil
		}
	})
	s.grace = 20 * time.Millisecond

	require.NoError(t, s.Enqueue(messageEvent("a", "long wait")))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.ErrorIs(t, <-cancelled, context.Canceled)
}

func TestSchedulerRecoversHandlerPanic(t *testing.T) {
	done := make(chan string, 2)
	s := NewScheduler(zerolog.Nop(), 8, func(_ context.Context, e Event) {
		if e.Context.MessageText == "boom" {
			panic("boom")
		}
		done <- e.Context.MessageText
	})

	require.NoError(t, s.Enqueue(messageEvent("a", "boom")))
	require.NoError(t, s.Enqueue(messageEvent("a", "after")))
	select {
	case got := <-done:
		assert.Equal(t, "after", got)
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestSchedulerIdleWorkerExits(t *testing.T) {
	done := make(chan struct{}, 1)
	s := NewScheduler(zerolog.Nop(), 8, func(context.Context, Event) { done <- struct{}{} })
	s.idle = 10 * time.Millisecond

	require.NoError(t, s.Enqueue(messageEvent("a", "1")))
	<-done

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.workers) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Enqueue(messageEvent("a", "2")))
	<-done
}
