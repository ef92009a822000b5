package realtime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestAttachIsIdempotent(t *testing.T) {
	b := NewBroadcaster(4, zerolog.Nop())
	first := b.Attach("job-1")
	second := b.Attach("job-1")
	assert.Same(t, first, second)
	assert.Equal(t, 1, b.Active())
}

func TestReadersShareEventsAndCloseOnComplete(t *testing.T) {
	b := NewBroadcaster(8, zerolog.Nop())
	s := b.Attach("job-1")
	a, _ := s.Subscribe()
	c, _ := b.Attach("job-1").Subscribe()

	b.Progress("job-1", 10, "Starting image generation...")
	b.Progress("job-1", 50, "AI is editing the photo...")
	b.Complete("job-1", "Image generation completed!")

	for _, ch := range []<-chan Event{a, c} {
		events := drain(ch)
		require.Len(t, events, 3)
		assert.Equal(t, EventProgress, events[0].Type)
		assert.Equal(t, ProgressData{Status: "running", Progress: 10, Message: "Starting image generation..."}, events[0].Data)
		assert.Equal(t, EventComplete, events[2].Type)
		assert.Equal(t, ProgressData{Status: "completed", Progress: 100, Message: "Image generation completed!"}, events[2].Data)
	}

	assert.True(t, s.Closed())
	assert.Equal(t, 0, b.Active())
}

func TestErrorIsTerminal(t *testing.T) {
	b := NewBroadcaster(4, zerolog.Nop())
	ch, _ := b.Attach("job-1").Subscribe()

	b.Error("job-1", "upstream error: quota exhausted")

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Type: EventError, Data: ErrorData{Error: "upstream error: quota exhausted"}}, events[0])
	assert.Equal(t, 0, b.Active())
}

func TestPublishWithoutStreamIsNoop(t *testing.T) {
	b := NewBroadcaster(4, zerolog.Nop())
	assert.NotPanics(t, func() {
		b.Progress("nobody", 10, "x")
		b.Complete("nobody", "done")
		b.Error("nobody", "boom")
	})
	assert.Equal(t, 0, b.Active())
}

func TestReattachAfterTerminalGetsFreshStream(t *testing.T) {
	b := NewBroadcaster(4, zerolog.Nop())
	first := b.Attach("job-1")
	b.Complete("job-1", "done")

	second := b.Attach("job-1")
	assert.NotSame(t, first, second)
	assert.False(t, second.Closed())
}

func TestCloseEndsReadersAndIsRepeatable(t *testing.T) {
	b := NewBroadcaster(4, zerolog.Nop())
	ch, _ := b.Attach("job-1").Subscribe()

	b.Close("job-1")
	b.Close("job-1")

	assert.Empty(t, drain(ch))
	assert.Equal(t, 0, b.Active())
}

func TestSlowReaderDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(1, zerolog.Nop())
	ch, _ := b.Attach("job-1").Subscribe()

	b.Progress("job-1", 10, "a")
	b.Progress("job-1", 20, "b")
	b.Close("job-1")

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, 10, events[0].Data.(ProgressData).Progress)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster(4, zerolog.Nop())
	s := b.Attach("job-1")
	ch, unsubscribe := s.Subscribe()
	unsubscribe()
	unsubscribe()

	b.Progress("job-1", 10, "a")
	assert.Empty(t, drain(ch))

	late, _ := s.Subscribe()
	b.Close("job-1")
	assert.Empty(t, drain(late))

	closed, _ := s.Subscribe()
	_, open := <-closed
	assert.False(t, open)
}
