package consumerWorker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveEvents/internal/clock"
	"liveEvents/internal/dto"
	"liveEvents/internal/model"
	"liveEvents/internal/repo"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type call struct {
	eventID int64
	now     time.Time
}

type fakeTransitioner struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeTransitioner) TransitionEvent(_ context.Context, eventID int64, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{eventID: eventID, now: now})
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

type fakeConsumer struct {
	mu      sync.Mutex
	handler func([]byte) error
	err     error
}

func (c *fakeConsumer) Consume(handler func([]byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	return c.err
}

func (c *fakeConsumer) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

func newTestReader(tr Transitioner) *Reader {
	log := zerolog.Nop()
	return NewReader(&fakeConsumer{}, tr, clock.NewManual(t0), &log)
}

func trigger(t *testing.T, id int64, phase model.State, due time.Time) []byte {
	t.Helper()
	body, err := json.Marshal(dto.TransitionTriggerMessage{EventID: id, Phase: phase, DueAt: due})
	require.NoError(t, err)
	return body
}

func TestReader_Handle(t *testing.T) {
	t.Run("AppliesTriggerAtClockTime", func(t *testing.T) {
		tr := &fakeTransitioner{}
		r := newTestReader(tr)

		require.NoError(t, r.Handle(trigger(t, 12, model.StateOngoing, t0)))
		require.Len(t, tr.calls, 1)
		assert.Equal(t, call{eventID: 12, now: t0}, tr.calls[0])
	})

	t.Run("EarlyTriggerStillChecks", func(t *testing.T) {
		tr := &fakeTransitioner{}
		r := newTestReader(tr)

		require.NoError(t, r.Handle(trigger(t, 12, model.StatePast, t0.Add(time.Hour))))
		assert.Len(t, tr.calls, 1)
	})

	t.Run("MalformedBodyIsDropped", func(t *testing.T) {
		tr := &fakeTransitioner{}
		r := newTestReader(tr)

		assert.NoError(t, r.Handle([]byte("{not json")))
		assert.Empty(t, tr.calls)
	})

	t.Run("StorageOutageIsLeftToSweep", func(t *testing.T) {
		tr := &fakeTransitioner{err: fmt.Errorf("%w: dial tcp", repo.ErrUnavailable)}
		r := newTestReader(tr)

		assert.NoError(t, r.Handle(trigger(t, 3, model.StateOngoing, t0)), "an outage must not trigger redelivery")
		assert.Len(t, tr.calls, 1, "one attempt per delivery")
	})

	t.Run("CancelledReaderIsLeftToSweep", func(t *testing.T) {
		tr := &fakeTransitioner{err: context.Canceled}
		r := newTestReader(tr)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r.ctx = ctx

		assert.NoError(t, r.Handle(trigger(t, 3, model.StatePast, t0)))
		assert.Len(t, tr.calls, 1)
	})

	t.Run("OtherFailuresAreAcked", func(t *testing.T) {
		tr := &fakeTransitioner{err: errors.New("check constraint")}
		r := newTestReader(tr)

		assert.NoError(t, r.Handle(trigger(t, 3, model.StateOngoing, t0)))
	})
}

func TestReader_StartStop(t *testing.T) {
	tr := &fakeTransitioner{}
	consumer := &fakeConsumer{}
	log := zerolog.Nop()
	r := NewReader(consumer, tr, clock.NewManual(t0), &log)

	r.Start(context.Background())
	require.Eventually(t, consumer.subscribed, time.Second, 10*time.Millisecond)

	r.Stop()
	select {
	case <-r.done:
	default:
		t.Fatal("reader goroutine still running after Stop")
	}
}

func TestReader_ConsumeFailureEndsGoroutine(t *testing.T) {
	log := zerolog.Nop()
	r := NewReader(&fakeConsumer{err: errors.New("channel closed")}, &fakeTransitioner{}, clock.NewManual(t0), &log)

	r.Start(context.Background())
	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("reader did not exit after consume failure")
	}
	r.Stop()
}
