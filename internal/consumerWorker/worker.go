package consumerWorker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"liveEvents/internal/clock"
	"liveEvents/internal/dto"
	"liveEvents/internal/repo"
)

type Consumer interface {
	Consume(handler func([]byte) error) error
}

type Transitioner interface {
	TransitionEvent(ctx context.Context, eventID int64, now time.Time) (int, error)
}

// Reader applies delayed transition triggers as they arrive. Delivery is at
// least once; a duplicate or early trigger finds nothing due and is acked.
// Every trigger is acked once handled, including during a storage outage:
// the sweep re-checks due events on each tick and owns the retry.
type Reader struct {
	RMQ       Consumer
	scheduler Transitioner
	clock     clock.Clock
	log       *zerolog.Logger
	ctx       context.Context
	done      chan struct{}
	cancel    context.CancelFunc
}

func NewReader(rmq Consumer, scheduler Transitioner, c clock.Clock, log *zerolog.Logger) *Reader {
	return &Reader{
		RMQ:       rmq,
		scheduler: scheduler,
		clock:     c,
		log:       log,
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.ctx = cctx
	r.cancel = cancel

	r.log.Info().Msg("transition trigger reader started")

	go func() {
		defer close(r.done)

		if err := r.RMQ.Consume(r.Handle); err != nil {
			r.log.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		r.log.Info().Msg("transition trigger reader stopped by context")
	}()
}

// Handle processes one trigger body. A failed transition is logged and the
// trigger dropped; the event stays due and the next sweep applies it.
func (r *Reader) Handle(body []byte) error {
	var msg dto.TransitionTriggerMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		r.log.Error().
			Err(err).
			Msgf("dropping malformed trigger: %s", string(body))
		return nil
	}

	now := r.clock.Now()
	if now.Before(msg.DueAt) {
		r.log.Debug().
			Int64("event_id", msg.EventID).
			Time("due_at", msg.DueAt).
			Msg("trigger arrived early, the sweep will pick the event up")
	}

	applied, err := r.scheduler.TransitionEvent(r.ctx, msg.EventID, now)
	if err != nil {
		if errors.Is(err, repo.ErrUnavailable) || r.ctx.Err() != nil {
			r.log.Warn().
				Err(err).
				Int64("event_id", msg.EventID).
				Msg("storage unavailable, leaving the event to the sweep")
			return nil
		}
		r.log.Error().
			Err(err).
			Int64("event_id", msg.EventID).
			Str("phase", string(msg.Phase)).
			Msg("trigger failed, leaving the event to the sweep")
		return nil
	}

	r.log.Info().
		Int64("event_id", msg.EventID).
		Str("phase", string(msg.Phase)).
		Int("applied", applied).
		Msg("transition trigger processed")
	return nil
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
