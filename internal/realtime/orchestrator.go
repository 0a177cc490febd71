package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/plazahq/realtime/internal/actions"
)

// SyncOutcome classifies the sync endpoint's verdict on one action.
type SyncOutcome int

const (
	// OutcomeConfirmed: the server applied the action.
	OutcomeConfirmed SyncOutcome = iota

	// OutcomeRetry: a transient rejection; the action is retried on a
	// later pass until the retry cap.
	OutcomeRetry

	// OutcomeConflict: the action's assumptions no longer match server
	// state. ServerState carries the authoritative version.
	OutcomeConflict
)

// SyncResult is the per-action result returned by the sync endpoint.
type SyncResult struct {
	Outcome     SyncOutcome
	ServerState json.RawMessage
}

// SyncEndpoint reconciles a single offline action against server
// state. Transport-level errors are treated as retryable.
type SyncEndpoint interface {
	SyncAction(ctx context.Context, a actions.Action) (SyncResult, error)
}

// frameSender writes a frame to the live transport. Implemented by the
// Client; orchestration passes run on the goroutine that owns writes.
type frameSender interface {
	sendFrame(ctx context.Context, f Frame) error
}

// Orchestrator runs the post-reconnect synchronization sequence:
// subscription replay, outbound queue flush, then offline action sync.
// Each step must complete (or fail, stopping the pass) before the next
// begins.
type Orchestrator struct {
	registry   *Registry
	outbound   *OutboundQueue
	queue      *actions.Queue
	endpoint   SyncEndpoint
	dispatcher *Dispatcher
	logger     *slog.Logger
	retryCap   int

	// Re-entrancy guard: one pass at a time. A trigger arriving
	// mid-pass coalesces into a single follow-up pass.
	mu      sync.Mutex
	running bool
	pending bool
}

// NewOrchestrator wires an orchestrator over the core's queues.
func NewOrchestrator(
	registry *Registry,
	outbound *OutboundQueue,
	queue *actions.Queue,
	endpoint SyncEndpoint,
	dispatcher *Dispatcher,
	retryCap int,
	logger *slog.Logger,
) *Orchestrator {
	if retryCap <= 0 {
		retryCap = defaultActionRetryCap
	}

	return &Orchestrator{
		registry:   registry,
		outbound:   outbound,
		queue:      queue,
		endpoint:   endpoint,
		dispatcher: dispatcher,
		logger:     logger,
		retryCap:   retryCap,
	}
}

// Sync runs one orchestration pass, coalescing concurrent triggers: if
// a pass is already running, the call records a follow-up request and
// returns immediately; the running pass repeats once more when done.
func (o *Orchestrator) Sync(ctx context.Context, sender frameSender) error {
	o.mu.Lock()
	if o.running {
		o.pending = true
		o.mu.Unlock()

		return nil
	}

	o.running = true
	o.mu.Unlock()

	for {
		err := o.pass(ctx, sender)

		o.mu.Lock()
		again := o.pending && err == nil && ctx.Err() == nil
		o.pending = false

		if !again {
			o.running = false
		}
		o.mu.Unlock()

		if !again {
			return err
		}
	}
}

// SyncActions runs only the offline action step, under the same
// re-entrancy guard as Sync. Used for mid-session triggers (a newly
// queued or resolved action) where subscriptions and the outbound
// queue are already reconciled with the live connection; a coalesced
// trigger repeats the step once the current one finishes.
func (o *Orchestrator) SyncActions(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.pending = true
		o.mu.Unlock()

		return nil
	}

	o.running = true
	o.mu.Unlock()

	for {
		err := o.syncActions(ctx)

		o.mu.Lock()
		again := o.pending && err == nil && ctx.Err() == nil
		o.pending = false

		if !again {
			o.running = false
		}
		o.mu.Unlock()

		if !again {
			if err != nil {
				return fmt.Errorf("syncing offline actions: %w", err)
			}

			return nil
		}
	}
}

// pass executes the three-step sequence once.
func (o *Orchestrator) pass(ctx context.Context, sender frameSender) error {
	if err := o.replaySubscriptions(ctx, sender); err != nil {
		return fmt.Errorf("replaying subscriptions: %w", err)
	}

	if err := o.flushOutbound(ctx, sender); err != nil {
		return fmt.Errorf("flushing outbound queue: %w", err)
	}

	if err := o.syncActions(ctx); err != nil {
		return fmt.Errorf("syncing offline actions: %w", err)
	}

	return nil
}

// replaySubscriptions sends exactly one subscribe request per
// registered subscription, in insertion order. Per-subscription server
// rejections arrive later as subscription_error events and do not halt
// the others; only transport failures stop the pass.
func (o *Orchestrator) replaySubscriptions(ctx context.Context, sender frameSender) error {
	subs := o.registry.All()

	for _, sub := range subs {
		frame, err := newFrame(eventSubscribe, subscribePayload{
			TopicType: sub.TopicType,
			Target:    sub.Target,
			Filters:   sub.Filters,
		})
		if err != nil {
			return err
		}

		if err := sender.sendFrame(ctx, frame); err != nil {
			return fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
	}

	if len(subs) > 0 {
		o.logger.Debug("subscriptions replayed", slog.Int("count", len(subs)))
	}

	return nil
}

// flushOutbound drains the priority queue in order. On a transport
// failure the unsent remainder is restored to the queue for the next
// pass.
func (o *Orchestrator) flushOutbound(ctx context.Context, sender frameSender) error {
	msgs := o.outbound.Flush()

	for i, m := range msgs {
		if err := sender.sendFrame(ctx, Frame{Event: m.Event, Payload: m.Payload}); err != nil {
			o.outbound.Restore(msgs[i:])
			return fmt.Errorf("message %q: %w", m.Event, err)
		}
	}

	if len(msgs) > 0 {
		o.logger.Debug("outbound queue flushed", slog.Int("count", len(msgs)))
	}

	return nil
}

// syncActions replays pending offline actions in creation order.
// Outcomes are per-action; a transport-level endpoint error counts as
// retryable for that action and continues with the rest.
func (o *Orchestrator) syncActions(ctx context.Context) error {
	pending, err := o.queue.Pending()
	if err != nil {
		return err
	}

	for _, a := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := o.endpoint.SyncAction(ctx, a)
		if err != nil {
			o.logger.Warn("action sync errored",
				slog.String("id", a.ID),
				slog.String("error", err.Error()),
			)

			o.recordRetry(a.ID)

			continue
		}

		switch result.Outcome {
		case OutcomeConfirmed:
			if err := o.queue.MarkSynced(a.ID); err != nil {
				return err
			}

			synced := a
			synced.Status = actions.StatusSynced
			o.dispatcher.Dispatch(Event{Kind: EventActionSynced, Action: &synced})

		case OutcomeRetry:
			o.recordRetry(a.ID)

		case OutcomeConflict:
			conflicted, err := o.queue.MarkConflicted(a.ID, result.ServerState)
			if err != nil {
				return err
			}

			o.logger.Info("action conflicted",
				slog.String("id", a.ID),
				slog.String("type", a.Type),
			)
			o.dispatcher.Dispatch(Event{Kind: EventActionConflicted, Action: &conflicted})
		}
	}

	return nil
}

// recordRetry bumps the retry count and emits a failure event when the
// cap is reached.
func (o *Orchestrator) recordRetry(id string) {
	updated, err := o.queue.RecordRetry(id, o.retryCap)
	if err != nil {
		o.logger.Warn("recording retry", slog.String("id", id), slog.String("error", err.Error()))
		return
	}

	if updated.Status == actions.StatusFailed {
		o.dispatcher.Dispatch(Event{Kind: EventActionFailed, Action: &updated})
	}
}
