package actions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	apperrors "github.com/plazahq/realtime/internal/errors"
)

// Queue is the offline action queue. All mutations go through the
// store so that every observable state survives a process restart.
type Queue struct {
	store  Store
	logger *slog.Logger
}

// NewQueue creates a Queue over the given store.
func NewQueue(store Store, logger *slog.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// Enqueue records a new pending action and returns it.
func (q *Queue) Enqueue(actionType string, payload json.RawMessage, priority Priority) (Action, error) {
	a := NewAction(actionType, payload, priority)
	if err := q.put(a); err != nil {
		return Action{}, fmt.Errorf("enqueueing action: %w", err)
	}

	q.logger.Debug("offline action queued",
		slog.String("id", a.ID),
		slog.String("type", a.Type),
	)

	return a, nil
}

// Get returns the action with the given id.
func (q *Queue) Get(id string) (Action, error) {
	data, err := q.store.Get(id)
	if err != nil {
		return Action{}, fmt.Errorf("reading action %s: %w", id, err)
	}

	if data == nil {
		return Action{}, fmt.Errorf("action %s: %w", id, apperrors.ErrActionNotFound)
	}

	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return Action{}, fmt.Errorf("decoding action %s: %w", id, err)
	}

	return a, nil
}

// Pending returns all pending actions in creation order.
func (q *Queue) Pending() ([]Action, error) {
	return q.byStatus(StatusPending)
}

// Failed returns all failed actions in creation order.
func (q *Queue) Failed() ([]Action, error) {
	return q.byStatus(StatusFailed)
}

// Conflicted returns all conflicted actions in creation order.
func (q *Queue) Conflicted() ([]Action, error) {
	return q.byStatus(StatusConflicted)
}

// MarkSynced removes a confirmed action from the store. Synced actions
// are pruned rather than kept, matching the store layout contract.
func (q *Queue) MarkSynced(id string) error {
	if err := q.store.Delete(id); err != nil {
		return fmt.Errorf("pruning synced action %s: %w", id, err)
	}

	return nil
}

// RecordRetry increments the retry count for a pending action. Once the
// count reaches cap, the action is marked failed and will not be
// retried again without an explicit Retry call.
func (q *Queue) RecordRetry(id string, cap int) (Action, error) {
	a, err := q.Get(id)
	if err != nil {
		return Action{}, err
	}

	a.RetryCount++
	if a.RetryCount >= cap {
		a.Status = StatusFailed
		q.logger.Warn("offline action failed after retries",
			slog.String("id", a.ID),
			slog.String("type", a.Type),
			slog.Int("retries", a.RetryCount),
		)
	}

	if err := q.put(a); err != nil {
		return Action{}, err
	}

	return a, nil
}

// MarkConflicted marks an action conflicted and attaches the
// authoritative server state for later resolution.
func (q *Queue) MarkConflicted(id string, serverState json.RawMessage) (Action, error) {
	a, err := q.Get(id)
	if err != nil {
		return Action{}, err
	}

	a.Status = StatusConflicted
	a.ConflictData = serverState

	if err := q.put(a); err != nil {
		return Action{}, err
	}

	return a, nil
}

// Update persists a mutated action. Used by the conflict resolver,
// which rewrites payloads and statuses.
func (q *Queue) Update(a Action) error {
	return q.put(a)
}

// Retry moves a failed or conflicted action back to pending with a
// reset retry count. Explicit caller instruction only.
func (q *Queue) Retry(id string) error {
	a, err := q.Get(id)
	if err != nil {
		return err
	}

	a.Status = StatusPending
	a.RetryCount = 0
	a.ConflictData = nil

	return q.put(a)
}

// Discard permanently removes an action regardless of status.
func (q *Queue) Discard(id string) error {
	if err := q.store.Delete(id); err != nil {
		return fmt.Errorf("discarding action %s: %w", id, err)
	}

	return nil
}

// Counts returns the number of actions per status.
func (q *Queue) Counts() (map[Status]int, error) {
	all, err := q.all()
	if err != nil {
		return nil, err
	}

	counts := make(map[Status]int)
	for _, a := range all {
		counts[a.Status]++
	}

	return counts, nil
}

func (q *Queue) put(a Action) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding action %s: %w", a.ID, err)
	}

	if err := q.store.Set(a.ID, data); err != nil {
		return fmt.Errorf("persisting action %s: %w", a.ID, err)
	}

	return nil
}

func (q *Queue) all() ([]Action, error) {
	entries, err := q.store.List()
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}

	out := make([]Action, 0, len(entries))

	for id, data := range entries {
		var a Action
		if err := json.Unmarshal(data, &a); err != nil {
			// A corrupt entry should not wedge the whole queue.
			q.logger.Warn("skipping undecodable action",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)

			continue
		}

		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func (q *Queue) byStatus(s Status) ([]Action, error) {
	all, err := q.all()
	if err != nil {
		return nil, err
	}

	var out []Action

	for _, a := range all {
		if a.Status == s {
			out = append(out, a)
		}
	}

	return out, nil
}
