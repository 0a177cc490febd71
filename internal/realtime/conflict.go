package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/tidwall/gjson"

	"github.com/plazahq/realtime/internal/actions"
	apperrors "github.com/plazahq/realtime/internal/errors"
)

// Strategy selects how a conflicted offline action is reconciled
// against authoritative server state.
type Strategy string

const (
	// StrategyServerWins discards the local payload and accepts the
	// server state; the action is marked synced.
	StrategyServerWins Strategy = "server_wins"

	// StrategyClientWins resubmits the local payload with a force flag;
	// the action returns to pending for one more sync pass.
	StrategyClientWins Strategy = "client_wins"

	// StrategyMerge applies a registered merge function over the local
	// payload and the server conflict data. Fails closed when no merge
	// function is registered for the action type.
	StrategyMerge Strategy = "merge"

	// StrategyManual replaces the payload with a caller-supplied one.
	StrategyManual Strategy = "manual"
)

// MergeFunc combines a local payload with authoritative server state
// into a new payload. Registered per action type.
type MergeFunc func(local, server json.RawMessage) (json.RawMessage, error)

// Resolver applies conflict resolution strategies to offline actions.
type Resolver struct {
	queue  *actions.Queue
	logger *slog.Logger

	mu     sync.Mutex
	merges map[string]MergeFunc
}

// NewResolver creates a resolver over the given action queue.
func NewResolver(queue *actions.Queue, logger *slog.Logger) *Resolver {
	return &Resolver{
		queue:  queue,
		logger: logger,
		merges: make(map[string]MergeFunc),
	}
}

// RegisterMerge installs the merge function for an action type,
// replacing any previous registration.
func (r *Resolver) RegisterMerge(actionType string, fn MergeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.merges[actionType] = fn
}

// Resolve applies strategy to the conflicted action with the given id.
// It reports whether the resolution attempt succeeded, not whether the
// underlying sync will; a resolved action (other than server_wins)
// returns to pending and is resubmitted on the next orchestration
// pass. Failed attempts leave the action conflicted and unchanged, so
// repeated failures are harmless.
func (r *Resolver) Resolve(id string, strategy Strategy, customPayload json.RawMessage) bool {
	a, err := r.queue.Get(id)
	if err != nil {
		r.logger.Warn("resolve: action lookup failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)

		return false
	}

	if a.Status != actions.StatusConflicted {
		r.logger.Warn("resolve: action is not conflicted",
			slog.String("id", id),
			slog.String("status", string(a.Status)),
		)

		return false
	}

	switch strategy {
	case StrategyServerWins:
		return r.resolveServerWins(a)
	case StrategyClientWins:
		return r.resolveClientWins(a)
	case StrategyMerge:
		return r.resolveMerge(a)
	case StrategyManual:
		return r.resolveManual(a, customPayload)
	default:
		r.logger.Warn("resolve: unknown strategy", slog.String("strategy", string(strategy)))
		return false
	}
}

func (r *Resolver) resolveServerWins(a actions.Action) bool {
	if err := r.queue.MarkSynced(a.ID); err != nil {
		r.logger.Warn("resolve: pruning action", slog.String("error", err.Error()))
		return false
	}

	r.logger.Info("conflict resolved, server state accepted",
		slog.String("id", a.ID),
		slog.String("type", a.Type),
	)

	return true
}

func (r *Resolver) resolveClientWins(a actions.Action) bool {
	forced, err := withForceFlag(a.Payload)
	if err != nil {
		r.logger.Warn("resolve: forcing payload", slog.String("error", err.Error()))
		return false
	}

	a.Payload = forced
	a.Status = actions.StatusPending
	a.ConflictData = nil

	if err := r.queue.Update(a); err != nil {
		r.logger.Warn("resolve: updating action", slog.String("error", err.Error()))
		return false
	}

	return true
}

func (r *Resolver) resolveMerge(a actions.Action) bool {
	r.mu.Lock()
	fn, ok := r.merges[a.Type]
	r.mu.Unlock()

	if !ok {
		// Fail closed: without a merge function the action stays
		// conflicted until the caller picks another strategy.
		r.logger.Warn("resolve: merge unavailable",
			slog.String("type", a.Type),
			slog.String("error", apperrors.ErrNoMergeFunc.Error()),
		)

		return false
	}

	merged, err := fn(a.Payload, a.ConflictData)
	if err != nil {
		r.logger.Warn("resolve: merge failed",
			slog.String("id", a.ID),
			slog.String("error", err.Error()),
		)

		return false
	}

	a.Payload = merged
	a.Status = actions.StatusPending
	a.ConflictData = nil

	if err := r.queue.Update(a); err != nil {
		r.logger.Warn("resolve: updating action", slog.String("error", err.Error()))
		return false
	}

	return true
}

func (r *Resolver) resolveManual(a actions.Action, customPayload json.RawMessage) bool {
	if len(customPayload) == 0 || !json.Valid(customPayload) {
		r.logger.Warn("resolve: manual strategy requires a valid replacement payload",
			slog.String("id", a.ID),
		)

		return false
	}

	a.Payload = customPayload
	a.Status = actions.StatusPending
	a.ConflictData = nil

	if err := r.queue.Update(a); err != nil {
		r.logger.Warn("resolve: updating action", slog.String("error", err.Error()))
		return false
	}

	return true
}

// withForceFlag merges {"force": true} into a JSON object payload.
func withForceFlag(payload json.RawMessage) (json.RawMessage, error) {
	obj := make(map[string]any)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, fmt.Errorf("payload is not a JSON object: %w", err)
		}
	}

	obj["force"] = true

	return json.Marshal(obj)
}

// TextFieldMerge returns a MergeFunc that three-way merges a text
// field. The local payload must carry a "base" field holding the text
// the user edited from; the patch from base to the local text is
// applied onto the server's text. Hunks that no longer apply fail the
// merge, leaving the action conflicted.
func TextFieldMerge(field string) MergeFunc {
	return func(local, server json.RawMessage) (json.RawMessage, error) {
		base := gjson.GetBytes(local, "base")
		if !base.Exists() {
			return nil, fmt.Errorf("local payload has no base text: %w", apperrors.ErrInvalidResolution)
		}

		localText := gjson.GetBytes(local, field).String()
		serverText := gjson.GetBytes(server, field).String()

		dmp := diffmatchpatch.New()
		patches := dmp.PatchMake(base.String(), localText)

		merged, applied := dmp.PatchApply(patches, serverText)
		for _, ok := range applied {
			if !ok {
				return nil, fmt.Errorf("merging %s: local edit does not apply to server text", field)
			}
		}

		obj := make(map[string]any)
		if err := json.Unmarshal(local, &obj); err != nil {
			return nil, fmt.Errorf("decoding local payload: %w", err)
		}

		obj[field] = merged
		delete(obj, "base")

		return json.Marshal(obj)
	}
}
