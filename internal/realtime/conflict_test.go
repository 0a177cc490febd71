package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazahq/realtime/internal/actions"
	apperrors "github.com/plazahq/realtime/internal/errors"
)

// newConflictedAction seeds a queue with one conflicted action and
// returns both.
func newConflictedAction(t *testing.T, payload, serverState string) (*actions.Queue, actions.Action) {
	t.Helper()

	q := actions.NewQueue(actions.NewMemoryStore(), slog.Default())

	a, err := q.Enqueue("tip", json.RawMessage(payload), actions.PriorityMedium)
	require.NoError(t, err)

	conflicted, err := q.MarkConflicted(a.ID, json.RawMessage(serverState))
	require.NoError(t, err)

	return q, conflicted
}

func TestResolve_ServerWins_PrunesAction(t *testing.T) {
	q, a := newConflictedAction(t, `{"amount":5}`, `{"amount":2}`)
	r := NewResolver(q, slog.Default())

	ok := r.Resolve(a.ID, StrategyServerWins, nil)
	require.True(t, ok)

	// Synced actions are pruned; the local payload is gone.
	_, err := q.Get(a.ID)
	assert.ErrorIs(t, err, apperrors.ErrActionNotFound)
}

func TestResolve_ClientWins_ResubmitsWithForce(t *testing.T) {
	q, a := newConflictedAction(t, `{"amount":5}`, `{"amount":2}`)
	r := NewResolver(q, slog.Default())

	ok := r.Resolve(a.ID, StrategyClientWins, nil)
	require.True(t, ok)

	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, actions.StatusPending, got.Status)
	assert.JSONEq(t, `{"amount":5,"force":true}`, string(got.Payload))
	assert.Empty(t, got.ConflictData)
}

func TestResolve_Merge_FailsClosedWithoutMergeFunc(t *testing.T) {
	q, a := newConflictedAction(t, `{"amount":5}`, `{"amount":2}`)
	r := NewResolver(q, slog.Default())

	ok := r.Resolve(a.ID, StrategyMerge, nil)
	assert.False(t, ok)

	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, actions.StatusConflicted, got.Status, "unregistered type stays conflicted")
}

func TestResolve_Merge_AppliesRegisteredFunc(t *testing.T) {
	q, a := newConflictedAction(t, `{"amount":5}`, `{"amount":2}`)
	r := NewResolver(q, slog.Default())

	r.RegisterMerge("tip", func(local, server json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"amount":7}`), nil
	})

	ok := r.Resolve(a.ID, StrategyMerge, nil)
	require.True(t, ok)

	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, actions.StatusPending, got.Status)
	assert.JSONEq(t, `{"amount":7}`, string(got.Payload))
}

func TestResolve_Merge_FuncErrorLeavesConflicted(t *testing.T) {
	q, a := newConflictedAction(t, `{"amount":5}`, `{"amount":2}`)
	r := NewResolver(q, slog.Default())

	r.RegisterMerge("tip", func(local, server json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("cannot merge")
	})

	ok := r.Resolve(a.ID, StrategyMerge, nil)
	assert.False(t, ok)

	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, actions.StatusConflicted, got.Status)
}

func TestResolve_Manual_RequiresPayload(t *testing.T) {
	q, a := newConflictedAction(t, `{"amount":5}`, `{"amount":2}`)
	r := NewResolver(q, slog.Default())

	// Repeated failed calls must not corrupt state.
	for i := 0; i < 3; i++ {
		assert.False(t, r.Resolve(a.ID, StrategyManual, nil))
	}

	assert.False(t, r.Resolve(a.ID, StrategyManual, json.RawMessage(`{not json`)))

	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, actions.StatusConflicted, got.Status)
	assert.JSONEq(t, `{"amount":5}`, string(got.Payload), "payload untouched by failed attempts")
}

func TestResolve_Manual_ReplacesPayload(t *testing.T) {
	q, a := newConflictedAction(t, `{"amount":5}`, `{"amount":2}`)
	r := NewResolver(q, slog.Default())

	ok := r.Resolve(a.ID, StrategyManual, json.RawMessage(`{"amount":3}`))
	require.True(t, ok)

	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, actions.StatusPending, got.Status)
	assert.JSONEq(t, `{"amount":3}`, string(got.Payload))
}

func TestResolve_NonConflictedActionFails(t *testing.T) {
	q := actions.NewQueue(actions.NewMemoryStore(), slog.Default())

	a, err := q.Enqueue("vote", json.RawMessage(`{}`), actions.PriorityLow)
	require.NoError(t, err)

	r := NewResolver(q, slog.Default())
	assert.False(t, r.Resolve(a.ID, StrategyServerWins, nil))
}

func TestResolve_UnknownActionFails(t *testing.T) {
	q := actions.NewQueue(actions.NewMemoryStore(), slog.Default())
	r := NewResolver(q, slog.Default())

	assert.False(t, r.Resolve("missing", StrategyServerWins, nil))
}

func TestTextFieldMerge_AppliesLocalEditToServerText(t *testing.T) {
	fn := TextFieldMerge("body")

	local := json.RawMessage(`{"body":"great post, loved it","base":"great post"}`)
	server := json.RawMessage(`{"body":"great post!"}`)

	merged, err := fn(local, server)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	body, _ := got["body"].(string)
	assert.Contains(t, body, "loved it", "local edit survives")
	assert.Contains(t, body, "!", "server edit survives")
	assert.NotContains(t, got, "base", "base text is dropped from the merged payload")
}

func TestTextFieldMerge_MissingBaseFails(t *testing.T) {
	fn := TextFieldMerge("body")

	_, err := fn(json.RawMessage(`{"body":"hi"}`), json.RawMessage(`{"body":"yo"}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidResolution)
}
