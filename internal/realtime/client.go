// Package realtime implements the real-time synchronization core: a
// persistent push connection with authentication and heartbeats, a
// multiplexed topic-subscription layer that survives reconnects, a
// priority-ordered outbound queue, and orchestration of the offline
// action queue once connectivity returns.
//
// Architecture: a reader goroutine feeds inboundCh with raw transport
// messages. A single event loop goroutine (Run) processes inbound
// messages, outbound operations (opCh), orchestration triggers and
// heartbeat ticks. All writes to the connection happen from the event
// loop, so no write mutex is needed.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	"github.com/plazahq/realtime/internal/actions"
	apperrors "github.com/plazahq/realtime/internal/errors"
)

const (
	// defaultDialTimeout bounds the transport dial plus handshake.
	// Kept at 20s to tolerate slow transport negotiation.
	defaultDialTimeout = 20 * time.Second

	// defaultHeartbeatInterval is how long the connection may be silent
	// before a ping is sent.
	defaultHeartbeatInterval = 30 * time.Second

	// defaultHeartbeatTimeout is how long the connection may be silent
	// before it is declared dead and closed.
	defaultHeartbeatTimeout = 90 * time.Second

	// heartbeatCheckEvery is the cadence of the liveness ticker inside
	// the event loop.
	heartbeatCheckEvery = 10 * time.Second

	// defaultMaxReconnectAttempts caps automatic reconnects before the
	// client gives up and enters the error state.
	defaultMaxReconnectAttempts = 8

	// defaultReconnectBaseDelay seeds the exponential backoff schedule.
	defaultReconnectBaseDelay = time.Second

	// reconnectMaxDelay is the ceiling for a single backoff delay.
	reconnectMaxDelay = 5 * time.Minute

	// jitterDivisor controls the range of random jitter added to the
	// backoff: jitter is uniform in [0, delay/jitterDivisor].
	jitterDivisor = 2

	// maxBackoffShift caps the bit-shift exponent in the backoff to
	// prevent integer overflow of time.Duration.
	maxBackoffShift = 10

	// defaultActionRetryCap is how many sync passes may retry an
	// offline action before it is marked failed.
	defaultActionRetryCap = 5

	// opChanSize buffers outbound operations between public callers and
	// the event loop.
	opChanSize = 64

	// inboundChanSize buffers messages between the reader goroutine and
	// the event loop.
	inboundChanSize = 64
)

// TransportError wraps a connection-level failure that the reconnect
// path should handle with backoff.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportFailure reports whether err (or any error in its chain)
// is a TransportError.
func IsTransportFailure(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Config holds the parameters for a Client.
type Config struct {
	// URL of the push endpoint (ws:// or wss://).
	URL string

	// Identity is the wallet/identity token sent in the authenticate
	// payload.
	Identity string

	// AutoReconnect enables the backoff reconnect schedule after drops.
	AutoReconnect bool

	// MaxReconnectAttempts caps automatic reconnects within one failure
	// streak. Zero means the default.
	MaxReconnectAttempts int

	// ReconnectBaseDelay seeds the exponential backoff. Zero means the
	// default.
	ReconnectBaseDelay time.Duration

	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// OutboundCapacity bounds the outbound priority queue.
	OutboundCapacity int

	// ActionRetryCap is the retry budget per offline action.
	ActionRetryCap int

	// ResumedSession marks the first connection of this process as a
	// reconnect, so the server can replay missed events.
	ResumedSession bool

	// OnConnected is invoked after every successful authentication.
	OnConnected func(at time.Time, reconnecting bool)
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = defaultReconnectBaseDelay
	}

	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}

	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}

	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}

	if c.ActionRetryCap <= 0 {
		c.ActionRetryCap = defaultActionRetryCap
	}

	return c
}

// outboundOp is an operation submitted to the event loop by a public
// caller while the connection is live.
type outboundOp struct {
	frame    Frame
	priority actions.Priority
}

// inboundMsg wraps a message read from the transport by the reader
// goroutine.
type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// Client is the real-time synchronization core. Construct with
// NewClient, establish the first connection with Connect, then drive
// the event loop with Run. All other public methods are non-blocking.
type Client struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	conn Conn

	dispatcher *Dispatcher
	registry   *Registry
	outbound   *OutboundQueue
	queue      *actions.Queue
	resolver   *Resolver
	orch       *Orchestrator

	status   Status
	statusMu sync.RWMutex

	// opCh carries outbound operations into the event loop.
	opCh chan outboundOp

	// inboundCh receives messages from the reader goroutine.
	inboundCh chan inboundMsg

	// triggerCh coalesces full orchestration triggers; capacity 1 so a
	// trigger arriving mid-pass becomes exactly one follow-up pass.
	triggerCh chan struct{}

	// actionTriggerCh coalesces action-only sync triggers. Mid-session
	// events (a newly queued or resolved action) run just the offline
	// action step; the full sequence is reserved for reconnect and
	// host-online triggers.
	actionTriggerCh chan struct{}

	lastMessage time.Time
	lastMsgMu   sync.Mutex

	// connMu guards conn and connCancel: the reconnect loop reassigns
	// both while Disconnect may be closing them from another goroutine.
	connMu sync.Mutex

	// connCancel cancels the per-connection context, stopping the
	// reader goroutine before a reconnect.
	connCancel context.CancelFunc

	// closed marks a manual disconnect. Terminal until Connect is
	// called again; closeCh wakes any pending backoff sleep.
	closed   bool
	closeCh  chan struct{}
	closedMu sync.Mutex

	hostOnline  bool
	hostVisible bool
	hostMu      sync.Mutex
}

// NewClient wires a Client over the given durable action store and
// sync endpoint. A nil dialer means a real WebSocket dialer.
func NewClient(cfg Config, dialer Dialer, store actions.Store, endpoint SyncEndpoint, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()

	if dialer == nil {
		dialer = WSDialer{}
	}

	dispatcher := NewDispatcher()
	registry := NewRegistry()
	outbound := NewOutboundQueue(cfg.OutboundCapacity)
	queue := actions.NewQueue(store, logger)
	resolver := NewResolver(queue, logger)

	return &Client{
		cfg:             cfg,
		dialer:          dialer,
		logger:          logger,
		dispatcher:      dispatcher,
		registry:        registry,
		outbound:        outbound,
		queue:           queue,
		resolver:        resolver,
		orch:            NewOrchestrator(registry, outbound, queue, endpoint, dispatcher, cfg.ActionRetryCap, logger),
		status:          Status{State: StateDisconnected},
		opCh:            make(chan outboundOp, opChanSize),
		triggerCh:       make(chan struct{}, 1),
		actionTriggerCh: make(chan struct{}, 1),
		closeCh:         make(chan struct{}),
		hostOnline:      true,
		hostVisible:     true,
	}
}

// Status returns a snapshot of the connection status.
func (c *Client) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()

	return c.status
}

// Connected reports whether the connection is live and authenticated.
func (c *Client) Connected() bool {
	return c.Status().State == StateConnected
}

// Actions exposes the offline action queue for inspection, explicit
// retry and discard.
func (c *Client) Actions() *actions.Queue {
	return c.queue
}

// RegisterMerge installs a merge function for the given action type,
// used by the merge conflict strategy.
func (c *Client) RegisterMerge(actionType string, fn MergeFunc) {
	c.resolver.RegisterMerge(actionType, fn)
}

// On registers an event listener; Off removes it.
func (c *Client) On(kind EventKind, fn Listener) int { return c.dispatcher.On(kind, fn) }

// Off removes a listener registered with On.
func (c *Client) Off(id int) { c.dispatcher.Off(id) }

// QueueDepth returns the number of buffered outbound messages.
func (c *Client) QueueDepth() int { return c.outbound.Depth() }

// QueueDropped returns how many outbound messages have been evicted
// under capacity pressure since startup.
func (c *Client) QueueDropped() int { return c.outbound.Dropped() }

// applyStatus runs the pure transition function and publishes the
// resulting status when it changed.
func (c *Client) applyStatus(ev connEvent, cause error) {
	c.statusMu.Lock()
	prev := c.status
	c.status = nextStatus(prev, ev, time.Now().UTC(), cause)
	cur := c.status
	c.statusMu.Unlock()

	if cur == prev {
		return
	}

	c.logger.Debug("connection state changed",
		slog.String("from", prev.State.String()),
		slog.String("to", cur.State.String()),
		slog.Int("attempts", cur.ReconnectAttempts),
	)
	c.dispatcher.Dispatch(Event{Kind: EventConnectionState, Status: cur})
}

// Connect establishes the first connection. It returns only after a
// successful connected transition or final failure: authentication
// rejections fail immediately without retries, transport failures
// follow the backoff schedule up to the attempt cap when AutoReconnect
// is set.
func (c *Client) Connect(ctx context.Context) error {
	c.closedMu.Lock()
	if c.closed {
		c.closed = false
		c.closeCh = make(chan struct{})
	}
	c.closedMu.Unlock()

	c.applyStatus(evDial, nil)

	return c.connectWithRetry(ctx)
}

// connectWithRetry dials until success, a permanent failure, or the
// attempt cap.
func (c *Client) connectWithRetry(ctx context.Context) error {
	for {
		err := c.connectOnce(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, apperrors.ErrAuth) {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if c.isClosed() {
			return fmt.Errorf("connect aborted: %w", apperrors.ErrDisconnected)
		}

		if !c.cfg.AutoReconnect {
			c.applyStatus(evRetriesExhausted, err)
			return err
		}

		if serr := c.scheduleRetry(ctx, err); serr != nil {
			return serr
		}
	}
}

// scheduleRetry transitions to reconnecting, waits out the backoff
// delay, and returns a terminal error when the cap is reached or the
// wait is interrupted.
func (c *Client) scheduleRetry(ctx context.Context, cause error) error {
	attempts := c.Status().ReconnectAttempts
	if attempts >= c.cfg.MaxReconnectAttempts {
		c.applyStatus(evRetriesExhausted, cause)

		return fmt.Errorf("giving up after %d attempts: %w", attempts, apperrors.ErrReconnectExhausted)
	}

	c.applyStatus(evRetryScheduled, cause)

	delay := backoffDelay(c.cfg.ReconnectBaseDelay, attempts)
	c.logger.Warn("connection lost, reconnecting",
		slog.String("error", cause.Error()),
		slog.Duration("backoff", delay),
		slog.Int("attempt", attempts+1),
	)

	c.closedMu.Lock()
	closeCh := c.closeCh
	c.closedMu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closeCh:
		return fmt.Errorf("reconnect cancelled: %w", apperrors.ErrDisconnected)
	case <-timer.C:
		return nil
	}
}

// setConn and currentConn serialize access to the live connection,
// which the reconnect loop reassigns while Disconnect may be reading it.
func (c *Client) setConn(conn Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) currentConn() Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	return c.conn
}

func (c *Client) closeConn(code websocket.StatusCode, reason string) {
	if conn := c.currentConn(); conn != nil {
		conn.Close(code, reason)
	}
}

func (c *Client) setConnCancel(cancel context.CancelFunc) {
	c.connMu.Lock()
	c.connCancel = cancel
	c.connMu.Unlock()
}

// cancelConn stops the reader goroutine of the current connection, if
// one is running.
func (c *Client) cancelConn() {
	c.connMu.Lock()
	cancel := c.connCancel
	c.connMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// connectOnce dials the transport and performs the authenticate
// handshake. On success the status is connected and heartbeats may
// start.
func (c *Client) connectOnce(ctx context.Context) error {
	// Stop any reader goroutine left over from a prior connection.
	c.cancelConn()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	c.logger.Debug("connecting", slog.String("url", c.cfg.URL))

	conn, err := c.dialer.Dial(dialCtx, c.cfg.URL)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("dialing transport: %w", err)}
	}

	return c.handshake(dialCtx, conn)
}

// handshake performs the post-dial authenticate sequence. Extracted
// from connectOnce so the auth logic can be tested with a mock Conn.
func (c *Client) handshake(ctx context.Context, conn Conn) error {
	c.setConn(conn)

	reconnecting := c.Status().ReconnectAttempts > 0 || c.cfg.ResumedSession

	frame, err := newFrame(eventAuthenticate, authPayload{
		Identity:     c.cfg.Identity,
		Reconnecting: reconnecting,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "authenticate failed")
		return err
	}

	if err := c.writeFrameRaw(ctx, frame); err != nil {
		conn.Close(websocket.StatusInternalError, "authenticate failed")
		return &TransportError{Err: fmt.Errorf("sending authenticate: %w", err)}
	}

	// Read until the auth verdict. This happens before Run starts, so
	// we read directly without going through the event loop.
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "auth read failed")
			return &TransportError{Err: fmt.Errorf("reading auth response: %w", err)}
		}

		if typ != websocket.MessageText {
			c.logger.Debug("unexpected binary frame during handshake", slog.Int("bytes", len(data)))
			continue
		}

		switch ev := gjson.GetBytes(data, "event").Str; ev {
		case eventAuthenticated:
			c.touchLastMessage()
			c.applyStatus(evAuthenticated, nil)

			now := c.Status().LastConnectedAt
			c.logger.Info("authenticated", slog.Bool("reconnecting", reconnecting))
			c.dispatcher.Dispatch(Event{Kind: EventAuthenticated})

			if c.cfg.OnConnected != nil {
				c.cfg.OnConnected(now, reconnecting)
			}

			return nil

		case eventAuthError:
			var f Frame
			_ = json.Unmarshal(data, &f)

			var res authResult
			_ = json.Unmarshal(f.Payload, &res)

			conn.Close(websocket.StatusNormalClosure, "auth rejected")
			c.applyStatus(evAuthRejected, apperrors.ErrAuth)
			c.dispatcher.Dispatch(Event{Kind: EventAuthError, Reason: res.Reason})

			return fmt.Errorf("authenticating: %s: %w", res.Reason, apperrors.ErrAuth)

		case eventPong:
			c.touchLastMessage()

		default:
			c.logger.Debug("unexpected message during handshake", slog.String("event", ev))
		}
	}
}

// startReader launches a goroutine that reads from the transport and
// feeds inboundCh. The channel is captured by value so a stale reader
// from a previous connection cannot feed the new loop.
func (c *Client) startReader(connCtx context.Context) {
	ch := make(chan inboundMsg, inboundChanSize)
	c.inboundCh = ch
	conn := c.currentConn()

	go func() {
		for {
			typ, data, err := conn.Read(connCtx)
			select {
			case ch <- inboundMsg{typ: typ, data: data, err: err}:
			case <-connCtx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()
}

// Run is the event loop with automatic reconnection. It owns all
// writes to the connection. Returns on context cancellation, manual
// disconnect (nil), or permanent failure.
func (c *Client) Run(ctx context.Context) error {
	if !c.Connected() {
		return fmt.Errorf("run requires an established connection: %w", apperrors.ErrDisconnected)
	}

	connCtx, connCancel := context.WithCancel(ctx)
	c.setConnCancel(connCancel)

	for {
		// A disconnect that raced the (re)connect leaves a live
		// connection behind; close it instead of serving it.
		if c.isClosed() {
			connCancel()
			c.closeConn(websocket.StatusNormalClosure, "bye")
			c.applyStatus(evManualDisconnect, nil)

			return nil
		}

		c.startReader(connCtx)
		c.TriggerSync()

		err := c.eventLoop(ctx, connCtx)
		connCancel()

		if c.isClosed() {
			c.applyStatus(evManualDisconnect, nil)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.closeConn(websocket.StatusGoingAway, "connection lost")

		if !c.cfg.AutoReconnect {
			c.applyStatus(evRetriesExhausted, err)
			return err
		}

		if serr := c.scheduleRetry(ctx, err); serr != nil {
			if errors.Is(serr, apperrors.ErrDisconnected) {
				c.applyStatus(evManualDisconnect, nil)
				return nil
			}

			return serr
		}

		if cerr := c.connectWithRetry(ctx); cerr != nil {
			if errors.Is(cerr, apperrors.ErrDisconnected) {
				c.applyStatus(evManualDisconnect, nil)
				return nil
			}

			return cerr
		}

		connCtx, connCancel = context.WithCancel(ctx)
		c.setConnCancel(connCancel)

		c.logger.Info("reconnected")
	}
}

// eventLoop is the single event loop for one connection. It selects on
// inbound messages, outbound operations, orchestration triggers and
// the heartbeat ticker. Returns on read error, heartbeat timeout or
// context cancellation.
func (c *Client) eventLoop(ctx context.Context, connCtx context.Context) error {
	ticker := time.NewTicker(heartbeatCheckEvery)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.inboundCh:
			if msg.err != nil {
				return &TransportError{Err: fmt.Errorf("reading message: %w", msg.err)}
			}

			c.touchLastMessage()

			if msg.typ != websocket.MessageText {
				c.logger.Debug("unexpected binary frame", slog.Int("bytes", len(msg.data)))
				continue
			}

			c.handleInbound(msg.data)

		case op := <-c.opCh:
			if err := c.sendFrame(ctx, op.frame); err != nil {
				// The connection is dead. Keep the message: it moves to
				// the outbound queue and flushes after reconnect.
				// Subscription traffic is the exception: the reconnect
				// pass regenerates it from the registry, and a queued
				// copy would make that subscribe a duplicate.
				if op.frame.Event != eventSubscribe && op.frame.Event != eventUnsubscribe {
					c.outbound.Enqueue(op.frame.Event, op.frame.Payload, op.priority)
				}

				return err
			}

		case <-c.triggerCh:
			if err := c.orch.Sync(ctx, c); err != nil {
				if IsTransportFailure(err) {
					return err
				}

				c.logger.Warn("orchestration pass failed", slog.String("error", err.Error()))
			}

		case <-c.actionTriggerCh:
			if err := c.orch.SyncActions(ctx); err != nil {
				c.logger.Warn("action sync failed", slog.String("error", err.Error()))
			}

		case <-ticker.C:
			c.lastMsgMu.Lock()
			elapsed := time.Since(c.lastMessage)
			c.lastMsgMu.Unlock()

			if elapsed > c.cfg.HeartbeatTimeout {
				c.logger.Warn("heartbeat timed out, closing connection")
				c.closeConn(websocket.StatusGoingAway, "heartbeat timeout")

				return &TransportError{Err: fmt.Errorf("heartbeat timeout after %s", elapsed.Round(time.Second))}
			}

			if elapsed > c.cfg.HeartbeatInterval {
				if err := c.sendFrame(ctx, Frame{Event: eventPing}); err != nil {
					return err
				}
			}

		case <-ctx.Done():
			return ctx.Err()

		case <-connCtx.Done():
			return connCtx.Err()
		}
	}
}

// handleInbound routes one inbound text frame. The event name is
// sniffed before a full decode so unparseable frames are skipped
// cheaply.
func (c *Client) handleInbound(data []byte) {
	event := gjson.GetBytes(data, "event").Str
	if event == "" {
		c.logger.Debug("unparseable text frame", slog.Int("bytes", len(data)))
		return
	}

	switch event {
	case eventPong:
		return

	case eventSubscribed, eventUnsubscribed, eventSubscriptionError:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Debug("undecodable subscription frame", slog.String("error", err.Error()))
			return
		}

		var res subscriptionResult
		_ = json.Unmarshal(f.Payload, &res)

		kind := EventSubscribed
		if event == eventUnsubscribed {
			kind = EventUnsubscribed
		} else if event == eventSubscriptionError {
			kind = EventSubscriptionError

			c.logger.Warn("subscription rejected",
				slog.String("topic_type", string(res.TopicType)),
				slog.String("target", res.Target),
				slog.String("reason", res.Reason),
			)
		}

		c.dispatcher.Dispatch(Event{
			Kind:           kind,
			SubscriptionID: res.SubscriptionID,
			Reason:         res.Reason,
		})

	case eventAuthenticated, eventAuthError:
		c.logger.Debug("unexpected auth frame mid-session", slog.String("event", event))

	default:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Debug("undecodable push frame", slog.String("event", event))
			return
		}

		c.dispatcher.Dispatch(Event{Kind: EventPush, Name: event, Payload: f.Payload})
	}
}

// Subscribe registers a topic subscription and returns its id. When
// connected, the subscribe request is sent immediately; otherwise the
// subscription is stored only and replayed on the next reconnect.
func (c *Client) Subscribe(topicType TopicType, target string, filters *Filters) string {
	sub := c.registry.Add(topicType, target, filters)

	if c.Connected() {
		frame, err := newFrame(eventSubscribe, subscribePayload{
			TopicType: sub.TopicType,
			Target:    sub.Target,
			Filters:   sub.Filters,
		})
		if err == nil {
			c.submit(frame, actions.PriorityHigh)
		}
	}

	return sub.ID
}

// Unsubscribe removes a subscription. A silent no-op when the id is
// unknown or the connection is down.
func (c *Client) Unsubscribe(id string) {
	sub, ok := c.registry.Remove(id)
	if !ok || !c.Connected() {
		return
	}

	frame, err := newFrame(eventUnsubscribe, unsubscribePayload{SubscriptionID: sub.ID})
	if err != nil {
		return
	}

	c.submit(frame, actions.PriorityHigh)
}

// Subscriptions returns the registered subscriptions in insertion order.
func (c *Client) Subscriptions() []Subscription {
	return c.registry.All()
}

// Send transmits an application message. When connected it goes out
// through the event loop; otherwise it is buffered in the outbound
// priority queue and flushed after reconnect. Never blocks.
func (c *Client) Send(event string, payload json.RawMessage, priority actions.Priority) {
	frame := Frame{Event: event, Payload: payload}

	if c.Connected() {
		c.submit(frame, priority)
		return
	}

	c.enqueueOutbound(frame, priority)
}

// QueueAction records a user intent in the durable offline queue. When
// connected, an orchestration pass is triggered so the action syncs
// promptly.
func (c *Client) QueueAction(actionType string, payload json.RawMessage, priority actions.Priority) (actions.Action, error) {
	a, err := c.queue.Enqueue(actionType, payload, priority)
	if err != nil {
		return actions.Action{}, err
	}

	if c.Connected() {
		c.triggerActions()
	}

	return a, nil
}

// Resolve applies a conflict resolution strategy to a conflicted
// action. On success (except server_wins) the action returns to
// pending and a sync pass is triggered when connected.
func (c *Client) Resolve(id string, strategy Strategy, customPayload json.RawMessage) bool {
	ok := c.resolver.Resolve(id, strategy, customPayload)
	if ok && c.Connected() {
		c.triggerActions()
	}

	return ok
}

// TriggerSync requests a full orchestration pass. Non-blocking;
// triggers coalesce while a pass is running or already requested.
func (c *Client) TriggerSync() {
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

// triggerActions requests an action-only sync step. Subscriptions and
// the outbound queue are left alone: on a live connection they are
// already reconciled.
func (c *Client) triggerActions() {
	select {
	case c.actionTriggerCh <- struct{}{}:
	default:
	}
}

// SetOnline feeds the host connectivity signal. An offline-to-online
// transition triggers a sync pass when connected; it never bypasses
// the reconnect backoff schedule.
func (c *Client) SetOnline(online bool) {
	c.hostMu.Lock()
	was := c.hostOnline
	c.hostOnline = online
	c.hostMu.Unlock()

	if online == was {
		return
	}

	c.logger.Info("host connectivity changed", slog.Bool("online", online))

	if online && c.Connected() {
		c.TriggerSync()
	}
}

// SetVisible feeds the host visibility signal. Recorded for
// connection-quality logging only.
func (c *Client) SetVisible(visible bool) {
	c.hostMu.Lock()
	changed := c.hostVisible != visible
	c.hostVisible = visible
	c.hostMu.Unlock()

	if changed {
		c.logger.Debug("host visibility changed", slog.Bool("visible", visible))
	}
}

// Disconnect halts any pending reconnect schedule, stops the heartbeat
// and transitions to disconnected. The only way back is Connect.
func (c *Client) Disconnect() {
	c.closedMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	c.closedMu.Unlock()

	c.cancelConn()
	c.closeConn(websocket.StatusNormalClosure, "bye")

	c.applyStatus(evManualDisconnect, nil)
}

func (c *Client) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	return c.closed
}

// submit hands a frame to the event loop without blocking. When the op
// channel is saturated the frame falls back to the outbound queue and
// a full sync pass is requested. Subscribe frames never enter the
// queue: the pass replays them from the registry, and a queued copy
// would duplicate that replay.
func (c *Client) submit(frame Frame, priority actions.Priority) {
	select {
	case c.opCh <- outboundOp{frame: frame, priority: priority}:
	default:
		if frame.Event != eventSubscribe {
			c.enqueueOutbound(frame, priority)
		}

		c.TriggerSync()
	}
}

func (c *Client) enqueueOutbound(frame Frame, priority actions.Priority) {
	evicted, dropped := c.outbound.Enqueue(frame.Event, frame.Payload, priority)
	if dropped {
		c.logger.Warn("outbound queue full, evicted oldest low-priority message",
			slog.String("evicted", evicted.Event),
			slog.String("enqueued", frame.Event),
		)
	}
}

// sendFrame writes a frame to the live connection. Satisfies the
// orchestrator's frameSender; only called from the event loop or the
// handshake.
func (c *Client) sendFrame(ctx context.Context, f Frame) error {
	if err := c.writeFrameRaw(ctx, f); err != nil {
		return &TransportError{Err: fmt.Errorf("writing %s frame: %w", f.Event, err)}
	}

	return nil
}

func (c *Client) writeFrameRaw(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshalling frame: %w", err)
	}

	conn := c.currentConn()
	if conn == nil {
		return fmt.Errorf("no live connection: %w", apperrors.ErrDisconnected)
	}

	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) touchLastMessage() {
	c.lastMsgMu.Lock()
	c.lastMessage = time.Now()
	c.lastMsgMu.Unlock()
}
