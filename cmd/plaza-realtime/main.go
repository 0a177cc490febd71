package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plazahq/realtime/internal/actions"
	"github.com/plazahq/realtime/internal/config"
	"github.com/plazahq/realtime/internal/logging"
	"github.com/plazahq/realtime/internal/realtime"
	"github.com/plazahq/realtime/internal/state"
	"github.com/plazahq/realtime/internal/syncapi"
)

var Version = "dev"

// statusLogEvery is the cadence of the periodic queue status log line.
const statusLogEvery = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("plaza-realtime starting",
		slog.String("version", Version),
		slog.String("url", cfg.WSURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statePath := cfg.StatePath
	if statePath == "" {
		statePath, err = state.DefaultPath()
		if err != nil {
			return err
		}
	}

	st, err := state.Open(statePath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer st.Close()

	// A stored session for the same identity means this process is
	// resuming rather than connecting fresh; the server replays missed
	// events for reconnecting clients.
	sess, err := st.Session()
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}

	identityHash := state.IdentityHash(cfg.IdentityToken)
	resumed := sess.IdentityHash == identityHash

	endpoint := syncapi.NewClient(cfg.SyncURL, cfg.IdentityToken, nil)

	client := realtime.NewClient(realtime.Config{
		URL:                  cfg.WSURL,
		Identity:             cfg.IdentityToken,
		AutoReconnect:        cfg.AutoReconnect,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		HeartbeatTimeout:     cfg.HeartbeatTimeout,
		OutboundCapacity:     cfg.OutboundQueueCapacity,
		ActionRetryCap:       cfg.ActionRetryCap,
		ResumedSession:       resumed,
		OnConnected: func(at time.Time, reconnecting bool) {
			err := st.SetSession(state.Session{
				IdentityHash:    identityHash,
				LastConnectedAt: at,
			})
			if err != nil {
				logger.Warn("persisting session", slog.String("error", err.Error()))
			}
		},
	}, nil, st, endpoint, logger)

	// Comment bodies merge cleanly when the action carries the text it
	// was edited from; other action types stay fail-closed.
	client.RegisterMerge("comment", realtime.TextFieldMerge("body"))

	if cfg.SubscriptionsFile != "" {
		if err := registerSubscriptions(client, cfg.SubscriptionsFile, logger); err != nil {
			return err
		}
	}

	client.On(realtime.EventActionConflicted, func(ev realtime.Event) {
		logger.Warn("action needs conflict resolution",
			slog.String("id", ev.Action.ID),
			slog.String("type", ev.Action.Type),
		)
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.Run(gctx)
	})

	g.Go(func() error {
		return logQueueStatus(gctx, client, logger)
	})

	err = g.Wait()

	client.Disconnect()

	if err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("plaza-realtime stopped")

	return nil
}

// registerSubscriptions loads the YAML manifest and registers every
// declared subscription before the first connect, so they replay like
// any other subscription.
func registerSubscriptions(client *realtime.Client, path string, logger *slog.Logger) error {
	subs, err := config.LoadSubscriptions(path)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		var filters *realtime.Filters
		if sub.Filters != nil {
			filters = &realtime.Filters{
				EventTypes: sub.Filters.EventTypes,
				Priorities: sub.Filters.Priorities,
			}
		}

		id := client.Subscribe(realtime.TopicType(sub.TopicType), sub.Target, filters)
		logger.Debug("manifest subscription registered",
			slog.String("id", id),
			slog.String("topic_type", sub.TopicType),
			slog.String("target", sub.Target),
		)
	}

	logger.Info("subscriptions manifest loaded", slog.Int("count", len(subs)))

	return nil
}

// logQueueStatus periodically reports queue depths so operators can
// spot a backlog without attaching a debugger.
func logQueueStatus(ctx context.Context, client *realtime.Client, logger *slog.Logger) error {
	ticker := time.NewTicker(statusLogEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			counts, err := client.Actions().Counts()
			if err != nil {
				logger.Warn("reading action counts", slog.String("error", err.Error()))
				continue
			}

			logger.Info("queue status",
				slog.String("state", client.Status().State.String()),
				slog.Int("outbound", client.QueueDepth()),
				slog.Int("dropped", client.QueueDropped()),
				slog.Int("pending", counts[actions.StatusPending]),
				slog.Int("failed", counts[actions.StatusFailed]),
				slog.Int("conflicted", counts[actions.StatusConflicted]),
			)
		}
	}
}
