package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatgo/internal/api"
	"chatgo/internal/bus"
	"chatgo/internal/config"
	"chatgo/internal/domain"
	"chatgo/internal/events"
	"chatgo/internal/logging"
	"chatgo/internal/notifications"
	"chatgo/internal/push"
	"chatgo/internal/session"
)

// Runtime wires the client services together and owns their lifecycle.
type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus

	API           *api.Client
	Push          *push.Manager
	Presence      *domain.PresenceTracker
	Conversations *domain.ConversationStore
	Session       *session.Session
	Notifier      *NotificationService

	connStatusMu    sync.RWMutex
	connStatus      events.ConnectionStatus
	connStatusKnown bool
}

// Initialize resolves user paths, loads config, and wires the runtime.
func Initialize(parent context.Context) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}

	return InitializeWithConfig(parent, paths, cfg)
}

// InitializeWithConfig wires the runtime from an already loaded config. Used
// by the CLI after applying flag overrides.
func InitializeWithConfig(parent context.Context, paths Paths, cfg config.AppConfig) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		cancel()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting chatgo runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	apiClient, err := api.NewClient(
		cfg.Server.APIBaseURL,
		time.Duration(cfg.Server.RequestTimeoutSeconds)*time.Second,
		logMgr.Logger("api"),
	)
	if err != nil {
		_ = rt.Close()

		return nil, fmt.Errorf("initialize api client: %w", err)
	}
	rt.API = apiClient

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	connSub := b.Subscribe(events.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)

	rt.Push = push.NewManager(cfg.Server.PushURL, b, logMgr.Logger("push"))

	presence := domain.NewPresenceTracker()
	presence.Start(ctx, b)
	rt.Presence = presence

	rt.Conversations = domain.NewConversationStore(apiClient, rt.Push, logMgr.Logger("conversation"))
	rt.Session = session.New(apiClient, rt.Push, logMgr.Logger("session"))

	sender := notifications.NewBeeepSender(Name, logMgr.Logger("notifications"))
	rt.Notifier = NewNotificationService(b, rt.Conversations,
		func() config.AppConfig { return rt.Config },
		func() string {
			if identity := rt.Session.Identity(); identity != nil {
				return identity.ID
			}

			return ""
		},
		sender, logMgr.Logger("app.notifications"))
	rt.Notifier.Start(ctx)

	return rt, nil
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(events.ConnectionStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status events.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

// ConnectionStatus returns the last observed push channel status.
func (r *Runtime) ConnectionStatus() (events.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	defer r.connStatusMu.RUnlock()

	return r.connStatus, r.connStatusKnown
}

// SaveConfig persists the current config to the user config file.
func (r *Runtime) SaveConfig() error {
	return config.Save(r.Paths.ConfigFile, r.Config)
}

// Close tears the runtime down in reverse wiring order.
func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Conversations != nil {
		r.Conversations.UnsubscribeFromMessages()
	}
	if r.Push != nil {
		r.Push.Disconnect()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.LogManager != nil {
		return r.LogManager.Close()
	}

	return nil
}
