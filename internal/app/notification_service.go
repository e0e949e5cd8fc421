package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chatgo/internal/bus"
	"chatgo/internal/config"
	"chatgo/internal/domain"
	"chatgo/internal/events"
	"chatgo/internal/notifications"
)

const notificationTitleChannelLost = "Connection lost"

// NotificationService listens to bus events and emits desktop notifications
// for messages arriving outside the active conversation and for push channel
// loss.
type NotificationService struct {
	bus           bus.MessageBus
	conversations *domain.ConversationStore
	currentConfig func() config.AppConfig
	selfID        func() string
	sender        notifications.Sender
	logger        *slog.Logger

	connStatusMu     sync.Mutex
	lastConnState    events.ConnectionState
	lastConnStateSet bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	conversations *domain.ConversationStore,
	currentConfig func() config.AppConfig,
	selfID func() string,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}
	if selfID == nil {
		selfID = func() string { return "" }
	}

	return &NotificationService{
		bus:           messageBus,
		conversations: conversations,
		currentConfig: currentConfig,
		selfID:        selfID,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	msgSub := s.bus.Subscribe(events.TopicMessageIn)
	connSub := s.bus.Subscribe(events.TopicConnStatus)

	go func() {
		defer s.bus.Unsubscribe(msgSub, events.TopicMessageIn)
		defer s.bus.Unsubscribe(connSub, events.TopicConnStatus)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-msgSub:
				if !ok {
					return
				}
				msg, ok := raw.(domain.Message)
				if !ok {
					continue
				}
				s.handleInboundMessage(msg)
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(events.ConnectionStatus)
				if !ok {
					continue
				}
				s.handleConnectionStatus(status)
			}
		}
	}()
}

func (s *NotificationService) handleInboundMessage(msg domain.Message) {
	prefs := s.currentConfig().UI.Notifications
	if !prefs.Enabled || !prefs.Events.IncomingMessage {
		return
	}
	// The server echoes sent messages back to the sender, e.g. for another
	// device on the same account.
	if self := s.selfID(); self != "" && msg.SenderID == self {
		return
	}
	// Messages for the conversation on screen are already visible.
	if selected := s.conversations.SelectedPeer(); selected != nil && selected.ID == msg.SenderID {
		return
	}

	title := msg.SenderID
	if peer, ok := s.conversations.PeerByID(msg.SenderID); ok && peer.DisplayName != "" {
		title = peer.DisplayName
	}
	content := msg.Text
	if content == "" && msg.ImageRef != "" {
		content = "[image]"
	}

	s.logger.Debug("notifying about message", "sender_id", msg.SenderID)
	s.sender.Send(notifications.Payload{Title: title, Content: content})
}

func (s *NotificationService) handleConnectionStatus(status events.ConnectionStatus) {
	prefs := s.currentConfig().UI.Notifications
	if !prefs.Enabled || !prefs.Events.ConnectionStatus {
		return
	}

	s.connStatusMu.Lock()
	repeated := s.lastConnStateSet && s.lastConnState == status.State
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.connStatusMu.Unlock()
	if repeated {
		return
	}

	// Only unexpected drops are worth a notification.
	if status.State != events.ConnectionStateDisconnected || status.Err == "" {
		return
	}

	s.sender.Send(notifications.Payload{
		Title:   notificationTitleChannelLost,
		Content: fmt.Sprintf("Live updates stopped: %s", status.Err),
	})
}
