package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ConversationStore owns the candidate peer list, the selected peer, and the
// message history of the one active conversation. History is append-only for
// a given selection; only SelectPeer replaces it wholesale.
type ConversationStore struct {
	api    MessageAPI
	feed   MessageFeed
	logger *slog.Logger

	mu             sync.RWMutex
	peers          []Identity
	selected       *Identity
	history        []Message
	peersLoading   bool
	historyLoading bool
	unsubscribe    func()
	changes        chan struct{}
}

func NewConversationStore(api MessageAPI, feed MessageFeed, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default().With("component", "conversation")
	}

	return &ConversationStore{
		api:     api,
		feed:    feed,
		logger:  logger,
		changes: make(chan struct{}, 1),
	}
}

// LoadPeers fetches the candidate peer list. Independent of selection state.
func (s *ConversationStore) LoadPeers(ctx context.Context) error {
	s.mu.Lock()
	s.peersLoading = true
	s.mu.Unlock()
	s.notify()

	peers, err := s.api.Peers(ctx)

	s.mu.Lock()
	s.peersLoading = false
	if err == nil {
		s.peers = peers
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}

	return nil
}

// SelectPeer switches the active conversation. The previous peer's inbound
// filter is detached first so its pushes can never land in the new history.
// A push arriving between the history fetch completing and the new filter
// attaching is lost for the session; the server copy is still fetched on the
// next selection.
func (s *ConversationStore) SelectPeer(ctx context.Context, peer *Identity) error {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if peer == nil {
		s.selected = nil
		s.history = nil
		s.mu.Unlock()
		s.notify()

		return nil
	}
	selected := *peer
	s.selected = &selected
	s.history = nil
	s.historyLoading = true
	s.mu.Unlock()
	s.notify()

	history, err := s.api.History(ctx, peer.ID)

	s.mu.Lock()
	if s.selected == nil || s.selected.ID != peer.ID {
		// A newer SelectPeer won the race; this response is stale.
		s.mu.Unlock()
		s.logger.Debug("discarding stale history fetch", "peer_id", peer.ID)

		return nil
	}
	s.historyLoading = false
	if err != nil {
		s.mu.Unlock()
		s.notify()

		return fmt.Errorf("load history for %s: %w", peer.ID, err)
	}
	s.history = history
	peerID := peer.ID
	if s.unsubscribe != nil {
		// A concurrent SelectPeer for the same peer already attached a
		// filter; detach it so exactly one remains.
		s.unsubscribe()
	}
	s.unsubscribe = s.feed.OnInboundMessage(
		func(m Message) bool { return m.SenderID == peerID },
		s.appendInbound,
	)
	s.mu.Unlock()
	s.notify()
	s.logger.Debug("peer selected", "peer_id", peerID, "history_len", len(history))

	return nil
}

// SendMessage posts the draft to the server and appends the confirmed
// message on success. There is no optimistic pre-append and no rollback.
func (s *ConversationStore) SendMessage(ctx context.Context, draft Draft) (Message, error) {
	s.mu.RLock()
	selected := s.selected
	s.mu.RUnlock()
	if selected == nil {
		return Message{}, ErrNoPeerSelected
	}
	peerID := selected.ID

	msg, err := s.api.Send(ctx, peerID, draft)
	if err != nil {
		return Message{}, fmt.Errorf("send message to %s: %w", peerID, err)
	}

	s.mu.Lock()
	if s.selected != nil && s.selected.ID == peerID {
		s.history = append(s.history, msg)
	}
	s.mu.Unlock()
	s.notify()

	return msg, nil
}

// UnsubscribeFromMessages detaches the active inbound filter. Idempotent.
func (s *ConversationStore) UnsubscribeFromMessages() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *ConversationStore) appendInbound(msg Message) {
	s.mu.Lock()
	if s.selected == nil || s.selected.ID != msg.SenderID {
		s.mu.Unlock()

		return
	}
	s.history = append(s.history, msg)
	s.mu.Unlock()
	s.notify()
}

func (s *ConversationStore) SelectedPeer() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return nil
	}
	selected := *s.selected

	return &selected
}

func (s *ConversationStore) Peers() []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Identity, len(s.peers))
	copy(out, s.peers)

	return out
}

// PeerByID looks up a peer in the loaded peer list.
func (s *ConversationStore) PeerByID(id string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, peer := range s.peers {
		if peer.ID == id {
			return peer, true
		}
	}

	return Identity{}, false
}

// OnlinePeers returns only the known peers present in the given set.
func (s *ConversationStore) OnlinePeers(presence *PresenceTracker) []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Identity, 0, len(s.peers))
	for _, peer := range s.peers {
		if presence.IsOnline(peer.ID) {
			out = append(out, peer)
		}
	}

	return out
}

func (s *ConversationStore) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)

	return out
}

func (s *ConversationStore) IsPeersLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.peersLoading
}

func (s *ConversationStore) IsHistoryLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.historyLoading
}

func (s *ConversationStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *ConversationStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
