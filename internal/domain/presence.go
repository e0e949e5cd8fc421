package domain

import (
	"context"
	"sort"
	"sync"

	"chatgo/internal/bus"
	"chatgo/internal/events"
)

// PresenceTracker holds the set of identity ids currently online, as last
// reported by the push channel. Snapshots replace the set entirely; losing
// the connection empties it because stale presence is not trustworthy.
type PresenceTracker struct {
	mu      sync.RWMutex
	online  map[string]struct{}
	changes chan struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online:  make(map[string]struct{}),
		changes: make(chan struct{}, 1),
	}
}

func (t *PresenceTracker) Start(ctx context.Context, b bus.MessageBus) {
	presenceSub := b.Subscribe(events.TopicPresence)
	connSub := b.Subscribe(events.TopicConnStatus)

	go func() {
		defer b.Unsubscribe(presenceSub, events.TopicPresence)
		defer b.Unsubscribe(connSub, events.TopicConnStatus)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-presenceSub:
				if !ok {
					return
				}
				snapshot, ok := raw.(events.PresenceSnapshot)
				if !ok {
					continue
				}
				t.Replace(snapshot.UserIDs)
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(events.ConnectionStatus)
				if !ok {
					continue
				}
				if status.State == events.ConnectionStateDisconnected {
					t.Clear()
				}
			}
		}
	}()
}

// Replace swaps the whole set for the given snapshot.
func (t *PresenceTracker) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		next[id] = struct{}{}
	}

	t.mu.Lock()
	t.online = next
	t.mu.Unlock()
	t.notify()
}

func (t *PresenceTracker) Clear() {
	t.mu.Lock()
	t.online = make(map[string]struct{})
	t.mu.Unlock()
	t.notify()
}

func (t *PresenceTracker) IsOnline(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]

	return ok
}

func (t *PresenceTracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.online)
}

func (t *PresenceTracker) OnlineIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)

	return out
}

func (t *PresenceTracker) Changes() <-chan struct{} {
	return t.changes
}

func (t *PresenceTracker) notify() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}
