package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeMessageAPI struct {
	mu         sync.Mutex
	peers      []Identity
	peersErr   error
	history    map[string][]Message
	historyErr error
	sendResult Message
	sendErr    error
	// historyGate blocks History calls for the given peer id until closed.
	historyGate  map[string]chan struct{}
	historyCalls int
}

func (f *fakeMessageAPI) Peers(_ context.Context) ([]Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peersErr != nil {
		return nil, f.peersErr
	}

	return append([]Identity(nil), f.peers...), nil
}

func (f *fakeMessageAPI) History(_ context.Context, peerID string) ([]Message, error) {
	f.mu.Lock()
	f.historyCalls++
	gate := f.historyGate[peerID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}

	return append([]Message(nil), f.history[peerID]...), nil
}

func (f *fakeMessageAPI) HistoryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.historyCalls
}

func (f *fakeMessageAPI) Send(_ context.Context, _ string, _ Draft) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return Message{}, f.sendErr
	}

	return f.sendResult, nil
}

type feedSub struct {
	filter  func(Message) bool
	handler func(Message)
}

type fakeFeed struct {
	mu   sync.Mutex
	subs map[int]feedSub
	next int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[int]feedSub)}
}

func (f *fakeFeed) OnInboundMessage(filter func(Message) bool, handler func(Message)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = feedSub{filter: filter, handler: handler}
	f.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

func (f *fakeFeed) Push(msg Message) {
	f.mu.Lock()
	subs := make([]feedSub, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(msg) {
			continue
		}
		sub.handler(msg)
	}
}

func (f *fakeFeed) ActiveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subs)
}

func peerU2() *Identity { return &Identity{ID: "u2", DisplayName: "Two"} }

func TestConversationStore_SelectPeerLoadsHistoryAndSubscribes(t *testing.T) {
	api := &fakeMessageAPI{history: map[string][]Message{
		"u2": {{ID: "m1", SenderID: "u2", Text: "hi"}},
	}}
	feed := newFakeFeed()
	store := NewConversationStore(api, feed, nil)

	if err := store.SelectPeer(context.Background(), peerU2()); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}

	history := store.History()
	if len(history) != 1 || history[0].ID != "m1" {
		t.Fatalf("unexpected history: %+v", history)
	}
	if got := feed.ActiveSubs(); got != 1 {
		t.Fatalf("expected 1 active subscription, got %d", got)
	}
	if store.IsHistoryLoading() {
		t.Fatalf("history loading flag must be cleared")
	}
}

func TestConversationStore_OnlyPushesFromSelectedPeerAppend(t *testing.T) {
	api := &fakeMessageAPI{history: map[string][]Message{"u2": {}}}
	feed := newFakeFeed()
	store := NewConversationStore(api, feed, nil)

	if err := store.SelectPeer(context.Background(), peerU2()); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}

	feed.Push(Message{ID: "x1", SenderID: "u3", Text: "wrong peer"})
	if got := len(store.History()); got != 0 {
		t.Fatalf("push from another peer must not append, history len %d", got)
	}

	feed.Push(Message{ID: "x2", SenderID: "u2", Text: "yo"})
	history := store.History()
	if len(history) != 1 || history[0].ID != "x2" {
		t.Fatalf("push from selected peer must append, got %+v", history)
	}
}

func TestConversationStore_SwitchingDetachesPreviousFilter(t *testing.T) {
	api := &fakeMessageAPI{history: map[string][]Message{"u2": {}, "u3": {}}}
	feed := newFakeFeed()
	store := NewConversationStore(api, feed, nil)

	if err := store.SelectPeer(context.Background(), peerU2()); err != nil {
		t.Fatalf("select u2: %v", err)
	}
	if err := store.SelectPeer(context.Background(), &Identity{ID: "u3"}); err != nil {
		t.Fatalf("select u3: %v", err)
	}

	if got := feed.ActiveSubs(); got != 1 {
		t.Fatalf("expected exactly 1 active subscription after switch, got %d", got)
	}

	feed.Push(Message{ID: "m", SenderID: "u2", Text: "late"})
	if got := len(store.History()); got != 0 {
		t.Fatalf("message from previous peer leaked into new conversation")
	}
}

func TestConversationStore_StaleHistoryFetchIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeMessageAPI{
		history: map[string][]Message{
			"u2": {{ID: "h1", SenderID: "u2", Text: "old"}},
			"u3": {{ID: "h2", SenderID: "u3", Text: "new"}},
		},
		historyGate: map[string]chan struct{}{"u2": gate},
	}
	feed := newFakeFeed()
	store := NewConversationStore(api, feed, nil)

	done := make(chan error, 1)
	go func() {
		done <- store.SelectPeer(context.Background(), peerU2())
	}()

	// Switch to u3 while u2's fetch is still in flight.
	waitFor(t, func() bool {
		selected := store.SelectedPeer()

		return selected != nil && selected.ID == "u2"
	})
	if err := store.SelectPeer(context.Background(), &Identity{ID: "u3"}); err != nil {
		t.Fatalf("select u3: %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("stale SelectPeer returned error: %v", err)
	}

	history := store.History()
	if len(history) != 1 || history[0].ID != "h2" {
		t.Fatalf("stale fetch overwrote fresher history: %+v", history)
	}
	if got := feed.ActiveSubs(); got != 1 {
		t.Fatalf("expected 1 active subscription, got %d", got)
	}
	feed.Push(Message{ID: "p", SenderID: "u2", Text: "stale filter?"})
	if got := len(store.History()); got != 1 {
		t.Fatalf("stale selection must not have registered a filter")
	}
}

func TestConversationStore_ConcurrentSameSelectKeepsSingleFilter(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeMessageAPI{
		history:     map[string][]Message{"u2": {{ID: "h1", SenderID: "u2", Text: "hi"}}},
		historyGate: map[string]chan struct{}{"u2": gate},
	}
	feed := newFakeFeed()
	store := NewConversationStore(api, feed, nil)

	done := make(chan error, 2)
	for range 2 {
		go func() {
			done <- store.SelectPeer(context.Background(), peerU2())
		}()
	}

	// Release the fetches only once both are in flight.
	waitFor(t, func() bool { return api.HistoryCalls() == 2 })
	close(gate)
	for range 2 {
		if err := <-done; err != nil {
			t.Fatalf("SelectPeer: %v", err)
		}
	}

	if got := feed.ActiveSubs(); got != 1 {
		t.Fatalf("expected 1 active subscription after double select, got %d", got)
	}
	feed.Push(Message{ID: "p1", SenderID: "u2", Text: "once"})
	history := store.History()
	if len(history) != 2 || history[1].ID != "p1" {
		t.Fatalf("push must append exactly once, got %+v", history)
	}

	store.UnsubscribeFromMessages()
	feed.Push(Message{ID: "p2", SenderID: "u2"})
	if got := feed.ActiveSubs(); got != 0 {
		t.Fatalf("unsubscribe must detach the remaining filter, got %d", got)
	}
	if got := len(store.History()); got != 2 {
		t.Fatalf("push after unsubscribe must be ignored, history len %d", got)
	}
}

func TestConversationStore_SelectNilClearsState(t *testing.T) {
	api := &fakeMessageAPI{history: map[string][]Message{"u2": {{ID: "m1", SenderID: "u2"}}}}
	feed := newFakeFeed()
	store := NewConversationStore(api, feed, nil)

	if err := store.SelectPeer(context.Background(), peerU2()); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}
	if err := store.SelectPeer(context.Background(), nil); err != nil {
		t.Fatalf("SelectPeer(nil): %v", err)
	}

	if store.SelectedPeer() != nil {
		t.Fatalf("selection must be cleared")
	}
	if got := len(store.History()); got != 0 {
		t.Fatalf("history must be cleared, len %d", got)
	}
	if got := feed.ActiveSubs(); got != 0 {
		t.Fatalf("filter must be detached, got %d", got)
	}
}

func TestConversationStore_HistoryFetchErrorLeavesNoSubscription(t *testing.T) {
	api := &fakeMessageAPI{historyErr: errors.New("boom")}
	feed := newFakeFeed()
	store := NewConversationStore(api, feed, nil)

	if err := store.SelectPeer(context.Background(), peerU2()); err == nil {
		t.Fatalf("expected error from failed history fetch")
	}
	if got := feed.ActiveSubs(); got != 0 {
		t.Fatalf("failed selection must not subscribe, got %d", got)
	}
	if store.IsHistoryLoading() {
		t.Fatalf("loading flag must be cleared on failure")
	}
}

func TestConversationStore_SendRequiresSelectedPeer(t *testing.T) {
	store := NewConversationStore(&fakeMessageAPI{}, newFakeFeed(), nil)

	_, err := store.SendMessage(context.Background(), Draft{Text: "hi"})
	if !errors.Is(err, ErrNoPeerSelected) {
		t.Fatalf("expected ErrNoPeerSelected, got %v", err)
	}
}

func TestConversationStore_SendAppendsOnlyOnSuccess(t *testing.T) {
	api := &fakeMessageAPI{
		history:    map[string][]Message{"u2": {}},
		sendResult: Message{ID: "s1", SenderID: "u1", ReceiverID: "u2", Text: "hi"},
	}
	feed := newFakeFeed()
	store := NewConversationStore(api, feed, nil)
	if err := store.SelectPeer(context.Background(), peerU2()); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}

	msg, err := store.SendMessage(context.Background(), Draft{Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != "s1" {
		t.Fatalf("unexpected confirmed message: %+v", msg)
	}
	if got := len(store.History()); got != 1 {
		t.Fatalf("confirmed send must append, history len %d", got)
	}

	api.mu.Lock()
	api.sendErr = errors.New("boom")
	api.mu.Unlock()
	if _, err := store.SendMessage(context.Background(), Draft{Text: "again"}); err == nil {
		t.Fatalf("expected send error")
	}
	if got := len(store.History()); got != 1 {
		t.Fatalf("failed send must leave history unchanged, len %d", got)
	}
}

func TestConversationStore_UnsubscribeIsIdempotent(t *testing.T) {
	api := &fakeMessageAPI{history: map[string][]Message{"u2": {}}}
	feed := newFakeFeed()
	store := NewConversationStore(api, feed, nil)

	store.UnsubscribeFromMessages()

	if err := store.SelectPeer(context.Background(), peerU2()); err != nil {
		t.Fatalf("SelectPeer: %v", err)
	}
	store.UnsubscribeFromMessages()
	store.UnsubscribeFromMessages()

	feed.Push(Message{ID: "p", SenderID: "u2"})
	if got := len(store.History()); got != 0 {
		t.Fatalf("push after unsubscribe must be ignored")
	}
}

func TestConversationStore_LoadPeersAndOnlineFilter(t *testing.T) {
	api := &fakeMessageAPI{peers: []Identity{{ID: "u2", DisplayName: "Two"}, {ID: "u3"}}}
	store := NewConversationStore(api, newFakeFeed(), nil)

	if err := store.LoadPeers(context.Background()); err != nil {
		t.Fatalf("LoadPeers: %v", err)
	}
	if got := len(store.Peers()); got != 2 {
		t.Fatalf("expected 2 peers, got %d", got)
	}
	if store.IsPeersLoading() {
		t.Fatalf("peers loading flag must be cleared")
	}
	if _, ok := store.PeerByID("u3"); !ok {
		t.Fatalf("PeerByID must find loaded peer")
	}

	tracker := NewPresenceTracker()
	tracker.Replace([]string{"u3"})
	online := store.OnlinePeers(tracker)
	if len(online) != 1 || online[0].ID != "u3" {
		t.Fatalf("unexpected online peers: %+v", online)
	}
}

func TestConversationStore_LoadPeersErrorKeepsOldList(t *testing.T) {
	api := &fakeMessageAPI{peers: []Identity{{ID: "u2"}}}
	store := NewConversationStore(api, newFakeFeed(), nil)
	if err := store.LoadPeers(context.Background()); err != nil {
		t.Fatalf("LoadPeers: %v", err)
	}

	api.mu.Lock()
	api.peersErr = errors.New("boom")
	api.mu.Unlock()
	if err := store.LoadPeers(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if got := len(store.Peers()); got != 1 {
		t.Fatalf("failed reload must keep the old list, got %d peers", got)
	}
}
