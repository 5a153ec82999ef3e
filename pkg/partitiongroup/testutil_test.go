package partitiongroup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirimatin/atomix-partition-group/pkg/clusterid"
	"github.com/amirimatin/atomix-partition-group/pkg/membership"
	"github.com/amirimatin/atomix-partition-group/pkg/messaging"
)

// fakeMembership is a hand-written membership.Service whose member set and
// events are driven directly by the test.
type fakeMembership struct {
	mu        sync.Mutex
	local     membership.Member
	members   map[clusterid.MemberID]membership.Member
	listeners membership.ListenerRegistry
}

func newFakeMembership(local membership.Member) *fakeMembership {
	return &fakeMembership{
		local:   local,
		members: map[clusterid.MemberID]membership.Member{local.ID: local},
	}
}

func (f *fakeMembership) Start(ctx context.Context) error { return nil }
func (f *fakeMembership) Join(seeds []string) error       { return nil }
func (f *fakeMembership) GetLocalMember() membership.Member {
	return f.local
}
func (f *fakeMembership) GetMembers() []membership.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]membership.Member, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m)
	}
	return out
}
func (f *fakeMembership) GetMember(id clusterid.MemberID) (membership.Member, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[id]
	return m, ok
}
func (f *fakeMembership) AddListener(l membership.Listener) membership.ListenerHandle {
	return f.listeners.Add(l)
}
func (f *fakeMembership) RemoveListener(h membership.ListenerHandle) { f.listeners.Remove(h) }
func (f *fakeMembership) Leave() error                               { return nil }
func (f *fakeMembership) Stop() error                                { return nil }

// knows preloads a peer into the visible member set without firing an event,
// simulating a cluster the node joined before partitiongroup.Start.
func (f *fakeMembership) knows(m membership.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[m.ID] = m
}

func (f *fakeMembership) addMember(m membership.Member) {
	f.mu.Lock()
	f.members[m.ID] = m
	f.mu.Unlock()
	f.listeners.Post(membership.Event{Type: membership.Added, Member: m, At: time.Now()})
}

func (f *fakeMembership) removeMember(id clusterid.MemberID) {
	f.mu.Lock()
	m, ok := f.members[id]
	delete(f.members, id)
	f.mu.Unlock()
	if ok {
		f.listeners.Post(membership.Event{Type: membership.Removed, Member: m, At: time.Now()})
	}
}

// hub wires a set of fakeMessaging nodes together in-process, so Send on
// one delivers to the handler subscribed on another.
type hub struct {
	mu    sync.Mutex
	nodes map[clusterid.MemberID]*fakeMessaging
}

func newHub() *hub { return &hub{nodes: make(map[clusterid.MemberID]*fakeMessaging)} }

func (h *hub) node(id clusterid.MemberID) *fakeMessaging {
	fm := &fakeMessaging{id: id, hub: h, handlers: make(map[string]messaging.HandlerFunc)}
	h.mu.Lock()
	h.nodes[id] = fm
	h.mu.Unlock()
	return fm
}

type fakeMessaging struct {
	id  clusterid.MemberID
	hub *hub

	mu       sync.Mutex
	handlers map[string]messaging.HandlerFunc
}

func (f *fakeMessaging) Subscribe(subject string, handler messaging.HandlerFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = handler
	return nil
}

func (f *fakeMessaging) Unsubscribe(subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, subject)
	return nil
}

func (f *fakeMessaging) Send(ctx context.Context, subject string, payload []byte, target clusterid.MemberID) ([]byte, error) {
	f.hub.mu.Lock()
	peer, ok := f.hub.nodes[target]
	f.hub.mu.Unlock()
	if !ok {
		return nil, messaging.NewError(messaging.FailureTransport, fmt.Errorf("fakeMessaging: unknown target %q", target))
	}
	peer.mu.Lock()
	handler, ok := peer.handlers[subject]
	peer.mu.Unlock()
	if !ok {
		return nil, messaging.NewError(messaging.FailureNoRemoteHandler, fmt.Errorf("fakeMessaging: no handler for %q on %q", subject, target))
	}
	return handler(ctx, payload)
}

func awaitGroup(t interface{ Fatalf(string, ...any) }, get func() (GroupMembership, bool), wantMembers int, timeout time.Duration) GroupMembership {
	deadline := time.Now().Add(timeout)
	for {
		g, ok := get()
		if ok && len(g.Members) == wantMembers {
			return g
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for group to reach %d members; last=%+v ok=%v", wantMembers, g, ok)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
