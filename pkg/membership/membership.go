// Package membership defines the cluster-membership service consumed by the
// partition-group manager (spec §6): peer discovery, a live member list, and
// arrival/departure notification. This package carries only the contract and
// a copy-on-write listener registry; the memberlist subpackage supplies a
// concrete gossip-backed implementation.
package membership

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/atomix-partition-group/pkg/clusterid"
)

// Member describes a cluster member as observed by the membership layer.
// Meta can carry auxiliary data (for example, a management RPC address).
type Member struct {
    ID      clusterid.MemberID
    Address clusterid.Address
    Meta    map[string]string
}

// EventType distinguishes member arrivals from departures.
type EventType string

const (
    // Added indicates a member joined or became visible.
    Added EventType = "added"
    // Removed indicates a member left the cluster or was marked failed.
    Removed EventType = "removed"
)

// Event is a membership change notification.
type Event struct {
    Type   EventType
    Member Member
    At     time.Time
}

// Listener receives membership change notifications. Listeners are invoked
// in registration order on whatever goroutine the implementation chooses;
// implementations must not block the caller indefinitely.
type Listener func(Event)

// ListenerHandle identifies a previously-registered Listener for removal.
type ListenerHandle uint64

// Service is the cluster-membership collaborator consumed by the
// partition-group manager.
type Service interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    GetLocalMember() Member
    GetMembers() []Member
    GetMember(id clusterid.MemberID) (Member, bool)
    AddListener(l Listener) ListenerHandle
    RemoveListener(h ListenerHandle)
    Leave() error
    Stop() error
}

// ListenerRegistry is a concurrency-safe, copy-on-write listener list shared
// by membership.Service implementations. A listener added during dispatch
// does not observe the event in progress; one removed during dispatch does
// not receive it, because Post iterates over a snapshot taken under the lock.
type ListenerRegistry struct {
    mu        sync.Mutex
    nextID    uint64
    listeners []registryEntry
}

type registryEntry struct {
    id ListenerHandle
    fn Listener
}

// Add registers l and returns a handle that can later be passed to Remove.
func (r *ListenerRegistry) Add(l Listener) ListenerHandle {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.nextID++
    id := ListenerHandle(r.nextID)
    next := make([]registryEntry, len(r.listeners)+1)
    copy(next, r.listeners)
    next[len(r.listeners)] = registryEntry{id: id, fn: l}
    r.listeners = next
    return id
}

// Remove deregisters the listener identified by h, if still present.
func (r *ListenerRegistry) Remove(h ListenerHandle) {
    r.mu.Lock()
    defer r.mu.Unlock()
    next := make([]registryEntry, 0, len(r.listeners))
    for _, e := range r.listeners {
        if e.id != h {
            next = append(next, e)
        }
    }
    r.listeners = next
}

// Post delivers ev to every listener currently registered, in registration order.
func (r *ListenerRegistry) Post(ev Event) {
    r.mu.Lock()
    snapshot := r.listeners
    r.mu.Unlock()
    for _, e := range snapshot {
        e.fn(ev)
    }
}
