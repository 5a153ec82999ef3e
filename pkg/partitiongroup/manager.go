// Package partitiongroup implements the partition-group membership
// manager: it converges every node in a cluster on a shared view of the
// system group and each data group's member set, using gossip-triggered
// bootstrap exchanges, Fibonacci-backed retry, and conflict detection.
package partitiongroup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirimatin/atomix-partition-group/pkg/clusterid"
	"github.com/amirimatin/atomix-partition-group/pkg/groupconfig"
	"github.com/amirimatin/atomix-partition-group/pkg/grouptype"
	"github.com/amirimatin/atomix-partition-group/pkg/internal/logutil"
	"github.com/amirimatin/atomix-partition-group/pkg/membership"
	"github.com/amirimatin/atomix-partition-group/pkg/messaging"
	obsmetrics "github.com/amirimatin/atomix-partition-group/pkg/observability/metrics"
	"github.com/amirimatin/atomix-partition-group/pkg/observability/tracing"
)

// bootstrapSubject is the messaging subject peers exchange bootstrap
// envelopes on.
const bootstrapSubject = "partition-group-bootstrap"

// fibonacciSeconds is the backoff schedule for system-group bootstrap
// retries, indexed by min(attempt, len-1).
var fibonacciSeconds = [5]int{1, 1, 2, 3, 5}

// maxPartitionGroupAttempts bounds retry of data-group bootstrap; the
// system group retries indefinitely.
const maxPartitionGroupAttempts = 5

// peerRetryInterval is how often an unresponsive-but-not-yet-failed peer is
// re-queried during bootstrap.
const peerRetryInterval = time.Second

// Config configures a Manager.
type Config struct {
	// LocalMember is this node's member id, used to seed every configured
	// group's initial membership with {local}.
	LocalMember clusterid.MemberID

	// Membership supplies the live cluster member list and arrival/departure events.
	Membership membership.Service

	// Messaging supplies subject-addressed request/response to peers.
	Messaging messaging.Service

	// Types, when non-nil and non-empty, is used by New to reject configured
	// groups whose type name is not registered. Merging never consults it,
	// and its codecs are never called by this package.
	Types *grouptype.Registry

	// Groups is the local group configuration used to seed state at Start.
	Groups groupconfig.PartitionGroupsConfig

	// Logger is optional; defaults to log.Default().
	Logger *log.Logger
}

// Manager converges this node's partition-group membership with the rest
// of the cluster. All mutation of systemGroup/groups happens on a single
// goroutine (the manager loop) so merge and event-dispatch ordering never
// races; accessors take a read lock against the same fields.
type Manager struct {
	local        clusterid.MemberID
	membership   membership.Service
	messaging    messaging.Service
	types        *grouptype.Registry
	groupsConfig groupconfig.PartitionGroupsConfig
	logger       *log.Logger

	started atomic.Bool

	mu          sync.RWMutex
	systemGroup *GroupMembership
	groups      map[string]GroupMembership

	bus eventBus

	loop chan func()

	memberListener membership.ListenerHandle

	readyOnce sync.Once
	readyCh   chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}

	wg sync.WaitGroup
}

// New constructs a Manager from cfg. It does not start bootstrapping; call
// Start for that.
func New(cfg Config) (*Manager, error) {
	if cfg.LocalMember == "" {
		return nil, fmt.Errorf("partitiongroup: empty LocalMember")
	}
	if cfg.Membership == nil || cfg.Messaging == nil {
		return nil, fmt.Errorf("partitiongroup: Membership and Messaging are required")
	}
	if err := cfg.Groups.Validate(); err != nil {
		return nil, fmt.Errorf("partitiongroup: invalid group config: %w", err)
	}
	if cfg.Types != nil && len(cfg.Types.Types()) > 0 {
		if err := checkKnownTypes(cfg.Types, cfg.Groups); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	m := &Manager{
		local:        cfg.LocalMember,
		membership:   cfg.Membership,
		messaging:    cfg.Messaging,
		types:        cfg.Types,
		groupsConfig: cfg.Groups,
		logger:       logger,
		groups:       make(map[string]GroupMembership),
		loop:         make(chan func(), 64),
		readyCh:      make(chan struct{}),
		stopCh:       make(chan struct{}),
	}

	return m, nil
}

// Start seeds local group state, subscribes to membership changes and the
// bootstrap RPC subject, then runs the bootstrap protocol. If the local
// configuration defines a system group it returns as soon as the groups are
// seeded, leaving bootstrap running in the background. Otherwise it blocks
// until a bootstrap round ends without scheduling a retry (the system group
// is known and either a data group is known or maxPartitionGroupAttempts
// retries have run), Stop is called (ErrStopped), or ctx is canceled.
// Calling Start a second time is a usage error and is rejected with
// ErrAlreadyStarted rather than risk subscribing or seeding twice.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.seedLocalGroups()

	if err := m.messaging.Subscribe(bootstrapSubject, m.handleBootstrapRequest); err != nil {
		return fmt.Errorf("partitiongroup: subscribe bootstrap subject: %w", err)
	}
	m.memberListener = m.membership.AddListener(m.handleMembershipChange)

	m.wg.Add(1)
	go m.runLoop()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.bootstrap(ctx, 0)
	}()

	if m.systemGroup != nil {
		m.readyOnce.Do(func() { close(m.readyCh) })
	}

	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopCh:
		return ErrStopped
	}
}

// seedLocalGroups initializes systemGroup/groups from the configured
// descriptors with membership {local} and posts MembersChanged for each —
// spec §8 scenario 1 expects a solo start to announce every locally known
// group to listeners, not just ones discovered via bootstrap. Run from
// Start (not New) so listeners registered between New and Start observe
// these events.
func (m *Manager) seedLocalGroups() {
	if m.groupsConfig.SystemGroup != nil {
		sg := GroupMembership{
			Name:    m.groupsConfig.SystemGroup.Name,
			Type:    m.groupsConfig.SystemGroup.Type,
			Members: []clusterid.MemberID{m.local},
			System:  true,
		}
		m.mu.Lock()
		m.systemGroup = &sg
		m.mu.Unlock()
		m.postEvent(sg)
	}
	for name, g := range m.groupsConfig.PartitionGroups {
		gm := GroupMembership{
			Name:    g.Name,
			Type:    g.Type,
			Members: []clusterid.MemberID{m.local},
		}
		m.mu.Lock()
		m.groups[name] = gm
		m.mu.Unlock()
		m.postEvent(gm)
	}
}

// Stop unsubscribes from membership and messaging and halts the manager
// loop. It does not unregister the bootstrap subject's handler function
// identity from the transport's map beyond calling Unsubscribe once.
// Calling Stop before Start has ever been called is a usage error.
func (m *Manager) Stop() error {
	if !m.started.Load() {
		return ErrNotStarted
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.membership.RemoveListener(m.memberListener)
	_ = m.messaging.Unsubscribe(bootstrapSubject)
	m.wg.Wait()
	return nil
}

// GetSystemMembership returns the local view of the system group, if known.
func (m *Manager) GetSystemMembership() (GroupMembership, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.systemGroup == nil {
		return GroupMembership{}, false
	}
	return *m.systemGroup, true
}

// GetMembership returns the local view of the named data group, if known.
func (m *Manager) GetMembership(name string) (GroupMembership, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[name]
	return g, ok
}

// GetMemberships returns every known data-group membership, sorted by name.
func (m *Manager) GetMemberships() []GroupMembership {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GroupMembership, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddListener registers l to receive membership-change events.
func (m *Manager) AddListener(l Listener) ListenerHandle { return m.bus.Add(l) }

// RemoveListener deregisters a previously-added listener.
func (m *Manager) RemoveListener(h ListenerHandle) { m.bus.Remove(h) }

// runLoop drains the manager's serial work queue; every state mutation
// runs here so merges and event dispatch are never concurrent with each
// other.
func (m *Manager) runLoop() {
	defer m.wg.Done()
	for {
		select {
		case fn := <-m.loop:
			fn()
		case <-m.stopCh:
			return
		}
	}
}

// submit enqueues fn to run on the manager loop. It is a no-op after Stop.
func (m *Manager) submit(fn func()) {
	select {
	case m.loop <- fn:
	case <-m.stopCh:
	}
}

// localInfo snapshots the current state into a bootstrap envelope.
func (m *Manager) localInfo() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := Info{SenderID: m.local}
	if m.systemGroup != nil {
		sg := *m.systemGroup
		info.System = &sg
	}
	for _, g := range m.groups {
		info.Groups = append(info.Groups, g)
	}
	return info
}

// bootstrap runs one round of the bootstrap protocol: query every known
// peer in parallel, merge whatever replies arrive, then decide whether to
// retry. System-group bootstrap retries indefinitely on a Fibonacci
// schedule; data-group bootstrap gives up after maxPartitionGroupAttempts.
func (m *Manager) bootstrap(ctx context.Context, attempt int) {
	peers := m.membership.GetMembers()
	var wg sync.WaitGroup
	for _, peer := range peers {
		if peer.ID == m.local {
			continue
		}
		wg.Add(1)
		go func(id clusterid.MemberID) {
			defer wg.Done()
			if info, ok := m.bootstrapPeer(ctx, id); ok {
				m.submit(func() { m.mergeInfo(info) })
			}
		}(peer.ID)
	}
	wg.Wait()

	done := make(chan struct{})
	m.submit(func() {
		m.afterBootstrapRound(ctx, attempt)
		close(done)
	})
	select {
	case <-done:
	case <-m.stopCh:
	}
}

// bootstrapPeer sends the local bootstrap envelope to peer and returns its
// reply. NoRemoteHandler and timeout failures are retried indefinitely on
// peerRetryInterval (the peer may simply not have subscribed yet); any
// other transport failure is treated as an empty, non-retried reply.
func (m *Manager) bootstrapPeer(ctx context.Context, peer clusterid.MemberID) (Info, bool) {
	payload, err := EncodeInfo(m.localInfo())
	if err != nil {
		logutil.Errorf(m.logger, "partitiongroup: encode bootstrap request: %v", err)
		return Info{}, false
	}

	ticker := time.NewTicker(peerRetryInterval)
	defer ticker.Stop()

	for {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		reply, err := m.messaging.Send(reqCtx, bootstrapSubject, payload, peer)
		cancel()
		if err == nil {
			info, err := DecodeInfo(reply)
			if err != nil {
				logutil.Errorf(m.logger, "partitiongroup: decode bootstrap reply from %s: %v", peer, err)
				return Info{}, false
			}
			return info, true
		}
		if !messaging.IsNoRemoteHandler(err) && !messaging.IsTimeout(err) {
			logutil.Warnf(m.logger, "partitiongroup: bootstrap %s failed: %v", peer, err)
			return Info{}, false
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Info{}, false
		case <-m.stopCh:
			return Info{}, false
		}
	}
}

// afterBootstrapRound runs on the manager loop after a round's replies have
// all been merged. It decides whether the manager is ready or a further
// round is needed.
func (m *Manager) afterBootstrapRound(ctx context.Context, attempt int) {
	m.mu.RLock()
	haveSystem := m.systemGroup != nil
	haveGroups := len(m.groups) > 0
	m.mu.RUnlock()

	retry, delaySeconds := bootstrapOutcome(haveSystem, haveGroups, attempt)
	if retry {
		kind := "system"
		if haveSystem {
			kind = "data"
		}
		obsmetrics.BootstrapAttempts.WithLabelValues(kind, "retry").Inc()
		m.scheduleRetry(ctx, attempt, delaySeconds)
		return
	}
	obsmetrics.BootstrapAttempts.WithLabelValues("all", "complete").Inc()
	m.readyOnce.Do(func() { close(m.readyCh) })
}

// bootstrapOutcome implements spec §4.5's algorithm (attempt counter `a`,
// starting at 0): retry indefinitely on the Fibonacci schedule while the
// system group is unknown; once it's known, retry on the same schedule
// while no data group is known yet, but only while attempt is within
// maxPartitionGroupAttempts. attempt beyond the schedule's length stays
// pinned at the last (5s) delay.
func bootstrapOutcome(haveSystem, haveGroups bool, attempt int) (retry bool, delaySeconds int) {
	delaySeconds = fibonacciSeconds[minInt(attempt, len(fibonacciSeconds)-1)]
	if !haveSystem {
		return true, delaySeconds
	}
	if !haveGroups && attempt < maxPartitionGroupAttempts {
		return true, delaySeconds
	}
	return false, 0
}

func (m *Manager) scheduleRetry(ctx context.Context, attempt int, delaySeconds int) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(time.Duration(delaySeconds) * time.Second)
		defer timer.Stop()
		select {
		case <-timer.C:
			m.bootstrap(ctx, attempt+1)
		case <-ctx.Done():
		case <-m.stopCh:
		}
	}()
}

// mergeInfo applies a peer's bootstrap envelope to local state. It must run
// on the manager loop.
func (m *Manager) mergeInfo(info Info) {
	if err := m.updatePartitionGroups(info); err != nil {
		logutil.Warnf(m.logger, "partitiongroup: %v", err)
	}
}

// updatePartitionGroups merges info into local state, adopting the system
// group if unset, unioning members (filtered to currently-live members)
// otherwise, and posting MembersChanged only for groups whose member set
// actually grew. The system group and every named data group are merged
// independently: a name/type mismatch on one group is reported as
// ErrConfigurationConflict and leaves only that group's local state
// unchanged, but never prevents the remaining groups in the same envelope
// from merging.
func (m *Manager) updatePartitionGroups(info Info) error {
	var errs []error
	if info.System != nil {
		if err := m.mergeSystemGroup(*info.System); err != nil {
			errs = append(errs, err)
		}
	}
	names := make([]string, 0, len(info.Groups))
	byName := make(map[string]GroupMembership, len(info.Groups))
	for _, g := range info.Groups {
		names = append(names, g.Name)
		byName[g.Name] = g
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.mergeDataGroup(byName[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) mergeSystemGroup(remote GroupMembership) error {
	m.mu.Lock()
	if m.systemGroup == nil {
		remote.System = true
		remote.Members = m.liveFilterLocked(remote.Members)
		m.systemGroup = &remote
		m.mu.Unlock()
		m.postEvent(remote)
		return nil
	}
	if m.systemGroup.Name != remote.Name || m.systemGroup.Type != remote.Type {
		m.mu.Unlock()
		obsmetrics.ConfigurationConflicts.WithLabelValues(remote.Name).Inc()
		return fmt.Errorf("%w: group %q", ErrConfigurationConflict, remote.Name)
	}
	merged := unionMembers(m.systemGroup.Members, m.liveFilterLocked(remote.Members))
	grew := len(merged) > len(m.systemGroup.Members)
	if !grew {
		m.mu.Unlock()
		return nil
	}
	updated := m.systemGroup.withMembers(merged)
	m.systemGroup = &updated
	m.mu.Unlock()
	m.postEvent(updated)
	return nil
}

func (m *Manager) mergeDataGroup(remote GroupMembership) error {
	m.mu.Lock()
	existing, ok := m.groups[remote.Name]
	if !ok {
		remote.Members = m.liveFilterLocked(remote.Members)
		m.groups[remote.Name] = remote
		m.mu.Unlock()
		m.postEvent(remote)
		return nil
	}
	if existing.Type != remote.Type {
		m.mu.Unlock()
		obsmetrics.ConfigurationConflicts.WithLabelValues(remote.Name).Inc()
		return fmt.Errorf("%w: group %q", ErrConfigurationConflict, remote.Name)
	}
	merged := unionMembers(existing.Members, m.liveFilterLocked(remote.Members))
	grew := len(merged) > len(existing.Members)
	if !grew {
		m.mu.Unlock()
		return nil
	}
	updated := existing.withMembers(merged)
	m.groups[remote.Name] = updated
	m.mu.Unlock()
	m.postEvent(updated)
	return nil
}

// liveFilterLocked drops member ids the membership service no longer knows
// about. Callers must hold m.mu.
func (m *Manager) liveFilterLocked(ids []clusterid.MemberID) []clusterid.MemberID {
	out := make([]clusterid.MemberID, 0, len(ids))
	for _, id := range ids {
		if id == m.local {
			out = append(out, id)
			continue
		}
		if _, ok := m.membership.GetMember(id); ok {
			out = append(out, id)
		}
	}
	return out
}

func (m *Manager) postEvent(g GroupMembership) {
	obsmetrics.EventsEmitted.WithLabelValues(string(MembersChanged)).Inc()
	m.bus.Post(Event{Type: MembersChanged, Membership: g})
}

// handleMembershipChange reacts to a peer arriving or departing. On
// arrival it runs a single-peer bootstrap exchange; on departure it drops
// the member from every group that contained it and posts events only for
// groups that actually changed.
func (m *Manager) handleMembershipChange(ev membership.Event) {
	obsmetrics.KnownMembers.Set(float64(len(m.membership.GetMembers())))
	switch ev.Type {
	case membership.Added:
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if info, ok := m.bootstrapPeer(context.Background(), ev.Member.ID); ok {
				m.submit(func() { m.mergeInfo(info) })
			}
		}()
	case membership.Removed:
		m.submit(func() { m.handleMemberRemoved(ev.Member.ID) })
	}
}

func (m *Manager) handleMemberRemoved(id clusterid.MemberID) {
	m.mu.Lock()
	var changedSystem *GroupMembership
	if m.systemGroup != nil && m.systemGroup.Contains(id) {
		updated := m.systemGroup.withMembers(removeMember(m.systemGroup.Members, id))
		m.systemGroup = &updated
		changedSystem = &updated
	}
	var changedGroups []GroupMembership
	for name, g := range m.groups {
		if g.Contains(id) {
			updated := g.withMembers(removeMember(g.Members, id))
			m.groups[name] = updated
			changedGroups = append(changedGroups, updated)
		}
	}
	m.mu.Unlock()

	if changedSystem != nil {
		m.postEvent(*changedSystem)
	}
	for _, g := range changedGroups {
		m.postEvent(g)
	}
}

// handleBootstrapRequest answers a peer's bootstrap request: it merges the
// peer's envelope into local state (logging, not propagating, any
// conflict) and always replies with the resulting local state regardless
// of whether the merge fully succeeded.
func (m *Manager) handleBootstrapRequest(ctx context.Context, payload []byte) ([]byte, error) {
	_, end := tracing.StartSpan(ctx, "partitiongroup.handleBootstrap")
	defer end()

	info, err := DecodeInfo(payload)
	if err != nil {
		return nil, fmt.Errorf("partitiongroup: decode bootstrap request: %w", err)
	}

	done := make(chan struct{})
	m.submit(func() {
		if err := m.updatePartitionGroups(info); err != nil {
			logutil.Warnf(m.logger, "partitiongroup: %v", err)
		}
		close(done)
	})
	select {
	case <-done:
	case <-m.stopCh:
	}

	return EncodeInfo(m.localInfo())
}

// checkKnownTypes rejects configuration that names a group type the
// registry does not recognize. It is skipped entirely when the registry is
// empty (a node with no registered codecs treats every type name as
// opaque), matching that type-name matching during merge never consults
// the registry — this check only guards local misconfiguration.
func checkKnownTypes(types *grouptype.Registry, groups groupconfig.PartitionGroupsConfig) error {
	if groups.SystemGroup != nil {
		if _, ok := types.Lookup(groups.SystemGroup.Type); !ok {
			return fmt.Errorf("partitiongroup: system group %q: unknown type %q", groups.SystemGroup.Name, groups.SystemGroup.Type)
		}
	}
	for name, g := range groups.PartitionGroups {
		if _, ok := types.Lookup(g.Type); !ok {
			return fmt.Errorf("partitiongroup: group %q: unknown type %q", name, g.Type)
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
