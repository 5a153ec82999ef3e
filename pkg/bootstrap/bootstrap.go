// Package bootstrap assembles a ready-to-run partition-group membership
// node from a small Config: discovery, gossip membership, the messaging
// transport, and the partition-group manager itself.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirimatin/atomix-partition-group/pkg/clusterid"
	"github.com/amirimatin/atomix-partition-group/pkg/discovery"
	dDNS "github.com/amirimatin/atomix-partition-group/pkg/discovery/dns"
	dFile "github.com/amirimatin/atomix-partition-group/pkg/discovery/file"
	dStatic "github.com/amirimatin/atomix-partition-group/pkg/discovery/static"
	"github.com/amirimatin/atomix-partition-group/pkg/groupconfig"
	"github.com/amirimatin/atomix-partition-group/pkg/grouptype"
	base "github.com/amirimatin/atomix-partition-group/pkg/membership"
	ml "github.com/amirimatin/atomix-partition-group/pkg/membership/memberlist"
	msggrpc "github.com/amirimatin/atomix-partition-group/pkg/messaging/grpc"
	"github.com/amirimatin/atomix-partition-group/pkg/partitiongroup"
)

// msgMetaKey is the gossip metadata key peers use to discover this node's
// messaging transport address when it differs from its gossip address.
const msgMetaKey = "msg"

// Config defines high-level inputs needed to assemble a partition-group
// membership node with sensible defaults.
type Config struct {
	// NodeID is this node's cluster member id.
	NodeID string

	// MemBind is the gossip membership bind address (host:port).
	MemBind string
	// MemAdv is the optional advertised gossip address.
	MemAdv string

	// MsgBind is the messaging transport's listen address (host:port).
	MsgBind string

	// Discovery settings.
	DiscoveryKind string        // "static" (default), "dns", or "file"
	SeedsCSV      string        // used when DiscoveryKind=static
	DNSNamesCSV   string        // used when kind=dns
	DNSPort       int           // used when kind=dns (A/AAAA)
	DiscRefresh   time.Duration // cache/refresh duration for discovery
	FilePath      string        // used when kind=file
	FileEnv       string        // used when kind=file

	// Groups is the local partition-group configuration.
	Groups groupconfig.PartitionGroupsConfig

	// Types registers the group types this node understands. If nil, an
	// empty registry is used (membership still converges; group-specific
	// payloads are simply opaque).
	Types *grouptype.Registry

	// Logger is optional; defaults to log.Default().
	Logger *log.Logger
}

// Node bundles the running collaborators so callers can inspect or stop them.
type Node struct {
	Membership base.Service
	Messaging  *msggrpc.Transport
	Manager    *partitiongroup.Manager
}

// Run starts the messaging transport, then gossip membership advertising
// the transport's resolved address, joins the discovered seeds, and starts
// the partition-group manager. It returns once the manager reports its
// system group is known, or ctx is canceled.
func Run(ctx context.Context, cfg Config) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Types == nil {
		cfg.Types = grouptype.NewRegistry()
	}

	var resolver msggrpc.AddressResolver
	transport := msggrpc.New(cfg.MsgBind, func(id clusterid.MemberID) (string, bool) { return resolver(id) })
	if err := transport.Start(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: starting messaging transport: %w", err)
	}

	mem, err := ml.New(ml.Options{
		NodeID:    cfg.NodeID,
		Bind:      cfg.MemBind,
		Advertise: cfg.MemAdv,
		Logger:    cfg.Logger,
		Meta:      map[string]string{msgMetaKey: transport.Addr()},
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: membership: %w", err)
	}
	resolver = func(id clusterid.MemberID) (string, bool) {
		m, ok := mem.GetMember(id)
		if !ok {
			return "", false
		}
		if addr, ok := m.Meta[msgMetaKey]; ok && addr != "" {
			return addr, true
		}
		if m.Address.IsZero() {
			return "", false
		}
		return m.Address.String(), true
	}
	if err := mem.Start(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: starting membership: %w", err)
	}

	disc := buildDiscovery(cfg)
	if seeds := disc.Seeds(); len(seeds) > 0 {
		if err := mem.Join(seeds); err != nil {
			return nil, fmt.Errorf("bootstrap: joining seeds %v: %w", seeds, err)
		}
	}

	mgr, err := partitiongroup.New(partitiongroup.Config{
		LocalMember: clusterid.MemberID(cfg.NodeID),
		Membership:  mem,
		Messaging:   transport,
		Types:       cfg.Types,
		Groups:      cfg.Groups,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: manager: %w", err)
	}
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: starting manager: %w", err)
	}

	return &Node{Membership: mem, Messaging: transport, Manager: mgr}, nil
}

// Stop tears down the manager, membership, and messaging transport, in that order.
func (n *Node) Stop(ctx context.Context) error {
	if err := n.Manager.Stop(); err != nil {
		return err
	}
	if err := n.Membership.Leave(); err != nil {
		return err
	}
	if err := n.Membership.Stop(); err != nil {
		return err
	}
	return n.Messaging.Stop(ctx)
}

func buildDiscovery(cfg Config) discovery.Discovery {
	switch cfg.DiscoveryKind {
	case "dns":
		names := dStatic.Parse(cfg.DNSNamesCSV)
		opts := dDNS.Options{Names: names, Port: cfg.DNSPort}
		if cfg.DiscRefresh > 0 {
			opts.Refresh = cfg.DiscRefresh
		}
		return dDNS.New(opts)
	case "file":
		opts := dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv}
		if cfg.DiscRefresh > 0 {
			opts.Refresh = cfg.DiscRefresh
		}
		return dFile.New(opts)
	default:
		seeds := dStatic.Parse(cfg.SeedsCSV)
		return dStatic.New(seeds...)
	}
}
