// Package clusterid defines the opaque identifiers used throughout the
// partition-group membership subsystem: member identifiers and network
// addresses. Both are immutable value types normally issued by the
// surrounding cluster layer; GenerateMemberID can mint a random member id
// for callers that have none.
package clusterid

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MemberID identifies a cluster member. It is opaque to this package: callers
// may embed a namespace as "namespace/id" or use a bare id. Equality and
// hashing (as a Go map key) are by the full string.
type MemberID string

// NewMemberID joins an optional namespace and a local id into a MemberID.
// An empty namespace yields a bare id.
func NewMemberID(namespace, id string) MemberID {
	if namespace == "" {
		return MemberID(id)
	}
	return MemberID(namespace + "/" + id)
}

// GenerateMemberID returns a fresh random MemberID under namespace, used when
// a caller does not supply one of its own (e.g. ad hoc demo nodes).
func GenerateMemberID(namespace string) MemberID {
	return NewMemberID(namespace, uuid.NewString())
}

// Namespace returns the portion of the id before the first "/", or "" if the
// id carries no namespace.
func (m MemberID) Namespace() string {
	if i := strings.IndexByte(string(m), '/'); i >= 0 {
		return string(m)[:i]
	}
	return ""
}

// LocalID returns the portion of the id after the namespace separator, or the
// whole id if there is no namespace.
func (m MemberID) LocalID() string {
	if i := strings.IndexByte(string(m), '/'); i >= 0 {
		return string(m)[i+1:]
	}
	return string(m)
}

func (m MemberID) String() string { return string(m) }

// Address is a host+port network address, immutable once constructed.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Address) IsZero() bool { return a.Host == "" && a.Port == 0 }

// ParseAddress parses a "host:port" string into an Address.
func ParseAddress(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("clusterid: invalid address %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, fmt.Errorf("clusterid: invalid port in %q", hostport)
	}
	return Address{Host: host, Port: port}, nil
}
