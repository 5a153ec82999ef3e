package partitiongroup

import (
	"sort"

	"github.com/amirimatin/atomix-partition-group/pkg/clusterid"
)

// GroupMembership is the converged view of a single partition group: its
// name, its group-type name, and the set of members known to host it.
// System is true for the distinguished system group.
type GroupMembership struct {
	Name    string
	Type    string
	Members []clusterid.MemberID
	System  bool
}

// Contains reports whether id is a member of this group.
func (m GroupMembership) Contains(id clusterid.MemberID) bool {
	for _, existing := range m.Members {
		if existing == id {
			return true
		}
	}
	return false
}

// sortedMembers returns a sorted copy of m.Members, making the membership
// content-deterministic for wire encoding and equality checks.
func (m GroupMembership) sortedMembers() []clusterid.MemberID {
	out := append([]clusterid.MemberID(nil), m.Members...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// withMembers returns a copy of m with Members replaced.
func (m GroupMembership) withMembers(members []clusterid.MemberID) GroupMembership {
	m.Members = members
	return m
}

// unionMembers returns the sorted union of a and b.
func unionMembers(a, b []clusterid.MemberID) []clusterid.MemberID {
	set := make(map[clusterid.MemberID]struct{}, len(a)+len(b))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]clusterid.MemberID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// removeMember returns a copy of ids with target removed.
func removeMember(ids []clusterid.MemberID, target clusterid.MemberID) []clusterid.MemberID {
	out := make([]clusterid.MemberID, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
