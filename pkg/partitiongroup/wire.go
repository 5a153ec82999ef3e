package partitiongroup

import (
	"encoding/json"
	"sort"

	"github.com/amirimatin/atomix-partition-group/pkg/clusterid"
)

// Info is the bootstrap envelope exchanged between peers: the sender's
// member id, its current view of the system group, and every data group
// it knows about. Encoding is content-deterministic: member sets and group
// lists are sorted before marshaling so two nodes holding the same
// membership always produce identical bytes.
type Info struct {
	SenderID clusterid.MemberID
	System   *GroupMembership
	Groups   []GroupMembership
}

type wireGroup struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Members []string `json:"members,omitempty"`
	System  bool     `json:"system,omitempty"`
}

type wireInfo struct {
	SenderID string      `json:"senderMemberId"`
	System   *wireGroup  `json:"system,omitempty"`
	Groups   []wireGroup `json:"groups,omitempty"`
}

func toWireGroup(m GroupMembership) wireGroup {
	sorted := m.sortedMembers()
	members := make([]string, 0, len(sorted))
	for _, id := range sorted {
		members = append(members, string(id))
	}
	return wireGroup{Name: m.Name, Type: m.Type, Members: members, System: m.System}
}

func fromWireGroup(w wireGroup) GroupMembership {
	members := make([]clusterid.MemberID, 0, len(w.Members))
	for _, id := range w.Members {
		members = append(members, clusterid.MemberID(id))
	}
	return GroupMembership{Name: w.Name, Type: w.Type, Members: members, System: w.System}
}

// EncodeInfo serializes info deterministically.
func EncodeInfo(info Info) ([]byte, error) {
	w := wireInfo{SenderID: string(info.SenderID)}
	if info.System != nil {
		g := toWireGroup(*info.System)
		w.System = &g
	}
	groups := append([]GroupMembership(nil), info.Groups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, g := range groups {
		w.Groups = append(w.Groups, toWireGroup(g))
	}
	return json.Marshal(w)
}

// DecodeInfo parses a payload produced by EncodeInfo.
func DecodeInfo(b []byte) (Info, error) {
	var w wireInfo
	if err := json.Unmarshal(b, &w); err != nil {
		return Info{}, err
	}
	info := Info{SenderID: clusterid.MemberID(w.SenderID)}
	if w.System != nil {
		g := fromWireGroup(*w.System)
		g.System = true
		info.System = &g
	}
	for _, wg := range w.Groups {
		info.Groups = append(info.Groups, fromWireGroup(wg))
	}
	return info, nil
}
