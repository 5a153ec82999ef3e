// Package groupconfig holds the immutable configuration values for a
// partition group and the top-level configuration handed to partitiongroup.New.
package groupconfig

import "fmt"

// GroupConfig is the immutable configuration of one partition group: its
// name, its type name (looked up in the group-type registry), and an opaque
// type-specific configuration blob. GroupConfig values are never mutated
// after being stored by the manager.
type GroupConfig struct {
	Name   string
	Type   string
	Config []byte
}

// Validate checks the minimal invariants required before a GroupConfig can
// be accepted by partitiongroup.New: a non-empty name and type.
func (g GroupConfig) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("groupconfig: empty group name")
	}
	if g.Type == "" {
		return fmt.Errorf("groupconfig: empty group type for %q", g.Name)
	}
	return nil
}

// PartitionGroupsConfig is the configuration input to partitiongroup.New: an
// optional system (management) group descriptor, plus a name-to-descriptor
// map of data partition groups.
type PartitionGroupsConfig struct {
	SystemGroup     *GroupConfig
	PartitionGroups map[string]GroupConfig
}

// Validate checks that the system group (if present) and every data group
// descriptor are individually well-formed, and that map keys match the
// descriptor names they index (a caller mistake otherwise silently accepted).
func (c PartitionGroupsConfig) Validate() error {
	if c.SystemGroup != nil {
		if err := c.SystemGroup.Validate(); err != nil {
			return fmt.Errorf("groupconfig: system group: %w", err)
		}
	}
	for name, g := range c.PartitionGroups {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("groupconfig: group %q: %w", name, err)
		}
		if g.Name != name {
			return fmt.Errorf("groupconfig: group key %q does not match descriptor name %q", name, g.Name)
		}
	}
	return nil
}
