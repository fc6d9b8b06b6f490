package tags

import "strings"

// Mutation is a pending change to tag groups. A set entry replaces the
// group's tags; add and remove entries are incremental.
type Mutation struct {
	Add    GroupTags `json:"add,omitempty"`
	Remove GroupTags `json:"remove,omitempty"`
	Set    GroupTags `json:"set,omitempty"`
}

// NewAddMutation creates a mutation adding tags to group.
func NewAddMutation(group string, tags TagSet) Mutation {
	return Mutation{Add: GroupTags{strings.TrimSpace(group): tags.Clone()}}
}

// NewRemoveMutation creates a mutation removing tags from group.
func NewRemoveMutation(group string, tags TagSet) Mutation {
	return Mutation{Remove: GroupTags{strings.TrimSpace(group): tags.Clone()}}
}

// NewSetMutation creates a mutation replacing group's tags. An empty set
// clears the group.
func NewSetMutation(group string, tags TagSet) Mutation {
	return Mutation{Set: GroupTags{strings.TrimSpace(group): tags.Clone()}}
}

// IsEmpty reports whether the mutation carries no changes.
func (m Mutation) IsEmpty() bool {
	return len(m.Add) == 0 && len(m.Remove) == 0 && len(m.Set) == 0
}

// Equal reports structural equality.
func (m Mutation) Equal(other Mutation) bool {
	return m.Add.Equal(other.Add) && m.Remove.Equal(other.Remove) && m.Set.Equal(other.Set)
}

// Clone returns a deep copy.
func (m Mutation) Clone() Mutation {
	return Mutation{Add: m.Add.Clone(), Remove: m.Remove.Clone(), Set: m.Set.Clone()}
}

// Apply returns groups with the mutation applied: add, then remove, then set.
func (m Mutation) Apply(groups GroupTags) GroupTags {
	out := groups.Clone()
	if out == nil {
		out = GroupTags{}
	}
	for group, tags := range m.Add {
		out.merge(group, tags)
	}
	for group, tags := range m.Remove {
		out.subtract(group, tags)
	}
	for group, tags := range m.Set {
		if len(tags) == 0 {
			delete(out, group)
			continue
		}
		out[group] = tags.Clone()
	}
	return out
}

// Collapse reduces mutations to the fewest equivalent ones: at most one set
// mutation followed by at most one add/remove mutation. Applying the result in
// order yields the same effect as applying the input in order.
func Collapse(mutations []Mutation) []Mutation {
	add := GroupTags{}
	remove := GroupTags{}
	set := GroupTags{}

	for _, m := range mutations {
		for group, tags := range m.Add {
			group = strings.TrimSpace(group)
			if group == "" || len(tags) == 0 {
				continue
			}
			if existing, ok := set[group]; ok {
				existing.addAll(tags)
				continue
			}
			remove.subtract(group, tags)
			add.merge(group, tags)
		}

		for group, tags := range m.Remove {
			group = strings.TrimSpace(group)
			if group == "" || len(tags) == 0 {
				continue
			}
			if existing, ok := set[group]; ok {
				existing.removeAll(tags)
				continue
			}
			add.subtract(group, tags)
			remove.merge(group, tags)
		}

		for group, tags := range m.Set {
			group = strings.TrimSpace(group)
			if group == "" {
				continue
			}
			set[group] = tags.Clone()
			delete(add, group)
			delete(remove, group)
		}
	}

	var out []Mutation
	if len(set) > 0 {
		out = append(out, Mutation{Set: set})
	}
	if len(add) > 0 || len(remove) > 0 {
		m := Mutation{}
		if len(add) > 0 {
			m.Add = add
		}
		if len(remove) > 0 {
			m.Remove = remove
		}
		out = append(out, m)
	}
	return out
}
