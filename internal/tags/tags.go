// Package tags models tag-group mutations and the durable queue that holds
// them until the backend accepts them.
package tags

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// MaxTagLength is the longest tag the backend accepts.
const MaxTagLength = 127

// ErrInvalidGroup is returned for tag group names that are empty after trimming.
var ErrInvalidGroup = errors.New("invalid tag group")

// TagSet is an unordered set of tags.
type TagSet map[string]struct{}

// NewTagSet creates a set from the given tags. Tags are taken as-is.
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Contains reports whether tag is in the set.
func (s TagSet) Contains(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Sorted returns the tags in lexical order.
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of the set.
func (s TagSet) Clone() TagSet {
	out := make(TagSet, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	return out
}

func (s TagSet) addAll(other TagSet) {
	for t := range other {
		s[t] = struct{}{}
	}
}

func (s TagSet) removeAll(other TagSet) {
	for t := range other {
		delete(s, t)
	}
}

// Equal reports whether both sets hold the same tags.
func (s TagSet) Equal(other TagSet) bool {
	if len(s) != len(other) {
		return false
	}
	for t := range s {
		if _, ok := other[t]; !ok {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array.
func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of tags.
func (s *TagSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = NewTagSet(tags...)
	return nil
}

// GroupTags maps a tag group name to its tags.
type GroupTags map[string]TagSet

// Clone returns a deep copy.
func (g GroupTags) Clone() GroupTags {
	if g == nil {
		return nil
	}
	out := make(GroupTags, len(g))
	for group, tags := range g {
		out[group] = tags.Clone()
	}
	return out
}

// Equal reports whether both maps hold the same groups and tags.
func (g GroupTags) Equal(other GroupTags) bool {
	if len(g) != len(other) {
		return false
	}
	for group, tags := range g {
		o, ok := other[group]
		if !ok || !tags.Equal(o) {
			return false
		}
	}
	return true
}

func (g GroupTags) merge(group string, tags TagSet) {
	if existing, ok := g[group]; ok {
		existing.addAll(tags)
		return
	}
	g[group] = tags.Clone()
}

// subtract removes tags from group and prunes the group when it becomes empty.
func (g GroupTags) subtract(group string, tags TagSet) {
	existing, ok := g[group]
	if !ok {
		return
	}
	existing.removeAll(tags)
	if len(existing) == 0 {
		delete(g, group)
	}
}

// NormalizeTags trims tags and drops empty, oversized and duplicate entries.
func NormalizeTags(tags ...string) TagSet {
	out := make(TagSet, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || len([]rune(t)) > MaxTagLength {
			continue
		}
		out[t] = struct{}{}
	}
	return out
}

// ValidateGroup trims a group name and rejects empty ones.
func ValidateGroup(group string) (string, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return "", ErrInvalidGroup
	}
	return group, nil
}
