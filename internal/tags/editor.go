package tags

import (
	"context"

	"github.com/rs/zerolog"
)

// ApplyFunc receives the mutations produced by an Editor.
type ApplyFunc func(ctx context.Context, mutations []Mutation) error

type editKind int

const (
	editAdd editKind = iota
	editRemove
	editSet
)

type edit struct {
	kind  editKind
	group string
	tags  []string
}

// Editor accumulates tag group edits and applies them as mutations.
type Editor struct {
	apply    ApplyFunc
	logger   zerolog.Logger
	allowSet bool
	edits    []edit
}

// EditorOption configures an Editor.
type EditorOption func(*Editor)

// WithoutSet makes the editor ignore SetTags calls.
func WithoutSet() EditorOption {
	return func(e *Editor) {
		e.allowSet = false
	}
}

// NewEditor creates an editor that hands its mutations to apply.
func NewEditor(apply ApplyFunc, logger zerolog.Logger, opts ...EditorOption) *Editor {
	e := &Editor{apply: apply, logger: logger, allowSet: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddTags adds tags to group.
func (e *Editor) AddTags(group string, tags ...string) *Editor {
	e.edits = append(e.edits, edit{kind: editAdd, group: group, tags: tags})
	return e
}

// RemoveTags removes tags from group.
func (e *Editor) RemoveTags(group string, tags ...string) *Editor {
	e.edits = append(e.edits, edit{kind: editRemove, group: group, tags: tags})
	return e
}

// SetTags replaces the tags in group. No tags clears the group.
func (e *Editor) SetTags(group string, tags ...string) *Editor {
	if !e.allowSet {
		e.logger.Warn().Str("group", group).Msg("set tags not allowed for this audience, ignoring")
		return e
	}
	e.edits = append(e.edits, edit{kind: editSet, group: group, tags: tags})
	return e
}

// Mutations returns the mutations built so far, in call order.
func (e *Editor) Mutations() []Mutation {
	var out []Mutation
	for _, ed := range e.edits {
		group, err := ValidateGroup(ed.group)
		if err != nil {
			e.logger.Warn().Err(err).Str("group", ed.group).Msg("dropping tag group edit")
			continue
		}

		tags := NormalizeTags(ed.tags...)
		switch ed.kind {
		case editAdd:
			if len(tags) == 0 {
				continue
			}
			out = append(out, NewAddMutation(group, tags))
		case editRemove:
			if len(tags) == 0 {
				continue
			}
			out = append(out, NewRemoveMutation(group, tags))
		case editSet:
			out = append(out, NewSetMutation(group, tags))
		}
	}
	return out
}

// Apply hands the accumulated mutations to the apply function and resets the editor.
func (e *Editor) Apply(ctx context.Context) error {
	mutations := e.Mutations()
	e.edits = nil
	if len(mutations) == 0 {
		return nil
	}
	return e.apply(ctx, mutations)
}
