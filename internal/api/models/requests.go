package models

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pushlane/pushlane/internal/nameduser"
)

// Validation error codes.
const (
	CodeRequired = "REQUIRED"
	CodeTooLong  = "TOO_LONG"
	CodeInvalid  = "INVALID"
)

// PushRequest updates push preferences. Omitted fields are left unchanged.
type PushRequest struct {
	PushEnabled              *bool   `json:"push_enabled,omitempty"`
	UserNotificationsEnabled *bool   `json:"user_notifications_enabled,omitempty"`
	Token                    *string `json:"token,omitempty"`
	UserID                   *string `json:"user_id,omitempty"`
}

// Validate returns field errors for the request.
func (r PushRequest) Validate() []FieldError {
	if r.PushEnabled == nil && r.UserNotificationsEnabled == nil && r.Token == nil && r.UserID == nil {
		return []FieldError{{Field: "body", Message: "at least one field must be set", Code: CodeRequired}}
	}
	return nil
}

// TagsRequest replaces the device tags on the channel.
type TagsRequest struct {
	Tags []string `json:"tags"`
}

// TagGroupsRequest edits tag groups. Each map goes from group name to tags.
type TagGroupsRequest struct {
	Add    map[string][]string `json:"add,omitempty"`
	Remove map[string][]string `json:"remove,omitempty"`
	Set    map[string][]string `json:"set,omitempty"`
}

// Validate returns field errors for the request.
func (r TagGroupsRequest) Validate() []FieldError {
	if len(r.Add) == 0 && len(r.Remove) == 0 && len(r.Set) == 0 {
		return []FieldError{{Field: "body", Message: "one of add, remove or set is required", Code: CodeRequired}}
	}

	var errs []FieldError
	check := func(field string, groups map[string][]string) {
		for group := range groups {
			if strings.TrimSpace(group) == "" {
				errs = append(errs, FieldError{
					Field:   field,
					Message: "tag group names must not be empty",
					Code:    CodeInvalid,
				})
				return
			}
		}
	}
	check("add", r.Add)
	check("remove", r.Remove)
	check("set", r.Set)
	return errs
}

// NamedUserRequest associates the channel with a named user.
type NamedUserRequest struct {
	ID string `json:"id"`
}

// Validate returns field errors for the request.
func (r NamedUserRequest) Validate() []FieldError {
	id := strings.TrimSpace(r.ID)
	switch {
	case id == "":
		return []FieldError{{Field: "id", Message: "required", Code: CodeRequired}}
	case utf8.RuneCountInString(id) > nameduser.MaxIDLength:
		return []FieldError{{
			Field:   "id",
			Message: fmt.Sprintf("must be at most %d characters", nameduser.MaxIDLength),
			Code:    CodeTooLong,
		}}
	}
	return nil
}

// TagsResponse lists the device tags stored for the channel.
type TagsResponse struct {
	Tags []string `json:"tags"`
}
