package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Audience selectors.
const (
	SelectorAndroidChannel = "android_channel"
	SelectorAmazonChannel  = "amazon_channel"
	SelectorNamedUser      = "named_user_id"
)

// Audience identifies who a tag group update applies to.
type Audience struct {
	Selector string
	ID       string
}

// ChannelAudience returns the channel audience for a device type.
func ChannelAudience(deviceType, channelID string) Audience {
	selector := SelectorAndroidChannel
	if deviceType == "amazon" {
		selector = SelectorAmazonChannel
	}
	return Audience{Selector: selector, ID: channelID}
}

// NamedUserAudience returns the named user audience.
func NamedUserAudience(id string) Audience {
	return Audience{Selector: SelectorNamedUser, ID: id}
}

// Response is an HTTP response from the backend.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// Location returns the Location header.
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

// Class is the outcome category of a backend call.
type Class int

const (
	ClassSuccess Class = iota
	ClassRetryable
	ClassConflict
	ClassForbidden
	ClassBadRequest
	ClassClientError
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassRetryable:
		return "retryable"
	case ClassConflict:
		return "conflict"
	case ClassForbidden:
		return "forbidden"
	case ClassBadRequest:
		return "bad_request"
	default:
		return "client_error"
	}
}

// Classify maps a call result onto its outcome class. No response and 5xx
// are retryable.
func Classify(resp *Response, err error) Class {
	if err != nil || resp == nil {
		return ClassRetryable
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		return ClassSuccess
	case resp.Status >= 500:
		return ClassRetryable
	case resp.Status == http.StatusConflict:
		return ClassConflict
	case resp.Status == http.StatusForbidden:
		return ClassForbidden
	case resp.Status == http.StatusBadRequest:
		return ClassBadRequest
	default:
		return ClassClientError
	}
}

// IsNoResponse reports whether err means the request produced no response.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}

type channelResponse struct {
	ChannelID string `json:"channel_id"`
}

// ParseChannelResponse extracts the channel id from a create response body.
func ParseChannelResponse(body []byte) (string, error) {
	var resp channelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding channel response: %w", err)
	}
	if resp.ChannelID == "" {
		return "", errors.New("channel response missing channel_id")
	}
	return resp.ChannelID, nil
}

type tagResponse struct {
	Warnings []string `json:"warnings"`
	Error    string   `json:"error"`
}

// ParseTagResponseIssues returns the warnings and error message reported in a
// tag group response body. Unparseable bodies report nothing.
func ParseTagResponseIssues(body []byte) ([]string, string) {
	if len(body) == 0 {
		return nil, ""
	}
	var resp tagResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ""
	}
	return resp.Warnings, resp.Error
}
