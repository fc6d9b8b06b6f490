// Package channel registers this install as a channel with the backend and
// keeps the server-side record current.
package channel

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// DeviceType is the platform a channel is registered for.
type DeviceType string

const (
	DeviceAndroid DeviceType = "android"
	DeviceAmazon  DeviceType = "amazon"
)

// Valid reports whether d is a known device type.
func (d DeviceType) Valid() bool {
	return d == DeviceAndroid || d == DeviceAmazon
}

// DeviceAttributes are the static facts about the device.
type DeviceAttributes struct {
	DeviceType DeviceType
	Timezone   string
	Language   string
	Country    string
}

// Preferences are the user-controlled inputs to registration.
type Preferences struct {
	PushEnabled              bool
	UserNotificationsEnabled bool
	PushToken                string
	Alias                    string
	Tags                     []string

	ChannelTagRegistrationEnabled bool
	PushTokenRegistrationEnabled  bool
	AnalyticsEnabled              bool
	ChannelCreationDelayEnabled   bool

	UserID string
	APID   string
}

// Payload is the body of a channel create or update request.
type Payload struct {
	OptIn             bool
	BackgroundEnabled bool
	DeviceType        DeviceType
	PushAddress       string
	Alias             string
	SetTags           bool
	Tags              []string
	Timezone          string
	Language          string
	Country           string
	UserID            string
	APID              string
}

// BuildPayload derives the registration payload from device attributes and
// preferences.
func BuildPayload(device DeviceAttributes, prefs Preferences) Payload {
	hasToken := prefs.PushToken != ""

	p := Payload{
		OptIn:             prefs.PushEnabled && prefs.UserNotificationsEnabled && hasToken,
		BackgroundEnabled: prefs.PushEnabled && hasToken,
		DeviceType:        device.DeviceType,
		Alias:             strings.TrimSpace(prefs.Alias),
		UserID:            prefs.UserID,
		APID:              prefs.APID,
	}

	if prefs.PushTokenRegistrationEnabled {
		p.PushAddress = prefs.PushToken
	}

	if prefs.ChannelTagRegistrationEnabled {
		p.SetTags = true
		p.Tags = sortedUnique(prefs.Tags)
	}

	if prefs.AnalyticsEnabled {
		p.Timezone = device.Timezone
		p.Language = device.Language
		p.Country = device.Country
	}

	return p
}

func sortedUnique(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Equal reports structural equality. Tag order is ignored.
func (p Payload) Equal(other Payload) bool {
	return p.OptIn == other.OptIn &&
		p.BackgroundEnabled == other.BackgroundEnabled &&
		p.DeviceType == other.DeviceType &&
		p.PushAddress == other.PushAddress &&
		p.Alias == other.Alias &&
		p.SetTags == other.SetTags &&
		p.Timezone == other.Timezone &&
		p.Language == other.Language &&
		p.Country == other.Country &&
		p.UserID == other.UserID &&
		p.APID == other.APID &&
		slices.Equal(sortedUnique(p.Tags), sortedUnique(other.Tags))
}

type payloadJSON struct {
	Channel       channelJSON        `json:"channel"`
	IdentityHints *identityHintsJSON `json:"identity_hints,omitempty"`
}

type channelJSON struct {
	DeviceType  DeviceType `json:"device_type"`
	OptIn       bool       `json:"opt_in"`
	Background  bool       `json:"background"`
	PushAddress string     `json:"push_address,omitempty"`
	Alias       string     `json:"alias,omitempty"`
	SetTags     bool       `json:"set_tags"`
	Tags        *[]string  `json:"tags,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	Language    string     `json:"locale_language,omitempty"`
	Country     string     `json:"locale_country,omitempty"`
}

type identityHintsJSON struct {
	UserID string `json:"user_id,omitempty"`
	APID   string `json:"apid,omitempty"`
}

// MarshalJSON encodes the payload in its wire form.
func (p Payload) MarshalJSON() ([]byte, error) {
	wire := payloadJSON{
		Channel: channelJSON{
			DeviceType:  p.DeviceType,
			OptIn:       p.OptIn,
			Background:  p.BackgroundEnabled,
			PushAddress: p.PushAddress,
			Alias:       p.Alias,
			SetTags:     p.SetTags,
			Timezone:    p.Timezone,
			Language:    p.Language,
			Country:     p.Country,
		},
	}
	if p.SetTags {
		tags := sortedUnique(p.Tags)
		wire.Channel.Tags = &tags
	}
	if p.UserID != "" || p.APID != "" {
		wire.IdentityHints = &identityHintsJSON{UserID: p.UserID, APID: p.APID}
	}
	return json.Marshal(wire)
}

// ParsePayload decodes a payload from its wire form.
func ParsePayload(data []byte) (Payload, error) {
	var wire payloadJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return Payload{}, fmt.Errorf("decoding payload: %w", err)
	}

	p := Payload{
		OptIn:             wire.Channel.OptIn,
		BackgroundEnabled: wire.Channel.Background,
		DeviceType:        wire.Channel.DeviceType,
		PushAddress:       wire.Channel.PushAddress,
		Alias:             wire.Channel.Alias,
		SetTags:           wire.Channel.SetTags,
		Timezone:          wire.Channel.Timezone,
		Language:          wire.Channel.Language,
		Country:           wire.Channel.Country,
	}
	if wire.Channel.Tags != nil {
		p.Tags = *wire.Channel.Tags
	}
	if wire.IdentityHints != nil {
		p.UserID = wire.IdentityHints.UserID
		p.APID = wire.IdentityHints.APID
	}
	return p, nil
}
