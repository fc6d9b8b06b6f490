// Package backend is the HTTP client for the channel registration API.
//
// Every operation performs exactly one round trip. HTTP-level failures are
// returned as a Response; a non-nil error always means no response was
// received and wraps ErrNoResponse.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/resilience"
	"github.com/pushlane/pushlane/internal/tags"
)

const (
	// ClientName identifies the backend in the health registry.
	ClientName = "registration-backend"

	// DefaultBaseURL is the device API base URL.
	DefaultBaseURL = "https://device-api.urbanairship.com"

	// DefaultVendor is the vendor in the Accept media type.
	DefaultVendor = "urbanairship"

	maxBodyBytes = 1 << 20
)

const (
	channelsPath      = "/api/channels/"
	associatePath     = "/api/named_users/associate/"
	disassociatePath  = "/api/named_users/disassociate/"
	channelTagsPath   = "/api/channels/tags/"
	namedUserTagsPath = "/api/named_users/tags/"
)

// ErrNoResponse means the request never produced an HTTP response.
var ErrNoResponse = errors.New("no response from backend")

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional).
	BaseURL string

	// AppKey and AppSecret are the basic auth credentials (required).
	AppKey    string
	AppSecret string

	// Vendor is used in the Accept header (optional).
	Vendor string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	Logger zerolog.Logger
}

// Client talks to the registration backend.
type Client struct {
	baseURL    string
	appKey     string
	appSecret  string
	accept     string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new backend client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	vendor := cfg.Vendor
	if vendor == "" {
		vendor = DefaultVendor
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ClientName))
	}

	return &Client{
		baseURL:    baseURL,
		appKey:     cfg.AppKey,
		appSecret:  cfg.AppSecret,
		accept:     fmt.Sprintf("application/vnd.%s+json; version=3;", vendor),
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("component", "backend").Logger(),
	}
}

// CreateChannel registers a new channel.
func (c *Client) CreateChannel(ctx context.Context, payload json.Marshaler) (*Response, error) {
	return c.send(ctx, http.MethodPost, c.baseURL+channelsPath, payload)
}

// UpdateChannel updates the channel at location.
func (c *Client) UpdateChannel(ctx context.Context, location string, payload json.Marshaler) (*Response, error) {
	u, err := url.Parse(location)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("%w: invalid channel location %q", ErrNoResponse, location)
	}
	return c.send(ctx, http.MethodPut, u.String(), payload)
}

type associateRequest struct {
	ChannelID   string `json:"channel_id"`
	DeviceType  string `json:"device_type"`
	NamedUserID string `json:"named_user_id,omitempty"`
}

// AssociateNamedUser associates channelID with the named user id.
func (c *Client) AssociateNamedUser(ctx context.Context, id, channelID, deviceType string) (*Response, error) {
	return c.send(ctx, http.MethodPost, c.baseURL+associatePath, associateRequest{
		ChannelID:   channelID,
		DeviceType:  deviceType,
		NamedUserID: id,
	})
}

// DisassociateNamedUser removes any named user from channelID.
func (c *Client) DisassociateNamedUser(ctx context.Context, channelID, deviceType string) (*Response, error) {
	return c.send(ctx, http.MethodPost, c.baseURL+disassociatePath, associateRequest{
		ChannelID:  channelID,
		DeviceType: deviceType,
	})
}

type tagGroupsRequest struct {
	Audience map[string]string `json:"audience"`
	Add      tags.GroupTags    `json:"add,omitempty"`
	Remove   tags.GroupTags    `json:"remove,omitempty"`
	Set      tags.GroupTags    `json:"set,omitempty"`
}

// UpdateTagGroups sends one tag group mutation for audience.
func (c *Client) UpdateTagGroups(ctx context.Context, audience Audience, m tags.Mutation) (*Response, error) {
	path := channelTagsPath
	if audience.Selector == SelectorNamedUser {
		path = namedUserTagsPath
	}

	return c.send(ctx, http.MethodPost, c.baseURL+path, tagGroupsRequest{
		Audience: map[string]string{audience.Selector: audience.ID},
		Add:      m.Add,
		Remove:   m.Remove,
		Set:      m.Set,
	})
}

func (c *Client) send(ctx context.Context, method, target string, body any) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrNoResponse, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrNoResponse, err)
	}

	req.SetBasicAuth(c.appKey, c.appSecret)
	req.Header.Set("Accept", c.accept)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("url", target).Msg("backend request failed")
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrNoResponse, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request completed")

	return &Response{
		Status: resp.StatusCode,
		Body:   respBody,
		Header: resp.Header,
	}, nil
}
