// Package worker receives remote fleet triggers and turns them into agent jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pushlane/pushlane/internal/job"
	"github.com/pushlane/pushlane/internal/nameduser"
)

// JobSetNamedUser changes the named user instead of dispatching a job.
const JobSetNamedUser = "set_named_user"

// Outcome tells the transport whether to acknowledge a trigger.
type Outcome int

const (
	// Ack drops the trigger.
	Ack Outcome = iota
	// Nack asks for redelivery.
	Nack
)

// TriggerMessage is the JSON body of a remote trigger.
type TriggerMessage struct {
	JobType string `json:"job_type"`

	// ChannelID limits the trigger to one channel. Empty targets every agent.
	ChannelID string `json:"channel_id,omitempty"`

	// NamedUserID is used by set_named_user. Empty clears the named user.
	NamedUserID string `json:"named_user_id,omitempty"`
}

// ChannelSource reports this agent's channel ID.
type ChannelSource interface {
	ChannelID(ctx context.Context) (string, error)
}

// NamedUserSetter changes the named user.
type NamedUserSetter interface {
	SetID(ctx context.Context, id string) error
}

// TriggersConfig holds the dependencies of Triggers.
type TriggersConfig struct {
	Dispatcher job.Dispatcher
	Channel    ChannelSource
	NamedUser  NamedUserSetter
	Logger     zerolog.Logger
}

// Triggers maps trigger messages onto jobs.
type Triggers struct {
	dispatcher job.Dispatcher
	channel    ChannelSource
	namedUser  NamedUserSetter
	logger     zerolog.Logger
}

// NewTriggers creates a trigger processor.
func NewTriggers(cfg TriggersConfig) *Triggers {
	return &Triggers{
		dispatcher: cfg.Dispatcher,
		channel:    cfg.Channel,
		namedUser:  cfg.NamedUser,
		logger:     cfg.Logger.With().Str("component", "triggers").Logger(),
	}
}

var dispatchable = map[string]bool{
	job.ActionStartRegistration:         true,
	job.ActionUpdatePushRegistration:    true,
	job.ActionUpdateChannelRegistration: true,
	job.ActionUpdateChannelTags:         true,
	job.ActionUpdateNamedUser:           true,
	job.ActionUpdateNamedUserTags:       true,
}

// Process handles one trigger body. Malformed, unknown and mistargeted
// triggers are acknowledged since redelivery cannot fix them.
func (t *Triggers) Process(ctx context.Context, data []byte) Outcome {
	var msg TriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Error().Err(err).Msg("dropping malformed trigger")
		return Ack
	}
	jobType := strings.TrimSpace(msg.JobType)
	logger := t.logger.With().Str("job_type", jobType).Logger()

	if msg.ChannelID != "" {
		id, err := t.channel.ChannelID(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to read channel id")
			return Nack
		}
		if id != msg.ChannelID {
			logger.Debug().Str("target", msg.ChannelID).Msg("trigger targets another channel")
			return Ack
		}
	}

	switch {
	case dispatchable[jobType]:
		t.dispatcher.Dispatch(job.New(jobType))
	case jobType == JobSetNamedUser:
		if err := t.namedUser.SetID(ctx, msg.NamedUserID); err != nil {
			if errors.Is(err, nameduser.ErrInvalidID) {
				logger.Warn().Err(err).Msg("dropping trigger with invalid named user")
				return Ack
			}
			logger.Error().Err(err).Msg("failed to set named user")
			return Nack
		}
	default:
		logger.Warn().Msg("unknown job type")
		return Ack
	}

	logger.Info().Msg("trigger accepted")
	return Ack
}
