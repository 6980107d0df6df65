// Package models defines the core data structures for GrowthGovernor.
//
// It includes quota action types, outreach channels and queue items, and the
// JSON envelope shared by the HTTP API.
package models

import (
	"errors"
	"strings"
	"time"
)

// ActionType is a category of automated outbound action with its own daily ceiling.
type ActionType string

const (
	// ActionProfileVisit is a visit to a prospect's profile page.
	ActionProfileVisit ActionType = "profile_visit"
	// ActionConnectionRequest is a connection/invite request on the professional network.
	ActionConnectionRequest ActionType = "connection_request"
	// ActionMessage is any direct message to a prospect.
	ActionMessage ActionType = "message"
	// ActionHighValueOutreach covers scarce actions such as paid inmail credits.
	ActionHighValueOutreach ActionType = "high_value_outreach"
)

// AllActionTypes lists action types in display order.
var AllActionTypes = []ActionType{
	ActionProfileVisit,
	ActionConnectionRequest,
	ActionMessage,
	ActionHighValueOutreach,
}

// IsValidActionType checks if the given action type is known.
func IsValidActionType(at ActionType) bool {
	for _, known := range AllActionTypes {
		if at == known {
			return true
		}
	}
	return false
}

// Channel is the delivery medium for a queued outreach item.
type Channel string

const (
	ChannelNetworkConnection Channel = "network_connection"
	ChannelNetworkMessage    Channel = "network_message"
	ChannelNetworkInMail     Channel = "network_inmail"
	ChannelEmail             Channel = "email"
	ChannelSocialDMX         Channel = "social_dm_x"
	ChannelSocialDMInstagram Channel = "social_dm_instagram"
)

// AllChannels lists every supported delivery channel.
var AllChannels = []Channel{
	ChannelNetworkConnection,
	ChannelNetworkMessage,
	ChannelNetworkInMail,
	ChannelEmail,
	ChannelSocialDMX,
	ChannelSocialDMInstagram,
}

// IsValidChannel checks if the given channel is supported.
func IsValidChannel(c Channel) bool {
	for _, known := range AllChannels {
		if c == known {
			return true
		}
	}
	return false
}

// ActionType returns the quota bucket a send over this channel consumes.
func (c Channel) ActionType() ActionType {
	switch c {
	case ChannelNetworkConnection:
		return ActionConnectionRequest
	case ChannelNetworkInMail:
		return ActionHighValueOutreach
	default:
		return ActionMessage
	}
}

// OutreachStatus represents the lifecycle state of an outreach item.
type OutreachStatus string

const (
	OutreachStatusQueued    OutreachStatus = "queued"
	OutreachStatusSent      OutreachStatus = "sent"
	OutreachStatusResponded OutreachStatus = "responded"
	OutreachStatusFailed    OutreachStatus = "failed"
	OutreachStatusCancelled OutreachStatus = "cancelled"
)

// IsValidOutreachStatus checks if the given status is part of the state machine.
func IsValidOutreachStatus(s OutreachStatus) bool {
	switch s {
	case OutreachStatusQueued, OutreachStatusSent, OutreachStatusResponded,
		OutreachStatusFailed, OutreachStatusCancelled:
		return true
	default:
		return false
	}
}

// Validation constants for input validation
const (
	// MaxOutreachBodyLength defines the maximum allowed length for an outreach body.
	MaxOutreachBodyLength = 8000
	// MaxSubjectLength defines the maximum allowed length for an email/inmail subject.
	MaxSubjectLength = 300
	// MaxProspectNameLength defines the maximum allowed length for a prospect name.
	MaxProspectNameLength = 200
)

var (
	ErrEmptyContext      = errors.New("context cannot be empty")
	ErrInvalidChannel    = errors.New("invalid outreach channel")
	ErrEmptyProspectName = errors.New("prospect name is required")
	ErrProspectNameLong  = errors.New("prospect name exceeds maximum length")
	ErrEmptyBody         = errors.New("body is required")
	ErrBodyTooLong       = errors.New("body exceeds maximum length")
	ErrSubjectTooLong    = errors.New("subject exceeds maximum length")
)

// OutreachItem is the durable record of one outbound message.
type OutreachItem struct {
	ID                 string         `json:"id"`
	Context            string         `json:"context"`
	Channel            Channel        `json:"channel"`
	ProspectID         string         `json:"prospect_id,omitempty"`
	ProspectName       string         `json:"prospect_name"`
	ProspectProfileURL string         `json:"prospect_profile_url,omitempty"`
	Subject            string         `json:"subject,omitempty"`
	Body               string         `json:"body"`
	ScheduledFor       *time.Time     `json:"scheduled_for,omitempty"`
	Status             OutreachStatus `json:"status"`
	SentAt             *time.Time     `json:"sent_at,omitempty"`
	ResponseAt         *time.Time     `json:"response_at,omitempty"`
	ResponseText       string         `json:"response_text,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Validate checks the fields required before an item may be queued.
func (o *OutreachItem) Validate() error {
	if o.Context == "" {
		return ErrEmptyContext
	}
	if !IsValidChannel(o.Channel) {
		return ErrInvalidChannel
	}
	if o.ProspectName == "" {
		return ErrEmptyProspectName
	}
	if len(o.ProspectName) > MaxProspectNameLength {
		return ErrProspectNameLong
	}
	if strings.TrimSpace(o.Body) == "" {
		return ErrEmptyBody
	}
	if len(o.Body) > MaxOutreachBodyLength {
		return ErrBodyTooLong
	}
	if len(o.Subject) > MaxSubjectLength {
		return ErrSubjectTooLong
	}
	return nil
}

// DailyLimitResult is the outcome of an admission check.
type DailyLimitResult struct {
	ActionType ActionType `json:"action_type"`
	Allowed    bool       `json:"allowed"`
	Current    int        `json:"current"`
	Limit      int        `json:"limit"`
	Remaining  int        `json:"remaining"`
}

// LimitSummary is one dashboard row of quota usage for a context.
type LimitSummary struct {
	ActionType     ActionType `json:"action_type"`
	Current        int        `json:"current"`
	Limit          int        `json:"limit"`
	Remaining      int        `json:"remaining"`
	PercentageUsed int        `json:"percentage_used"`
}

// OutreachStats aggregates outreach outcomes for a context over a date range.
type OutreachStats struct {
	Total        int     `json:"total"`
	Queued       int     `json:"queued"`
	Sent         int     `json:"sent"`
	Responded    int     `json:"responded"`
	Failed       int     `json:"failed"`
	Cancelled    int     `json:"cancelled"`
	ResponseRate float64 `json:"response_rate"`
}

// ProspectResponse is a reply reported by an actuator for a previously sent item.
type ProspectResponse struct {
	OutreachID string    `json:"outreach_id"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
}
