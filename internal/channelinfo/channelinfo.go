// Package channelinfo validates and normalizes user-supplied channel
// configuration into an immutable model.ChannelInfo (spec C1).
package channelinfo

import (
	"fmt"
	"strings"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

// Raw is the user-supplied, unvalidated channel configuration.
type Raw struct {
	ChannelName   string
	ChannelArn    string
	Region        string
	Role          model.ChannelRole
	MessageTTL    time.Duration
	Tags          []model.Tag
	Retry         bool
	MaxRetryCount int
	Reconnect     bool
	CachePolicy   bool
	AsyncIce      bool
	// ControlPlaneURL overrides the derived control-plane URL, if set.
	ControlPlaneURL string
}

// Validate normalizes raw into an immutable ChannelInfo, clamping TTL to
// [5s, 120s] and rejecting invalid tag counts/lengths. At least one of
// ChannelName or ChannelArn must be present; both may be set.
func Validate(raw Raw) (*model.ChannelInfo, error) {
	if raw.ChannelName == "" && raw.ChannelArn == "" {
		return nil, model.NewError(model.ErrInvalidArg, "channel name or channel ARN is required")
	}
	if len(raw.ChannelName) > model.MaxChannelNameLen {
		return nil, model.NewError(model.ErrInvalidArg, fmt.Sprintf("channel name exceeds %d chars", model.MaxChannelNameLen))
	}
	if len(raw.ChannelArn) > model.MaxChannelArnLen {
		return nil, model.NewError(model.ErrInvalidArg, fmt.Sprintf("channel ARN exceeds %d chars", model.MaxChannelArnLen))
	}
	if len(raw.Tags) > model.MaxTagCount {
		return nil, model.NewError(model.ErrTagLimit, fmt.Sprintf("tag count %d exceeds max %d", len(raw.Tags), model.MaxTagCount))
	}
	for _, t := range raw.Tags {
		if len(t.Name) > model.MaxTagNameLen {
			return nil, model.NewError(model.ErrTagLimit, fmt.Sprintf("tag name %q exceeds %d chars", t.Name, model.MaxTagNameLen))
		}
		if len(t.Value) > model.MaxTagValueLen {
			return nil, model.NewError(model.ErrTagLimit, fmt.Sprintf("tag value for %q exceeds %d chars", t.Name, model.MaxTagValueLen))
		}
	}

	region := strings.ToLower(strings.TrimSpace(raw.Region))
	if region == "" {
		return nil, model.NewError(model.ErrInvalidArg, "region is required")
	}

	ttl := clampTTL(raw.MessageTTL)

	cpURL := raw.ControlPlaneURL
	if cpURL == "" {
		cpURL = fmt.Sprintf("https://kinesisvideo.%s.amazonaws.com", region)
	}

	return &model.ChannelInfo{
		ChannelName:     raw.ChannelName,
		ChannelArn:      raw.ChannelArn,
		Region:          region,
		Role:            raw.Role,
		ChannelType:     model.ChannelTypeSingleMaster,
		MessageTTL:      ttl,
		Tags:            append([]model.Tag(nil), raw.Tags...),
		Retry:           raw.Retry,
		MaxRetryCount:   raw.MaxRetryCount,
		Reconnect:       raw.Reconnect,
		CachePolicy:     raw.CachePolicy,
		AsyncIce:        raw.AsyncIce,
		ControlPlaneURL: cpURL,
	}, nil
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < model.MinMessageTTL {
		return model.MinMessageTTL
	}
	if ttl > model.MaxMessageTTL {
		return model.MaxMessageTTL
	}
	return ttl
}
