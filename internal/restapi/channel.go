package restapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

type singleMasterConfig struct {
	MessageTtlSeconds int64 `json:"MessageTtlSeconds"`
}

type wireTag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

type describeChannelRequest struct {
	ChannelName string `json:"ChannelName,omitempty"`
	ChannelARN  string `json:"ChannelARN,omitempty"`
}

type describeChannelResponse struct {
	ChannelInfo struct {
		ChannelARN          string              `json:"ChannelARN"`
		ChannelName         string              `json:"ChannelName"`
		ChannelStatus       string              `json:"ChannelStatus"`
		ChannelType         string              `json:"ChannelType"`
		Version             string              `json:"Version"`
		SingleMasterConfig  singleMasterConfig  `json:"SingleMasterConfiguration"`
	} `json:"ChannelInfo"`
}

// DescribeChannel resolves the channel's ARN, status, and TTL from either a
// name or an existing ARN (spec §4.5).
func (c *Client) DescribeChannel(ctx context.Context, controlPlaneURL string, info model.ChannelInfo) (model.SignalingChannelDescription, error) {
	req := describeChannelRequest{ChannelName: info.ChannelName, ChannelARN: info.ChannelArn}
	body, err := json.Marshal(req)
	if err != nil {
		return model.SignalingChannelDescription{}, model.WrapError(model.ErrInternalError, "failed to marshal DescribeSignalingChannel request", err)
	}

	respBody, err := c.call(ctx, model.StateDescribe, controlPlaneURL, postfixDescribeChannel, body)
	if err != nil {
		return model.SignalingChannelDescription{}, err
	}

	var resp describeChannelResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return model.SignalingChannelDescription{}, model.WrapError(model.ErrInvalidApiReturn, "failed to parse DescribeSignalingChannel response", err)
	}

	desc := model.SignalingChannelDescription{
		ChannelArn:    resp.ChannelInfo.ChannelARN,
		ChannelName:   resp.ChannelInfo.ChannelName,
		UpdateVersion: resp.ChannelInfo.Version,
		ChannelStatus: model.ParseChannelStatus(resp.ChannelInfo.ChannelStatus),
		ChannelType:   model.ChannelTypeSingleMaster,
		MessageTTL:    time.Duration(resp.ChannelInfo.SingleMasterConfig.MessageTtlSeconds) * time.Second,
	}
	if desc.ChannelStatus == model.ChannelStatusDeleting {
		return desc, model.NewError(model.ErrChannelBeingDeleted, "channel is being deleted: "+desc.ChannelArn)
	}
	return desc, nil
}

type createChannelRequest struct {
	ChannelName        string             `json:"ChannelName"`
	ChannelType        string             `json:"ChannelType"`
	SingleMasterConfig singleMasterConfig `json:"SingleMasterConfiguration"`
	Tags               []wireTag          `json:"Tags,omitempty"`
}

type createChannelResponse struct {
	ChannelARN string `json:"ChannelARN"`
}

// CreateChannel creates a new single-master signaling channel and returns
// its ARN (spec §4.5).
func (c *Client) CreateChannel(ctx context.Context, controlPlaneURL string, info model.ChannelInfo) (string, error) {
	tags := make([]wireTag, 0, len(info.Tags))
	for _, t := range info.Tags {
		tags = append(tags, wireTag{Key: t.Name, Value: t.Value})
	}
	req := createChannelRequest{
		ChannelName:        info.ChannelName,
		ChannelType:        "SINGLE_MASTER",
		SingleMasterConfig: singleMasterConfig{MessageTtlSeconds: int64(info.MessageTTL.Seconds())},
		Tags:               tags,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", model.WrapError(model.ErrInternalError, "failed to marshal CreateSignalingChannel request", err)
	}

	respBody, err := c.call(ctx, model.StateCreate, controlPlaneURL, postfixCreateChannel, body)
	if err != nil {
		return "", err
	}

	var resp createChannelResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", model.WrapError(model.ErrInvalidApiReturn, "failed to parse CreateSignalingChannel response", err)
	}
	if resp.ChannelARN == "" {
		return "", model.NewError(model.ErrNoArnReturned, "CreateSignalingChannel returned no ARN")
	}
	return resp.ChannelARN, nil
}

type deleteChannelRequest struct {
	ChannelARN     string `json:"ChannelARN"`
	CurrentVersion string `json:"CurrentVersion,omitempty"`
}

// DeleteChannel deletes the signaling channel (spec §4.5).
func (c *Client) DeleteChannel(ctx context.Context, controlPlaneURL, channelArn, currentVersion string) error {
	body, err := json.Marshal(deleteChannelRequest{ChannelARN: channelArn, CurrentVersion: currentVersion})
	if err != nil {
		return model.WrapError(model.ErrInternalError, "failed to marshal DeleteSignalingChannel request", err)
	}
	_, err = c.call(ctx, model.StateDelete, controlPlaneURL, postfixDeleteChannel, body)
	return err
}
