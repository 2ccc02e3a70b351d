package restapi

import (
	"context"
	"encoding/json"

	"github.com/kvs-signaling/core/internal/model"
)

type channelArnRequest struct {
	ChannelARN string `json:"ChannelARN"`
}

// MediaStorageConfiguration mirrors the subset of fields this core cares
// about from DescribeMediaStorageConfiguration.
type MediaStorageConfiguration struct {
	Status               string
	StreamARN            string
}

type describeMediaStorageConfResponse struct {
	MediaStorageConfiguration struct {
		Status    string `json:"Status"`
		StreamARN string `json:"StreamARN"`
	} `json:"MediaStorageConfiguration"`
}

// DescribeMediaStorageConf fetches the channel's media-storage
// configuration (spec §4.5: "simple POST with an ARN body").
func (c *Client) DescribeMediaStorageConf(ctx context.Context, controlPlaneURL, channelArn string) (MediaStorageConfiguration, error) {
	body, err := json.Marshal(channelArnRequest{ChannelARN: channelArn})
	if err != nil {
		return MediaStorageConfiguration{}, model.WrapError(model.ErrInternalError, "failed to marshal DescribeMediaStorageConfiguration request", err)
	}
	respBody, err := c.call(ctx, model.StateReady, controlPlaneURL, postfixDescribeMediaConf, body)
	if err != nil {
		return MediaStorageConfiguration{}, err
	}
	var resp describeMediaStorageConfResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return MediaStorageConfiguration{}, model.WrapError(model.ErrInvalidApiReturn, "failed to parse DescribeMediaStorageConfiguration response", err)
	}
	return MediaStorageConfiguration{
		Status:    resp.MediaStorageConfiguration.Status,
		StreamARN: resp.MediaStorageConfiguration.StreamARN,
	}, nil
}

type updateMediaStorageConfRequest struct {
	ChannelARN                string `json:"ChannelARN"`
	MediaStorageConfiguration struct {
		Status    string `json:"Status"`
		StreamARN string `json:"StreamARN"`
	} `json:"MediaStorageConfiguration"`
}

// UpdateMediaStorageConf updates the channel's media-storage configuration.
func (c *Client) UpdateMediaStorageConf(ctx context.Context, controlPlaneURL, channelArn string, conf MediaStorageConfiguration) error {
	req := updateMediaStorageConfRequest{ChannelARN: channelArn}
	req.MediaStorageConfiguration.Status = conf.Status
	req.MediaStorageConfiguration.StreamARN = conf.StreamARN
	body, err := json.Marshal(req)
	if err != nil {
		return model.WrapError(model.ErrInternalError, "failed to marshal UpdateMediaStorageConfiguration request", err)
	}
	_, err = c.call(ctx, model.StateReady, controlPlaneURL, postfixUpdateMediaConf, body)
	return err
}

// JoinStorageSession joins the ingest media-storage session for the
// channel, used by the master role to enable cloud recording.
func (c *Client) JoinStorageSession(ctx context.Context, controlPlaneURL, channelArn string) error {
	body, err := json.Marshal(channelArnRequest{ChannelARN: channelArn})
	if err != nil {
		return model.WrapError(model.ErrInternalError, "failed to marshal JoinStorageSession request", err)
	}
	_, err = c.call(ctx, model.StateReady, controlPlaneURL, postfixJoinStorageSession, body)
	return err
}
