package restapi

import (
	"context"
	"encoding/json"

	"github.com/kvs-signaling/core/internal/model"
)

type singleMasterEndpointConfig struct {
	Protocols []string `json:"Protocols"`
	Role      string   `json:"Role"`
}

type getEndpointRequest struct {
	ChannelARN                              string                     `json:"ChannelARN"`
	SingleMasterChannelEndpointConfiguration singleMasterEndpointConfig `json:"SingleMasterChannelEndpointConfiguration"`
}

type resourceEndpoint struct {
	Protocol         string `json:"Protocol"`
	ResourceEndpoint string `json:"ResourceEndpoint"`
}

type getEndpointResponse struct {
	ResourceEndpointList []resourceEndpoint `json:"ResourceEndpointList"`
}

// GetEndpoint resolves the channel's HTTPS/WSS (and optional WEBRTC)
// service endpoints for the given role (spec §4.5).
func (c *Client) GetEndpoint(ctx context.Context, controlPlaneURL, channelArn string, role model.ChannelRole) (model.Endpoints, error) {
	req := getEndpointRequest{
		ChannelARN: channelArn,
		SingleMasterChannelEndpointConfiguration: singleMasterEndpointConfig{
			Protocols: []string{"WSS", "HTTPS", "WEBRTC"},
			Role:      role.String(),
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return model.Endpoints{}, model.WrapError(model.ErrInternalError, "failed to marshal GetSignalingChannelEndpoint request", err)
	}

	respBody, err := c.call(ctx, model.StateGetEndpoint, controlPlaneURL, postfixGetEndpoint, body)
	if err != nil {
		return model.Endpoints{}, err
	}

	var resp getEndpointResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return model.Endpoints{}, model.WrapError(model.ErrInvalidApiReturn, "failed to parse GetSignalingChannelEndpoint response", err)
	}

	var eps model.Endpoints
	for _, e := range resp.ResourceEndpointList {
		switch e.Protocol {
		case "HTTPS":
			eps.HTTPS = e.ResourceEndpoint
		case "WSS":
			eps.WSS = e.ResourceEndpoint
		case "WEBRTC":
			eps.WebRTC = e.ResourceEndpoint
		}
	}
	if eps.HTTPS == "" || eps.WSS == "" {
		return model.Endpoints{}, model.NewError(model.ErrMissingEndpoints, "GetSignalingChannelEndpoint did not return both HTTPS and WSS endpoints")
	}
	return eps, nil
}
