package restapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

type getIceConfigRequest struct {
	ChannelARN string `json:"ChannelARN"`
	ClientID   string `json:"ClientId,omitempty"`
}

type wireIceServerConfig struct {
	Uris     []string `json:"Uris"`
	Username string   `json:"Username"`
	Password string   `json:"Password"`
	TTL      int64    `json:"Ttl"`
}

type getIceConfigResponse struct {
	IceServerList []wireIceServerConfig `json:"IceServerList"`
}

// GetIceConfig fetches up to MAX_ICE_CONFIG_COUNT TURN/STUN server
// descriptions for the channel (spec §4.5). Each entry is validated;
// invalid entries are skipped rather than failing the whole call, since a
// transient or partially malformed ICE refresh should not fail the
// overall state step.
func (c *Client) GetIceConfig(ctx context.Context, controlPlaneURL, channelArn, clientID string) ([]model.IceConfigInfo, error) {
	body, err := json.Marshal(getIceConfigRequest{ChannelARN: channelArn, ClientID: clientID})
	if err != nil {
		return nil, model.WrapError(model.ErrInternalError, "failed to marshal GetIceServerConfig request", err)
	}

	respBody, err := c.call(ctx, model.StateGetIceConfig, controlPlaneURL, postfixGetIceConfig, body)
	if err != nil {
		return nil, err
	}

	var resp getIceConfigResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, model.WrapError(model.ErrInvalidApiReturn, "failed to parse GetIceServerConfig response", err)
	}

	now := c.now()
	configs := make([]model.IceConfigInfo, 0, model.MaxIceConfigCount)
	for _, s := range resp.IceServerList {
		if len(configs) >= model.MaxIceConfigCount {
			log.Warn("GetIceServerConfig returned more servers than MAX_ICE_CONFIG_COUNT, dropping the rest")
			break
		}
		if len(s.Uris) == 0 || s.TTL <= 0 {
			log.Warn("skipping invalid ICE server entry", "uris", len(s.Uris), "ttl", s.TTL)
			continue
		}
		uris := s.Uris
		if len(uris) > model.MaxIceUriCount {
			uris = uris[:model.MaxIceUriCount]
		}
		configs = append(configs, model.IceConfigInfo{
			Username:  s.Username,
			Password:  s.Password,
			TTL:       time.Duration(s.TTL) * time.Second,
			Uris:      uris,
			FetchedAt: now,
		})
	}
	return configs, nil
}
