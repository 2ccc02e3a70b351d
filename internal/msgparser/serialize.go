package msgparser

import (
	"encoding/base64"
	"encoding/json"

	"github.com/kvs-signaling/core/internal/model"
)

type wireOutboundIceServer struct {
	Username string   `json:"Username"`
	Password string   `json:"Password"`
	Ttl      int64    `json:"Ttl"`
	Uris     []string `json:"Uris"`
}

type wireOutboundMessage struct {
	Action            string                  `json:"action"`
	RecipientClientID string                  `json:"RecipientClientId,omitempty"`
	MessagePayload    string                  `json:"MessagePayload"`
	CorrelationID     string                  `json:"CorrelationId,omitempty"`
	IceServerList     []wireOutboundIceServer `json:"IceServerList,omitempty"`
}

// Serialize encodes an outbound SignalingMessage into the wire JSON form
// documented in spec §6, base64-encoding the payload and omitting fields
// the message doesn't carry.
func Serialize(msg model.SignalingMessage) ([]byte, error) {
	out := wireOutboundMessage{
		Action:            msg.MessageType.WireAction(),
		RecipientClientID: msg.RecipientID,
		MessagePayload:    base64.StdEncoding.EncodeToString(msg.Payload),
		CorrelationID:     msg.CorrelationID,
	}
	if len(msg.IceServerList) > 0 {
		out.IceServerList = make([]wireOutboundIceServer, 0, len(msg.IceServerList))
		for _, s := range msg.IceServerList {
			out.IceServerList = append(out.IceServerList, wireOutboundIceServer{
				Username: s.Username,
				Password: s.Password,
				Ttl:      int64(s.TTL.Seconds()),
				Uris:     s.Uris,
			})
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, model.WrapError(model.ErrInternalError, "failed to serialize outbound signaling message", err)
	}
	return b, nil
}
