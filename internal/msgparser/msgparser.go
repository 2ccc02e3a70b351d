// Package msgparser decodes a reassembled UTF-8 JSON frame from the WSS
// connection into a model.ReceivedSignalingMessage (spec C4), grounded in
// original_source/src/source/Signaling/LwsApiCalls.h's message-dispatch
// parsing.
package msgparser

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

// MaxJSONDepth bounds nested-object/array depth during decode (spec §3:
// "inbound JSON tokens <= fixed cap (parser rejects deeper)"). Enforced by
// checkDepth before the structured decode below.
const MaxJSONDepth = 16

type wireIceServer struct {
	Username string   `json:"Username"`
	Password string   `json:"Password"`
	Ttl      int64    `json:"Ttl"`
	Uris     []string `json:"Uris"`
}

type wireStatusResponse struct {
	CorrelationID string `json:"correlationId"`
	ErrorType     string `json:"errorType"`
	StatusCode    string `json:"statusCode"`
	Description   string `json:"description"`
}

type wireMessage struct {
	MessageType    string              `json:"messageType"`
	Action         string              `json:"action"`
	MessagePayload string              `json:"messagePayload"`
	SenderClientID string              `json:"senderClientId"`
	CorrelationID  string              `json:"correlationId"`
	StatusResponse *wireStatusResponse `json:"statusResponse"`
	IceServerList  []wireIceServer     `json:"IceServerList"`
}

// Parse decodes a single reassembled JSON frame. Decode or structural
// errors yield model.ErrInvalidApiReturn.
func Parse(frame []byte) (model.ReceivedSignalingMessage, error) {
	if err := checkDepth(frame, MaxJSONDepth); err != nil {
		return model.ReceivedSignalingMessage{}, model.WrapError(model.ErrInvalidApiReturn, "signaling message nested too deeply", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(frame)))
	var raw wireMessage
	if err := dec.Decode(&raw); err != nil {
		return model.ReceivedSignalingMessage{}, model.WrapError(model.ErrInvalidApiReturn, "malformed signaling message", err)
	}

	out := model.ReceivedSignalingMessage{
		SenderID: raw.SenderClientID,
	}

	// messageType takes precedence over action; both name the same concept.
	typeStr := raw.MessageType
	if typeStr == "" {
		typeStr = raw.Action
	}
	out.MessageType = model.ParseMessageType(typeStr)

	if raw.MessagePayload != "" {
		payload, err := base64.StdEncoding.DecodeString(raw.MessagePayload)
		if err != nil {
			return model.ReceivedSignalingMessage{}, model.WrapError(model.ErrInvalidApiReturn, "invalid base64 payload", err)
		}
		out.Payload = payload
	}

	if raw.CorrelationID != "" {
		out.CorrelationID = raw.CorrelationID
	}

	if raw.StatusResponse != nil {
		out.CorrelationID = raw.StatusResponse.CorrelationID
		out.ErrorType = raw.StatusResponse.ErrorType
		out.Description = raw.StatusResponse.Description
		if raw.StatusResponse.StatusCode != "" {
			code, err := strconv.Atoi(raw.StatusResponse.StatusCode)
			if err != nil {
				return model.ReceivedSignalingMessage{}, model.WrapError(model.ErrInvalidApiReturn, "invalid statusResponse statusCode", err)
			}
			out.StatusCode = code
		}
		if out.MessageType == model.MessageTypeUnknown {
			out.MessageType = model.MessageTypeStatusResponse
		}
	}

	// An inline ICE server list is only legal on OFFER frames; it replaces
	// the client's current ICE config wholesale.
	if len(raw.IceServerList) > 0 && out.MessageType == model.MessageTypeOffer {
		out.IceServerList = convertIceServers(raw.IceServerList)
	}

	if out.MessageType == model.MessageTypeUnknown {
		out.MessageType = fallbackClassify(frame, out.Payload)
	}

	return out, nil
}

func convertIceServers(servers []wireIceServer) []model.IceConfigInfo {
	n := len(servers)
	if n > model.MaxIceConfigCount {
		n = model.MaxIceConfigCount
	}
	out := make([]model.IceConfigInfo, 0, n)
	for _, s := range servers[:n] {
		uris := s.Uris
		if len(uris) > model.MaxIceUriCount {
			uris = uris[:model.MaxIceUriCount]
		}
		out = append(out, model.IceConfigInfo{
			Username: s.Username,
			Password: s.Password,
			TTL:      time.Duration(s.Ttl) * time.Second,
			Uris:     uris,
		})
	}
	return out
}

// fallbackClassify scans an otherwise-UNKNOWN message for recognizable
// substrings, matching the original SDK's permissive textual fallback
// (spec §4.4): the SDP/ICE substrings are scanned for in the decoded
// payload only, while RECONNECT_ICE_SERVER is scanned for over the whole
// frame (it names a control message, not an SDP/ICE payload).
func fallbackClassify(frame, payload []byte) model.MessageType {
	if strings.Contains(string(frame), "RECONNECT_ICE_SERVER") {
		return model.MessageTypeReconnectIceServer
	}
	p := strings.ToLower(string(payload))
	switch {
	case strings.Contains(p, "candidate"):
		return model.MessageTypeIceCandidate
	case strings.Contains(p, "offer"):
		return model.MessageTypeOffer
	case strings.Contains(p, "answer"):
		return model.MessageTypeAnswer
	default:
		return model.MessageTypeUnknown
	}
}

// checkDepth walks frame token-by-token and rejects it if any object/array
// nests deeper than max, without fully decoding into a value first — this
// is the bounded-token-depth cap spec §3/§5 requires of the reassembly
// path ("inbound JSON tokens <= fixed cap; parser rejects deeper").
func checkDepth(frame []byte, max int) error {
	dec := json.NewDecoder(bytes.NewReader(frame))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				depth++
				if depth > max {
					return model.NewError(model.ErrInvalidApiReturn, "json nesting exceeds maximum depth")
				}
			case '}', ']':
				depth--
			}
		}
	}
}
