// Package signaling is the public façade over the KVS WebRTC signaling
// core: channel discovery/creation, WSS connect and steady-state operation,
// and the reconnect/delete lifecycle (spec C10). Callers construct a
// Client with Create, drive it with Connect/SendMessage/Disconnect/Delete,
// and tear it down with Shutdown.
package signaling

import (
	"crypto/x509"
	"net/http"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

// OfferHandler is invoked when a new inbound OFFER opens a session.
type OfferHandler func(peerID string, msg model.ReceivedSignalingMessage)

// AnswerHandler is invoked for an inbound ANSWER on the viewer's single
// outgoing session.
type AnswerHandler func(peerID string, msg model.ReceivedSignalingMessage)

// CandidateHandler is invoked for an inbound ICE_CANDIDATE once a session
// exists for the sender.
type CandidateHandler func(peerID string, msg model.ReceivedSignalingMessage)

// StatusResponseHandler is invoked for an inbound STATUS_RESPONSE frame,
// the service's acknowledgement (or rejection) of a previously sent
// message (spec §4.6/§6).
type StatusResponseHandler func(msg model.ReceivedSignalingMessage)

// Options configures a Client at construction time. Everything but the
// channel identity, region and Credentials has a working default.
type Options struct {
	// ChannelName or ChannelArn identifies the signaling channel; at least
	// one is required (both may be set).
	ChannelName string
	ChannelArn  string
	Region      string

	Role       model.ChannelRole
	MessageTTL time.Duration
	Tags       []model.Tag

	// ClientID correlates this session; required for the viewer role.
	ClientID string

	Retry         bool
	MaxRetryCount int
	Reconnect     bool
	CachePolicy   bool
	AsyncIce      bool

	// ControlPlaneURL overrides the derived control-plane URL, if set.
	ControlPlaneURL string

	// Credentials supplies AWS credentials. If nil, Create fails — an
	// embedding application must either pass one directly or build one
	// with NewStaticCredentials/WrapAWSCredentialsProvider.
	Credentials model.CredentialsProvider

	HTTPClient *http.Client
	CAPool     *x509.CertPool

	MaxSessions               int
	RestRetryAttempts         int
	RestRetryDelayMs          int
	PendingQueueExpiry        time.Duration
	SessionCleanupWait        time.Duration

	OnOffer          OfferHandler
	OnAnswer         AnswerHandler
	OnCandidate      CandidateHandler
	OnStatusResponse StatusResponseHandler

	// OnStateChange, OnError, and OnFatal surface lifecycle events from
	// the underlying state machine (spec §4.9/§4.10).
	OnStateChange func(old, next model.State)
	OnError       func(err error)
	OnFatal       func(err error)

	// Now overrides the clock used throughout, for deterministic tests.
	Now func() time.Time
}

const (
	defaultMaxSessions        = 3
	defaultPendingQueueExpiry = 60 * time.Second
	defaultSessionCleanupWait = 1 * time.Second
	defaultRestRetryAttempts  = 10
	defaultRestRetryDelayMs   = 100
)

func (o Options) withDefaults() Options {
	if o.MaxSessions <= 0 {
		o.MaxSessions = defaultMaxSessions
	}
	if o.PendingQueueExpiry <= 0 {
		o.PendingQueueExpiry = defaultPendingQueueExpiry
	}
	if o.SessionCleanupWait <= 0 {
		o.SessionCleanupWait = defaultSessionCleanupWait
	}
	if o.RestRetryAttempts <= 0 {
		o.RestRetryAttempts = defaultRestRetryAttempts
	}
	if o.RestRetryDelayMs <= 0 {
		o.RestRetryDelayMs = defaultRestRetryDelayMs
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
