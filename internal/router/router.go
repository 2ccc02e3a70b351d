// Package router maintains the per-peer session registry and dispatches
// inbound OFFER/ANSWER/ICE_CANDIDATE/RECONNECT_ICE_SERVER messages to
// sessions, enforcing the concurrent-session ceiling and draining queued
// candidates once a session's offer is accepted (spec C8).
package router

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvs-signaling/core/internal/model"
	"github.com/kvs-signaling/core/internal/pendingqueue"
)

// DefaultMaxSessions is the build-time concurrent-session ceiling
// (spec §5: "default 3").
const DefaultMaxSessions = 3

// Session is one active peer connection tracked by the router.
type Session struct {
	// SessionID is an internal identifier distinct from PeerID, useful for
	// correlating this session's log lines across a reconnect where the
	// peer re-sends an OFFER and gets a fresh Session value.
	SessionID        string
	PeerID           string
	CreatedAt        time.Time
	Terminate        bool
	RemoteCanTrickle bool
}

// Result reports what the caller should do after dispatching a message.
type Result int

const (
	// ResultHandled means the message was fully processed.
	ResultHandled Result = iota
	// ResultReconnectIce means the caller should re-step into
	// GET_ICE_CONFIG (spec §4.8: RECONNECT_ICE_SERVER).
	ResultReconnectIce
)

// OfferHandler is invoked synchronously when a new session is created from
// an inbound OFFER, before the session is inserted into the registry.
type OfferHandler func(msg model.ReceivedSignalingMessage)

// AnswerHandler is invoked for an inbound ANSWER on the viewer's single
// outgoing session.
type AnswerHandler func(session *Session, msg model.ReceivedSignalingMessage)

// CandidateHandler is invoked for an inbound ICE_CANDIDATE once a session
// exists for the sender, whether delivered live or drained from the
// pending queue.
type CandidateHandler func(session *Session, msg model.ReceivedSignalingMessage)

// Router is the session registry described in spec §4.8.
type Router struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	pending     *pendingqueue.Registry

	OnOffer     OfferHandler
	OnAnswer    AnswerHandler
	OnCandidate CandidateHandler
}

// New returns a Router with the given session ceiling (0 uses
// DefaultMaxSessions) backed by pending.
func New(maxSessions int, pending *pendingqueue.Registry) *Router {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Router{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		pending:     pending,
	}
}

// Dispatch routes an inbound message to the appropriate session, creating
// one on OFFER and draining any pending candidates once it's accepted.
func (r *Router) Dispatch(msg model.ReceivedSignalingMessage) (Result, error) {
	switch msg.MessageType {
	case model.MessageTypeOffer:
		return ResultHandled, r.dispatchOffer(msg)
	case model.MessageTypeAnswer:
		return ResultHandled, r.dispatchAnswer(msg)
	case model.MessageTypeIceCandidate:
		return ResultHandled, r.dispatchCandidate(msg)
	case model.MessageTypeReconnectIceServer:
		return ResultReconnectIce, nil
	default:
		return ResultHandled, nil
	}
}

func (r *Router) dispatchOffer(msg model.ReceivedSignalingMessage) error {
	r.mu.Lock()
	if _, exists := r.sessions[msg.SenderID]; exists {
		r.mu.Unlock()
		return model.NewError(model.ErrInvalidOperation, "session already exists for peer: "+msg.SenderID)
	}
	if len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		if r.pending != nil {
			r.pending.Drop(msg.SenderID)
		}
		return model.NewError(model.ErrInvalidOperation, "concurrent session ceiling reached")
	}
	r.mu.Unlock()

	if r.OnOffer != nil {
		r.OnOffer(msg)
	}

	session := &Session{SessionID: uuid.NewString(), PeerID: msg.SenderID, CreatedAt: time.Now()}
	r.mu.Lock()
	r.sessions[msg.SenderID] = session
	r.mu.Unlock()

	if r.pending != nil {
		for _, queued := range r.pending.Drain(msg.SenderID) {
			if r.OnCandidate != nil {
				r.OnCandidate(session, queued)
			}
		}
	}
	return nil
}

func (r *Router) dispatchAnswer(msg model.ReceivedSignalingMessage) error {
	session := r.singleSession()
	if session == nil {
		return model.NewError(model.ErrInvalidOperation, "no outgoing session for ANSWER")
	}
	if r.OnAnswer != nil {
		r.OnAnswer(session, msg)
	}
	return nil
}

func (r *Router) dispatchCandidate(msg model.ReceivedSignalingMessage) error {
	r.mu.Lock()
	session, exists := r.sessions[msg.SenderID]
	r.mu.Unlock()

	if !exists {
		if r.pending != nil {
			r.pending.Enqueue(msg.SenderID, msg)
		}
		return nil
	}
	if r.OnCandidate != nil {
		r.OnCandidate(session, msg)
	}
	return nil
}

// singleSession returns the viewer role's one outgoing session, or nil if
// none exists yet.
func (r *Router) singleSession() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		return s
	}
	return nil
}

// Terminate marks a session for removal by the session-GC worker.
func (r *Router) Terminate(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[peerID]; ok {
		s.Terminate = true
	}
}

// CollectTerminated removes and returns all sessions whose terminate flag
// is set, for the session-GC worker (spec §5).
func (r *Router) CollectTerminated() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*Session
	for peerID, s := range r.sessions {
		if s.Terminate {
			removed = append(removed, s)
			delete(r.sessions, peerID)
		}
	}
	return removed
}

// Count returns the number of active sessions.
func (r *Router) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
