package router

import (
	"testing"

	"github.com/kvs-signaling/core/internal/model"
	"github.com/kvs-signaling/core/internal/pendingqueue"
)

func TestDispatchOfferCreatesSessionAndDrainsPending(t *testing.T) {
	pq := pendingqueue.New()
	pq.Enqueue("peerA", model.ReceivedSignalingMessage{MessageType: model.MessageTypeIceCandidate, CorrelationID: "1"})
	pq.Enqueue("peerA", model.ReceivedSignalingMessage{MessageType: model.MessageTypeIceCandidate, CorrelationID: "2"})

	r := New(0, pq)
	var drained []string
	r.OnCandidate = func(s *Session, msg model.ReceivedSignalingMessage) {
		drained = append(drained, msg.CorrelationID)
	}

	res, err := r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeOffer, SenderID: "peerA"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != ResultHandled {
		t.Fatalf("expected ResultHandled, got %v", res)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Count())
	}
	if len(drained) != 2 || drained[0] != "1" || drained[1] != "2" {
		t.Fatalf("expected pending candidates drained in arrival order, got %v", drained)
	}
}

func TestDispatchOfferRejectsDuplicateSession(t *testing.T) {
	r := New(0, pendingqueue.New())
	if _, err := r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeOffer, SenderID: "peerA"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeOffer, SenderID: "peerA"})
	if model.CodeOf(err) != model.ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestDispatchOfferEnforcesSessionCeiling(t *testing.T) {
	pq := pendingqueue.New()
	r := New(1, pq)
	if _, err := r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeOffer, SenderID: "peerA"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeOffer, SenderID: "peerB"})
	if model.CodeOf(err) != model.ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation at ceiling, got %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("expected session count unchanged at 1, got %d", r.Count())
	}
}

func TestDispatchCandidateBeforeOfferEnqueuesToPending(t *testing.T) {
	pq := pendingqueue.New()
	r := New(0, pq)

	_, err := r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeIceCandidate, SenderID: "peerA", CorrelationID: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("expected no session created for a bare candidate, got %d", r.Count())
	}
	queued := pq.Drain("peerA")
	if len(queued) != 1 || queued[0].CorrelationID != "1" {
		t.Fatalf("expected candidate to be queued pending the offer, got %v", queued)
	}
}

func TestDispatchCandidateAfterOfferForwardsDirectly(t *testing.T) {
	r := New(0, pendingqueue.New())
	var forwarded *Session
	r.OnCandidate = func(s *Session, msg model.ReceivedSignalingMessage) { forwarded = s }

	if _, err := r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeOffer, SenderID: "peerA"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeIceCandidate, SenderID: "peerA"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forwarded == nil || forwarded.PeerID != "peerA" {
		t.Fatal("expected candidate to be forwarded to the existing session")
	}
}

func TestDispatchReconnectIceServerReturnsResultReconnectIce(t *testing.T) {
	r := New(0, pendingqueue.New())
	res, err := r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeReconnectIceServer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != ResultReconnectIce {
		t.Fatalf("expected ResultReconnectIce, got %v", res)
	}
}

func TestCollectTerminatedRemovesOnlyFlaggedSessions(t *testing.T) {
	r := New(0, pendingqueue.New())
	r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeOffer, SenderID: "peerA"})
	r.Dispatch(model.ReceivedSignalingMessage{MessageType: model.MessageTypeOffer, SenderID: "peerB"})
	r.Terminate("peerA")

	removed := r.CollectTerminated()
	if len(removed) != 1 || removed[0].PeerID != "peerA" {
		t.Fatalf("expected only peerA removed, got %v", removed)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 session remaining, got %d", r.Count())
	}
}
