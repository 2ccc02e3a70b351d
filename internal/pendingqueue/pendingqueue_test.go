package pendingqueue

import (
	"testing"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

func TestEnqueueThenDrainPreservesArrivalOrder(t *testing.T) {
	r := New()
	r.Enqueue("peerA", model.ReceivedSignalingMessage{CorrelationID: "1"})
	r.Enqueue("peerA", model.ReceivedSignalingMessage{CorrelationID: "2"})
	r.Enqueue("peerA", model.ReceivedSignalingMessage{CorrelationID: "3"})

	msgs := r.Drain("peerA")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"1", "2", "3"} {
		if msgs[i].CorrelationID != want {
			t.Fatalf("expected message %d to be %q, got %q", i, want, msgs[i].CorrelationID)
		}
	}
}

func TestDrainRemovesTheQueue(t *testing.T) {
	r := New()
	r.Enqueue("peerA", model.ReceivedSignalingMessage{})
	r.Drain("peerA")
	if msgs := r.Drain("peerA"); msgs != nil {
		t.Fatalf("expected nil after queue drained, got %v", msgs)
	}
}

func TestDrainUnknownPeerReturnsNil(t *testing.T) {
	r := New()
	if msgs := r.Drain("nobody"); msgs != nil {
		t.Fatalf("expected nil for unknown peer, got %v", msgs)
	}
}

func TestDropDiscardsQueue(t *testing.T) {
	r := New()
	r.Enqueue("peerA", model.ReceivedSignalingMessage{})
	r.Drop("peerA")
	if msgs := r.Drain("peerA"); msgs != nil {
		t.Fatalf("expected queue to be dropped, got %v", msgs)
	}
}

func TestSweepExpiresOldQueues(t *testing.T) {
	r := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	r.Enqueue("peerOld", model.ReceivedSignalingMessage{})

	r.now = func() time.Time { return base.Add(30 * time.Second) }
	r.Enqueue("peerNew", model.ReceivedSignalingMessage{})

	r.now = func() time.Time { return base.Add(model.PendingQueueExpiry + time.Second) }
	expired := r.Sweep(model.PendingQueueExpiry)

	if len(expired) != 1 || expired[0] != "peerOld" {
		t.Fatalf("expected only peerOld to expire, got %v", expired)
	}
	if msgs := r.Drain("peerNew"); len(msgs) != 1 {
		t.Fatal("expected peerNew's queue to survive the sweep")
	}
}

func TestEnqueueCopiesPayloadToPreventAliasing(t *testing.T) {
	r := New()
	payload := []byte("original")
	r.Enqueue("peerA", model.ReceivedSignalingMessage{Payload: payload})
	payload[0] = 'X'

	msgs := r.Drain("peerA")
	if string(msgs[0].Payload) != "original" {
		t.Fatalf("expected stored payload to be unaffected by caller mutation, got %q", msgs[0].Payload)
	}
}
