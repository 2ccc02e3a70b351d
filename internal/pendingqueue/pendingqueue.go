// Package pendingqueue holds ICE candidates that arrive before the peer's
// offer has been processed, keyed by CRC32(peerId), and expires queues
// that sit unclaimed for too long (spec C7).
package pendingqueue

import (
	"hash/crc32"
	"sync"
	"time"

	"github.com/kvs-signaling/core/internal/model"
)

// Registry holds one FIFO queue per peer awaiting its offer.
type Registry struct {
	mu     sync.Mutex
	queues map[uint32]*queue
	now    func() time.Time
}

type queue struct {
	peerID    string
	createdAt time.Time
	messages  []model.ReceivedSignalingMessage
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		queues: make(map[uint32]*queue),
		now:    time.Now,
	}
}

func peerHash(peerID string) uint32 {
	return crc32.ChecksumIEEE([]byte(peerID))
}

// Enqueue appends msg to the pending queue for peerID, creating the queue
// if absent. The message is copied so later caller mutation does not leak
// into the stored copy.
func (r *Registry) Enqueue(peerID string, msg model.ReceivedSignalingMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := peerHash(peerID)
	q, ok := r.queues[h]
	if !ok {
		q = &queue{peerID: peerID, createdAt: r.now()}
		r.queues[h] = q
	}
	q.messages = append(q.messages, copyMessage(msg))
}

// Drain removes and returns all pending messages for peerID in arrival
// order, for delivery once the corresponding offer has been accepted.
func (r *Registry) Drain(peerID string) []model.ReceivedSignalingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := peerHash(peerID)
	q, ok := r.queues[h]
	if !ok {
		return nil
	}
	delete(r.queues, h)
	return q.messages
}

// Drop immediately discards any pending queue for peerID, used when the
// concurrent-session ceiling is reached (spec §4.7).
func (r *Registry) Drop(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, peerHash(peerID))
}

// Sweep removes any queue older than expiry, returning the peer IDs that
// were dropped. Called periodically by the session-GC worker.
func (r *Registry) Sweep(expiry time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var expired []string
	for h, q := range r.queues {
		if now.Sub(q.createdAt) >= expiry {
			expired = append(expired, q.peerID)
			delete(r.queues, h)
		}
	}
	return expired
}

func copyMessage(msg model.ReceivedSignalingMessage) model.ReceivedSignalingMessage {
	out := msg
	if msg.Payload != nil {
		out.Payload = append([]byte(nil), msg.Payload...)
	}
	if msg.IceServerList != nil {
		out.IceServerList = append([]model.IceConfigInfo(nil), msg.IceServerList...)
	}
	return out
}
