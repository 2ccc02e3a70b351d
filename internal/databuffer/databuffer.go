// Package databuffer reassembles fragmented WSS text frames into complete
// messages, growing its backing array on demand up to a hard cap (spec C3),
// grounded in original_source/esp_port/components/kvs_webrtc/src/DataBuffer.c.
package databuffer

import (
	"github.com/kvs-signaling/core/internal/model"
)

const (
	// DefaultSize is the initial buffer capacity used when no suggestion is
	// given.
	DefaultSize = 2 * 1024
	// MaxSize is the hard cap a buffer will never grow past.
	MaxSize = 20 * 1024
	// ExpansionPadding is added on top of the fragment size whenever the
	// buffer must grow, to absorb a few more small fragments without
	// re-expanding every time.
	ExpansionPadding = 512
)

// Status is the result of an Append call.
type Status int

const (
	// InProgress means the fragment was appended but the message is not yet
	// complete; more fragments are expected.
	InProgress Status = iota
	// Complete means the final fragment was appended; Bytes() now returns
	// the full reassembled message.
	Complete
)

// Buffer reassembles a sequence of fragments into a single message. It is
// not safe for concurrent use; callers serialize access per connection.
type Buffer struct {
	data       []byte
	size       int
	inProgress bool
}

// New returns a Buffer with the given suggested initial capacity. A
// suggestedSize of 0 uses DefaultSize; any suggestion above MaxSize is
// clamped down to MaxSize.
func New(suggestedSize int) *Buffer {
	size := suggestedSize
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return &Buffer{data: make([]byte, size)}
}

// Reset clears the buffer's contents and in-progress flag without releasing
// the underlying allocation.
func (b *Buffer) Reset() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.size = 0
	b.inProgress = false
}

// InProgress reports whether a multi-fragment message is currently being
// assembled.
func (b *Buffer) InProgress() bool {
	return b.inProgress
}

// Append adds fragment to the buffer. If isFinal is false, it returns
// InProgress and the caller should wait for more fragments. If isFinal is
// true, it returns Complete and Bytes() returns the full message.
//
// Append returns model.ErrBufferTooLarge (and resets the buffer) when the
// fragment would push the buffer past MaxSize; no partial message is
// delivered in that case.
func (b *Buffer) Append(fragment []byte, isFinal bool) (Status, error) {
	if len(fragment) == 0 {
		return InProgress, model.NewError(model.ErrInvalidArg, "empty fragment")
	}

	b.inProgress = true

	if b.size+len(fragment) > len(b.data) {
		if err := b.expand(b.size + len(fragment) + ExpansionPadding); err != nil {
			b.Reset()
			return InProgress, err
		}
	}
	if b.size+len(fragment) > len(b.data) {
		b.Reset()
		return InProgress, model.NewError(model.ErrBufferTooLarge, "data buffer exceeds maximum size")
	}

	copy(b.data[b.size:], fragment)
	b.size += len(fragment)

	if !isFinal {
		return InProgress, nil
	}

	b.inProgress = false
	return Complete, nil
}

// Bytes returns the bytes assembled so far (or, after a Complete result, the
// full reassembled message).
func (b *Buffer) Bytes() []byte {
	return b.data[:b.size]
}

// expand grows the buffer to hold at least wantSize total bytes, capped at
// MaxSize. It is a no-op error if the buffer is already at MaxSize.
func (b *Buffer) expand(wantSize int) error {
	newSize := wantSize
	if newSize > MaxSize {
		newSize = MaxSize
	}
	if newSize <= len(b.data) {
		return model.NewError(model.ErrBufferTooLarge, "data buffer exceeds maximum size")
	}
	grown := make([]byte, newSize)
	copy(grown, b.data[:b.size])
	b.data = grown
	return nil
}
