package inproc

import (
	"errors"
	"sync"

	"schelling_sim/internal/domain"
)

var (
	ErrActorNotRegistered = errors.New("actor is not registered in bus")
	ErrActorQueueFull     = errors.New("actor queue is full")
)

// Bus routes messages between the coordinator and agent actors inside one
// process. Each registered actor gets its own buffered queue; the
// coordinator's queue must be sized to hold a full round of intents.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.Message
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.Message),
		buffer: buffer,
	}
}

func (b *Bus) Register(actor string) <-chan domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[actor]; ok {
		return ch
	}
	ch := make(chan domain.Message, b.buffer)
	b.subs[actor] = ch
	return ch
}

func (b *Bus) Unregister(actor string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[actor]
	if !ok {
		return
	}
	delete(b.subs, actor)
	close(ch)
}

// Publish delivers without blocking. The send happens under the read lock:
// Unregister closes the queue under the write lock, so a send can never hit
// a closed channel.
func (b *Bus) Publish(msg domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ch, ok := b.subs[msg.ToActor]
	if !ok {
		return ErrActorNotRegistered
	}
	select {
	case ch <- msg:
		return nil
	default:
		return ErrActorQueueFull
	}
}
