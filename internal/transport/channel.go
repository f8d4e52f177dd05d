// Package transport abstracts the bidirectional real-time connection to the
// avatar rendering backend: media tracks plus a reliable out-of-band data
// channel used for control and audio events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/macahealth/maca-server/domain/entities"
)

// ConnectionState is the low-level transport connection state. The session
// controller maps these onto the session lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// PublishOptions controls delivery semantics for a single publish.
type PublishOptions struct {
	// Reliable requests in-order, guaranteed delivery. Chunked speech
	// bursts depend on it; callers must set it explicitly.
	Reliable bool
}

// ErrNotConnected is returned when publishing on a channel that has no
// live connection.
var ErrNotConnected = errors.New("channel not connected")

// PublishError wraps a failure to deliver a payload over the data channel.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("transport publish failed: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Subscription is an explicit handle for one registered observer. Callers
// keep the handle and call Unsubscribe to deregister exactly the callback
// they added.
type Subscription interface {
	Unsubscribe()
}

// Channel is a bidirectional real-time connection to the avatar renderer.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// Publish sends one payload over the out-of-band data channel.
	Publish(ctx context.Context, payload []byte, opts PublishOptions) error
	State() ConnectionState

	OnStateChange(fn func(ConnectionState)) Subscription
	OnQualityChange(fn func(entities.ConnectionQuality)) Subscription
	// OnStreamReady fires once per connection when the remote side first
	// produces traffic, signaling the avatar stream is rendering.
	OnStreamReady(fn func()) Subscription
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Notifier is a keyed observer registry. Each Subscribe returns a handle
// tied to the registration, so unsubscribing never depends on function
// identity.
type Notifier[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (n *Notifier[T]) Subscribe(fn func(T)) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fns == nil {
		n.fns = make(map[int]func(T))
	}
	id := n.next
	n.next++
	n.fns[id] = fn
	return &subscription{cancel: func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.fns, id)
	}}
}

func (n *Notifier[T]) Publish(v T) {
	n.mu.Lock()
	fns := make([]func(T), 0, len(n.fns))
	for _, fn := range n.fns {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
