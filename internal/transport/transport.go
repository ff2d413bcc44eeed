// Package transport provides reliable, ordered, in-process message delivery
// between agents. Delivery is gated by the bound topology; failures surface
// as retryable errors, never silent drops.
package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hivemind-dev/hivemind/internal/topology"
)

// ErrDeliveryFailure indicates a message could not be delivered. The
// condition is retryable: the receiver may re-subscribe or drain its queue.
var ErrDeliveryFailure = errors.New("message delivery failure")

// ErrUnknownReceiver indicates the receiver has no registered mailbox.
var ErrUnknownReceiver = errors.New("unknown receiver")

// Message is a single unit of agent-to-agent communication.
type Message struct {
	// SenderID is the originating agent.
	SenderID string `json:"sender_id"`
	// ReceiverID is the destination agent.
	ReceiverID string `json:"receiver_id"`
	// Kind is a free-form message category (e.g. "vote", "status").
	Kind string `json:"kind"`
	// Payload is the message body.
	Payload []byte `json:"payload,omitempty"`
	// SentAt is when the message entered the transport.
	SentAt time.Time `json:"sent_at"`
}

// Bus is an in-process transport. Each receiver gets a FIFO mailbox; sends
// to the same receiver are delivered in order.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[string]chan Message
	buffer    int

	// gate, when set, is consulted before every send. It returns an error
	// to refuse delivery (e.g. a topology violation).
	gate func(senderID, receiverID string) error

	closed bool
}

// NewBus creates a transport with the given per-receiver buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		mailboxes: make(map[string]chan Message),
		buffer:    buffer,
	}
}

// BindTopology gates all subsequent sends on the given topology. Violations
// are returned to the sender as ErrTopologyViolation, never dropped.
func (b *Bus) BindTopology(t topology.Topology) {
	b.BindGate(t.CheckCommunicate)
}

// BindGate installs a custom delivery gate. The gate sees every send and
// returns an error to refuse it; callers that route traffic for several
// topologies at once use this instead of BindTopology.
func (b *Bus) BindGate(gate func(senderID, receiverID string) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = gate
}

// Subscribe registers a mailbox for the given agent and returns its receive
// channel. Re-subscribing returns the existing channel.
func (b *Bus) Subscribe(agentID string) <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.mailboxes[agentID]; ok {
		return ch
	}
	ch := make(chan Message, b.buffer)
	b.mailboxes[agentID] = ch
	return ch
}

// Unsubscribe removes an agent's mailbox and closes its channel.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.mailboxes[agentID]; ok {
		close(ch)
		delete(b.mailboxes, agentID)
	}
}

// Send delivers a message to the receiver's mailbox. The send fails with
// ErrTopologyViolation when the bound topology forbids the pair, with
// ErrUnknownReceiver when the receiver is not subscribed, and with
// ErrDeliveryFailure when the mailbox is full (retryable).
func (b *Bus) Send(senderID, receiverID, kind string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("%w: transport closed", ErrDeliveryFailure)
	}
	if b.gate != nil {
		if err := b.gate(senderID, receiverID); err != nil {
			return err
		}
	}

	ch, ok := b.mailboxes[receiverID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReceiver, receiverID)
	}

	msg := Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Kind:       kind,
		Payload:    payload,
		SentAt:     time.Now(),
	}

	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("%w: mailbox for %s is full", ErrDeliveryFailure, receiverID)
	}
}

// Broadcast sends to every subscribed agent the sender may reach under the
// bound topology. Returns the number of deliveries and the first gate or
// delivery error encountered for a reachable peer.
func (b *Bus) Broadcast(senderID, kind string, payload []byte) (int, error) {
	b.mu.RLock()
	receivers := make([]string, 0, len(b.mailboxes))
	for id := range b.mailboxes {
		if id != senderID {
			receivers = append(receivers, id)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	var firstErr error
	for _, id := range receivers {
		err := b.Send(senderID, id, kind, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, topology.ErrTopologyViolation):
			// Unreachable under the topology; not an error for broadcast.
		case firstErr == nil:
			firstErr = err
		}
	}
	return delivered, firstErr
}

// Close shuts down the transport and closes all mailboxes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.mailboxes {
		close(ch)
		delete(b.mailboxes, id)
	}
}
