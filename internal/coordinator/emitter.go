package coordinator

import (
	"log"
	"sync/atomic"
	"time"
)

// eventEmitter handles event emission for the coordinator.
// It provides a simple, thread-safe way to emit events to subscribers.
type eventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

func newEventEmitter(bufferSize int) *eventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &eventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// emit sends an event to the events channel.
// If the channel is full, it tries with a short timeout before dropping.
func (e *eventEmitter) emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[coordinator] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// dropped returns the total number of events that have been dropped.
func (e *eventEmitter) dropped() uint64 {
	return e.droppedCount.Load()
}

func (e *eventEmitter) close() {
	close(e.events)
}
