// Package events provides a small in-process pub/sub bus for blotter
// lifecycle notifications.
package events

import (
	"sync"
	"time"
)

// Event types.
const (
	BlotterIngested   = "blotter.ingested"
	BlotterFailed     = "blotter.failed"
	BlotterSummarized = "blotter.summarized"
	DigestSent        = "digest.sent"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	BlotterID int64     `json:"blotter_id,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	County    string    `json:"county,omitempty"`
	Count     int       `json:"count,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Bus fans events out to subscribers. Publish never blocks; a subscriber
// that falls behind loses events rather than stalling the pipeline.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus { return &Bus{} }

// Subscribe returns a buffered channel of future events.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
