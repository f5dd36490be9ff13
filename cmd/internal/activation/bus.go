// Package activation activates accounts when one of their channels becomes
// verified and publishes the resulting events after commit.
package activation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/puse45/auth-ms/cmd/account"
)

const (
	EventChannelVerified  = "channel.verified"
	EventAccountActivated = "account.activated"
)

// Event is a committed state change on an account.
type Event struct {
	Type      string       `json:"type"`
	AccountID string       `json:"account_id"`
	Kind      account.Kind `json:"kind,omitempty"`
	At        time.Time    `json:"at"`
}

// Bus fans events out to in-process subscribers. Subscribers run synchronously
// on the publishing goroutine and must not block; a panicking subscriber is
// logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	log    *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{subs: make(map[int]func(Event)), log: log}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, e)
	}
}

func (b *Bus) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("activation.bus.subscriber.panic", "event", e.Type, "panic", r)
		}
	}()
	fn(e)
}
