// Package broker fans game events out to the SSE and WebSocket streams
// connected to this process.
package broker

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event types published to game subscribers.
const (
	TypeNumberCalled  = "number:called"
	TypeGameEnded     = "game:ended"
	TypeClaimAccepted = "claim:accepted"
	TypePlayerJoined  = "player:joined"
	TypeGameStarted   = "game:started"
)

// Event is a typed payload published on a game channel.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Message is an encoded event as delivered to subscribers.
type Message struct {
	Type string
	Data []byte
}

// Broker is an in-process pub/sub keyed by game ID. Delivery is at most
// once: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Message]struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Broker {
	return &Broker{
		subs:   make(map[string]map[chan Message]struct{}),
		logger: logger,
	}
}

// Subscribe returns a channel that receives events for the given game.
func (b *Broker) Subscribe(gameID string) chan Message {
	ch := make(chan Message, 16)
	b.mu.Lock()
	if b.subs[gameID] == nil {
		b.subs[gameID] = make(map[chan Message]struct{})
	}
	b.subs[gameID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel from the game's subscribers.
func (b *Broker) Unsubscribe(gameID string, ch chan Message) {
	b.mu.Lock()
	delete(b.subs[gameID], ch)
	if len(b.subs[gameID]) == 0 {
		delete(b.subs, gameID)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of the given game.
func (b *Broker) Publish(gameID string, event Event) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		b.logger.Error("encoding event, not delivered", "game_id", gameID, "type", event.Type, "error", err)
		return
	}
	msg := Message{Type: event.Type, Data: data}

	b.mu.RLock()
	for ch := range b.subs[gameID] {
		select {
		case ch <- msg:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}

// Subscribers returns the number of live subscriptions for a game.
func (b *Broker) Subscribers(gameID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[gameID])
}
