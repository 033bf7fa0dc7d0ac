// Package realtime streams finished sync logs to operators over Server-Sent Events.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker handles Server-Sent Events (SSE) clients and broadcasting
type Broker struct {
	clients    map[chan []byte]bool
	register   chan chan []byte
	unregister chan chan []byte
	broadcast  chan []byte
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
}

// NewBroker creates a new SSE broker
func NewBroker() *Broker {
	return &Broker{
		clients:    make(map[chan []byte]bool),
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the broker loop and returns when ctx is cancelled
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for client := range b.clients {
				delete(b.clients, client)
				close(client)
			}
			b.mu.Unlock()
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			n := len(b.clients)
			b.mu.Unlock()
			log.Printf("📡 SSE client connected. Total: %d", n)

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client)
			}
			n := len(b.clients)
			b.mu.Unlock()
			log.Printf("📡 SSE client disconnected. Total: %d", n)

		case msg := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client <- msg:
				default:
					// slow client, drop
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Clients returns the number of connected clients
func (b *Broker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP handles the SSE endpoint
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientChan := make(chan []byte, 10)
	select {
	case b.register <- clientChan:
	case <-b.done:
		http.Error(w, "Stream closed", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	// Send headers right away so clients see the stream open
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			select {
			case b.unregister <- clientChan:
			case <-b.done:
			}
			return
		case msg, open := <-clientChan:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// Broadcast sends a message to all connected clients
func (b *Broker) Broadcast(event string, payload interface{}) {
	data := map[string]interface{}{
		"event":   event,
		"payload": payload,
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		log.Printf("⚠️ Error marshalling broadcast message: %v", err)
		return
	}
	b.send(jsonBytes)
}

func (b *Broker) send(msg []byte) {
	select {
	case b.broadcast <- msg:
	default:
		// Drop if broadcast buffer full
	}
}

// Publish lets the broker stand in for Redis as a sync log publisher when
// no Redis is configured.
func (b *Broker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.Broadcast(channel, message)
	return nil
}

// Relay forwards every message of a Redis subscription to the SSE clients
// until ctx is cancelled or the subscription closes.
func (b *Broker) Relay(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.Broadcast(msg.Channel, json.RawMessage(msg.Payload))
		}
	}
}
