package database

import (
	"fmt"
	"log"

	"github.com/lib/pq"
)

// Listener wraps a lib/pq LISTEN connection on NotifyChannel.
// Each notification carries the id of a freshly persisted webhook event.
type Listener struct {
	l      *pq.Listener
	notify chan struct{}
	done   chan struct{}
}

// NewListener opens a dedicated LISTEN connection using the given DSN
func NewListener(dsn string) (*Listener, error) {
	pl := pq.NewListener(dsn, ListenerMinReconnect, ListenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("✅ Listening for webhook event notifications")
		case pq.ListenerEventDisconnected:
			log.Printf("⚠️ Notification listener disconnected: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("🔄 Notification listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("⚠️ Notification listener connection attempt failed: %v", err)
		}
	})

	if err := pl.Listen(NotifyChannel); err != nil {
		pl.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	l := &Listener{
		l:      pl,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.pump()
	return l, nil
}

// pump coalesces notifications into a single pending wake-up. A reconnect
// delivers a nil notification, which also wakes the consumer since events may
// have arrived while disconnected.
func (l *Listener) pump() {
	for {
		select {
		case _, ok := <-l.l.Notify:
			if !ok {
				return
			}
			select {
			case l.notify <- struct{}{}:
			default:
			}
		case <-l.done:
			return
		}
	}
}

// C returns the wake-up channel
func (l *Listener) C() <-chan struct{} {
	return l.notify
}

// Close stops the listener
func (l *Listener) Close() error {
	close(l.done)
	log.Println("📡 Closing notification listener...")
	return l.l.Close()
}
