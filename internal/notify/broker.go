package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/nameflow/internal/workflow"
)

const bufferSize = 16

// Broker fans workflow notifications out to the SSE streams of their recipients.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]map[chan string]struct{}
	log     *logrus.Entry
}

func NewBroker(log *logrus.Logger) *Broker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broker{
		clients: make(map[string]map[chan string]struct{}),
		log:     log.WithField("component", "notify"),
	}
}

// Subscribe registers a stream for userID. Call Unsubscribe when the stream ends.
func (b *Broker) Subscribe(userID string) chan string {
	ch := make(chan string, bufferSize)
	b.mu.Lock()
	if b.clients[userID] == nil {
		b.clients[userID] = make(map[chan string]struct{})
	}
	b.clients[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(userID string, ch chan string) {
	b.mu.Lock()
	if set, ok := b.clients[userID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.clients, userID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// Subscribers returns the number of open streams for userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[userID])
}

// Notify never blocks: a stream whose buffer is full misses the message.
func (b *Broker) Notify(ctx context.Context, n workflow.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "encode notification")
	}
	msg := string(payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients[n.Recipient] {
		select {
		case ch <- msg:
		default:
			b.log.WithFields(logrus.Fields{
				"recipient":  n.Recipient,
				"request_id": n.RequestID,
			}).Warn("notification dropped, subscriber is slow")
		}
	}
	return nil
}
