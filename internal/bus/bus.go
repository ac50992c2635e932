package bus

import (
	"context"
	"log"
	"sync"
	"time"
)

// InboundEvent is one text message event delivered by the messaging
// platform webhook.
type InboundEvent struct {
	UserID     string
	Text       string
	ReplyToken string
	Timestamp  time.Time
}

// OutboundMessage is a text message to deliver back to a user. When
// ReplyToken is set the single-use reply endpoint is used; otherwise
// the message is pushed by user ID.
type OutboundMessage struct {
	UserID     string
	Text       string
	ReplyToken string
}

type MessageBus struct {
	Inbound  chan InboundEvent
	Outbound chan OutboundMessage

	mu     sync.Mutex
	sender func(OutboundMessage) error
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:  make(chan InboundEvent, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
	}
}

// SubscribeOutbound registers the delivery function for outbound
// messages. Only one sender is supported; a later call replaces it.
func (b *MessageBus) SubscribeOutbound(fn func(OutboundMessage) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sender = fn
}

func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.Lock()
			sender := b.sender
			b.mu.Unlock()
			if sender == nil {
				log.Printf("[bus] dropping outbound message, no sender registered")
				continue
			}
			if err := sender(msg); err != nil {
				log.Printf("[bus] send failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
