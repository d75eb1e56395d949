package hub

import (
	"sync"

	"github.com/google/uuid"
)

const DefaultOutboxSize = 32

// Client is one live connection. The transport drains Outbox and closes the
// connection once Done is closed.
type Client struct {
	ID string

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(outboxSize int) *Client {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}

	return &Client{
		ID:     uuid.NewString(),
		outbox: make(chan []byte, outboxSize),
		done:   make(chan struct{}),
	}
}

func (that *Client) Outbox() <-chan []byte {
	return that.outbox
}

func (that *Client) Done() <-chan struct{} {
	return that.done
}

// Close is safe to call more than once.
func (that *Client) Close() {
	that.closeOnce.Do(func() {
		close(that.done)
	})
}

// Enqueue queues a message without blocking. It reports false when the client
// is closed or its outbox is full.
func (that *Client) Enqueue(message []byte) bool {
	select {
	case <-that.done:
		return false
	default:
	}

	select {
	case that.outbox <- message:
		return true
	default:
		return false
	}
}
