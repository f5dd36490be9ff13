package realtime

import "sync"

// Client is one connected websocket session for an account.
//
// Send is never closed by the server; broadcasters may race with shutdown.
// done signals the connection goroutines to stop and Close is idempotent.
type Client struct {
	AccountID string
	SessionID string
	Send      chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(accountID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		AccountID: accountID,
		SessionID: sessionID,
		Send:      make(chan Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer queues env without blocking. It reports false when the client is
// gone or its queue is full.
func (c *Client) offer(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
