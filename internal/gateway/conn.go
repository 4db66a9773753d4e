package gateway

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

// enqueue hands msg to the write pump. A client too slow to keep up with
// its buffer is disconnected.
func (c *conn) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.close()
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
	})
}
