package jsonrpc

import (
	"sync"

	"github.com/codefionn/workbench/internal/event"
	"github.com/codefionn/workbench/internal/messaging"
)

// Cache hands out one MessageConnection per Connection. Entries are dropped
// when their Connection closes.
type Cache struct {
	mu    sync.Mutex
	conns map[string]*MessageConnection
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{conns: make(map[string]*MessageConnection)}
}

// Get returns the MessageConnection for conn, creating it on first use.
func (c *Cache) Get(conn messaging.Connection) *MessageConnection {
	id := conn.ID()

	c.mu.Lock()
	if mc, ok := c.conns[id]; ok {
		c.mu.Unlock()
		return mc
	}
	mc := NewMessageConnection(conn)
	if mc.IsClosed() {
		c.mu.Unlock()
		return mc
	}
	c.conns[id] = mc
	c.mu.Unlock()

	event.Once(mc.OnClose(), func(struct{}) {
		c.mu.Lock()
		if c.conns[id] == mc {
			delete(c.conns, id)
		}
		c.mu.Unlock()
	})
	// The connection may have closed before the listener was attached.
	if mc.IsClosed() {
		c.mu.Lock()
		if c.conns[id] == mc {
			delete(c.conns, id)
		}
		c.mu.Unlock()
	}
	return mc
}

// Len returns the number of cached message connections.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}
