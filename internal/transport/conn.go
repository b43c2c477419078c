package transport

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"

	"github.com/codefionn/workbench/internal/event"
	"github.com/codefionn/workbench/internal/logger"
	"github.com/codefionn/workbench/internal/messaging"
)

var log = logger.Component("transport")

// socketConn is a messaging.Connection over one WebSocket. The read pump
// queues inbound frames and the dispatch pump fires them in wire order once
// the connection is released. The write pump owns all writes once started.
type socketConn struct {
	*messaging.BaseConnection

	ws    *websocket.Conn
	opts  Options
	send  chan string
	inbox *inbox

	ready     chan struct{}
	readyOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
}

func newSocketConn(ws *websocket.Conn, path string, opts Options) *socketConn {
	return &socketConn{
		BaseConnection: messaging.NewBaseConnection(path),
		ws:             ws,
		opts:           opts,
		send:           make(chan string, opts.SendBuffer),
		inbox:          newInbox(),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// start opens the connection and runs its pumps.
func (c *socketConn) start() {
	c.TrySetState(messaging.StateOpened)
	go c.writePump()
	go c.readPump()
	go c.dispatchPump()
}

// OnMessage subscribes a listener. The first subscription releases frames
// that arrived before anyone listened.
func (c *socketConn) OnMessage() event.Event[string] {
	subscribe := c.BaseConnection.OnMessage()
	return func(listener func(string)) event.Disposable {
		d := subscribe(listener)
		c.release()
		return d
	}
}

// release lets the dispatch pump deliver queued frames.
func (c *socketConn) release() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// SendMessage queues message for the write pump. Messages sent while the
// connection is still connecting are flushed once it opens.
func (c *socketConn) SendMessage(message string) error {
	if messaging.IsClosed(c) {
		return messaging.ErrConnectionClosed
	}
	select {
	case c.send <- message:
		return nil
	case <-c.done:
		return messaging.ErrConnectionClosed
	}
}

// Close starts a close handshake with the peer. The connection is closed
// once the peer confirms or the read deadline passes.
func (c *socketConn) Close() error {
	if !c.TrySetState(messaging.StateClosing) {
		return nil
	}
	c.stop()
	return nil
}

func (c *socketConn) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

// abort tears the socket down without a close handshake.
func (c *socketConn) abort() {
	c.stop()
	_ = c.ws.Close()
	c.MarkClosed()
}

func (c *socketConn) readPump() {
	defer func() {
		c.stop()
		_ = c.ws.Close()
		c.inbox.close()
	}()

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		kind, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("WebSocket read error on %s: %v", c.ID(), err)
				c.FireError(err)
			}
			return
		}
		if kind != websocket.TextMessage {
			log.Warn("Ignoring binary frame on %s", c.ID())
			continue
		}
		c.inbox.push(string(message))
	}
}

// dispatchPump fires queued frames and closes the connection after the last
// one, so listeners see every frame before the close event.
func (c *socketConn) dispatchPump() {
	defer c.abort()

	select {
	case <-c.ready:
	case <-c.inbox.eof:
	}
	for {
		message, ok := c.inbox.pop()
		if !ok {
			return
		}
		c.FireMessage(message)
	}
}

func (c *socketConn) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				log.Error("Failed to write message on %s: %v", c.ID(), err)
				c.FireError(err)
				_ = c.ws.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.ws.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
				_ = c.ws.Close()
				return
			}
			// Let the read pump see the peer's close reply, but not forever.
			_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.WriteWait))
			return
		}
	}
}

// flush writes messages that were queued before Close.
func (c *socketConn) flush() {
	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				return
			}
		default:
			return
		}
	}
}

// inbox is an unbounded FIFO of inbound frames.
type inbox struct {
	mu     sync.Mutex
	frames *queue.Queue
	wake   chan struct{}
	closed bool
	eof    chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		frames: queue.New(),
		wake:   make(chan struct{}, 1),
		eof:    make(chan struct{}),
	}
}

func (b *inbox) push(message string) {
	b.mu.Lock()
	b.frames.Add(message)
	b.mu.Unlock()
	b.signal()
}

// pop blocks until a frame is queued. It returns false once the inbox is
// closed and drained.
func (b *inbox) pop() (string, bool) {
	for {
		b.mu.Lock()
		if b.frames.Length() > 0 {
			message := b.frames.Remove().(string)
			b.mu.Unlock()
			return message, true
		}
		if b.closed {
			b.mu.Unlock()
			return "", false
		}
		b.mu.Unlock()
		<-b.wake
	}
}

func (b *inbox) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.eof)
	b.signal()
}

func (b *inbox) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
