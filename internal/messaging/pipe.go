package messaging

import (
	"sync"
)

// Pipe returns two opened, in-memory connections wired to each other. A
// message sent on one end is delivered asynchronously, in order, to the other.
// Closing either end closes both once queued messages have been delivered.
func Pipe(path string) (Connection, Connection) {
	a := newPipeConn(path)
	b := newPipeConn(path)
	a.peer, b.peer = b, a
	a.TrySetState(StateOpened)
	b.TrySetState(StateOpened)
	go a.deliver()
	go b.deliver()
	return a, b
}

type pipeFrame struct {
	message string
	close   bool
}

type pipeConn struct {
	*BaseConnection
	peer *pipeConn

	mu      sync.Mutex
	queue   []pipeFrame
	wake    chan struct{}
	stopped bool
}

func newPipeConn(path string) *pipeConn {
	return &pipeConn{
		BaseConnection: NewBaseConnection(path),
		wake:           make(chan struct{}, 1),
	}
}

func (p *pipeConn) enqueue(f pipeFrame) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, f)
	if f.close {
		p.stopped = true
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *pipeConn) deliver() {
	for range p.wake {
		p.mu.Lock()
		frames := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, f := range frames {
			if f.close {
				p.MarkClosed()
				return
			}
			p.FireMessage(f.message)
		}
	}
}

// SendMessage queues message for the peer.
func (p *pipeConn) SendMessage(message string) error {
	if IsClosed(p) {
		return ErrConnectionClosed
	}
	if !p.peer.enqueue(pipeFrame{message: message}) {
		return ErrConnectionClosed
	}
	return nil
}

// Close moves to closing and tears down both ends.
func (p *pipeConn) Close() error {
	if !p.TrySetState(StateClosing) {
		return nil
	}
	p.peer.TrySetState(StateClosing)
	p.peer.enqueue(pipeFrame{close: true})
	p.enqueue(pipeFrame{close: true})
	return nil
}
