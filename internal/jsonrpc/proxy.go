package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/codefionn/workbench/internal/event"
)

// ConnectFunc resolves the message connection a Proxy talks over.
type ConnectFunc func(ctx context.Context) (*MessageConnection, error)

// Resolved returns a ConnectFunc for an already established connection.
func Resolved(mc *MessageConnection) ConnectFunc {
	return func(context.Context) (*MessageConnection, error) { return mc, nil }
}

type call struct {
	ctx    context.Context
	method string
	args   []any
	done   chan response
}

// Proxy is the client side of a remote service. Calls are sent strictly one
// after another: a request is only written once the previous one settled.
// Notifications named like events (onX) are delivered through Event.
type Proxy struct {
	connect ConnectFunc
	owned   bool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	calls    *queue.Queue
	wake     chan struct{}
	err      error
	closed   bool
	emitters map[string]*event.Emitter[json.RawMessage]
	subs     *event.Collection

	stopped chan struct{}
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// OwnConnection makes the proxy close its connection when it stops.
func OwnConnection() ProxyOption {
	return func(p *Proxy) { p.owned = true }
}

// NewProxy creates a proxy whose connection is resolved by connect. Calls
// made before the connection is ready wait in the queue; if connect fails,
// every call fails with its error.
func NewProxy(connect ConnectFunc, opts ...ProxyOption) *Proxy {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Proxy{
		connect:  connect,
		ctx:      ctx,
		cancel:   cancel,
		calls:    queue.New(),
		wake:     make(chan struct{}, 1),
		emitters: make(map[string]*event.Emitter[json.RawMessage]),
		subs:     event.NewCollection(),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Call invokes method with positional args and returns the raw result.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if IsEventName(method) {
		return nil, fmt.Errorf("%w: %s is an event, not a method", ErrEventName, method)
	}

	c := &call{ctx: ctx, method: method, args: args, done: make(chan response, 1)}
	p.mu.Lock()
	if p.closed {
		err := p.closedErr()
		p.mu.Unlock()
		return nil, err
	}
	p.calls.Add(c)
	p.mu.Unlock()
	p.signal()

	select {
	case resp := <-c.done:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallResult invokes method and decodes its result into out.
func (p *Proxy) CallResult(ctx context.Context, out any, method string, args ...any) error {
	raw, err := p.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Invoke calls method on p and decodes the result as T.
func Invoke[T any](ctx context.Context, p *Proxy, method string, args ...any) (T, error) {
	var out T
	err := p.CallResult(ctx, &out, method, args...)
	return out, err
}

// Event returns the event stream for the remote event name, which must look
// like onX. The payload is the first positional param of each notification.
func (p *Proxy) Event(name string) (event.Event[json.RawMessage], error) {
	if !IsEventName(name) {
		return nil, fmt.Errorf("%w: %s", ErrEventName, name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return event.None[json.RawMessage](), nil
	}
	em, ok := p.emitters[name]
	if !ok {
		em = event.NewEmitter[json.RawMessage]()
		p.emitters[name] = em
	}
	return em.Event(), nil
}

// Dispose stops the proxy. Queued calls fail with ErrConnectionClosed. The
// underlying connection is closed only if the proxy owns it.
func (p *Proxy) Dispose() {
	p.shutdown(ErrConnectionClosed)
	<-p.stopped
}

func (p *Proxy) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Proxy) closedErr() error {
	if p.err != nil {
		return p.err
	}
	return ErrConnectionClosed
}

func (p *Proxy) run() {
	defer close(p.stopped)

	mc, err := p.connect(p.ctx)
	if err != nil {
		log.Warn("Proxy connection failed: %v", err)
		p.shutdown(err)
		return
	}
	if p.owned {
		defer func() {
			if err := mc.Connection().Close(); err != nil {
				log.Warn("Failed to close proxy connection: %v", err)
			}
		}()
	}
	p.attach(mc)

	for {
		c, ok := p.next()
		if !ok {
			return
		}
		if c.ctx.Err() != nil {
			c.done <- response{err: c.ctx.Err()}
			continue
		}
		c.done <- p.send(mc, c)
	}
}

func (p *Proxy) send(mc *MessageConnection, c *call) response {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	result, err := mc.SendRequest(ctx, c.method, c.args...)
	if err != nil && p.ctx.Err() != nil && c.ctx.Err() == nil {
		err = ErrConnectionClosed
	}
	return response{result: result, err: err}
}

// next blocks until a call is queued or the proxy shuts down.
func (p *Proxy) next() (*call, bool) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, false
		}
		if p.calls.Length() > 0 {
			c := p.calls.Remove().(*call)
			p.mu.Unlock()
			return c, true
		}
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.ctx.Done():
		}
	}
}

func (p *Proxy) attach(mc *MessageConnection) {
	p.subs.Push(
		mc.OnNotification(p.handleNotification),
		event.Once(mc.OnClose(), func(struct{}) { p.shutdown(ErrConnectionClosed) }),
	)
	if mc.IsClosed() {
		p.shutdown(ErrConnectionClosed)
	}
}

func (p *Proxy) handleNotification(method string, params json.RawMessage) {
	p.mu.Lock()
	em, ok := p.emitters[method]
	p.mu.Unlock()
	if !ok {
		return
	}

	values, err := decodeParams(params)
	if err != nil {
		log.Error("Notification %s: %v", method, err)
		return
	}
	switch len(values) {
	case 0:
		em.Fire(json.RawMessage("null"))
	case 1:
		em.Fire(values[0])
	default:
		log.Error("Notification %s: %v: got %d params, events carry one", method, ErrUnsupportedParams, len(values))
	}
}

// shutdown fails queued calls with err and releases all event emitters.
func (p *Proxy) shutdown(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.err = err
	var pending []*call
	for p.calls.Length() > 0 {
		pending = append(pending, p.calls.Remove().(*call))
	}
	emitters := p.emitters
	p.emitters = make(map[string]*event.Emitter[json.RawMessage])
	p.mu.Unlock()

	p.cancel()
	p.subs.Dispose()
	for _, c := range pending {
		c.done <- response{err: err}
	}
	for _, em := range emitters {
		em.Dispose()
	}
}
