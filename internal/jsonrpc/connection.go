// Package jsonrpc layers JSON-RPC 2.0 over a messaging.Connection: a
// message connection engine, a per-connection cache, a FIFO client proxy and
// a reflective server binder.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/codefionn/workbench/internal/event"
	"github.com/codefionn/workbench/internal/logger"
	"github.com/codefionn/workbench/internal/messaging"
)

var log = logger.Component("jsonrpc")

// RequestHandler serves an inbound request. Returning an error wrapping
// ErrMethodNotFound passes the request on to the next handler. ctx is
// cancelled when the caller cancels or the connection closes.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// NotificationHandler receives inbound notifications.
type NotificationHandler func(method string, params json.RawMessage)

type response struct {
	result json.RawMessage
	err    error
}

type handlerEntry[T any] struct {
	fn T
}

// MessageConnection speaks JSON-RPC 2.0 over a messaging.Connection. Each
// text message carries exactly one JSON-RPC message.
type MessageConnection struct {
	conn messaging.Connection

	nextID atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	pending       map[int64]chan response
	inflight      map[string]context.CancelFunc
	requests      []*handlerEntry[RequestHandler]
	notifications []*handlerEntry[NotificationHandler]

	onClose *event.Emitter[struct{}]
	subs    *event.Collection
}

// NewMessageConnection starts speaking JSON-RPC over conn. Most callers go
// through Cache.Get so that a Connection has at most one MessageConnection.
func NewMessageConnection(conn messaging.Connection) *MessageConnection {
	ctx, cancel := context.WithCancel(context.Background())
	mc := &MessageConnection{
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[int64]chan response),
		inflight: make(map[string]context.CancelFunc),
		onClose:  event.NewEmitter[struct{}](),
		subs:     event.NewCollection(),
	}

	mc.subs.Push(
		conn.OnMessage()(mc.handleMessage),
		conn.OnError()(func(err error) {
			log.Warn("Transport error on %s: %v", conn.ID(), err)
		}),
		event.Once(conn.OnClose(), func(struct{}) { mc.close() }),
	)
	if conn.State() == messaging.StateClosed {
		mc.close()
	}
	return mc
}

// Connection returns the underlying connection.
func (mc *MessageConnection) Connection() messaging.Connection {
	return mc.conn
}

// OnClose fires once when the underlying connection closes.
func (mc *MessageConnection) OnClose() event.Event[struct{}] {
	return mc.onClose.Event()
}

// IsClosed reports whether the message connection has shut down.
func (mc *MessageConnection) IsClosed() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.closed
}

// OnRequest adds a request handler. Handlers are tried in registration order.
func (mc *MessageConnection) OnRequest(handler RequestHandler) event.Disposable {
	entry := &handlerEntry[RequestHandler]{fn: handler}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return event.Nop
	}
	mc.requests = append(mc.requests, entry)
	return event.DisposableFunc(func() {
		mc.mu.Lock()
		defer mc.mu.Unlock()
		mc.requests = removeEntry(mc.requests, entry)
	})
}

// OnNotification adds a notification handler. Every handler sees every
// notification, in wire order.
func (mc *MessageConnection) OnNotification(handler NotificationHandler) event.Disposable {
	entry := &handlerEntry[NotificationHandler]{fn: handler}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return event.Nop
	}
	mc.notifications = append(mc.notifications, entry)
	return event.DisposableFunc(func() {
		mc.mu.Lock()
		defer mc.mu.Unlock()
		mc.notifications = removeEntry(mc.notifications, entry)
	})
}

func removeEntry[T any](entries []*handlerEntry[T], entry *handlerEntry[T]) []*handlerEntry[T] {
	for i, e := range entries {
		if e == entry {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

// SendRequest sends a request with positional params and waits for its
// response. Remote failures are returned as *ResponseError. If ctx ends first
// the remote side is asked to cancel and ctx.Err() is returned.
func (mc *MessageConnection) SendRequest(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	encoded, err := encodeParams(params)
	if err != nil {
		return nil, err
	}

	id := mc.nextID.Add(1)
	ch := make(chan response, 1)

	mc.mu.Lock()
	if mc.closed {
		mc.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	mc.pending[id] = ch
	mc.mu.Unlock()

	rawID := json.RawMessage(strconv.FormatInt(id, 10))
	if err := mc.write(&message{JSONRPC: version, ID: rawID, Method: method, Params: encoded}); err != nil {
		mc.dropPending(id)
		return nil, fmt.Errorf("send request %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-ctx.Done():
		mc.dropPending(id)
		cancelled, _ := json.Marshal(cancelParams{ID: rawID})
		if err := mc.notify(cancelMethod, cancelled); err != nil {
			log.Debug("Could not cancel request %d: %v", id, err)
		}
		return nil, ctx.Err()
	}
}

// SendNotification sends a notification with positional params.
func (mc *MessageConnection) SendNotification(method string, params ...any) error {
	encoded, err := encodeParams(params)
	if err != nil {
		return err
	}
	return mc.notify(method, encoded)
}

func (mc *MessageConnection) notify(method string, params json.RawMessage) error {
	if mc.IsClosed() {
		return ErrConnectionClosed
	}
	return mc.write(&message{JSONRPC: version, Method: method, Params: params})
}

func (mc *MessageConnection) dropPending(id int64) {
	mc.mu.Lock()
	delete(mc.pending, id)
	mc.mu.Unlock()
}

func (mc *MessageConnection) write(msg *message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := mc.conn.SendMessage(string(data)); err != nil {
		if errors.Is(err, messaging.ErrConnectionClosed) {
			return ErrConnectionClosed
		}
		return err
	}
	return nil
}

func (mc *MessageConnection) handleMessage(data string) {
	var msg message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		log.Warn("Dropping malformed message on %s: %v", mc.conn.ID(), err)
		mc.replyParseError(data)
		return
	}

	switch {
	case msg.isRequest():
		mc.handleRequest(&msg)
	case msg.isNotification():
		mc.handleNotification(&msg)
	case msg.isResponse() && msg.hasID():
		mc.handleResponse(&msg)
	default:
		log.Warn("Dropping unrecognized message on %s", mc.conn.ID())
	}
}

// replyParseError answers a malformed request whose id can still be read.
func (mc *MessageConnection) replyParseError(data string) {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal([]byte(data), &envelope) != nil || len(envelope.ID) == 0 {
		return
	}
	_ = mc.write(&message{
		JSONRPC: version,
		ID:      envelope.ID,
		Error:   NewResponseError(CodeParseError, "Parse error", nil),
	})
}

func (mc *MessageConnection) handleResponse(msg *message) {
	id, err := strconv.ParseInt(string(msg.ID), 10, 64)
	if err != nil {
		log.Warn("Response with foreign id %s on %s", msg.ID, mc.conn.ID())
		return
	}

	mc.mu.Lock()
	ch, ok := mc.pending[id]
	delete(mc.pending, id)
	mc.mu.Unlock()
	if !ok {
		log.Debug("Response for unknown request %d", id)
		return
	}

	if msg.Error != nil {
		ch <- response{err: msg.Error}
		return
	}
	ch <- response{result: msg.Result}
}

func (mc *MessageConnection) handleNotification(msg *message) {
	if msg.Method == cancelMethod {
		var params cancelParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			mc.mu.Lock()
			cancel, ok := mc.inflight[string(params.ID)]
			mc.mu.Unlock()
			if ok {
				cancel()
			}
		}
		return
	}

	mc.mu.Lock()
	handlers := make([]*handlerEntry[NotificationHandler], len(mc.notifications))
	copy(handlers, mc.notifications)
	mc.mu.Unlock()

	if len(handlers) == 0 {
		log.Debug("Unhandled notification %s", msg.Method)
		return
	}
	for _, h := range handlers {
		h.fn(msg.Method, msg.Params)
	}
}

func (mc *MessageConnection) handleRequest(msg *message) {
	key := string(msg.ID)
	ctx, cancel := context.WithCancel(mc.ctx)

	mc.mu.Lock()
	if mc.closed {
		mc.mu.Unlock()
		cancel()
		return
	}
	mc.inflight[key] = cancel
	handlers := make([]*handlerEntry[RequestHandler], len(mc.requests))
	copy(handlers, mc.requests)
	mc.mu.Unlock()

	go func() {
		defer func() {
			mc.mu.Lock()
			delete(mc.inflight, key)
			mc.mu.Unlock()
			cancel()
		}()

		result, err := mc.dispatchRequest(ctx, handlers, msg)
		if mc.IsClosed() {
			return
		}
		reply := &message{JSONRPC: version, ID: msg.ID}
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				reply.Error = NewResponseError(CodeRequestCancelled, "Request cancelled", nil)
			} else {
				reply.Error = toResponseError(msg.Method, err)
			}
		} else {
			data, merr := json.Marshal(result)
			if merr != nil {
				reply.Error = toResponseError(msg.Method, fmt.Errorf("marshal result: %w", merr))
			} else {
				reply.Result = data
			}
		}
		if werr := mc.write(reply); werr != nil && !errors.Is(werr, ErrConnectionClosed) {
			log.Warn("Could not reply to %s: %v", msg.Method, werr)
		}
	}()
}

func (mc *MessageConnection) dispatchRequest(ctx context.Context, handlers []*handlerEntry[RequestHandler], msg *message) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("Request handler for %s panicked: %v", msg.Method, p)
			result = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	for _, h := range handlers {
		result, err = h.fn(ctx, msg.Method, msg.Params)
		if errors.Is(err, ErrMethodNotFound) {
			continue
		}
		return result, err
	}
	return nil, ErrMethodNotFound
}

// close shuts the message connection down. Pending requests fail with
// ErrConnectionClosed and in-flight request contexts are cancelled.
func (mc *MessageConnection) close() {
	mc.mu.Lock()
	if mc.closed {
		mc.mu.Unlock()
		return
	}
	mc.closed = true
	pending := mc.pending
	mc.pending = make(map[int64]chan response)
	mc.requests = nil
	mc.notifications = nil
	mc.mu.Unlock()

	mc.cancel()
	for _, ch := range pending {
		ch <- response{err: ErrConnectionClosed}
	}
	log.Debug("Message connection %s closed", mc.conn.ID())
	mc.onClose.Fire(struct{}{})
	mc.onClose.Dispose()
	mc.subs.Dispose()
}
