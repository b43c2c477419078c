// Package transport carries messaging.Connections over WebSockets.
//
// A client opens a WebSocket on the backend's socket endpoint and sends a
// connect handshake naming the logical path and the frontend session id. The
// server routes the connection and answers connected or connect_error. After
// that every text frame is one Connection message.
package transport

import "time"

// Options tune the WebSocket pumps.
type Options struct {
	// MaxMessageSize is the largest inbound frame accepted.
	MaxMessageSize int64
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// PongWait is how long a peer may stay silent before the link is dropped.
	PongWait time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
	// SendBuffer is the number of outbound messages queued per connection.
	SendBuffer int
}

// DefaultOptions returns the keepalive settings used when none are configured.
func DefaultOptions() Options {
	pongWait := 60 * time.Second
	return Options{
		MaxMessageSize: 16 << 20,
		WriteWait:      10 * time.Second,
		PongWait:       pongWait,
		PingPeriod:     (pongWait * 9) / 10,
		SendBuffer:     256,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	return o
}
