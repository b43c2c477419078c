package messaging

import (
	"github.com/codefionn/workbench/internal/event"
	"github.com/codefionn/workbench/internal/statemachine"
	"github.com/google/uuid"
)

// State is the lifecycle state of a Connection.
type State int

const (
	// StateConnecting is the initial state, before the transport confirmed the link.
	StateConnecting State = iota
	// StateOpened means messages can flow.
	StateOpened
	// StateClosing means Close was requested and teardown is in progress.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpened:
		return "opened"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NewConnectionStateMachine returns the state machine every Connection follows.
// Opened -> Opened is allowed so a transport may re-announce an open link.
func NewConnectionStateMachine(initial State) *statemachine.StateMachine[State] {
	return statemachine.New(map[State][]State{
		StateConnecting: {StateOpened, StateClosing, StateClosed},
		StateOpened:     {StateOpened, StateClosing, StateClosed},
		StateClosing:    {StateClosed},
		StateClosed:     {},
	}, initial)
}

// Connection is one logical duplex message channel over one transport socket.
//
// Implementations are API adapters: they pass text frames through unchanged.
// The component that created the socket owns the Connection; routed handlers
// only borrow it.
type Connection interface {
	// ID is unique within the process.
	ID() string
	// Path is the logical route of the connection, used for routing. It is
	// not the HTTP endpoint the socket was opened on.
	Path() string
	State() State
	OnClose() event.Event[struct{}]
	OnError() event.Event[error]
	OnMessage() event.Event[string]
	SendMessage(message string) error
	Close() error
}

// IsClosed reports whether conn is closing or closed.
func IsClosed(conn Connection) bool {
	s := conn.State()
	return s == StateClosing || s == StateClosed
}

// BaseConnection implements the state and event plumbing shared by transport
// adapters. Adapters embed it and provide SendMessage and Close.
type BaseConnection struct {
	id        string
	path      string
	sm        *statemachine.StateMachine[State]
	onClose   *event.Emitter[struct{}]
	onError   *event.Emitter[error]
	onMessage *event.Emitter[string]
}

// NewBaseConnection creates a connecting BaseConnection for path.
func NewBaseConnection(path string) *BaseConnection {
	return &BaseConnection{
		id:        uuid.NewString(),
		path:      path,
		sm:        NewConnectionStateMachine(StateConnecting),
		onClose:   event.NewEmitter[struct{}](),
		onError:   event.NewEmitter[error](),
		onMessage: event.NewEmitter[string](),
	}
}

func (c *BaseConnection) ID() string   { return c.id }
func (c *BaseConnection) Path() string { return c.path }
func (c *BaseConnection) State() State { return c.sm.State() }

func (c *BaseConnection) OnClose() event.Event[struct{}] { return c.onClose.Event() }
func (c *BaseConnection) OnError() event.Event[error]    { return c.onError.Event() }
func (c *BaseConnection) OnMessage() event.Event[string] { return c.onMessage.Event() }

// Transition performs a strict state change.
func (c *BaseConnection) Transition(next State) error {
	return c.sm.MustSetState(next)
}

// TrySetState performs a state change if it is legal.
func (c *BaseConnection) TrySetState(next State) bool {
	return c.sm.SetState(next)
}

// FireMessage emits an inbound message unless the connection is closed.
func (c *BaseConnection) FireMessage(message string) {
	if c.sm.State() == StateClosed {
		return
	}
	c.onMessage.Fire(message)
}

// FireError emits a transport error. It does not change the state.
func (c *BaseConnection) FireError(err error) {
	if c.sm.State() == StateClosed {
		return
	}
	c.onError.Fire(err)
}

// MarkClosed moves the connection to closed and fires the close event. Only
// the first call has an effect; it reports whether this call closed the
// connection. All listeners are released afterwards.
func (c *BaseConnection) MarkClosed() bool {
	if !c.sm.SetState(StateClosed) {
		return false
	}
	c.onClose.Fire(struct{}{})
	c.onClose.Dispose()
	c.onError.Dispose()
	c.onMessage.Dispose()
	return true
}
