package msgsock

// Action is the kind of event the server reports to its Handler.
type Action int

// Server actions.
const (
	ActionMessageReceived Action = iota
	ActionConnectionAdded
	ActionConnectionDropped
)

func (a Action) String() string {
	switch a {
	case ActionMessageReceived:
		return "message-received"
	case ActionConnectionAdded:
		return "connection-added"
	case ActionConnectionDropped:
		return "connection-dropped"
	default:
		return "unknown"
	}
}

// Handler receives connection lifecycle events and complete messages from a Server.
// All methods are called from the server loop goroutine; they may call Server.Send.
type Handler interface {
	// OnConnectionAdded is called after a connection was accepted and registered.
	OnConnectionAdded(sock Socket)
	// OnMessage is called with each complete message. The handler owns payload.
	OnMessage(sock Socket, payload []byte)
	// OnConnectionDropped is called once when a connection fails, before it is reaped.
	OnConnectionDropped(sock Socket)
}

// HandlerFuncs adapts plain functions to a Handler. Nil fields are ignored.
type HandlerFuncs struct {
	ConnectionAdded   func(sock Socket)
	Message           func(sock Socket, payload []byte)
	ConnectionDropped func(sock Socket)
}

func (h HandlerFuncs) OnConnectionAdded(sock Socket) {
	if h.ConnectionAdded != nil {
		h.ConnectionAdded(sock)
	}
}

func (h HandlerFuncs) OnMessage(sock Socket, payload []byte) {
	if h.Message != nil {
		h.Message(sock, payload)
	}
}

func (h HandlerFuncs) OnConnectionDropped(sock Socket) {
	if h.ConnectionDropped != nil {
		h.ConnectionDropped(sock)
	}
}

// Event is a server event delivered over a channel.
type Event struct {
	Action  Action
	Socket  Socket
	Payload []byte
}

// ChanHandler returns a Handler that forwards every event to ch.
// Sends block, so the consumer must keep up with the server loop.
func ChanHandler(ch chan<- Event) Handler {
	return chanHandler(ch)
}

type chanHandler chan<- Event

func (h chanHandler) OnConnectionAdded(sock Socket) {
	h <- Event{Action: ActionConnectionAdded, Socket: sock}
}

func (h chanHandler) OnMessage(sock Socket, payload []byte) {
	h <- Event{Action: ActionMessageReceived, Socket: sock, Payload: payload}
}

func (h chanHandler) OnConnectionDropped(sock Socket) {
	h <- Event{Action: ActionConnectionDropped, Socket: sock}
}
