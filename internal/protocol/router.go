package protocol

// Handler receives typed inbound events from a Router.
type Handler interface {
	BotDelta(event BotDelta)
	UserDelta(event UserDelta)
	UserCompleted(event UserCompleted)
	UserFailed(event UserFailed)
	TurnDone(event TurnDone)
	ServerError(event ServerError)
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithMessageObserver registers a callback that sees every well-formed
// payload before type-specific dispatch.
func WithMessageObserver(fn func(eventType string, payload []byte)) RouterOption {
	return func(r *Router) {
		r.onMessage = fn
	}
}

// WithParseErrorHandler registers a callback for payloads that fail to decode.
func WithParseErrorHandler(fn func(err error, payload []byte)) RouterOption {
	return func(r *Router) {
		r.onParseError = fn
	}
}

// Router decodes raw payloads and routes them to a Handler. It never
// panics or returns an error into the delivery path.
type Router struct {
	handler      Handler
	onMessage    func(eventType string, payload []byte)
	onParseError func(err error, payload []byte)
}

func NewRouter(handler Handler, opts ...RouterOption) *Router {
	r := &Router{handler: handler}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleRaw parses one payload and dispatches it.
func (r *Router) HandleRaw(payload []byte) {
	event, err := Parse(payload)
	if err != nil {
		if r.onParseError != nil {
			r.onParseError(err, payload)
		}
		return
	}

	if r.onMessage != nil {
		r.onMessage(event.EventType(), payload)
	}
	r.Dispatch(event)
}

// Dispatch routes an already decoded event.
func (r *Router) Dispatch(event ServerEvent) {
	if r.handler == nil {
		return
	}
	switch ev := event.(type) {
	case BotDelta:
		r.handler.BotDelta(ev)
	case UserDelta:
		r.handler.UserDelta(ev)
	case UserCompleted:
		r.handler.UserCompleted(ev)
	case UserFailed:
		r.handler.UserFailed(ev)
	case TurnDone:
		r.handler.TurnDone(ev)
	case ServerError:
		r.handler.ServerError(ev)
	case Unknown:
	}
}
