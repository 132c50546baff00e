package socket

// Handler receives lifecycle callbacks for upgraded connections. One
// handler is active for the server's lifetime; each connection is
// dispatched to it independently.
//
// OnClose is invoked exactly once per connection, after the read loop
// ends, with the peer's close code and reason when one was received.
type Handler interface {
	OnOpen(c *Conn)
	OnMessage(c *Conn, payload []byte)
	OnClose(c *Conn, code int, reason string)
}

// HandlerFuncs adapts plain functions to Handler. Nil callbacks are
// skipped.
type HandlerFuncs struct {
	Open    func(c *Conn)
	Message func(c *Conn, payload []byte)
	Close   func(c *Conn, code int, reason string)
}

func (h HandlerFuncs) OnOpen(c *Conn) {
	if h.Open != nil {
		h.Open(c)
	}
}

func (h HandlerFuncs) OnMessage(c *Conn, payload []byte) {
	if h.Message != nil {
		h.Message(c, payload)
	}
}

func (h HandlerFuncs) OnClose(c *Conn, code int, reason string) {
	if h.Close != nil {
		h.Close(c, code, reason)
	}
}
