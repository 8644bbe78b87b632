package bus

import "time"

// Event is a domain event published on the bus. Kind uses dotted
// namespaces: "chat.*" for session traffic, "conversation.*" for
// roster changes, "session.*" for connection state.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
