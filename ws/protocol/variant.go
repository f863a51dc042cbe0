package protocol

import "github.com/graphql-go/graphql/gqlerrors"

// Variant is everything that differs between the supported subprotocols.
// The connection state machine is written against events and failures and
// asks the variant for the literals.
type Variant interface {
	// Subprotocol is the Sec-WebSocket-Protocol name
	Subprotocol() string

	// MessageType returns the outbound message type for an event, false if
	// the subprotocol has no such message
	MessageType(e Event) (MessageType, bool)

	// Event returns the meaning of an inbound message type, EventUnknown if
	// clients may not send it
	Event(t MessageType) Event

	// CloseCode returns the close code for a failure. false means the
	// subprotocol reports the failure in-band and keeps the connection open.
	CloseCode(f Failure) (CloseCode, bool)

	// ErrorPayload shapes the payload of an error message
	ErrorPayload(errs gqlerrors.FormattedErrors) interface{}

	// InitTimeout is true if connection_init must arrive within a deadline
	InitTimeout() bool

	// KeepAlive is true if the server sends periodic keep alive messages
	KeepAlive() bool

	// ErrorCompletes is true if an error message ends the operation on the
	// client. Errors raised while an operation runs are then delivered as a
	// next message carrying only errors, followed by complete.
	ErrorCompletes() bool
}
