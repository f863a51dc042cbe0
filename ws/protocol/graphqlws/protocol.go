// Package graphqlws describes the legacy graphql-ws subprotocol
// https://github.com/apollographql/subscriptions-transport-ws/blob/master/PROTOCOL.md
package graphqlws

import (
	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/graphql-go/graphql/gqlerrors"
)

const (
	// Subprotocol
	Subprotocol = "graphql-ws"

	// Message types
	MsgConnectionInit      protocol.MessageType = "connection_init"
	MsgConnectionAck       protocol.MessageType = "connection_ack"
	MsgKeepAlive           protocol.MessageType = "ka"
	MsgConnectionError     protocol.MessageType = "connection_error"
	MsgConnectionTerminate protocol.MessageType = "connection_terminate"
	MsgStart               protocol.MessageType = "start"
	MsgData                protocol.MessageType = "data"
	MsgError               protocol.MessageType = "error"
	MsgComplete            protocol.MessageType = "complete"
	MsgStop                protocol.MessageType = "stop"
)

type variant struct{}

// Protocol is the graphql-ws variant
var Protocol protocol.Variant = variant{}

func (variant) Subprotocol() string {
	return Subprotocol
}

func (variant) MessageType(e protocol.Event) (protocol.MessageType, bool) {
	switch e {
	case protocol.EventConnectionInit:
		return MsgConnectionInit, true
	case protocol.EventConnectionAck:
		return MsgConnectionAck, true
	case protocol.EventConnectionError:
		return MsgConnectionError, true
	case protocol.EventConnectionTerminate:
		return MsgConnectionTerminate, true
	case protocol.EventKeepAlive:
		return MsgKeepAlive, true
	case protocol.EventSubscribe:
		return MsgStart, true
	case protocol.EventNext:
		return MsgData, true
	case protocol.EventError:
		return MsgError, true
	case protocol.EventStop:
		return MsgStop, true
	case protocol.EventComplete:
		return MsgComplete, true
	}
	return "", false
}

func (variant) Event(t protocol.MessageType) protocol.Event {
	switch t {
	case MsgConnectionInit:
		return protocol.EventConnectionInit
	case MsgConnectionTerminate:
		return protocol.EventConnectionTerminate
	case MsgStart:
		return protocol.EventSubscribe
	case MsgStop:
		return protocol.EventStop
	}
	return protocol.EventUnknown
}

// CloseCode never closes, graphql-ws reports failures with error and
// connection_error messages
func (variant) CloseCode(f protocol.Failure) (protocol.CloseCode, bool) {
	return 0, false
}

// ErrorPayload sends a single error as an object, which is what
// subscriptions-transport-ws clients read, and several as a list
func (variant) ErrorPayload(errs gqlerrors.FormattedErrors) interface{} {
	if len(errs) == 1 {
		return errs[0]
	}
	return errs
}

func (variant) InitTimeout() bool {
	return false
}

func (variant) KeepAlive() bool {
	return true
}

func (variant) ErrorCompletes() bool {
	return false
}
