// Package graphqltransportws describes the graphql-transport-ws subprotocol
// https://github.com/enisdenjo/graphql-ws/blob/master/PROTOCOL.md
package graphqltransportws

import (
	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/graphql-go/graphql/gqlerrors"
)

const (
	// Subprotocol
	Subprotocol = "graphql-transport-ws"

	// Message types
	MsgConnectionInit protocol.MessageType = "connection_init"
	MsgConnectionAck  protocol.MessageType = "connection_ack"
	MsgPing           protocol.MessageType = "ping"
	MsgPong           protocol.MessageType = "pong"
	MsgSubscribe      protocol.MessageType = "subscribe"
	MsgNext           protocol.MessageType = "next"
	MsgError          protocol.MessageType = "error"
	MsgComplete       protocol.MessageType = "complete"

	// Close codes
	InternalServerError             protocol.CloseCode = 4500
	BadRequest                      protocol.CloseCode = 4400
	Unauthorized                    protocol.CloseCode = 4401
	Forbidden                       protocol.CloseCode = 4403
	ConnectionInitialisationTimeout protocol.CloseCode = 4408
	SubscriberAlreadyExists         protocol.CloseCode = 4409
	TooManyInitialisationRequests   protocol.CloseCode = 4429
)

type variant struct{}

// Protocol is the graphql-transport-ws variant
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
	case protocol.EventPing:
		return MsgPing, true
	case protocol.EventPong:
		return MsgPong, true
	case protocol.EventSubscribe:
		return MsgSubscribe, true
	case protocol.EventNext:
		return MsgNext, true
	case protocol.EventError:
		return MsgError, true
	case protocol.EventStop, protocol.EventComplete:
		return MsgComplete, true
	}
	return "", false
}

func (variant) Event(t protocol.MessageType) protocol.Event {
	switch t {
	case MsgConnectionInit:
		return protocol.EventConnectionInit
	case MsgPing:
		return protocol.EventPing
	case MsgPong:
		return protocol.EventPong
	case MsgSubscribe:
		return protocol.EventSubscribe
	case MsgComplete:
		return protocol.EventStop
	}
	return protocol.EventUnknown
}

func (variant) CloseCode(f protocol.Failure) (protocol.CloseCode, bool) {
	switch f {
	case protocol.FailureInvalidMessage:
		return BadRequest, true
	case protocol.FailureUnauthorized:
		return Unauthorized, true
	case protocol.FailureForbidden:
		return Forbidden, true
	case protocol.FailureInitTimeout:
		return ConnectionInitialisationTimeout, true
	case protocol.FailureTooManyInitialisationRequests:
		return TooManyInitialisationRequests, true
	case protocol.FailureSubscriberAlreadyExists:
		return SubscriberAlreadyExists, true
	}
	return InternalServerError, true
}

// ErrorPayload is always the list of GraphQL errors
func (variant) ErrorPayload(errs gqlerrors.FormattedErrors) interface{} {
	return errs
}

func (variant) InitTimeout() bool {
	return true
}

func (variant) KeepAlive() bool {
	return false
}

func (variant) ErrorCompletes() bool {
	return true
}
