package protocol

import (
	"encoding/json"
	"time"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/graphql-go/graphql/gqlerrors"
)

// MessageType is a wire message type name
type MessageType string

// CloseCode is a websocket close code
type CloseCode int

// Close codes shared by every subprotocol
const (
	NormalClosure       CloseCode = 1000
	GoingAway           CloseCode = 1001
	ProtocolError       CloseCode = 1002
	AbnormalClosure     CloseCode = 1006
	UnexpectedCondition CloseCode = 1011
)

// Thresholds
const (
	ReadLimit    = 1 << 20
	WriteTimeout = 10 * time.Second
)

// Event is the protocol independent meaning of a message
type Event int

const (
	EventUnknown Event = iota
	EventConnectionInit
	EventConnectionAck
	EventConnectionError
	EventConnectionTerminate
	EventKeepAlive
	EventPing
	EventPong
	EventSubscribe
	EventNext
	EventError
	// EventStop is a client asking to stop an operation
	EventStop
	// EventComplete is the server reporting an operation finished
	EventComplete
)

var eventNames = map[Event]string{
	EventUnknown:             "UNKNOWN",
	EventConnectionInit:      "CONNECTION_INIT",
	EventConnectionAck:       "CONNECTION_ACK",
	EventConnectionError:     "CONNECTION_ERROR",
	EventConnectionTerminate: "CONNECTION_TERMINATE",
	EventKeepAlive:           "KEEP_ALIVE",
	EventPing:                "PING",
	EventPong:                "PONG",
	EventSubscribe:           "SUBSCRIBE",
	EventNext:                "NEXT",
	EventError:               "ERROR",
	EventStop:                "STOP",
	EventComplete:            "COMPLETE",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "UNKNOWN"
}

// OperationScoped returns true if messages for the event carry an operation id
func (e Event) OperationScoped() bool {
	switch e {
	case EventSubscribe, EventNext, EventError, EventStop, EventComplete:
		return true
	}
	return false
}

// Failure is a connection level failure that a subprotocol may report with a
// close code
type Failure int

const (
	FailureInvalidMessage Failure = iota + 1
	FailureUnauthorized
	FailureForbidden
	FailureInitTimeout
	FailureTooManyInitialisationRequests
	FailureSubscriberAlreadyExists
	FailureInternal
)

var failureReasons = map[Failure]string{
	FailureInvalidMessage:                "Invalid message received",
	FailureUnauthorized:                  "Unauthorized",
	FailureForbidden:                     "Forbidden",
	FailureInitTimeout:                   "Connection initialisation timeout",
	FailureTooManyInitialisationRequests: "Too many initialisation requests",
	FailureSubscriberAlreadyExists:       "Subscriber already exists",
	FailureInternal:                      "Internal server error",
}

func (f Failure) String() string {
	if s, ok := failureReasons[f]; ok {
		return s
	}
	return "Unknown failure"
}

// OperationMessage is a message on the wire. The id is omitted on
// connection scoped messages.
type OperationMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HasPayload returns true if the payload field exists and is not null
func (m *OperationMessage) HasPayload() bool {
	return len(m.Payload) > 0 && string(m.Payload) != "null"
}

// SubscribePayload is the payload of a subscribe/start message
type SubscribePayload struct {
	OperationName string                 `json:"operationName,omitempty"`
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// Request converts the payload into an engine request
func (p *SubscribePayload) Request() engine.Request {
	return engine.Request{
		Query:         p.Query,
		Variables:     p.Variables,
		OperationName: p.OperationName,
		Extensions:    p.Extensions,
	}
}

// ExecutionResult is the payload of a next/data message
type ExecutionResult struct {
	Data       interface{}               `json:"data"`
	Errors     gqlerrors.FormattedErrors `json:"errors,omitempty"`
	Extensions map[string]interface{}    `json:"extensions,omitempty"`
}
