package connection

import (
	"fmt"

	"github.com/bhoriuchi/gqlws/ws/protocol"
)

// handleConnectionInit runs the onConnect hook and acknowledges the connection
func (c *Connection) handleConnectionInit(msg *protocol.OperationMessage) {
	if c.State() != StateAwaitingInit {
		c.reject("", protocol.FailureTooManyInitialisationRequests, protocol.FailureTooManyInitialisationRequests.String())
		return
	}

	params, err := decodeParams(msg)
	if err != nil {
		c.log.WithError(err).Errorf("invalid connection_init payload")
		c.reject("", protocol.FailureInvalidMessage, err.Error())
		return
	}

	c.setState(StateInitReceived)
	c.connectionParams = params

	payloadOrPermitted, err := c.onConnect(params)
	if err != nil {
		c.refuse(err.Error())
		return
	}

	var payload interface{}
	switch v := payloadOrPermitted.(type) {
	case bool:
		if !v {
			c.log.Errorf("onConnect hook returned false")
			c.refuse(protocol.FailureForbidden.String())
			return
		}
	default:
		payload = v
	}

	if err := c.send(protocol.EventConnectionAck, "", payload); err != nil {
		c.log.WithError(err).Errorf("failed to acknowledge connection")
		c.close(c.internalCloseCode(), err.Error())
		return
	}

	c.setState(StateAcknowledged)
	c.log.Debugf("acknowledged connection")

	if c.variant.KeepAlive() && c.config.KeepAlive > 0 {
		c.startKeepAlive()
	}
}

// refuse fails the connection after onConnect refused it. Subprotocols
// without a close code for it are told with a connection_error message
// before the socket is closed.
func (c *Connection) refuse(reason string) {
	c.reject("", protocol.FailureForbidden, reason)
	if !c.closed.Load() {
		c.close(protocol.UnexpectedCondition, fmt.Sprintf("connection refused: %s", reason))
	}
}

// internalCloseCode is the close code for unexpected server failures
func (c *Connection) internalCloseCode() protocol.CloseCode {
	if code, ok := c.variant.CloseCode(protocol.FailureInternal); ok {
		return code
	}
	return protocol.UnexpectedCondition
}
