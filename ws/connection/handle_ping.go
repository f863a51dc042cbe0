package connection

import "github.com/bhoriuchi/gqlws/ws/protocol"

// handlePing answers with a pong carrying the same payload
func (c *Connection) handlePing(msg *protocol.OperationMessage) {
	// the connection may be closing, a lost pong does not matter
	if err := c.send(protocol.EventPong, "", msg.Payload); err != nil {
		c.log.WithError(err).Debugf("failed to send pong")
	}
}

// handlePong accepts unsolicited pongs
func (c *Connection) handlePong(msg *protocol.OperationMessage) {
	c.log.Tracef("received pong")
}
