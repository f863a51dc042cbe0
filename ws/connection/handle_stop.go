package connection

import "github.com/bhoriuchi/gqlws/ws/protocol"

// handleStop stops the operation the client no longer wants. Unknown ids are
// ignored, the operation may have completed already.
func (c *Connection) handleStop(msg *protocol.OperationMessage) {
	op := c.operations.Remove(msg.ID)
	if op == nil {
		c.log.WithField("operationId", msg.ID).Tracef("no operation to stop")
		return
	}

	c.opCount.Dec()
	c.stopOperation(op)
}
