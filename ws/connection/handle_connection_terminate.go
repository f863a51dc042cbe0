package connection

import "github.com/bhoriuchi/gqlws/ws/protocol"

// handleConnectionTerminate closes the connection at the client's request
func (c *Connection) handleConnectionTerminate(msg *protocol.OperationMessage) {
	c.close(protocol.NormalClosure, "connection terminated by client")
}
