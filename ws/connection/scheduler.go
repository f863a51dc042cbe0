package connection

import (
	"github.com/bhoriuchi/gqlws/utils/interval"
	"github.com/bhoriuchi/gqlws/ws/protocol"
)

// startInitTimer posts a timeout to Run once the init wait is over. The
// timer is never reset, Run ignores it if connection_init already arrived.
func (c *Connection) startInitTimer() {
	c.initTimer = interval.SetTimeout(func() {
		select {
		case c.timeouts <- struct{}{}:
		case <-c.done:
		}
	}, c.config.ConnectionInitWaitTimeout)
}

func (c *Connection) handleInitTimeout() {
	if c.State() != StateAwaitingInit {
		return
	}

	f := protocol.FailureInitTimeout
	c.log.Errorf("no connection_init within %s", c.config.ConnectionInitWaitTimeout)
	c.reject("", f, f.String())
}

// startKeepAlive sends a keep alive message now and every period after
// until a send fails
func (c *Connection) startKeepAlive() {
	if err := c.send(protocol.EventKeepAlive, "", nil); err != nil {
		c.log.WithError(err).Debugf("failed to send keep alive")
		return
	}

	c.keepAlive = interval.SetInterval(func(i *interval.Interval) {
		if err := c.send(protocol.EventKeepAlive, "", nil); err != nil {
			c.log.WithError(err).Debugf("failed to send keep alive, stopping")
			i.Clear()
		}
	}, c.config.KeepAlive)
}

func (c *Connection) stopTimers() {
	if c.initTimer != nil {
		interval.ClearTimeout(c.initTimer)
	}
	if c.keepAlive != nil {
		interval.ClearInterval(c.keepAlive)
	}
}
