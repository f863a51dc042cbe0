package connection

import (
	"errors"
	"fmt"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/ws/manager"
	"github.com/bhoriuchi/gqlws/ws/protocol"
)

// Hooks are callbacks invoked at connection and operation lifecycle
// transitions. Embed NoopHooks to implement only some of them.
type Hooks interface {
	// OnConnect runs when connection_init arrives and before the connection is
	// acknowledged. Returning an error or false refuses the connection. A map
	// is sent as the connection_ack payload.
	OnConnect(c *Connection, params map[string]interface{}) (interface{}, error)

	// OnDisconnect runs once after the socket closed and every operation has
	// been stopped
	OnDisconnect(c *Connection, code protocol.CloseCode, reason string) error

	// OnOperation runs after an operation has been registered and started
	OnOperation(c *Connection, op *manager.Operation, req engine.Request) error

	// OnComplete runs when an operation finishes, is stopped by the client or
	// is stopped because the connection closed
	OnComplete(c *Connection, op *manager.Operation) error
}

// NoopHooks implements every hook as a no-op
type NoopHooks struct{}

func (NoopHooks) OnConnect(c *Connection, params map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func (NoopHooks) OnDisconnect(c *Connection, code protocol.CloseCode, reason string) error {
	return nil
}

func (NoopHooks) OnOperation(c *Connection, op *manager.Operation, req engine.Request) error {
	return nil
}

func (NoopHooks) OnComplete(c *Connection, op *manager.Operation) error {
	return nil
}

// HookFuncs implements Hooks with optional functions
type HookFuncs struct {
	OnConnectFunc    func(c *Connection, params map[string]interface{}) (interface{}, error)
	OnDisconnectFunc func(c *Connection, code protocol.CloseCode, reason string) error
	OnOperationFunc  func(c *Connection, op *manager.Operation, req engine.Request) error
	OnCompleteFunc   func(c *Connection, op *manager.Operation) error
}

func (h HookFuncs) OnConnect(c *Connection, params map[string]interface{}) (interface{}, error) {
	if h.OnConnectFunc == nil {
		return nil, nil
	}
	return h.OnConnectFunc(c, params)
}

func (h HookFuncs) OnDisconnect(c *Connection, code protocol.CloseCode, reason string) error {
	if h.OnDisconnectFunc == nil {
		return nil
	}
	return h.OnDisconnectFunc(c, code, reason)
}

func (h HookFuncs) OnOperation(c *Connection, op *manager.Operation, req engine.Request) error {
	if h.OnOperationFunc == nil {
		return nil
	}
	return h.OnOperationFunc(c, op, req)
}

func (h HookFuncs) OnComplete(c *Connection, op *manager.Operation) error {
	if h.OnCompleteFunc == nil {
		return nil
	}
	return h.OnCompleteFunc(c, op)
}

// hookPanic is a recovered hook panic. Its text is logged but only shown
// to clients in debug mode.
type hookPanic struct {
	hook  string
	value interface{}
}

func (p *hookPanic) Error() string {
	return fmt.Sprintf("%s hook panicked: %v", p.hook, p.value)
}

// callHook runs fn and turns a panic into an error
func callHook(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &hookPanic{hook: name, value: r}
		}
	}()

	return fn()
}

// onConnect is the only hook whose failure changes protocol state. The
// returned error is meant for the client.
func (c *Connection) onConnect(params map[string]interface{}) (interface{}, error) {
	var result interface{}

	err := callHook("onConnect", func() error {
		var err error
		result, err = c.config.Hooks.OnConnect(c, params)
		return err
	})
	if err != nil {
		c.log.WithError(err).Errorf("onConnect hook failed")

		var panicked *hookPanic
		if errors.As(err, &panicked) && !c.config.Debug {
			return nil, errors.New(protocol.FailureInternal.String())
		}
		return nil, err
	}

	return result, nil
}

func (c *Connection) onDisconnect(code protocol.CloseCode, reason string) {
	if err := callHook("onDisconnect", func() error {
		return c.config.Hooks.OnDisconnect(c, code, reason)
	}); err != nil {
		c.log.WithError(err).Errorf("onDisconnect hook failed")
	}
}

func (c *Connection) onOperation(op *manager.Operation, req engine.Request) {
	if err := callHook("onOperation", func() error {
		return c.config.Hooks.OnOperation(c, op, req)
	}); err != nil {
		c.log.WithField("operationId", op.ID).WithError(err).Errorf("onOperation hook failed")
	}
}

func (c *Connection) onComplete(op *manager.Operation) {
	if err := callHook("onComplete", func() error {
		return c.config.Hooks.OnComplete(c, op)
	}); err != nil {
		c.log.WithField("operationId", op.ID).WithError(err).Errorf("onComplete hook failed")
	}
}
