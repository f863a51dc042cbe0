// Package connection runs the GraphQL over WebSocket protocols. A single
// state machine and operation runner serve both subprotocols, the
// differences are looked up on the protocol.Variant the connection was
// created with.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/utils"
	"github.com/bhoriuchi/gqlws/utils/interval"
	"github.com/bhoriuchi/gqlws/ws/manager"
	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	errOperationStopped = errors.New("operation stopped")
)

// defaults
const (
	DefaultConnectionInitWaitTimeout = 3 * time.Second
	DefaultOperationStopTimeout      = 5 * time.Second
)

// State is the lifecycle state of a connection
type State int32

const (
	// StateAwaitingInit is the initial state. graphql-ws connections stay
	// in it until acknowledged.
	StateAwaitingInit State = iota
	StateInitReceived
	StateAcknowledged
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingInit:
		return "AwaitingInit"
	case StateInitReceived:
		return "InitReceived"
	case StateAcknowledged:
		return "Acknowledged"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

// Config defines the configuration parameters of a connection
type Config struct {
	Variant         protocol.Variant
	Engine          engine.Engine
	Hooks           Hooks
	Logger          *logger.LogWrapper
	FormatErrorFunc utils.FormatErrorFunc
	Debug           bool

	// KeepAlive is the keep alive period for subprotocols that send them.
	// 0 disables keep alive messages.
	KeepAlive time.Duration

	// ConnectionInitWaitTimeout is how long subprotocols with an init
	// deadline wait for connection_init
	ConnectionInitWaitTimeout time.Duration

	// OperationStopTimeout bounds how long stopping an operation waits for
	// its runner to exit
	OperationStopTimeout time.Duration

	// RootValueFunc provides the root object of an operation
	RootValueFunc func(ctx context.Context, req engine.Request) map[string]interface{}

	// ContextFunc may replace the context an operation executes with. An
	// error fails the operation.
	ContextFunc func(ctx context.Context, req engine.Request) (context.Context, error)
}

// frame is one read from the socket
type frame struct {
	data []byte
	err  error
}

// Connection is one client socket. State and the operation registry are
// only touched by the goroutine executing Run, everything else hands its
// events to it over channels.
type Connection struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	socket  Socket
	variant protocol.Variant
	config  Config
	log     *logger.LogWrapper

	// owned by Run
	operations       *manager.Registry
	connectionParams map[string]interface{}
	initTimer        *interval.Interval
	keepAlive        *interval.Interval
	closeCode        protocol.CloseCode
	closeReason      string

	state     *atomic.Int32
	opCount   *atomic.Int64
	closed    *atomic.Bool
	writeMx   sync.Mutex
	closeOnce sync.Once

	frames      chan frame
	completions chan completion
	timeouts    chan struct{}

	// done is closed when teardown begins
	done chan struct{}
}

// New creates a connection. ctx is the parent of every operation context,
// canceling it closes the connection.
func New(ctx context.Context, socket Socket, config Config) (*Connection, error) {
	if socket == nil {
		return nil, fmt.Errorf("no socket provided")
	}
	if config.Variant == nil {
		return nil, fmt.Errorf("no protocol variant provided")
	}
	if config.Engine == nil {
		return nil, fmt.Errorf("no engine provided")
	}
	if config.Hooks == nil {
		config.Hooks = NoopHooks{}
	}
	if config.Logger == nil {
		config.Logger = logger.NewNoopLogger()
	}
	if config.FormatErrorFunc == nil {
		config.FormatErrorFunc = utils.DefaultFormatError
	}
	if config.ConnectionInitWaitTimeout <= 0 {
		config.ConnectionInitWaitTimeout = DefaultConnectionInitWaitTimeout
	}
	if config.OperationStopTimeout <= 0 {
		config.OperationStopTimeout = DefaultOperationStopTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)

	c := &Connection{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		socket:  socket,
		variant: config.Variant,
		config:  config,
		log: config.Logger.
			WithField("connectionId", id).
			WithField("subprotocol", config.Variant.Subprotocol()),
		operations:  manager.NewRegistry(),
		state:       atomic.NewInt32(int32(StateAwaitingInit)),
		opCount:     atomic.NewInt64(0),
		closed:      atomic.NewBool(false),
		frames:      make(chan frame),
		completions: make(chan completion),
		timeouts:    make(chan struct{}),
		done:        make(chan struct{}),
	}

	return c, nil
}

// ID returns the connection id
func (c *Connection) ID() string {
	return c.id
}

// Context returns the connection context
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Subprotocol returns the name of the subprotocol spoken
func (c *Connection) Subprotocol() string {
	return c.variant.Subprotocol()
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	return State(c.state.Load())
}

// ConnectionParams returns the connection_init payload. Only safe to use
// from hooks.
func (c *Connection) ConnectionParams() map[string]interface{} {
	return c.connectionParams
}

// OperationCount returns the number of running operations, for diagnostics
func (c *Connection) OperationCount() int {
	return int(c.opCount.Load())
}

// Closed returns true once the connection started closing
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

func (c *Connection) setState(s State) {
	c.log.Tracef("state %s -> %s", c.State(), s)
	c.state.Store(int32(s))
}

// Run processes the connection until the socket closes. Inbound messages
// are handled one at a time.
func (c *Connection) Run() error {
	c.log.Debugf("connection opened")

	go c.readLoop()

	if c.variant.InitTimeout() {
		c.startInitTimer()
	}

	for !c.closed.Load() {
		select {
		case f := <-c.frames:
			if f.err != nil {
				c.handleReadError(f.err)
				break
			}
			c.handleMessage(f.data)

		case finished := <-c.completions:
			c.handleCompletion(finished)

		case <-c.timeouts:
			c.handleInitTimeout()

		case <-c.ctx.Done():
			c.close(protocol.GoingAway, "server shutting down")
		}
	}

	c.teardown()
	return nil
}

// readLoop reads one message at a time and hands it to Run
func (c *Connection) readLoop() {
	defer c.log.Tracef("exiting read loop")

	for {
		data, err := c.socket.ReadMessage()

		select {
		case c.frames <- frame{data: data, err: err}:
		case <-c.done:
			return
		}

		if err != nil {
			return
		}
	}
}

func (c *Connection) handleReadError(err error) {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		c.log.WithField("code", closeErr.Code).Debugf("client closed connection: %s", closeErr.Reason)
		c.close(closeErr.Code, closeErr.Reason)
		return
	}

	c.log.WithError(err).Debugf("read failed, closing connection")
	c.close(protocol.AbnormalClosure, err.Error())
}

// handleMessage decodes and dispatches a message by its event
func (c *Connection) handleMessage(data []byte) {
	msg, event, err := protocol.Decode(c.variant, data)
	if err != nil {
		c.log.WithError(err).Errorf("received invalid message")
		id := ""
		if msg != nil {
			id = msg.ID
		}
		c.reject(id, protocol.FailureInvalidMessage, err.Error())
		return
	}

	c.log.WithField("operationId", msg.ID).Tracef("received %s message", event)

	switch event {
	case protocol.EventConnectionInit:
		c.handleConnectionInit(msg)

	case protocol.EventConnectionTerminate:
		c.handleConnectionTerminate(msg)

	case protocol.EventPing:
		c.handlePing(msg)

	case protocol.EventPong:
		c.handlePong(msg)

	case protocol.EventSubscribe:
		c.handleSubscribe(msg)

	case protocol.EventStop:
		c.handleStop(msg)

	// Decode only returns events the variant accepts from clients, anything
	// else here is a bug
	default:
		err := fmt.Errorf("unexpected %s message", event)
		c.log.WithError(err).Errorf("failed to dispatch message")
		c.reject(msg.ID, protocol.FailureInvalidMessage, err.Error())
	}
}

// reject reports a protocol violation. Subprotocols with a close code for
// the failure close the connection, the others report it in a message.
func (c *Connection) reject(id string, f protocol.Failure, reason string) {
	if code, ok := c.variant.CloseCode(f); ok {
		c.log.WithField("code", code).Errorf("closing connection: %s", reason)
		c.close(code, reason)
		return
	}

	payload := map[string]interface{}{"message": reason}

	switch f {
	case protocol.FailureUnauthorized, protocol.FailureForbidden:
		if err := c.send(protocol.EventConnectionError, "", payload); err != nil {
			c.log.WithError(err).Debugf("failed to send connection error")
		}
	default:
		errs := utils.GQLErrors(fmt.Errorf("%s", reason))
		if err := c.send(protocol.EventError, id, c.variant.ErrorPayload(errs)); err != nil {
			c.log.WithError(err).Debugf("failed to send error")
		}
	}
}

// send writes a message for the event
func (c *Connection) send(e protocol.Event, id string, payload interface{}) error {
	return c.write(nil, e, id, payload)
}

// sendOperation writes a message for a running operation. Nothing is sent
// once the operation has been stopped.
func (c *Connection) sendOperation(op *manager.Operation, e protocol.Event, payload interface{}) error {
	return c.write(op, e, op.ID, payload)
}

func (c *Connection) write(op *manager.Operation, e protocol.Event, id string, payload interface{}) error {
	msg, err := protocol.NewMessage(c.variant, e, id, payload)
	if err != nil {
		return err
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMx.Lock()
	defer c.writeMx.Unlock()

	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if op != nil && op.Stopped() {
		return errOperationStopped
	}

	if err := c.socket.WriteMessage(data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", e, err)
	}

	return nil
}

// close marks the connection closed and sends the close frame. Run tears
// the connection down afterwards.
func (c *Connection) close(code protocol.CloseCode, reason string) {
	c.closeOnce.Do(func() {
		c.writeMx.Lock()
		c.closed.Store(true)
		c.closeCode = code
		c.closeReason = reason
		if err := c.socket.Close(code, reason); err != nil {
			c.log.WithError(err).Tracef("failed to close socket")
		}
		c.writeMx.Unlock()

		c.log.WithField("code", code).Infof("closed connection: %s", reason)
	})
}

// teardown stops every operation and runs the disconnect hook
func (c *Connection) teardown() {
	c.setState(StateClosing)
	close(c.done)
	c.stopTimers()

	for _, op := range c.operations.RemoveAll() {
		c.stopOperation(op)
	}
	c.opCount.Store(0)

	c.onDisconnect(c.closeCode, c.closeReason)
	c.cancel()
	c.setState(StateClosed)
	c.log.Debugf("connection closed")
}

// stopOperation cancels a removed operation and waits for its runner
func (c *Connection) stopOperation(op *manager.Operation) {
	log := c.log.WithField("operationId", op.ID)

	op.Stop()
	if !op.Wait(c.config.OperationStopTimeout) {
		log.Warnf("operation did not stop within %s", c.config.OperationStopTimeout)
	}

	c.onComplete(op)
	log.Debugf("operation %q stopped", op.Name)
}

// decodeParams reads the connection_init payload
func decodeParams(msg *protocol.OperationMessage) (map[string]interface{}, error) {
	if !msg.HasPayload() {
		return nil, nil
	}

	params := map[string]interface{}{}
	if err := json.Unmarshal(msg.Payload, &params); err != nil {
		return nil, err
	}

	return params, nil
}
