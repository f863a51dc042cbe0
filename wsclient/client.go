// Package wsclient is a small client for GraphQL over websocket servers. It
// speaks both graphql-transport-ws and graphql-ws.
package wsclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/utils"
	"github.com/bhoriuchi/gqlws/utils/backoff"
	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/bhoriuchi/gqlws/ws/protocol/graphqltransportws"
	"github.com/bhoriuchi/gqlws/ws/protocol/graphqlws"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql/gqlerrors"
)

const (
	defaultAckTimeout = 5 * time.Second
	defaultRetries    = 3
	resultBuffer      = 64
)

var (
	// ErrClosed is returned when using a closed client
	ErrClosed = errors.New("client closed")
)

// Options client options
type Options struct {
	URL              string
	Subprotocol      string
	ConnectionParams map[string]interface{}
	Header           http.Header
	Insecure         bool
	AckTimeout       time.Duration
	Retries          int
	Backoff          *backoff.Options
	LogFunc          logger.LogFunc
}

// Result is one result of an operation
type Result struct {
	Data       map[string]interface{}    `json:"data,omitempty"`
	Errors     gqlerrors.FormattedErrors `json:"errors,omitempty"`
	Extensions map[string]interface{}    `json:"extensions,omitempty"`
}

// Decode converts the result data into out
func (r *Result) Decode(out interface{}) error {
	return utils.ReMarshal(r.Data, out)
}

// Client a graphql websocket client
type Client struct {
	ws         *websocket.Conn
	variant    protocol.Variant
	log        *logger.LogWrapper
	ackPayload json.RawMessage
	writeMx    sync.Mutex

	mx   sync.Mutex
	subs map[string]*Subscription
	err  error

	done chan struct{}
}

// Dial connects and waits for the server to acknowledge the connection.
// Dial failures are retried with exponential backoff.
func Dial(ctx context.Context, opts *Options) (*Client, error) {
	if opts == nil || opts.URL == "" {
		return nil, fmt.Errorf("no url provided")
	}

	name := opts.Subprotocol
	if name == "" {
		name = graphqltransportws.Subprotocol
	}

	var variant protocol.Variant
	switch name {
	case graphqltransportws.Subprotocol:
		variant = graphqltransportws.Protocol
	case graphqlws.Subprotocol:
		variant = graphqlws.Protocol
	default:
		return nil, fmt.Errorf("unsupported subprotocol %q", name)
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = defaultRetries
	}

	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}

	log := logger.NewLogWrapper(opts.LogFunc, nil).WithField("subprotocol", name)

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{name},
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.Insecure,
		},
	}

	b := backoff.NewBackoff(opts.Backoff)

	var (
		ws  *websocket.Conn
		err error
	)

	for {
		ws, _, err = dialer.DialContext(ctx, opts.URL, opts.Header)
		if err == nil {
			break
		}

		if b.Attempts()+1 >= retries {
			return nil, fmt.Errorf("failed to connect to %s: %w", opts.URL, err)
		}

		log.WithError(err).Warnf("dial failed, retrying")
		if werr := b.Wait(ctx); werr != nil {
			return nil, werr
		}
	}

	if ws.Subprotocol() != name {
		ws.Close()
		return nil, fmt.Errorf("server did not accept subprotocol %q", name)
	}

	c := &Client{
		ws:      ws,
		variant: variant,
		log:     log,
		subs:    map[string]*Subscription{},
		done:    make(chan struct{}),
	}

	if err := c.init(opts.ConnectionParams, ackTimeout); err != nil {
		ws.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// init performs the connection_init handshake
func (c *Client) init(params map[string]interface{}, timeout time.Duration) error {
	var payload interface{}
	if params != nil {
		payload = params
	}

	if err := c.send(protocol.EventConnectionInit, "", payload); err != nil {
		return err
	}

	if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer c.ws.SetReadDeadline(time.Time{})

	ack, _ := c.variant.MessageType(protocol.EventConnectionAck)
	connErr, _ := c.variant.MessageType(protocol.EventConnectionError)
	keepAlive, _ := c.variant.MessageType(protocol.EventKeepAlive)

	for {
		msg, err := c.read()
		if err != nil {
			return fmt.Errorf("connection was not acknowledged: %w", err)
		}

		switch {
		case msg.Type == ack:
			c.ackPayload = msg.Payload
			return nil
		case keepAlive != "" && msg.Type == keepAlive:
			continue
		case connErr != "" && msg.Type == connErr:
			return fmt.Errorf("connection refused: %s", string(msg.Payload))
		}

		return fmt.Errorf("unexpected %q message before connection_ack", msg.Type)
	}
}

// AckPayload returns the payload of the connection_ack message
func (c *Client) AckPayload() json.RawMessage {
	return c.ackPayload
}

// Subprotocol returns the subprotocol spoken
func (c *Client) Subprotocol() string {
	return c.variant.Subprotocol()
}

// Subscribe starts an operation. Results are delivered on the subscription
// channel until the operation completes.
func (c *Client) Subscribe(req engine.Request) (*Subscription, error) {
	sub := &Subscription{
		ID:      uuid.NewString(),
		client:  c,
		results: make(chan *Result, resultBuffer),
		done:    make(chan struct{}),
	}

	c.mx.Lock()
	if c.err != nil {
		c.mx.Unlock()
		return nil, c.err
	}
	c.subs[sub.ID] = sub
	c.mx.Unlock()

	if err := c.send(protocol.EventSubscribe, sub.ID, req); err != nil {
		c.remove(sub.ID)
		return nil, err
	}

	return sub, nil
}

// Execute runs an operation and returns its first result
func (c *Client) Execute(ctx context.Context, req engine.Request) (*Result, error) {
	sub, err := c.Subscribe(req)
	if err != nil {
		return nil, err
	}
	defer sub.Stop()

	select {
	case res, ok := <-sub.Results():
		if !ok {
			if err := sub.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("operation completed without a result")
		}
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the connection
func (c *Client) Close() error {
	if t, ok := c.variant.MessageType(protocol.EventConnectionTerminate); ok && t != "" {
		if err := c.send(protocol.EventConnectionTerminate, "", nil); err != nil {
			c.log.WithError(err).Debugf("failed to send connection_terminate")
		}
	}

	c.writeMx.Lock()
	err := c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
		time.Now().Add(time.Second),
	)
	c.writeMx.Unlock()
	if err != nil && err != websocket.ErrCloseSent {
		c.log.WithError(err).Debugf("failed to send close message")
	}

	select {
	case <-c.done:
	case <-time.After(time.Second):
		c.ws.Close()
		<-c.done
	}

	return nil
}

// Done is closed when the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended
func (c *Client) Err() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.ws.Close()

	next, _ := c.variant.MessageType(protocol.EventNext)
	errType, _ := c.variant.MessageType(protocol.EventError)
	complete, _ := c.variant.MessageType(protocol.EventComplete)
	ping, _ := c.variant.MessageType(protocol.EventPing)

	for {
		msg, err := c.read()
		if err != nil {
			c.fail(err)
			return
		}

		switch {
		case msg.Type == next:
			res := &Result{}
			if err := json.Unmarshal(msg.Payload, res); err != nil {
				c.log.WithError(err).Errorf("invalid result payload")
				continue
			}
			c.deliver(msg.ID, res)

		case msg.Type == errType:
			c.finish(msg.ID, fmt.Errorf("operation failed: %s", string(msg.Payload)))

		case msg.Type == complete:
			c.finish(msg.ID, nil)

		case ping != "" && msg.Type == ping:
			if err := c.send(protocol.EventPong, "", msg.Payload); err != nil {
				c.log.WithError(err).Debugf("failed to send pong")
			}

		default:
			c.log.Tracef("ignoring %q message", msg.Type)
		}
	}
}

func (c *Client) read() (*protocol.OperationMessage, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	msg := &protocol.OperationMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	return msg, nil
}

func (c *Client) send(e protocol.Event, id string, payload interface{}) error {
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

	if err := c.ws.SetWriteDeadline(time.Now().Add(protocol.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) get(id string) *Subscription {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.subs[id]
}

func (c *Client) remove(id string) *Subscription {
	c.mx.Lock()
	defer c.mx.Unlock()

	sub := c.subs[id]
	delete(c.subs, id)
	return sub
}

func (c *Client) deliver(id string, res *Result) {
	sub := c.get(id)
	if sub == nil {
		return
	}

	sub.mx.RLock()
	defer sub.mx.RUnlock()

	select {
	case <-sub.done:
		return
	default:
	}

	select {
	case sub.results <- res:
	case <-sub.done:
	}
}

func (c *Client) finish(id string, err error) {
	if sub := c.remove(id); sub != nil {
		sub.end(err)
	}
}

// fail ends every subscription when the connection is lost
func (c *Client) fail(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		err = ErrClosed
	}

	c.mx.Lock()
	c.err = err
	subs := c.subs
	c.subs = map[string]*Subscription{}
	c.mx.Unlock()

	for _, sub := range subs {
		sub.end(err)
	}
}

// Subscription is a running operation
type Subscription struct {
	ID      string
	client  *Client
	results chan *Result
	done    chan struct{}
	once    sync.Once
	err     error

	// mx guards results against a close while the read loop is sending
	mx sync.RWMutex
}

// Results is closed when the operation ends
func (s *Subscription) Results() <-chan *Result {
	return s.results
}

// Err returns the error that ended the operation, if any
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Stop asks the server to stop the operation
func (s *Subscription) Stop() {
	if s.client.remove(s.ID) == nil {
		return
	}

	if err := s.client.send(protocol.EventStop, s.ID, nil); err != nil {
		s.client.log.WithError(err).Debugf("failed to stop operation")
	}
	s.end(nil)
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)

		s.mx.Lock()
		close(s.results)
		s.mx.Unlock()
	})
}
