// Package gqlws serves GraphQL subscriptions over websockets using the
// graphql-transport-ws and legacy graphql-ws subprotocols.
package gqlws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/options"
	"github.com/bhoriuchi/gqlws/ws/connection"
	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/bhoriuchi/gqlws/ws/protocol/graphqltransportws"
	"github.com/bhoriuchi/gqlws/ws/protocol/graphqlws"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
)

// Variants are the subprotocols the server knows how to speak
var Variants = map[string]protocol.Variant{
	graphqltransportws.Subprotocol: graphqltransportws.Protocol,
	graphqlws.Subprotocol:          graphqlws.Protocol,
}

type Server struct {
	engine   engine.Engine
	log      *logger.LogWrapper
	options  *options.Options
	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mx          sync.RWMutex
	connections map[string]*connection.Connection
}

// New creates a server executing operations against the schema
func New(schema graphql.Schema, opts ...options.Option) *Server {
	return NewWithEngine(engine.New(schema), opts...)
}

// NewWithEngine creates a server executing operations with a custom engine
func NewWithEngine(e engine.Engine, opts ...options.Option) *Server {
	o := options.New(opts...)
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		engine:  e,
		log:     logger.NewLogWrapper(o.LogFunc, nil),
		options: o,
		ctx:     ctx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin:  o.CheckOriginFunc,
			Subprotocols: o.Subprotocols,
		},
		connections: map[string]*connection.Connection{},
	}
}

// isWSUpgrade identifies a websocket upgrade
func (s *Server) isWSUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.isWSUpgrade(r) {
		http.Error(w, "expected a websocket upgrade", http.StatusBadRequest)
		return
	}

	s.WSHandler(w, r)
}

// WSHandler handles websocket connection upgrade
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.ctx.Done():
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Establish a WebSocket connection
	s.log.Debugf("upgrading connection to websocket")
	ws, err := s.upgrader.Upgrade(w, r, nil)

	// Bail out if the WebSocket connection could not be established
	if err != nil {
		s.log.WithError(err).Warnf("failed to establish websocket connection")
		return
	}

	s.log.Debugf("client requested %q subprotocol", ws.Subprotocol())

	variant, ok := s.variant(ws.Subprotocol())
	if !ok {
		s.log.Warnf("connection does not implement a supported subprotocol: %q", ws.Subprotocol())
		s.closeWS(ws, websocket.CloseProtocolError, "connection does not implement a supported GraphQL subprotocol")
		return
	}

	c, err := connection.New(s.ctx, connection.NewSocket(ws), s.connectionConfig(variant, r))
	if err != nil {
		s.log.WithError(err).Errorf("failed to create connection")
		s.closeWS(ws, websocket.CloseInternalServerErr, "failed to create connection")
		return
	}

	if !s.track(c) {
		s.closeWS(ws, websocket.CloseGoingAway, "server is shutting down")
		return
	}
	defer s.untrack(c)

	if err := c.Run(); err != nil {
		s.log.WithField("connectionId", c.ID()).WithError(err).Errorf("connection failed")
	}
}

// variant returns the subprotocol implementation if it is enabled
func (s *Server) variant(name string) (protocol.Variant, bool) {
	for _, enabled := range s.options.Subprotocols {
		if enabled == name {
			v, ok := Variants[name]
			return v, ok
		}
	}
	return nil, false
}

func (s *Server) connectionConfig(variant protocol.Variant, r *http.Request) connection.Config {
	config := connection.Config{
		Variant:                   variant,
		Engine:                    s.engine,
		Hooks:                     s.options.Hooks,
		Logger:                    s.log,
		FormatErrorFunc:           s.options.FormatErrorFunc,
		Debug:                     s.options.Debug,
		KeepAlive:                 s.options.KeepAlive,
		ConnectionInitWaitTimeout: s.options.ConnectionInitWaitTimeout,
		OperationStopTimeout:      s.options.OperationStopTimeout,
	}

	if f := s.options.RootValueFunc; f != nil {
		config.RootValueFunc = func(ctx context.Context, req engine.Request) map[string]interface{} {
			return f(ctx, r, req)
		}
	}

	if f := s.options.ContextFunc; f != nil {
		config.ContextFunc = func(ctx context.Context, req engine.Request) (context.Context, error) {
			return f(ctx, r, req)
		}
	}

	return config
}

// track registers the connection unless the server is closing
func (s *Server) track(c *connection.Connection) bool {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.ctx.Err() != nil {
		return false
	}

	s.wg.Add(1)
	s.connections[c.ID()] = c
	return true
}

func (s *Server) untrack(c *connection.Connection) {
	s.mx.Lock()
	defer s.mx.Unlock()
	delete(s.connections, c.ID())
	s.wg.Done()
}

// ConnectionCount returns the number of open connections, for diagnostics
func (s *Server) ConnectionCount() int {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return len(s.connections)
}

// OperationCount returns the number of running operations across all
// connections, for diagnostics
func (s *Server) OperationCount() int {
	s.mx.RLock()
	defer s.mx.RUnlock()

	count := 0
	for _, c := range s.connections {
		count += c.OperationCount()
	}
	return count
}

// Close closes every connection with a going away code and waits for them
// to finish or ctx to be done
func (s *Server) Close(ctx context.Context) error {
	s.mx.Lock()
	s.cancel()
	s.mx.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connections did not close: %w", ctx.Err())
	}
}

// closeWS closes a websocket that never became a connection
func (s *Server) closeWS(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(100 * time.Millisecond)
	msg := websocket.FormatCloseMessage(code, reason)

	if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && err != websocket.ErrCloseSent {
		s.log.WithError(err).Debugf("failed to send close message")
	}

	if err := ws.Close(); err != nil {
		s.log.WithError(err).Errorf("failed to close websocket")
	}
}
