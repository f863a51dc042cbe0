package gqlws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bhoriuchi/gqlws"
	"github.com/bhoriuchi/gqlws/options"
	"github.com/bhoriuchi/gqlws/ws/connection"
	"github.com/bhoriuchi/gqlws/ws/protocol/graphqltransportws"
	"github.com/bhoriuchi/gqlws/ws/protocol/graphqlws"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func testSchema(t *testing.T) graphql.Schema {
	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name: "Query",
			Fields: graphql.Fields{
				"hello": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return "world", nil
					},
				},
			},
		}),
		Subscription: graphql.NewObject(graphql.ObjectConfig{
			Name: "Subscription",
			Fields: graphql.Fields{
				"greetings": &graphql.Field{
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{
						"count": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: -1},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						count := p.Args["count"].(int)
						c := make(chan interface{})
						go func() {
							defer close(c)
							for i := 0; count < 0 || i < count; i++ {
								select {
								case <-p.Context.Done():
									return
								case c <- "hi":
								}
								if count < 0 {
									time.Sleep(10 * time.Millisecond)
								}
							}
						}()
						return c, nil
					},
				},
			},
		}),
	})
	require.NoError(t, err)
	return schema
}

type testServer struct {
	*gqlws.Server
	url string
}

func newTestServer(t *testing.T, opts ...options.Option) *testServer {
	server := gqlws.New(testSchema(t), opts...)
	httpServer := httptest.NewServer(server)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, server.Close(ctx))
		httpServer.Close()
	})

	return &testServer{
		Server: server,
		url:    "ws" + strings.TrimPrefix(httpServer.URL, "http"),
	}
}

func (s *testServer) dial(t *testing.T, subprotocol string) *websocket.Conn {
	dialer := websocket.Dialer{Subprotocols: []string{subprotocol}}
	ws, _, err := dialer.Dial(s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, raw string) {
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func next(t *testing.T, ws *websocket.Conn) *message {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	msg := &message{}
	require.NoError(t, json.Unmarshal(data, msg))
	return msg
}

func closed(t *testing.T, ws *websocket.Conn) *websocket.CloseError {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}

		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected a close frame, got %v", err)
		return closeErr
	}
}

func TestNonUpgradeRequest(t *testing.T) {
	server := gqlws.New(testSchema(t))
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnsupportedSubprotocol(t *testing.T) {
	s := newTestServer(t)
	ws := s.dial(t, "graphql-sse")

	assert.Empty(t, ws.Subprotocol())
	assert.Equal(t, websocket.CloseProtocolError, closed(t, ws).Code)
}

func TestDisabledSubprotocol(t *testing.T) {
	s := newTestServer(t, options.WithSubprotocols(graphqltransportws.Subprotocol))
	ws := s.dial(t, graphqlws.Subprotocol)

	assert.Equal(t, websocket.CloseProtocolError, closed(t, ws).Code)
}

func TestTransportSubscription(t *testing.T) {
	s := newTestServer(t)
	ws := s.dial(t, graphqltransportws.Subprotocol)
	assert.Equal(t, graphqltransportws.Subprotocol, ws.Subprotocol())

	send(t, ws, `{"type":"connection_init"}`)
	assert.Equal(t, "connection_ack", next(t, ws).Type)

	send(t, ws, `{"id":"a","type":"subscribe","payload":{"query":"subscription { greetings(count: 3) }"}}`)
	for i := 0; i < 3; i++ {
		msg := next(t, ws)
		assert.Equal(t, "next", msg.Type)
		assert.Equal(t, "a", msg.ID)
		assert.JSONEq(t, `{"data":{"greetings":"hi"}}`, string(msg.Payload))
	}

	msg := next(t, ws)
	assert.Equal(t, "complete", msg.Type)
	assert.Equal(t, "a", msg.ID)

	send(t, ws, `{"type":"ping","payload":{"n":1}}`)
	msg = next(t, ws)
	assert.Equal(t, "pong", msg.Type)
	assert.JSONEq(t, `{"n":1}`, string(msg.Payload))
}

func TestLegacySubscription(t *testing.T) {
	s := newTestServer(t, options.WithKeepAlive(0))
	ws := s.dial(t, graphqlws.Subprotocol)

	send(t, ws, `{"type":"connection_init","payload":{}}`)
	assert.Equal(t, "connection_ack", next(t, ws).Type)

	send(t, ws, `{"id":"1","type":"start","payload":{"query":"subscription { greetings(count: 2) }"}}`)
	for i := 0; i < 2; i++ {
		msg := next(t, ws)
		assert.Equal(t, "data", msg.Type)
		assert.Equal(t, "1", msg.ID)
	}
	assert.Equal(t, "complete", next(t, ws).Type)

	send(t, ws, `{"type":"connection_terminate"}`)
	assert.Equal(t, websocket.CloseNormalClosure, closed(t, ws).Code)
}

func TestLegacyKeepAlive(t *testing.T) {
	s := newTestServer(t, options.WithKeepAlive(20*time.Millisecond))
	ws := s.dial(t, graphqlws.Subprotocol)

	send(t, ws, `{"type":"connection_init"}`)
	assert.Equal(t, "connection_ack", next(t, ws).Type)
	assert.Equal(t, "ka", next(t, ws).Type)
	assert.Equal(t, "ka", next(t, ws).Type)
}

func TestInitTimeout(t *testing.T) {
	s := newTestServer(t, options.WithConnectionInitWaitTimeout(30*time.Millisecond))
	ws := s.dial(t, graphqltransportws.Subprotocol)

	closeErr := closed(t, ws)
	assert.Equal(t, 4408, closeErr.Code)
	assert.Equal(t, "Connection initialisation timeout", closeErr.Text)
}

func TestCloseReasonIsTruncated(t *testing.T) {
	reason := strings.Repeat("x", 200)
	s := newTestServer(t, options.WithHooks(connection.HookFuncs{
		OnConnectFunc: func(c *connection.Connection, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New(reason)
		},
	}))
	ws := s.dial(t, graphqltransportws.Subprotocol)

	send(t, ws, `{"type":"connection_init"}`)

	closeErr := closed(t, ws)
	assert.Equal(t, 4403, closeErr.Code)
	assert.LessOrEqual(t, len(closeErr.Text), 123)
	assert.True(t, strings.HasPrefix(reason, closeErr.Text))
}

func TestCounts(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, 0, s.ConnectionCount())

	ws := s.dial(t, graphqltransportws.Subprotocol)
	send(t, ws, `{"type":"connection_init"}`)
	next(t, ws)
	assert.Equal(t, 1, s.ConnectionCount())

	send(t, ws, `{"id":"1","type":"subscribe","payload":{"query":"subscription { greetings }"}}`)
	send(t, ws, `{"id":"2","type":"subscribe","payload":{"query":"subscription { greetings }"}}`)
	assert.Eventually(t, func() bool { return s.OperationCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	send(t, ws, `{"id":"1","type":"complete"}`)
	assert.Eventually(t, func() bool { return s.OperationCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	))
	assert.Eventually(t, func() bool { return s.ConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.OperationCount())
}

func TestClose(t *testing.T) {
	s := newTestServer(t)
	ws := s.dial(t, graphqltransportws.Subprotocol)

	send(t, ws, `{"type":"connection_init"}`)
	next(t, ws)
	send(t, ws, `{"id":"1","type":"subscribe","payload":{"query":"subscription { greetings }"}}`)
	next(t, ws)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	closeErr := closed(t, ws)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, 0, s.ConnectionCount())

	dialer := websocket.Dialer{Subprotocols: []string{graphqltransportws.Subprotocol}}
	_, resp, err := dialer.Dial(s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
