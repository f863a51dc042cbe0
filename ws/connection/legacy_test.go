package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/bhoriuchi/gqlws/ws/protocol/graphqlws"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var legacy = graphqlws.Protocol

func TestLegacyStartScenario(t *testing.T) {
	h := start(t, legacy, Config{})
	h.ack(t)

	h.socket.send(t, `{"id":"1","type":"start","payload":{"query":"subscription { ping(count: 2) }"}}`)

	for i := 0; i < 2; i++ {
		msg := h.socket.next(t)
		assert.Equal(t, graphqlws.MsgData, msg.Type)
		assert.Equal(t, "1", msg.ID)
		assert.JSONEq(t, `{"data":{"ping":"pong"}}`, string(msg.Payload))
	}

	msg := h.socket.next(t)
	assert.Equal(t, graphqlws.MsgComplete, msg.Type)
	assert.Equal(t, "1", msg.ID)
}

func TestLegacyNoInitTimeout(t *testing.T) {
	h := start(t, legacy, Config{ConnectionInitWaitTimeout: 20 * time.Millisecond})

	time.Sleep(60 * time.Millisecond)
	assert.False(t, h.socket.isClosed())
	h.ack(t)
}

func TestLegacyKeepAlive(t *testing.T) {
	period := 40 * time.Millisecond
	h := start(t, legacy, Config{KeepAlive: period})

	// nothing before the ack
	h.socket.silent(t, 2*period)
	h.ack(t)

	var last time.Time
	for i := 0; i < 4; i++ {
		msg := h.socket.next(t)
		require.Equal(t, graphqlws.MsgKeepAlive, msg.Type)
		assert.Empty(t, msg.ID)

		now := time.Now()
		if i > 1 {
			gap := now.Sub(last)
			assert.Greater(t, int64(gap), int64(period/2), "keep alive too early: %s", gap)
			assert.Less(t, int64(gap), int64(period*4), "keep alive too late: %s", gap)
		}
		last = now
	}

	h.socket.peerClose(protocol.NormalClosure, "done")
	h.wait(t)
}

func TestLegacyKeepAliveDisabled(t *testing.T) {
	h := start(t, legacy, Config{})
	h.ack(t)
	h.socket.silent(t, 50*time.Millisecond)
}

func TestLegacyProtocolViolationsAreReported(t *testing.T) {
	s := newStream()
	eng := &fakeEngine{subscribe: func(req engine.Request) (engine.ResultSequence, gqlerrors.FormattedErrors) {
		return s, nil
	}}

	h := start(t, legacy, Config{Engine: eng})
	h.ack(t)

	h.socket.send(t, `not json`)
	msg := h.socket.next(t)
	assert.Equal(t, graphqlws.MsgError, msg.Type)
	assert.Contains(t, string(msg.Payload), "invalid message")

	h.socket.send(t, `{"id":"1","type":"subscribe"}`)
	msg = h.socket.next(t)
	assert.Equal(t, graphqlws.MsgError, msg.Type)
	assert.Equal(t, "1", msg.ID)

	h.socket.send(t, `{"type":"connection_init"}`)
	msg = h.socket.next(t)
	assert.Equal(t, graphqlws.MsgError, msg.Type)
	assert.JSONEq(t, `{"message":"Too many initialisation requests","locations":[]}`, string(msg.Payload))
	assert.Equal(t, StateAcknowledged, h.conn.State())

	h.socket.send(t, `{"id":"1","type":"start","payload":{"query":"subscription { ticks }"}}`)
	eventually(t, func() bool { return h.conn.OperationCount() == 1 }, "operation registered")

	h.socket.send(t, `{"id":"1","type":"start","payload":{"query":"subscription { ticks }"}}`)
	msg = h.socket.next(t)
	assert.Equal(t, graphqlws.MsgError, msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.JSONEq(t, `{"message":"subscriber for 1 already exists","locations":[]}`, string(msg.Payload))

	// the first operation keeps running
	assert.Equal(t, 1, eng.callCount())
	assert.False(t, s.isStopped())
	s.push(t, map[string]interface{}{"ticks": 1})
	msg = h.socket.next(t)
	assert.Equal(t, graphqlws.MsgData, msg.Type)
	assert.Equal(t, "1", msg.ID)

	assert.False(t, h.socket.isClosed())
}

func TestLegacyStartBeforeInit(t *testing.T) {
	h := start(t, legacy, Config{})

	h.socket.send(t, `{"id":"1","type":"start","payload":{"query":"{ hello }"}}`)
	msg := h.socket.next(t)
	assert.Equal(t, graphqlws.MsgConnectionError, msg.Type)
	assert.Empty(t, msg.ID)
	assert.JSONEq(t, `{"message":"Unauthorized"}`, string(msg.Payload))
	assert.False(t, h.socket.isClosed())

	// the client may still initialise
	h.ack(t)
}

func TestLegacyOnConnectFailure(t *testing.T) {
	h := start(t, legacy, Config{
		Hooks: HookFuncs{OnConnectFunc: func(c *Connection, p map[string]interface{}) (interface{}, error) {
			return nil, errors.New("denied")
		}},
	})

	h.socket.send(t, `{"type":"connection_init","payload":{"token":"bad"}}`)

	msg := h.socket.next(t)
	assert.Equal(t, graphqlws.MsgConnectionError, msg.Type)
	assert.JSONEq(t, `{"message":"denied"}`, string(msg.Payload))

	code, _ := h.socket.waitClosed(t)
	assert.Equal(t, protocol.UnexpectedCondition, code)
	assert.Empty(t, h.socket.out)
}

func TestLegacyOnConnectPanic(t *testing.T) {
	logs := &logRecorder{}
	h := start(t, legacy, Config{
		Logger: logs.wrapper(),
		Hooks: HookFuncs{OnConnectFunc: func(c *Connection, p map[string]interface{}) (interface{}, error) {
			panic("token store at 10.0.0.7 unreachable")
		}},
	})

	h.socket.send(t, `{"type":"connection_init"}`)

	msg := h.socket.next(t)
	assert.Equal(t, graphqlws.MsgConnectionError, msg.Type)
	assert.JSONEq(t, `{"message":"Internal server error"}`, string(msg.Payload))

	code, reason := h.socket.waitClosed(t)
	assert.Equal(t, protocol.UnexpectedCondition, code)
	assert.NotContains(t, reason, "10.0.0.7")
	assert.True(t, logs.has(logger.ErrorLevel, "10.0.0.7"))
}

func TestLegacyConnectionTerminate(t *testing.T) {
	h := start(t, legacy, Config{})
	h.ack(t)

	h.socket.send(t, `{"type":"connection_terminate"}`)

	code, _ := h.socket.waitClosed(t)
	assert.Equal(t, protocol.NormalClosure, code)
	h.wait(t)
}

func TestLegacyRuntimeError(t *testing.T) {
	eng := &fakeEngine{subscribe: func(req engine.Request) (engine.ResultSequence, gqlerrors.FormattedErrors) {
		return &failingSequence{
			results: []*graphql.Result{{Data: map[string]interface{}{"ticks": 1}}},
			err:     errors.New("database is down"),
		}, nil
	}}

	h := start(t, legacy, Config{Engine: eng})
	h.ack(t)

	h.socket.send(t, `{"id":"1","type":"start","payload":{"query":"subscription { ticks }"}}`)

	assert.Equal(t, graphqlws.MsgData, h.socket.next(t).Type)

	msg := h.socket.next(t)
	assert.Equal(t, graphqlws.MsgError, msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.JSONEq(t, `{"message":"internal server error","locations":[]}`, string(msg.Payload))

	assert.Equal(t, graphqlws.MsgComplete, h.socket.next(t).Type)
}

func TestLegacyStop(t *testing.T) {
	s := newStream()
	eng := &fakeEngine{subscribe: func(req engine.Request) (engine.ResultSequence, gqlerrors.FormattedErrors) {
		return s, nil
	}}

	h := start(t, legacy, Config{Engine: eng})
	h.ack(t)

	h.socket.send(t, `{"id":"1","type":"start","payload":{"query":"subscription { ticks }"}}`)
	s.push(t, map[string]interface{}{"ticks": 1})
	assert.Equal(t, graphqlws.MsgData, h.socket.next(t).Type)

	h.socket.send(t, `{"id":"1","type":"stop"}`)
	eventually(t, s.isStopped, "sequence closed")
	eventually(t, func() bool { return h.conn.OperationCount() == 0 }, "operation removed")

	h.socket.send(t, `{"id":"1","type":"stop"}`)
	h.socket.silent(t, 50*time.Millisecond)
}

func TestLegacySourceError(t *testing.T) {
	eng := &fakeEngine{subscribe: func(req engine.Request) (engine.ResultSequence, gqlerrors.FormattedErrors) {
		results := make(chan *graphql.Result, 1)
		results <- &graphql.Result{Errors: gqlerrors.FormattedErrors{gqlerrors.NewFormattedError("source unavailable")}}
		close(results)
		return engine.NewChannelSequence(results, nil), nil
	}}

	h := start(t, legacy, Config{Engine: eng})
	h.ack(t)

	h.socket.send(t, `{"id":"1","type":"start","payload":{"query":"subscription { ticks }"}}`)

	msg := h.socket.next(t)
	assert.Equal(t, graphqlws.MsgError, msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.JSONEq(t, `{"message":"source unavailable","locations":[]}`, string(msg.Payload))

	eventually(t, func() bool { return h.conn.OperationCount() == 0 }, "operation removed")
	h.socket.silent(t, 50*time.Millisecond)
}
