package options

import (
	"context"
	"net/http"
	"time"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/utils"
	"github.com/bhoriuchi/gqlws/ws/connection"
	"github.com/bhoriuchi/gqlws/ws/protocol/graphqltransportws"
	"github.com/bhoriuchi/gqlws/ws/protocol/graphqlws"
)

// RootValueFunc provides the root object of an operation
type RootValueFunc func(ctx context.Context, r *http.Request, req engine.Request) map[string]interface{}

// ContextFunc may replace the context an operation executes with
type ContextFunc func(ctx context.Context, r *http.Request, req engine.Request) (context.Context, error)

// CheckOriginFunc decides if a websocket upgrade is allowed
type CheckOriginFunc func(r *http.Request) bool

type Option func(opts *Options)

type Options struct {
	LogFunc                   logger.LogFunc
	FormatErrorFunc           utils.FormatErrorFunc
	Debug                     bool
	KeepAlive                 time.Duration
	ConnectionInitWaitTimeout time.Duration
	OperationStopTimeout      time.Duration
	Hooks                     connection.Hooks
	RootValueFunc             RootValueFunc
	ContextFunc               ContextFunc
	CheckOriginFunc           CheckOriginFunc

	// Subprotocols lists the accepted subprotocols by preference
	Subprotocols []string
}

// New returns options with defaults applied
func New(opts ...Option) *Options {
	o := &Options{
		LogFunc:                   logger.NoopLogFunc,
		FormatErrorFunc:           utils.DefaultFormatError,
		KeepAlive:                 12 * time.Second,
		ConnectionInitWaitTimeout: connection.DefaultConnectionInitWaitTimeout,
		OperationStopTimeout:      connection.DefaultOperationStopTimeout,
		Hooks:                     connection.NoopHooks{},
		CheckOriginFunc:           func(r *http.Request) bool { return true },
		Subprotocols: []string{
			graphqltransportws.Subprotocol,
			graphqlws.Subprotocol,
		},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func WithLogFunc(l logger.LogFunc) Option {
	return func(opts *Options) {
		opts.LogFunc = l
	}
}

func WithFormatErrorFunc(f utils.FormatErrorFunc) Option {
	return func(opts *Options) {
		opts.FormatErrorFunc = f
	}
}

// WithDebug sends the text of internal errors to clients
func WithDebug() Option {
	return func(opts *Options) {
		opts.Debug = true
	}
}

// WithKeepAlive sets the graphql-ws keep alive period, 0 disables it
func WithKeepAlive(d time.Duration) Option {
	return func(opts *Options) {
		opts.KeepAlive = d
	}
}

// WithConnectionInitWaitTimeout sets how long graphql-transport-ws
// connections wait for connection_init
func WithConnectionInitWaitTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.ConnectionInitWaitTimeout = d
	}
}

func WithOperationStopTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.OperationStopTimeout = d
	}
}

func WithHooks(h connection.Hooks) Option {
	return func(opts *Options) {
		opts.Hooks = h
	}
}

func WithRootValueFunc(f RootValueFunc) Option {
	return func(opts *Options) {
		opts.RootValueFunc = f
	}
}

func WithContextFunc(f ContextFunc) Option {
	return func(opts *Options) {
		opts.ContextFunc = f
	}
}

func WithCheckOriginFunc(f CheckOriginFunc) Option {
	return func(opts *Options) {
		opts.CheckOriginFunc = f
	}
}

// WithSubprotocols limits the accepted subprotocols
func WithSubprotocols(names ...string) Option {
	return func(opts *Options) {
		opts.Subprotocols = names
	}
}
