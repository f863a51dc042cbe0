package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhoriuchi/gqlws"
	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/options"
	"github.com/bhoriuchi/gqlws/ws/connection"
	"github.com/bhoriuchi/gqlws/ws/manager"
	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the example schema over websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("addr", ":3000", "listen address")
	flags.String("path", "/graphql", "websocket endpoint path")
	flags.Duration("keep-alive", 12*time.Second, "graphql-ws keep alive period, 0 disables")
	flags.Duration("init-timeout", 3*time.Second, "graphql-transport-ws connection_init wait timeout")
	flags.Duration("stop-timeout", 5*time.Second, "how long to wait for an operation to stop")
	flags.Duration("shutdown-timeout", 10*time.Second, "how long to wait for connections on shutdown")
	flags.StringSlice("subprotocols", []string{"graphql-transport-ws", "graphql-ws"}, "accepted subprotocols")
	flags.Bool("debug", false, "send internal error details to clients")

	for _, name := range []string{"addr", "path", "keep-alive", "init-timeout", "stop-timeout", "shutdown-timeout", "subprotocols", "debug"} {
		_ = viper.BindPFlag("serve."+name, flags.Lookup(name))
	}
}

func serve(ctx context.Context) error {
	zl, logFunc, err := newLogger()
	if err != nil {
		return err
	}
	defer zl.Sync() // nolint

	log := logger.NewLogWrapper(logFunc, nil)

	log.Infof("building schema")
	schema, err := buildSchema(log)
	if err != nil {
		return err
	}

	opts := []options.Option{
		options.WithLogFunc(logFunc),
		options.WithKeepAlive(viper.GetDuration("serve.keep-alive")),
		options.WithConnectionInitWaitTimeout(viper.GetDuration("serve.init-timeout")),
		options.WithOperationStopTimeout(viper.GetDuration("serve.stop-timeout")),
		options.WithSubprotocols(viper.GetStringSlice("serve.subprotocols")...),
		options.WithHooks(hooks(log)),
	}
	if viper.GetBool("serve.debug") {
		opts = append(opts, options.WithDebug())
	}

	srv := gqlws.New(schema, opts...)

	mux := http.NewServeMux()
	mux.Handle(viper.GetString("serve.path"), srv)

	httpServer := &http.Server{
		Addr:              viper.GetString("serve.addr"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s%s", httpServer.Addr, viper.GetString("serve.path"))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("serve.shutdown-timeout"))
	defer cancel()

	// hijacked websocket connections are not tracked by the http server
	if err := srv.Close(shutdownCtx); err != nil {
		log.WithError(err).Warnf("connections did not close in time")
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// hooks logs the connection lifecycle
func hooks(log *logger.LogWrapper) connection.Hooks {
	return connection.HookFuncs{
		OnConnectFunc: func(c *connection.Connection, params map[string]interface{}) (interface{}, error) {
			log.WithField("connectionId", c.ID()).Infof("%s client connected", c.Subprotocol())
			return nil, nil
		},
		OnDisconnectFunc: func(c *connection.Connection, code protocol.CloseCode, reason string) error {
			log.WithFields(map[string]interface{}{
				"connectionId": c.ID(),
				"code":         code,
			}).Infof("client disconnected: %s", reason)
			return nil
		},
		OnOperationFunc: func(c *connection.Connection, op *manager.Operation, req engine.Request) error {
			log.WithFields(map[string]interface{}{
				"connectionId": c.ID(),
				"operationId":  op.ID,
			}).Debugf("started %s", op.Name)
			return nil
		},
		OnCompleteFunc: func(c *connection.Connection, op *manager.Operation) error {
			log.WithFields(map[string]interface{}{
				"connectionId": c.ID(),
				"operationId":  op.ID,
			}).Debugf("completed %s", op.Name)
			return nil
		},
	}
}
