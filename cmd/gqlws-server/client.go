package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/wsclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var clientCmd = &cobra.Command{
	Use:   "client [query]",
	Short: "run an operation against a server and print the results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)

	flags := clientCmd.Flags()
	flags.String("url", "ws://localhost:3000/graphql", "server url")
	flags.String("subprotocol", "graphql-transport-ws", "subprotocol to speak")
	flags.String("variables", "", "operation variables as json")
	flags.String("params", "", "connection_init payload as json")
	flags.Int("retries", 3, "dial attempts")
	flags.Bool("insecure", false, "skip tls verification")

	for _, name := range []string{"url", "subprotocol", "variables", "params", "retries", "insecure"} {
		_ = viper.BindPFlag("client."+name, flags.Lookup(name))
	}
}

func decodeObject(name, raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}

	obj := map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return obj, nil
}

func runClient(ctx context.Context, query string) error {
	zl, logFunc, err := newLogger()
	if err != nil {
		return err
	}
	defer zl.Sync() // nolint

	variables, err := decodeObject("variables", viper.GetString("client.variables"))
	if err != nil {
		return err
	}

	params, err := decodeObject("params", viper.GetString("client.params"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := wsclient.Dial(ctx, &wsclient.Options{
		URL:              viper.GetString("client.url"),
		Subprotocol:      viper.GetString("client.subprotocol"),
		ConnectionParams: params,
		Insecure:         viper.GetBool("client.insecure"),
		Retries:          viper.GetInt("client.retries"),
		LogFunc:          logFunc,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.Subscribe(engine.Request{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for {
		select {
		case res, ok := <-sub.Results():
			if !ok {
				return sub.Err()
			}
			if err := enc.Encode(res); err != nil {
				return err
			}
		case <-ctx.Done():
			sub.Stop()
			return nil
		}
	}
}
