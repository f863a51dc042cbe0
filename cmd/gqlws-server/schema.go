package main

import (
	"fmt"
	"time"

	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/metadata"
	"github.com/graphql-go/graphql"
)

func buildSchema(log *logger.LogWrapper) (graphql.Schema, error) {
	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name: "Query",
			Fields: graphql.Fields{
				"hello": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return "world", nil
					},
				},
				"whoami": &graphql.Field{
					Type:        graphql.String,
					Description: "The connection the operation runs on",
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return metadata.ConnectionID(p.Context), nil
					},
				},
			},
		}),
		Subscription: graphql.NewObject(graphql.ObjectConfig{
			Name: "Subscription",
			Fields: graphql.Fields{
				"watch": &graphql.Field{
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{
						"iterations": &graphql.ArgumentConfig{
							Type:         graphql.Int,
							DefaultValue: 10,
						},
						"waitMillis": &graphql.ArgumentConfig{
							Type:         graphql.Int,
							DefaultValue: 1000,
						},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						iterations := p.Args["iterations"].(int)
						wait := time.Duration(p.Args["waitMillis"].(int)) * time.Millisecond

						c := make(chan interface{})
						go func() {
							defer close(c)
							ticker := time.NewTicker(wait)
							defer ticker.Stop()

							for i := 0; i < iterations; i++ {
								select {
								case <-p.Context.Done():
									log.Tracef("watch cancelled")
									return
								case <-ticker.C:
								}

								msg := fmt.Sprintf("Iteration %d of %d", i+1, iterations)
								log.Tracef("sending message: %q", msg)

								select {
								case <-p.Context.Done():
									return
								case c <- msg:
								}
							}
						}()

						return c, nil
					},
				},
				"fail": &graphql.Field{
					Type:        graphql.String,
					Description: "Emits one value then fails",
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						if p.Source == nil {
							return nil, fmt.Errorf("source went away")
						}
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						c := make(chan interface{})
						go func() {
							defer close(c)
							for _, v := range []interface{}{"ok", nil} {
								select {
								case <-p.Context.Done():
									return
								case c <- v:
								}
							}
						}()
						return c, nil
					},
				},
			},
		}),
	})
}
