// Package engine is the boundary between the websocket protocol machinery and
// GraphQL execution. The protocol code only ever talks to the Engine interface;
// New provides the graphql-go backed implementation.
package engine

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
)

// Request is the client supplied part of an operation
type Request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// ExecutionParams is the server supplied part of an operation
type ExecutionParams struct {
	Context    context.Context
	RootObject map[string]interface{}
}

// Engine executes GraphQL operations. Both methods report setup failures
// (syntax, validation) as a non-empty error list and a nil result.
type Engine interface {
	// Subscribe starts a subscription and returns the lazy sequence of its results
	Subscribe(req Request, params ExecutionParams) (ResultSequence, gqlerrors.FormattedErrors)

	// Execute runs a query or mutation to a single result
	Execute(req Request, params ExecutionParams) (*graphql.Result, gqlerrors.FormattedErrors)
}

// Validator is implemented by engines that can check a request without
// executing it. Callers use it to report setup errors before running an
// operation in the background.
type Validator interface {
	Validate(req Request) gqlerrors.FormattedErrors
}
