package engine

import (
	"context"

	"github.com/bhoriuchi/gqlws/utils"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
)

type graphqlEngine struct {
	schema graphql.Schema
}

// New returns an Engine executing operations against a graphql-go schema
func New(schema graphql.Schema) Engine {
	return &graphqlEngine{schema: schema}
}

// prepare parses and validates the request
func (e *graphqlEngine) prepare(req Request) (*ast.Document, gqlerrors.FormattedErrors) {
	document, err := utils.ParseQuery(req.Query)
	if err != nil {
		return nil, utils.GQLErrors(err)
	}

	result := graphql.ValidateDocument(&e.schema, document, nil)
	if !result.IsValid {
		if len(result.Errors) == 0 {
			return nil, utils.GQLErrors(gqlerrors.NewFormattedError("document failed validation"))
		}
		return nil, result.Errors
	}

	return document, nil
}

func (e *graphqlEngine) executeParams(req Request, params ExecutionParams, document *ast.Document) graphql.ExecuteParams {
	ctx := params.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var root interface{} = map[string]interface{}{}
	if params.RootObject != nil {
		root = params.RootObject
	}

	return graphql.ExecuteParams{
		Schema:        e.schema,
		Root:          root,
		AST:           document,
		OperationName: req.OperationName,
		Args:          req.Variables,
		Context:       ctx,
	}
}

// Validate implements Validator
func (e *graphqlEngine) Validate(req Request) gqlerrors.FormattedErrors {
	_, errs := e.prepare(req)
	return errs
}

// Subscribe implements Engine
func (e *graphqlEngine) Subscribe(req Request, params ExecutionParams) (ResultSequence, gqlerrors.FormattedErrors) {
	document, errs := e.prepare(req)
	if errs != nil {
		return nil, errs
	}

	execParams := e.executeParams(req, params, document)
	ctx, cancel := context.WithCancel(execParams.Context)
	execParams.Context = ctx

	return NewChannelSequence(graphql.ExecuteSubscription(execParams), cancel), nil
}

// Execute implements Engine
func (e *graphqlEngine) Execute(req Request, params ExecutionParams) (*graphql.Result, gqlerrors.FormattedErrors) {
	document, errs := e.prepare(req)
	if errs != nil {
		return nil, errs
	}

	return graphql.Execute(e.executeParams(req, params, document)), nil
}
