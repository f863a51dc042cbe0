package utils

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

var (
	ErrNoOperation        = errors.New("no operation found in query")
	ErrAmbiguousOperation = errors.New("must provide operation name if query contains multiple operations")
)

// GetOperationAST finds the operation to run in the document. An empty operation
// name selects the only operation in the document.
func GetOperationAST(nodes *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	var operation *ast.OperationDefinition

	for _, def := range nodes.Definitions {
		switch def := def.(type) {
		case *ast.OperationDefinition:
			if operationName == "" && operation != nil {
				return nil, ErrAmbiguousOperation
			}
			if operationName == "" || (def.GetName() != nil && def.GetName().Value == operationName) {
				operation = def
			}
		}
	}

	if operation == nil {
		if operationName != "" {
			return nil, fmt.Errorf("unknown operation named %q", operationName)
		}
		return nil, ErrNoOperation
	}

	return operation, nil
}

// ParseQuery parses a query string into a document
func ParseQuery(query string) (*ast.Document, error) {
	return parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(query),
			Name: "GraphQL request",
		}),
	})
}

// OperationType parses the query and returns the kind of the selected operation
// (query, mutation or subscription) along with the parsed document
func OperationType(query, operationName string) (string, *ast.Document, error) {
	document, err := ParseQuery(query)
	if err != nil {
		return "", nil, err
	}

	operation, err := GetOperationAST(document, operationName)
	if err != nil {
		return "", nil, err
	}

	return operation.Operation, document, nil
}

// ReMarshal converts one type to another
func ReMarshal(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// GQLErrors normalizes the error shapes produced by graphql-go into formatted errors
func GQLErrors(in interface{}) gqlerrors.FormattedErrors {
	switch v := in.(type) {
	case gqlerrors.FormattedErrors:
		return v
	case []gqlerrors.FormattedError:
		return v
	case gqlerrors.FormattedError:
		return gqlerrors.FormattedErrors{v}
	case []gqlerrors.Error:
		errs := gqlerrors.FormattedErrors{}
		for _, err := range v {
			errs = append(errs, gqlerrors.FormatError(err))
		}
		return errs
	case []error:
		errs := gqlerrors.FormattedErrors{}
		for _, err := range v {
			errs = append(errs, gqlerrors.FormatError(err))
		}
		return errs
	case error:
		return gqlerrors.FormattedErrors{gqlerrors.FormatError(v)}
	}

	err := fmt.Errorf("unspecified error")
	return gqlerrors.FormattedErrors{gqlerrors.FormatError(err)}
}
