package connection

import (
	"context"
	"fmt"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/metadata"
	"github.com/bhoriuchi/gqlws/utils"
	"github.com/bhoriuchi/gqlws/ws/manager"
	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
)

// handleSubscribe starts an operation. Setup failures are reported with a
// single error message for the id and nothing is registered.
func (c *Connection) handleSubscribe(msg *protocol.OperationMessage) {
	id := msg.ID
	log := c.log.WithField("operationId", id)

	if c.State() != StateAcknowledged {
		log.Errorf("attempted subscribe operation on unacknowledged connection")
		c.reject(id, protocol.FailureUnauthorized, protocol.FailureUnauthorized.String())
		return
	}

	// the running operation is never replaced
	if c.operations.Has(id) {
		err := fmt.Errorf("subscriber for %s already exists", id)
		log.WithError(err).Errorf("failed subscribe operation")
		c.reject(id, protocol.FailureSubscriberAlreadyExists, err.Error())
		return
	}

	payload, err := protocol.DecodeSubscribePayload(msg)
	if err != nil {
		log.WithError(err).Errorf("invalid subscribe message payload")
		c.sendSetupError(id, utils.GQLErrors(err))
		return
	}

	req := payload.Request()
	log = log.WithField("operationName", req.OperationName)

	opType, _, err := utils.OperationType(req.Query, req.OperationName)
	if err != nil {
		log.WithError(err).Errorf("failed to identify operation")
		c.sendSetupError(id, utils.GQLErrors(err))
		return
	}

	ctx, err := c.operationContext(id, req)
	if err != nil {
		log.WithError(err).Errorf("failed to build operation context")
		c.sendSetupError(id, utils.FormatError(err, c.config.FormatErrorFunc, c.config.Debug))
		return
	}

	op := manager.NewOperation(ctx, id, operationName(req.OperationName, opType), opType)
	params := engine.ExecutionParams{
		Context:    op.Context,
		RootObject: c.rootObject(op.Context, req),
	}

	var errs gqlerrors.FormattedErrors
	if opType == ast.OperationTypeSubscription {
		op.Sequence, errs = c.config.Engine.Subscribe(req, params)
	} else {
		// queries and mutations execute on the runner so a slow resolver
		// does not hold up the connection
		if v, ok := c.config.Engine.(engine.Validator); ok {
			errs = v.Validate(req)
		}
		if len(errs) == 0 {
			errs = nil
			op.Sequence = engine.NewLazySequence(func() (*graphql.Result, gqlerrors.FormattedErrors) {
				return c.config.Engine.Execute(req, params)
			})
		}
	}

	if errs != nil || op.Sequence == nil {
		op.Stop()
		if len(errs) == 0 {
			errs = utils.GQLErrors(fmt.Errorf("engine returned no result"))
		}
		for _, err := range errs {
			log.WithError(err).Errorf("%s operation failed", opType)
		}
		c.sendSetupError(id, utils.FormatErrors(errs, c.config.FormatErrorFunc, c.config.Debug))
		return
	}

	if err := c.operations.Add(op); err != nil {
		// unreachable while Run is the only writer
		op.Stop()
		log.WithError(err).Errorf("failed to register operation")
		c.reject(id, protocol.FailureSubscriberAlreadyExists, err.Error())
		return
	}
	c.opCount.Inc()

	go c.run(op, log)
	log.Debugf("%s %q started", opType, op.Name)

	c.onOperation(op, req)
}

// sendSetupError reports an operation that could not be started
func (c *Connection) sendSetupError(id string, errs gqlerrors.FormattedErrors) {
	if err := c.send(protocol.EventError, id, c.variant.ErrorPayload(errs)); err != nil {
		c.log.WithField("operationId", id).WithError(err).Debugf("failed to send error")
	}
}

// operationContext builds the context an operation executes with
func (c *Connection) operationContext(id string, req engine.Request) (context.Context, error) {
	ctx := metadata.NewWithContext(c.ctx)
	metadata.Set(ctx, metadata.ConnectionIDKey, c.id)
	metadata.Set(ctx, metadata.OperationIDKey, id)
	metadata.Set(ctx, metadata.OperationNameKey, req.OperationName)
	metadata.Set(ctx, metadata.SubprotocolKey, c.variant.Subprotocol())
	if c.connectionParams != nil {
		metadata.Set(ctx, metadata.ConnectionParamsKey, c.connectionParams)
	}

	if c.config.ContextFunc == nil {
		return ctx, nil
	}

	newCtx, err := c.config.ContextFunc(ctx, req)
	if err != nil {
		return nil, err
	}
	if newCtx == nil {
		return ctx, nil
	}

	return newCtx, nil
}

func (c *Connection) rootObject(ctx context.Context, req engine.Request) map[string]interface{} {
	if c.config.RootValueFunc == nil {
		return nil
	}
	return c.config.RootValueFunc(ctx, req)
}

func operationName(name, opType string) string {
	if name != "" {
		return name
	}

	switch opType {
	case ast.OperationTypeQuery:
		return "Unnamed Query"
	case ast.OperationTypeMutation:
		return "Unnamed Mutation"
	}
	return "Unnamed Subscription"
}

// logResultErrors logs every error of a result once before formatting
func logResultErrors(log *logger.LogWrapper, errs gqlerrors.FormattedErrors) {
	for _, err := range errs {
		log.WithError(err).Errorf("operation result error")
	}
}
