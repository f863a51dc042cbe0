package connection

import (
	"errors"

	"github.com/bhoriuchi/gqlws/engine"
	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/utils"
	"github.com/bhoriuchi/gqlws/ws/manager"
	"github.com/bhoriuchi/gqlws/ws/protocol"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
)

// completion is handed from a runner back to Run once a sequence ends.
// A silent completion already reported a setup error and sends no complete.
type completion struct {
	op     *manager.Operation
	silent bool
}

// run pulls results from the operation's sequence in order and sends each
// one. It never touches the registry, completion is handed back to Run.
func (c *Connection) run(op *manager.Operation, log *logger.LogWrapper) {
	sent := false
	silent := false

	for {
		result, ok, err := op.Sequence.Next()
		if err != nil {
			if !op.Stopped() {
				// a source that fails before producing anything never started
				var resultErr *engine.ResultError
				if !sent && errors.As(err, &resultErr) {
					c.sendStartError(op, log, resultErr)
					silent = true
				} else {
					c.sendRuntimeError(op, log, err)
				}
			}
			break
		}

		if !ok || op.Stopped() {
			break
		}

		if err := c.sendOperation(op, protocol.EventNext, c.executionResult(log, result)); err != nil {
			if !errors.Is(err, ErrConnectionClosed) && !errors.Is(err, errOperationStopped) {
				log.WithError(err).Errorf("failed to send result")
			}
			break
		}
		sent = true
	}

	close(op.Done)

	// a stopped operation was already removed by Run, which is waiting on Done
	if op.Stopped() {
		return
	}

	select {
	case c.completions <- completion{op: op, silent: silent}:
	case <-c.done:
	}
}

// executionResult shapes a result for the client
func (c *Connection) executionResult(log *logger.LogWrapper, result *graphql.Result) protocol.ExecutionResult {
	logResultErrors(log, result.Errors)

	return protocol.ExecutionResult{
		Data:       result.Data,
		Errors:     utils.FormatErrors(result.Errors, c.config.FormatErrorFunc, c.config.Debug),
		Extensions: result.Extensions,
	}
}

// sendRuntimeError reports an error raised while pulling the next result.
// The operation completes afterwards.
func (c *Connection) sendRuntimeError(op *manager.Operation, log *logger.LogWrapper, err error) {
	var errs gqlerrors.FormattedErrors

	var resultErr *engine.ResultError
	if errors.As(err, &resultErr) {
		logResultErrors(log, resultErr.Errors)
		errs = utils.FormatErrors(resultErr.Errors, c.config.FormatErrorFunc, c.config.Debug)
	} else {
		log.WithError(err).Errorf("operation failed")
		errs = utils.FormatError(err, c.config.FormatErrorFunc, c.config.Debug)
	}

	var sendErr error
	if c.variant.ErrorCompletes() {
		sendErr = c.sendOperation(op, protocol.EventNext, protocol.ExecutionResult{Errors: errs})
	} else {
		sendErr = c.sendOperation(op, protocol.EventError, c.variant.ErrorPayload(errs))
	}

	if sendErr != nil {
		log.WithError(sendErr).Debugf("failed to send operation error")
	}
}

// sendStartError reports errors the engine raised while starting the
// operation the same way as a failed subscribe
func (c *Connection) sendStartError(op *manager.Operation, log *logger.LogWrapper, resultErr *engine.ResultError) {
	for _, err := range resultErr.Errors {
		log.WithError(err).Errorf("%s operation failed", op.Type)
	}

	errs := utils.FormatErrors(resultErr.Errors, c.config.FormatErrorFunc, c.config.Debug)
	if err := c.sendOperation(op, protocol.EventError, c.variant.ErrorPayload(errs)); err != nil {
		log.WithError(err).Debugf("failed to send operation error")
	}
}

// handleCompletion finishes an operation whose sequence ended. Completions
// for operations the client already stopped are ignored.
func (c *Connection) handleCompletion(done completion) {
	op := done.op
	if !c.operations.RemoveIf(op) {
		return
	}

	c.onComplete(op)
	c.opCount.Dec()

	// release the operation context and engine resources
	op.Stop()

	log := c.log.WithField("operationId", op.ID)
	log.Debugf("operation %q completed", op.Name)

	if done.silent || c.closed.Load() {
		return
	}

	if err := c.send(protocol.EventComplete, op.ID, nil); err != nil {
		log.WithError(err).Debugf("failed to send complete")
	}
}
