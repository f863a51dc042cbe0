package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
)

// ResultSequence is a single consumer, one-shot stream of results.
// Close may be called from another goroutine while Next is blocked and
// must unblock it.
type ResultSequence interface {
	// Next returns the next result. ok is false once the sequence is
	// exhausted or closed. A non-nil error is terminal.
	Next() (result *graphql.Result, ok bool, err error)

	// Close releases the resources held by the sequence
	Close()
}

// ResultError is returned by Next when the engine produced a result made
// only of errors, which graphql-go does for failures setting up or running
// the subscription source
type ResultError struct {
	Errors gqlerrors.FormattedErrors
}

func (e *ResultError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Message)
	}
	return strings.Join(msgs, "; ")
}

// channelSequence adapts a graphql-go result channel
type channelSequence struct {
	results <-chan *graphql.Result
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewChannelSequence wraps a result channel. cancel is called on Close and
// should stop the producer.
func NewChannelSequence(results <-chan *graphql.Result, cancel context.CancelFunc) ResultSequence {
	return &channelSequence{
		results: results,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (s *channelSequence) Next() (*graphql.Result, bool, error) {
	for {
		select {
		case <-s.done:
			return nil, false, nil

		case res, more := <-s.results:
			if !more {
				return nil, false, nil
			}

			if res == nil {
				continue
			}

			if res.Data == nil && res.HasErrors() {
				return nil, false, &ResultError{Errors: res.Errors}
			}

			return res, true, nil
		}
	}
}

func (s *channelSequence) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}

		// graphql-go sends on an unbuffered channel, drain it so the
		// producer can observe the cancellation and exit
		go func() {
			for range s.results {
			}
		}()
	})
}

// lazySequence runs a one-shot execution on the first Next
type lazySequence struct {
	exec    func() (*graphql.Result, gqlerrors.FormattedErrors)
	started bool
	done    chan struct{}
	once    sync.Once
}

type lazyResult struct {
	result *graphql.Result
	errs   gqlerrors.FormattedErrors
}

// NewLazySequence returns a sequence whose first Next calls exec and yields
// its result. Errors returned by exec are reported as a *ResultError. Close
// unblocks a Next waiting on exec, exec itself is left to finish.
func NewLazySequence(exec func() (*graphql.Result, gqlerrors.FormattedErrors)) ResultSequence {
	return &lazySequence{
		exec: exec,
		done: make(chan struct{}),
	}
}

func (s *lazySequence) Next() (*graphql.Result, bool, error) {
	if s.started {
		return nil, false, nil
	}
	s.started = true

	select {
	case <-s.done:
		return nil, false, nil
	default:
	}

	out := make(chan lazyResult, 1)
	go func() {
		result, errs := s.exec()
		out <- lazyResult{result: result, errs: errs}
	}()

	select {
	case <-s.done:
		return nil, false, nil
	case r := <-out:
		if len(r.errs) > 0 {
			return nil, false, &ResultError{Errors: r.errs}
		}
		if r.result == nil {
			return nil, false, nil
		}
		return r.result, true, nil
	}
}

func (s *lazySequence) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}
