package metadata

import (
	"context"
	"sync"
)

type contextKey struct{}

// well known keys set on every operation context
const (
	ConnectionIDKey     = "connectionId"
	OperationIDKey      = "operationId"
	OperationNameKey    = "operationName"
	SubprotocolKey      = "subprotocol"
	ConnectionParamsKey = "connectionParams"
)

type store struct {
	mx     sync.RWMutex
	values map[string]interface{}
}

// New creates a new metadata context
func New() context.Context {
	return NewWithContext(context.Background())
}

// NewWithContext creates a new metadata context from an existing one. Values
// already present on a parent metadata context are copied, so writes to the
// child never leak into the parent.
func NewWithContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	s := &store{values: map[string]interface{}{}}
	if parent := getStore(ctx); parent != nil {
		parent.mx.RLock()
		for k, v := range parent.values {
			s.values[k] = v
		}
		parent.mx.RUnlock()
	}

	return context.WithValue(ctx, contextKey{}, s)
}

// getStore fetches the metadata store from the context
func getStore(ctx context.Context) *store {
	if ctx == nil {
		return nil
	}

	s, ok := ctx.Value(contextKey{}).(*store)
	if !ok {
		return nil
	}

	return s
}

// Set sets the value in the metadata
func Set(ctx context.Context, key string, value interface{}) bool {
	if key == "" {
		return false
	}

	s := getStore(ctx)
	if s == nil {
		return false
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	s.values[key] = value
	return true
}

// Delete deletes the metadata
func Delete(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}

	s := getStore(ctx)
	if s == nil {
		return false
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if _, ok := s.values[key]; !ok {
		return false
	}

	delete(s.values, key)
	return true
}

// Read reads a value from the metadata
func Read(ctx context.Context, key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	s := getStore(ctx)
	if s == nil {
		return nil, false
	}

	s.mx.RLock()
	defer s.mx.RUnlock()
	val, ok := s.values[key]
	return val, ok
}

// ReadString reads a string from the metadata
func ReadString(ctx context.Context, key string) (string, bool) {
	value, ok := Read(ctx, key)
	if !ok {
		return "", false
	}

	v, ok := value.(string)
	return v, ok
}

// ReadMap reads a map from the metadata
func ReadMap(ctx context.Context, key string) (map[string]interface{}, bool) {
	value, ok := Read(ctx, key)
	if !ok {
		return nil, false
	}

	v, ok := value.(map[string]interface{})
	return v, ok
}

// ConnectionID returns the id of the websocket connection an operation runs on
func ConnectionID(ctx context.Context) string {
	v, _ := ReadString(ctx, ConnectionIDKey)
	return v
}

// OperationID returns the client supplied operation id
func OperationID(ctx context.Context) string {
	v, _ := ReadString(ctx, OperationIDKey)
	return v
}
