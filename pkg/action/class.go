package action

import (
	"sync"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// ResponseCallback produces a response for a request in-process.
type ResponseCallback interface {
	Handle(req *model.HTTPRequest) (*model.HTTPResponse, error)
}

// ResponseCallbackFunc adapts a function to ResponseCallback.
type ResponseCallbackFunc func(req *model.HTTPRequest) (*model.HTTPResponse, error)

// Handle calls f(req).
func (f ResponseCallbackFunc) Handle(req *model.HTTPRequest) (*model.HTTPResponse, error) {
	return f(req)
}

// ForwardCallback rewrites a request before it is forwarded.
type ForwardCallback interface {
	Handle(req *model.HTTPRequest) (*model.HTTPRequest, error)
}

// ForwardCallbackFunc adapts a function to ForwardCallback.
type ForwardCallbackFunc func(req *model.HTTPRequest) (*model.HTTPRequest, error)

// Handle calls f(req).
func (f ForwardCallbackFunc) Handle(req *model.HTTPRequest) (*model.HTTPRequest, error) {
	return f(req)
}

// ClassCallbacks maps callback class names to implementations. It is
// populated at startup and read on every class-callback action.
type ClassCallbacks struct {
	mu        sync.RWMutex
	responses map[string]ResponseCallback
	forwards  map[string]ForwardCallback
}

// NewClassCallbacks creates an empty set.
func NewClassCallbacks() *ClassCallbacks {
	return &ClassCallbacks{
		responses: make(map[string]ResponseCallback),
		forwards:  make(map[string]ForwardCallback),
	}
}

// RegisterResponse binds name to a response callback, replacing any previous one.
func (c *ClassCallbacks) RegisterResponse(name string, cb ResponseCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[name] = cb
}

// RegisterForward binds name to a forward callback, replacing any previous one.
func (c *ClassCallbacks) RegisterForward(name string, cb ForwardCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forwards[name] = cb
}

// Response looks up a response callback.
func (c *ClassCallbacks) Response(name string) (ResponseCallback, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	cb, ok := c.responses[name]
	return cb, ok
}

// Forward looks up a forward callback.
func (c *ClassCallbacks) Forward(name string) (ForwardCallback, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	cb, ok := c.forwards[name]
	return cb, ok
}

// Names returns the registered response and forward callback names.
func (c *ClassCallbacks) Names() (responses, forwards []string) {
	if c == nil {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name := range c.responses {
		responses = append(responses, name)
	}
	for name := range c.forwards {
		forwards = append(forwards, name)
	}
	return responses, forwards
}
