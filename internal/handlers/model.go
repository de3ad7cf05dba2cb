package handlers

import (
	"context"
	"sync"
)

// FakeModelClient is a scripted ModelClient for tests and local dry
// runs. Responses are consumed in enqueue order; with an empty queue
// it echoes the input under a "result" key.
type FakeModelClient struct {
	mu    sync.Mutex
	queue []func(req ModelRequest) (*ModelResponse, error)
	calls []ModelRequest
}

// NewFakeModelClient creates an empty scripted client.
func NewFakeModelClient() *FakeModelClient {
	return &FakeModelClient{}
}

// Enqueue scripts the next completion.
func (f *FakeModelClient) Enqueue(fn func(req ModelRequest) (*ModelResponse, error)) *FakeModelClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fn)
	return f
}

// EnqueueOutput scripts a fixed successful output.
func (f *FakeModelClient) EnqueueOutput(output any) *FakeModelClient {
	return f.Enqueue(func(ModelRequest) (*ModelResponse, error) {
		return &ModelResponse{Output: output}, nil
	})
}

// EnqueueError scripts a failure.
func (f *FakeModelClient) EnqueueError(err error) *FakeModelClient {
	return f.Enqueue(func(ModelRequest) (*ModelResponse, error) {
		return nil, err
	})
}

// Complete implements ModelClient.
func (f *FakeModelClient) Complete(_ context.Context, req ModelRequest) (*ModelResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	var fn func(ModelRequest) (*ModelResponse, error)
	if len(f.queue) > 0 {
		fn = f.queue[0]
		f.queue = f.queue[1:]
	}
	f.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return &ModelResponse{Output: map[string]any{"result": req.Input}}, nil
}

// Calls returns the requests seen so far.
func (f *FakeModelClient) Calls() []ModelRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ModelRequest(nil), f.calls...)
}
