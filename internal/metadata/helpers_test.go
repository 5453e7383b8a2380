package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/fedipanel/internal/capability"
	"github.com/pitabwire/fedipanel/internal/invoker"
	"github.com/pitabwire/fedipanel/model"
)

type identityExpander struct{}

func (identityExpander) Expand(roles []string) []string { return roles }

func testResolver() *capability.Resolver {
	return capability.NewResolver(identityExpander{}, time.Minute)
}

// fakeBackend records requests and answers from a per-path table.
type fakeBackend struct {
	mu        sync.Mutex
	requests  []invoker.Request
	responses map[string]invoker.Result
	// block, when set, is waited on before answering submissions.
	block chan struct{}
}

func (b *fakeBackend) Perform(_ context.Context, _ *model.Session, req invoker.Request) invoker.Result {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	res, ok := b.responses[req.Method+" "+req.Path]
	block := b.block
	b.mu.Unlock()

	if block != nil && req.Payload != nil {
		<-block
	}
	if !ok {
		return invoker.Result{Status: 200, Data: map[string]any{}}
	}
	return res
}

func (b *fakeBackend) submitted() []invoker.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []invoker.Request
	for _, r := range b.requests {
		if r.Payload != nil {
			out = append(out, r)
		}
	}
	return out
}

type recordingEnder struct {
	mu    sync.Mutex
	ended []string
}

func (e *recordingEnder) End(_ context.Context, id string) error {
	e.mu.Lock()
	e.ended = append(e.ended, id)
	e.mu.Unlock()
	return nil
}

func intPtr(n int) *int { return &n }

func testSession() *model.Session {
	return &model.Session{ID: "s-1", AccountID: "109", Token: "tok", Roles: []string{"user"}}
}
