package testutil

import (
	"context"
	"sync"

	"inkwell/internal/durable"
)

// StubRemote is a canned durable.RemoteSync.
type StubRemote struct {
	mu            sync.Mutex
	Authenticated bool
	Bundle        durable.Bundle
	Err           error
	pulls         int
}

var _ durable.RemoteSync = (*StubRemote)(nil)

func (r *StubRemote) IsAuthenticated(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Authenticated
}

func (r *StubRemote) PullFromCloud(ctx context.Context) (durable.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pulls++
	return r.Bundle, r.Err
}

// Pulls returns how many times PullFromCloud was called.
func (r *StubRemote) Pulls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulls
}
