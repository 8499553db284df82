package proctor

import "context"

// Pool bounds concurrent detector checks across every active session
// so a burst of sessions cannot saturate the vision backend.
type Pool struct {
	slots chan struct{}
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Run executes fn once a slot is free, or returns ctx.Err() first.
func (p *Pool) Run(ctx context.Context, fn func(context.Context)) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()
	fn(ctx)
	return nil
}

// TryRun executes fn only if a slot is immediately free. Monitors skip
// a tick rather than queue behind other sessions.
func (p *Pool) TryRun(ctx context.Context, fn func(context.Context)) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}
	defer func() { <-p.slots }()
	fn(ctx)
	return true
}
