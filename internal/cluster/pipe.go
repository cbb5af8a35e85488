package cluster

import (
	"context"
	"sync"
)

// pipe is an in-process duplex channel between one coordinator and one
// worker goroutine. Messages are cloned on send so the two sides never share
// backing arrays.
type pipe struct {
	down      chan Broadcast // coordinator -> worker
	up        chan Report    // worker -> coordinator
	done      chan struct{}
	closeOnce sync.Once
}

// Pipe returns the two ends of a fresh in-process worker channel.
//
// Each direction buffers exactly one message. Closing either end closes
// both: pending and future Send/Recv calls return ErrClosed.
//
// Example:
//
//	coord, work := cluster.Pipe()
//	go w.Run(ctx, work)
//	report, err := coord.Recv(ctx)
func Pipe() (CoordinatorConn, WorkerConn) {
	p := &pipe{
		down: make(chan Broadcast, 1),
		up:   make(chan Report, 1),
		done: make(chan struct{}),
	}
	return &coordinatorEnd{p}, &workerEnd{p}
}

func (p *pipe) close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

type coordinatorEnd struct{ p *pipe }

func (c *coordinatorEnd) Send(ctx context.Context, b Broadcast) error {
	select {
	case <-c.p.done:
		return ErrClosed
	default:
	}
	select {
	case c.p.down <- b.Clone():
		return nil
	case <-c.p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *coordinatorEnd) Recv(ctx context.Context) (Report, error) {
	select {
	case r := <-c.p.up:
		return r, nil
	case <-c.p.done:
		return Report{}, ErrClosed
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func (c *coordinatorEnd) Close() error { return c.p.close() }

type workerEnd struct{ p *pipe }

func (w *workerEnd) Send(ctx context.Context, r Report) error {
	select {
	case <-w.p.done:
		return ErrClosed
	default:
	}
	select {
	case w.p.up <- r.Clone():
		return nil
	case <-w.p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *workerEnd) Recv(ctx context.Context) (Broadcast, error) {
	select {
	case b := <-w.p.down:
		return b, nil
	case <-w.p.done:
		return Broadcast{}, ErrClosed
	case <-ctx.Done():
		return Broadcast{}, ctx.Err()
	}
}

func (w *workerEnd) Close() error { return w.p.close() }
