package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Pool runs tasks on a bounded set of goroutines. Submit blocks while every
// worker is busy, which pushes back on whoever feeds the pool.
type Pool struct {
	pool *ants.Pool
	wg   sync.WaitGroup
}

func New(size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p, err := ants.NewPool(size,
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(v any) {
			slog.Error("worker_panic", slog.String("panic", fmt.Sprint(v)))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Pool{pool: p}, nil
}

// Submit hands task to the pool. It returns ctx.Err() without running the
// task when ctx is already done.
func (p *Pool) Submit(ctx context.Context, task func(context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		task(ctx)
	})
	if err != nil {
		p.wg.Done()
		return fmt.Errorf("submit task: %w", err)
	}
	return nil
}

func (p *Pool) Running() int {
	return p.pool.Running()
}

func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Shutdown waits up to timeout for in-flight tasks, then releases workers.
func (p *Pool) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("worker pool drain timed out after %s", timeout)
	}
	p.pool.Release()
	return err
}
