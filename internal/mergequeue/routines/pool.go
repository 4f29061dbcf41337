// Package routines provides a simple goroutine pool.
package routines

import "sync"

// Pool runs queued functions on a fixed number of goroutines.
type Pool struct {
	queue     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewPool(routines uint) *Pool {
	p := Pool{
		queue: make(chan func()),
	}

	for i := uint(0); i < routines; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()

			for fn := range p.queue {
				fn()
			}
		}()
	}

	return &p
}

// Queue schedules fn for execution. It blocks until a goroutine of the pool
// is able to accept it.
// Calling Queue after Wait panics.
func (p *Pool) Queue(fn func()) {
	p.queue <- fn
}

// Wait stops the pool and blocks until all queued functions finished.
// It can be called multiple times.
func (p *Pool) Wait() {
	p.closeOnce.Do(func() {
		close(p.queue)
	})

	p.wg.Wait()
}
