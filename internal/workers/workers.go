// Package workers runs the bounded pool the HTTP layer dispatches request
// handling through. The queue size caps how much backlog a server accepts
// before clients start waiting on the channel send.
package workers

import (
	"sync"

	"go.uber.org/zap"
)

type Job struct {
	Fn   func() error
	Errc chan error
}

type Pool struct {
	JobQueue   chan Job
	MaxWorkers int
	logger     *zap.Logger
	wg         sync.WaitGroup
}

func NewPool(queueSize, maxWorkers int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := &Pool{
		JobQueue:   make(chan Job, queueSize),
		MaxWorkers: maxWorkers,
		logger:     logger,
	}
	pool.start()
	return pool
}

func (p *Pool) start() {
	for i := 0; i < p.MaxWorkers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.logger.Debug("worker started", zap.Int("worker", workerID))
			for job := range p.JobQueue {
				err := job.Fn()
				if job.Errc != nil {
					job.Errc <- err
				}
			}
			p.logger.Debug("worker stopped", zap.Int("worker", workerID))
		}(i)
	}
}

func (p *Pool) Enqueue(job Job) {
	p.JobQueue <- job
}

func (p *Pool) Depth() int {
	return len(p.JobQueue)
}

func (p *Pool) Shutdown() {
	close(p.JobQueue)
	p.wg.Wait()
}
