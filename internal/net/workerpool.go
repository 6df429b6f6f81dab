package net

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// WorkerFunction is the unit of work a pool dispatches: passed the
// supervising tomb (to observe Dying) and the task payload.
type WorkerFunction func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed number of goroutines pulling from one shared
// task channel, supervised by a tomb.Tomb so the workers stop with the
// server's own lifecycle; a task's error is logged and the worker moves
// on to the next task. Adapted from the teacher's
// internal/worker.go, kept in package net rather than a separate
// internal/utils package since its only caller is the connection
// handler below.
type WorkerPool struct {
	n     int
	tasks chan any
	work  WorkerFunction
}

func NewWorkerPool(n int) WorkerPool {
	return WorkerPool{n: n, tasks: make(chan any, n*4)}
}

// Setup launches n workers under t, each running work against tasks
// pulled off the pool's channel until t starts dying.
func (p *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	p.work = work
	for i := 0; i < p.n; i++ {
		t.Go(func() error {
			return p.worker(t)
		})
	}
}

func (p *WorkerPool) worker(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := p.work(t, task); err != nil {
				log.Error().Err(err).Msg("worker task failed")
			}
		}
	}
}

// AddTask enqueues a task for whichever worker is next free.
func (p *WorkerPool) AddTask(task any) {
	p.tasks <- task
}
