package worker

import (
	"context"
	"fmt"
)

// Job is one unit of work submitted on behalf of an owner.
type Job struct {
	Owner string
	ctx   context.Context
	run   func(context.Context) error
	done  chan error
}

func (j *Job) finish(err error) {
	j.done <- err
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan *Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan *Job),
	}
}

// Start runs jobs until the worker receives a nil job or the pool closes.
func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job == nil {
				w.pool.retire(w.jobChannel)
				return
			}
			w.execute(job)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) execute(job *Job) {
	if err := job.ctx.Err(); err != nil {
		job.finish(err)
		return
	}
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		err = job.run(job.ctx)
	}()
	job.finish(err)
}
