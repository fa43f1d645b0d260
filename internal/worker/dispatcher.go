package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrDispatcherBusy    = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	Logger      zerolog.Logger
	// OnDepth, when set, is called with the number of accepted jobs not yet started.
	OnDepth func(int)
}

type userQueue struct {
	jobs     []*Job
	enqueued bool
}

// Dispatcher feeds a bounded worker pool, serving owners round-robin so one
// busy owner cannot starve the others.
type Dispatcher struct {
	pool      *jobChannelPool
	jobQueue  chan *Job
	queueSize int
	logger    zerolog.Logger
	onDepth   func(int)

	mu        sync.Mutex
	pending   int
	stopped   bool
	queues    map[string]*userQueue // job queue for each owner
	ready     *list.List            // LRU queue storing owners
	positions map[string]*list.Element

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout)

	d := &Dispatcher{
		pool:      pool,
		jobQueue:  make(chan *Job, cfg.QueueSize),
		queueSize: cfg.QueueSize,
		logger:    cfg.Logger.With().Str("component", "dispatcher").Logger(),
		onDepth:   cfg.OnDepth,
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	for i := 0; i < pool.min; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Enqueue accepts fn for owner without waiting for it to run. The returned
// channel receives fn's result exactly once.
func (d *Dispatcher) Enqueue(ctx context.Context, owner string, fn func(context.Context) error) (<-chan error, error) {
	job := &Job{Owner: owner, ctx: ctx, run: fn, done: make(chan error, 1)}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, ErrDispatcherStopped
	}
	if d.pending >= d.queueSize {
		d.mu.Unlock()
		return nil, ErrDispatcherBusy
	}
	d.pending++
	depth := d.pending
	// pending never exceeds the channel capacity, so this cannot block
	d.jobQueue <- job
	d.mu.Unlock()

	d.reportDepth(depth)
	return job.done, nil
}

// Submit runs fn on the pool and waits for its result or for ctx to end.
func (d *Dispatcher) Submit(ctx context.Context, owner string, fn func(context.Context) error) error {
	done, err := d.Enqueue(ctx, owner, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending is the number of accepted jobs that have not started.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop stops dispatching. Jobs already running finish; queued jobs fail with
// ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.quit)
		d.pool.close()
		<-d.done
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		// dispatch one job of the owner in the front of LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
				d.collect()
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		select {
		case <-d.quit:
			d.drain()
			return
		default:
		}
		d.collect()
	}
}

// collect moves every job waiting in the intake channel into its owner's queue.
func (d *Dispatcher) collect() {
	for len(d.jobQueue) > 0 {
		d.enqueueJob(<-d.jobQueue)
	}
}

func (d *Dispatcher) enqueueJob(job *Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Owner]
	if q == nil {
		q = &userQueue{}
		d.queues[job.Owner] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Owner] = d.ready.PushBack(job.Owner)
}

// dispatchOne hands the first owner's oldest job to a worker and moves the
// owner to the back of the line.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	owner := elem.Value.(string)
	q := d.queues[owner]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, owner)
		delete(d.queues, owner)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		d.settle(job, ErrDispatcherStopped)
		return false
	}
	d.markStarted()
	d.logger.Debug().Str("owner", owner).Msg("job assigned")
	workerChan <- job
	return true
}

// drain fails every job that was accepted but never started.
func (d *Dispatcher) drain() {
	for len(d.jobQueue) > 0 {
		d.settle(<-d.jobQueue, ErrDispatcherStopped)
	}
	d.mu.Lock()
	var jobs []*Job
	for _, q := range d.queues {
		jobs = append(jobs, q.jobs...)
	}
	d.queues = make(map[string]*userQueue)
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()
	for _, job := range jobs {
		d.settle(job, ErrDispatcherStopped)
	}
}

func (d *Dispatcher) settle(job *Job, err error) {
	d.markStarted()
	job.finish(err)
}

func (d *Dispatcher) markStarted() {
	d.mu.Lock()
	d.pending--
	depth := d.pending
	d.mu.Unlock()
	d.reportDepth(depth)
}

func (d *Dispatcher) reportDepth(depth int) {
	if d.onDepth != nil {
		d.onDepth(depth)
	}
}
