package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MimeLyc/image-captioner/pkg/log"
)

var ErrDispatcherStopped = errors.New("dispatcher is stopped")

// Task is one background unit of work.
type Task func(ctx context.Context)

// Dispatcher runs submitted tasks on a fixed pool of workers. Submit never
// waits for a task to run.
type Dispatcher struct {
	workerCount int
	tasks       chan Task

	mu      sync.RWMutex
	stopped bool
	senders sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	done      chan struct{}
}

func NewDispatcher(workerCount, queueSize int) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		workerCount: workerCount,
		tasks:       make(chan Task, queueSize),
		done:        make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := range d.workerCount {
			d.wg.Add(1)
			go d.worker(i + 1)
		}
		go func() {
			d.wg.Wait()
			close(d.done)
		}()
	})
}

// Submit hands task to the pool. When the buffer is full the hand-off
// continues in its own goroutine so the caller is never blocked.
func (d *Dispatcher) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.tasks <- task:
	default:
		log.Warn("Dispatcher queue full, handing off task asynchronously")
		d.senders.Add(1)
		go func() {
			defer d.senders.Done()
			d.tasks <- task
		}()
	}
	return nil
}

// Pending reports how many tasks are buffered and not yet picked up.
func (d *Dispatcher) Pending() int {
	return len(d.tasks)
}

// Stop rejects new tasks and waits for queued ones to finish or for ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()

		// workers were never started; run them so queued work drains
		d.Start()
		go func() {
			d.senders.Wait()
			close(d.tasks)
		}()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	log.Debug("Dispatcher worker %d started", id)

	for task := range d.tasks {
		d.run(id, task)
	}
	log.Debug("Dispatcher worker %d stopped", id)
}

func (d *Dispatcher) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Dispatcher worker %d recovered from task panic: %v", id, r)
		}
	}()
	task(context.Background())
}
