package worker

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TaskStop makes the goroutine receiving it exit.
type TaskStop struct{}

type Task interface{}

// Worker runs tasks sent to it on one or more goroutines. Tasks are received from a single queue,
// so with more than one goroutine they may finish in a different order than they were sent.
type Worker struct {
	name        string
	sender      chan<- Task
	receiver    <-chan Task
	wg          *sync.WaitGroup
	concurrency int
}

type TaskHandler interface {
	Handle(t Task)
}

// Starter is implemented by handlers that need to run code on each worker goroutine before it
// receives tasks.
type Starter interface {
	Start()
}

func (w *Worker) Start(handler TaskHandler) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(handler)
	}
	log.Debug("worker started", zap.String("name", w.name), zap.Int("concurrency", w.concurrency))
}

func (w *Worker) run(handler TaskHandler) {
	defer w.wg.Done()
	if s, ok := handler.(Starter); ok {
		s.Start()
	}
	for {
		task := <-w.receiver
		if _, ok := task.(TaskStop); ok {
			return
		}
		handler.Handle(task)
	}
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Stop asks every goroutine to exit once the tasks queued before the call are handled.
func (w *Worker) Stop() {
	for i := 0; i < w.concurrency; i++ {
		w.sender <- TaskStop{}
	}
	log.Debug("worker stopping", zap.String("name", w.name))
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	return NewWorkerPool(name, 1, wg)
}

// NewWorkerPool creates a worker handling tasks on size goroutines. The handler must be safe for
// concurrent use when size is greater than one.
func NewWorkerPool(name string, size int, wg *sync.WaitGroup) *Worker {
	if size < 1 {
		size = 1
	}
	ch := make(chan Task, defaultWorkerCapacity)
	return &Worker{
		sender:      (chan<- Task)(ch),
		receiver:    (<-chan Task)(ch),
		name:        name,
		wg:          wg,
		concurrency: size,
	}
}
