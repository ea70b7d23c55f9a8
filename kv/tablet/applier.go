package tablet

import (
	"sync"

	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap-incubator/tinytablet/kv/util/worker"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Applier applies entries replicated from a leader. Entries are registered with the MVCC manager
// in log order at the hybrid time the leader assigned, then applied and committed by a pool of
// workers, so commits happen out of order.
//
// A follower does not decide its own safe time: reads go through TakeReadSnapshot at a hybrid time
// returned by Flush rather than through ReadAtSafeTime.
type Applier struct {
	tablet *Tablet
	worker *worker.Worker
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	// lastSubmitted is the hybrid time of the last entry handed to the workers.
	lastSubmitted hybridtime.HybridTime
	pending       sync.WaitGroup
}

type applyTask struct {
	entry LogEntry
}

func NewApplier(t *Tablet, workers int) *Applier {
	a := &Applier{tablet: t}
	a.worker = worker.NewWorkerPool("applier-"+t.id, workers, &a.wg)
	return a
}

func (a *Applier) Start() {
	a.worker.Start(a)
}

// Submit registers entry and queues it for applying. Entries must be submitted in log order.
func (a *Applier) Submit(entry LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrApplierStopped
	}
	if len(entry.Ops) == 0 {
		return errors.Annotatef(ErrEmptyWrite, "op %d", entry.OpID)
	}
	// Commits check that the clock has passed the hybrid time.
	if err := a.tablet.clock.Update(entry.HybridTime); err != nil {
		return errors.Annotatef(err, "op %d", entry.OpID)
	}
	if err := a.tablet.mvcc.StartOperationAtHybridTime(entry.HybridTime); err != nil {
		applierTaskCounter.WithLabelValues("rejected").Inc()
		return errors.Annotatef(err, "op %d", entry.OpID)
	}
	a.lastSubmitted = entry.HybridTime
	a.pending.Add(1)
	a.worker.Sender() <- applyTask{entry: entry}
	applierTaskCounter.WithLabelValues("submitted").Inc()
	return nil
}

func (a *Applier) Handle(task worker.Task) {
	t := task.(applyTask)
	defer a.pending.Done()
	m := a.tablet.mvcc
	m.StartApplyingOperation(t.entry.HybridTime)
	a.tablet.apply(t.entry.HybridTime, t.entry.Ops)
	m.CommitOperation(t.entry.HybridTime)
	applierTaskCounter.WithLabelValues("applied").Inc()
}

// Flush waits until every submitted entry has committed and returns the hybrid time of the last
// one. It must not run concurrently with Submit.
func (a *Applier) Flush() hybridtime.HybridTime {
	a.mu.Lock()
	last := a.lastSubmitted
	a.mu.Unlock()
	a.pending.Wait()
	return last
}

// Stop applies the queued entries and stops the workers. Submit fails afterwards.
func (a *Applier) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	a.worker.Stop()
	a.wg.Wait()
	log.Info("applier stopped", zap.String("tablet", a.tablet.id), zap.Stringer("last-submitted", a.lastSubmitted))
}
