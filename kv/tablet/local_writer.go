package tablet

import (
	"context"
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"go.uber.org/atomic"
)

// LocalWriter writes to a tablet without going through replication. Each successful write gets the
// next id from opIDs and is recorded as a LogEntry, so that another tablet can be bootstrapped from
// what it wrote. Writers that share a counter get distinct op ids.
type LocalWriter struct {
	tablet *Tablet
	opIDs  *atomic.Int64

	mu  sync.Mutex
	log []LogEntry
}

func NewLocalWriter(t *Tablet, opIDs *atomic.Int64) *LocalWriter {
	return &LocalWriter{tablet: t, opIDs: opIDs}
}

func (w *LocalWriter) Tablet() *Tablet {
	return w.tablet
}

func (w *LocalWriter) Insert(ctx context.Context, key, value []byte) (hybridtime.HybridTime, error) {
	return w.Write(ctx, []RowOperation{{Type: OpInsert, Key: key, Value: value}})
}

func (w *LocalWriter) Upsert(ctx context.Context, key, value []byte) (hybridtime.HybridTime, error) {
	return w.Write(ctx, []RowOperation{{Type: OpUpsert, Key: key, Value: value}})
}

func (w *LocalWriter) Update(ctx context.Context, key, value []byte) (hybridtime.HybridTime, error) {
	return w.Write(ctx, []RowOperation{{Type: OpUpdate, Key: key, Value: value}})
}

func (w *LocalWriter) Delete(ctx context.Context, key []byte) (hybridtime.HybridTime, error) {
	return w.Write(ctx, []RowOperation{{Type: OpDelete, Key: key}})
}

// Write applies ops as one operation and records it.
func (w *LocalWriter) Write(ctx context.Context, ops []RowOperation) (hybridtime.HybridTime, error) {
	ht, err := w.tablet.Write(ctx, ops)
	if err != nil {
		return hybridtime.Invalid, err
	}
	entry := LogEntry{
		OpID:       w.opIDs.Inc(),
		HybridTime: ht,
		Ops:        append([]RowOperation(nil), ops...),
	}
	w.mu.Lock()
	w.log = append(w.log, entry)
	w.mu.Unlock()
	return ht, nil
}

// Log returns the recorded entries ordered by hybrid time.
func (w *LocalWriter) Log() []LogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries := append([]LogEntry(nil), w.log...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].HybridTime < entries[j].HybridTime })
	return entries
}
