// Package tablet is an in-memory tablet: a set of versioned rows whose visibility is decided by the
// tablet's MVCC manager.
//
// Every write runs as one MVCC operation. A row version carries the hybrid time of the operation
// that wrote it, and a read returns, for each key, the newest version its snapshot considers
// committed.
package tablet

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinytablet/kv/clock"
	"github.com/pingcap-incubator/tinytablet/kv/config"
	"github.com/pingcap-incubator/tinytablet/kv/tablet/mvcc"
	"github.com/pingcap-incubator/tinytablet/kv/transaction/latches"
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type OpType int

const (
	// OpInsert fails if the row exists.
	OpInsert OpType = iota
	// OpUpsert writes the row whether it exists or not.
	OpUpsert
	// OpUpdate fails if the row does not exist.
	OpUpdate
	// OpDelete fails if the row does not exist.
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpInsert:
		return "insert"
	case OpUpsert:
		return "upsert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

type RowOperation struct {
	Type  OpType
	Key   []byte
	Value []byte
}

// Row is a row as seen by a read.
type Row struct {
	Key        []byte
	Value      []byte
	HybridTime hybridtime.HybridTime
}

type rowVersion struct {
	key     []byte
	ht      hybridtime.HybridTime
	value   []byte
	deleted bool
}

// Less orders versions by key, newest first within a key.
func (v *rowVersion) Less(than btree.Item) bool {
	other := than.(*rowVersion)
	if c := bytes.Compare(v.key, other.key); c != 0 {
		return c < 0
	}
	return v.ht > other.ht
}

const rowBTreeDegree = 32

type Tablet struct {
	id      string
	clock   clock.Clock
	mvcc    *mvcc.Manager
	latches *latches.Latches
	cfg     config.MvccConfig

	mu   sync.RWMutex
	rows *btree.BTree
}

func NewTablet(id string, c clock.Clock, cfg config.MvccConfig) *Tablet {
	return &Tablet{
		id:      id,
		clock:   c,
		mvcc:    mvcc.NewManager(c),
		latches: latches.NewLatches(),
		cfg:     cfg,
		rows:    btree.New(rowBTreeDegree),
	}
}

func (t *Tablet) ID() string {
	return t.id
}

func (t *Tablet) Mvcc() *mvcc.Manager {
	return t.mvcc
}

func (t *Tablet) Latches() *latches.Latches {
	return t.latches
}

func (t *Tablet) Clock() clock.Clock {
	return t.clock
}

func rowKeys(ops []RowOperation) [][]byte {
	keys := make([][]byte, 0, len(ops))
	for _, op := range ops {
		keys = append(keys, op.Key)
	}
	return keys
}

// Write applies ops atomically as one MVCC operation and returns its hybrid time. Either every
// operation is visible to readers or none is.
func (t *Tablet) Write(ctx context.Context, ops []RowOperation) (hybridtime.HybridTime, error) {
	if len(ops) == 0 {
		return hybridtime.Invalid, ErrEmptyWrite
	}
	if err := ctx.Err(); err != nil {
		return hybridtime.Invalid, errors.Trace(err)
	}

	guard, err := t.latches.Acquire(ctx, rowKeys(ops))
	if err != nil {
		return hybridtime.Invalid, err
	}
	defer guard.Release()

	op := mvcc.NewScopedOperation(t.mvcc)
	defer op.Close()
	t.latches.Validate(op.HybridTime(), guard)

	if err := t.validate(ops); err != nil {
		writeCounter.WithLabelValues("rejected").Inc()
		log.Debug("tablet write rejected",
			zap.String("tablet", t.id), zap.Stringer("hybrid-time", op.HybridTime()), zap.Error(err))
		return hybridtime.Invalid, err
	}

	op.StartApplying()
	t.apply(op.HybridTime(), ops)
	op.Commit()
	writeCounter.WithLabelValues("committed").Inc()
	return op.HybridTime(), nil
}

// validate checks ops against the newest version of each row. The caller holds the latches of
// every key, so no other write to these rows is in progress.
func (t *Tablet) validate(ops []RowOperation) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	exists := make(map[string]bool, len(ops))
	for _, op := range ops {
		present, ok := exists[string(op.Key)]
		if !ok {
			latest := t.latestVersionLocked(op.Key)
			present = latest != nil && !latest.deleted
		}
		switch op.Type {
		case OpInsert:
			if present {
				return errors.Annotatef(ErrRowAlreadyExists, "insert %q", op.Key)
			}
			present = true
		case OpUpsert:
			present = true
		case OpUpdate:
			if !present {
				return errors.Annotatef(ErrRowNotFound, "update %q", op.Key)
			}
		case OpDelete:
			if !present {
				return errors.Annotatef(ErrRowNotFound, "delete %q", op.Key)
			}
			present = false
		default:
			return errors.Errorf("unknown row operation type %d", op.Type)
		}
		exists[string(op.Key)] = present
	}
	return nil
}

func (t *Tablet) latestVersionLocked(key []byte) *rowVersion {
	var latest *rowVersion
	t.rows.AscendGreaterOrEqual(&rowVersion{key: key, ht: hybridtime.Max}, func(i btree.Item) bool {
		v := i.(*rowVersion)
		if bytes.Equal(v.key, key) {
			latest = v
		}
		return false
	})
	return latest
}

// apply installs the versions written by ops at ht. Later operations on the same key in one batch
// replace earlier ones.
func (t *Tablet) apply(ht hybridtime.HybridTime, ops []RowOperation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, op := range ops {
		v := &rowVersion{
			key: append([]byte(nil), op.Key...),
			ht:  ht,
		}
		if op.Type == OpDelete {
			v.deleted = true
		} else {
			v.value = append([]byte(nil), op.Value...)
		}
		t.rows.ReplaceOrInsert(v)
	}
}

// Close waits for the operations that already started applying.
func (t *Tablet) Close() {
	t.mvcc.WaitForApplyingOperationsToCommit()
	log.Info("tablet closed",
		zap.String("tablet", t.id),
		zap.Int("in-flight", t.mvcc.CountOperationsInFlight()),
		zap.Stringer("clean-time", t.mvcc.GetCleanHybridTime()))
}
