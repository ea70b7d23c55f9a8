package tablet

import (
	"context"
	"fmt"
	"testing"

	"github.com/pingcap-incubator/tinytablet/kv/tablet/mvcc"
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestBootstrapFromLocalWriterLog(t *testing.T) {
	ctx := context.Background()
	source := newTestTablet("source")
	w := NewLocalWriter(source, atomic.NewInt64(0))
	for i := 0; i < 20; i++ {
		_, err := w.Upsert(ctx, []byte(fmt.Sprintf("k%02d", i%7)), []byte(fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
	}
	_, err := w.Delete(ctx, []byte("k00"))
	require.NoError(t, err)
	entries := w.Log()
	maxHT := entries[len(entries)-1].HybridTime

	replica := newTestTablet("replica")
	require.NoError(t, replica.Bootstrap(entries))
	assert.Equal(t, maxHT.Incremented(), replica.Mvcc().GetCleanHybridTime())
	assert.True(t, replica.Clock().IsAfter(maxHT))

	sourceSnap, _, err := source.ReadAtSafeTime(ctx)
	require.NoError(t, err)
	replicaSnap, safeTime, err := replica.ReadAtSafeTime(ctx)
	require.NoError(t, err)
	assert.True(t, safeTime > maxHT)
	assert.Equal(t, source.Scan(sourceSnap, nil, nil, 0), replica.Scan(replicaSnap, nil, nil, 0))

	// New writes on the replica get hybrid times above everything replayed.
	ht, err := replica.Write(ctx, []RowOperation{{Type: OpInsert, Key: []byte("k00"), Value: []byte("back")}})
	require.NoError(t, err)
	assert.True(t, ht > maxHT)
}

func TestBootstrapPartialReplayIsInvisible(t *testing.T) {
	replica := newTestTablet("replica")
	m := replica.Mvcc()

	// An entry is replayed but the safe time has not been adjusted yet.
	require.NoError(t, m.StartOperationAtHybridTime(50))
	m.StartApplyingOperation(50)
	replica.apply(50, []RowOperation{{Type: OpUpsert, Key: []byte("a"), Value: []byte("1")}})
	m.OfflineCommitOperation(50)

	_, err := replica.Get(mvcc.NewSnapshotAt(40), []byte("a"))
	assert.True(t, IsRowNotFound(err))
	assert.False(t, m.TakeSnapshot().IsCommitted(40))

	require.NoError(t, replica.Bootstrap([]LogEntry{
		{OpID: 2, HybridTime: 60, Ops: []RowOperation{{Type: OpUpsert, Key: []byte("b"), Value: []byte("2")}}},
	}))
	snap := m.TakeSnapshot()
	assert.True(t, snap.IsCommitted(40))
	assert.True(t, snap.IsCommitted(50))
	assert.True(t, snap.IsCommitted(60))
	row, err := replica.Get(snap, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, hybridtime.HybridTime(50), row.HybridTime)
}

func TestBootstrapRejectsDuplicates(t *testing.T) {
	replica := newTestTablet("replica")
	entry := LogEntry{OpID: 1, HybridTime: 10, Ops: []RowOperation{{Type: OpUpsert, Key: []byte("a")}}}
	require.NoError(t, replica.Bootstrap([]LogEntry{entry}))

	err := replica.Bootstrap([]LogEntry{entry})
	assert.True(t, mvcc.IsIllegalState(err), "%v", err)
	assert.NoError(t, replica.Bootstrap(nil))
}
