package diag

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkdata/engine/pkg/bulkdata"
)

func resetTracking(t *testing.T) {
	t.Helper()
	require.NoError(t, DisableTracking())
	t.Cleanup(func() { require.NoError(t, DisableTracking()) })
}

func trackedInstance(t *testing.T, n int) *bulkdata.BulkData {
	t.Helper()
	cfg := bulkdata.DefaultConfig()
	b := bulkdata.NewByte(&cfg)
	_, err := b.Lock(bulkdata.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, b.Realloc(int32(n)))
	b.Unlock()
	return b
}

func TestRegisterNoopWhenDisabled(t *testing.T) {
	resetTracking(t)

	id := Register("texture", trackedInstance(t, 10))
	assert.Equal(t, uuid.UUID{}, id)
	assert.Empty(t, Snapshot())
}

func TestSnapshotSortsDescendingByBytes(t *testing.T) {
	resetTracking(t)
	require.NoError(t, EnableTracking(TrackerConfig{}))

	Register("small", trackedInstance(t, 4))
	Register("large", trackedInstance(t, 4096))
	Register("medium", trackedInstance(t, 256))

	usages := Snapshot()
	require.Len(t, usages, 3)
	assert.Equal(t, "large", usages[0].Label)
	assert.Equal(t, "medium", usages[1].Label)
	assert.Equal(t, "small", usages[2].Label)
	assert.GreaterOrEqual(t, usages[0].Bytes, usages[1].Bytes)
	assert.GreaterOrEqual(t, usages[1].Bytes, usages[2].Bytes)
}

func TestAggregateByClassSumsAndSortsDescending(t *testing.T) {
	resetTracking(t)
	require.NoError(t, EnableTracking(TrackerConfig{}))

	Register("mesh_lod", trackedInstance(t, 100))
	Register("mesh_lod", trackedInstance(t, 100))
	Register("texture", trackedInstance(t, 4096))

	classes := AggregateByClass(Snapshot())
	require.Len(t, classes, 2)

	assert.Equal(t, "texture", classes[0].Label)
	assert.Equal(t, int64(4096), classes[0].Bytes)
	assert.Equal(t, 1, classes[0].Count)

	assert.Equal(t, "mesh_lod", classes[1].Label)
	assert.Equal(t, int64(200), classes[1].Bytes)
	assert.Equal(t, 2, classes[1].Count)
}

func TestUnregisterRemovesFromSnapshot(t *testing.T) {
	resetTracking(t)
	require.NoError(t, EnableTracking(TrackerConfig{}))

	id := Register("ephemeral", trackedInstance(t, 16))
	require.Len(t, Snapshot(), 1)

	Unregister(id)
	assert.Empty(t, Snapshot())
}

func TestDumpUsageRendersClassAndObjectTables(t *testing.T) {
	resetTracking(t)
	require.NoError(t, EnableTracking(TrackerConfig{}))

	Register("texture", trackedInstance(t, 4096))
	Register("texture", trackedInstance(t, 1024))

	var buf bytes.Buffer
	require.NoError(t, DumpUsage(&buf))

	out := buf.String()
	assert.Contains(t, out, "CLASS")
	assert.Contains(t, out, "texture")
	assert.Contains(t, out, "5120")
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "4096")
	assert.Contains(t, out, "1024")
}
