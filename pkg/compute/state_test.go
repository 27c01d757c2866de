package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/util"
)

func Test_stateCheckpointRoundTrip(t *testing.T) {
	state := NewPipelineState(3, 2, 4)
	state._depth = 2
	state._batchNo = 7
	state._scanDone = 1
	state._readPos[0] = 40
	state._writePos[0] = 44
	state._readPos[2] = 11
	state._writePos[2] = 13
	state._cursors[0][1] = RowCursor{Cursor: 9, Matched: true, Active: true}
	state._cursors[1][3] = RowCursor{Cursor: CursorExhausted, Matched: false, Active: false}
	state._suspended = true

	serial := util.NewBufferSerialize()
	require.NoError(t, state.Serialize(serial))
	first := util.CopyTo(serial.Bytes())

	restored, err := DeserializePipelineState(util.NewBufferDeserialize(first))
	require.NoError(t, err)
	assert.Equal(t, state._groupId, restored._groupId)
	assert.Equal(t, state._depth, restored._depth)
	assert.Equal(t, state._batchNo, restored._batchNo)
	assert.Equal(t, state._scanDone, restored._scanDone)
	assert.Equal(t, state._readPos, restored._readPos)
	assert.Equal(t, state._writePos, restored._writePos)
	assert.Equal(t, state._cursors, restored._cursors)
	assert.True(t, restored._suspended)

	// serializing the restored state yields identical bytes
	serial2 := util.NewBufferSerialize()
	require.NoError(t, restored.Serialize(serial2))
	assert.Equal(t, first, serial2.Bytes())
}

func Test_scanDoneMonotone(t *testing.T) {
	state := NewPipelineState(0, 2, 4)
	assert.Equal(t, int32(-1), state.ScanDone())
	state.raiseScanDone(1)
	assert.Equal(t, int32(1), state.ScanDone())
	state.raiseScanDone(0)
	assert.Equal(t, int32(1), state.ScanDone())
	state.raiseScanDone(2)
	assert.Equal(t, int32(2), state.ScanDone())
}

func Test_stagingBufferRing(t *testing.T) {
	buf := NewStagingBuffer(4)
	for i := uint64(0); i < 10; i++ {
		buf.Put(i, chunk.Row{chunk.IntValue(int64(i))})
	}
	// positions 6..9 survive, older slots were overwritten
	for i := uint64(6); i < 10; i++ {
		assert.Equal(t, int64(i), buf.Get(i)[0].I64)
	}

	serial := util.NewBufferSerialize()
	require.NoError(t, buf.Serialize(serial))
	buf2, err := DeserializeStagingBuffer(util.NewBufferDeserialize(serial.Bytes()))
	require.NoError(t, err)
	require.Equal(t, buf.Cap(), buf2.Cap())
	for i := uint64(6); i < 10; i++ {
		assert.Equal(t, buf.Get(i).String(), buf2.Get(i).String())
	}
}

func Test_destinationReserve(t *testing.T) {
	dest := NewDestination(4, 100)

	slot, ok := dest.TryReserve(3, 30)
	require.True(t, ok)
	assert.Equal(t, uint64(0), slot)

	// row capacity exceeded
	_, ok = dest.TryReserve(2, 10)
	assert.False(t, ok)

	slot, ok = dest.TryReserve(1, 10)
	require.True(t, ok)
	assert.Equal(t, uint64(3), slot)

	// byte capacity exceeded even though rows would fit after drain
	dest.Write(0, chunk.Row{chunk.IntValue(1)})
	dest.Write(1, chunk.Row{chunk.IntValue(2)})
	dest.Write(2, chunk.Row{chunk.IntValue(3)})
	dest.Write(3, chunk.Row{chunk.IntValue(4)})
	rows := dest.Drain()
	require.Equal(t, 4, len(rows))
	assert.Equal(t, uint64(0), dest.RowCount())

	_, ok = dest.TryReserve(1, 101)
	assert.False(t, ok)
	_, ok = dest.TryReserve(1, 100)
	assert.True(t, ok)
}

func Test_packedUsage(t *testing.T) {
	packed := packedUsage(destRowMax, destByteMax)
	rows, bytes := unpackUsage(packed)
	assert.Equal(t, destRowMax, rows)
	assert.Equal(t, destByteMax, bytes)
}
