// Copyright 2024-2025 lanedb
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compute

import (
	"math"

	"github.com/lanedb/pipejoin/pkg/util"
)

const (
	// CursorUnset marks a lane that has not started scanning its
	// bound outer row yet.
	CursorUnset uint64 = 0
	// CursorExhausted marks a lane whose inner scan is complete.
	CursorExhausted uint64 = math.MaxUint64
)

// RowCursor is the per-lane scan position inside one join depth.
// The cursor encoding is strategy specific (inner row id for nested
// loop, bucket<<32|pos for hash, candidate index for block index)
// but always a plain uint64, so a checkpoint is bit exact.
type RowCursor struct {
	Cursor  uint64
	Matched bool
	Active  bool
}

func (rc *RowCursor) Reset() {
	rc.Cursor = CursorUnset
	rc.Matched = false
	rc.Active = false
}

// PipelineState is everything one lane group needs to resume after a
// suspend: the depth it was at, its position in the source, the
// read/write counters of every staging buffer, the scan-done
// watermark and all lane cursors. Serialization is stable, a state
// round-trips bit exact through a checkpoint.
type PipelineState struct {
	_groupId   int
	_depth     int32
	_batchNo   uint64
	_scanDone  int32
	_readPos   []uint64
	_writePos  []uint64
	_cursors   [][]RowCursor
	_suspended bool
}

// NewPipelineState sets up the initial state of a group over nJoins
// join depths. Buffers 0..nJoins hold the outputs of depth 0 (source
// load) through depth nJoins.
func NewPipelineState(groupId int, nJoins int, laneCnt int) *PipelineState {
	state := &PipelineState{
		_groupId:  groupId,
		_depth:    0,
		_scanDone: -1,
		_readPos:  make([]uint64, nJoins+1),
		_writePos: make([]uint64, nJoins+1),
		_cursors:  make([][]RowCursor, nJoins),
	}
	for d := range state._cursors {
		state._cursors[d] = make([]RowCursor, laneCnt)
	}
	return state
}

func (state *PipelineState) GroupId() int {
	return state._groupId
}

func (state *PipelineState) Depth() int32 {
	return state._depth
}

func (state *PipelineState) ScanDone() int32 {
	return state._scanDone
}

// raiseScanDone moves the watermark up, never down.
func (state *PipelineState) raiseScanDone(depth int32) {
	if depth > state._scanDone {
		state._scanDone = depth
	}
}

// pending is the number of unconsumed rows in buffer b.
func (state *PipelineState) pending(b int) uint64 {
	util.AssertFunc(state._writePos[b] >= state._readPos[b])
	return state._writePos[b] - state._readPos[b]
}

// laneCursors returns the cursor row of join depth d (1 based).
func (state *PipelineState) laneCursors(d int32) []RowCursor {
	return state._cursors[d-1]
}

func (state *PipelineState) Serialize(serial util.Serialize) error {
	if err := util.Write[int64](int64(state._groupId), serial); err != nil {
		return err
	}
	if err := util.Write[int32](state._depth, serial); err != nil {
		return err
	}
	if err := util.Write[uint64](state._batchNo, serial); err != nil {
		return err
	}
	if err := util.Write[int32](state._scanDone, serial); err != nil {
		return err
	}
	if err := util.Write[bool](state._suspended, serial); err != nil {
		return err
	}
	if err := util.Write[uint32](uint32(len(state._readPos)), serial); err != nil {
		return err
	}
	for i := range state._readPos {
		if err := util.Write[uint64](state._readPos[i], serial); err != nil {
			return err
		}
		if err := util.Write[uint64](state._writePos[i], serial); err != nil {
			return err
		}
	}
	if err := util.Write[uint32](uint32(len(state._cursors)), serial); err != nil {
		return err
	}
	for d := range state._cursors {
		if err := util.Write[uint32](uint32(len(state._cursors[d])), serial); err != nil {
			return err
		}
		for l := range state._cursors[d] {
			if err := util.Write[RowCursor](state._cursors[d][l], serial); err != nil {
				return err
			}
		}
	}
	return nil
}

func DeserializePipelineState(deserial util.Deserialize) (*PipelineState, error) {
	state := &PipelineState{}
	var groupId int64
	if err := util.Read[int64](&groupId, deserial); err != nil {
		return nil, err
	}
	state._groupId = int(groupId)
	if err := util.Read[int32](&state._depth, deserial); err != nil {
		return nil, err
	}
	if err := util.Read[uint64](&state._batchNo, deserial); err != nil {
		return nil, err
	}
	if err := util.Read[int32](&state._scanDone, deserial); err != nil {
		return nil, err
	}
	if err := util.Read[bool](&state._suspended, deserial); err != nil {
		return nil, err
	}
	var bufCnt uint32
	if err := util.Read[uint32](&bufCnt, deserial); err != nil {
		return nil, err
	}
	state._readPos = make([]uint64, bufCnt)
	state._writePos = make([]uint64, bufCnt)
	for i := uint32(0); i < bufCnt; i++ {
		if err := util.Read[uint64](&state._readPos[i], deserial); err != nil {
			return nil, err
		}
		if err := util.Read[uint64](&state._writePos[i], deserial); err != nil {
			return nil, err
		}
	}
	var depthCnt uint32
	if err := util.Read[uint32](&depthCnt, deserial); err != nil {
		return nil, err
	}
	state._cursors = make([][]RowCursor, depthCnt)
	for d := uint32(0); d < depthCnt; d++ {
		var laneCnt uint32
		if err := util.Read[uint32](&laneCnt, deserial); err != nil {
			return nil, err
		}
		state._cursors[d] = make([]RowCursor, laneCnt)
		for l := uint32(0); l < laneCnt; l++ {
			if err := util.Read[RowCursor](&state._cursors[d][l], deserial); err != nil {
				return nil, err
			}
		}
	}
	return state, nil
}
