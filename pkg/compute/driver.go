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
	"context"
	"sync/atomic"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
	"github.com/lanedb/pipejoin/pkg/relation"
	"github.com/lanedb/pipejoin/pkg/util"
)

// pipeline is the compiled, immutable plan shared by every lane
// group of a launch: the source, the join stages, the terminal and
// the per depth emit counters.
type pipeline struct {
	_source   relation.Source
	_stages   []*JoinStage
	_proj     *expr.ExprExec
	_agg      *AggTable
	_laneCnt  int
	_groupCnt int
	_emitted  []atomic.Uint64
}

func (pipe *pipeline) terminalDepth() int32 {
	return int32(len(pipe._stages)) + 1
}

// groupRunner drives one lane group up and down the depths. All of
// its mutable state lives in _state and _bufs, which is exactly what
// a checkpoint captures; _scratch is derived and rebuilt on demand.
type groupRunner struct {
	_pipe      *pipeline
	_state     *PipelineState
	_bufs      []*StagingBuffer
	_dest      *Destination
	_aggLocal  *aggHash
	_scratch   [][]laneScratch
	_suspended bool
}

func newGroupRunner(pipe *pipeline, groupId int, dest *Destination) *groupRunner {
	nJoins := len(pipe._stages)
	run := &groupRunner{
		_pipe:  pipe,
		_state: NewPipelineState(groupId, nJoins, pipe._laneCnt),
		_bufs:  make([]*StagingBuffer, nJoins+1),
		_dest:  dest,
	}
	for i := range run._bufs {
		run._bufs[i] = NewStagingBuffer(uint64(pipe._laneCnt))
	}
	run.initDerived()
	return run
}

func restoreGroupRunner(pipe *pipeline, dest *Destination, data []byte) (*groupRunner, error) {
	deserial := util.NewBufferDeserialize(data)
	state, err := DeserializePipelineState(deserial)
	if err != nil {
		return nil, err
	}
	nJoins := len(pipe._stages)
	run := &groupRunner{
		_pipe:  pipe,
		_state: state,
		_bufs:  make([]*StagingBuffer, nJoins+1),
		_dest:  dest,
	}
	for i := range run._bufs {
		run._bufs[i], err = DeserializeStagingBuffer(deserial)
		if err != nil {
			return nil, err
		}
	}
	state._suspended = false
	run.initDerived()
	return run, nil
}

func (run *groupRunner) initDerived() {
	pipe := run._pipe
	run._scratch = make([][]laneScratch, len(pipe._stages))
	for d := range run._scratch {
		run._scratch[d] = make([]laneScratch, pipe._laneCnt)
	}
	if pipe._agg != nil {
		run._aggLocal = pipe._agg.newLocal()
	}
}

func (run *groupRunner) checkpoint() ([]byte, error) {
	serial := util.NewBufferSerialize()
	if err := run._state.Serialize(serial); err != nil {
		return nil, err
	}
	for _, buf := range run._bufs {
		if err := buf.Serialize(serial); err != nil {
			return nil, err
		}
	}
	return serial.Bytes(), nil
}

func (run *groupRunner) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newFault(run._state._depth, run._state._groupId, util.ConvertPanicError(r))
		}
	}()

	state := run._state
	for state._depth >= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		d := state._depth
		switch {
		case d == 0:
			err = run.loadSource()
		case d < run._pipe.terminalDepth():
			err = run.execJoin(d)
		default:
			var suspended bool
			suspended, err = run.execTerminal()
			if suspended {
				run._suspended = true
				state._suspended = true
				return nil
			}
		}
		if err != nil {
			return newFault(d, state._groupId, err)
		}
	}
	if run._aggLocal != nil {
		return run._pipe._agg.Merge(run._aggLocal)
	}
	return nil
}

// loadSource fills buffer 0 with the group's next strided batch.
// Batch b of group g covers source positions starting at
// (b*groupCount+g)*laneCount, so the partition is a pure function of
// the batch counter and resumes land on the same rows.
func (run *groupRunner) loadSource() error {
	pipe := run._pipe
	state := run._state
	if state.pending(0) > 0 {
		state._depth = 1
		return nil
	}
	pos := (state._batchNo*uint64(pipe._groupCnt) + uint64(state._groupId)) *
		uint64(pipe._laneCnt)
	out := make([]chunk.Row, pipe._laneCnt)
	n, eof, err := pipe._source.Read(pos, out)
	if err != nil {
		return err
	}
	state._batchNo++
	for i := 0; i < n; i++ {
		run._bufs[0].Put(state._writePos[0], out[i])
		state._writePos[0]++
	}
	pipe._emitted[0].Add(uint64(n))
	if n == 0 && eof {
		state.raiseScanDone(0)
	}
	state._depth = 1
	return nil
}

func (run *groupRunner) execJoin(d int32) error {
	pipe := run._pipe
	state := run._state
	stage := pipe._stages[d-1]
	lanes := state.laneCursors(d)
	scratch := run._scratch[d-1]
	b := int(d - 1)
	laneCnt := uint64(pipe._laneCnt)

	window := state.pending(b)
	if window > laneCnt {
		window = laneCnt
	}

	anyActive := false
	for l := range lanes {
		if lanes[l].Active {
			anyActive = true
			break
		}
	}

	if !anyActive {
		if window == 0 {
			if state._scanDone >= d-1 {
				// nothing more will ever arrive here
				state.raiseScanDone(d)
				state._depth = d + 1
			} else {
				state._depth = d - 1
			}
			return nil
		}
		// bind each lane to one input row of the window
		for l := uint64(0); l < laneCnt; l++ {
			lanes[l].Reset()
			scratch[l].reset()
			if l < window {
				lanes[l].Active = true
			}
		}
	}

	// phase one: every active lane computes its next emit without
	// touching committed state
	emits := make([]chunk.Row, laneCnt)
	next := make([]RowCursor, laneCnt)
	emitCnt := uint64(0)
	for l := uint64(0); l < laneCnt; l++ {
		if !lanes[l].Active {
			continue
		}
		outer := run._bufs[b].Get(state._readPos[b] + l)
		nc, emit, err := stage.step(outer, lanes[l], &scratch[l])
		if err != nil {
			return err
		}
		next[l] = nc
		emits[l] = emit
		if emit != nil {
			emitCnt++
		}
	}

	// phase two: commit only if the whole batch fits downstream.
	// Aborting here is free, the recomputation lands on identical
	// rows because no cursor moved.
	space := run._bufs[d].Cap() - state.pending(int(d))
	if emitCnt > space {
		state._depth = d + 1
		return nil
	}
	allDone := true
	for l := uint64(0); l < laneCnt; l++ {
		if !lanes[l].Active {
			continue
		}
		if emits[l] != nil {
			run._bufs[d].Put(state._writePos[d], emits[l])
			state._writePos[d]++
		}
		lanes[l] = next[l]
		if lanes[l].Cursor == CursorExhausted {
			lanes[l].Active = false
		} else {
			allDone = false
		}
	}
	pipe._emitted[d].Add(emitCnt)

	if allDone {
		// the whole window is joined out; consume it
		state._readPos[b] += window
		for l := range lanes {
			lanes[l].Reset()
			scratch[l].reset()
		}
	}

	switch {
	case state.pending(int(d)) == run._bufs[d].Cap():
		state._depth = d + 1
	case allDone && state.pending(b) == 0 && state._scanDone < d-1:
		state._depth = d - 1
	default:
		// keep working this depth
		state._depth = d
	}
	return nil
}

func (run *groupRunner) execTerminal() (bool, error) {
	pipe := run._pipe
	state := run._state
	nJoins := len(pipe._stages)
	b := nJoins
	laneCnt := uint64(pipe._laneCnt)

	window := state.pending(b)
	if window > laneCnt {
		window = laneCnt
	}
	if window == 0 {
		if state._scanDone >= int32(nJoins) {
			state._depth = -1
		} else {
			state._depth = int32(nJoins)
		}
		return false, nil
	}

	if run._aggLocal != nil {
		for i := uint64(0); i < window; i++ {
			row := run._bufs[b].Get(state._readPos[b] + i)
			if err := run._aggLocal.update(row); err != nil {
				return false, err
			}
		}
		state._readPos[b] += window
		pipe._emitted[nJoins+1].Add(window)
		return false, nil
	}

	rows := make([]chunk.Row, window)
	byteCnt := uint64(0)
	for i := uint64(0); i < window; i++ {
		in := run._bufs[b].Get(state._readPos[b] + i)
		out, err := pipe._proj.ExecRow(in)
		if err != nil {
			return false, err
		}
		rows[i] = out
		byteCnt += uint64(out.SerializedSize())
	}
	slot, ok := run._dest.TryReserve(window, byteCnt)
	if !ok {
		// destination is full: leave every counter and cursor as is
		// and hand the state back for the next launch
		return true, nil
	}
	for i := uint64(0); i < window; i++ {
		run._dest.Write(slot+i, rows[i])
	}
	state._readPos[b] += window
	pipe._emitted[nJoins+1].Add(window)
	return false, nil
}
