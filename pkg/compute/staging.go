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
	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/util"
)

// StagingBuffer holds the rows produced at one depth and not yet
// consumed by the next. It is a ring addressed by the monotone
// read/write counters kept in PipelineState: slot = pos % capacity.
// Capacity equals the lane count, so one full buffer is exactly one
// input window for the depth below.
type StagingBuffer struct {
	_cap  uint64
	_rows []chunk.Row
}

func NewStagingBuffer(cap uint64) *StagingBuffer {
	util.AssertFunc(cap > 0)
	return &StagingBuffer{
		_cap:  cap,
		_rows: make([]chunk.Row, cap),
	}
}

func (buf *StagingBuffer) Cap() uint64 {
	return buf._cap
}

func (buf *StagingBuffer) Put(pos uint64, row chunk.Row) {
	buf._rows[pos%buf._cap] = row
}

func (buf *StagingBuffer) Get(pos uint64) chunk.Row {
	return buf._rows[pos%buf._cap]
}

// Serialize dumps every slot. Slot contents outside the live
// [readPos, writePos) window are stale but harmless, and dumping all
// of them keeps the layout independent of the counters.
func (buf *StagingBuffer) Serialize(serial util.Serialize) error {
	err := util.Write[uint64](buf._cap, serial)
	if err != nil {
		return err
	}
	for _, row := range buf._rows {
		if err = row.Serialize(serial); err != nil {
			return err
		}
	}
	return nil
}

func DeserializeStagingBuffer(deserial util.Deserialize) (*StagingBuffer, error) {
	var cap uint64
	err := util.Read[uint64](&cap, deserial)
	if err != nil {
		return nil, err
	}
	buf := NewStagingBuffer(cap)
	for i := uint64(0); i < cap; i++ {
		buf._rows[i], err = chunk.DeserializeRow(deserial)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}
