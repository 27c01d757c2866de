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
	"sync/atomic"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/util"
)

const (
	destByteBits = 40
	destByteMask = (uint64(1) << destByteBits) - 1
	destRowMax   = (uint64(1) << 24) - 1
	destByteMax  = destByteMask
)

// Destination is the shared output buffer of a launch. Row and byte
// usage are packed into one atomic word (rows in the high 24 bits,
// bytes in the low 40), so a reservation is a single CAS and either
// both resources fit or neither is taken.
type Destination struct {
	_rowCap  uint64
	_byteCap uint64
	_packed  atomic.Uint64
	_rows    []chunk.Row
}

func NewDestination(rowCap uint64, byteCap uint64) *Destination {
	util.AssertFunc(rowCap > 0 && rowCap <= destRowMax)
	util.AssertFunc(byteCap > 0 && byteCap <= destByteMax)
	return &Destination{
		_rowCap:  rowCap,
		_byteCap: byteCap,
		_rows:    make([]chunk.Row, rowCap),
	}
}

func packedUsage(rows uint64, bytes uint64) uint64 {
	return rows<<destByteBits | bytes
}

func unpackUsage(packed uint64) (rows uint64, bytes uint64) {
	return packed >> destByteBits, packed & destByteMask
}

// TryReserve claims rowCnt slots and byteCnt bytes. On success the
// first claimed slot index comes back. On capacity failure nothing
// is taken and the caller suspends.
func (dst *Destination) TryReserve(rowCnt uint64, byteCnt uint64) (uint64, bool) {
	for {
		old := dst._packed.Load()
		rows, bytes := unpackUsage(old)
		if rows+rowCnt > dst._rowCap || bytes+byteCnt > dst._byteCap {
			return 0, false
		}
		if dst._packed.CompareAndSwap(old, packedUsage(rows+rowCnt, bytes+byteCnt)) {
			return rows, true
		}
	}
}

func (dst *Destination) Write(slot uint64, row chunk.Row) {
	dst._rows[slot] = row
}

func (dst *Destination) RowCount() uint64 {
	rows, _ := unpackUsage(dst._packed.Load())
	return rows
}

func (dst *Destination) ByteCount() uint64 {
	_, bytes := unpackUsage(dst._packed.Load())
	return bytes
}

// Drain hands out the reserved rows and empties the buffer for the
// next launch. Only the launcher calls it, between launches, when no
// group is running.
func (dst *Destination) Drain() []chunk.Row {
	rows, _ := unpackUsage(dst._packed.Load())
	out := make([]chunk.Row, rows)
	copy(out, dst._rows[:rows])
	for i := uint64(0); i < rows; i++ {
		dst._rows[i] = nil
	}
	dst._packed.Store(0)
	return out
}
