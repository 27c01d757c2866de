package util

import (
	"math/bits"
	"sync/atomic"
)

func EntryCount(count int) int {
	return (count + 63) / 64
}

// AtomicBitmap is a set-only bitmap shared by all lane groups.
// Concurrent identical writes are harmless; bits are never cleared
// while a join is running.
type AtomicBitmap struct {
	bits []atomic.Uint64
	cnt  int
}

func NewAtomicBitmap(count int) *AtomicBitmap {
	return &AtomicBitmap{
		bits: make([]atomic.Uint64, EntryCount(count)),
		cnt:  count,
	}
}

func (bm *AtomicBitmap) Count() int {
	return bm.cnt
}

func (bm *AtomicBitmap) Set(idx uint64) {
	AssertFunc(int(idx) < bm.cnt)
	eIdx, pos := idx/64, idx%64
	mask := uint64(1) << pos
	for {
		old := bm.bits[eIdx].Load()
		if old&mask != 0 {
			return
		}
		if bm.bits[eIdx].CompareAndSwap(old, old|mask) {
			return
		}
	}
}

func (bm *AtomicBitmap) SetCount() int {
	cnt := 0
	for i := range bm.bits {
		cnt += bits.OnesCount64(bm.bits[i].Load())
	}
	return cnt
}

func (bm *AtomicBitmap) IsSet(idx uint64) bool {
	AssertFunc(int(idx) < bm.cnt)
	eIdx, pos := idx/64, idx%64
	return bm.bits[eIdx].Load()&(uint64(1)<<pos) != 0
}
