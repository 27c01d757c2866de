package relation

import (
	"fmt"

	treemap "github.com/liyue201/gostl/ds/map"
	"github.com/tidwall/btree"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/util"
)

const DefaultBlockSize = 256

// blockMeta summarizes one fixed-size block of relation rows: the
// value range of the indexed column over live rows, and whether the
// block is dead (no live rows at all). Dead blocks stay in the tree
// so ids remain stable, but lookups never descend into them.
type blockMeta struct {
	_id    int
	_lo    chunk.Value
	_hi    chunk.Value
	_first uint64
	_limit uint64
	_live  int
	_dead  bool
	_next  *blockMeta
}

// BlockIndex accelerates range joins. Lookup walks block summaries
// in a btree and returns candidate row ids; the join quals still run
// per candidate, so a block-level false positive only costs work.
type BlockIndex struct {
	_rel       *Relation
	_colIdx    int
	_blockSize int
	_tree      *btree.BTreeG[*blockMeta]
	_dir       *treemap.Map[int, *blockMeta]
	_head      *blockMeta
	_linked    bool
}

func blockMetaLess(a, b *blockMeta) bool {
	if a._dead != b._dead {
		// dead blocks sort last, out of every descent path
		return !a._dead
	}
	if !a._dead {
		cmp, err := chunk.Compare(a._lo, b._lo)
		if err == nil && cmp != 0 {
			return cmp < 0
		}
	}
	return a._id < b._id
}

func NewBlockIndex(rel *Relation, colIdx int, blockSize int) (*BlockIndex, error) {
	if colIdx < 0 || colIdx >= rel.ColumnCount() {
		return nil, fmt.Errorf("relation %s: no column %d to index", rel.Name(), colIdx)
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	idx := &BlockIndex{
		_rel:       rel,
		_colIdx:    colIdx,
		_blockSize: blockSize,
		_tree:      btree.NewBTreeG[*blockMeta](blockMetaLess),
		_dir:       treemap.New[int, *blockMeta](func(a, b int) int { return a - b }),
	}

	total := rel.Count()
	blockId := 0
	for first := uint64(0); first < total; first += uint64(blockSize) {
		limit := first + uint64(blockSize)
		if limit > total {
			limit = total
		}
		meta := &blockMeta{_id: blockId, _first: first, _limit: limit}
		if err := idx.summarize(meta); err != nil {
			return nil, err
		}
		idx._tree.Set(meta)
		idx._dir.Insert(blockId, meta)
		blockId++
	}
	return idx, nil
}

func (idx *BlockIndex) summarize(meta *blockMeta) error {
	meta._live = 0
	for id := meta._first; id < meta._limit; id++ {
		if idx._rel.IsDeleted(id) {
			continue
		}
		val := idx._rel.Row(id)[idx._colIdx]
		if val.IsNull() {
			continue
		}
		if meta._live == 0 {
			meta._lo, meta._hi = val, val
		} else {
			if cmp, err := chunk.Compare(val, meta._lo); err != nil {
				return err
			} else if cmp < 0 {
				meta._lo = val
			}
			if cmp, err := chunk.Compare(val, meta._hi); err != nil {
				return err
			} else if cmp > 0 {
				meta._hi = val
			}
		}
		meta._live++
	}
	meta._dead = meta._live == 0
	return nil
}

// PrepareCrosslinks chains live blocks in id order and re-marks dead
// ones. It runs after loads or deletes, before the index serves a
// launch.
func (idx *BlockIndex) PrepareCrosslinks() error {
	var prev *blockMeta
	idx._head = nil
	for iter := idx._dir.Begin(); iter.IsValid(); iter.Next() {
		meta := iter.Value()
		idx._tree.Delete(meta)
		if err := idx.summarize(meta); err != nil {
			return err
		}
		idx._tree.Set(meta)
		meta._next = nil
		if meta._dead {
			continue
		}
		if prev == nil {
			idx._head = meta
		} else {
			prev._next = meta
		}
		prev = meta
	}
	idx._linked = true
	return nil
}

func (idx *BlockIndex) BlockCount() int {
	return idx._tree.Len()
}

func (idx *BlockIndex) DeadBlockCount() int {
	cnt := 0
	for iter := idx._dir.Begin(); iter.IsValid(); iter.Next() {
		if iter.Value()._dead {
			cnt++
		}
	}
	return cnt
}

// Lookup collects the live row ids whose block summary intersects
// [lo, hi]. A NULL bound is an open end. The tree descent prunes on
// the block lower bounds; the crosslink walk then emits candidates
// in row id order, so repeated lookups are deterministic.
func (idx *BlockIndex) Lookup(lo chunk.Value, hi chunk.Value) ([]uint64, error) {
	util.AssertFunc(idx._linked)
	hits := make(map[int]bool)
	var walkErr error
	idx._tree.Scan(func(meta *blockMeta) bool {
		if meta._dead {
			// dead blocks sort last
			return false
		}
		if !hi.IsNull() {
			cmp, err := chunk.Compare(meta._lo, hi)
			if err != nil {
				walkErr = err
				return false
			}
			if cmp > 0 {
				// ordered by _lo: no later block can intersect
				return false
			}
		}
		if !lo.IsNull() {
			cmp, err := chunk.Compare(meta._hi, lo)
			if err != nil {
				walkErr = err
				return false
			}
			if cmp < 0 {
				return true
			}
		}
		hits[meta._id] = true
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	var out []uint64
	for meta := idx._head; meta != nil; meta = meta._next {
		if !hits[meta._id] {
			continue
		}
		for id := meta._first; id < meta._limit; id++ {
			if idx._rel.IsDeleted(id) {
				continue
			}
			if idx._rel.Row(id)[idx._colIdx].IsNull() {
				continue
			}
			out = append(out, id)
		}
	}
	return out, nil
}
