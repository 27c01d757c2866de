package relation

import (
	"fmt"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
	"github.com/lanedb/pipejoin/pkg/util"
)

type hashEntry struct {
	_hash  uint64
	_rowId uint64
}

// JoinHashTable is the read-only probe structure of a hash join
// stage. It is built once before launch and shared by all lane
// groups without locking.
//
// A probe cursor packs bucket<<32|pos, so it survives serialization
// inside a pipeline checkpoint like any other row cursor. The chain
// walk only filters on the stored hash; the join quals still run on
// every returned row, so hash collisions cannot produce wrong pairs.
type JoinHashTable struct {
	_rel        *Relation
	_keyExec    *expr.ExprExec
	_bucketMask uint64
	_buckets    [][]hashEntry
	_count      uint64
}

func BuildHashTable(rel *Relation, keys *expr.ExprExec) (*JoinHashTable, error) {
	util.AssertFunc(len(keys.Exprs()) > 0)
	bucketCnt := util.NextPowerOfTwo(rel.Count() * 2)
	if bucketCnt < 64 {
		bucketCnt = 64
	}
	if bucketCnt > 1<<31 {
		return nil, fmt.Errorf("relation %s too large for hash join", rel.Name())
	}
	ht := &JoinHashTable{
		_rel:        rel,
		_keyExec:    keys,
		_bucketMask: bucketCnt - 1,
		_buckets:    make([][]hashEntry, bucketCnt),
	}
	for id := uint64(0); id < rel.Count(); id++ {
		if rel.IsDeleted(id) {
			continue
		}
		hash, ok, err := ht.KeyHash(rel.Row(id))
		if err != nil {
			return nil, err
		}
		if !ok {
			// NULL keys never join by equality
			continue
		}
		bucket := hash & ht._bucketMask
		if len(ht._buckets[bucket]) >= 1<<31 {
			return nil, fmt.Errorf("relation %s: hash chain overflow", rel.Name())
		}
		ht._buckets[bucket] = append(ht._buckets[bucket], hashEntry{_hash: hash, _rowId: id})
		ht._count++
	}
	return ht, nil
}

func (ht *JoinHashTable) Relation() *Relation {
	return ht._rel
}

func (ht *JoinHashTable) Count() uint64 {
	return ht._count
}

func (ht *JoinHashTable) Exprs() []*expr.Expr {
	return ht._keyExec.Exprs()
}

// KeyHash evaluates the build keys over a row and combines their
// hashes. ok is false when any key is NULL.
func (ht *JoinHashTable) KeyHash(row chunk.Row) (uint64, bool, error) {
	vals, err := ht._keyExec.ExecRow(row)
	if err != nil {
		return 0, false, err
	}
	var h uint64
	for i, val := range vals {
		if val.IsNull() {
			return 0, false, nil
		}
		if i == 0 {
			h = val.Hash()
		} else {
			h = util.CombineHashScalar(h, val.Hash())
		}
	}
	return h, true, nil
}

// Probe returns the cursor of the first chain entry whose stored
// hash equals the probe hash.
func (ht *JoinHashTable) Probe(hash uint64) (uint64, bool) {
	bucket := hash & ht._bucketMask
	return ht.seek(bucket, 0, hash)
}

// Next advances the cursor to the following entry with the same
// stored hash.
func (ht *JoinHashTable) Next(cursor uint64, hash uint64) (uint64, bool) {
	bucket := cursor >> 32
	pos := cursor & 0xffffffff
	return ht.seek(bucket, pos+1, hash)
}

func (ht *JoinHashTable) seek(bucket uint64, pos uint64, hash uint64) (uint64, bool) {
	chain := ht._buckets[bucket]
	for ; pos < uint64(len(chain)); pos++ {
		if chain[pos]._hash == hash {
			return bucket<<32 | pos, true
		}
	}
	return 0, false
}

// RowId resolves a cursor to the build-side row position.
func (ht *JoinHashTable) RowId(cursor uint64) uint64 {
	bucket := cursor >> 32
	pos := cursor & 0xffffffff
	return ht._buckets[bucket][pos]._rowId
}
