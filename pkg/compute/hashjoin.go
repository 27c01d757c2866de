package compute

import (
	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
	"github.com/lanedb/pipejoin/pkg/util"
)

// Hash cursors are the packed chain position plus one, so that the
// zero value stays CursorUnset.

// stepHashJoin probes the prebuilt hash table. The chain walk skips
// entries whose stored hash differs from the probe hash; the quals
// still run on every surviving entry, so two keys colliding into the
// same 64 bit hash cannot emit a wrong pair.
func (stage *JoinStage) stepHashJoin(outer chunk.Row, cur RowCursor, scratch *laneScratch) (RowCursor, chunk.Row, error) {
	if cur.Cursor == CursorExhausted {
		return cur, nil, nil
	}
	if !scratch._hashReady {
		hash, ok, err := stage.probeHash(outer)
		if err != nil {
			return cur, nil, err
		}
		scratch._hash, scratch._hashOk, scratch._hashReady = hash, ok, true
	}
	if !scratch._hashOk {
		// NULL probe key: no equality match is possible
		return stage.finishLane(outer, cur)
	}

	var packed uint64
	var found bool
	if cur.Cursor == CursorUnset {
		packed, found = stage.Hash.Probe(scratch._hash)
	} else {
		packed, found = stage.Hash.Next(cur.Cursor-1, scratch._hash)
	}
	for found {
		id := stage.Hash.RowId(packed)
		combined, res, err := stage.classifyPair(outer, id, &cur)
		if err != nil {
			return cur, nil, err
		}
		if res == expr.PredMatch {
			next := RowCursor{Cursor: packed + 1, Matched: true, Active: cur.Active}
			return next, combined, nil
		}
		packed, found = stage.Hash.Next(packed, scratch._hash)
	}
	return stage.finishLane(outer, cur)
}

func (stage *JoinStage) probeHash(outer chunk.Row) (uint64, bool, error) {
	vals, err := stage.OuterKeys.ExecRow(outer)
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
