package compute

import (
	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
)

// stepIndexJoin runs in two phases. Phase one descends the block
// index with the range bounds computed from the outer row; the
// candidate list it returns acts as a virtual result buffer that is
// never checkpointed, because the descent is deterministic and a
// resumed lane rebuilds it from the same outer row. Phase two walks
// the candidates from the cursor position and runs the quals on each
// one.
func (stage *JoinStage) stepIndexJoin(outer chunk.Row, cur RowCursor, scratch *laneScratch) (RowCursor, chunk.Row, error) {
	if cur.Cursor == CursorExhausted {
		return cur, nil, nil
	}
	if !scratch._candsSet {
		lo, hi, err := stage.rangeBounds(outer)
		if err != nil {
			return cur, nil, err
		}
		scratch._cands, err = stage.Index.Lookup(lo, hi)
		if err != nil {
			return cur, nil, err
		}
		scratch._candsSet = true
	}

	for i := cur.Cursor; i < uint64(len(scratch._cands)); i++ {
		id := scratch._cands[i]
		combined, res, err := stage.classifyPair(outer, id, &cur)
		if err != nil {
			return cur, nil, err
		}
		if res == expr.PredMatch {
			next := RowCursor{Cursor: i + 1, Matched: true, Active: cur.Active}
			return next, combined, nil
		}
	}
	return stage.finishLane(outer, cur)
}

func (stage *JoinStage) rangeBounds(outer chunk.Row) (chunk.Value, chunk.Value, error) {
	lo, hi := chunk.NullValue(), chunk.NullValue()
	var err error
	if stage.LoExpr != nil {
		lo, err = stage.LoExpr.Eval(outer)
		if err != nil {
			return lo, hi, err
		}
	}
	if stage.HiExpr != nil {
		hi, err = stage.HiExpr.Eval(outer)
		if err != nil {
			return lo, hi, err
		}
	}
	return lo, hi, nil
}
