package compute

import (
	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
)

// stepNestLoop scans the inner relation from the cursor position.
// The cursor is the next inner row id to examine; CursorUnset (0) is
// also the first row id, which is exactly what a fresh lane wants.
func (stage *JoinStage) stepNestLoop(outer chunk.Row, cur RowCursor) (RowCursor, chunk.Row, error) {
	if cur.Cursor == CursorExhausted {
		return cur, nil, nil
	}
	total := stage.Rel.Count()
	for id := cur.Cursor; id < total; id++ {
		if stage.Rel.IsDeleted(id) {
			continue
		}
		combined, res, err := stage.classifyPair(outer, id, &cur)
		if err != nil {
			return cur, nil, err
		}
		if res == expr.PredMatch {
			next := RowCursor{Cursor: id + 1, Matched: true, Active: cur.Active}
			if next.Cursor >= total {
				next.Cursor = CursorExhausted
			}
			return next, combined, nil
		}
	}
	return stage.finishLane(outer, cur)
}
