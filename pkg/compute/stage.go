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
	"fmt"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
	"github.com/lanedb/pipejoin/pkg/relation"
)

type JoinStrategy uint8

const (
	NestLoop JoinStrategy = iota
	HashJoin
	IndexJoin
)

func (s JoinStrategy) String() string {
	switch s {
	case NestLoop:
		return "nestloop"
	case HashJoin:
		return "hashjoin"
	case IndexJoin:
		return "indexjoin"
	default:
		return "invalid"
	}
}

// JoinStage describes one join depth. Quals run over the combined
// row (outer columns first, then the inner relation's columns), so
// inner column i is addressed as outer width + i.
type JoinStage struct {
	Strategy  JoinStrategy
	Rel       *relation.Relation
	Quals     *expr.JoinQuals
	LeftOuter bool
	// RightOuter keeps a matched bitmap on Rel; the launcher drains
	// never-matched inner rows after the last launch completes.
	RightOuter bool

	// hash join only
	OuterKeys *expr.ExprExec
	Hash      *relation.JoinHashTable

	// index join only
	Index  *relation.BlockIndex
	LoExpr *expr.Expr
	HiExpr *expr.Expr
}

func (stage *JoinStage) validate() error {
	if stage.Rel == nil {
		return fmt.Errorf("join stage without inner relation")
	}
	if stage.Quals == nil || len(stage.Quals.OnConds) == 0 {
		return fmt.Errorf("join stage %s without on conditions", stage.Rel.Name())
	}
	switch stage.Strategy {
	case NestLoop:
	case HashJoin:
		if stage.Hash == nil || stage.OuterKeys == nil {
			return fmt.Errorf("hash join %s without hash table or probe keys", stage.Rel.Name())
		}
		if len(stage.OuterKeys.Exprs()) != len(stage.Hash.Exprs()) {
			return fmt.Errorf("hash join %s: %d probe keys vs %d build keys",
				stage.Rel.Name(), len(stage.OuterKeys.Exprs()), len(stage.Hash.Exprs()))
		}
	case IndexJoin:
		if stage.Index == nil {
			return fmt.Errorf("index join %s without block index", stage.Rel.Name())
		}
		if stage.LoExpr == nil && stage.HiExpr == nil {
			return fmt.Errorf("index join %s without range bounds", stage.Rel.Name())
		}
	default:
		return fmt.Errorf("unknown join strategy %d", stage.Strategy)
	}
	return nil
}

// laneScratch caches values a lane derives deterministically from
// its bound outer row. It is never checkpointed: a resumed launch
// rebuilds it from the restored cursors.
type laneScratch struct {
	_hash      uint64
	_hashOk    bool
	_hashReady bool
	_cands     []uint64
	_candsSet  bool
}

func (scratch *laneScratch) reset() {
	scratch._hashReady = false
	scratch._candsSet = false
	scratch._cands = nil
}

// step advances one lane by one emit attempt. It must not touch any
// shared or committed state except the inner matched bitmap (whose
// writes are idempotent): when the caller cannot place the emitted
// row it simply discards the returned cursor and calls step again
// later with the old one.
func (stage *JoinStage) step(outer chunk.Row, cur RowCursor, scratch *laneScratch) (RowCursor, chunk.Row, error) {
	switch stage.Strategy {
	case NestLoop:
		return stage.stepNestLoop(outer, cur)
	case HashJoin:
		return stage.stepHashJoin(outer, cur, scratch)
	case IndexJoin:
		return stage.stepIndexJoin(outer, cur, scratch)
	default:
		panic("usp")
	}
}

// classifyPair runs the join quals on one combined row and applies
// the matched bookkeeping shared by all strategies.
func (stage *JoinStage) classifyPair(outer chunk.Row, innerId uint64, cur *RowCursor) (chunk.Row, int, error) {
	combined := chunk.Concat(outer, stage.Rel.Row(innerId))
	res, err := stage.Quals.EvalJoinRow(combined)
	if err != nil {
		return nil, expr.PredNoMatch, err
	}
	if res != expr.PredNoMatch {
		cur.Matched = true
		if stage.RightOuter {
			stage.Rel.MarkMatched(innerId)
		}
	}
	if res == expr.PredMatch {
		return combined, res, nil
	}
	return nil, res, nil
}

// finishLane handles cursor exhaustion: a left outer lane that never
// matched emits the null extended row in the same step.
func (stage *JoinStage) finishLane(outer chunk.Row, cur RowCursor) (RowCursor, chunk.Row, error) {
	next := RowCursor{Cursor: CursorExhausted, Matched: cur.Matched, Active: cur.Active}
	if stage.LeftOuter && !cur.Matched {
		next.Matched = true
		return next, chunk.PadNull(outer, stage.Rel.ColumnCount()), nil
	}
	return next, nil, nil
}
