package compute

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
	"github.com/lanedb/pipejoin/pkg/relation"
)

func intStrRel(t *testing.T, name string, pairs ...any) *relation.Relation {
	require.Equal(t, 0, len(pairs)%2)
	rel := relation.NewRelation(name, 2)
	for i := 0; i < len(pairs); i += 2 {
		row := chunk.Row{
			chunk.IntValue(int64(pairs[i].(int))),
			chunk.StringValue(pairs[i+1].(string)),
		}
		require.NoError(t, rel.AppendRow(row))
	}
	return rel
}

func eqQuals(outerCol int, innerCol int) *expr.JoinQuals {
	return &expr.JoinQuals{
		OnConds: []*expr.Expr{
			expr.Func(expr.FUNC_EQ, expr.Column(outerCol), expr.Column(innerCol)),
		},
	}
}

// eqStage builds a single column equality join with the requested
// strategy; width is the accumulated outer row width.
func eqStage(t *testing.T, strategy JoinStrategy, rel *relation.Relation, outerCol int, width int) *JoinStage {
	stage := &JoinStage{
		Strategy: strategy,
		Rel:      rel,
		Quals:    eqQuals(outerCol, width),
	}
	switch strategy {
	case HashJoin:
		var err error
		stage.OuterKeys = expr.NewExprExec(expr.Column(outerCol))
		stage.Hash, err = relation.BuildHashTable(rel, expr.NewExprExec(expr.Column(0)))
		require.NoError(t, err)
	case IndexJoin:
		var err error
		stage.Index, err = relation.NewBlockIndex(rel, 0, 2)
		require.NoError(t, err)
		require.NoError(t, stage.Index.PrepareCrosslinks())
		stage.LoExpr = expr.Column(outerCol)
		stage.HiExpr = expr.Column(outerCol)
	}
	return stage
}

func rowStrings(rows []chunk.Row) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.String())
	}
	sort.Strings(out)
	return out
}

func launchT(t *testing.T, params *LaunchParams) *LaunchResult {
	result, err := Launch(context.Background(), params)
	require.NoError(t, err)
	return result
}

func srcRows() []chunk.Row {
	return []chunk.Row{
		{chunk.IntValue(1), chunk.StringValue("a")},
		{chunk.IntValue(2), chunk.StringValue("b")},
		{chunk.IntValue(3), chunk.StringValue("c")},
		{chunk.IntValue(4), chunk.StringValue("d")},
	}
}

func Test_innerJoinStrategies(t *testing.T) {
	want := []string{"1\tx", "1\ty", "3\tz"}
	for _, strategy := range []JoinStrategy{NestLoop, HashJoin, IndexJoin} {
		inner := intStrRel(t, "inner", 1, "x", 1, "y", 3, "z", 5, "w")
		params := &LaunchParams{
			Source:     relation.NewSliceSource(2, srcRows()),
			Stages:     []*JoinStage{eqStage(t, strategy, inner, 0, 2)},
			Proj:       expr.NewExprExec(expr.Column(0), expr.Column(3)),
			LaneCount:  2,
			GroupCount: 2,
		}
		result := launchT(t, params)
		assert.Equal(t, want, rowStrings(result.Rows), strategy.String())
	}
}

func Test_leftOuterJoin(t *testing.T) {
	for _, strategy := range []JoinStrategy{NestLoop, HashJoin, IndexJoin} {
		inner := intStrRel(t, "inner", 1, "x", 1, "y", 3, "z", 5, "w")
		stage := eqStage(t, strategy, inner, 0, 2)
		stage.LeftOuter = true
		params := &LaunchParams{
			Source:     relation.NewSliceSource(2, srcRows()),
			Stages:     []*JoinStage{stage},
			Proj:       expr.NewExprExec(expr.Column(0), expr.Column(3)),
			LaneCount:  2,
			GroupCount: 2,
		}
		result := launchT(t, params)
		want := []string{"1\tx", "1\ty", "2\tNULL", "3\tz", "4\tNULL"}
		assert.Equal(t, want, rowStrings(result.Rows), strategy.String())
	}
}

func Test_rightOuterDrain(t *testing.T) {
	inner := intStrRel(t, "inner", 1, "x", 1, "y", 3, "z", 5, "w")
	stage := eqStage(t, HashJoin, inner, 0, 2)
	stage.RightOuter = true
	params := &LaunchParams{
		Source:     relation.NewSliceSource(2, srcRows()),
		Stages:     []*JoinStage{stage},
		Proj:       expr.NewExprExec(expr.Column(0), expr.Column(3)),
		LaneCount:  2,
		GroupCount: 2,
	}
	result := launchT(t, params)
	want := []string{"1\tx", "1\ty", "3\tz", "NULL\tw"}
	assert.Equal(t, want, rowStrings(result.Rows))
	assert.Equal(t, 3, inner.MatchedCount())
}

func Test_rightOuterDrainFlowsThroughDeeperJoin(t *testing.T) {
	// depth 1 right outer; its drained row must still probe depth 2
	inner1 := intStrRel(t, "inner1", 1, "x", 9, "w")
	stage1 := eqStage(t, HashJoin, inner1, 0, 2)
	stage1.RightOuter = true

	// depth 2 joins on the inner id of depth 1 (column 2)
	inner2 := intStrRel(t, "inner2", 1, "one", 9, "nine")
	stage2 := eqStage(t, NestLoop, inner2, 2, 4)

	params := &LaunchParams{
		Source:     relation.NewSliceSource(2, srcRows()),
		Stages:     []*JoinStage{stage1, stage2},
		Proj:       expr.NewExprExec(expr.Column(0), expr.Column(3), expr.Column(5)),
		LaneCount:  2,
		GroupCount: 1,
	}
	result := launchT(t, params)
	// 1 joins x joins "one"; the drained (NULL,NULL,9,w) row joins "nine"
	want := []string{"1\tx\tone", "NULL\tw\tnine"}
	assert.Equal(t, want, rowStrings(result.Rows))
}

func Test_matchedOnlySuppressesNullExtension(t *testing.T) {
	src := []chunk.Row{{chunk.IntValue(1), chunk.StringValue("a")}}
	build := func(matchConds bool) *LaunchParams {
		inner := intStrRel(t, "inner", 1, "x")
		stage := &JoinStage{
			Strategy:  NestLoop,
			Rel:       inner,
			LeftOuter: true,
			Quals: &expr.JoinQuals{
				OnConds: []*expr.Expr{
					expr.Func(expr.FUNC_EQ, expr.Column(0), expr.Column(2)),
					expr.Func(expr.FUNC_EQ, expr.Column(3), expr.Const(chunk.StringValue("y"))),
				},
			},
		}
		if matchConds {
			stage.Quals.MatchConds = []*expr.Expr{
				expr.Func(expr.FUNC_EQ, expr.Column(0), expr.Column(2)),
			}
		}
		return &LaunchParams{
			Source:     relation.NewSliceSource(2, src),
			Stages:     []*JoinStage{stage},
			Proj:       expr.NewExprExec(expr.Column(0), expr.Column(3)),
			LaneCount:  2,
			GroupCount: 1,
		}
	}

	// keys match, the extra qual rejects, match conds hold: the
	// outer row counts as matched and is not null extended
	result := launchT(t, build(true))
	assert.Equal(t, 0, len(result.Rows))

	// without match conds the same outer row is null extended
	result = launchT(t, build(false))
	assert.Equal(t, []string{"1\tNULL"}, rowStrings(result.Rows))
}

func Test_hashChainCollisions(t *testing.T) {
	// constant build and probe keys put every inner row into one
	// chain; only the quals separate them
	inner := intStrRel(t, "inner", 1, "x", 1, "y", 3, "z", 5, "w")
	hash, err := relation.BuildHashTable(inner, expr.NewExprExec(expr.Const(chunk.IntValue(1))))
	require.NoError(t, err)
	stage := &JoinStage{
		Strategy:  HashJoin,
		Rel:       inner,
		Quals:     eqQuals(0, 2),
		OuterKeys: expr.NewExprExec(expr.Const(chunk.IntValue(1))),
		Hash:      hash,
	}
	params := &LaunchParams{
		Source:     relation.NewSliceSource(2, srcRows()),
		Stages:     []*JoinStage{stage},
		Proj:       expr.NewExprExec(expr.Column(0), expr.Column(3)),
		LaneCount:  2,
		GroupCount: 2,
	}
	result := launchT(t, params)
	assert.Equal(t, []string{"1\tx", "1\ty", "3\tz"}, rowStrings(result.Rows))
}

func bigJoinParams(t *testing.T, destRowCap uint64) *LaunchParams {
	var src []chunk.Row
	for i := 0; i < 40; i++ {
		src = append(src, chunk.Row{chunk.IntValue(int64(i)), chunk.IntValue(int64(i % 5))})
	}
	inner := relation.NewRelation("inner", 2)
	for k := 0; k < 5; k++ {
		for j := 0; j < 3; j++ {
			require.NoError(t, inner.AppendRow(chunk.Row{
				chunk.IntValue(int64(k)),
				chunk.IntValue(int64(100*k + j)),
			}))
		}
	}
	stage := eqStage(t, HashJoin, inner, 1, 2)
	return &LaunchParams{
		Source:     relation.NewSliceSource(2, src),
		Stages:     []*JoinStage{stage},
		Proj:       expr.NewExprExec(expr.Column(0), expr.Column(3)),
		LaneCount:  4,
		GroupCount: 2,
		DestRowCap: destRowCap,
	}
}

func Test_suspendResumeEquivalence(t *testing.T) {
	big := launchT(t, bigJoinParams(t, 4096))
	require.Equal(t, 120, len(big.Rows))
	assert.Equal(t, 0, big.SuspendCount)

	small := launchT(t, bigJoinParams(t, 7))
	assert.Greater(t, small.SuspendCount, 0)
	assert.Greater(t, small.Relaunches, 0)
	assert.Equal(t, rowStrings(big.Rows), rowStrings(small.Rows))
}

func Test_multiGroupCoverage(t *testing.T) {
	var src []chunk.Row
	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		src = append(src, chunk.Row{chunk.IntValue(int64(1000 + i))})
		want = append(want, chunk.Row{chunk.IntValue(int64(1000 + i))}.String())
	}
	sort.Strings(want)
	params := &LaunchParams{
		Source:     relation.NewSliceSource(1, src),
		Proj:       expr.NewExprExec(expr.Column(0)),
		LaneCount:  8,
		GroupCount: 3,
	}
	result := launchT(t, params)
	assert.Equal(t, want, rowStrings(result.Rows))
	assert.Equal(t, uint64(100), result.Emitted[0])
	assert.Equal(t, uint64(100), result.Emitted[1])
}

func Test_threeDepthPipeline(t *testing.T) {
	var src []chunk.Row
	for i := 1; i <= 10; i++ {
		src = append(src, chunk.Row{chunk.IntValue(int64(i))})
	}
	relA := intStrRel(t, "a", 1, "a1", 2, "a2", 3, "a3", 4, "a4", 5, "a5",
		6, "a6", 7, "a7", 8, "a8", 9, "a9", 10, "a10")
	relB := intStrRel(t, "b", 2, "b2", 4, "b4", 6, "b6", 8, "b8")
	relC := intStrRel(t, "c", 3, "c3", 4, "c4", 5, "c5")

	stageA := eqStage(t, HashJoin, relA, 0, 1)
	// nest loop: b.id < src.id
	stageB := &JoinStage{
		Strategy: NestLoop,
		Rel:      relB,
		Quals: &expr.JoinQuals{
			OnConds: []*expr.Expr{
				expr.Func(expr.FUNC_LT, expr.Column(3), expr.Column(0)),
			},
		},
	}
	// index: c.id within [src.id-1, src.id+1]
	stageC := &JoinStage{
		Strategy: IndexJoin,
		Rel:      relC,
		Quals: &expr.JoinQuals{
			OnConds: []*expr.Expr{
				expr.Func(expr.FUNC_BETWEEN, expr.Column(5),
					expr.Func(expr.FUNC_SUB, expr.Column(0), expr.Const(chunk.IntValue(1))),
					expr.Func(expr.FUNC_ADD, expr.Column(0), expr.Const(chunk.IntValue(1)))),
			},
		},
		LoExpr: expr.Func(expr.FUNC_SUB, expr.Column(0), expr.Const(chunk.IntValue(1))),
		HiExpr: expr.Func(expr.FUNC_ADD, expr.Column(0), expr.Const(chunk.IntValue(1))),
	}
	var err error
	stageC.Index, err = relation.NewBlockIndex(relC, 0, 2)
	require.NoError(t, err)
	require.NoError(t, stageC.Index.PrepareCrosslinks())

	params := &LaunchParams{
		Source:     relation.NewSliceSource(1, src),
		Stages:     []*JoinStage{stageA, stageB, stageC},
		Proj:       expr.NewExprExec(expr.Column(0), expr.Column(2), expr.Column(4), expr.Column(6)),
		LaneCount:  4,
		GroupCount: 2,
	}
	result := launchT(t, params)

	// reference: plain nested loops over the same data
	var want []string
	bIds := []int{2, 4, 6, 8}
	cIds := []int{3, 4, 5}
	for i := 1; i <= 10; i++ {
		for _, b := range bIds {
			if !(b < i) {
				continue
			}
			for _, c := range cIds {
				if c >= i-1 && c <= i+1 {
					row := chunk.Row{
						chunk.IntValue(int64(i)),
						chunk.StringValue(relA.Row(uint64(i - 1))[1].Str),
						chunk.StringValue("b" + chunk.IntValue(int64(b)).String()),
						chunk.StringValue("c" + chunk.IntValue(int64(c)).String()),
					}
					want = append(want, row.String())
				}
			}
		}
	}
	sort.Strings(want)
	assert.Equal(t, want, rowStrings(result.Rows))
}

func Test_joinAbortKeepsCursors(t *testing.T) {
	inner := intStrRel(t, "inner", 1, "x", 2, "y")
	stage := eqStage(t, NestLoop, inner, 0, 2)
	pipe := &pipeline{
		_source:   relation.NewSliceSource(2, srcRows()),
		_stages:   []*JoinStage{stage},
		_proj:     expr.NewExprExec(expr.Column(0)),
		_laneCnt:  2,
		_groupCnt: 1,
		_emitted:  make([]atomic.Uint64, 3),
	}
	run := newGroupRunner(pipe, 0, NewDestination(16, 1<<16))
	state := run._state

	// two input rows staged for depth 1, output buffer already full
	run._bufs[0].Put(0, chunk.Row{chunk.IntValue(1), chunk.StringValue("a")})
	run._bufs[0].Put(1, chunk.Row{chunk.IntValue(2), chunk.StringValue("b")})
	state._writePos[0] = 2
	state._writePos[1] = 2
	state._depth = 1

	require.NoError(t, run.execJoin(1))
	// no room downstream: nothing committed, cursors untouched
	assert.Equal(t, int32(2), state._depth)
	assert.Equal(t, uint64(2), state._writePos[1])
	assert.Equal(t, uint64(0), state._readPos[0])
	lanes := state.laneCursors(1)
	assert.True(t, lanes[0].Active)
	assert.Equal(t, CursorUnset, lanes[0].Cursor)

	// downstream drained: the retry commits the same two emits
	state._readPos[1] = 2
	state._depth = 1
	require.NoError(t, run.execJoin(1))
	assert.Equal(t, uint64(4), state._writePos[1])
	assert.Equal(t, "1\ta\t1\tx", run._bufs[1].Get(2).String())
	assert.Equal(t, "2\tb\t2\ty", run._bufs[1].Get(3).String())
	// lane 0 still has inner rows to scan, the window is not
	// consumed yet
	assert.True(t, lanes[0].Active)
	assert.Equal(t, uint64(1), lanes[0].Cursor)
	assert.False(t, lanes[1].Active)
	assert.Equal(t, uint64(0), state._readPos[0])

	// one more pass exhausts lane 0 and consumes the window
	state._readPos[1] = 4
	state._depth = 1
	require.NoError(t, run.execJoin(1))
	assert.Equal(t, uint64(4), state._writePos[1])
	assert.Equal(t, uint64(2), state._readPos[0])
}

func Test_faultRetainsPriorOutput(t *testing.T) {
	var src []chunk.Row
	for i := 1; i <= 8; i++ {
		src = append(src, chunk.Row{chunk.IntValue(int64(i))})
	}
	// projection divides by (col0 - 7): faults on the 7th row
	proj := expr.NewExprExec(expr.Func(expr.FUNC_DIV,
		expr.Const(chunk.IntValue(100)),
		expr.Func(expr.FUNC_SUB, expr.Column(0), expr.Const(chunk.IntValue(7)))))
	params := &LaunchParams{
		Source:     relation.NewSliceSource(1, src),
		Proj:       proj,
		LaneCount:  4,
		GroupCount: 1,
		DestRowCap: 4,
	}
	result, err := Launch(context.Background(), params)
	require.Error(t, err)
	var fault *PipelineFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultDivByZero, fault.Kind)
	// the first window made it out before the fault
	assert.Equal(t, 4, len(result.Rows))
}

func Test_preaggBasic(t *testing.T) {
	src := []chunk.Row{
		{chunk.StringValue("a"), chunk.IntValue(10)},
		{chunk.StringValue("a"), chunk.IntValue(20)},
		{chunk.StringValue("b"), chunk.IntValue(30)},
		{chunk.StringValue("b"), chunk.IntValue(50)},
		{chunk.StringValue("b"), chunk.IntValue(20)},
	}
	var aggs []*AggSpec
	for _, name := range []string{"count", "sum", "avg", "min", "max", "stddev_samp"} {
		var spec *AggSpec
		var err error
		if name == "count" {
			spec, err = NewAggSpec(name, nil)
		} else {
			spec, err = NewAggSpec(name, nil, expr.Column(1))
		}
		require.NoError(t, err)
		aggs = append(aggs, spec)
	}
	params := &LaunchParams{
		Source:     relation.NewSliceSource(2, src),
		Aggs:       aggs,
		GroupBy:    []*expr.Expr{expr.Column(0)},
		LaneCount:  2,
		GroupCount: 2,
	}
	result := launchT(t, params)
	require.Equal(t, 2, len(result.Rows))

	byKey := map[string]chunk.Row{}
	for _, row := range result.Rows {
		byKey[row[0].Str] = row
	}
	a := byKey["a"]
	require.NotNil(t, a)
	assert.Equal(t, int64(2), a[1].I64)
	assert.Equal(t, int64(30), a[2].I64)
	assert.InDelta(t, 15.0, a[3].F64, 1e-9)
	assert.Equal(t, int64(10), a[4].I64)
	assert.Equal(t, int64(20), a[5].I64)
	assert.InDelta(t, 7.0710678, a[6].F64, 1e-6)

	b := byKey["b"]
	require.NotNil(t, b)
	assert.Equal(t, int64(3), b[1].I64)
	assert.Equal(t, int64(100), b[2].I64)
	assert.InDelta(t, 100.0/3, b[3].F64, 1e-9)
	assert.Equal(t, int64(20), b[4].I64)
	assert.Equal(t, int64(50), b[5].I64)
	assert.InDelta(t, 15.2752523, b[6].F64, 1e-6)
}

func Test_preaggCountFilter(t *testing.T) {
	src := []chunk.Row{
		{chunk.IntValue(1)}, {chunk.IntValue(5)}, {chunk.IntValue(9)},
	}
	filter := expr.Func(expr.FUNC_GT, expr.Column(0), expr.Const(chunk.IntValue(3)))
	spec, err := NewAggSpec("count", filter)
	require.NoError(t, err)
	assert.Equal(t, KAGG_NROWS_COND, spec.Action)

	params := &LaunchParams{
		Source:     relation.NewSliceSource(1, src),
		Aggs:       []*AggSpec{spec},
		LaneCount:  2,
		GroupCount: 1,
	}
	result := launchT(t, params)
	require.Equal(t, 1, len(result.Rows))
	assert.Equal(t, int64(2), result.Rows[0][0].I64)
}

func Test_preaggCovar(t *testing.T) {
	// y = 2x exactly
	var src []chunk.Row
	for x := 1; x <= 5; x++ {
		src = append(src, chunk.Row{chunk.IntValue(int64(2 * x)), chunk.IntValue(int64(x))})
	}
	names := []string{"corr", "regr_slope", "regr_intercept", "regr_r2", "regr_count", "covar_pop"}
	var aggs []*AggSpec
	for _, name := range names {
		spec, err := NewAggSpec(name, nil, expr.Column(0), expr.Column(1))
		require.NoError(t, err)
		aggs = append(aggs, spec)
	}
	params := &LaunchParams{
		Source:     relation.NewSliceSource(2, src),
		Aggs:       aggs,
		LaneCount:  2,
		GroupCount: 2,
	}
	result := launchT(t, params)
	require.Equal(t, 1, len(result.Rows))
	row := result.Rows[0]
	assert.InDelta(t, 1.0, row[0].F64, 1e-9)
	assert.InDelta(t, 2.0, row[1].F64, 1e-9)
	assert.InDelta(t, 0.0, row[2].F64, 1e-9)
	assert.InDelta(t, 1.0, row[3].F64, 1e-9)
	assert.Equal(t, int64(5), row[4].I64)
	// var_pop(x) = 2, covar_pop(2x, x) = 4
	assert.InDelta(t, 4.0, row[5].F64, 1e-9)
}

func Test_numericAggGate(t *testing.T) {
	dec := func(s string) chunk.Value {
		d, err := decimal.Parse(s)
		require.NoError(t, err)
		return chunk.DecimalValue(d)
	}
	src := []chunk.Row{{dec("1.1")}, {dec("2.2")}, {dec("3.3")}}
	build := func(enable bool) *LaunchParams {
		spec, err := NewAggSpec("sum", nil, expr.Column(0))
		require.NoError(t, err)
		return &LaunchParams{
			Source:            relation.NewSliceSource(1, src),
			Aggs:              []*AggSpec{spec},
			LaneCount:         2,
			GroupCount:        1,
			EnableNumericAggs: enable,
		}
	}

	_, err := Launch(context.Background(), build(false))
	require.Error(t, err)
	var fault *PipelineFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultTypeMismatch, fault.Kind)

	result := launchT(t, build(true))
	require.Equal(t, 1, len(result.Rows))
	assert.InDelta(t, 6.6, result.Rows[0][0].F64, 1e-9)
}

func Test_explainShape(t *testing.T) {
	inner := intStrRel(t, "lineitem", 1, "x")
	params := &LaunchParams{
		Source: relation.NewSliceSource(2, srcRows()),
		Stages: []*JoinStage{eqStage(t, HashJoin, inner, 0, 2)},
		Proj:   expr.NewExprExec(expr.Column(0)),
	}
	out := Explain(params)
	assert.Contains(t, out, "scan (depth 0)")
	assert.Contains(t, out, "hashjoin lineitem (depth 1)")
	assert.Contains(t, out, "project (depth 2)")
	assert.Contains(t, out, "(col0 = col2)")
}
