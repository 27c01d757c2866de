package expr

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/util"
)

func Test_evalBasics(t *testing.T) {
	row := chunk.Row{
		chunk.IntValue(10),
		chunk.StringValue("abc"),
		chunk.NullValue(),
		chunk.FloatValue(2.5),
	}

	kases := []struct {
		e    *Expr
		want chunk.Value
	}{
		{Func(FUNC_EQ, Column(0), Const(chunk.IntValue(10))), chunk.BoolValue(true)},
		{Func(FUNC_LT, Column(0), Const(chunk.IntValue(10))), chunk.BoolValue(false)},
		{Func(FUNC_GE, Column(1), Const(chunk.StringValue("abb"))), chunk.BoolValue(true)},
		{Func(FUNC_EQ, Column(2), Const(chunk.IntValue(1))), chunk.NullValue()},
		{Func(FUNC_ADD, Column(0), Column(3)), chunk.FloatValue(12.5)},
		{Func(FUNC_MUL, Column(0), Const(chunk.IntValue(3))), chunk.IntValue(30)},
		{Func(FUNC_NOT, Func(FUNC_EQ, Column(0), Const(chunk.IntValue(10)))), chunk.BoolValue(false)},
		{Func(FUNC_BETWEEN, Column(0), Const(chunk.IntValue(5)), Const(chunk.IntValue(15))), chunk.BoolValue(true)},
	}
	for _, kase := range kases {
		got, err := kase.e.Eval(row)
		require.NoError(t, err, kase.e.String())
		assert.Equal(t, kase.want, got, kase.e.String())
	}
}

func Test_threeValuedLogic(t *testing.T) {
	row := chunk.Row{chunk.NullValue(), chunk.BoolValue(true)}
	null := Func(FUNC_EQ, Column(0), Const(chunk.IntValue(1)))

	// null OR true => true
	got, err := Func(FUNC_OR, null, Column(1)).Eval(row)
	require.NoError(t, err)
	assert.Equal(t, chunk.BoolValue(true), got)

	// null AND true => null
	got, err = Func(FUNC_AND, null, Column(1)).Eval(row)
	require.NoError(t, err)
	assert.True(t, got.IsNull())

	// null AND false => false
	got, err = Func(FUNC_AND, null, Const(chunk.BoolValue(false))).Eval(row)
	require.NoError(t, err)
	assert.Equal(t, chunk.BoolValue(false), got)
}

func Test_evalFaults(t *testing.T) {
	row := chunk.Row{chunk.IntValue(math.MaxInt64), chunk.IntValue(0)}

	_, err := Func(FUNC_ADD, Column(0), Const(chunk.IntValue(1))).Eval(row)
	assert.True(t, errors.Is(err, ErrOverflow))

	_, err = Func(FUNC_DIV, Column(0), Column(1)).Eval(row)
	assert.True(t, errors.Is(err, ErrDivisionByZero))

	_, err = Func(FUNC_ADD, Column(0), Const(chunk.StringValue("x"))).Eval(row)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func Test_joinQuals(t *testing.T) {
	quals := &JoinQuals{
		OnConds: []*Expr{
			Func(FUNC_EQ, Column(0), Column(2)),
			Func(FUNC_GT, Column(3), Const(chunk.IntValue(100))),
		},
		MatchConds: []*Expr{
			Func(FUNC_EQ, Column(0), Column(2)),
		},
	}

	// keys join and the filter holds
	res, err := quals.EvalJoinRow(chunk.Row{
		chunk.IntValue(1), chunk.StringValue("a"),
		chunk.IntValue(1), chunk.IntValue(200),
	})
	require.NoError(t, err)
	assert.Equal(t, PredMatch, res)

	// keys join, filter rejects: matched but not emitted
	res, err = quals.EvalJoinRow(chunk.Row{
		chunk.IntValue(1), chunk.StringValue("a"),
		chunk.IntValue(1), chunk.IntValue(50),
	})
	require.NoError(t, err)
	assert.Equal(t, PredMatchedOnly, res)

	// keys differ
	res, err = quals.EvalJoinRow(chunk.Row{
		chunk.IntValue(1), chunk.StringValue("a"),
		chunk.IntValue(2), chunk.IntValue(200),
	})
	require.NoError(t, err)
	assert.Equal(t, PredNoMatch, res)
}

func Test_injectedFault(t *testing.T) {
	util.OpenFaults(util.FAULTS_SCOPE_EXEC)
	defer util.CloseFaults(util.FAULTS_SCOPE_EXEC)
	boom := errors.New("boom")
	util.RegisterFault(util.FAULTS_SCOPE_EXEC, FAULT_EVAL_EXPR, nil,
		func([]string) error { return boom })

	exec := NewExprExec(Column(0))
	_, err := exec.ExecRow(chunk.Row{chunk.IntValue(1)})
	assert.True(t, errors.Is(err, boom))
}

func Test_copyExprs(t *testing.T) {
	orig := []*Expr{Func(FUNC_EQ, Column(0), Const(chunk.IntValue(7)))}
	cp := CopyExprs(orig...)
	require.Equal(t, 1, len(cp))
	cp[0].Children[0].ColIdx = 99
	assert.Equal(t, 0, orig[0].Children[0].ColIdx)
}
