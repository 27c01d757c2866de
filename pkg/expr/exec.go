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

package expr

import (
	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/util"
)

const (
	// PredMatch: every join qual held, the combined row is emitted.
	PredMatch = 1
	// PredMatchedOnly: the match quals held but an on qual did not.
	// The outer row counts as matched, so no null extension, but
	// nothing is emitted.
	PredMatchedOnly = -1
	// PredNoMatch: the pair does not join.
	PredNoMatch = 0
)

const FAULT_EVAL_EXPR = "evalExpr"

// ExprExec evaluates a fixed list of expressions against single rows.
type ExprExec struct {
	_exprs []*Expr
}

func NewExprExec(exprs ...*Expr) *ExprExec {
	return &ExprExec{_exprs: exprs}
}

func (exec *ExprExec) Exprs() []*Expr {
	return exec._exprs
}

func (exec *ExprExec) ExecRow(row chunk.Row) (chunk.Row, error) {
	if err := checkEvalFault(); err != nil {
		return nil, err
	}
	out := make(chunk.Row, len(exec._exprs))
	for i, e := range exec._exprs {
		val, err := e.Eval(row)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

// JoinQuals is the predicate pair of one join stage. OnConds decide
// emission. MatchConds, when present, decide whether an outer row is
// considered matched even if OnConds reject the pair.
type JoinQuals struct {
	OnConds    []*Expr
	MatchConds []*Expr
}

// EvalJoinRow classifies one outer/inner pair into PredMatch,
// PredMatchedOnly or PredNoMatch. NULL qual results never match.
func (quals *JoinQuals) EvalJoinRow(row chunk.Row) (int, error) {
	if err := checkEvalFault(); err != nil {
		return PredNoMatch, err
	}
	ok, err := evalConds(quals.OnConds, row)
	if err != nil {
		return PredNoMatch, err
	}
	if ok {
		return PredMatch, nil
	}
	if len(quals.MatchConds) != 0 {
		ok, err = evalConds(quals.MatchConds, row)
		if err != nil {
			return PredNoMatch, err
		}
		if ok {
			return PredMatchedOnly, nil
		}
	}
	return PredNoMatch, nil
}

func evalConds(conds []*Expr, row chunk.Row) (bool, error) {
	for _, cond := range conds {
		val, err := cond.Eval(row)
		if err != nil {
			return false, err
		}
		if val.IsNull() || val.Kind != chunk.VK_BOOL || !val.Bool {
			return false, nil
		}
	}
	return true, nil
}

func checkEvalFault() error {
	fault := util.CheckFault(util.FAULTS_SCOPE_EXEC, FAULT_EVAL_EXPR)
	if fault != nil {
		return fault.Action(fault.Args)
	}
	return nil
}
