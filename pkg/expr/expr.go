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
	"errors"
	"fmt"
	"math"

	"github.com/huandu/go-clone"

	"github.com/lanedb/pipejoin/pkg/chunk"
)

var (
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrDivisionByZero = errors.New("division by zero")
	ErrOverflow       = errors.New("integer overflow")
)

type ExprType uint8

const (
	ET_Column ExprType = iota
	ET_Const
	ET_Func
)

type FuncId uint8

const (
	FUNC_INVALID FuncId = iota
	FUNC_EQ
	FUNC_NE
	FUNC_LT
	FUNC_LE
	FUNC_GT
	FUNC_GE
	FUNC_ADD
	FUNC_SUB
	FUNC_MUL
	FUNC_DIV
	FUNC_AND
	FUNC_OR
	FUNC_NOT
	FUNC_BETWEEN
)

func (id FuncId) String() string {
	switch id {
	case FUNC_EQ:
		return "="
	case FUNC_NE:
		return "<>"
	case FUNC_LT:
		return "<"
	case FUNC_LE:
		return "<="
	case FUNC_GT:
		return ">"
	case FUNC_GE:
		return ">="
	case FUNC_ADD:
		return "+"
	case FUNC_SUB:
		return "-"
	case FUNC_MUL:
		return "*"
	case FUNC_DIV:
		return "/"
	case FUNC_AND:
		return "and"
	case FUNC_OR:
		return "or"
	case FUNC_NOT:
		return "not"
	case FUNC_BETWEEN:
		return "between"
	default:
		return "invalid"
	}
}

type Expr struct {
	Typ      ExprType
	ColIdx   int
	Const    chunk.Value
	FuncId   FuncId
	Children []*Expr
}

func Column(idx int) *Expr {
	return &Expr{Typ: ET_Column, ColIdx: idx}
}

func Const(val chunk.Value) *Expr {
	return &Expr{Typ: ET_Const, Const: val}
}

func Func(id FuncId, children ...*Expr) *Expr {
	return &Expr{Typ: ET_Func, FuncId: id, Children: children}
}

func CopyExprs(exprs ...*Expr) []*Expr {
	return clone.Clone(exprs).([]*Expr)
}

func (e *Expr) String() string {
	switch e.Typ {
	case ET_Column:
		return fmt.Sprintf("col%d", e.ColIdx)
	case ET_Const:
		return e.Const.String()
	case ET_Func:
		switch len(e.Children) {
		case 1:
			return fmt.Sprintf("(%s %s)", e.FuncId, e.Children[0])
		case 2:
			return fmt.Sprintf("(%s %s %s)", e.Children[0], e.FuncId, e.Children[1])
		case 3:
			return fmt.Sprintf("(%s %s %s %s)",
				e.Children[0], e.FuncId, e.Children[1], e.Children[2])
		default:
			return fmt.Sprintf("(%s)", e.FuncId)
		}
	default:
		panic("usp")
	}
}

// Eval walks the tree over one row. NULL propagates through
// comparisons and arithmetic; AND/OR follow three-valued logic.
func (e *Expr) Eval(row chunk.Row) (chunk.Value, error) {
	switch e.Typ {
	case ET_Column:
		if e.ColIdx < 0 || e.ColIdx >= len(row) {
			return chunk.Value{}, fmt.Errorf("%w: column %d of %d",
				ErrTypeMismatch, e.ColIdx, len(row))
		}
		return row[e.ColIdx], nil
	case ET_Const:
		return e.Const, nil
	case ET_Func:
		return e.evalFunc(row)
	default:
		panic("usp")
	}
}

func (e *Expr) evalFunc(row chunk.Row) (chunk.Value, error) {
	switch e.FuncId {
	case FUNC_NOT:
		val, err := e.Children[0].Eval(row)
		if err != nil {
			return chunk.Value{}, err
		}
		if val.IsNull() {
			return chunk.NullValue(), nil
		}
		if val.Kind != chunk.VK_BOOL {
			return chunk.Value{}, fmt.Errorf("%w: not on %s", ErrTypeMismatch, val.Kind)
		}
		return chunk.BoolValue(!val.Bool), nil
	case FUNC_AND, FUNC_OR:
		return e.evalLogic(row)
	case FUNC_BETWEEN:
		lower := Func(FUNC_GE, e.Children[0], e.Children[1])
		upper := Func(FUNC_LE, e.Children[0], e.Children[2])
		return Func(FUNC_AND, lower, upper).Eval(row)
	}

	left, err := e.Children[0].Eval(row)
	if err != nil {
		return chunk.Value{}, err
	}
	right, err := e.Children[1].Eval(row)
	if err != nil {
		return chunk.Value{}, err
	}
	if left.IsNull() || right.IsNull() {
		return chunk.NullValue(), nil
	}

	switch e.FuncId {
	case FUNC_EQ, FUNC_NE, FUNC_LT, FUNC_LE, FUNC_GT, FUNC_GE:
		cmp, err := chunk.Compare(left, right)
		if err != nil {
			return chunk.Value{}, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		switch e.FuncId {
		case FUNC_EQ:
			return chunk.BoolValue(cmp == 0), nil
		case FUNC_NE:
			return chunk.BoolValue(cmp != 0), nil
		case FUNC_LT:
			return chunk.BoolValue(cmp < 0), nil
		case FUNC_LE:
			return chunk.BoolValue(cmp <= 0), nil
		case FUNC_GT:
			return chunk.BoolValue(cmp > 0), nil
		default:
			return chunk.BoolValue(cmp >= 0), nil
		}
	case FUNC_ADD, FUNC_SUB, FUNC_MUL, FUNC_DIV:
		return evalArith(e.FuncId, left, right)
	default:
		panic("usp")
	}
}

func (e *Expr) evalLogic(row chunk.Row) (chunk.Value, error) {
	shortVal := e.FuncId == FUNC_OR
	sawNull := false
	for _, child := range e.Children {
		val, err := child.Eval(row)
		if err != nil {
			return chunk.Value{}, err
		}
		if val.IsNull() {
			sawNull = true
			continue
		}
		if val.Kind != chunk.VK_BOOL {
			return chunk.Value{}, fmt.Errorf("%w: %s on %s",
				ErrTypeMismatch, e.FuncId, val.Kind)
		}
		if val.Bool == shortVal {
			return chunk.BoolValue(shortVal), nil
		}
	}
	if sawNull {
		return chunk.NullValue(), nil
	}
	return chunk.BoolValue(!shortVal), nil
}

func evalArith(id FuncId, left, right chunk.Value) (chunk.Value, error) {
	if left.Kind == chunk.VK_INT && right.Kind == chunk.VK_INT {
		return evalArithInt(id, left.I64, right.I64)
	}
	if left.Kind == chunk.VK_DECIMAL && right.Kind == chunk.VK_DECIMAL {
		var err error
		res := left.Dec
		switch id {
		case FUNC_ADD:
			res, err = left.Dec.Add(right.Dec)
		case FUNC_SUB:
			res, err = left.Dec.Sub(right.Dec)
		case FUNC_MUL:
			res, err = left.Dec.Mul(right.Dec)
		case FUNC_DIV:
			if right.Dec.IsZero() {
				return chunk.Value{}, ErrDivisionByZero
			}
			res, err = left.Dec.Quo(right.Dec)
		}
		if err != nil {
			return chunk.Value{}, fmt.Errorf("%w: %v", ErrOverflow, err)
		}
		return chunk.DecimalValue(res), nil
	}
	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if !lok || !rok {
		return chunk.Value{}, fmt.Errorf("%w: %s %s %s",
			ErrTypeMismatch, left.Kind, id, right.Kind)
	}
	switch id {
	case FUNC_ADD:
		return chunk.FloatValue(lf + rf), nil
	case FUNC_SUB:
		return chunk.FloatValue(lf - rf), nil
	case FUNC_MUL:
		return chunk.FloatValue(lf * rf), nil
	default:
		if rf == 0 {
			return chunk.Value{}, ErrDivisionByZero
		}
		return chunk.FloatValue(lf / rf), nil
	}
}

func evalArithInt(id FuncId, l, r int64) (chunk.Value, error) {
	switch id {
	case FUNC_ADD:
		res := l + r
		if (res > l) != (r > 0) {
			return chunk.Value{}, fmt.Errorf("%w: %d + %d", ErrOverflow, l, r)
		}
		return chunk.IntValue(res), nil
	case FUNC_SUB:
		res := l - r
		if (res < l) != (r > 0) {
			return chunk.Value{}, fmt.Errorf("%w: %d - %d", ErrOverflow, l, r)
		}
		return chunk.IntValue(res), nil
	case FUNC_MUL:
		if l != 0 && r != 0 {
			res := l * r
			if res/r != l || (l == -1 && r == math.MinInt64) {
				return chunk.Value{}, fmt.Errorf("%w: %d * %d", ErrOverflow, l, r)
			}
			return chunk.IntValue(res), nil
		}
		return chunk.IntValue(0), nil
	default:
		if r == 0 {
			return chunk.Value{}, ErrDivisionByZero
		}
		if l == math.MinInt64 && r == -1 {
			return chunk.Value{}, fmt.Errorf("%w: %d / %d", ErrOverflow, l, r)
		}
		return chunk.IntValue(l / r), nil
	}
}

