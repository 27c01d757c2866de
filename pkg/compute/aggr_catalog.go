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
	"math"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
)

// AggAction selects the partial state kept per group. Several final
// functions share one partial: every variance flavor runs on
// pvariance, every regression slot on pcovar.
type AggAction uint8

const (
	KAGG_NROWS_ANY AggAction = iota
	KAGG_NROWS_COND
	KAGG_PMIN
	KAGG_PMAX
	KAGG_PSUM
	KAGG_PAVG
	KAGG_PVARIANCE
	KAGG_PCOVAR
)

// FinalKind selects how a partial state folds into the result value.
type FinalKind uint8

const (
	FK_VALUE FinalKind = iota
	FK_AVG
	FK_VAR_SAMP
	FK_VAR_POP
	FK_STDDEV_SAMP
	FK_STDDEV_POP
	FK_CORR
	FK_COVAR_SAMP
	FK_COVAR_POP
	FK_REGR_COUNT
	FK_REGR_AVGX
	FK_REGR_AVGY
	FK_REGR_SXX
	FK_REGR_SYY
	FK_REGR_SXY
	FK_REGR_SLOPE
	FK_REGR_INTERCEPT
	FK_REGR_R2
)

type aggCatalogEnt struct {
	_action AggAction
	_final  FinalKind
	_nargs  int
}

var aggCatalog = map[string]aggCatalogEnt{
	"count":       {KAGG_NROWS_ANY, FK_VALUE, 0},
	"min":         {KAGG_PMIN, FK_VALUE, 1},
	"max":         {KAGG_PMAX, FK_VALUE, 1},
	"sum":         {KAGG_PSUM, FK_VALUE, 1},
	"avg":         {KAGG_PAVG, FK_AVG, 1},
	"var_samp":    {KAGG_PVARIANCE, FK_VAR_SAMP, 1},
	"var_pop":     {KAGG_PVARIANCE, FK_VAR_POP, 1},
	"variance":    {KAGG_PVARIANCE, FK_VAR_SAMP, 1},
	"stddev_samp": {KAGG_PVARIANCE, FK_STDDEV_SAMP, 1},
	"stddev_pop":  {KAGG_PVARIANCE, FK_STDDEV_POP, 1},
	"stddev":      {KAGG_PVARIANCE, FK_STDDEV_SAMP, 1},
	"corr":        {KAGG_PCOVAR, FK_CORR, 2},
	"covar_samp":  {KAGG_PCOVAR, FK_COVAR_SAMP, 2},
	"covar_pop":   {KAGG_PCOVAR, FK_COVAR_POP, 2},
	"regr_count":  {KAGG_PCOVAR, FK_REGR_COUNT, 2},
	"regr_avgx":   {KAGG_PCOVAR, FK_REGR_AVGX, 2},
	"regr_avgy":   {KAGG_PCOVAR, FK_REGR_AVGY, 2},
	"regr_sxx":    {KAGG_PCOVAR, FK_REGR_SXX, 2},
	"regr_syy":    {KAGG_PCOVAR, FK_REGR_SYY, 2},
	"regr_sxy":    {KAGG_PCOVAR, FK_REGR_SXY, 2},
	"regr_slope":  {KAGG_PCOVAR, FK_REGR_SLOPE, 2},
	"regr_r2":     {KAGG_PCOVAR, FK_REGR_R2, 2},

	"regr_intercept": {KAGG_PCOVAR, FK_REGR_INTERCEPT, 2},
}

// AggSpec is one aggregate column of the terminal. Filter, when set,
// gates every update; regression aggregates take (Y, X) like their
// SQL counterparts.
type AggSpec struct {
	Name   string
	Action AggAction
	Final  FinalKind
	Arg    *expr.Expr
	Arg2   *expr.Expr
	Filter *expr.Expr
}

func NewAggSpec(name string, filter *expr.Expr, args ...*expr.Expr) (*AggSpec, error) {
	ent, has := aggCatalog[name]
	if !has {
		return nil, fmt.Errorf("unknown aggregate %q", name)
	}
	if len(args) != ent._nargs {
		return nil, fmt.Errorf("aggregate %s wants %d args, got %d", name, ent._nargs, len(args))
	}
	spec := &AggSpec{Name: name, Action: ent._action, Final: ent._final, Filter: filter}
	if ent._nargs >= 1 {
		spec.Arg = args[0]
	}
	if ent._nargs >= 2 {
		spec.Arg2 = args[1]
	}
	if spec.Action == KAGG_NROWS_ANY && filter != nil {
		spec.Action = KAGG_NROWS_COND
	}
	return spec, nil
}

func (spec *AggSpec) newState() aggState {
	switch spec.Action {
	case KAGG_NROWS_ANY, KAGG_NROWS_COND:
		return &nrowsState{}
	case KAGG_PMIN:
		return &minmaxState{_isMin: true}
	case KAGG_PMAX:
		return &minmaxState{}
	case KAGG_PSUM, KAGG_PAVG:
		return &psumState{}
	case KAGG_PVARIANCE:
		return &pvarState{}
	case KAGG_PCOVAR:
		return &pcovarState{}
	default:
		panic("usp")
	}
}

// aggState is one partial aggregate. update sees the already
// evaluated argument values, merge folds another group's partial in,
// final produces the result for the chosen final kind.
type aggState interface {
	update(vals []chunk.Value) error
	merge(other aggState)
	final(kind FinalKind) chunk.Value
}

type nrowsState struct {
	_n int64
}

func (st *nrowsState) update([]chunk.Value) error {
	st._n++
	return nil
}

func (st *nrowsState) merge(other aggState) {
	st._n += other.(*nrowsState)._n
}

func (st *nrowsState) final(FinalKind) chunk.Value {
	return chunk.IntValue(st._n)
}

type minmaxState struct {
	_isMin bool
	_has   bool
	_val   chunk.Value
}

func (st *minmaxState) update(vals []chunk.Value) error {
	val := vals[0]
	if val.IsNull() {
		return nil
	}
	if !st._has {
		st._has, st._val = true, val
		return nil
	}
	cmp, err := chunk.Compare(val, st._val)
	if err != nil {
		return err
	}
	if (st._isMin && cmp < 0) || (!st._isMin && cmp > 0) {
		st._val = val
	}
	return nil
}

func (st *minmaxState) merge(other aggState) {
	o := other.(*minmaxState)
	if !o._has {
		return
	}
	_ = st.update([]chunk.Value{o._val})
}

func (st *minmaxState) final(FinalKind) chunk.Value {
	if !st._has {
		return chunk.NullValue()
	}
	return st._val
}

// psumState sums integers exactly until the first non integer input
// arrives, then carries the whole sum as float.
type psumState struct {
	_n   int64
	_fp  bool
	_i64 int64
	_f64 float64
}

func (st *psumState) update(vals []chunk.Value) error {
	val := vals[0]
	if val.IsNull() {
		return nil
	}
	if !st._fp && val.Kind == chunk.VK_INT {
		res := st._i64 + val.I64
		if (res > st._i64) != (val.I64 > 0) && val.I64 != 0 {
			return fmt.Errorf("%w: sum", expr.ErrOverflow)
		}
		st._i64 = res
		st._n++
		return nil
	}
	f, ok := val.AsFloat()
	if !ok {
		return fmt.Errorf("%w: sum over %s", expr.ErrTypeMismatch, val.Kind)
	}
	if !st._fp {
		st._fp = true
		st._f64 = float64(st._i64)
	}
	st._f64 += f
	st._n++
	return nil
}

func (st *psumState) merge(other aggState) {
	o := other.(*psumState)
	if o._n == 0 {
		return
	}
	if st._fp || o._fp {
		if !st._fp {
			st._fp = true
			st._f64 = float64(st._i64)
		}
		if o._fp {
			st._f64 += o._f64
		} else {
			st._f64 += float64(o._i64)
		}
	} else {
		st._i64 += o._i64
	}
	st._n += o._n
}

func (st *psumState) final(kind FinalKind) chunk.Value {
	if st._n == 0 {
		return chunk.NullValue()
	}
	if kind == FK_AVG {
		sum := st._f64
		if !st._fp {
			sum = float64(st._i64)
		}
		return chunk.FloatValue(sum / float64(st._n))
	}
	if st._fp {
		return chunk.FloatValue(st._f64)
	}
	return chunk.IntValue(st._i64)
}

type pvarState struct {
	_n   float64
	_sx  float64
	_sxx float64
}

func (st *pvarState) update(vals []chunk.Value) error {
	val := vals[0]
	if val.IsNull() {
		return nil
	}
	f, ok := val.AsFloat()
	if !ok {
		return fmt.Errorf("%w: variance over %s", expr.ErrTypeMismatch, val.Kind)
	}
	st._n++
	st._sx += f
	st._sxx += f * f
	return nil
}

func (st *pvarState) merge(other aggState) {
	o := other.(*pvarState)
	st._n += o._n
	st._sx += o._sx
	st._sxx += o._sxx
}

func (st *pvarState) final(kind FinalKind) chunk.Value {
	if st._n == 0 {
		return chunk.NullValue()
	}
	m2 := st._sxx - st._sx*st._sx/st._n
	if m2 < 0 {
		m2 = 0
	}
	switch kind {
	case FK_VAR_POP:
		return chunk.FloatValue(m2 / st._n)
	case FK_STDDEV_POP:
		return chunk.FloatValue(math.Sqrt(m2 / st._n))
	case FK_VAR_SAMP, FK_STDDEV_SAMP:
		if st._n < 2 {
			return chunk.NullValue()
		}
		v := m2 / (st._n - 1)
		if kind == FK_STDDEV_SAMP {
			return chunk.FloatValue(math.Sqrt(v))
		}
		return chunk.FloatValue(v)
	default:
		panic("usp")
	}
}

// pcovarState carries {n, sx, sy, sxx, syy, sxy} with Y as the first
// argument and X as the second. A pair updates only when both sides
// are non NULL.
type pcovarState struct {
	_n   float64
	_sx  float64
	_sy  float64
	_sxx float64
	_syy float64
	_sxy float64
}

func (st *pcovarState) update(vals []chunk.Value) error {
	if vals[0].IsNull() || vals[1].IsNull() {
		return nil
	}
	y, ok := vals[0].AsFloat()
	if !ok {
		return fmt.Errorf("%w: covariance over %s", expr.ErrTypeMismatch, vals[0].Kind)
	}
	x, ok := vals[1].AsFloat()
	if !ok {
		return fmt.Errorf("%w: covariance over %s", expr.ErrTypeMismatch, vals[1].Kind)
	}
	st._n++
	st._sx += x
	st._sy += y
	st._sxx += x * x
	st._syy += y * y
	st._sxy += x * y
	return nil
}

func (st *pcovarState) merge(other aggState) {
	o := other.(*pcovarState)
	st._n += o._n
	st._sx += o._sx
	st._sy += o._sy
	st._sxx += o._sxx
	st._syy += o._syy
	st._sxy += o._sxy
}

func (st *pcovarState) final(kind FinalKind) chunk.Value {
	if st._n == 0 {
		if kind == FK_REGR_COUNT {
			return chunk.IntValue(0)
		}
		return chunk.NullValue()
	}
	sxx := st._sxx - st._sx*st._sx/st._n
	syy := st._syy - st._sy*st._sy/st._n
	sxy := st._sxy - st._sx*st._sy/st._n
	switch kind {
	case FK_REGR_COUNT:
		return chunk.IntValue(int64(st._n))
	case FK_REGR_AVGX:
		return chunk.FloatValue(st._sx / st._n)
	case FK_REGR_AVGY:
		return chunk.FloatValue(st._sy / st._n)
	case FK_REGR_SXX:
		return chunk.FloatValue(sxx)
	case FK_REGR_SYY:
		return chunk.FloatValue(syy)
	case FK_REGR_SXY:
		return chunk.FloatValue(sxy)
	case FK_COVAR_POP:
		return chunk.FloatValue(sxy / st._n)
	case FK_COVAR_SAMP:
		if st._n < 2 {
			return chunk.NullValue()
		}
		return chunk.FloatValue(sxy / (st._n - 1))
	case FK_CORR:
		if sxx <= 0 || syy <= 0 {
			return chunk.NullValue()
		}
		return chunk.FloatValue(sxy / math.Sqrt(sxx*syy))
	case FK_REGR_SLOPE:
		if sxx == 0 {
			return chunk.NullValue()
		}
		return chunk.FloatValue(sxy / sxx)
	case FK_REGR_INTERCEPT:
		if sxx == 0 {
			return chunk.NullValue()
		}
		return chunk.FloatValue(st._sy/st._n - sxy/sxx*(st._sx/st._n))
	case FK_REGR_R2:
		if sxx == 0 {
			return chunk.NullValue()
		}
		if syy == 0 {
			return chunk.FloatValue(1)
		}
		return chunk.FloatValue(sxy * sxy / (sxx * syy))
	default:
		panic("usp")
	}
}
