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
	"github.com/lanedb/pipejoin/pkg/util"
)

type aggGroup struct {
	_keys   chunk.Row
	_states []aggState
}

// aggHash accumulates partial aggregates per grouping key. Each lane
// group owns a private one and updates it without locking; merges
// into the shared table happen once per group, at completion.
type aggHash struct {
	_specs         []*AggSpec
	_groupBy       []*expr.Expr
	_enableNumeric bool
	_groups        map[uint64][]*aggGroup
	_order         []*aggGroup
}

func newAggHash(specs []*AggSpec, groupBy []*expr.Expr, enableNumeric bool) *aggHash {
	return &aggHash{
		_specs:         specs,
		_groupBy:       groupBy,
		_enableNumeric: enableNumeric,
		_groups:        make(map[uint64][]*aggGroup),
	}
}

func (h *aggHash) update(row chunk.Row) error {
	keys := make(chunk.Row, len(h._groupBy))
	for i, key := range h._groupBy {
		val, err := key.Eval(row)
		if err != nil {
			return err
		}
		keys[i] = val
	}
	grp, err := h.upsert(keys)
	if err != nil {
		return err
	}

	for i, spec := range h._specs {
		if spec.Filter != nil {
			hit, err := spec.Filter.Eval(row)
			if err != nil {
				return err
			}
			if hit.IsNull() || hit.Kind != chunk.VK_BOOL || !hit.Bool {
				continue
			}
		}
		vals, err := h.evalArgs(spec, row)
		if err != nil {
			return err
		}
		if err = grp._states[i].update(vals); err != nil {
			return err
		}
	}
	return nil
}

func (h *aggHash) evalArgs(spec *AggSpec, row chunk.Row) ([]chunk.Value, error) {
	var vals []chunk.Value
	for _, arg := range []*expr.Expr{spec.Arg, spec.Arg2} {
		if arg == nil {
			break
		}
		val, err := arg.Eval(row)
		if err != nil {
			return nil, err
		}
		if val.Kind == chunk.VK_DECIMAL && !h._enableNumeric {
			return nil, fmt.Errorf("%w: numeric aggregates are disabled",
				expr.ErrTypeMismatch)
		}
		vals = append(vals, val)
	}
	return vals, nil
}

func (h *aggHash) upsert(keys chunk.Row) (*aggGroup, error) {
	hash := keys.Hash()
	for _, grp := range h._groups[hash] {
		same, err := sameKeys(grp._keys, keys)
		if err != nil {
			return nil, err
		}
		if same {
			return grp, nil
		}
	}
	grp := &aggGroup{_keys: keys, _states: make([]aggState, len(h._specs))}
	for i, spec := range h._specs {
		grp._states[i] = spec.newState()
	}
	h._groups[hash] = append(h._groups[hash], grp)
	h._order = append(h._order, grp)
	return grp, nil
}

// sameKeys groups NULLs together, the way GROUP BY does.
func sameKeys(a, b chunk.Row) (bool, error) {
	for i := range a {
		if a[i].IsNull() || b[i].IsNull() {
			if a[i].IsNull() != b[i].IsNull() {
				return false, nil
			}
			continue
		}
		cmp, err := chunk.Compare(a[i], b[i])
		if err != nil {
			return false, err
		}
		if cmp != 0 {
			return false, nil
		}
	}
	return true, nil
}

func (h *aggHash) mergeFrom(other *aggHash) error {
	for _, grp := range other._order {
		dst, err := h.upsert(grp._keys)
		if err != nil {
			return err
		}
		for i := range dst._states {
			dst._states[i].merge(grp._states[i])
		}
	}
	return nil
}

// finalize emits one row per group: the grouping keys followed by
// the final aggregate values, in insertion order.
func (h *aggHash) finalize() []chunk.Row {
	out := make([]chunk.Row, 0, len(h._order))
	for _, grp := range h._order {
		row := make(chunk.Row, 0, len(grp._keys)+len(h._specs))
		row = append(row, grp._keys...)
		for i, spec := range h._specs {
			row = append(row, grp._states[i].final(spec.Final))
		}
		out = append(out, row)
	}
	return out
}

// AggTable is the shared aggregation terminal. Lane groups merge
// their private partials under the reentry lock; the launcher
// finalizes once every launch attempt has completed.
type AggTable struct {
	_lock *util.ReentryLock
	_hash *aggHash
}

func NewAggTable(specs []*AggSpec, groupBy []*expr.Expr, enableNumeric bool) *AggTable {
	return &AggTable{
		_lock: util.NewReentryLock(),
		_hash: newAggHash(specs, groupBy, enableNumeric),
	}
}

func (tab *AggTable) newLocal() *aggHash {
	return newAggHash(tab._hash._specs, tab._hash._groupBy, tab._hash._enableNumeric)
}

func (tab *AggTable) Merge(local *aggHash) error {
	tab._lock.Lock()
	defer tab._lock.Unlock()
	return tab._hash.mergeFrom(local)
}

func (tab *AggTable) Finalize() []chunk.Row {
	tab._lock.Lock()
	defer tab._lock.Unlock()
	return tab._hash.finalize()
}
