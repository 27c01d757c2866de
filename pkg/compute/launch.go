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
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
	"github.com/lanedb/pipejoin/pkg/relation"
	"github.com/lanedb/pipejoin/pkg/util"
)

const (
	DefaultGroupCount    = 4
	DefaultDestRowCap    = 1 << 16
	DefaultDestByteCap   = 1 << 24
	DefaultMaxRelaunches = 64
)

// LaunchParams describes one pipeline: a source scan, a chain of
// join stages and a terminal. The terminal is partial aggregation
// when Aggs is set, plain projection otherwise.
type LaunchParams struct {
	Source relation.Source
	Stages []*JoinStage

	Proj    *expr.ExprExec
	Aggs    []*AggSpec
	GroupBy []*expr.Expr

	LaneCount   int
	GroupCount  int
	DestRowCap  uint64
	DestByteCap uint64

	EnableNumericAggs bool
	MaxRelaunches     int
}

type LaunchResult struct {
	Rows []chunk.Row
	// SuspendCount totals group suspend events over all relaunches.
	SuspendCount int
	Relaunches   int
	// Emitted[d] counts rows produced at depth d: 0 is the source
	// load, 1..N the joins, N+1 the terminal.
	Emitted []uint64
}

func (params *LaunchParams) fillDefaults() {
	if params.LaneCount <= 0 {
		params.LaneCount = util.DefaultLaneCount
	}
	if params.GroupCount <= 0 {
		params.GroupCount = DefaultGroupCount
	}
	if params.DestRowCap == 0 {
		params.DestRowCap = DefaultDestRowCap
	}
	if params.DestByteCap == 0 {
		params.DestByteCap = DefaultDestByteCap
	}
	if params.MaxRelaunches <= 0 {
		params.MaxRelaunches = DefaultMaxRelaunches
	}
}

func (params *LaunchParams) validate() error {
	if params.Source == nil {
		return fmt.Errorf("launch without source")
	}
	for _, stage := range params.Stages {
		if err := stage.validate(); err != nil {
			return err
		}
	}
	if len(params.Aggs) == 0 {
		if params.Proj == nil {
			return fmt.Errorf("launch without projection or aggregates")
		}
		if len(params.GroupBy) != 0 {
			return fmt.Errorf("group by without aggregates")
		}
	}
	return nil
}

// Launch runs the pipeline to completion, relaunching after every
// destination overflow, then drains the right outer stages. Rows
// accumulated before a fault survive it: the partial result comes
// back alongside the error.
func Launch(ctx context.Context, params *LaunchParams) (*LaunchResult, error) {
	params.fillDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}

	var agg *AggTable
	if len(params.Aggs) > 0 {
		agg = NewAggTable(params.Aggs, params.GroupBy, params.EnableNumericAggs)
	}
	for _, stage := range params.Stages {
		if stage.RightOuter {
			stage.Rel.InitMatchBitmap()
		}
	}

	result := &LaunchResult{
		Emitted: make([]uint64, len(params.Stages)+2),
	}
	util.Info("pipeline launch",
		zap.Int("joins", len(params.Stages)),
		zap.Int("lanes", params.LaneCount),
		zap.Int("groups", params.GroupCount))

	rows, err := launchPipeline(ctx, params, params.Source, params.Stages, agg, result)
	result.Rows = rows
	if err != nil {
		return result, err
	}

	// right outer drains run shallow to deep: rows drained at depth
	// d still flow through the deeper stages and can mark their
	// inner rows matched before those stages drain in turn.
	prefix := params.Source.ColumnCount()
	for d, stage := range params.Stages {
		if stage.RightOuter {
			drained := drainUnmatched(stage, prefix)
			if len(drained) > 0 {
				src := relation.NewSliceSource(prefix+stage.Rel.ColumnCount(), drained)
				subRows, err := launchPipeline(ctx, params, src, params.Stages[d+1:], agg, result)
				result.Rows = append(result.Rows, subRows...)
				if err != nil {
					return result, err
				}
			}
		}
		prefix += stage.Rel.ColumnCount()
	}

	if agg != nil {
		result.Rows = agg.Finalize()
	}
	util.Info("pipeline done",
		zap.Int("rows", len(result.Rows)),
		zap.Int("suspends", result.SuspendCount),
		zap.Int("relaunches", result.Relaunches))
	return result, nil
}

// drainUnmatched builds the null extended rows of a right outer
// stage: nulls for the accumulated outer prefix, then the inner row.
func drainUnmatched(stage *JoinStage, prefixWidth int) []chunk.Row {
	var out []chunk.Row
	for id := uint64(0); id < stage.Rel.Count(); id++ {
		if stage.Rel.IsDeleted(id) || stage.Rel.Matched(id) {
			continue
		}
		row := make(chunk.Row, 0, prefixWidth+stage.Rel.ColumnCount())
		for i := 0; i < prefixWidth; i++ {
			row = append(row, chunk.NullValue())
		}
		row = append(row, stage.Rel.Row(id)...)
		out = append(out, row)
	}
	return out
}

// launchPipeline is the relaunch loop: run every group, drain the
// destination, and if any group suspended, carry its checkpoint into
// a fresh launch with an empty destination.
func launchPipeline(
	ctx context.Context,
	params *LaunchParams,
	source relation.Source,
	stages []*JoinStage,
	agg *AggTable,
	result *LaunchResult,
) ([]chunk.Row, error) {
	pipe := &pipeline{
		_source:   source,
		_stages:   stages,
		_proj:     params.Proj,
		_agg:      agg,
		_laneCnt:  params.LaneCount,
		_groupCnt: params.GroupCount,
		_emitted:  make([]atomic.Uint64, len(stages)+2),
	}
	defer func() {
		// drained sub pipelines are shorter; credit their counters
		// to the tail of the full depth range
		off := len(result.Emitted) - len(pipe._emitted)
		for i := range pipe._emitted {
			result.Emitted[off+i] += pipe._emitted[i].Load()
		}
	}()

	var acc []chunk.Row
	var checkpoints map[int][]byte
	for {
		dest := NewDestination(params.DestRowCap, params.DestByteCap)
		var runners []*groupRunner
		for g := 0; g < params.GroupCount; g++ {
			if checkpoints == nil {
				runners = append(runners, newGroupRunner(pipe, g, dest))
				continue
			}
			data, has := checkpoints[g]
			if !has {
				// this group already ran to completion
				continue
			}
			run, err := restoreGroupRunner(pipe, dest, data)
			if err != nil {
				return acc, err
			}
			runners = append(runners, run)
		}

		eg, ectx := errgroup.WithContext(ctx)
		for _, run := range runners {
			run := run
			eg.Go(func() error {
				return run.run(ectx)
			})
		}
		err := eg.Wait()
		// every reserved slot is fully written before a runner
		// returns, so draining after Wait is always consistent
		acc = append(acc, dest.Drain()...)
		if err != nil {
			util.Error("pipeline fault", zap.Error(err))
			return acc, err
		}

		next := make(map[int][]byte)
		for _, run := range runners {
			if !run._suspended {
				continue
			}
			data, err := run.checkpoint()
			if err != nil {
				return acc, err
			}
			next[run._state.GroupId()] = data
		}
		if len(next) == 0 {
			return acc, nil
		}
		result.SuspendCount += len(next)
		result.Relaunches++
		if result.Relaunches > params.MaxRelaunches {
			return acc, &PipelineFault{
				Kind: FaultCapacity,
				Err:  fmt.Errorf("destination too small after %d relaunches", result.Relaunches),
			}
		}
		util.Info("pipeline suspended",
			zap.Int("groups", len(next)),
			zap.Int("relaunch", result.Relaunches))
		checkpoints = next
	}
}
