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
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lanedb/pipejoin/pkg/chunk"
	"github.com/lanedb/pipejoin/pkg/expr"
	"github.com/lanedb/pipejoin/pkg/relation"
	"github.com/lanedb/pipejoin/pkg/util"
)

// Run builds a pipeline from the file based config, launches it and
// writes the result rows to the configured path.
func Run(cfg *util.Config) error {
	params, err := BuildParams(cfg)
	if err != nil {
		return err
	}
	if cfg.Exec.PrintPipeline {
		fmt.Print(Explain(params))
	}

	result, err := Launch(context.Background(), params)
	if err != nil {
		return err
	}
	if cfg.Exec.PrintDepthStats {
		for d, cnt := range result.Emitted {
			util.Info("depth stat", zap.Int("depth", d), zap.Uint64("emitted", cnt))
		}
	}
	return writeResult(cfg, params, result.Rows)
}

// BuildParams translates the config into launch parameters: loads
// the source and the inner relations, builds per stage structures
// and resolves aggregate names through the catalog.
func BuildParams(cfg *util.Config) (*LaunchParams, error) {
	srcRel, err := relation.LoadRelation("source", cfg.Source.Path, cfg.Source.Format)
	if err != nil {
		return nil, err
	}
	params := &LaunchParams{
		Source:            relation.SourceFromRelation(srcRel),
		LaneCount:         cfg.Exec.LaneCount,
		GroupCount:        cfg.Exec.GroupCount,
		DestRowCap:        uint64(cfg.Exec.DestRowCap),
		DestByteCap:       uint64(cfg.Exec.DestByteCap),
		EnableNumericAggs: cfg.Exec.EnableNumAggs,
		MaxRelaunches:     cfg.Exec.MaxRelaunches,
	}

	width := srcRel.ColumnCount()
	for i, jc := range cfg.Joins {
		rel, err := relation.LoadRelation(fmt.Sprintf("join%d", i+1), jc.Path, jc.Format)
		if err != nil {
			return nil, err
		}
		stage, err := buildStage(&jc, rel, width)
		if err != nil {
			return nil, err
		}
		params.Stages = append(params.Stages, stage)
		width += rel.ColumnCount()
	}

	for _, name := range cfg.Aggrs {
		spec, err := parseAggSpec(name)
		if err != nil {
			return nil, err
		}
		params.Aggs = append(params.Aggs, spec)
	}
	for _, col := range cfg.GroupBy {
		params.GroupBy = append(params.GroupBy, expr.Column(col))
	}

	if len(params.Aggs) == 0 {
		projs := cfg.Projs
		if len(projs) == 0 {
			for col := 0; col < width; col++ {
				projs = append(projs, col)
			}
		}
		exprs := make([]*expr.Expr, len(projs))
		for i, col := range projs {
			exprs[i] = expr.Column(col)
		}
		params.Proj = expr.NewExprExec(exprs...)
	}
	return params, nil
}

func buildStage(jc *util.JoinStageConfig, rel *relation.Relation, width int) (*JoinStage, error) {
	outer := expr.Column(jc.OuterCol)
	inner := expr.Column(width + jc.InnerCol)
	stage := &JoinStage{
		Rel:        rel,
		LeftOuter:  jc.LeftOuter,
		RightOuter: jc.RightOuter,
	}
	switch jc.Strategy {
	case "nestloop", "":
		stage.Strategy = NestLoop
		stage.Quals = &expr.JoinQuals{
			OnConds: []*expr.Expr{expr.Func(expr.FUNC_EQ, outer, inner)},
		}
	case "hash":
		stage.Strategy = HashJoin
		stage.Quals = &expr.JoinQuals{
			OnConds: []*expr.Expr{expr.Func(expr.FUNC_EQ, outer, inner)},
		}
		stage.OuterKeys = expr.NewExprExec(expr.Column(jc.OuterCol))
		var err error
		stage.Hash, err = relation.BuildHashTable(rel, expr.NewExprExec(expr.Column(jc.InnerCol)))
		if err != nil {
			return nil, err
		}
	case "index":
		stage.Strategy = IndexJoin
		band := expr.Const(chunk.IntValue(jc.Band))
		stage.LoExpr = expr.Func(expr.FUNC_SUB, outer, band)
		stage.HiExpr = expr.Func(expr.FUNC_ADD, outer, band)
		stage.Quals = &expr.JoinQuals{
			OnConds: []*expr.Expr{expr.Func(expr.FUNC_BETWEEN, inner,
				expr.Func(expr.FUNC_SUB, outer, band),
				expr.Func(expr.FUNC_ADD, outer, band))},
		}
		var err error
		stage.Index, err = relation.NewBlockIndex(rel, jc.InnerCol, relation.DefaultBlockSize)
		if err != nil {
			return nil, err
		}
		if err = stage.Index.PrepareCrosslinks(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown join strategy %q", jc.Strategy)
	}
	return stage, nil
}

// parseAggSpec understands "count", "sum(3)" and "corr(1,2)" style
// entries: a catalog name and column indexes.
func parseAggSpec(text string) (*AggSpec, error) {
	name := text
	var args []*expr.Expr
	if open := strings.IndexByte(text, '('); open >= 0 {
		if !strings.HasSuffix(text, ")") {
			return nil, fmt.Errorf("malformed aggregate %q", text)
		}
		name = text[:open]
		inner := text[open+1 : len(text)-1]
		if inner != "" && inner != "*" {
			for _, part := range strings.Split(inner, ",") {
				col, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil {
					return nil, fmt.Errorf("malformed aggregate %q: %v", text, err)
				}
				args = append(args, expr.Column(col))
			}
		}
	}
	return NewAggSpec(name, nil, args...)
}

func writeResult(cfg *util.Config, params *LaunchParams, rows []chunk.Row) error {
	if cfg.Result.Path == "" {
		for _, row := range rows {
			fmt.Println(row.String())
		}
		return nil
	}
	f, err := os.Create(cfg.Result.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if cfg.Result.NeedHeadLine {
		var heads []string
		if len(params.Aggs) > 0 {
			for _, key := range params.GroupBy {
				heads = append(heads, key.String())
			}
			for _, spec := range params.Aggs {
				heads = append(heads, spec.Name)
			}
		} else {
			for _, e := range params.Proj.Exprs() {
				heads = append(heads, e.String())
			}
		}
		if _, err = fmt.Fprintln(f, strings.Join(heads, "\t")); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if _, err = fmt.Fprintln(f, row.String()); err != nil {
			return err
		}
	}
	return nil
}
