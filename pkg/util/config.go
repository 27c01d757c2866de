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

package util

type SourceConfig struct {
	Path   string `toml:"path"`
	Format string `toml:"format"`
}

type JoinStageConfig struct {
	Strategy   string `toml:"strategy"`
	Path       string `toml:"path"`
	Format     string `toml:"format"`
	OuterCol   int    `toml:"outerCol"`
	InnerCol   int    `toml:"innerCol"`
	LeftOuter  bool   `toml:"leftOuter"`
	RightOuter bool   `toml:"rightOuter"`
	// Band is the index join half range: inner value within
	// [outer-band, outer+band].
	Band int64 `toml:"band"`
}

type ResultConfig struct {
	Path         string `toml:"path"`
	NeedHeadLine bool   `toml:"needHeadline"`
}

type ExecConfig struct {
	LaneCount       int  `toml:"laneCount"`
	GroupCount      int  `toml:"groupCount"`
	DestRowCap      int  `toml:"destRowCap"`
	DestByteCap     int  `toml:"destByteCap"`
	EnableNumAggs   bool `toml:"enableNumericAggfuncs"`
	MaxRelaunches   int  `toml:"maxRelaunches"`
	PrintPipeline   bool `toml:"printPipeline"`
	PrintDepthStats bool `toml:"printDepthStats"`
}

type Config struct {
	Source  SourceConfig      `toml:"source"`
	Joins   []JoinStageConfig `toml:"joins"`
	Projs   []int             `toml:"projections"`
	Result  ResultConfig      `toml:"result"`
	Exec    ExecConfig        `toml:"exec"`
	Aggrs   []string          `toml:"aggregates"`
	GroupBy []int             `toml:"groupBy"`
}
