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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lanedb/pipejoin/pkg/compute"
	"github.com/lanedb/pipejoin/pkg/util"
)

var runCfg = &util.Config{}

func init() {
	cobra.OnInitialize(loadConfig)
	initRunCmd()
	initExplainCmd()
}

var info = "pipejoin"
var RootCmd = &cobra.Command{
	Use:          "pipejoin",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use pipejoin --help or -h")
	},
}

var runInfo = "run the configured pipeline"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initExecOptions()
		return compute.Run(runCfg)
	},
}

var explainInfo = "print the pipeline shape without running it"
var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: explainInfo,
	Long:  explainInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initExecOptions()
		params, err := compute.BuildParams(runCfg)
		if err != nil {
			return err
		}
		fmt.Print(compute.Explain(params))
		return nil
	},
}

func initExecOptions() {
	if viper.IsSet("exec.laneCount") {
		runCfg.Exec.LaneCount = viper.GetInt("exec.laneCount")
	}
	if viper.IsSet("exec.groupCount") {
		runCfg.Exec.GroupCount = viper.GetInt("exec.groupCount")
	}
	if viper.IsSet("exec.destRowCap") {
		runCfg.Exec.DestRowCap = viper.GetInt("exec.destRowCap")
	}
	if viper.IsSet("exec.destByteCap") {
		runCfg.Exec.DestByteCap = viper.GetInt("exec.destByteCap")
	}
	if viper.IsSet("exec.maxRelaunches") {
		runCfg.Exec.MaxRelaunches = viper.GetInt("exec.maxRelaunches")
	}
	if viper.IsSet("exec.enableNumericAggfuncs") {
		runCfg.Exec.EnableNumAggs = viper.GetBool("exec.enableNumericAggfuncs")
	}
	if viper.IsSet("exec.printPipeline") {
		runCfg.Exec.PrintPipeline = viper.GetBool("exec.printPipeline")
	}
	if viper.IsSet("exec.printDepthStats") {
		runCfg.Exec.PrintDepthStats = viper.GetBool("exec.printDepthStats")
	}
}

func initRunCmd() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runCfg.Result.Path, "result_path", "", "result file path")
	runCmd.Flags().BoolVar(&runCfg.Result.NeedHeadLine, "need_headline", true, "output headline in result")

	viper.BindPFlag("result.path", runCmd.Flags().Lookup("result_path"))
	viper.BindPFlag("result.needHeadline", runCmd.Flags().Lookup("need_headline"))
}

func initExplainCmd() {
	RootCmd.AddCommand(explainCmd)
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "pipejoin.toml"

func loadConfig() {
	has := false
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			_, err := toml.DecodeFile(fpath, runCfg)
			if err != nil {
				util.Error("load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			viper.SetConfigFile(fpath)
			_ = viper.ReadInConfig()
			has = true
			break
		}
	}
	if !has {
		util.Error("pipejoin.toml does not exist")
		os.Exit(1)
	}
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
