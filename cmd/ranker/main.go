// Copyright 2023-2024 daviszhen
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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/ranker/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRunCmd()
}

var rankerCfg = util.DefaultConfig()

// query flags, not part of the config file
type queryFlags struct {
	order      string
	within     string
	groupBy    []string
	groupFunc  string
	groupLimit int
	limit      int
	count      bool
	distinct   string
	aggrs      []string
	having     string
	collation  string
	header     bool
	delimiter  string
	timeout    time.Duration
}

var query = &queryFlags{}

///root cmd

var info = "ranker"
var RootCmd = &cobra.Command{
	Use:          "ranker",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use ranker --help or -h")
	},
}

func initDebugOptions() {
	rankerCfg.Debug.CheckOwner = viper.GetBool("debug.checkOwner")
	rankerCfg.Debug.LogEvictions = viper.GetBool("debug.logEvictions")
	rankerCfg.Debug.PrintPlan = viper.GetBool("debug.printPlan")
	rankerCfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	if level := viper.GetString("debug.logLevel"); level != "" {
		rankerCfg.Debug.LogLevel = level
	}
}

//run cmd

var runInfo = "rank the rows of a data file"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCfg()
		if err := util.SetLogLevel(rankerCfg.Debug.LogLevel); err != nil {
			return err
		}
		defer util.Sync()
		return run(cmd.Context(), rankerCfg, query, os.Stdout)
	},
}

func initRunCfg() {
	initDebugOptions()
	if viper.IsSet("grouping.utc") {
		rankerCfg.Grouping.UTC = viper.GetBool("grouping.utc")
	}
	if coll := viper.GetString("grouping.collation"); coll != "" {
		rankerCfg.Grouping.Collation = coll
	}
	rankerCfg.Sorter.KBuffer = viper.GetBool("sorter.kbuffer")
	if n := viper.GetInt("sorter.maxMatches"); n > 0 {
		rankerCfg.Sorter.MaxMatches = n
	}
	if n := viper.GetInt("sorter.checkEvery"); n > 0 {
		rankerCfg.Sorter.CheckEvery = n
	}
	rankerCfg.Data.Path = viper.GetString("data.path")
	if format := viper.GetString("data.format"); format != "" {
		rankerCfg.Data.Format = format
	}
	rankerCfg.Data.Schema = viper.GetString("data.schema")
	if n := viper.GetInt("data.segments"); n > 0 {
		rankerCfg.Data.Segments = n
	}
}

func initRunCmd() {
	RootCmd.AddCommand(runCmd)
	flags := runCmd.Flags()
	flags.StringVar(&rankerCfg.Data.Path, "data_path", "", "data file path")
	flags.StringVar(&rankerCfg.Data.Format, "data_format", "csv", "data file format. csv, parquet")
	flags.StringVar(&rankerCfg.Data.Schema, "schema", "", "data file columns, name:type,...")
	flags.IntVar(&rankerCfg.Data.Segments, "workers", 1, "parallel workers")
	flags.BoolVar(&rankerCfg.Sorter.KBuffer, "kbuffer", false, "use the k-buffer sorter for plain queries")
	flags.BoolVar(&rankerCfg.Debug.PrintPlan, "print_plan", false, "log the sorter plan")

	flags.StringVar(&query.order, "order", "", "order by, e.g. \"price desc, @weight desc\"")
	flags.StringVar(&query.within, "within", "", "within group order by")
	flags.StringSliceVar(&query.groupBy, "group", nil, "group by columns")
	flags.StringVar(&query.groupFunc, "group_func", "", "date bucket of the group by column. day, week, month, year")
	flags.IntVar(&query.groupLimit, "group_limit", 1, "rows kept per group")
	flags.IntVar(&query.limit, "limit", 20, "rows or groups returned")
	flags.BoolVar(&query.count, "count", false, "count(*), one row without group by")
	flags.StringVar(&query.distinct, "distinct", "", "count distinct column")
	flags.StringArrayVar(&query.aggrs, "aggr", nil, "aggregate, e.g. \"sum(price) as total\"")
	flags.StringVar(&query.having, "having", "", "having, e.g. \"@count >= 2\"")
	flags.StringVar(&query.collation, "collation", "", "string collation")
	flags.BoolVar(&query.header, "header", false, "skip the first csv line")
	flags.StringVar(&query.delimiter, "delimiter", ",", "csv delimiter")
	flags.DurationVar(&query.timeout, "timeout", 0, "stop pushing rows after this long")

	viper.BindPFlag("data.path", flags.Lookup("data_path"))
	viper.BindPFlag("data.format", flags.Lookup("data_format"))
	viper.BindPFlag("data.schema", flags.Lookup("schema"))
	viper.BindPFlag("data.segments", flags.Lookup("workers"))
	viper.BindPFlag("sorter.kbuffer", flags.Lookup("kbuffer"))
	viper.BindPFlag("debug.printPlan", flags.Lookup("print_plan"))
}

var defCfgFilePaths = []string{".", "etc/ranker"}
var cfgFileName = "ranker.toml"

// loadConfig reads ranker.toml when there is one. Flags alone are enough
// to run.
func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			util.Debug("config loaded", zap.String("fpath", fpath))
			return
		}
	}
	util.Debug("ranker.toml does not exist, using flags")
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
