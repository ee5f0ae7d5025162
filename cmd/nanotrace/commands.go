package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coffersTech/nanotrace/internal/catalog"
	"github.com/coffersTech/nanotrace/internal/controller"
	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/modules"
	"github.com/coffersTech/nanotrace/internal/report"
)

var parseCmd = &cobra.Command{
	Use:   "parse <log>",
	Short: "Parse one trace log into an HTML report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		res := controller.New(cfg, logger).Parse(cmd.Context(), args[0], out)
		return finish(res)
	},
}

var multiRankCmd = &cobra.Command{
	Use:   "multi-rank <dir>",
	Short: "Parse every rank capture in a directory and compare them",
	Long: `multi-rank reads every file whose name contains rank_<N>, writes a
report per rank under rank_<N>/ and a cross-rank divergence summary at
the top of the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		res := controller.New(cfg, logger).MultiRank(cmd.Context(), args[0], out)
		return finish(res)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <intermediate-dir> <stream> <filter>",
	Short: "Print intermediate entries matching a filter as JSON lines",
	Long: `query reads one intermediate stream (as kept by --keep-intermediate)
and prints every entry matching the filter expression, for example:

  nanotrace query out/intermediate graphs 'compile_id:0_0_0 AND type:dynamo_output_graph'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ft, err := model.ParseFileType(args[1])
		if err != nil {
			return err
		}
		m, err := engine.LoadManifest(args[0])
		if err != nil {
			return fmt.Errorf("not an intermediate directory: %w", err)
		}
		mc := modules.NewContext(args[0], m, cfg.Settings(), logger)
		entries, err := mc.Select(ft, args[2])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for i := range entries {
			if err := enc.Encode(&entries[i]); err != nil {
				return err
			}
		}
		logger.Debug("query finished")
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs recorded in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cat, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		defer cat.Close()

		runs, err := cat.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}
		fmt.Print(renderRuns(runs))
		return nil
	},
}

// finish prints the summary and turns a failed run into a command error.
func finish(res *report.Result) error {
	fmt.Print(renderSummary(res))
	if res.Status != report.StatusSuccess {
		return res.Err
	}
	return nil
}
