package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coffersTech/nanotrace/internal/config"
	"github.com/coffersTech/nanotrace/internal/logging"
	"github.com/coffersTech/nanotrace/internal/telemetry"
)

var (
	configFile string
	verbose    bool
	jsonLogs   bool

	cfg      *config.Config
	logger   *zap.Logger
	shutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "nanotrace",
	Short: "Turn ML compiler trace logs into browsable reports",
	Long: `nanotrace parses structured compiler trace logs into intermediate
streams, renders them into a static HTML report and, for distributed
runs, compares the captures of every rank.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile, flagOverrides(cmd))
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Log.Verbose, cfg.Log.JSON)
		if err != nil {
			return err
		}
		shutdown, err = telemetry.Init(cfg.Telemetry.Enabled, os.Stderr, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdown != nil {
			_ = shutdown(context.Background())
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// flagOverrides maps flags the user set explicitly onto config keys so they
// win over the file and environment.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	if cmd.Flags().Changed("verbose") {
		out["log.verbose"] = verbose
	}
	if cmd.Flags().Changed("json-logs") {
		out["log.json"] = jsonLogs
	}
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "bool":
			v, _ := cmd.Flags().GetBool(flag)
			out[key] = v
		case "int":
			v, _ := cmd.Flags().GetInt(flag)
			out[key] = v
		default:
			out[key] = f.Value.String()
		}
	}
	return out
}

// flagKeys maps render flags to config keys.
var flagKeys = map[string]string{
	"plain-text":         "plain_text",
	"custom-header-html": "custom_header_html",
	"export":             "export_mode",
	"strict":             "strict",
	"materialize-lazy":   "materialize_lazy",
	"compress-streams":   "compress_streams",
	"render-workers":     "render_workers",
	"rank-workers":       "rank_workers",
	"on-module-failure":  "module_failure_policy",
	"keep-intermediate":  "keep_intermediate",
	"catalog":            "catalog.enabled",
	"catalog-path":       "catalog.path",
	"trace-spans":        "telemetry.enabled",
}

func addRenderFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("plain-text", false, "emit generated code as plain text instead of HTML")
	f.String("custom-header-html", "", "HTML injected verbatim at the top of every page")
	f.Bool("export", false, "render the export analysis instead of the default report")
	f.Bool("strict", false, "fail on the first malformed line or unknown entry type")
	f.Bool("materialize-lazy", true, "write lazy artifacts in full instead of placeholders")
	f.Bool("compress-streams", false, "zstd-compress intermediate streams")
	f.Int("render-workers", 0, "concurrent module renders (0 = one per module)")
	f.String("on-module-failure", "fatal", "module failure policy: fatal or skip")
	f.Bool("keep-intermediate", false, "copy intermediate streams into the report")
	f.Bool("catalog", false, "record the run in the SQLite catalog")
	f.String("catalog-path", "", "catalog database path")
	f.Bool("trace-spans", false, "print OpenTelemetry spans for each stage to stderr")
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default nanotrace.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log as JSON")

	addRenderFlags(parseCmd)
	parseCmd.Flags().StringP("out", "o", "tl_out", "report directory")

	addRenderFlags(multiRankCmd)
	multiRankCmd.Flags().StringP("out", "o", "tl_out", "report directory")
	multiRankCmd.Flags().Int("rank-workers", 0, "concurrent rank ingestions (0 = one per rank)")

	runsCmd.Flags().Int("limit", 20, "number of runs to list")
	runsCmd.Flags().String("catalog-path", "", "catalog database path")

	rootCmd.AddCommand(parseCmd, multiRankCmd, queryCmd, runsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
