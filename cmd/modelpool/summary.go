package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jrepp/prism-modelpool/pkg/launcher"
)

var summaryCmd = &cobra.Command{
	Use:   "summary [launch-id]",
	Short: "Show stored launch summaries",
	Long: `Show launch summaries persisted by the summary store. Without an
argument the most recent launch IDs are listed; with a launch ID its full
report is printed.

Example:
  modelpool summary --config modelpool.yaml
  modelpool summary 1f0c7d0e-... --format json
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().Int("limit", 10, "Number of recent launches to list")
	summaryCmd.Flags().String("format", launcher.FormatText, "Report format (text, json, yaml)")
}

func runSummary(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}

	store, err := launcher.NewSummaryStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("summary store: %w", err)
	}
	if store == nil {
		return errors.New("no summary store configured (set store.backend)")
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		limit, _ := cmd.Flags().GetInt("limit")
		ids, err := store.Recent(ctx, limit)
		if err != nil {
			return fmt.Errorf("list launches: %w", err)
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	s, err := store.Load(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load launch %s: %w", args[0], err)
	}
	format, _ := cmd.Flags().GetString("format")
	return launcher.WriteReport(out, s, format)
}
