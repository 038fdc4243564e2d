package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/dedup"
)

// dedupCmd 执行一次结果去重
var dedupCmd = &cobra.Command{
	Use:   "dedup [collection...]",
	Short: "执行一次结果去重",
	Long: `对扫描结果集合执行一次标记-清除去重。不指定集合时按去重配置中启用的集合执行。

支持的集合: asset, subdomain, DirScanResult, SubdomainTakerResult, UrlScan, crawler, vulnerability`,
	Example: `  scopesentry dedup
  scopesentry dedup asset subdomain`,
	RunE: runDedup,
}

func init() {
	rootCmd.AddCommand(dedupCmd)
}

func runDedup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	c, err := newComponents(ctx, cfg, memory)
	if err != nil {
		return err
	}
	defer c.Close()

	var sums []dedup.Summary
	if len(args) == 0 {
		sums, err = c.dedup.RunConfigured(ctx)
	} else {
		sums, err = c.dedup.Run(ctx, args)
	}
	printSummaries(cmd, sums)
	if err != nil {
		return fmt.Errorf("去重失败: %w", err)
	}
	return nil
}

func printSummaries(cmd *cobra.Command, sums []dedup.Summary) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RULE\tCOLLECTION\tSTAMPED\tLATEST\tDELETED")
	for _, s := range sums {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", s.Rule, s.Collection, s.Stamped, s.MarkedLatest, s.Deleted)
	}
	_ = w.Flush()
}
