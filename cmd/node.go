package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/timeutil"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

// nodeCmd 是 node 子命令
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "管理扫描节点",
}

// nodeListCmd 列出节点
var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已注册节点及其状态",
	Long:  `列出已注册节点。心跳超时的在线节点会在本次读取时被标记为超时。`,
	RunE:  runNodeList,
}

// nodeRestartCmd 重启节点
var nodeRestartCmd = &cobra.Command{
	Use:     "restart <name>",
	Short:   "向节点发送重启指令",
	Example: `  scopesentry node restart node-1`,
	Args:    cobra.ExactArgs(1),
	RunE:    runNodeRestart,
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeRestartCmd)
}

func runNodeList(cmd *cobra.Command, args []string) error {
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

	nodes, err := c.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("获取节点列表失败: %w", err)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tVERSION\tRUNNING\tFINISHED\tUPDATED")
	for _, n := range nodes {
		updated := "-"
		if !n.LastHeartbeat.IsZero() {
			updated = timeutil.Format(n.LastHeartbeat, c.loc)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", n.Name, n.State, n.Version, n.Running, n.Finished, updated)
	}
	return w.Flush()
}

func runNodeRestart(cmd *cobra.Command, args []string) error {
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

	if err := c.channel.Send(ctx, args[0], types.CommandRestart, ""); err != nil {
		return fmt.Errorf("发送重启指令失败: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "已向 %s 发送重启指令\n", args[0])
	return nil
}
