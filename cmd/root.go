// Package cmd 提供 ScopeSentry 控制面的命令行实现
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/config"
)

// Version 是当前版本号
const Version = "1.8.0"

var (
	// 全局配置
	cfgFile string
	debug   bool
	memory  bool
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "scopesentry",
	Short: "分布式安全扫描控制面",
	Long: `scopesentry 负责扫描节点的注册与存活检测、任务分发、周期调度、
进度统计以及扫描结果去重。扫描本身由节点代理执行。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVar(&memory, "memory", false, "使用内存存储运行（开发模式）")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig 按 默认值 < 配置文件 < 环境变量 < 命令行 的顺序加载配置
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}
	if debug {
		loader = loader.WithCmdArgs(map[string]string{"log.level": "debug"})
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}
