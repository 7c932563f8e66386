package main

import (
	"github.com/spf13/cobra"

	"OpenBoBS/internal/config"
	"OpenBoBS/pkg/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "openbobsd",
		Short:         "OpenBoBS 自适应多智能体编排服务",
		Long:          "openbobsd 启动编排服务的 HTTP 接口，也可以直接在终端提交任务、回放历史或查看自学习状态。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件路径，默认读取 $"+config.EnvConfigPath+" 或 "+config.DefaultPath)

	rootCmd.AddCommand(
		newServeCmd(opts),
		newSubmitCmd(opts),
		newHistoryCmd(opts),
		newReplayCmd(opts),
		newMemoryCmd(opts),
		newAgentsCmd(opts),
		newPlaybookCmd(opts),
	)
	return rootCmd
}

// loadConfig 加载配置并初始化全局日志。
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Path(o.configPath))
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}
