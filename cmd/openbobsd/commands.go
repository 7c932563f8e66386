package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"OpenBoBS/internal/orchestrator"
	"OpenBoBS/pkg/logger"
)

// withApp 加载配置并组装组件，执行 fn 后释放存储。
func withApp(root *rootOptions, cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	a, err := wireApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func writeResult(w io.Writer, res orchestrator.Result, asJSON bool) error {
	if asJSON {
		return writeJSON(w, res)
	}
	_, err := fmt.Fprintf(w, "[%s]\n%s\n", res.Source, res.Body)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type submitOptions struct {
	agents   []string
	cycles   int
	offline  bool
	progress bool
	asJSON   bool
}

// apply 把命令行参数转换为本次会话的设置与选择。
func (o submitOptions) apply(a *app) error {
	update := orchestrator.SettingsUpdate{}
	if o.cycles > 0 {
		enabled := o.cycles > 1
		update.Autonomy = &enabled
		update.Cycles = &o.cycles
	}
	if o.offline {
		delegate := false
		update.Delegate = &delegate
	}
	if _, err := a.orch.UpdateSettings(update); err != nil {
		return err
	}
	if len(o.agents) == 0 {
		return nil
	}
	a.orch.ClearAll()
	for _, id := range o.agents {
		a.orch.ToggleAgent(strings.TrimSpace(id), true)
	}
	return nil
}

func newSubmitCmd(root *rootOptions) *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "submit <task>",
		Short: "提交一条任务或斜杠命令",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, cmd, func(a *app) error {
				if err := opts.apply(a); err != nil {
					return err
				}
				var observer orchestrator.Observer
				if opts.progress {
					observer = orchestrator.ObserverFunc(func(e orchestrator.Event) {
						fmt.Fprintf(cmd.ErrOrStderr(), "· %s %s\n", e.Stage, progressDetail(e))
					})
				}
				res, err := a.orch.SubmitTaskWithObserver(cmd.Context(), strings.Join(args, " "), observer)
				if err != nil {
					return err
				}
				return writeResult(cmd.OutOrStdout(), res, opts.asJSON)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.agents, "agents", nil, "只启用指定 ID 的智能体，逗号分隔")
	cmd.Flags().IntVar(&opts.cycles, "cycles", 0, "循环次数，大于 1 时开启自主模式")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "不调用生成服务，只使用本地合成")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "在标准错误输出进度事件")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func progressDetail(e orchestrator.Event) string {
	switch e.Stage {
	case orchestrator.StageAgentComposition:
		return fmt.Sprintf("%s × %d", strings.Join(e.Agents, ", "), e.Total)
	case orchestrator.StageExecution:
		return fmt.Sprintf("%d/%d (%s)", e.Cycle, e.Total, e.Source)
	default:
		return e.Detail
	}
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "列出最近的任务历史，最新的在前",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(root, cmd, func(a *app) error {
				entries := a.orch.HistoryEntries()
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				for i, e := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s  %-8s  %s\n", i, e.At.Local().Format("2006-01-02 15:04:05"), e.Mode, e.Task)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "replay <index>",
		Short: "重新运行指定位置的历史任务，0 为最新",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("index 必须是整数: %w", err)
			}
			return withApp(root, cmd, func(a *app) error {
				res, err := a.orch.Replay(cmd.Context(), index)
				if err != nil {
					return err
				}
				return writeResult(cmd.OutOrStdout(), res, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func newMemoryCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "查看自学习状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(root, cmd, func(a *app) error {
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), a.orch.MemoryState())
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.orch.MemorySummary())
				fmt.Fprintln(cmd.OutOrStdout(), a.orch.MemoryPolicy())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func newAgentsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "列出已注册的智能体及其默认启用状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(root, cmd, func(a *app) error {
				views := a.orch.Agents()
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), views)
				}
				for _, v := range views {
					mark := " "
					if v.Selected {
						mark = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-12s %s\n", mark, v.ID, v.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func newPlaybookCmd(root *rootOptions) *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "playbook [id]",
		Short: "列出或运行预置剧本",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, cmd, func(a *app) error {
				if len(args) == 0 {
					for _, p := range a.catalog.Playbooks {
						fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", p.ID, p.Label)
					}
					return nil
				}
				if err := opts.apply(a); err != nil {
					return err
				}
				res, err := a.orch.RunPlaybook(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeResult(cmd.OutOrStdout(), res, opts.asJSON)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.agents, "agents", nil, "只启用指定 ID 的智能体，逗号分隔")
	cmd.Flags().IntVar(&opts.cycles, "cycles", 0, "循环次数，大于 1 时开启自主模式")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "不调用生成服务，只使用本地合成")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "以 JSON 输出")
	return cmd
}
