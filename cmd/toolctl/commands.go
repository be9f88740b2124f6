package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"AIWeb3-Agents/internal/config"
	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/mcpserver"
	"AIWeb3-Agents/internal/playbook"
	"AIWeb3-Agents/internal/records"
	"AIWeb3-Agents/internal/tools/chain"
)

func withBackend(fn func(c *cli.Context, b backend) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		b, err := openBackend(c)
		if err != nil {
			return err
		}
		defer b.Close()
		return fn(c, b)
	}
}

func dispatchAndPrint(c *cli.Context, b backend, tool string, args map[string]any) error {
	out, err := b.Dispatch(c.Context, tool, args)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("%s 需要 %d 个参数: %s", c.Command.Name, n, c.Command.ArgsUsage))
	}
	return nil
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "按名称调用任意已注册工具",
		ArgsUsage: "<tool> [json-args]",
		Action: withBackend(func(c *cli.Context, b backend) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				return xerrors.New(xerrors.CodeInvalidArgument, "用法: toolctl call <tool> [json-args]")
			}
			args, err := parseArgsJSON(c.Args().Get(1))
			if err != nil {
				return err
			}
			return dispatchAndPrint(c, b, c.Args().First(), args)
		}),
	}
}

// parseArgsJSON 解析命令行上的 JSON 参数对象，空字符串视为空对象。
func parseArgsJSON(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "参数必须是 JSON 对象")
	}
	return args, nil
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "查询地址余额（wei），省略地址时查询签名账户",
		ArgsUsage: "[address]",
		Action: withBackend(func(c *cli.Context, b backend) error {
			args := map[string]any{}
			if c.NArg() > 0 {
				args["address"] = c.Args().First()
			}
			return dispatchAndPrint(c, b, chain.GetBalance, args)
		}),
	}
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Usage:     "估算一笔原生币转账的 gas，不发送交易",
		ArgsUsage: "<to> <value-wei>",
		Action: withBackend(func(c *cli.Context, b backend) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			return dispatchAndPrint(c, b, chain.SimulateTransfer, map[string]any{
				"to":    c.Args().Get(0),
				"value": c.Args().Get(1),
			})
		}),
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "经策略检查与模拟后发送原生币转账并等待回执",
		ArgsUsage: "<to> <value-wei>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "max-value", Usage: "本次请求替换策略中的 max_value（wei）"},
		},
		Action: withBackend(func(c *cli.Context, b backend) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			args := map[string]any{
				"to":    c.Args().Get(0),
				"value": c.Args().Get(1),
			}
			if c.IsSet("max-value") {
				args["max_value"] = c.String("max-value")
			}
			return dispatchAndPrint(c, b, chain.SendTransfer, args)
		}),
	}
}

func playbookCommand() *cli.Command {
	return &cli.Command{
		Name:  "playbook",
		Usage: "执行 YAML playbook",
		Subcommands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "顺序执行 playbook 中的步骤，结果写入 runs/ 或 labs/<lab>/runs/",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lab", Usage: "实验名称，结果写入 labs/<lab>/runs"},
				},
				Action: withBackend(runPlaybook),
			},
		},
	}
}

func runPlaybook(c *cli.Context, b backend) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	pb, err := playbook.Load(c.Args().First())
	if err != nil {
		return err
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	runner := playbook.NewRunner(b,
		playbook.WithRunsDir(cfg.Runtime.RunsDir),
		playbook.WithLabsDir(cfg.Runtime.LabsDir),
	)

	report, runErr := runner.Run(c.Context, pb)
	for i, step := range report.Steps {
		status := "ok"
		if step.Error != "" {
			status = step.Code
		}
		fmt.Fprintf(os.Stderr, "[%d] %s: %s\n", i+1, step.Tool, status)
	}
	if len(report.Steps) > 0 {
		path, err := runner.Save(report, c.String("lab"))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "结果已保存到 %s\n", path)
	}
	return runErr
}

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "列出已注册的工具",
		Action: withBackend(func(c *cli.Context, b backend) error {
			descs, err := b.Tools(c.Context)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, d := range descs {
				desc := d.Description
				if d.AliasOf != "" {
					desc = "alias of " + d.AliasOf
				}
				fmt.Fprintf(w, "%s\t%s\n", d.Name, desc)
			}
			return w.Flush()
		}),
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "列出最近的工具调用记录",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "返回的记录条数"},
			&cli.BoolFlag{Name: "json", Usage: "以 JSON 输出完整记录"},
		},
		Action: withBackend(func(c *cli.Context, b backend) error {
			recs, err := b.History(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(recs)
			}
			return writeHistory(os.Stdout, recs)
		}),
	}
}

func writeHistory(out io.Writer, recs []records.Record) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range recs {
		status := "ok"
		if r.ErrorCode != "" {
			status = r.ErrorCode
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.StartedAt.UTC().Format(time.RFC3339), r.Tool, status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return w.Flush()
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "在 stdio 上提供 MCP 服务",
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()
			return mcpserver.RunStdio(c.Context, a.MCPServer(version))
		},
	}
}
