// toolctl 是工具注册表的命令行入口。默认在本地装配全部组件，
// 指定 --server 时改为通过 HTTP 服务调用。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"AIWeb3-Agents/internal/config"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newApp().RunContext(ctx, os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "toolctl: %v\n", err)
	}
	stop()
	os.Exit(exitCode(err))
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "toolctl",
		Usage:   "调用链上工具、执行 playbook 与检查环境",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
				EnvVars: []string{"AGENT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "工具服务地址，例如 http://127.0.0.1:8000；为空时在本地执行",
				EnvVars: []string{"AGENT_SERVER"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "启动前读取的 .env 文件，已设置的环境变量优先",
				Value: config.DotEnvPath,
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "访问远程工具服务使用的 API Key",
				EnvVars: []string{"AGENT_API_KEY"},
			},
		},
		Before: func(c *cli.Context) error {
			return config.LoadDotEnv(c.String("env-file"))
		},
		Commands: []*cli.Command{
			callCommand(),
			balanceCommand(),
			simulateCommand(),
			sendCommand(),
			playbookCommand(),
			toolsCommand(),
			historyCommand(),
			checkEnvCommand(),
			mcpCommand(),
		},
		// 错误统一由 main 根据错误码映射退出码。
		ExitErrHandler: func(*cli.Context, error) {},
	}
}
