package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"AIWeb3-Agents/internal/app"
	"AIWeb3-Agents/internal/config"
	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/pkg/logger"
)

var version = "dev"

// exitConfig 与 sysexits.h 的 EX_CONFIG 一致。
const exitConfig = 78

// main 是工具服务守护进程的入口。
func main() {
	configPath := flag.String("config", "", "配置文件路径，默认读取 AGENT_CONFIG 或 configs/agent.yaml")
	envFile := flag.String("env-file", config.DotEnvPath, "启动前读取的 .env 文件，已设置的环境变量优先")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "toolsd 运行失败: %v\n", err)
		if xerrors.CodeOf(err) == xerrors.CodeConfiguration {
			os.Exit(exitConfig)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(app.LoggerConfig(cfg.Logging)); err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "初始化日志失败")
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.L().Warn("释放资源失败", slog.Any("error", err))
		}
	}()

	logger.L().Info("toolsd 启动",
		slog.String("version", version),
		slog.String("address", cfg.Server.Address),
		slog.Bool("mcp", cfg.MCP.Enabled),
	)
	if err := a.HTTPServer(version).Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("toolsd 已停止")
	return nil
}
