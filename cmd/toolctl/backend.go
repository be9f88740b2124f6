package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"AIWeb3-Agents/internal/app"
	"AIWeb3-Agents/internal/config"
	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/records"
	"AIWeb3-Agents/internal/tools"
	"AIWeb3-Agents/pkg/logger"
	"AIWeb3-Agents/sdk/go/toolsclient"
)

// backend 是命令执行所需的最小能力，本地注册表与远程服务都实现它。
type backend interface {
	Dispatch(ctx context.Context, tool string, args map[string]any) (any, error)
	Tools(ctx context.Context) ([]tools.Descriptor, error)
	History(ctx context.Context, limit int) ([]records.Record, error)
	Close() error
}

func openBackend(c *cli.Context) (backend, error) {
	if server := c.String("server"); server != "" {
		if _, err := loadConfig(c); err != nil {
			return nil, err
		}
		client, err := toolsclient.NewClient(server, nil)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "--server 地址无效")
		}
		client.SetAPIKey(c.String("api-key"))
		return &remoteBackend{client: client}, nil
	}
	a, err := openApp(c)
	if err != nil {
		return nil, err
	}
	return &localBackend{app: a}, nil
}

func openApp(c *cli.Context) (*app.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return app.New(c.Context, cfg)
}

// loadConfig 读取配置并初始化日志。命令行的标准输出只留给结果，日志默认写到 stderr。
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logCfg := app.LoggerConfig(cfg.Logging)
	if len(logCfg.OutputPaths) == 0 {
		logCfg.OutputPaths = []string{"stderr"}
	}
	if err := logger.Init(logCfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "初始化日志失败")
	}
	return cfg, nil
}

type localBackend struct {
	app *app.App
}

func (b *localBackend) Dispatch(ctx context.Context, tool string, args map[string]any) (any, error) {
	return b.app.Registry.Dispatch(ctx, tool, args)
}

func (b *localBackend) Tools(context.Context) ([]tools.Descriptor, error) {
	names := b.app.Registry.Names()
	out := make([]tools.Descriptor, 0, len(names))
	for _, name := range names {
		desc, _ := b.app.Registry.Describe(name)
		out = append(out, desc)
	}
	return out, nil
}

func (b *localBackend) History(ctx context.Context, limit int) ([]records.Record, error) {
	return b.app.Records.ListLatest(ctx, limit)
}

func (b *localBackend) Close() error {
	err := b.app.Close()
	if syncErr := logger.Sync(); syncErr != nil {
		logger.L().Warn("刷新日志失败", slog.Any("error", syncErr))
	}
	return err
}

type remoteBackend struct {
	client *toolsclient.Client
}

func (b *remoteBackend) Dispatch(ctx context.Context, tool string, args map[string]any) (any, error) {
	raw, err := b.client.Call(ctx, tool, args)
	if err != nil {
		return nil, fromAPIError(err)
	}
	return raw, nil
}

func (b *remoteBackend) Tools(ctx context.Context) ([]tools.Descriptor, error) {
	infos, err := b.client.Tools(ctx)
	if err != nil {
		return nil, fromAPIError(err)
	}
	out := make([]tools.Descriptor, 0, len(infos))
	for _, info := range infos {
		out = append(out, tools.Descriptor{
			Name:        info.Name,
			Description: info.Description,
			Schema:      info.InputSchema,
			AliasOf:     info.AliasOf,
		})
	}
	return out, nil
}

func (b *remoteBackend) History(ctx context.Context, limit int) ([]records.Record, error) {
	recs, err := b.client.Records(ctx, limit)
	if err != nil {
		return nil, fromAPIError(err)
	}
	out := make([]records.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, records.Record{
			ID:         r.ID,
			Tool:       r.Tool,
			Args:       r.Args,
			Output:     r.Output,
			ErrorCode:  r.ErrorCode,
			Error:      r.Error,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		})
	}
	return out, nil
}

func (b *remoteBackend) Close() error { return nil }

// fromAPIError 将服务端返回的错误码还原为本地错误，使退出码在两种模式下一致。
func fromAPIError(err error) error {
	var apiErr *toolsclient.APIError
	if !errors.As(err, &apiErr) || apiErr.Code == "" {
		return err
	}
	opts := []xerrors.Option{}
	if apiErr.Reason != "" {
		opts = append(opts, xerrors.WithMetadata("reason", apiErr.Reason))
	}
	return xerrors.Wrap(xerrors.Code(apiErr.Code), err, apiErr.Message, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			v = decoded
		}
	}
	return enc.Encode(v)
}
