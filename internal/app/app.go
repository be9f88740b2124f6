// Package app 根据配置装配链客户端、签名器、转账流水线、工具注册表
// 以及各个对外入口，供 toolsd 与 toolctl 共用。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"AIWeb3-Agents/internal/api"
	"AIWeb3-Agents/internal/auth"
	"AIWeb3-Agents/internal/config"
	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/events"
	"AIWeb3-Agents/internal/lock"
	"AIWeb3-Agents/internal/mcpserver"
	"AIWeb3-Agents/internal/observability/alerting"
	"AIWeb3-Agents/internal/playbook"
	"AIWeb3-Agents/internal/records"
	"AIWeb3-Agents/internal/signer"
	"AIWeb3-Agents/internal/tools"
	"AIWeb3-Agents/internal/tools/chain"
	"AIWeb3-Agents/internal/transfer"
	"AIWeb3-Agents/internal/web3"
	"AIWeb3-Agents/internal/web3/ethereum"
	"AIWeb3-Agents/pkg/logger"
)

// App 持有装配完成的组件。
type App struct {
	Config   *config.Config
	Client   web3.Client
	Signer   signer.Signer
	Pipeline *transfer.Pipeline
	Registry *tools.Registry
	Records  records.Store
	Runner   *playbook.Runner
	Auth     *auth.Service

	closers []func() error
	log     *slog.Logger
}

// Option 定义可选配置。
type Option func(*options)

type options struct {
	client    web3.Client
	signer    signer.Signer
	publisher events.Publisher
	lookup    playbook.LookupFunc
}

// WithClient 使用已有的链客户端，跳过 RPC 拨号。
func WithClient(c web3.Client) Option {
	return func(o *options) { o.client = c }
}

// WithSigner 使用已有的签名器，跳过私钥解析。
func WithSigner(s signer.Signer) Option {
	return func(o *options) { o.signer = s }
}

// WithPublisher 替换事件发布器，忽略 events.driver。
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithLookup 替换 playbook 变量查找函数。
func WithLookup(lookup playbook.LookupFunc) Option {
	return func(o *options) { o.lookup = lookup }
}

// New 校验配置并装配全部组件。任一步失败都会释放已创建的资源。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if o.client == nil || o.signer == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	spend, err := cfg.SpendPolicy()
	if err != nil {
		return nil, err
	}
	authSvc, err := cfg.AuthService()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Auth: authSvc, log: logger.Named("app")}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "创建数据目录失败")
	}

	a.Signer = o.signer
	if a.Signer == nil {
		s, err := signer.NewKeySigner(cfg.Signer.PrivateKey)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "签名私钥无效")
		}
		a.Signer = s
	}

	a.Client = o.client
	if a.Client == nil {
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			RPCURL:      cfg.Chain.RPCURL,
			DialTimeout: cfg.Chain.DialTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.Client = client
		a.closers = append(a.closers, func() error { client.Close(); return nil })
	}
	if err := a.checkChainID(ctx); err != nil {
		return nil, err
	}

	locker, err := a.buildLocker(ctx)
	if err != nil {
		return nil, err
	}
	publisher := o.publisher
	if publisher == nil {
		if publisher, err = a.buildPublisher(); err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, publisher.Close)

	a.Pipeline, err = transfer.New(a.Client, a.Signer, spend,
		transfer.WithConfig(transfer.Config{
			MinGas:          cfg.Chain.MinGas,
			SimulateTimeout: cfg.Chain.SimulateTimeout,
			ConfirmTimeout:  cfg.Chain.ConfirmTimeout,
			PollInterval:    cfg.Chain.PollInterval,
		}),
		transfer.WithLocker(locker),
		transfer.WithPublisher(publisher),
		transfer.WithAlertDispatcher(a.buildAlerting()),
	)
	if err != nil {
		return nil, err
	}

	if a.Records, err = a.buildRecords(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Records.Close)

	a.Registry = tools.NewRegistry(
		tools.WithObserver(tools.MetricsObserver{}),
		tools.WithRecorder(a.Records),
	)
	chain.Register(a.Registry, chain.Deps{
		Client:       a.Client,
		Pipeline:     a.Pipeline,
		MintGasLimit: cfg.Chain.MintGasLimit,
		LogLookback:  cfg.Chain.LogLookback,
		LogLimit:     cfg.Chain.LogLimit,
	})

	a.Runner = playbook.NewRunner(a.Registry,
		playbook.WithRunsDir(cfg.Runtime.RunsDir),
		playbook.WithLabsDir(cfg.Runtime.LabsDir),
		playbook.WithLookup(o.lookup),
	)

	a.log.Info("组件装配完成",
		slog.String("from", a.Signer.Address().Hex()),
		slog.String("records", cfg.Records.Driver),
		slog.String("lock", cfg.Lock.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.Int("tools", len(a.Registry.Names())),
		slog.Bool("auth", a.Auth.Enabled()),
	)
	ok = true
	return a, nil
}

func (a *App) checkChainID(ctx context.Context) error {
	if a.Config.Chain.ChainID == 0 {
		return nil
	}
	id, err := a.Client.ChainID(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "无法获取节点链 ID")
	}
	if id.Int64() != a.Config.Chain.ChainID {
		return xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("节点链 ID %s 与配置的 chain.chain_id %d 不一致", id, a.Config.Chain.ChainID))
	}
	return nil
}

func (a *App) buildLocker(ctx context.Context) (lock.Locker, error) {
	switch a.Config.Lock.Driver {
	case "redis":
		rc := a.Config.Lock.Redis
		l, err := lock.NewRedis(ctx, lock.RedisConfig{
			Address:   rc.Addr,
			Username:  rc.Username,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
			TTL:       rc.TTL,
			Retry:     rc.Retry,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, l.Close)
		return l, nil
	default:
		return lock.NewLocal(), nil
	}
}

func (a *App) buildPublisher() (events.Publisher, error) {
	ec := a.Config.Events
	switch ec.Driver {
	case "rabbitmq":
		return events.NewRabbitMQ(events.RabbitMQConfig{
			URL:        ec.RabbitMQ.URL,
			Exchange:   ec.RabbitMQ.Exchange,
			RoutingKey: ec.RabbitMQ.RoutingKey,
		})
	case "nats":
		return events.NewNATS(events.NATSConfig{
			URL:     ec.NATS.URL,
			Subject: ec.NATS.Subject,
			Timeout: ec.NATS.Timeout,
		})
	case "memory":
		return events.NewMemory(), nil
	default:
		return events.Nop{}, nil
	}
}

func (a *App) buildAlerting() alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if url := a.Config.Alerting.WebhookURL; url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    url,
			Client: &http.Client{Timeout: a.Config.Alerting.Timeout},
		})
	}
	return alerting.NewFanout(notifiers...)
}

func (a *App) buildRecords(ctx context.Context) (records.Store, error) {
	rc := a.Config.Records
	switch rc.Driver {
	case "mysql":
		return records.NewMySQLStore(ctx, records.MySQLConfig{
			DSN:             rc.DSN,
			MaxOpenConns:    rc.MaxOpenConns,
			MaxIdleConns:    rc.MaxIdleConns,
			ConnMaxLifetime: rc.ConnMaxLifetime,
		})
	case "memory":
		return records.NewMemoryStore(), nil
	default:
		return records.NewFileStore(rc.Path)
	}
}

// HTTPServer 构造 HTTP 门面，mcp.enabled 时同时挂载 MCP 端点。
func (a *App) HTTPServer(version string) *api.Server {
	sc := a.Config.Server
	opts := []api.Option{api.WithAuth(a.Auth), api.WithRecords(a.Records)}
	if a.Config.MCP.Enabled {
		handler := mcpserver.HTTPHandler(a.MCPServer(version), a.Config.MCP.Stateless)
		opts = append(opts, api.WithMCP(a.Config.MCP.Path, handler))
	}
	return api.NewServer(api.Config{
		Address:           sc.Address,
		ReadTimeout:       sc.ReadTimeout,
		WriteTimeout:      sc.WriteTimeout,
		ShutdownTimeout:   sc.ShutdownTimeout,
		RequestsPerSecond: sc.RateLimit.RequestsPerSecond,
		Burst:             sc.RateLimit.Burst,
	}, a.Registry, opts...)
}

// MCPServer 构造暴露全部工具的 MCP 服务。
func (a *App) MCPServer(version string) *mcp.Server {
	return mcpserver.New(a.Registry, version)
}

// Close 按创建的逆序释放资源。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// LoggerConfig 将配置转换为 pkg/logger 的参数。
func LoggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		},
	}
}
