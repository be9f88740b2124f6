package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/auth"
	"AIWeb3-Agents/internal/policy"
)

// DefaultPath 为未指定配置文件时使用的路径。
const DefaultPath = "configs/agent.yaml"

// PathEnv 指定配置文件路径的环境变量。
const PathEnv = "AGENT_CONFIG"

// Config 描述服务启动所需的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Chain    ChainConfig    `yaml:"chain"`
	Signer   SignerConfig   `yaml:"signer"`
	Policies PoliciesConfig `yaml:"policies"`
	Records  RecordsConfig  `yaml:"records"`
	Lock     LockConfig     `yaml:"lock"`
	Events   EventsConfig   `yaml:"events"`
	Alerting AlertingConfig `yaml:"alerting"`
	Logging  LoggingConfig  `yaml:"logging"`
	MCP      MCPConfig      `yaml:"mcp"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// ServerConfig 控制 HTTP 门面的监听与限流参数。
type ServerConfig struct {
	Address         string          `yaml:"address"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Auth            AuthConfig      `yaml:"auth"`
}

// AuthConfig 列出允许访问 HTTP 门面的 API Key，为空时不做认证。
type AuthConfig struct {
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig 为单个 API Key。key 与 key_sha256 二选一，permissions 为空表示全部权限。
type APIKeyConfig struct {
	Name        string   `yaml:"name"`
	Key         string   `yaml:"key"`
	KeySHA256   string   `yaml:"key_sha256"`
	Permissions []string `yaml:"permissions"`
}

// RateLimitConfig 为 POST 路由的令牌桶参数，RequestsPerSecond 为 0 表示不限流。
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ChainConfig 描述 EVM 节点连接与交易确认参数。
type ChainConfig struct {
	RPCURL          string        `yaml:"rpc_url"`
	ChainID         int64         `yaml:"chain_id"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	SimulateTimeout time.Duration `yaml:"simulate_timeout"`
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MinGas          uint64        `yaml:"min_gas"`
	MintGasLimit    uint64        `yaml:"mint_gas_limit"`
	LogLookback     uint64        `yaml:"log_lookback"`
	LogLimit        int           `yaml:"log_limit"`
}

// SignerConfig 保存签名凭证。私钥只能来自配置或环境变量，不会被记录到日志。
type SignerConfig struct {
	PrivateKey string `yaml:"private_key"`
}

// PoliciesConfig 按命名空间组织策略，目前只有 spend。
type PoliciesConfig struct {
	Spend SpendPolicyConfig `yaml:"spend"`
}

// SpendPolicyConfig 是支出策略的原始配置，金额单位为 wei。
type SpendPolicyConfig struct {
	MaxValue  string   `yaml:"max_value"`
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// RecordsConfig 决定工具调用结果记录的存储后端。
type RecordsConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LockConfig 选择每个签名凭证的提交锁实现。
type LockConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig 为分布式锁所用的 Redis 连接参数。
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Retry     time.Duration `yaml:"retry"`
}

// EventsConfig 选择已确认转账事件的发布渠道。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	NATS     NATSConfig     `yaml:"nats"`
}

// RabbitMQConfig 描述 RabbitMQ 发布参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// NATSConfig 描述 NATS 发布参数。
type NATSConfig struct {
	URL     string        `yaml:"url"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

// AlertingConfig 配置告警通知，WebhookURL 为空时只写日志。
type AlertingConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Format  string      `yaml:"format"`
	Outputs []string    `yaml:"outputs"`
	Audit   AuditConfig `yaml:"audit"`
}

// AuditConfig 为审计日志的滚动参数。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MCPConfig 控制是否在 HTTP 门面上挂载 MCP 端点。
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Stateless bool   `yaml:"stateless"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
	RunsDir string `yaml:"runs_dir"`
	LabsDir string `yaml:"labs_dir"`
}

// overrides 列出允许通过环境变量覆盖的字段。指针为 nil 表示未设置。
type overrides struct {
	RPCURL     *string  `env:"EVM_RPC_URL"`
	PrivateKey *string  `env:"PRIVATE_KEY"`
	MaxValue   *string  `env:"POLICY_MAX_VALUE"`
	Allowlist  []string `env:"POLICY_ALLOWLIST" envSeparator:","`
	Denylist   []string `env:"POLICY_DENYLIST" envSeparator:","`
	LogLevel   *string  `env:"AGENT_LOG_LEVEL"`
	ServerAddr *string  `env:"AGENT_SERVER_ADDR"`
	APIKey     *string  `env:"AGENT_API_KEY"`
}

// DotEnvPath 为默认读取的 .env 文件。
const DotEnvPath = ".env"

// LoadDotEnv 将 .env 文件中的变量写入进程环境，已存在的变量不会被覆盖。
// 文件不存在时什么也不做。
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("读取 %s 失败", path))
	}
	return nil
}

// ResolvePath 按 参数 → AGENT_CONFIG → 默认值 的顺序确定配置文件路径。
func ResolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if fromEnv := strings.TrimSpace(os.Getenv(PathEnv)); fromEnv != "" {
		return fromEnv
	}
	return DefaultPath
}

// Load 解析 YAML 配置文件并应用进程环境变量覆盖。
// 配置文件承载支出策略，文件不存在视为配置错误。
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv 与 Load 相同，但从给定的 map 读取环境变量，environ 为 nil 时读取进程环境。
func LoadWithEnv(path string, environ map[string]string) (*Config, error) {
	path = ResolvePath(path)

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("解析配置文件 %s 失败", path))
		}
	case errors.Is(err, os.ErrNotExist):
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("配置文件 %s 不存在", path))
	default:
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取配置文件失败")
	}

	if err := cfg.applyEnv(environ); err != nil {
		return nil, err
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

func (c *Config) applyEnv(environ map[string]string) error {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	o, err := env.ParseAsWithOptions[overrides](opts)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "解析环境变量失败")
	}

	if o.RPCURL != nil {
		c.Chain.RPCURL = *o.RPCURL
	}
	if o.PrivateKey != nil {
		c.Signer.PrivateKey = *o.PrivateKey
	}
	if o.MaxValue != nil {
		c.Policies.Spend.MaxValue = *o.MaxValue
	}
	if o.Allowlist != nil {
		c.Policies.Spend.Allowlist = o.Allowlist
	}
	if o.Denylist != nil {
		c.Policies.Spend.Denylist = o.Denylist
	}
	if o.LogLevel != nil {
		c.Logging.Level = *o.LogLevel
	}
	if o.ServerAddr != nil {
		c.Server.Address = *o.ServerAddr
	}
	if o.APIKey != nil && *o.APIKey != "" {
		c.Server.Auth.APIKeys = append(c.Server.Auth.APIKeys, APIKeyConfig{Name: "env", Key: *o.APIKey})
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 3 * time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RequestsPerSecond) + 1
	}

	if c.Chain.DialTimeout <= 0 {
		c.Chain.DialTimeout = 10 * time.Second
	}
	if c.Chain.SimulateTimeout <= 0 {
		c.Chain.SimulateTimeout = 30 * time.Second
	}
	if c.Chain.ConfirmTimeout <= 0 {
		c.Chain.ConfirmTimeout = 120 * time.Second
	}
	if c.Chain.PollInterval <= 0 {
		c.Chain.PollInterval = time.Second
	}
	if c.Chain.MinGas == 0 {
		c.Chain.MinGas = 21000
	}
	if c.Chain.MintGasLimit == 0 {
		c.Chain.MintGasLimit = 400000
	}
	if c.Chain.LogLookback == 0 {
		c.Chain.LogLookback = 5000
	}
	if c.Chain.LogLimit <= 0 {
		c.Chain.LogLimit = 50
	}

	c.Runtime.DataDir = resolveDir(baseDir, c.Runtime.DataDir, "data")
	c.Runtime.RunsDir = resolveDir(baseDir, c.Runtime.RunsDir, "runs")
	c.Runtime.LabsDir = resolveDir(baseDir, c.Runtime.LabsDir, "labs")

	if c.Records.Driver == "" {
		c.Records.Driver = "file"
	}
	if c.Records.Driver == "file" {
		if c.Records.Path == "" {
			c.Records.Path = filepath.Join(c.Runtime.DataDir, "tool_calls.jsonl")
		} else if !filepath.IsAbs(c.Records.Path) {
			c.Records.Path = filepath.Join(baseDir, c.Records.Path)
		}
	}

	if c.Lock.Driver == "" {
		c.Lock.Driver = "local"
	}
	if c.Lock.Redis.KeyPrefix == "" {
		c.Lock.Redis.KeyPrefix = "aiweb3:signer-lock:"
	}
	if c.Lock.Redis.TTL <= 0 {
		c.Lock.Redis.TTL = 30 * time.Second
	}
	if c.Lock.Redis.Retry <= 0 {
		c.Lock.Redis.Retry = 50 * time.Millisecond
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Events.RabbitMQ.RoutingKey == "" {
		c.Events.RabbitMQ.RoutingKey = "transfers.confirmed"
	}
	if c.Events.NATS.Subject == "" {
		c.Events.NATS.Subject = "transfers.confirmed"
	}
	if c.Events.NATS.Timeout <= 0 {
		c.Events.NATS.Timeout = 5 * time.Second
	}

	if c.Alerting.Timeout <= 0 {
		c.Alerting.Timeout = 5 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
		} else if !filepath.IsAbs(c.Logging.Audit.Path) {
			c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
		}
	}

	if c.MCP.Path == "" {
		c.MCP.Path = "/mcp"
	}
}

func resolveDir(baseDir, value, fallback string) string {
	if value == "" {
		return filepath.Join(baseDir, fallback)
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

// Validate 检查链访问与策略配置，缺失或非法时返回 CONFIGURATION_ERROR。
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		problems = append(problems, "缺少 RPC 地址 (chain.rpc_url / EVM_RPC_URL)")
	}
	if strings.TrimSpace(c.Signer.PrivateKey) == "" {
		problems = append(problems, "缺少签名私钥 (signer.private_key / PRIVATE_KEY)")
	}
	if _, err := c.SpendPolicy(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.AuthService(); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Records.Driver {
	case "memory", "file":
	case "mysql":
		if c.Records.DSN == "" {
			problems = append(problems, "records.driver=mysql 时必须提供 records.dsn")
		}
	default:
		problems = append(problems, fmt.Sprintf("不支持的 records.driver: %s", c.Records.Driver))
	}
	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			problems = append(problems, "lock.driver=redis 时必须提供 lock.redis.addr")
		}
	default:
		problems = append(problems, fmt.Sprintf("不支持的 lock.driver: %s", c.Lock.Driver))
	}
	switch c.Events.Driver {
	case "none", "memory":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			problems = append(problems, "events.driver=rabbitmq 时必须提供 events.rabbitmq.url")
		}
	case "nats":
		if c.Events.NATS.URL == "" {
			problems = append(problems, "events.driver=nats 时必须提供 events.nats.url")
		}
	default:
		problems = append(problems, fmt.Sprintf("不支持的 events.driver: %s", c.Events.Driver))
	}
	if len(problems) > 0 {
		return xerrors.New(xerrors.CodeConfiguration, "配置无效: "+strings.Join(problems, "; "))
	}
	return nil
}

// SpendPolicy 根据配置构造支出策略。
func (c *Config) SpendPolicy() (*policy.SpendPolicy, error) {
	spend := c.Policies.Spend
	var maxValue *uint256.Int
	if strings.TrimSpace(spend.MaxValue) != "" {
		v, err := policy.ParseAmount(spend.MaxValue)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "policies.spend.max_value 无效")
		}
		maxValue = v
	}
	allow, err := policy.ParseAddresses(spend.Allowlist)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "policies.spend.allowlist 无效")
	}
	deny, err := policy.ParseAddresses(spend.Denylist)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "policies.spend.denylist 无效")
	}
	return policy.New(maxValue, allow, deny), nil
}

// AuthService 根据 server.auth 构造 API Key 认证服务。
func (c *Config) AuthService() (*auth.Service, error) {
	keys := make([]auth.KeyConfig, 0, len(c.Server.Auth.APIKeys))
	for _, k := range c.Server.Auth.APIKeys {
		keys = append(keys, auth.KeyConfig{
			Name:        k.Name,
			Key:         k.Key,
			SHA256:      k.KeySHA256,
			Permissions: k.Permissions,
		})
	}
	svc, err := auth.NewService(keys)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "server.auth.api_keys 无效")
	}
	return svc, nil
}
