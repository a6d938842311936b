package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// 环境变量名称。敏感字段不建议写入配置文件。
const (
	EnvConfigPath     = "OPENCLAW_CONFIG"
	EnvBackendToken   = "OPENCLAW_BACKEND_TOKEN"
	EnvCrossAppSecret = "OPENCLAW_CROSSAPP_SECRET"
	EnvSlackWebhook   = "OPENCLAW_SLACK_WEBHOOK"
	EnvNetwork        = "OPENCLAW_NETWORK"
	EnvAPIToken       = "OPENCLAW_API_TOKEN"
)

// Config 描述了 openclawd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  logger.Config  `json:"logging"`
	Backend  BackendConfig  `json:"backend"`
	Wallet   WalletConfig   `json:"wallet"`
	Web3     Web3Config     `json:"web3"`
	Storage  StorageConfig  `json:"storage"`
	Events   EventsConfig   `json:"events"`
	Polling  PollingConfig  `json:"polling"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制本地 API 服务的监听地址。
type ServerConfig struct {
	Address  string `json:"address"`
	// APIToken 非空时，所有 POST 请求需携带 Authorization: Bearer <token>。
	APIToken string `json:"api_token"`
}

// BackendConfig 描述 Maxxit 后端状态服务。
type BackendConfig struct {
	BaseURL        string        `json:"base_url"`
	Token          string        `json:"token"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	Breaker        BreakerConfig `json:"breaker"`
}

// Timeout 返回单次请求超时。
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BreakerConfig 控制后端调用的熔断策略。
type BreakerConfig struct {
	MaxFailures     uint32 `json:"max_failures"`
	OpenSeconds     int    `json:"open_seconds"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// WalletConfig 描述会话可用的钱包来源。
type WalletConfig struct {
	// ProviderAppID 用于在多个 cross_app 账户之间选择，留空表示任意匹配。
	ProviderAppID string                  `json:"provider_app_id"`
	CrossApp      CrossAppConfig          `json:"cross_app"`
	Connected     []ConnectedWalletConfig `json:"connected"`
	Injected      InjectedConfig          `json:"injected"`
}

// CrossAppConfig 描述托管钱包的交易中继。
type CrossAppConfig struct {
	RelayURL       string `json:"relay_url"`
	Secret         string `json:"secret"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回中继请求超时。
func (c CrossAppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnectedWalletConfig 是启动时即连接的外部钱包。
type ConnectedWalletConfig struct {
	Address    string `json:"address"`
	ClientType string `json:"client_type"`
	RPCURL     string `json:"rpc_url"`
}

// InjectedConfig 描述本地注入式钱包（如浏览器扩展桥接的 RPC）。
type InjectedConfig struct {
	RPCURL string `json:"rpc_url"`
}

// Web3Config 包含链与场馆定义。
type Web3Config struct {
	ChainConfig           string `json:"chain_config"`
	Network               string `json:"network"`
	ConfirmTimeoutSeconds int    `json:"confirm_timeout_seconds"`
	HealthTimeoutSeconds  int    `json:"health_timeout_seconds"`
}

// ConfirmTimeout 返回等待交易回执的最长时间。
func (c Web3Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// HealthTimeout 返回 RPC 健康检查超时。
func (c Web3Config) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

// StorageConfig 统一描述进度缓存与交易日志的存储。
type StorageConfig struct {
	Progress ProgressStoreConfig `json:"progress"`
	Journal  JournalStoreConfig  `json:"journal"`
}

// ProgressStoreConfig 支持 memory 与 redis。
type ProgressStoreConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 为 Redis 连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Prefix           string `json:"prefix"`
	Queue            string `json:"queue"`
	TTLSeconds       int    `json:"ttl_seconds"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// JournalStoreConfig 支持 memory 与 mysql。
type JournalStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// EventsConfig 描述里程碑事件总线。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Workers  int            `json:"workers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 为 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// PollingConfig 控制各轮询任务的间隔。
type PollingConfig struct {
	TelegramSeconds       int `json:"telegram_seconds"`
	InstanceSeconds       int `json:"instance_seconds"`
	LLMBalanceSeconds     int `json:"llm_balance_seconds"`
	AgentBalanceSeconds   int `json:"agent_balance_seconds"`
	FundingTimeoutSeconds int `json:"funding_timeout_seconds"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	Slack SlackConfig `json:"slack"`
}

// SlackConfig 使用 incoming webhook 或 bot token 发送告警，webhook 优先。
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
	Token      string `json:"token"`
	Channel    string `json:"channel"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PathFromEnv 返回配置文件路径，未设置时使用 configs/openclaw.json。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return filepath.Join("configs", "openclaw.json")
}

// Validate 检查必须字段。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("backend.base_url 不能为空")
	}
	switch c.Web3.Network {
	case "mainnet", "testnet":
	default:
		return fmt.Errorf("未知的网络类型: %s", c.Web3.Network)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvBackendToken)); v != "" {
		c.Backend.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvCrossAppSecret)); v != "" {
		c.Wallet.CrossApp.Secret = v
	}
	if v := strings.TrimSpace(getenv(EnvSlackWebhook)); v != "" {
		c.Alerting.Slack.WebhookURL = v
	}
	if v := strings.TrimSpace(getenv(EnvAPIToken)); v != "" {
		c.Server.APIToken = v
	}
	if v := strings.TrimSpace(getenv(EnvNetwork)); v != "" {
		c.Web3.Network = strings.ToLower(v)
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:8787"
	}

	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 15
	}
	if c.Backend.Breaker.MaxFailures == 0 {
		c.Backend.Breaker.MaxFailures = 5
	}
	if c.Backend.Breaker.OpenSeconds <= 0 {
		c.Backend.Breaker.OpenSeconds = 30
	}
	if c.Backend.Breaker.IntervalSeconds <= 0 {
		c.Backend.Breaker.IntervalSeconds = 60
	}
	if c.Wallet.CrossApp.TimeoutSeconds <= 0 {
		c.Wallet.CrossApp.TimeoutSeconds = 60
	}

	if c.Web3.Network == "" {
		c.Web3.Network = "mainnet"
	}
	if c.Web3.ChainConfig == "" {
		c.Web3.ChainConfig = filepath.Join(baseDir, "chain.yaml")
	} else if !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.ConfirmTimeoutSeconds <= 0 {
		c.Web3.ConfirmTimeoutSeconds = 120
	}
	if c.Web3.HealthTimeoutSeconds <= 0 {
		c.Web3.HealthTimeoutSeconds = 3
	}

	if c.Storage.Progress.Driver == "" {
		c.Storage.Progress.Driver = "memory"
	}
	if c.Storage.Journal.Driver == "" {
		c.Storage.Journal.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}
	if c.Events.Workers <= 0 {
		c.Events.Workers = 1
	}

	if c.Polling.TelegramSeconds <= 0 {
		c.Polling.TelegramSeconds = 3
	}
	if c.Polling.InstanceSeconds <= 0 {
		c.Polling.InstanceSeconds = 5
	}
	if c.Polling.LLMBalanceSeconds <= 0 {
		c.Polling.LLMBalanceSeconds = 5
	}
	if c.Polling.AgentBalanceSeconds <= 0 {
		c.Polling.AgentBalanceSeconds = 4
	}
	if c.Polling.FundingTimeoutSeconds <= 0 {
		c.Polling.FundingTimeoutSeconds = 300
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// Interval 将秒数转换为轮询间隔。
func Interval(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
