package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/api"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/auth"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/backend"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/config"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/events"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/journal"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/alerting"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/progress"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/setup"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/storage/mysql"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/venue"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wallet"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/web3/provider"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/wizard"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// main 是 openclawd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("openclawd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("openclawd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	registry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer registry.Close()

	statusClient, err := backend.NewClient(cfg.Backend)
	if err != nil {
		return err
	}

	session, resolverOpts, err := buildSession(ctx, cfg, statusClient)
	if err != nil {
		return err
	}
	defer session.Close()

	chainNames := make(map[uint64]string)
	for _, name := range registry.Venues() {
		if _, def, err := registry.Venue(name); err == nil {
			chainNames[def.ChainID] = def.NetworkName
		}
	}
	resolverOpts = append(resolverOpts,
		wallet.WithReaders(registry),
		wallet.WithChainNames(chainNames))
	resolver := wallet.NewResolver(session, resolverOpts...)

	journalStore, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journalStore.Close()

	progressStore, err := openProgress(ctx, cfg)
	if err != nil {
		return err
	}
	defer progressStore.Close()

	bus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			lg.Warn("关闭事件总线失败", slog.Any("error", err))
		}
	}()

	notifiers := []alerting.Notifier{&alerting.AuditNotifier{}}
	if slackNotifier := alerting.NewSlackNotifier(cfg.Alerting.Slack.WebhookURL, cfg.Alerting.Slack.Token, cfg.Alerting.Slack.Channel); slackNotifier != nil {
		notifiers = append(notifiers, slackNotifier)
	}
	processor := events.NewProcessor(bus,
		events.WithWorkerCount(cfg.Events.Workers),
		events.WithAlertDispatcher(alerting.NewFanout(notifiers...)))

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("事件处理器异常退出", slog.Any("error", err))
		}
	}()

	var orchestrators []*setup.Orchestrator
	gates := make(map[string]*setup.Orchestrator)
	for _, name := range registry.Venues() {
		reader, def, err := registry.Venue(name)
		if err != nil {
			return err
		}
		v, err := venue.New(name, def)
		if err != nil {
			return err
		}
		orch := setup.New(v, resolver, statusClient, venue.NewFactReader(v, reader),
			setup.WithJournal(journalStore),
			setup.WithProgressStore(progressStore),
			setup.WithEventPublisher(bus),
			setup.WithPolling(config.Interval(cfg.Polling.AgentBalanceSeconds), config.Interval(cfg.Polling.FundingTimeoutSeconds)))
		orchestrators = append(orchestrators, orch)
		gates[name] = orch
	}
	setups := setup.NewManager(orchestrators...)
	defer setups.Close()
	if err := setups.Hydrate(ctx); err != nil {
		lg.Warn("恢复场馆进度失败", slog.Any("error", err))
	}

	wizardOpts := []wizard.Option{
		wizard.WithIntervals(
			config.Interval(cfg.Polling.TelegramSeconds),
			config.Interval(cfg.Polling.InstanceSeconds),
			config.Interval(cfg.Polling.LLMBalanceSeconds)),
	}
	for _, step := range wizard.Steps {
		if orch, ok := gates[string(step)]; ok && step.IsVenue() {
			wizardOpts = append(wizardOpts, wizard.WithGate(step, orch))
		}
	}
	wz := wizard.New(statusClient, wizardOpts...)
	defer wz.Close()
	if addr := resolver.Identity().Address; addr != nil {
		if err := wz.Load(ctx, addr.Hex()); err != nil {
			lg.Warn("加载引导进度失败", slog.Any("error", err))
		}
	}

	lg.Info("openclawd 已启动",
		slog.String("network", registry.Network()),
		slog.Any("venues", setups.Venues()),
		slog.String("identity_source", string(resolver.Identity().Source)))

	server := api.NewServer(cfg.Server.Address, resolver, setups, wz,
		api.WithNetwork(registry.Network()),
		api.WithGuard(auth.NewGuard(cfg.Server.APIToken)))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildSession 根据配置连接外部钱包、注入式钱包以及托管钱包中继。
func buildSession(ctx context.Context, cfg *config.Config, users *backend.Client) (*wallet.Session, []wallet.Option, error) {
	session := wallet.NewSession()
	var opts []wallet.Option
	if cfg.Wallet.ProviderAppID != "" {
		opts = append(opts, wallet.WithProviderAppID(cfg.Wallet.ProviderAppID))
	}

	for _, wc := range cfg.Wallet.Connected {
		if !common.IsHexAddress(wc.Address) {
			session.Close()
			return nil, nil, fmt.Errorf("无效的钱包地址: %s", wc.Address)
		}
		rpcClient, err := gethrpc.DialContext(ctx, wc.RPCURL)
		if err != nil {
			session.Close()
			return nil, nil, fmt.Errorf("连接钱包 %s 失败: %w", wc.Address, err)
		}
		session.Connect(wallet.Handle{
			Address:    common.HexToAddress(wc.Address),
			ClientType: strings.ToLower(wc.ClientType),
			Provider:   rpcClient,
		})
	}

	if url := strings.TrimSpace(cfg.Wallet.Injected.RPCURL); url != "" {
		rpcClient, err := gethrpc.DialContext(ctx, url)
		if err != nil {
			session.Close()
			return nil, nil, fmt.Errorf("连接注入式钱包失败: %w", err)
		}
		session.SetInjected(rpcClient)
	}

	if relayURL := strings.TrimSpace(cfg.Wallet.CrossApp.RelayURL); relayURL != "" {
		relay, err := wallet.NewHTTPRelay(relayURL, cfg.Wallet.CrossApp.Secret, cfg.Wallet.CrossApp.Timeout(), nil)
		if err != nil {
			session.Close()
			return nil, nil, err
		}
		opts = append(opts, wallet.WithCrossAppSender(relay))

		userCtx, cancel := context.WithTimeout(ctx, cfg.Backend.Timeout())
		user, err := users.CurrentUser(userCtx)
		cancel()
		if err != nil {
			logger.Named("openclawd").Warn("获取当前用户失败", slog.Any("error", err))
		} else {
			session.SetUser(user)
		}
	}
	return session, opts, nil
}

func openJournal(ctx context.Context, cfg *config.Config) (journal.Store, error) {
	switch cfg.Storage.Journal.Driver {
	case "", "memory":
		return journal.NewMemoryStore(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewJournalStore(ctx, mysql.ConfigFromJournal(cfg.Storage.Journal))
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func openProgress(ctx context.Context, cfg *config.Config) (progress.Store, error) {
	switch cfg.Storage.Progress.Driver {
	case "", "memory":
		return progress.NewMemoryStore(), nil
	case "redis":
		rc := cfg.Storage.Progress.Redis
		return progress.NewRedisStore(ctx, progress.RedisConfig{
			Address:  rc.Address,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
			TTL:      time.Duration(rc.TTLSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的进度缓存驱动: %s", cfg.Storage.Progress.Driver)
	}
}

func openBus(ctx context.Context, cfg *config.Config) (events.Bus, error) {
	switch cfg.Events.Driver {
	case "", "memory":
		return events.NewMemoryBus(cfg.Events.Buffer), nil
	case "redis":
		rc := cfg.Events.Redis
		return events.NewRedisBus(ctx, events.RedisConfig{
			Address:   rc.Address,
			Password:  rc.Password,
			DB:        rc.DB,
			Queue:     rc.Queue,
			BlockWait: time.Duration(rc.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		mq := cfg.Events.RabbitMQ
		return events.NewRabbitMQBus(events.RabbitMQConfig{
			URL:        mq.URL,
			Queue:      mq.Queue,
			Prefetch:   mq.Prefetch,
			Durable:    mq.Durable,
			AutoDelete: mq.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的事件总线驱动: %s", cfg.Events.Driver)
	}
}
