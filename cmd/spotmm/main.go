package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/bootstrap"
	"github.com/betbot/spotmm/internal/core"
	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/exchange/binance"
	"github.com/betbot/spotmm/internal/execution"
	"github.com/betbot/spotmm/internal/journal"
	"github.com/betbot/spotmm/internal/ledger"
	"github.com/betbot/spotmm/internal/metrics"
	"github.com/betbot/spotmm/internal/oms"
	"github.com/betbot/spotmm/internal/ports"
	"github.com/betbot/spotmm/internal/risk"
	"github.com/betbot/spotmm/internal/strategy"
	"github.com/betbot/spotmm/internal/stream"
	"github.com/betbot/spotmm/pkg/config"
	"github.com/betbot/spotmm/pkg/instancelock"
	"github.com/betbot/spotmm/pkg/logger"
	"github.com/betbot/spotmm/pkg/ratelimit"
	"github.com/betbot/spotmm/pkg/secretstore"
	"github.com/betbot/spotmm/pkg/shutdown"
)

const (
	shutdownTimeout  = 10 * time.Second
	userReadyTimeout = 15 * time.Second
	samplerInterval  = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（yaml）")
	envFile := flag.String("env", "", ".env 文件路径（默认尝试当前目录 .env）")
	dryRun := flag.Bool("dry-run", false, "纸交易模式：不发真实订单")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(*configPath, envFiles...)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	if err := logger.Init(cfg.Log); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logrus.Errorf("❌ 进程退出: %v", err)
		_ = logger.Close()
		os.Exit(1)
	}
	_ = logger.Close()
}

func run(cfg *config.Config) error {
	if err := resolveCredentials(cfg); err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}
	spec, err := cfg.SymbolSpec()
	if err != nil {
		return fmt.Errorf("market 配置无效: %w", err)
	}
	if cfg.LockPath != "" {
		lock, err := instancelock.Acquire(cfg.LockPath)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)

	signer, err := buildSigner(cfg)
	if err != nil {
		return err
	}
	client, fetcher, err := buildClient(cfg, signer)
	if err != nil {
		return err
	}

	quote := ledger.NewQuoteAssetManager(spec.QuoteAsset)
	if err := bootstrap.SyncQuoteBalance(ctx, fetcher, quote); err != nil {
		return fmt.Errorf("初始化余额失败: %w", err)
	}

	limiter := ratelimit.NewOrderRateLimiter(ratelimit.OrderLimiterConfig{
		Limit:           cfg.RateLimit.Limit,
		SafetyMargin:    cfg.RateLimit.SafetyMargin,
		Window:          cfg.RateLimit.Window,
		MakerFillCredit: cfg.RateLimit.MakerFillCredit,
	})
	omsCfg := oms.DefaultConfig()
	omsCfg.MaxOpenOrders = cfg.Trading.MaxOpenOrders
	omsCfg.OpenOrdersMargin = cfg.Trading.OpenOrdersMargin
	omsCfg.BuyOrdersLimit = cfg.Trading.BuyOrdersLimit
	omsCfg.SellOrdersLimit = cfg.Trading.SellOrdersLimit
	omsCfg.SellOrdersFloor = cfg.Trading.SellOrdersFloor
	omsCfg.ConflictTolerance = cfg.Trading.ConflictTolerance
	orders := oms.NewOrderManager(omsCfg)
	positions := ledger.NewPositionManager(spec, cfg.Trading.MinOrderNotional)
	strat := strategy.New(spec, strategy.Config{
		MinOrderNotional:    cfg.Trading.MinOrderNotional,
		BuyWallThresholdUSD: cfg.Trading.BuyWallThresholdUSD,
		TargetMultiplier:    cfg.Trading.TargetMultiplier,
	})

	m := metrics.New()
	streak := risk.NewErrorStreak(cfg.Executor.ErrorStreakAlert)
	observers := execution.Observers{m, streak}
	recorders := core.Recorders{m}
	var jrn *journal.Journal
	if cfg.Journal.Path != "" {
		jrn, err = journal.Open(cfg.Journal.Path, spec.Symbol)
		if err != nil {
			return fmt.Errorf("打开成交流水失败: %w", err)
		}
		observers = append(observers, jrn)
		recorders = append(recorders, jrn)
	}

	execCfg := execution.DefaultConfig()
	execCfg.BuyWorkers = cfg.Executor.BuyWorkers
	execCfg.SellWorkers = cfg.Executor.SellWorkers
	execCfg.QueueSize = cfg.Executor.QueueSize
	execCfg.TaskTimeout = cfg.Executor.TaskTimeout
	executor, err := execution.NewOrderExecutor(execCfg, execution.Deps{
		Client:    client,
		Spec:      spec,
		Orders:    orders,
		Positions: positions,
		Limiter:   limiter,
		Strategy:  strat,
		Observer:  observers,
	})
	if err != nil {
		return err
	}

	engine, err := core.New(core.Deps{
		Spec:      spec,
		Strategy:  strat,
		Orders:    orders,
		Quote:     quote,
		Positions: positions,
		Limiter:   limiter,
		Actions:   executor,
		Recorder:  recorders,
	})
	if err != nil {
		return err
	}

	// 关闭顺序与注册顺序相反：先断流，再排空执行器，最后落盘流水
	sm := shutdown.NewManager()
	if jrn != nil {
		sm.OnShutdown("journal", func(context.Context) error { return jrn.Close() })
	}

	// 执行器用独立 ctx：收到信号后正在进行的请求照常完成，队列里未执行的任务在 Stop 时逐个补偿
	execCtx, execCancel := context.WithCancel(context.Background())
	defer execCancel()
	executor.Start(execCtx)
	sm.OnShutdown("executor", executor.Stop)

	marketCh := make(chan domain.MarketEvent, 64)
	var userCh chan domain.UserEvent

	if !cfg.DryRun {
		userCh = make(chan domain.UserEvent, 256)
		auth := stream.AuthSignature
		if cfg.Exchange.PrivateKeyPath != "" {
			auth = stream.AuthSessionLogon
		}
		user := stream.NewUserStream(stream.UserConfig{
			URL:      cfg.Exchange.WSAPIURL,
			APIKey:   cfg.Exchange.APIKey,
			Auth:     auth,
			ProxyURL: cfg.Exchange.ProxyURL,
		}, signer, userCh)
		if err := user.Start(ctx); err != nil {
			abort(sm)
			return fmt.Errorf("用户数据流连接失败: %w", err)
		}
		sm.OnShutdown("user-stream", func(context.Context) error { return user.Close() })
		m.TrackStream("user", user.Reconnects, func() int64 { return 0 })

		select {
		case <-user.Ready():
			logrus.Infof("✅ [启动] 用户数据流已订阅")
		case <-time.After(userReadyTimeout):
			logrus.Warnf("⚠️ [启动] 用户数据流 %s 内未确认订阅，继续启动并等待重连", userReadyTimeout)
		}
	} else {
		logrus.Warnf("📝 [启动] 纸交易模式：不订阅用户数据流，挂单不会成交")
	}

	depth := stream.NewDepthStream(stream.DepthConfig{
		BaseURL:  cfg.Exchange.StreamURL,
		Symbol:   spec.Symbol,
		Levels:   cfg.Market.DepthLevels,
		ProxyURL: cfg.Exchange.ProxyURL,
	}, marketCh)
	if err := depth.Start(ctx); err != nil {
		abort(sm)
		return fmt.Errorf("行情流连接失败: %w", err)
	}
	sm.OnShutdown("depth-stream", func(context.Context) error { return depth.Close() })
	m.TrackStream("depth", depth.Reconnects, depth.Dropped)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(m, engine, healthCheck(depth, streak))
		if _, err := srv.StartAsync(ctx, cfg.Metrics.Addr); err != nil {
			logrus.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			go srv.RunSampler(ctx, samplerInterval)
		}
	}

	dispatcher := core.NewDispatcher(engine, engine)
	dispatchErr := make(chan error, 1)
	go func() { dispatchErr <- dispatcher.Run(ctx, marketCh, userCh) }()

	logrus.Infof("🚀 [启动] 做市引擎已启动: symbol=%s dryRun=%v quote=%s",
		spec.Symbol, cfg.DryRun, quote.Balance().String())

	var runErr error
	select {
	case sig := <-sigC:
		logrus.Infof("🛑 收到信号 %s，开始优雅关闭", sig)
	case err := <-dispatchErr:
		if err != nil {
			runErr = fmt.Errorf("事件分派退出: %w", err)
		}
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	sm.Shutdown(shutdownCtx)

	st := engine.Snapshot()
	logrus.Infof("👋 [退出] 剩余挂单: buy=%d sell=%d quote=%s",
		len(st.BuyOrders), len(st.SellOrders), st.QuoteBalance)
	return runErr
}

// abort 启动中途失败时释放已注册的资源
func abort(sm *shutdown.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sm.Shutdown(ctx)
}

// resolveCredentials 环境变量/配置文件未给出 API 凭证时，从加密密钥库读取。
func resolveCredentials(cfg *config.Config) error {
	ex := &cfg.Exchange
	if cfg.Secrets.Path == "" || (ex.APIKey != "" && (ex.APISecret != "" || ex.PrivateKeyPath != "")) {
		return nil
	}
	key, err := secretstore.ParseKey(cfg.Secrets.Key)
	if err != nil {
		return fmt.Errorf("解析密钥库密钥失败: %w", err)
	}
	if key == nil {
		return errors.New("secrets.path 已配置但 SPOTMM_SECRETS_KEY 为空")
	}
	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.Secrets.Path,
		EncryptionKey: key,
		ReadOnly:      true,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	creds, err := store.LoadCredentials()
	if err != nil {
		return fmt.Errorf("读取密钥库失败: %w", err)
	}
	if ex.APIKey == "" {
		ex.APIKey = creds.APIKey
	}
	if ex.APISecret == "" {
		ex.APISecret = creds.APISecret
	}
	logrus.Infof("🔐 [启动] 已从密钥库加载 API 凭证: %s", cfg.Secrets.Path)
	return nil
}

// buildSigner Ed25519 私钥优先，否则 HMAC。纸交易且无凭证时返回 nil。
func buildSigner(cfg *config.Config) (binance.Signer, error) {
	switch {
	case cfg.Exchange.PrivateKeyPath != "":
		return binance.LoadEd25519Signer(cfg.Exchange.PrivateKeyPath)
	case cfg.Exchange.APISecret != "":
		return binance.NewHMACSigner(cfg.Exchange.APISecret)
	default:
		return nil, nil
	}
}

// buildClient 纸交易用 PaperClient（余额取 paper_quote_balance），否则 REST 客户端。
func buildClient(cfg *config.Config, signer binance.Signer) (execution.TradingClient, ports.AccountFetcher, error) {
	if cfg.DryRun {
		paper := execution.NewPaperClient()
		paper.SetBalance(cfg.Market.QuoteAsset, cfg.PaperQuoteBalance)
		return paper, paper, nil
	}
	c, err := binance.New(binance.Config{
		BaseURL:        cfg.Exchange.RestURL,
		APIKey:         cfg.Exchange.APIKey,
		RecvWindow:     cfg.Exchange.RecvWindow,
		Timeout:        cfg.Exchange.HTTPTimeout,
		ProxyURL:       cfg.Exchange.ProxyURL,
		RequestsPerSec: cfg.Exchange.RequestsPerSec,
	}, signer)
	if err != nil {
		return nil, nil, err
	}
	return c, c, nil
}

// healthCheck 行情流超过 1 分钟无消息，或请求连续失败，视为不健康
func healthCheck(depth *stream.DepthStream, streak *risk.ErrorStreak) metrics.HealthFunc {
	return func() error {
		if err := streak.Health(); err != nil {
			return err
		}
		last := depth.LastMessageAt()
		if last.IsZero() {
			return errors.New("depth stream: no message yet")
		}
		if age := time.Since(last); age > time.Minute {
			return fmt.Errorf("depth stream: stale for %s", age.Truncate(time.Second))
		}
		return nil
	}
}
