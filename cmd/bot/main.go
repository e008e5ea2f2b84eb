package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/controlplane/server"
	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/engine"
	"github.com/betbot/copyflow/internal/exchange"
	"github.com/betbot/copyflow/internal/execution"
	"github.com/betbot/copyflow/internal/metrics"
	"github.com/betbot/copyflow/internal/notify"
	"github.com/betbot/copyflow/internal/ports"
	"github.com/betbot/copyflow/internal/strategycore/bias"
	"github.com/betbot/copyflow/internal/strategycore/brain"
	"github.com/betbot/copyflow/internal/strategycore/capital"
	"github.com/betbot/copyflow/internal/strategycore/evtrack"
	"github.com/betbot/copyflow/internal/strategycore/oms"
	"github.com/betbot/copyflow/pkg/config"
	"github.com/betbot/copyflow/pkg/logger"
	"github.com/betbot/copyflow/pkg/secretstore"
	"github.com/betbot/copyflow/pkg/shutdown"
	"github.com/betbot/copyflow/pkg/sigchan"
)

const apiKeySecret = "exchange_api_key"

func main() {
	configPath := flag.String("config", "yml/config.yaml", "配置文件路径（.yaml）")
	dryRun := flag.Bool("dry-run", false, "纸交易模式（覆盖配置文件）")
	flag.Parse()

	// .env 可选：本地开发注入环境变量
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	shutdownMgr := shutdown.NewManager()

	// 凭据优先级：环境变量 > 本地加密存储 > 配置文件
	if cfg.Exchange.APIKey == "" && cfg.Secrets.StorePath != "" {
		key, err := secretstore.ParseKey(os.Getenv("SECRET_STORE_KEY"))
		if err != nil {
			logrus.Fatalf("SECRET_STORE_KEY 无效: %v", err)
		}
		store, err := secretstore.Open(secretstore.OpenOptions{
			Path:          cfg.Secrets.StorePath,
			EncryptionKey: key,
			ReadOnly:      true,
		})
		if err != nil {
			logrus.Fatalf("打开凭据存储失败: %v", err)
		}
		shutdownMgr.OnShutdown(func(_ context.Context, _ *sync.WaitGroup) {
			_ = store.Close()
		})
		if v, ok, err := store.GetString(apiKeySecret); err == nil && ok {
			cfg.Exchange.APIKey = v
		}
	}

	run(cfg, shutdownMgr)
}

func run(cfg *config.Config, shutdownMgr *shutdown.Manager) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := ports.RealClock{}

	client := exchange.NewClient(exchange.Options{
		ClobURL:           cfg.Exchange.ClobURL,
		DataURL:           cfg.Exchange.DataURL,
		APIKey:            cfg.Exchange.APIKey,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.Burst,
		Timeout:           time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
	})
	var xchg ports.Exchange = client
	if cfg.DryRun {
		logrus.Warn("📝 纸交易模式：所有写操作都只模拟")
		xchg = exchange.NewPaper(client)
	}

	markets := make([]*domain.Market, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		markets = append(markets, &domain.Market{
			Slug:        m.Slug,
			ConditionID: m.ConditionID,
			YesAssetID:  m.YesAssetID,
			NoAssetID:   m.NoAssetID,
		})
	}

	biasAcc := bias.New(cfg, clock)
	evTracker := evtrack.New(cfg, clock)
	capitalMgr := capital.New(cfg)
	decisions := brain.NewEngine(cfg)

	pricing := execution.PricingConfig{
		BandMinPips: cfg.GetEntryBandMinCents() * 100,
		BandMaxPips: cfg.GetEntryBandMaxCents() * 100,
		TickPips:    100,
		Slippage:    cfg.Orders.Slippage,
	}
	positions := oms.NewPositionManager(clock)
	guard := oms.NewEntryGuard(cfg, clock)
	executor := oms.NewOrderExecutor(xchg, cfg, pricing, clock)
	notifier := notify.NewAsync(notify.LogNotifier{}, 0)
	orderMgr := oms.New(cfg, executor, positions, guard, notifier, clock)

	eng := engine.New(engine.Deps{
		Config:      cfg,
		StrategyCfg: cfg,
		Exchange:    xchg,
		Clock:       clock,
		Notifier:    notifier,
		Brain:       decisions,
		Bias:        biasAcc,
		Ev:          evTracker,
		Capital:     capitalMgr,
		OMS:         orderMgr,
		Markets:     markets,
		Health:      execution.HealthOptions{},
	})

	stream := exchange.NewPeerTradeStream(exchange.StreamOptions{
		URL:     cfg.Exchange.StreamURL,
		Wallets: cfg.Wallets,
	}, biasAcc)
	stream.Start(ctx)

	server.New(cfg.Server.StatusAddr, eng).StartAsync(ctx)
	if _, err := metrics.StartAsync(ctx, cfg.Server.MetricsAddr); err != nil {
		logrus.Warnf("⚠️ metrics 服务启动失败: %v", err)
	}

	// SIGHUP 立即触发一次周期（排障用，不等下个 tick）
	kick := sigchan.New(1)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			kick.Emit()
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-kick.C():
				eng.RunCycle(ctx)
			}
		}
	}()

	logrus.Infof("🚀 copyflow 启动: markets=%d wallets=%d dryRun=%v", len(markets), len(cfg.Wallets), cfg.DryRun)
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.Errorf("主循环异常退出: %v", err)
	}

	stream.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownMgr.Shutdown(shutdownCtx)

	printSessionSummary(positions)
}

// printSessionSummary 退出前打印本次会话的平仓账单。
func printSessionSummary(positions *oms.PositionManager) {
	archived := positions.Archived()
	if len(archived) == 0 {
		logrus.Info("本次会话没有已平仓位")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Market", "Asset", "State", "Size", "Entry", "PnL (USD)")
	total := 0.0
	for _, p := range archived {
		total += p.RealizedPnlUsd
		table.Append(
			p.MarketSlug,
			shorten(p.AssetID),
			string(p.State),
			fmt.Sprintf("%.2f", p.Size),
			fmt.Sprintf("%.3f", p.EntryPrice.ToDecimal()),
			fmt.Sprintf("%+.2f", p.RealizedPnlUsd),
		)
	}
	table.Append("", "", "", "", "TOTAL", fmt.Sprintf("%+.2f", total))
	_ = table.Render()
}

func shorten(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
