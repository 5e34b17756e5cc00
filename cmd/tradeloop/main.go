package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"tradeloop/internal/analysis"
	"tradeloop/internal/config"
	"tradeloop/internal/decision"
	"tradeloop/internal/engine"
	"tradeloop/internal/gateway/database"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/gateway/provider"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	binancemkt "tradeloop/internal/market/binance"
	"tradeloop/internal/risk"
	"tradeloop/internal/scheduler"
	"tradeloop/internal/store"
	"tradeloop/internal/transport/http/dashboard"
	"tradeloop/internal/universe"
)

func main() {
	configPath := flag.String("config", "config.toml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)

	state := engine.NewGlobalState()
	logger.AddSink(state.AppendLog)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 行情：REST 历史 + WS 实时价，带 K 线缓存兜底。
	src, err := binancemkt.New(binancemkt.Config{
		RESTBaseURL: cfg.Market.RESTBaseURL,
		WSBaseURL:   cfg.Market.WSBaseURL,
	})
	if err != nil {
		return fmt.Errorf("初始化行情源失败: %w", err)
	}
	defer src.Close()

	ledger := engine.NewLedger()

	var paper *exchange.PaperTrader
	var trader exchange.Trader
	if cfg.Exchange.DryRun {
		paper = exchange.NewPaperTrader(cfg.Exchange.PaperEquity)
		trader = paper
		logger.Infof("纸面交易模式，初始权益 %.2f", cfg.Exchange.PaperEquity)
	} else {
		trader = exchange.NewBinanceTrader(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, int32(cfg.Exchange.QtyPrecision))
		logger.Infof("实盘交易模式")
	}

	monitor := market.NewPriceMonitor(src, priceFan{ledger: ledger, paper: paper})
	prov, err := market.NewCompositeProvider(src, monitor, market.ProviderConfig{
		Intervals: cfg.Market.Intervals,
		Limit:     cfg.Market.KlineLimit,
	})
	if err != nil {
		return err
	}
	prov.WithCache(store.NewMemoryKlineStore())

	// 标的池：静态名单或外部 API，带陈旧容忍。
	var symbolProvider universe.SymbolProvider
	if cfg.Symbols.APIURL != "" {
		symbolProvider = universe.NewHTTPProvider(cfg.Symbols.APIURL)
	} else {
		symbolProvider = universe.NewStaticProvider(cfg.Symbols.Static)
	}
	selector := universe.NewSelector(symbolProvider, cfg.Symbols.Static, cfg.SymbolRefreshMaxAge())

	// 分析任务池：量化任务常驻，其余按配置启用。
	var stanceClient *provider.StanceClient
	if providers := provider.BuildProvidersFromConfig(cfg.AI.Models, cfg.AITimeout()); len(providers) > 0 {
		stanceClient = provider.NewStanceClient(providers[0])
		logger.Infof("语义模型已启用: %s", providers[0].ID())
	}
	tasks := []analysis.Task{analysis.NewQuantTask(cfg.TaskTimeout())}
	if cfg.Analysis.EnableProbability {
		tasks = append(tasks, analysis.NewProbabilityTask(cfg.TaskTimeout()))
	}
	if cfg.Analysis.EnableReflection {
		tasks = append(tasks, analysis.NewReflectionTask(cfg.TaskTimeout()))
	}
	if cfg.Analysis.EnableDivergence {
		tasks = append(tasks, analysis.NewDivergenceTask(cfg.TaskTimeout()))
	}
	if cfg.Analysis.EnableSemantic && stanceClient != nil {
		tasks = append(tasks, analysis.NewSemanticTask(stanceClient, cfg.AITimeout()))
	}
	pool := analysis.NewPool(tasks...)

	router := decision.NewRouter(decision.RouterConfig{
		ForcedExitLossPct:  cfg.Router.ForcedExitLossPct,
		MaxHoldDuration:    time.Duration(cfg.Router.MaxHoldHours) * time.Hour,
		FastTrendMomentum:  cfg.Router.FastTrendMomentum,
		FastTrendAgreement: cfg.Router.FastTrendAgreement,
		LLMTimeout:         time.Duration(cfg.Router.LLMTimeoutSeconds) * time.Second,
		MinOpenConfidence:  cfg.Router.MinOpenConfidence,
	}, stanceProviderOrNil(stanceClient))

	gate, err := buildGate(cfg)
	if err != nil {
		return err
	}

	var audit *database.AuditStore
	if cfg.Audit.Path != "" {
		audit, err = database.OpenAuditStore(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("打开审计库失败: %w", err)
		}
		defer audit.Close()
	}

	executor := engine.NewExecutor(trader, ledger, state, audit)
	orchestrator := engine.NewOrchestrator(engine.OrchestratorConfig{
		CycleTimeout:     cfg.CycleTimeout(),
		SymbolTimeout:    cfg.SymbolTimeout(),
		MaxOpensPerCycle: cfg.Cycle.MaxOpensPerCycle,
	}, selector, prov, pool, router, gate, executor, ledger, state, trader, audit)

	// 先刷新一次标的池，再把实时价流建起来。
	symbols := selector.Refresh(ctx)
	if err := monitor.Start(ctx, symbols); err != nil {
		logger.Warnf("实时价订阅失败，快照将回退到收盘价: %v", err)
	}

	sched := scheduler.New()
	interval, ok := scheduler.ParseIntervalDuration(cfg.Cycle.Interval)
	if !ok {
		return fmt.Errorf("无法解析循环间隔 %q", cfg.Cycle.Interval)
	}
	if err := sched.AddEvery(interval, orchestrator); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	var httpSrv *http.Server
	if cfg.Dashboard.Enabled {
		httpSrv = startDashboard(cfg.Dashboard.Listen, state, audit)
	}

	// 启动即先跑一轮，不等第一个调度点。
	if err := orchestrator.RunCycle(ctx); err != nil {
		logger.Errorf("首轮循环失败: %v", err)
	}

	<-ctx.Done()
	logger.Infof("收到退出信号，开始关闭")
	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func buildGate(cfg *config.Config) (*risk.Gate, error) {
	base := gateConfigFrom(cfg.Risk)
	gate := risk.NewGate(base)

	profiles, err := config.LoadProfiles(cfg.Risk.ProfilesPath)
	if err != nil {
		return nil, err
	}
	gate.WithResolver(func(symbol string) (risk.GateConfig, bool) {
		profiles.MaybeReload()
		p, ok := profiles.Lookup(symbol)
		if !ok {
			return risk.GateConfig{}, false
		}
		out := base
		if p.MaxLeverage > 0 {
			out.MaxLeverage = p.MaxLeverage
		}
		if p.DefaultStopLossPct > 0 {
			out.DefaultStopLossPct = p.DefaultStopLossPct
		}
		if p.MinRiskReward > 0 {
			out.MinRiskReward = p.MinRiskReward
		}
		if p.RiskPctPerTrade > 0 {
			out.Sizing.RiskPctPerTrade = p.RiskPctPerTrade
		}
		return out, true
	})
	return gate, nil
}

func gateConfigFrom(rc config.RiskConfig) risk.GateConfig {
	return risk.GateConfig{
		MaxLeverage:                 rc.MaxLeverage,
		DefaultLeverage:             rc.DefaultLeverage,
		DefaultStopLossPct:          rc.DefaultStopLossPct,
		MinRiskReward:               rc.MinRiskReward,
		MaxPositionPctOfEquity:      rc.MaxPositionPctOfEquity,
		MaxTotalExposurePctOfEquity: rc.MaxTotalExposurePct,
		Sizing:                      risk.SizingConfig{RiskPctPerTrade: rc.RiskPctPerTrade, MaxLeverage: rc.MaxLeverage},
	}
}

func startDashboard(listen string, state *engine.GlobalState, audit *database.AuditStore) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	eng := gin.New()
	eng.Use(gin.Recovery())
	dashboard.NewRouter(state, audit).Register(eng.Group("/api"))

	srv := &http.Server{Addr: listen, Handler: eng}
	go func() {
		logger.Infof("面板已启动: http://%s/api/status", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("面板服务退出: %v", err)
		}
	}()
	return srv
}

// stanceProviderOrNil 避免把带 nil 指针的非空接口传给路由器。
func stanceProviderOrNil(c *provider.StanceClient) analysis.StanceProvider {
	if c == nil {
		return nil
	}
	return c
}

// priceFan 把实时成交价同时推给账本（标记价）与纸面交易所（强平模拟）。
type priceFan struct {
	ledger *engine.Ledger
	paper  *exchange.PaperTrader
}

func (f priceFan) NotifyPrice(symbol string, price float64) {
	if f.ledger != nil {
		f.ledger.UpdateMark(symbol, price)
	}
	if f.paper != nil {
		f.paper.MarkPrice(symbol, price)
	}
}
