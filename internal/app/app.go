package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hl-grid-bot/internal/account"
	"hl-grid-bot/internal/alerts"
	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/exec"
	"hl-grid-bot/internal/hl/exchange"
	"hl-grid-bot/internal/hl/rest"
	"hl-grid-bot/internal/hl/ws"
	"hl-grid-bot/internal/journal"
	"hl-grid-bot/internal/market"
	"hl-grid-bot/internal/metrics"
	"hl-grid-bot/internal/reconcile"
	"hl-grid-bot/internal/state/file"
	"hl-grid-bot/internal/state/sqlite"
	"hl-grid-bot/internal/strategy"

	"go.uber.org/zap"
)

// instrument is the single-owner state bundle for one symbol. Exactly one
// goroutine (the tick loop) ever touches it, so the engine state carries
// no locks.
type instrument struct {
	cfg       config.InstrumentConfig
	grid      *strategy.GridTracker
	gate      *strategy.Gatekeeper
	gridState *strategy.GridState
	gateState *strategy.GateState
	lifecycle *strategy.Lifecycle
}

type App struct {
	cfg         *config.Config
	log         *zap.Logger
	store       *sqlite.Store
	rest        *rest.Client
	ws          *ws.Client
	exchange    *exchange.Client
	market      *market.MarketData
	account     *account.Account
	executor    *exec.Executor
	planner     *reconcile.Planner
	ratchet     *strategy.RatchetEngine
	metrics     *metrics.Metrics
	metricsSrv  http.Handler
	alerts      *alerts.Telegram
	journal     *journal.Writer
	instruments []*instrument
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if len(cfg.Instruments) == 0 {
		return nil, errors.New("at least one instrument is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.RatchetPath), 0o755); err != nil {
		return nil, err
	}
	ratchetStore, err := file.New(cfg.State.RatchetPath)
	if err != nil {
		return nil, err
	}
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	marketData := market.New(restClient, wsClient, log)
	marketData.TrackCandles(candleAssets(cfg), candleInterval(cfg), candleWindow(cfg))

	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if walletAddress == "" {
		return nil, errors.New("HL_WALLET_ADDRESS is required")
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	accountAddress := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	if accountAddress == "" {
		accountAddress = walletAddress
	}
	vaultAddress := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))
	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(walletAddress, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", walletAddress, signer.Address().Hex())
	}
	exClient, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, vaultAddress)
	if err != nil {
		return nil, err
	}
	exClient.SetLogger(log)

	accountClient := account.New(restClient, log, accountAddress)
	executor := exec.New(exClient, store, log)

	m := metrics.NewNoop()
	var metricsSrv http.Handler
	if cfg.Metrics.ListenAddr != "" {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		metricsSrv = prom.Handler()
	}
	journalWriter, err := journal.New(cfg.Journal, log)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:        cfg,
		log:        log,
		store:      store,
		rest:       restClient,
		ws:         wsClient,
		exchange:   exClient,
		market:     marketData,
		account:    accountClient,
		executor:   executor,
		planner:    reconcile.NewPlanner(cfg.Reconciler),
		ratchet:    strategy.NewRatchetEngine(ratchetStore, log),
		metrics:    m,
		metricsSrv: metricsSrv,
		alerts:     alerts.NewTelegram(cfg.Telegram, log),
		journal:    journalWriter,
	}
	for _, instCfg := range cfg.Instruments {
		app.instruments = append(app.instruments, &instrument{
			cfg:       instCfg,
			grid:      strategy.NewGridTracker(instCfg),
			gate:      strategy.NewGatekeeper(instCfg.Gatekeeper),
			gridState: strategy.NewGridState(),
			gateState: &strategy.GateState{Mode: strategy.ModeSafe},
			lifecycle: strategy.NewLifecycle(),
		})
	}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.journal.Close()

	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	} else if state, ok := a.exchange.NonceState(); ok {
		a.log.Info("nonce persistence enabled", zap.String("nonce_key", state.Key), zap.Uint64("nonce_seed", state.Last))
	}
	for _, inst := range a.instruments {
		if err := a.ratchet.Restore(ctx, inst.cfg.Symbol); err != nil {
			return fmt.Errorf("ratchet restore %s: %w", inst.cfg.Symbol, err)
		}
		if high, ok := a.ratchet.HighWaterMark(inst.cfg.Symbol); ok {
			a.log.Info("ratchet state restored", zap.String("symbol", inst.cfg.Symbol), zap.Float64("highest_pnl", high))
		}
	}
	if err := a.market.Start(ctx); err != nil {
		return err
	}
	if err := a.applyLeverage(ctx); err != nil {
		return err
	}
	a.journal.Start(ctx)
	if a.metricsSrv != nil {
		go a.serveMetrics(ctx)
	}

	ticker := time.NewTicker(a.cfg.Loop.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// applyLeverage pushes the configured leverage to the exchange before the
// first tick, clamped to what the asset allows.
func (a *App) applyLeverage(ctx context.Context) error {
	for _, inst := range a.instruments {
		perpCtx, ok := a.market.PerpContext(inst.cfg.Symbol)
		if !ok {
			return fmt.Errorf("perp context not found for %s", inst.cfg.Symbol)
		}
		leverage := inst.cfg.Leverage
		if perpCtx.MaxLeverage > 0 && leverage > perpCtx.MaxLeverage {
			a.log.Warn("configured leverage exceeds asset maximum",
				zap.String("symbol", inst.cfg.Symbol),
				zap.Int("configured", leverage),
				zap.Int("max", perpCtx.MaxLeverage))
			leverage = perpCtx.MaxLeverage
		}
		if err := a.executor.UpdateLeverage(ctx, perpCtx.Index, leverage, true); err != nil {
			return fmt.Errorf("set leverage %s: %w", inst.cfg.Symbol, err)
		}
		a.log.Info("leverage set", zap.String("symbol", inst.cfg.Symbol), zap.Int("leverage", leverage))
	}
	return nil
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metricsSrv)
	srv := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Warn("metrics server failed", zap.Error(err))
	}
}

func candleAssets(cfg *config.Config) []string {
	assets := make([]string, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		assets = append(assets, inst.Symbol)
	}
	return assets
}

func candleInterval(cfg *config.Config) string {
	for _, inst := range cfg.Instruments {
		if inst.Gatekeeper.CandleInterval != "" {
			return inst.Gatekeeper.CandleInterval
		}
	}
	return "1m"
}

func candleWindow(cfg *config.Config) int {
	window := 0
	for _, inst := range cfg.Instruments {
		if inst.Gatekeeper.LookbackBars > window {
			window = inst.Gatekeeper.LookbackBars
		}
	}
	if window == 0 {
		window = 30
	}
	return window
}
