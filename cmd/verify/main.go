package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"hl-grid-bot/internal/account"
	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/hl/rest"
	"hl-grid-bot/internal/logging"
	"hl-grid-bot/internal/market"
	"hl-grid-bot/internal/reconcile"
	"hl-grid-bot/internal/strategy"
)

const defaultEnvFile = ".env"

// verify checks connectivity and configuration against the live exchange
// without placing anything: it resolves every configured instrument's perp
// context, prints current positions and open orders, and with -dry-run
// shows the order set the reconciler would emit on the first tick.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "print the first-tick reconciliation plan")
	flag.Parse()

	if err := config.LoadEnv(defaultEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	user := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	if user == "" {
		user = strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	}
	if user == "" {
		fatal(errors.New("HL_WALLET_ADDRESS or HL_ACCOUNT_ADDRESS is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	marketData := market.New(restClient, nil, log)
	if err := marketData.RefreshContexts(ctx); err != nil {
		fatal(fmt.Errorf("refresh contexts: %w", err))
	}

	fmt.Printf("exchange: %s\naccount:  %s\n\n", cfg.REST.BaseURL, user)
	for _, inst := range cfg.Instruments {
		perpCtx, ok := marketData.PerpContext(inst.Symbol)
		if !ok {
			fmt.Printf("%-8s NOT LISTED\n", inst.Symbol)
			continue
		}
		mid, err := marketData.Mid(ctx, inst.Symbol)
		if err != nil {
			fmt.Printf("%-8s asset=%d no mid price: %v\n", inst.Symbol, perpCtx.Index, err)
			continue
		}
		fmt.Printf("%-8s asset=%d szDecimals=%d maxLeverage=%d mid=%.6f class=%s lev=%d alloc=%.0f step=%.2f%% range=%.2f%%\n",
			inst.Symbol, perpCtx.Index, perpCtx.SzDecimals, perpCtx.MaxLeverage, mid,
			inst.AssetClass, inst.Leverage, inst.AllocationUSD,
			inst.Grid.StepPct*100, inst.Grid.MaxRangePct*100)
	}

	acct := account.New(restClient, log, user)
	snap, err := acct.Fetch(ctx)
	if err != nil {
		fatal(fmt.Errorf("account fetch: %w", err))
	}
	fmt.Printf("\naccount value: %.2f USD (withdrawable %.2f)\n", snap.AccountValue, snap.Withdrawable)
	if len(snap.Positions) == 0 {
		fmt.Println("positions: none")
	}
	for symbol, pos := range snap.Positions {
		fmt.Printf("position %-8s size=%.6f entry=%.6f pnl=%.2f lev=%d\n",
			symbol, pos.Size, pos.EntryPrice, pos.UnrealizedPnl, pos.Leverage)
	}
	if len(snap.Orders) == 0 {
		fmt.Println("open orders: none")
	}
	for _, order := range snap.Orders {
		kind := "limit"
		if order.IsTrigger {
			kind = fmt.Sprintf("trigger@%.6f", order.TriggerPx)
		}
		fmt.Printf("order %-8s oid=%d buy=%t px=%.6f sz=%.6f reduceOnly=%t %s\n",
			order.Symbol, order.OrderID, order.IsBuy, order.Price, order.Size, order.ReduceOnly, kind)
	}

	if *dryRun {
		fmt.Println("\ndry-run first-tick plan:")
		printDryRunPlan(ctx, cfg, marketData, snap)
	}
}

// printDryRunPlan evaluates the decision engines against live state, with
// persistence swapped for throwaway in-memory state, and prints what the
// reconciler would do.
func printDryRunPlan(ctx context.Context, cfg *config.Config, marketData *market.MarketData, snap *account.Snapshot) {
	planner := reconcile.NewPlanner(cfg.Reconciler)
	for _, inst := range cfg.Instruments {
		mid, err := marketData.Mid(ctx, inst.Symbol)
		if err != nil {
			fmt.Printf("%-8s no mid price, skipped\n", inst.Symbol)
			continue
		}
		var pos *strategy.Position
		if acctPos, ok := snap.Position(inst.Symbol); ok && acctPos.Size != 0 {
			side := strategy.SideLong
			size := acctPos.Size
			if size < 0 {
				side = strategy.SideShort
				size = -size
			}
			pos = &strategy.Position{
				Symbol:        inst.Symbol,
				Side:          side,
				Size:          size,
				EntryPrice:    acctPos.EntryPrice,
				MarkPrice:     mid,
				UnrealizedPnl: acctPos.UnrealizedPnl,
				Leverage:      acctPos.Leverage,
			}
		}
		tracker := strategy.NewGridTracker(inst)
		gridState := strategy.NewGridState()
		var intents []strategy.OrderIntent
		if intent := tracker.Evaluate(gridState, mid, pos); intent != nil {
			intents = append(intents, *intent)
		}
		plan := planner.Plan(intents, snap.OrdersFor(inst.Symbol), pos)
		if plan.Empty() {
			fmt.Printf("%-8s nothing to do\n", inst.Symbol)
			continue
		}
		for _, intent := range plan.Immediate {
			fmt.Printf("%-8s IMMEDIATE %s %s %.6f (%s)\n", inst.Symbol, intent.Kind, intent.Side, intent.Size, intent.Reason)
		}
		for _, order := range plan.Cancels {
			fmt.Printf("%-8s CANCEL oid=%d px=%.6f sz=%.6f\n", inst.Symbol, order.OrderID, order.Price, order.Size)
		}
		for _, intent := range plan.Places {
			fmt.Printf("%-8s PLACE %s %s %.6f @ %.6f (%s)\n", inst.Symbol, intent.Kind, intent.Side, intent.Size, intent.Price, intent.Reason)
		}
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "verify: %v\n", err)
	os.Exit(1)
}
