package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-grid-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// TradeEvent records one reconciler action that opened or closed exposure.
type TradeEvent struct {
	Time      time.Time
	Operation string // OPEN | CLOSE | CLOSE_PARTIAL
	Symbol    string
	Direction string // LONG | SHORT
	Reason    string
	Pnl       float64
	HasPnl    bool
}

// PositionSnapshot is the per-tick instrument state written for analysis.
type PositionSnapshot struct {
	Time          time.Time
	Symbol        string
	Phase         string
	GateMode      string
	MidPrice      float64
	CenterPrice   float64
	PositionSize  float64
	EntryPrice    float64
	UnrealizedPnl float64
	HighestPnl    float64
	RangePct      float64
	OpenOrders    int
}

// Writer journals trade events and snapshots to Postgres off the tick path.
// Writes queue through buffered channels; a full queue drops the record
// with a one-time warning rather than stalling trading.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	events    chan TradeEvent
	snapshots chan PositionSnapshot
	started   atomic.Bool
	dropEvent atomic.Uint64
	dropSnap  atomic.Uint64
}

func New(cfg config.JournalConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		events:    make(chan TradeEvent, queueSize),
		snapshots: make(chan PositionSnapshot, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueEvent(event TradeEvent) {
	if w == nil {
		return
	}
	select {
	case w.events <- event:
		return
	default:
		if w.dropEvent.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal event queue full")
		}
	}
}

func (w *Writer) EnqueueSnapshot(snapshot PositionSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snapshot:
		return
	default:
		if w.dropSnap.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal snapshot queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.events:
			w.writeEvent(ctx, event)
		case snap := <-w.snapshots:
			w.writeSnapshot(ctx, snap)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("journal db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		operation TEXT NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		reason TEXT NOT NULL,
		pnl DOUBLE PRECISION,
		PRIMARY KEY (ts, symbol, operation)
	)`, w.table("trade_events"))); err != nil {
		return err
	}
	return w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		phase TEXT NOT NULL,
		gate_mode TEXT NOT NULL,
		mid_price DOUBLE PRECISION NOT NULL,
		center_price DOUBLE PRECISION NOT NULL,
		position_size DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		highest_pnl DOUBLE PRECISION NOT NULL,
		range_pct DOUBLE PRECISION NOT NULL,
		open_orders INTEGER NOT NULL,
		PRIMARY KEY (ts, symbol)
	)`, w.table("position_snapshots")))
}

func (w *Writer) writeEvent(ctx context.Context, event TradeEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var pnl any
	if event.HasPnl {
		pnl = event.Pnl
	}
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, operation, symbol, direction, reason, pnl
	) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (ts, symbol, operation) DO NOTHING`, w.table("trade_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Operation,
		event.Symbol,
		event.Direction,
		event.Reason,
		pnl,
	); err != nil && w.log != nil {
		w.log.Warn("journal event insert failed", zap.Error(err))
	}
}

func (w *Writer) writeSnapshot(ctx context.Context, snap PositionSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, phase, gate_mode, mid_price, center_price, position_size,
		entry_price, unrealized_pnl, highest_pnl, range_pct, open_orders
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (ts, symbol) DO NOTHING`, w.table("position_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Symbol,
		snap.Phase,
		snap.GateMode,
		snap.MidPrice,
		snap.CenterPrice,
		snap.PositionSize,
		snap.EntryPrice,
		snap.UnrealizedPnl,
		snap.HighestPnl,
		snap.RangePct,
		snap.OpenOrders,
	); err != nil && w.log != nil {
		w.log.Warn("journal snapshot insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
