package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/amirphl/grid-trader/internal/candle"
	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/order"
)

// Postgres implements Storage on database/sql + lib/pq. Prices and
// quantities are stored as NUMERIC text to keep decimal precision intact.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(connStr string, maxOpen, maxIdle int) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			pair TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open_time BIGINT NOT NULL,
			close_time BIGINT NOT NULL,
			open NUMERIC NOT NULL,
			high NUMERIC NOT NULL,
			low NUMERIC NOT NULL,
			close NUMERIC NOT NULL,
			volume NUMERIC NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (pair, timeframe, open_time)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			pair TEXT NOT NULL,
			price NUMERIC NOT NULL,
			original_quantity NUMERIC NOT NULL,
			executed_quantity NUMERIC NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			stop_price NUMERIC NOT NULL DEFAULT 0,
			fee NUMERIC NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS orders_pair_status_idx ON orders (pair, status)`,
		`CREATE TABLE IF NOT EXISTS journal (
			id BIGSERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			description TEXT NOT NULL,
			data JSONB
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (pair, timeframe, open_time, close_time, open, high, low, close, volume, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pair, timeframe, open_time) DO UPDATE
		SET close_time = EXCLUDED.close_time, open = EXCLUDED.open, high = EXCLUDED.high,
		    low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume, source = EXCLUDED.source`)
	if err != nil {
		return fmt.Errorf("preparing candle insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx,
			c.Pair.String(), c.Timeframe, c.OpenTime, c.CloseTime,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(),
			c.Volume.String(), c.Source,
		); err != nil {
			return fmt.Errorf("inserting candle at %d: %w", c.OpenTime, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) GetCandles(ctx context.Context, pair market.TradePair, timeframe string, from, to time.Time) ([]candle.Candle, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT pair, timeframe, open_time, close_time, open, high, low, close, volume, source
		FROM candles
		WHERE pair = $1 AND timeframe = $2 AND open_time >= $3 AND open_time <= $4
		ORDER BY open_time ASC`,
		pair.String(), timeframe, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying candles: %w", err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) GetLatestCandle(ctx context.Context, pair market.TradePair, timeframe string) (*candle.Candle, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT pair, timeframe, open_time, close_time, open, high, low, close, volume, source
		FROM candles
		WHERE pair = $1 AND timeframe = $2
		ORDER BY open_time DESC LIMIT 1`,
		pair.String(), timeframe)
	if err != nil {
		return nil, fmt.Errorf("querying latest candle: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	c, err := scanCandle(rows)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCandle(rows *sql.Rows) (candle.Candle, error) {
	var c candle.Candle
	var pairStr string
	var open, high, low, closeP, volume string
	if err := rows.Scan(&pairStr, &c.Timeframe, &c.OpenTime, &c.CloseTime,
		&open, &high, &low, &closeP, &volume, &c.Source); err != nil {
		return candle.Candle{}, fmt.Errorf("scanning candle: %w", err)
	}
	pair, err := market.ParsePair(pairStr)
	if err != nil {
		return candle.Candle{}, err
	}
	c.Pair = pair
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&c.Open, open}, {&c.High, high}, {&c.Low, low}, {&c.Close, closeP}, {&c.Volume, volume},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return candle.Candle{}, fmt.Errorf("parsing candle decimal %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return c, nil
}

func (p *Postgres) SaveOrder(ctx context.Context, o order.Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, pair, price, original_quantity, executed_quantity,
			side, type, status, stop_price, fee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id) DO UPDATE
		SET executed_quantity = EXCLUDED.executed_quantity, status = EXCLUDED.status,
		    fee = EXCLUDED.fee, updated_at = EXCLUDED.updated_at`,
		o.OrderID, o.Pair.String(), o.Price.String(), o.OriginalQuantity.String(),
		o.ExecutedQuantity.String(), string(o.Side), string(o.Type), string(o.Status),
		o.StopPrice.String(), o.Fee.String(), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving order %s: %w", o.OrderID, err)
	}
	return nil
}

func (p *Postgres) GetOpenOrders(ctx context.Context, pair market.TradePair) ([]order.Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT order_id, pair, price, original_quantity, executed_quantity,
		       side, type, status, stop_price, fee, created_at, updated_at
		FROM orders
		WHERE pair = $1 AND status IN ('NEW', 'PARTIALLY_FILLED')
		ORDER BY created_at ASC`,
		pair.String())
	if err != nil {
		return nil, fmt.Errorf("querying open orders: %w", err)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var o order.Order
		var pairStr, side, typ, status string
		var price, origQty, execQty, stopPrice, fee string
		if err := rows.Scan(&o.OrderID, &pairStr, &price, &origQty, &execQty,
			&side, &typ, &status, &stopPrice, &fee, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		p, err := market.ParsePair(pairStr)
		if err != nil {
			return nil, err
		}
		o.Pair = p
		o.Side = order.ParseSide(side)
		o.Type = order.ParseType(typ)
		o.Status = order.ParseStatus(status)
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&o.Price, price}, {&o.OriginalQuantity, origQty}, {&o.ExecutedQuantity, execQty},
			{&o.StopPrice, stopPrice}, {&o.Fee, fee},
		} {
			d, err := decimal.NewFromString(f.src)
			if err != nil {
				return nil, fmt.Errorf("parsing order decimal %q: %w", f.src, err)
			}
			*f.dst = d
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) LogEvent(ctx context.Context, ev JournalEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshaling journal data: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO journal (time, type, description, data) VALUES ($1, $2, $3, $4)`,
		ev.Time, ev.Type, ev.Description, data); err != nil {
		return fmt.Errorf("saving journal event: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
