package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coachpo/marketmaker/internal/schema"
)

// FillStore persists executed fills for reconciliation and PnL review.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore constructs a FillStore backed by the provided pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const (
	fillInsertSQL = `
INSERT INTO fills (
    symbol,
    client_order_id,
    side,
    fill_qty,
    fill_price,
    fee,
    traded_at
)
VALUES (
    @symbol,
    @client_order_id,
    @side,
    @fill_qty,
    @fill_price,
    @fee,
    @traded_at
);
`

	fillSelectBase = `
SELECT
    f.id,
    f.symbol,
    f.client_order_id,
    f.side,
    f.fill_qty::text,
    f.fill_price::text,
    f.fee::text,
    f.traded_at,
    f.created_at
FROM fills f
`

	defaultFillLimit = 100
	maxFillLimit     = 1000
)

// FillQuery filters ListFills results.
type FillQuery struct {
	Symbol string
	Side   schema.Side
	Since  time.Time
	Limit  int
}

// FillRecord is a persisted fill row.
type FillRecord struct {
	ID        int64
	Fill      schema.Fill
	CreatedAt time.Time
}

func (s *FillStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("fill store: nil pool")
	}
	return s.pool, nil
}

// RecordFill inserts one executed fill.
func (s *FillStore) RecordFill(ctx context.Context, fill schema.Fill) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(fill.ClientOrderID) == "" {
		return fmt.Errorf("fill store: client order id required")
	}
	args := pgx.NamedArgs{
		"symbol":          strings.TrimSpace(fill.Symbol),
		"client_order_id": strings.TrimSpace(fill.ClientOrderID),
		"side":            string(fill.Side),
		"fill_qty":        fill.FilledQty.String(),
		"fill_price":      fill.FillPrice.String(),
		"fee":             fill.FeeAmount.String(),
		"traded_at":       fill.Timestamp,
	}
	if _, err := pool.Exec(ctx, fillInsertSQL, args); err != nil {
		return fmt.Errorf("fill store: insert fill: %w", err)
	}
	return nil
}

// ListFills retrieves persisted fills matching the supplied filters, newest
// first.
func (s *FillStore) ListFills(ctx context.Context, query FillQuery) ([]FillRecord, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	limit := clampLimit(query.Limit, defaultFillLimit, maxFillLimit)

	builder := strings.Builder{}
	builder.WriteString(fillSelectBase)
	builder.WriteString(" WHERE 1=1")

	args := make([]any, 0, 4)
	argPos := 1

	if trimmed := strings.TrimSpace(query.Symbol); trimmed != "" {
		fmt.Fprintf(&builder, " AND f.symbol = $%d", argPos)
		args = append(args, trimmed)
		argPos++
	}
	if query.Side != "" {
		fmt.Fprintf(&builder, " AND f.side = $%d", argPos)
		args = append(args, string(query.Side))
		argPos++
	}
	if !query.Since.IsZero() {
		fmt.Fprintf(&builder, " AND f.traded_at >= $%d", argPos)
		args = append(args, query.Since)
		argPos++
	}
	fmt.Fprintf(&builder, " ORDER BY f.traded_at DESC LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fill store: list fills: %w", err)
	}
	defer rows.Close()

	var records []FillRecord
	for rows.Next() {
		var (
			id            int64
			symbol        string
			clientOrderID string
			side          string
			qtyText       string
			priceText     string
			feeText       string
			tradedAt      time.Time
			createdAt     time.Time
		)
		if err := rows.Scan(&id, &symbol, &clientOrderID, &side, &qtyText, &priceText, &feeText, &tradedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("fill store: scan fill: %w", err)
		}
		qty, err := parseNumeric("fill_qty", qtyText)
		if err != nil {
			return nil, err
		}
		price, err := parseNumeric("fill_price", priceText)
		if err != nil {
			return nil, err
		}
		fee, err := parseNumeric("fee", feeText)
		if err != nil {
			return nil, err
		}
		records = append(records, FillRecord{
			ID: id,
			Fill: schema.Fill{
				Symbol:        symbol,
				ClientOrderID: clientOrderID,
				Side:          schema.Side(side),
				FilledQty:     qty,
				FillPrice:     price,
				FeeAmount:     fee,
				Timestamp:     tradedAt,
			},
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fill store: iterate fills: %w", err)
	}
	return records, nil
}

func parseNumeric(column, text string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fill store: parse %s %q: %w", column, text, err)
	}
	return value, nil
}

func clampLimit(value, fallback, maximum int) int {
	if value <= 0 {
		return fallback
	}
	if value > maximum {
		return maximum
	}
	return value
}
