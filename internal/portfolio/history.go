package portfolio

import (
	"database/sql"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"go.uber.org/zap"
)

// TradeHistory is the append-only trade archive backed by duckdb.
type TradeHistory struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewTradeHistory opens the archive at path. An empty path uses an in-memory
// database.
func NewTradeHistory(path string, logger *logger.Logger) (*TradeHistory, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to open trade history database", err)
	}

	history := &TradeHistory{
		db:     db,
		logger: logger,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := history.initialize(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return history, nil
}

func (h *TradeHistory) initialize() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			order_id TEXT,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			price DOUBLE,
			fee DOUBLE,
			pnl DOUBLE,
			executed_at TIMESTAMP,
			strategy_name TEXT,
			cash_after DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create trades table", err)
	}

	return nil
}

// Append archives one trade record.
func (h *TradeHistory) Append(record types.TradeRecord) error {
	query := h.sq.
		Insert("trades").
		Columns(
			"order_id",
			"symbol",
			"side",
			"quantity",
			"price",
			"fee",
			"pnl",
			"executed_at",
			"strategy_name",
			"cash_after",
		).
		Values(
			record.OrderID,
			record.Symbol,
			string(record.Side),
			record.Quantity,
			record.Price,
			record.Fee,
			record.PnL,
			record.ExecutedAt,
			record.StrategyName,
			record.CashAfter,
		)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to build insert", err)
	}

	if _, err := h.db.Exec(sqlStr, args...); err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to insert trade", err)
	}

	return nil
}

// Trades returns the archived trades for a symbol in execution order. An empty
// symbol returns every trade.
func (h *TradeHistory) Trades(symbol string) ([]types.TradeRecord, error) {
	query := h.sq.
		Select(
			"order_id",
			"symbol",
			"side",
			"quantity",
			"price",
			"fee",
			"pnl",
			"executed_at",
			"strategy_name",
			"cash_after",
		).
		From("trades").
		OrderBy("executed_at ASC")

	if symbol != "" {
		query = query.Where(squirrel.Eq{"symbol": symbol})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeHistoryFailed, "failed to build select", err)
	}

	rows, err := h.db.Query(sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeHistoryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var records []types.TradeRecord

	for rows.Next() {
		var record types.TradeRecord

		var side string

		err := rows.Scan(
			&record.OrderID,
			&record.Symbol,
			&side,
			&record.Quantity,
			&record.Price,
			&record.Fee,
			&record.PnL,
			&record.ExecutedAt,
			&record.StrategyName,
			&record.CashAfter,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeHistoryFailed, "failed to scan trade", err)
		}

		record.Side = types.Side(side)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeHistoryFailed, "failed to read trades", err)
	}

	return records, nil
}

// Count returns the number of archived trades.
func (h *TradeHistory) Count() (int, error) {
	var count int
	if err := h.db.QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeHistoryFailed, "failed to count trades", err)
	}

	return count, nil
}

// Close releases the underlying database.
func (h *TradeHistory) Close() error {
	if err := h.db.Close(); err != nil {
		h.logger.Error("failed to close trade history", zap.Error(err))

		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to close trade history", err)
	}

	return nil
}
