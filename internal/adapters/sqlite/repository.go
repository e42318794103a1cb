package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"

	"github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository and ports.OrderRepository interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
	now    func() time.Time
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trades.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL for concurrent readers; foreign keys so orders cascade with their trade
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer at a time; every channel monitor shares this handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger, now: func() time.Time { return time.Now().UTC() }}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite trade store ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL DEFAULT '',
		trading_pair TEXT NOT NULL,
		leverage REAL NOT NULL DEFAULT 1,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profits TEXT NOT NULL DEFAULT '[]',
		risk_percentage REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		exchange TEXT NOT NULL DEFAULT '',
		account_name TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		order_link_id TEXT NOT NULL DEFAULT '',
		position_id TEXT NOT NULL DEFAULT '',
		entry_order_type TEXT NOT NULL DEFAULT 'limit',
		status TEXT NOT NULL,
		entry_filled_at TIMESTAMP DEFAULT NULL,
		exit_price REAL DEFAULT NULL,
		exit_filled_at TIMESTAMP DEFAULT NULL,
		pnl REAL DEFAULT NULL,
		pnl_percentage REAL DEFAULT NULL,
		stop_loss_breakeven INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id INTEGER NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
		order_type TEXT NOT NULL,
		order_id TEXT DEFAULT NULL,
		price REAL NOT NULL DEFAULT 0,
		tp_index INTEGER DEFAULT NULL,
		quantity REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		filled_at TIMESTAMP DEFAULT NULL,
		filled_price REAL DEFAULT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- A single stop must cover the whole position, so one open trade per pair.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_open_pair ON trades (trading_pair)
		WHERE status IN ('pending', 'active', 'filled');
	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_trade_tp ON orders (trade_id, tp_index)
		WHERE order_type = 'take_profit';
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status);
	CREATE INDEX IF NOT EXISTS idx_orders_trade ON orders (trade_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// --- TradeRepository Implementation ---

const tradeColumns = `id, message_id, channel, trading_pair, leverage, entry_price, stop_loss, take_profits,
	risk_percentage, quantity, direction, exchange, account_name, order_id, order_link_id, position_id,
	entry_order_type, status, entry_filled_at, COALESCE(exit_price, 0), exit_filled_at, COALESCE(pnl, 0),
	COALESCE(pnl_percentage, 0), stop_loss_breakeven, created_at, updated_at, expires_at`

// InsertTrade saves a new trade and returns its assigned ID.
func (r *Repository) InsertTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	return r.insertTrade(ctx, r.db, trade)
}

// InsertTradeWithEntry saves a trade and its entry order in one transaction.
func (r *Repository) InsertTradeWithEntry(ctx context.Context, trade *domain.Trade, entry *domain.Order) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin trade insert: %w: %w", ports.ErrDBConnection, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	id, err := r.insertTrade(ctx, tx, trade)
	if err != nil {
		return 0, err
	}
	entry.TradeID = id
	if _, err := r.insertOrder(ctx, tx, entry); err != nil {
		trade.ID = 0
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		trade.ID, entry.ID = 0, 0
		return 0, fmt.Errorf("failed to commit trade %s: %w: %w", trade.TradingPair, ports.ErrQueryFailed, err)
	}
	return id, nil
}

func (r *Repository) insertTrade(ctx context.Context, db execer, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (message_id, channel, trading_pair, leverage, entry_price, stop_loss, take_profits,
	                    risk_percentage, quantity, direction, exchange, account_name, order_id, order_link_id,
	                    position_id, entry_order_type, status, stop_loss_breakeven, created_at, updated_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	tps, err := domain.EncodeTakeProfits(trade.TakeProfits)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for %s: %w: %w", trade.TradingPair, ports.ErrInvalidRequest, err)
	}
	now := r.now()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	trade.UpdatedAt = now
	if trade.Status == "" {
		trade.Status = domain.TradeStatusPending
	}

	result, err := db.ExecContext(ctx, query,
		trade.MessageID, trade.Channel, trade.TradingPair, trade.Leverage, trade.EntryPrice, trade.StopLoss, tps,
		trade.RiskPercentage, trade.Quantity, string(trade.Direction), trade.Exchange, trade.AccountName,
		trade.OrderID, trade.OrderLinkID, trade.PositionID, string(trade.EntryOrderType), string(trade.Status),
		trade.StopLossBreakeven, trade.CreatedAt, trade.UpdatedAt, nullTime(trade.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("trade for %s: %w: %w", trade.TradingPair, ports.ErrPairBusy, err)
		}
		return 0, fmt.Errorf("failed to insert trade for %s: %w: %w", trade.TradingPair, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.TradingPair, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade inserted", map[string]interface{}{"tradeID": id, "symbol": trade.TradingPair, "status": trade.Status})
	return id, nil
}

// UpdateTrade merges the non-nil fields of u. Terminal trades are never modified.
func (r *Repository) UpdateTrade(ctx context.Context, id int64, u domain.TradeUpdate) error {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Leverage != nil {
		add("leverage", *u.Leverage)
	}
	if u.EntryPrice != nil {
		add("entry_price", *u.EntryPrice)
	}
	if u.StopLoss != nil {
		add("stop_loss", *u.StopLoss)
	}
	if u.Quantity != nil {
		add("quantity", *u.Quantity)
	}
	if u.OrderID != nil {
		add("order_id", *u.OrderID)
	}
	if u.PositionID != nil {
		add("position_id", *u.PositionID)
	}
	if u.EntryFilledAt != nil {
		add("entry_filled_at", nullTime(*u.EntryFilledAt))
	}
	if u.ExitPrice != nil {
		add("exit_price", *u.ExitPrice)
	}
	if u.ExitFilledAt != nil {
		add("exit_filled_at", nullTime(*u.ExitFilledAt))
	}
	if u.PnL != nil {
		add("pnl", *u.PnL)
	}
	if u.PnLPercentage != nil {
		add("pnl_percentage", *u.PnLPercentage)
	}
	if u.StopLossBreakeven != nil {
		add("stop_loss_breakeven", *u.StopLossBreakeven)
	}
	add("updated_at", r.now())

	query := fmt.Sprintf(`UPDATE trades SET %s WHERE id = ? AND status IN ('pending', 'active', 'filled')`, strings.Join(sets, ", "))
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w: %w", id, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", id, err)
	}
	if rowsAffected == 0 {
		existing, err := r.GetTrade(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("trade ID %d not found for update: %w", id, ports.ErrNotFound)
		}
		return fmt.Errorf("trade ID %d is %s: %w", id, existing.Status, ports.ErrTradeTerminal)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": id, "fields": len(sets)})
	return nil
}

// GetTrade returns a trade by ID, or nil, nil when it does not exist.
func (r *Repository) GetTrade(ctx context.Context, id int64) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade ID %d: %w: %w", id, ports.ErrQueryFailed, err)
	}
	return trade, nil
}

// GetActiveTrades returns every trade the monitor still owns.
func (r *Repository) GetActiveTrades(ctx context.Context) ([]*domain.Trade, error) {
	return r.GetTradesByStatus(ctx, domain.OpenTradeStatuses...)
}

// GetTradesByStatus returns trades in any of the given statuses, oldest first.
func (r *Repository) GetTradesByStatus(ctx context.Context, statuses ...domain.TradeStatus) ([]*domain.Trade, error) {
	if len(statuses) == 0 {
		return []*domain.Trade{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status IN (` + placeholders + `) ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades by status: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// FindOpenByPair returns the open trade for a pair, or nil, nil.
func (r *Repository) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE trading_pair = ? AND status IN ('pending', 'active', 'filled')`, pair)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open trade for %s: %w: %w", pair, ports.ErrQueryFailed, err)
	}
	return trade, nil
}

// DeleteTrade removes a trade together with its orders.
func (r *Repository) DeleteTrade(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trades WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trade ID %d: %w: %w", id, ports.ErrDeleteFailed, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("trade ID %d not found for delete: %w", id, ports.ErrNotFound)
	}
	return nil
}

// --- OrderRepository Implementation ---

const orderColumns = `id, trade_id, order_type, COALESCE(order_id, ''), price, COALESCE(tp_index, 0), quantity,
	status, filled_at, COALESCE(filled_price, 0), created_at, updated_at`

// InsertOrder saves a new order and returns its assigned ID.
func (r *Repository) InsertOrder(ctx context.Context, order *domain.Order) (int64, error) {
	return r.insertOrder(ctx, r.db, order)
}

func (r *Repository) insertOrder(ctx context.Context, db execer, order *domain.Order) (int64, error) {
	const query = `
	INSERT INTO orders (trade_id, order_type, order_id, price, tp_index, quantity, status, filled_at, filled_price, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := r.now()
	order.CreatedAt, order.UpdatedAt = now, now
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	var orderID sql.NullString
	if order.OrderID != "" {
		orderID = sql.NullString{String: order.OrderID, Valid: true}
	}
	var tpIndex sql.NullInt64
	if order.OrderType == domain.OrderTypeTakeProfit {
		tpIndex = sql.NullInt64{Int64: int64(order.TPIndex), Valid: true}
	}
	var filledPrice sql.NullFloat64
	if order.FilledPrice > 0 {
		filledPrice = sql.NullFloat64{Float64: order.FilledPrice, Valid: true}
	}

	result, err := db.ExecContext(ctx, query,
		order.TradeID, string(order.OrderType), orderID, order.Price, tpIndex, order.Quantity,
		string(order.Status), nullTime(order.FilledAt), filledPrice, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("order %s #%d for trade %d: %w: %w", order.OrderType, order.TPIndex, order.TradeID, ports.ErrDuplicateEntry, err)
		}
		return 0, fmt.Errorf("failed to insert order for trade %d: %w: %w", order.TradeID, ports.ErrQueryFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for order of trade %d: %w", order.TradeID, err)
	}
	order.ID = id
	r.logger.Debug(ctx, "Order inserted", map[string]interface{}{"tradeID": order.TradeID, "orderRowID": id, "type": order.OrderType, "orderID": order.OrderID})
	return id, nil
}

// UpdateOrder merges the non-nil fields of u.
func (r *Repository) UpdateOrder(ctx context.Context, id int64, u domain.OrderUpdate) error {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.OrderID != nil {
		add("order_id", *u.OrderID)
	}
	if u.Price != nil {
		add("price", *u.Price)
	}
	if u.Quantity != nil {
		add("quantity", *u.Quantity)
	}
	if u.FilledAt != nil {
		add("filled_at", nullTime(*u.FilledAt))
	}
	if u.FilledPrice != nil {
		add("filled_price", *u.FilledPrice)
	}
	add("updated_at", r.now())
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, fmt.Sprintf(`UPDATE orders SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("failed to update order ID %d: %w: %w", id, ports.ErrUpdateFailed, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("order ID %d not found for update: %w", id, ports.ErrNotFound)
	}
	return nil
}

// GetOrdersByTradeID returns the orders of a trade in insertion order.
func (r *Repository) GetOrdersByTradeID(ctx context.Context, tradeID int64) ([]*domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE trade_id = ? ORDER BY id`, tradeID)
}

// GetOrdersByStatus returns all orders in a status.
func (r *Repository) GetOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY id`, string(status))
}

func (r *Repository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var tps, direction, entryType, status string
	var entryFilledAt, exitFilledAt, expiresAt sql.NullTime
	err := s.Scan(
		&t.ID, &t.MessageID, &t.Channel, &t.TradingPair, &t.Leverage, &t.EntryPrice, &t.StopLoss, &tps,
		&t.RiskPercentage, &t.Quantity, &direction, &t.Exchange, &t.AccountName, &t.OrderID, &t.OrderLinkID,
		&t.PositionID, &entryType, &status, &entryFilledAt, &t.ExitPrice, &exitFilledAt, &t.PnL,
		&t.PnLPercentage, &t.StopLossBreakeven, &t.CreatedAt, &t.UpdatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	if t.TakeProfits, err = domain.DecodeTakeProfits(tps); err != nil {
		return nil, err
	}
	if t.Status, err = domain.ParseTradeStatus(status); err != nil {
		return nil, err
	}
	t.Direction = domain.Direction(direction)
	t.EntryOrderType = domain.EntryOrderType(entryType)
	t.EntryFilledAt = entryFilledAt.Time
	t.ExitFilledAt = exitFilledAt.Time
	t.ExpiresAt = expiresAt.Time
	return t, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var orderType, status string
	var filledAt sql.NullTime
	err := s.Scan(&o.ID, &o.TradeID, &orderType, &o.OrderID, &o.Price, &o.TPIndex, &o.Quantity,
		&status, &filledAt, &o.FilledPrice, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.OrderType, err = domain.ParseOrderType(orderType); err != nil {
		return nil, err
	}
	if o.Status, err = domain.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	o.FilledAt = filledAt.Time
	return o, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
