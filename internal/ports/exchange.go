package ports

import (
	"context"
	"time"

	"signalTradeBot/internal/domain"
)

// ExchangeOrderType is the venue order type.
type ExchangeOrderType string

const (
	OrderTypeMarket ExchangeOrderType = "MARKET"
	OrderTypeLimit  ExchangeOrderType = "LIMIT"
)

// TimeInForce values supported by the engine.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
)

// ExchangeOrderStatus is the venue-side order state.
type ExchangeOrderStatus string

const (
	ExchangeStatusNew             ExchangeOrderStatus = "New"
	ExchangeStatusPartiallyFilled ExchangeOrderStatus = "PartiallyFilled"
	ExchangeStatusFilled          ExchangeOrderStatus = "Filled"
	ExchangeStatusCancelled       ExchangeOrderStatus = "Cancelled"
	ExchangeStatusRejected        ExchangeOrderStatus = "Rejected"
	ExchangeStatusExpired         ExchangeOrderStatus = "Expired"
	ExchangeStatusUntriggered     ExchangeOrderStatus = "Untriggered"
)

// HasFill reports whether the order executed at least partially.
func (s ExchangeOrderStatus) HasFill() bool {
	return s == ExchangeStatusFilled || s == ExchangeStatusPartiallyFilled
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol      string
	Side        domain.OrderSide
	Type        ExchangeOrderType
	Quantity    float64
	Price       float64 // limit price, ignored for market orders
	TimeInForce TimeInForce
	StopLoss    float64 // embedded stop, only honoured when SupportsEmbeddedStopLoss
	ReduceOnly  bool
	PositionIdx int // 0 one-way mode, 1/2 hedge mode legs
	LinkID      string
}

// TradingStopRequest sets a stop that covers the entire position.
type TradingStopRequest struct {
	Symbol      string
	Direction   domain.Direction // direction of the position being protected
	StopLoss    float64
	PositionIdx int
}

// ExchangeOrder is the venue view of an order.
type ExchangeOrder struct {
	OrderID     string
	LinkID      string
	Symbol      string
	Side        domain.OrderSide
	Type        string
	Status      ExchangeOrderStatus
	Price       float64
	AvgPrice    float64
	Quantity    float64
	ExecutedQty float64
	StopPrice   float64
	ReduceOnly  bool
	UpdatedAt   time.Time
}

// FillPrice is the average fill price, or the order price if unknown.
func (o *ExchangeOrder) FillPrice() float64 {
	if o.AvgPrice > 0 {
		return o.AvgPrice
	}
	return o.Price
}

// BatchResult is the outcome of one order inside a batch submission.
type BatchResult struct {
	Order *ExchangeOrder
	Err   error
}

// OrderQuery filters historical orders. Empty ids return recent history.
type OrderQuery struct {
	Symbol  string
	OrderID string
	LinkID  string
	Limit   int
}

// ClosedPnL is one realised PnL record for a closed or reduced position.
type ClosedPnL struct {
	Symbol       string
	OrderID      string
	AvgExitPrice float64 // 0 when the venue does not report it
	Quantity     float64
	PnL          float64
	ClosedAt     time.Time
}

// Execution is a single fill.
type Execution struct {
	Symbol     string
	OrderID    string
	Side       domain.OrderSide
	Price      float64
	Quantity   float64
	RealisedPnL float64
	ExecutedAt time.Time
}

// ExchangeClient is the venue capability set the engine depends on.
type ExchangeClient interface {
	// Name identifies the venue; recorded on trades.
	Name() string

	// GetWalletBalance returns the wallet balance for a coin (e.g. "USDT").
	GetWalletBalance(ctx context.Context, coin string) (float64, error)

	// GetInstrument returns symbol constraints. Returns nil, nil when the venue has no metadata.
	GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error)

	// GetTickerPrice retrieves the last traded price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// SetLeverage sets leverage for a symbol on both sides.
	SetLeverage(ctx context.Context, symbol string, leverage float64) error

	// SubmitOrder places a single order.
	SubmitOrder(ctx context.Context, req OrderRequest) (*ExchangeOrder, error)

	// SubmitBatchOrders places several orders in one call. Results are index-aligned with reqs.
	SubmitBatchOrders(ctx context.Context, reqs []OrderRequest) ([]BatchResult, error)

	// SetTradingStop places a position-level stop and returns its order id if the venue assigns one.
	SetTradingStop(ctx context.Context, req TradingStopRequest) (string, error)

	// CancelOrder cancels an open order. Returns ErrOrderNotFound when it is no longer open.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOpenOrders lists open orders, optionally filtered to a single id.
	GetOpenOrders(ctx context.Context, symbol, orderID string) ([]*ExchangeOrder, error)

	// GetOrderHistory lists historical orders matching q.
	GetOrderHistory(ctx context.Context, q OrderQuery) ([]*ExchangeOrder, error)

	// GetPositions lists positions for a symbol, including flat ones when the venue reports them.
	GetPositions(ctx context.Context, symbol string) ([]*domain.Position, error)

	// GetClosedPnL lists realised PnL records since a time.
	GetClosedPnL(ctx context.Context, symbol string, since time.Time) ([]*ClosedPnL, error)

	// GetExecutions lists fills since a time.
	GetExecutions(ctx context.Context, symbol string, since time.Time) ([]*Execution, error)

	// SupportsEmbeddedStopLoss reports whether SubmitOrder honours OrderRequest.StopLoss.
	SupportsEmbeddedStopLoss() bool
}
