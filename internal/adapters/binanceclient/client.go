package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	exchangeName        = "binance"
	defaultHistoryLimit = 50
)

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	return &Client{futuresClient: client, logger: cfg.Logger}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := mapAPICode(apiErr.Code)
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func mapAPICode(code int64) error {
	switch code {
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2010, -2022: // New order rejected, ReduceOnly rejected
		return ports.ErrOrderPlacementFailed
	case -2011, -2013: // Unknown order sent, Order does not exist
		return ports.ErrOrderNotFound
	case -2014, -2015:
		return ports.ErrInvalidAPIKeys
	case -2019, -3005, -3041: // Margin or balance insufficient
		return ports.ErrInsufficientFunds
	case -2027: // Exceeded the maximum allowable position at current leverage
		return ports.ErrPositionLimit
	case -4003, -4014, -4015: // Qty, price or leverage out of range
		return ports.ErrInvalidRequest
	case -4044:
		return ports.ErrPositionNotFound
	default:
		return ports.ErrUnknown
	}
}

// Name identifies the venue.
func (c *Client) Name() string { return exchangeName }

// SupportsEmbeddedStopLoss is false: Binance futures orders cannot carry a stop.
func (c *Client) SupportsEmbeddedStopLoss() bool { return false }

// GetWalletBalance retrieves the wallet balance for a specific asset (e.g., "USDT").
func (c *Client) GetWalletBalance(ctx context.Context, coin string) (float64, error) {
	op := "GetWalletBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset == coin {
			balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.WalletBalance, coin, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}

	err = fmt.Errorf("asset %s not found in account balance", coin)
	return 0, c.handleError(ctx, err, op)
}

// GetInstrument reads lot size and price filters from exchange info.
func (c *Client) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	op := "GetInstrument"
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		inst := &domain.Instrument{
			Symbol:         symbol,
			PricePrecision: s.PricePrecision,
			QtyPrecision:   s.QuantityPrecision,
		}
		if lot := s.LotSizeFilter(); lot != nil {
			inst.QtyStep = parseFloat(lot.StepSize)
			inst.MinOrderQty = parseFloat(lot.MinQuantity)
			inst.MaxOrderQty = parseFloat(lot.MaxQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			inst.TickSize = parseFloat(pf.TickSize)
		}
		return inst, nil
	}
	c.logger.Warn(ctx, op+": symbol not listed", map[string]interface{}{"symbol": symbol})
	return nil, nil
}

// GetTickerPrice retrieves the last ticker price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].LastPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// SetLeverage sets the leverage for a symbol. Binance only accepts whole numbers.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	op := "SetLeverage"
	lev := wholeLeverage(leverage)
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(lev).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": lev})
	return nil
}

func (c *Client) buildOrder(req ports.OrderRequest) *futures.CreateOrderService {
	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Quantity(formatDecimal(req.Quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	switch req.Type {
	case ports.OrderTypeLimit:
		tif := futures.TimeInForceTypeGTC
		if req.TimeInForce == ports.TimeInForceIOC {
			tif = futures.TimeInForceTypeIOC
		}
		svc = svc.Type(futures.OrderTypeLimit).Price(formatDecimal(req.Price)).TimeInForce(tif)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if ps := positionSide(req.PositionIdx); ps != "" {
		svc = svc.PositionSide(ps)
	}
	if req.LinkID != "" {
		svc = svc.NewClientOrderID(req.LinkID)
	}
	return svc
}

// SubmitOrder places a single order. A position-limit rejection is annotated
// with the highest leverage the venue's brackets allow for this notional.
func (c *Client) SubmitOrder(ctx context.Context, req ports.OrderRequest) (*ports.ExchangeOrder, error) {
	op := "SubmitOrder"
	res, err := c.buildOrder(req).Do(ctx)
	if err != nil {
		mapped := c.handleError(ctx, err, op)
		if errors.Is(mapped, ports.ErrPositionLimit) {
			if lev, ok := c.maxLeverageFor(ctx, req.Symbol, req.Quantity*req.Price); ok {
				mapped = fmt.Errorf("%w; max allowed leverage is %d", mapped, lev)
			}
		}
		return nil, mapped
	}
	order := translateCreateResponse(res)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "type": req.Type, "quantity": req.Quantity,
		"price": req.Price, "orderID": order.OrderID, "status": order.Status,
	})
	return order, nil
}

// SubmitBatchOrders places up to five orders per call, matching results back by client id.
func (c *Client) SubmitBatchOrders(ctx context.Context, reqs []ports.OrderRequest) ([]ports.BatchResult, error) {
	op := "SubmitBatchOrders"
	results := make([]ports.BatchResult, len(reqs))
	const maxBatch = 5
	for start := 0; start < len(reqs); start += maxBatch {
		end := start + maxBatch
		if end > len(reqs) {
			end = len(reqs)
		}
		services := make([]*futures.CreateOrderService, 0, end-start)
		for i := start; i < end; i++ {
			if reqs[i].LinkID == "" {
				reqs[i].LinkID = fmt.Sprintf("b%d-%d", time.Now().UnixNano(), i)
			}
			services = append(services, c.buildOrder(reqs[i]))
		}
		res, err := c.futuresClient.NewCreateBatchOrdersService().OrderList(services).Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		byLink := make(map[string]*futures.Order)
		for _, o := range res.Orders {
			if o != nil {
				byLink[o.ClientOrderID] = o
			}
		}
		for i := start; i < end; i++ {
			if o, ok := byLink[reqs[i].LinkID]; ok {
				results[i].Order = translateOrder(o)
			} else {
				results[i].Err = fmt.Errorf("%s: order %s rejected: %w", op, reqs[i].LinkID, ports.ErrOrderPlacementFailed)
			}
		}
	}
	return results, nil
}

// SetTradingStop places a closePosition stop-market order, which always covers the full position.
func (c *Client) SetTradingStop(ctx context.Context, req ports.TradingStopRequest) (string, error) {
	op := "SetTradingStop"
	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Direction.ExitSide())).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatDecimal(req.StopLoss)).
		ClosePosition(true)
	if ps := positionSide(req.PositionIdx); ps != "" {
		svc = svc.PositionSide(ps)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return "", c.handleError(ctx, err, op)
	}
	id := strconv.FormatInt(res.OrderID, 10)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": req.Symbol, "stopLoss": req.StopLoss, "orderID": id})
	return id, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s failed: %w: bad order id %q", op, ports.ErrInvalidRequest, orderID)
	}
	_, err = c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return nil
}

// GetOpenOrders lists open orders for a symbol, optionally filtered to one id.
func (c *Client) GetOpenOrders(ctx context.Context, symbol, orderID string) ([]*ports.ExchangeOrder, error) {
	op := "GetOpenOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*ports.ExchangeOrder, 0, len(orders))
	for _, o := range orders {
		if orderID != "" && strconv.FormatInt(o.OrderID, 10) != orderID {
			continue
		}
		out = append(out, translateOrder(o))
	}
	return out, nil
}

// GetOrderHistory looks an order up by id or client id, or lists recent orders.
func (c *Client) GetOrderHistory(ctx context.Context, q ports.OrderQuery) ([]*ports.ExchangeOrder, error) {
	op := "GetOrderHistory"
	if q.OrderID != "" || q.LinkID != "" {
		svc := c.futuresClient.NewGetOrderService().Symbol(q.Symbol)
		if q.OrderID != "" {
			id, err := strconv.ParseInt(q.OrderID, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s failed: %w: bad order id %q", op, ports.ErrInvalidRequest, q.OrderID)
			}
			svc = svc.OrderID(id)
		} else {
			svc = svc.OrigClientOrderID(q.LinkID)
		}
		o, err := svc.Do(ctx)
		if err != nil {
			mapped := c.handleError(ctx, err, op)
			if errors.Is(mapped, ports.ErrOrderNotFound) {
				return []*ports.ExchangeOrder{}, nil
			}
			return nil, mapped
		}
		return []*ports.ExchangeOrder{translateOrder(o)}, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	orders, err := c.futuresClient.NewListOrdersService().Symbol(q.Symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*ports.ExchangeOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, translateOrder(o))
	}
	return out, nil
}

// GetPositions lists position risk rows for a symbol.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]*domain.Position, error) {
	op := "GetPositions"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, translatePositionRisk(p))
	}
	return out, nil
}

// GetClosedPnL reads REALIZED_PNL income records. Binance does not report an exit price there.
func (c *Client) GetClosedPnL(ctx context.Context, symbol string, since time.Time) ([]*ports.ClosedPnL, error) {
	op := "GetClosedPnL"
	svc := c.futuresClient.NewGetIncomeHistoryService().Symbol(symbol).IncomeType("REALIZED_PNL")
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	incomes, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*ports.ClosedPnL, 0, len(incomes))
	for _, in := range incomes {
		out = append(out, &ports.ClosedPnL{
			Symbol:   in.Symbol,
			OrderID:  in.TradeID,
			PnL:      parseFloat(in.Income),
			ClosedAt: time.UnixMilli(in.Time),
		})
	}
	return out, nil
}

// GetExecutions lists account trades since a time.
func (c *Client) GetExecutions(ctx context.Context, symbol string, since time.Time) ([]*ports.Execution, error) {
	op := "GetExecutions"
	svc := c.futuresClient.NewListAccountTradeService().Symbol(symbol)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	trades, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*ports.Execution, 0, len(trades))
	for _, t := range trades {
		out = append(out, &ports.Execution{
			Symbol:      t.Symbol,
			OrderID:     strconv.FormatInt(t.OrderID, 10),
			Side:        domain.OrderSide(t.Side),
			Price:       parseFloat(t.Price),
			Quantity:    parseFloat(t.Quantity),
			RealisedPnL: parseFloat(t.RealizedPnl),
			ExecutedAt:  time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

// maxLeverageFor returns the initial leverage of the bracket containing notional.
func (c *Client) maxLeverageFor(ctx context.Context, symbol string, notional float64) (int, bool) {
	brackets, err := c.futuresClient.NewGetLeverageBracketService().Symbol(symbol).Do(ctx)
	if err != nil || len(brackets) == 0 {
		c.logger.Warn(ctx, "Leverage brackets unavailable", map[string]interface{}{"symbol": symbol})
		return 0, false
	}
	tiers := make([]bracketTier, 0, len(brackets[0].Brackets))
	for _, b := range brackets[0].Brackets {
		tiers = append(tiers, bracketTier{floor: b.NotionalFloor, cap: b.NotionalCap, leverage: b.InitialLeverage})
	}
	return leverageForNotional(tiers, notional)
}

type bracketTier struct {
	floor    float64
	cap      float64
	leverage int
}

func leverageForNotional(tiers []bracketTier, notional float64) (int, bool) {
	for _, t := range tiers {
		if notional >= t.floor && notional < t.cap {
			return t.leverage, t.leverage > 0
		}
	}
	return 0, false
}

// --- Translation Helpers ---

func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func wholeLeverage(v float64) int {
	lev := int(math.Floor(v))
	if lev < 1 {
		return 1
	}
	return lev
}

func positionSide(idx int) futures.PositionSideType {
	switch idx {
	case 1:
		return futures.PositionSideTypeLong
	case 2:
		return futures.PositionSideTypeShort
	default:
		return ""
	}
}

func translateStatus(s futures.OrderStatusType) ports.ExchangeOrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return ports.ExchangeStatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return ports.ExchangeStatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return ports.ExchangeStatusFilled
	case futures.OrderStatusTypeCanceled:
		return ports.ExchangeStatusCancelled
	case futures.OrderStatusTypeRejected:
		return ports.ExchangeStatusRejected
	case futures.OrderStatusTypeExpired:
		return ports.ExchangeStatusExpired
	default:
		return ports.ExchangeOrderStatus(s)
	}
}

func translateCreateResponse(o *futures.CreateOrderResponse) *ports.ExchangeOrder {
	if o == nil {
		return nil
	}
	return &ports.ExchangeOrder{
		OrderID:     strconv.FormatInt(o.OrderID, 10),
		LinkID:      o.ClientOrderID,
		Symbol:      o.Symbol,
		Side:        domain.OrderSide(o.Side),
		Type:        string(o.Type),
		Status:      translateStatus(o.Status),
		Price:       parseFloat(o.Price),
		AvgPrice:    parseFloat(o.AvgPrice),
		Quantity:    parseFloat(o.OrigQuantity),
		ExecutedQty: parseFloat(o.ExecutedQuantity),
		StopPrice:   parseFloat(o.StopPrice),
		ReduceOnly:  o.ReduceOnly,
		UpdatedAt:   time.UnixMilli(o.UpdateTime),
	}
}

func translateOrder(o *futures.Order) *ports.ExchangeOrder {
	if o == nil {
		return nil
	}
	return &ports.ExchangeOrder{
		OrderID:     strconv.FormatInt(o.OrderID, 10),
		LinkID:      o.ClientOrderID,
		Symbol:      o.Symbol,
		Side:        domain.OrderSide(o.Side),
		Type:        string(o.Type),
		Status:      translateStatus(o.Status),
		Price:       parseFloat(o.Price),
		AvgPrice:    parseFloat(o.AvgPrice),
		Quantity:    parseFloat(o.OrigQuantity),
		ExecutedQty: parseFloat(o.ExecutedQuantity),
		StopPrice:   parseFloat(o.StopPrice),
		ReduceOnly:  o.ReduceOnly,
		UpdatedAt:   time.UnixMilli(o.UpdateTime),
	}
}

func translatePositionRisk(pos *futures.PositionRisk) *domain.Position {
	amt := parseFloat(pos.PositionAmt)
	side := domain.Buy
	if amt < 0 || pos.PositionSide == string(futures.PositionSideTypeShort) {
		side = domain.Sell
	}
	idx := 0
	switch pos.PositionSide {
	case string(futures.PositionSideTypeLong):
		idx = 1
	case string(futures.PositionSideTypeShort):
		idx = 2
	}
	return &domain.Position{
		Symbol:           pos.Symbol,
		Side:             side,
		Size:             math.Abs(amt),
		EntryPrice:       parseFloat(pos.EntryPrice),
		MarkPrice:        parseFloat(pos.MarkPrice),
		Leverage:         parseFloat(pos.Leverage),
		UnrealisedPnL:    parseFloat(pos.UnRealizedProfit),
		MaxNotionalValue: parseFloat(pos.MaxNotionalValue),
		PositionIdx:      idx,
	}
}
