package trader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
)

// Exchange is the order-execution backend behind the position engine.
// PaperExchange is the default and the only path exercised by
// automated tests; BinanceExchange is only reached when the operator
// configures mode=live with real API keys.
type Exchange interface {
	// PlaceMarketOrder submits a market order. qty is the desired base
	// quantity, pre-scaled by sizeMultiplier, for backends (Binance)
	// that cannot size from portfolio state themselves; sizeMultiplier
	// is also passed through so a backend that sizes from its own
	// accounting (PaperExchange) can apply it directly.
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64, sizeMultiplier float64) (Fill, error)
	CancelAll(ctx context.Context, symbol string) error
	AccountBalance(ctx context.Context) (float64, error)
}

// PaperExchange fills synthetically using the portfolio's own
// slippage/fee model — no network calls, no side
// effects beyond the Portfolio it wraps.
type PaperExchange struct {
	Portfolio *Portfolio
	Prices    func(symbol string) (float64, float64) // returns (price, atr)
}

// NewPaperExchange builds a PaperExchange over an existing portfolio.
func NewPaperExchange(p *Portfolio, prices func(symbol string) (float64, float64)) *PaperExchange {
	return &PaperExchange{Portfolio: p, Prices: prices}
}

func (e *PaperExchange) PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64, sizeMultiplier float64) (Fill, error) {
	price, atr := e.Prices(symbol)
	switch side {
	case Long:
		return e.Portfolio.OpenLong(symbol, price, atr, sizeMultiplier, time.Now())
	default:
		return e.Portfolio.OpenShort(symbol, price, atr, sizeMultiplier, time.Now())
	}
}

func (e *PaperExchange) CancelAll(ctx context.Context, symbol string) error {
	return nil // no resting orders in the paper model
}

func (e *PaperExchange) AccountBalance(ctx context.Context) (float64, error) {
	return e.Portfolio.Cash, nil
}

// BinanceExchange wraps adshao/go-binance/v2's spot client for
// mode=live. It never alters the portfolio's decision logic — it only supplies
// where the fill comes from.
type BinanceExchange struct {
	client *binance.Client
}

// NewBinanceExchange builds a client against Binance's production
// (or, with client.BaseURL overridden by the caller, testnet) API.
func NewBinanceExchange(apiKey, secretKey string) *BinanceExchange {
	return &BinanceExchange{client: binance.NewClient(apiKey, secretKey)}
}

func (e *BinanceExchange) PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64, sizeMultiplier float64) (Fill, error) {
	orderSide := binance.SideTypeBuy
	if side == Short {
		orderSide = binance.SideTypeSell
	}

	// Every call mints a fresh UUID client-order-id, so each submission
	// is a distinct order to the exchange; this method does not retry.
	clientOrderID := uuid.NewString()

	resp, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return Fill{}, fmt.Errorf("trader: binance order for %s failed: %w", symbol, err)
	}

	execPrice, fillQty := binanceFillTotals(resp)
	return Fill{
		Symbol:   symbol,
		Side:     side,
		Action:   "OPEN",
		Price:    execPrice,
		Quantity: fillQty,
	}, nil
}

func (e *BinanceExchange) CancelAll(ctx context.Context, symbol string) error {
	openOrders, err := e.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return fmt.Errorf("trader: list open orders for %s: %w", symbol, err)
	}
	for _, o := range openOrders {
		if _, err := e.client.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx); err != nil {
			return fmt.Errorf("trader: cancel order %d for %s: %w", o.OrderID, symbol, err)
		}
	}
	return nil
}

func (e *BinanceExchange) AccountBalance(ctx context.Context) (float64, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("trader: get account: %w", err)
	}
	var usdt float64
	for _, b := range account.Balances {
		if b.Asset == "USDT" {
			usdt, _ = strconv.ParseFloat(b.Free, 64)
			break
		}
	}
	return usdt, nil
}

// binanceFillTotals derives a volume-weighted execution price and the
// total filled quantity from a market order's individual fills.
func binanceFillTotals(resp *binance.CreateOrderResponse) (price, quantity float64) {
	if resp == nil {
		return 0, 0
	}
	if len(resp.Fills) == 0 {
		qty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
		price, _ = strconv.ParseFloat(resp.Price, 64)
		return price, qty
	}
	var notional float64
	for _, f := range resp.Fills {
		p, _ := strconv.ParseFloat(f.Price, 64)
		q, _ := strconv.ParseFloat(f.Quantity, 64)
		notional += p * q
		quantity += q
	}
	if quantity > 0 {
		price = notional / quantity
	}
	return price, quantity
}
