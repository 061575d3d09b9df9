// FILE: broker_binance.go
// Package main – Binance USDT-M futures implementation of the broker
// interfaces (market data, account, execution).
//
// Instrument metadata is fetched once from exchangeInfo and cached for the
// process lifetime. Credential rejections from the API are mapped onto
// errCredentialMissing so the scheduler can halt instead of retrying
// forever.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const (
	lowerInterval = "3m"
	trendInterval = "30m"
	klineLimit    = 200
	depthLevels   = 5
)

// BinanceBroker implements MarketDataProvider, AccountProvider and
// OrderExecutor against Binance futures.
type BinanceBroker struct {
	client *futures.Client
	logs   *LogRing

	metaMu sync.Mutex
	meta   map[string]InstrumentMeta
}

// NewBinanceBroker builds a broker from API credentials. Empty credentials
// are allowed for market-data-only use; account and order calls will fail
// with errCredentialMissing.
func NewBinanceBroker(apiKey, apiSecret string, testnet bool, logs *LogRing) *BinanceBroker {
	if testnet {
		futures.UseTestnet = true
	}
	return &BinanceBroker{
		client: futures.NewClient(apiKey, apiSecret),
		logs:   logs,
		meta:   make(map[string]InstrumentMeta),
	}
}

// Snapshot assembles the full market view for one symbol: both candle
// series, mark price, funding, open interest and top-of-book depth.
func (b *BinanceBroker) Snapshot(ctx context.Context, symbol string) (MarketSnapshot, error) {
	snap := MarketSnapshot{Symbol: symbol}

	lower, err := b.klines(ctx, symbol, lowerInterval)
	if err != nil {
		return snap, fmt.Errorf("%w: %s klines %s: %v", errDataUnavailable, symbol, lowerInterval, err)
	}
	trend, err := b.klines(ctx, symbol, trendInterval)
	if err != nil {
		return snap, fmt.Errorf("%w: %s klines %s: %v", errDataUnavailable, symbol, trendInterval, err)
	}
	snap.LowerTF, snap.TrendTF = lower, trend

	idx, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil || len(idx) == 0 {
		return snap, fmt.Errorf("%w: %s premium index: %v", errDataUnavailable, symbol, err)
	}
	snap.Price = parseF(idx[0].MarkPrice)
	snap.Funding = parseF(idx[0].LastFundingRate)

	if oi, err := b.client.NewGetOpenInterestService().Symbol(symbol).Do(ctx); err == nil {
		snap.OpenInt = parseF(oi.OpenInterest)
	}
	if depth, err := b.client.NewDepthService().Symbol(symbol).Limit(depthLevels).Do(ctx); err == nil {
		for _, lvl := range depth.Bids {
			snap.BidDepth += parseF(lvl.Price) * parseF(lvl.Quantity)
		}
		for _, lvl := range depth.Asks {
			snap.AskDepth += parseF(lvl.Price) * parseF(lvl.Quantity)
		}
	}
	return snap, nil
}

func (b *BinanceBroker) klines(ctx context.Context, symbol, interval string) ([]Candle, error) {
	ks, err := b.client.NewKlinesService().
		Symbol(symbol).Interval(interval).Limit(klineLimit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(ks))
	for _, k := range ks {
		out = append(out, Candle{
			Time:   k.OpenTime / 1000,
			Open:   parseF(k.Open),
			High:   parseF(k.High),
			Low:    parseF(k.Low),
			Close:  parseF(k.Close),
			Volume: parseF(k.Volume),
		})
	}
	return out, nil
}

// Instrument returns cached contract metadata, loading exchangeInfo on
// first use.
func (b *BinanceBroker) Instrument(ctx context.Context, symbol string) (InstrumentMeta, error) {
	b.metaMu.Lock()
	m, ok := b.meta[symbol]
	b.metaMu.Unlock()
	if ok {
		return m, nil
	}

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return InstrumentMeta{}, fmt.Errorf("%w: exchangeInfo: %v", errDataUnavailable, err)
	}
	b.metaMu.Lock()
	defer b.metaMu.Unlock()
	for _, s := range info.Symbols {
		m := InstrumentMeta{
			Symbol:        s.Symbol,
			ContractValue: 1.0, // USDT-M linear: 1 contract = 1 base unit
			Tradable:      s.Status == "TRADING",
			LotPrecision:  int32(s.QuantityPrecision),
		}
		for _, filter := range s.Filters {
			switch filter["filterType"] {
			case "LOT_SIZE":
				if step, ok := filter["stepSize"].(string); ok {
					m.LotSize = parseF(step)
					m.LotPrecision = stepPrecision(step)
				}
				if minQty, ok := filter["minQty"].(string); ok {
					m.MinSize = parseF(minQty)
				}
			case "PRICE_FILTER":
				if tick, ok := filter["tickSize"].(string); ok {
					m.TickSize = parseF(tick)
				}
			}
		}
		b.meta[s.Symbol] = m
	}
	m, ok = b.meta[symbol]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("%w: symbol %s not listed", errDataUnavailable, symbol)
	}
	return m, nil
}

// Account maps the futures account onto an AccountSnapshot. Only nonzero
// positions are included; the position side is derived from the sign of
// the amount.
func (b *BinanceBroker) Account(ctx context.Context) (AccountSnapshot, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return AccountSnapshot{}, wrapCredErr(err, "account")
	}
	snap := AccountSnapshot{
		Equity:    parseF(acct.TotalWalletBalance) + parseF(acct.TotalUnrealizedProfit),
		Available: parseF(acct.AvailableBalance),
	}
	for _, p := range acct.Positions {
		amt := parseF(p.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "BUY"
		if amt < 0 {
			side = "SELL"
		}
		lev, _ := strconv.Atoi(p.Leverage)
		entry := parseF(p.EntryPrice)
		ps := PositionSnapshot{
			Symbol:   p.Symbol,
			Side:     side,
			Size:     math.Abs(amt),
			AvgPrice: entry,
			Leverage: lev,
		}
		// ROI = pnl / margin, margin = notional / leverage.
		if entry > 0 && ps.Size > 0 && lev > 0 {
			margin := entry * ps.Size / float64(lev)
			if margin > 0 {
				ps.UnrealizedRoi = parseF(p.UnrealizedProfit) / margin
			}
		}
		snap.Positions = append(snap.Positions, ps)
	}
	return snap, nil
}

// Open places a market entry and immediately attaches the hard stop as a
// close-position STOP_MARKET.
func (b *BinanceBroker) Open(ctx context.Context, symbol, side string, size, stopPrice float64) (string, error) {
	qty := decimal.NewFromFloat(size).String()
	order, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		Do(ctx)
	if err != nil {
		return "", wrapCredErr(err, "open "+symbol)
	}
	observeOrder("live", side)

	stop := b.client.NewCreateAlgoOrderService().
		Symbol(symbol).
		Side(futures.SideType(opposite(side))).
		Type(futures.AlgoOrderTypeStopMarket).
		TriggerPrice(formatPrice(stopPrice)).
		WorkingType(futures.WorkingTypeMarkPrice).
		ClosePosition(true)
	if _, err := stop.Do(ctx); err != nil {
		b.logs.Errorf("stop placement failed for %s, flattening: %v", symbol, err)
		if cerr := b.CloseAll(ctx, symbol); cerr != nil {
			return "", fmt.Errorf("stop failed (%v) and flatten failed: %w", err, cerr)
		}
		return "", fmt.Errorf("stop placement failed, position flattened: %w", err)
	}
	return strconv.FormatInt(order.OrderID, 10), nil
}

// CloseAll cancels every open order on the symbol and closes the position
// with a reduce-only market order.
func (b *BinanceBroker) CloseAll(ctx context.Context, symbol string) error {
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		b.logs.Warnf("cancel open orders %s: %v", symbol, err)
	}
	acct, err := b.Account(ctx)
	if err != nil {
		return err
	}
	pos := findPosition(acct.Positions, symbol)
	if pos == nil {
		return nil
	}
	_, err = b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(opposite(pos.Side))).
		Type(futures.OrderTypeMarket).
		Quantity(decimal.NewFromFloat(pos.Size).String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return wrapCredErr(err, "close "+symbol)
	}
	observeOrder("live", opposite(pos.Side))
	return nil
}

// SetProtection replaces the symbol's protective bracket: cancels existing
// orders, places the stop, then the take-profit tiers and the trailing leg.
func (b *BinanceBroker) SetProtection(ctx context.Context, symbol, side string, stopPrice float64, legs []ExitLeg) error {
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		b.logs.Warnf("cancel before protection %s: %v", symbol, err)
	}
	exitSide := futures.SideType(opposite(side))

	if stopPrice > 0 {
		_, err := b.client.NewCreateAlgoOrderService().
			Symbol(symbol).
			Side(exitSide).
			Type(futures.AlgoOrderTypeStopMarket).
			TriggerPrice(formatPrice(stopPrice)).
			WorkingType(futures.WorkingTypeMarkPrice).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			return wrapCredErr(err, "stop "+symbol)
		}
	}
	for _, leg := range legs {
		qty := decimal.NewFromFloat(leg.Size).String()
		if leg.Trailing {
			_, err := b.client.NewCreateAlgoOrderService().
				Symbol(symbol).
				Side(exitSide).
				Type(futures.AlgoOrderTypeTrailingStopMarket).
				Quantity(qty).
				ActivationPrice(formatPrice(leg.Price)).
				CallbackRate(strconv.FormatFloat(leg.CallbackRatio, 'f', 1, 64)).
				ReduceOnly(true).
				Do(ctx)
			if err != nil {
				return wrapCredErr(err, "trailing "+symbol)
			}
			continue
		}
		_, err := b.client.NewCreateAlgoOrderService().
			Symbol(symbol).
			Side(exitSide).
			Type(futures.AlgoOrderTypeTakeProfitMarket).
			Quantity(qty).
			TriggerPrice(formatPrice(leg.Price)).
			WorkingType(futures.WorkingTypeMarkPrice).
			ReduceOnly(true).
			Do(ctx)
		if err != nil {
			return wrapCredErr(err, "take-profit "+symbol)
		}
	}
	return nil
}

// SetLeverage applies the configured leverage to a symbol.
func (b *BinanceBroker) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return wrapCredErr(err, "leverage "+symbol)
	}
	return nil
}

// wrapCredErr maps Binance auth failures onto errCredentialMissing.
func wrapCredErr(err error, op string) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2014, -2015, -1022: // bad key, bad permissions, bad signature
			return fmt.Errorf("%w: %s: %v", errCredentialMissing, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func opposite(side string) string {
	if side == "BUY" {
		return "SELL"
	}
	return "BUY"
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// stepPrecision derives decimal places from a step size string like
// "0.001" (3) or "1" (0).
func stepPrecision(step string) int32 {
	d, err := decimal.NewFromString(step)
	if err != nil || d.IsZero() {
		return 0
	}
	if e := d.Exponent(); e < 0 {
		return -e
	}
	return 0
}
