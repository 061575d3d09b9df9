// FILE: broker_paper.go
// Package main – Paper (dry-run) account and executor.
//
// Market data still comes from the real exchange; only the account and the
// orders are simulated. Fills happen at the last snapshot price, taker fees
// are debited on both sides, and protective legs are held in memory and
// checked against each new price observed via ObservePrice (called by the
// scheduler after every snapshot).
package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// paperPosition is one simulated open position with its protection.
type paperPosition struct {
	Side      string
	Size      float64
	AvgPrice  float64
	Leverage  int
	StopPrice float64
	Legs      []ExitLeg
}

// PaperBroker implements AccountProvider and OrderExecutor in memory.
type PaperBroker struct {
	mu        sync.Mutex
	cash      float64
	takerFee  float64
	leverage  int
	positions map[string]*paperPosition
	lastPrice map[string]float64
	logs      *LogRing
}

func NewPaperBroker(startingEquity, takerFee float64, leverage int, logs *LogRing) *PaperBroker {
	return &PaperBroker{
		cash:      startingEquity,
		takerFee:  takerFee,
		leverage:  leverage,
		positions: make(map[string]*paperPosition),
		lastPrice: make(map[string]float64),
		logs:      logs,
	}
}

// ObservePrice updates the mark for a symbol and triggers any protective
// legs the new price crosses. The scheduler calls this once per snapshot.
func (p *PaperBroker) ObservePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPrice[symbol] = price

	pos, ok := p.positions[symbol]
	if !ok {
		return
	}
	if stopHit(pos.Side, pos.StopPrice, price) {
		p.logs.Infof("[PAPER] %s stop hit at %.6f", symbol, price)
		p.closeLocked(symbol, pos.StopPrice)
		return
	}
	// Take-profit tiers fill leg by leg; the trailing leg is approximated
	// as a fill at its activation price.
	kept := pos.Legs[:0]
	for _, leg := range pos.Legs {
		if tpHit(pos.Side, leg.Price, price) {
			p.fillExitLocked(symbol, pos, leg)
			continue
		}
		kept = append(kept, leg)
	}
	pos.Legs = kept
	if pos.Size <= 0 {
		delete(p.positions, symbol)
	}
}

// Account marks open positions to the last observed price.
func (p *PaperBroker) Account(ctx context.Context) (AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := AccountSnapshot{Equity: p.cash, Available: p.cash}
	for sym, pos := range p.positions {
		price, ok := p.lastPrice[sym]
		if !ok {
			price = pos.AvgPrice
		}
		pnl := unrealizedPnl(pos.Side, pos.AvgPrice, price, pos.Size)
		margin := pos.AvgPrice * pos.Size / float64(pos.Leverage)
		snap.Equity += pnl
		snap.Available -= margin
		ps := PositionSnapshot{
			Symbol:   sym,
			Side:     pos.Side,
			Size:     pos.Size,
			AvgPrice: pos.AvgPrice,
			Leverage: pos.Leverage,
		}
		if margin > 0 {
			ps.UnrealizedRoi = pnl / margin
		}
		snap.Positions = append(snap.Positions, ps)
	}
	return snap, nil
}

// Open fills at the last observed price and debits the entry fee.
func (p *PaperBroker) Open(ctx context.Context, symbol, side string, size, stopPrice float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.lastPrice[symbol]
	if !ok || price <= 0 {
		return "", fmt.Errorf("%w: no mark for %s", errDataUnavailable, symbol)
	}
	if _, exists := p.positions[symbol]; exists {
		return "", fmt.Errorf("paper: position already open on %s", symbol)
	}
	fee := price * size * p.takerFee
	p.cash -= fee
	p.positions[symbol] = &paperPosition{
		Side:      side,
		Size:      size,
		AvgPrice:  price,
		Leverage:  p.leverage,
		StopPrice: stopPrice,
	}
	id := uuid.NewString()
	p.logs.Infof("[PAPER] open %s %s size=%.6f @ %.6f stop=%.6f fee=%.4f id=%s",
		side, symbol, size, price, stopPrice, fee, id)
	observeOrder("paper", side)
	return id, nil
}

// CloseAll flattens the symbol at the last observed price.
func (p *PaperBroker) CloseAll(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil
	}
	price, ok := p.lastPrice[symbol]
	if !ok {
		price = pos.AvgPrice
	}
	p.closeLocked(symbol, price)
	return nil
}

// SetProtection replaces the in-memory bracket.
func (p *PaperBroker) SetProtection(ctx context.Context, symbol, side string, stopPrice float64, legs []ExitLeg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return fmt.Errorf("paper: no position on %s", symbol)
	}
	if stopPrice > 0 {
		pos.StopPrice = stopPrice
	}
	if legs != nil {
		pos.Legs = legs
	}
	p.logs.Infof("[PAPER] protection %s stop=%.6f legs=%d", symbol, pos.StopPrice, len(pos.Legs))
	return nil
}

// SetLeverage records the leverage for future entries.
func (p *PaperBroker) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage = leverage
	return nil
}

// closeLocked realizes the whole position at price. Caller holds mu.
func (p *PaperBroker) closeLocked(symbol string, price float64) {
	pos := p.positions[symbol]
	pnl := unrealizedPnl(pos.Side, pos.AvgPrice, price, pos.Size)
	fee := price * pos.Size * p.takerFee
	p.cash += pnl - fee
	p.logs.Infof("[PAPER] close %s size=%.6f @ %.6f pnl=%.4f fee=%.4f", symbol, pos.Size, price, pnl, fee)
	observeOrder("paper", opposite(pos.Side))
	delete(p.positions, symbol)
}

// fillExitLocked realizes one exit leg at its price. Caller holds mu.
func (p *PaperBroker) fillExitLocked(symbol string, pos *paperPosition, leg ExitLeg) {
	size := leg.Size
	if size > pos.Size {
		size = pos.Size
	}
	pnl := unrealizedPnl(pos.Side, pos.AvgPrice, leg.Price, size)
	fee := leg.Price * size * p.takerFee
	p.cash += pnl - fee
	pos.Size -= size
	p.logs.Infof("[PAPER] exit leg %s size=%.6f @ %.6f pnl=%.4f", symbol, size, leg.Price, pnl)
	observeOrder("paper", opposite(pos.Side))
}

func unrealizedPnl(side string, entry, price, size float64) float64 {
	if side == "BUY" {
		return (price - entry) * size
	}
	return (entry - price) * size
}

func stopHit(side string, stop, price float64) bool {
	if stop <= 0 {
		return false
	}
	if side == "BUY" {
		return price <= stop
	}
	return price >= stop
}

func tpHit(side string, target, price float64) bool {
	if target <= 0 {
		return false
	}
	if side == "BUY" {
		return price >= target
	}
	return price <= target
}
