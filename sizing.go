// FILE: sizing.go
// Package main – Position sizing and tiered exit allocation.
//
// Sizing commits a fixed fraction of equity as margin; the notional is that
// margin times leverage, converted to contracts via the instrument's
// contract value and floored to the lot precision. Exit allocation splits a
// position into three fixed take-profit tiers plus a trailing remainder leg
// anchored at the last tier's price.
//
// All size rounding goes through shopspring/decimal so lot precision is
// exact rather than float-fuzzy.
package main

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Fractions of the position assigned to the three fixed take-profit tiers.
// Whatever remains after the tiers becomes the trailing leg.
var exitTierFractions = [3]float64{0.30, 0.30, 0.20}

// ExitLeg is one reduce-only exit order: either a fixed take-profit at
// Price, or a trailing stop activated at Price with CallbackRatio.
type ExitLeg struct {
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`
	Trailing      bool    `json:"trailing"`
	CallbackRatio float64 `json:"callback_ratio,omitempty"` // percent, trailing only
}

// ContractsForRisk converts equity into a contract count.
//
//   margin   = equity * riskFraction
//   notional = margin * leverage
//   raw      = notional / (contractValue * price)
//
// raw is floored to the instrument's lot precision. Returns
// errSizingDegenerate when the result is below the exchange minimum.
func ContractsForRisk(equity, riskFraction float64, leverage int, meta InstrumentMeta, price float64) (float64, error) {
	if price <= 0 || meta.ContractValue <= 0 || leverage < 1 {
		return 0, fmt.Errorf("%w: price=%.8f ctVal=%.8f lev=%d", errSizingDegenerate, price, meta.ContractValue, leverage)
	}
	notional := equity * riskFraction * float64(leverage)
	raw := notional / (meta.ContractValue * price)
	size := roundSizeDown(raw, meta.LotPrecision)
	if size < meta.MinSize || size <= 0 {
		return 0, fmt.Errorf("%w: %.8f below min %.8f for %s", errSizingDegenerate, size, meta.MinSize, meta.Symbol)
	}
	return size, nil
}

// AllocateExitLegs splits totalSize across the three take-profit tiers and
// a trailing remainder leg.
//
// Tier prices convert the configured net ROI targets into gross targets
// (adding the round-trip taker fee at leverage) and then into prices:
//
//   gross = net + 2*takerFee*leverage
//   long:  price = entry * (1 + gross/leverage)
//   short: price = entry * (1 - gross/leverage)
//
// Tier leg sizes allocate greedily: each takes its fraction of the total
// (rounded down to lot precision), bumped up to minSize when smaller, and
// capped at what remains. Whatever is left after the tiers becomes a
// trailing leg anchored at the tier-3 price. Any leg that cannot reach
// minSize is dropped rather than submitted unexecutable.
func AllocateExitLegs(side string, entryPrice, totalSize float64, tierRois [3]float64,
	leverage int, takerFee, callbackRatio float64, meta InstrumentMeta) []ExitLeg {

	if totalSize <= 0 || entryPrice <= 0 || leverage < 1 {
		return nil
	}
	feeAdj := 2.0 * takerFee * float64(leverage)
	legs := make([]ExitLeg, 0, 4)
	remaining := totalSize
	var lastTierPrice float64

	for i, frac := range exitTierFractions {
		gross := tierRois[i] + feeAdj
		price := exitPriceFor(side, entryPrice, gross, leverage)
		lastTierPrice = price

		size := roundSizeDown(totalSize*frac, meta.LotPrecision)
		if size < meta.MinSize {
			size = meta.MinSize
		}
		if size > remaining {
			size = roundSizeDown(remaining, meta.LotPrecision)
		}
		if size < meta.MinSize || size <= 0 {
			continue
		}
		legs = append(legs, ExitLeg{Price: price, Size: size})
		remaining = subSize(remaining, size, meta.LotPrecision)
	}

	remaining = roundSizeDown(remaining, meta.LotPrecision)
	if remaining >= meta.MinSize {
		legs = append(legs, ExitLeg{
			Price:         lastTierPrice,
			Size:          remaining,
			Trailing:      true,
			CallbackRatio: callbackRatio,
		})
	}
	return legs
}

// exitPriceFor maps a gross ROI target to an exit price for the given side.
func exitPriceFor(side string, entry, grossRoi float64, leverage int) float64 {
	move := grossRoi / float64(leverage)
	if side == "BUY" {
		return entry * (1.0 + move)
	}
	return entry * (1.0 - move)
}

// roundSizeDown floors a size to the given lot precision.
func roundSizeDown(size float64, precision int32) float64 {
	f, _ := decimal.NewFromFloat(size).RoundDown(precision).Float64()
	return f
}

// subSize computes a-b at lot precision, avoiding float drift across the
// repeated subtractions in the allocator.
func subSize(a, b float64, precision int32) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).RoundDown(precision).Float64()
	return f
}
