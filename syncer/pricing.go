package syncer

import (
	"fmt"
	"math"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
)

// Order type emitted by the pricing engine.
const (
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"
)

// Urgency levels, from resting patiently to forcing execution.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Spread thresholds (percent of mid price) separating liquidity regimes.
const (
	tightSpreadThreshold = 0.5
	wideSpreadThreshold  = 2.0
)

// Escalation checkpoints in hours. Wide-spread markets use a shortened
// first window and hit the market-order ceiling at 24h instead of 36h.
const (
	timeWindow1 = 6
	timeWindow2 = 12
	timeWindow3 = 24
	timeWindow4 = 36

	wideFirstWindow = 2
)

// Minimum hours between two consecutive price adjustments.
const minAdjustmentGapHours = 3

// PricingDecision is the engine's answer for one order at one point in time.
// Price is zero and meaningless when OrderType is MARKET.
type PricingDecision struct {
	Price     float64
	OrderType string
	Urgency   string
	Liquidity string // high, normal, low
	Reasoning string
}

// IsMarket reports whether the decision forces immediate execution.
func (d PricingDecision) IsMarket() bool {
	return d.OrderType == OrderTypeMarket
}

// PricingEngine computes escalating order prices. It is stateless; elapsed
// time and adjustment bookkeeping live on the order rows.
type PricingEngine struct {
	nowFn func() time.Time
}

// NewPricingEngine creates a pricing engine using wall-clock time.
func NewPricingEngine() *PricingEngine {
	return &PricingEngine{nowFn: time.Now}
}

// CalculateOptimalPrice maps a target price, direction, current quote, and
// elapsed hours to the next order price. Prices only move in the direction
// that raises fill probability; past the regime's time ceiling the decision
// becomes a market order.
func (e *PricingEngine) CalculateOptimalPrice(targetPrice float64, side models.OrderSide, md *api.MarketData, hoursElapsed float64) PricingDecision {
	var d PricingDecision
	switch {
	case md.SpreadPct < tightSpreadThreshold:
		d = tightSpreadStrategy(targetPrice, side, md, hoursElapsed)
		d.Liquidity = "high"
	case md.SpreadPct < wideSpreadThreshold:
		d = normalSpreadStrategy(targetPrice, side, md, hoursElapsed)
		d.Liquidity = "normal"
	default:
		d = wideSpreadStrategy(targetPrice, side, md, hoursElapsed)
		d.Liquidity = "low"
	}

	if d.OrderType == OrderTypeLimit {
		d.Price = roundPrice(d.Price)
	}
	return d
}

// Highly liquid market (spread < 0.5% of mid): stay patient, converge on the
// best quote slowly.
func tightSpreadStrategy(target float64, side models.OrderSide, md *api.MarketData, hours float64) PricingDecision {
	switch {
	case hours < timeWindow1:
		return PricingDecision{
			Price:     target,
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyLow,
			Reasoning: fmt.Sprintf("tight spread (%.2f%%), resting at exact price", md.SpreadPct),
		}
	case hours < timeWindow2:
		return PricingDecision{
			Price:     toward(target, md.Spread*0.1, side),
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyLow,
			Reasoning: "tight spread, 6-12h, moving 10% of spread toward market",
		}
	case hours < timeWindow3:
		var price float64
		if side == models.OrderSideBuy {
			price = math.Min(md.MidPrice, target+md.Spread*0.3)
		} else {
			price = math.Max(md.MidPrice, target-md.Spread*0.3)
		}
		return PricingDecision{
			Price:     price,
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyMedium,
			Reasoning: "tight spread, 12-24h, mid-market",
		}
	case hours < timeWindow4:
		return PricingDecision{
			Price:     bestQuote(side, md),
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyHigh,
			Reasoning: "tight spread, 24-36h, hitting best quote",
		}
	default:
		return PricingDecision{
			OrderType: OrderTypeMarket,
			Urgency:   UrgencyCritical,
			Reasoning: "36h+ elapsed, market order",
		}
	}
}

// Normal liquidity (0.5-2%): same windows, more aggressive steps, with a
// small overshoot past the best quote before the ceiling.
func normalSpreadStrategy(target float64, side models.OrderSide, md *api.MarketData, hours float64) PricingDecision {
	switch {
	case hours < timeWindow1:
		return PricingDecision{
			Price:     target,
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyLow,
			Reasoning: fmt.Sprintf("normal spread (%.2f%%), resting at exact price", md.SpreadPct),
		}
	case hours < timeWindow2:
		return PricingDecision{
			Price:     toward(target, md.Spread*0.2, side),
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyMedium,
			Reasoning: "normal spread, 6-12h, moving 20% of spread toward market",
		}
	case hours < timeWindow3:
		return PricingDecision{
			Price:     toward(md.MidPrice, md.Spread*0.1, side),
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyHigh,
			Reasoning: "normal spread, 12-24h, past mid-market",
		}
	case hours < timeWindow4:
		return PricingDecision{
			Price:     toward(bestQuote(side, md), md.Spread*0.05, side),
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyHigh,
			Reasoning: "normal spread, 24-36h, past best quote",
		}
	default:
		return PricingDecision{
			OrderType: OrderTypeMarket,
			Urgency:   UrgencyCritical,
			Reasoning: "36h+ elapsed, market order",
		}
	}
}

// Illiquid market (spread > 2%): shortened patience, market order at 24h.
func wideSpreadStrategy(target float64, side models.OrderSide, md *api.MarketData, hours float64) PricingDecision {
	switch {
	case hours < wideFirstWindow:
		return PricingDecision{
			Price:     target,
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyMedium,
			Reasoning: fmt.Sprintf("wide spread (%.2f%%), trying exact price briefly", md.SpreadPct),
		}
	case hours < timeWindow1:
		return PricingDecision{
			Price:     toward(target, md.Spread*0.15, side),
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyMedium,
			Reasoning: "wide spread, 2-6h, moving toward market",
		}
	case hours < timeWindow2:
		return PricingDecision{
			Price:     md.MidPrice,
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyHigh,
			Reasoning: "wide spread, 6-12h, mid-market",
		}
	case hours < timeWindow3:
		return PricingDecision{
			Price:     toward(bestQuote(side, md), md.Spread*0.1, side),
			OrderType: OrderTypeLimit,
			Urgency:   UrgencyHigh,
			Reasoning: "wide spread, 12-24h, past best quote",
		}
	default:
		return PricingDecision{
			OrderType: OrderTypeMarket,
			Urgency:   UrgencyCritical,
			Reasoning: "wide spread, 24h+ elapsed, market order",
		}
	}
}

// ShouldAdjustPrice gates re-pricing: nothing before 6h, at least 3h between
// consecutive adjustments, and adjustment #k only unlocks once elapsed time
// passes checkpoint k (6h, 12h, 24h, 36h).
func (e *PricingEngine) ShouldAdjustPrice(createdAt time.Time, lastAdjustment *time.Time, adjustmentCount int) bool {
	now := e.nowFn()
	hoursElapsed := now.Sub(createdAt).Hours()

	if hoursElapsed < timeWindow1 {
		return false
	}

	if adjustmentCount == 0 {
		return true
	}

	if lastAdjustment != nil && now.Sub(*lastAdjustment).Hours() < minAdjustmentGapHours {
		return false
	}

	checkpoints := []float64{timeWindow1, timeWindow2, timeWindow3, timeWindow4}
	for i, checkpoint := range checkpoints {
		if hoursElapsed >= checkpoint && adjustmentCount <= i {
			return true
		}
	}
	return false
}

// HoursElapsed returns hours since t on the engine's clock.
func (e *PricingEngine) HoursElapsed(t time.Time) float64 {
	return e.nowFn().Sub(t).Hours()
}

// toward shifts a price in the direction that increases fill probability:
// up for buys, down for sells.
func toward(base, step float64, side models.OrderSide) float64 {
	if side == models.OrderSideBuy {
		return base + step
	}
	return base - step
}

// bestQuote is the quote an aggressive order crosses: ask for buys, bid for
// sells.
func bestQuote(side models.OrderSide, md *api.MarketData) float64 {
	if side == models.OrderSideBuy {
		return md.BestAsk
	}
	return md.BestBid
}

// roundPrice snaps to the exchange's 8-decimal price granularity.
func roundPrice(p float64) float64 {
	return math.Round(p*1e8) / 1e8
}
