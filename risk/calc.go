package risk

// Notional is the estimated value of an order.
func Notional(quantity, price float64) float64 {
	return quantity * price
}

// EffectiveDailyLoss is the loss limit actually enforced: MaxDailyLoss,
// tightened to the percentage of capital when both are configured.
// Zero means no limit.
func EffectiveDailyLoss(l Limits, capital float64) float64 {
	limit := l.MaxDailyLoss
	if capital > 0 && l.MaxDailyLossPercent > 0 {
		pct := capital * l.MaxDailyLossPercent / 100
		if limit <= 0 || pct < limit {
			limit = pct
		}
	}
	return limit
}

func breached(pnl, limit float64) bool {
	return limit > 0 && pnl <= -limit
}
