package engine

import "outcry/internal/store"

// Scoring is pure arithmetic over trade records and the correct answer.
// Every trade is zero-sum: the maker's P&L is the negation of the taker's.

// TradePnL computes both sides' P&L for a single trade.
// A BUY pays the ask, so the taker profits when the answer is above the
// price; a SELL receives the bid, so the taker profits when the answer is
// below it.
func TradePnL(side string, price float64, quantity int, answer float64) (makerPnL, takerPnL float64) {
	if side == store.SideBuy {
		takerPnL = (answer - price) * float64(quantity)
	} else {
		takerPnL = (price - answer) * float64(quantity)
	}
	return -takerPnL, takerPnL
}

// RoundPnL sums trade P&L over a round. Passes left no trade record and so
// contribute nothing.
func RoundPnL(trades []store.Trade, answer float64) (makerPnL, takerPnL float64) {
	for _, t := range trades {
		m, tk := TradePnL(t.Side, t.Price, t.Quantity, answer)
		makerPnL += m
		takerPnL += tk
	}
	return makerPnL, takerPnL
}

// GameWins tallies round wins across settled rounds. Strictly greater round
// P&L wins the round; an equal round credits neither side.
func GameWins(rounds []store.Round) (makerWins, takerWins int) {
	for _, r := range rounds {
		switch {
		case r.MakerPnL > r.TakerPnL:
			makerWins++
		case r.TakerPnL > r.MakerPnL:
			takerWins++
		}
	}
	return makerWins, takerWins
}

// IsValidQuote reports whether a bid/ask pair is acceptable: non-negative
// on both sides, bid strictly below ask.
func IsValidQuote(bid, ask float64) bool {
	return bid < ask && bid >= 0 && ask >= 0
}

// TradePrice returns the execution price against a quote: a BUY lifts the
// ask, a SELL hits the bid. The spread is the maker's structural edge.
func TradePrice(bid, ask float64, side string) float64 {
	if side == store.SideBuy {
		return ask
	}
	return bid
}

// SpreadPercent returns the quoted spread as a percentage of the midpoint
func SpreadPercent(bid, ask float64) float64 {
	midpoint := (bid + ask) / 2
	if midpoint == 0 {
		return 0
	}
	return (ask - bid) / midpoint * 100
}
