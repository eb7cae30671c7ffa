package engine

// Config holds the process-wide game rules. These are configuration, not
// per-round state.
type Config struct {
	TotalRounds          int // rounds per game
	TurnsPerRound        int // quote/trade exchanges per round
	DefaultQuantity      int // contract size of every trade
	RoundDurationSeconds int // advisory round clock, surfaced to clients only
}

// DefaultConfig returns the standard rules
func DefaultConfig() Config {
	return Config{
		TotalRounds:          5,
		TurnsPerRound:        3,
		DefaultQuantity:      1,
		RoundDurationSeconds: 40,
	}
}
