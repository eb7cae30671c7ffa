package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"outcry/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *store.Store
	eng   *Engine
	maker *store.User
	taker *store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "engine_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	maker, err := st.CreateUser("alice", "Alice", "password123")
	require.NoError(t, err)
	taker, err := st.CreateUser("bob", "Bob", "password123")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := st.CreateQuestion(
			fmt.Sprintf("How many widgets were made in year %d?", 2000+i),
			100, "widgets", "test", 2000+i,
		)
		require.NoError(t, err)
	}

	return &fixture{
		store: st,
		eng:   New(st, DefaultConfig()),
		maker: maker,
		taker: taker,
	}
}

// startedGame creates a game with both seats filled and round 0 LIVE
func (f *fixture) startedGame(t *testing.T) (*store.Game, *StartResult) {
	t.Helper()
	game, err := f.eng.CreateGame(f.maker.ID)
	require.NoError(t, err)
	_, err = f.eng.JoinGame(game.JoinCode, f.taker.ID)
	require.NoError(t, err)
	result, err := f.eng.StartGame(game.ID, f.maker.ID)
	require.NoError(t, err)
	return result.Game, result
}

// playRound quotes and trades through every turn of a LIVE round
func (f *fixture) playRound(t *testing.T, roundID string) {
	t.Helper()
	for turn := 0; turn < f.eng.Config().TurnsPerRound; turn++ {
		require.NoError(t, f.eng.SubmitQuote(roundID, f.maker.ID, turn, 90, 110))
		_, err := f.eng.ExecuteTrade(roundID, f.taker.ID, turn, store.SideBuy)
		require.NoError(t, err)
	}
}

func TestCreateAndJoinGame(t *testing.T) {
	f := newFixture(t)

	game, err := f.eng.CreateGame(f.maker.ID)
	require.NoError(t, err)
	assert.Equal(t, store.GameLobby, game.Status)
	assert.Len(t, game.JoinCode, 6)
	assert.Empty(t, game.TakerUserID)

	joined, err := f.eng.JoinGame(game.JoinCode, f.taker.ID)
	require.NoError(t, err)
	assert.Equal(t, f.taker.ID, joined.TakerUserID)
}

func TestJoinGameRejectsMaker(t *testing.T) {
	f := newFixture(t)
	game, err := f.eng.CreateGame(f.maker.ID)
	require.NoError(t, err)

	_, err = f.eng.JoinGame(game.JoinCode, f.maker.ID)
	assert.ErrorIs(t, err, ErrSelfJoin)
}

func TestJoinGameRejectsThirdPlayer(t *testing.T) {
	f := newFixture(t)
	game, err := f.eng.CreateGame(f.maker.ID)
	require.NoError(t, err)
	_, err = f.eng.JoinGame(game.JoinCode, f.taker.ID)
	require.NoError(t, err)

	third, err := f.store.CreateUser("carol", "Carol", "password123")
	require.NoError(t, err)
	_, err = f.eng.JoinGame(game.JoinCode, third.ID)
	assert.ErrorIs(t, err, ErrGameFull)
}

func TestJoinGameUnknownCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.JoinGame("ZZZZZZ", f.taker.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartGame(t *testing.T) {
	f := newFixture(t)
	game, result := f.startedGame(t)

	assert.Equal(t, store.GameActive, game.Status)
	assert.Equal(t, 0, result.Round.RoundIndex)
	assert.NotEmpty(t, result.Round.QuestionPrompt)

	round, err := f.store.GetRound(result.Round.RoundID)
	require.NoError(t, err)
	assert.Equal(t, store.RoundLive, round.Status)
}

func TestStartGameRequiresTaker(t *testing.T) {
	f := newFixture(t)
	game, err := f.eng.CreateGame(f.maker.ID)
	require.NoError(t, err)

	_, err = f.eng.StartGame(game.ID, f.maker.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStartGameMakerOnly(t *testing.T) {
	f := newFixture(t)
	game, err := f.eng.CreateGame(f.maker.ID)
	require.NoError(t, err)
	_, err = f.eng.JoinGame(game.JoinCode, f.taker.ID)
	require.NoError(t, err)

	_, err = f.eng.StartGame(game.ID, f.taker.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStartGameTwice(t *testing.T) {
	f := newFixture(t)
	game, _ := f.startedGame(t)

	_, err := f.eng.StartGame(game.ID, f.maker.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitQuoteValidation(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)
	roundID := result.Round.RoundID

	// Taker cannot quote
	err := f.eng.SubmitQuote(roundID, f.taker.ID, 0, 90, 110)
	assert.ErrorIs(t, err, ErrForbidden)

	// Inverted quote
	err = f.eng.SubmitQuote(roundID, f.maker.ID, 0, 110, 90)
	assert.ErrorIs(t, err, ErrInvalidQuote)

	// Wrong turn
	err = f.eng.SubmitQuote(roundID, f.maker.ID, 2, 90, 110)
	assert.ErrorIs(t, err, ErrTurnMismatch)

	// Valid, then a replay of the same turn
	require.NoError(t, f.eng.SubmitQuote(roundID, f.maker.ID, 0, 90, 110))
	err = f.eng.SubmitQuote(roundID, f.maker.ID, 0, 95, 105)
	assert.ErrorIs(t, err, ErrTurnMismatch)
}

func TestExecuteTradeAdvancesTurn(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)
	roundID := result.Round.RoundID

	require.NoError(t, f.eng.SubmitQuote(roundID, f.maker.ID, 0, 90, 110))
	trade, err := f.eng.ExecuteTrade(roundID, f.taker.ID, 0, store.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, 110.0, trade.Price, "a buy executes at the ask")
	assert.False(t, trade.RoundEnded)

	round, err := f.store.GetRound(roundID)
	require.NoError(t, err)
	assert.Equal(t, 1, round.CurrentTurnIndex)
	assert.Equal(t, store.RoundLive, round.Status)
}

func TestExecuteTradeRequiresQuote(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)

	_, err := f.eng.ExecuteTrade(result.Round.RoundID, f.taker.ID, 0, store.SideBuy)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPassConsumesTurnWithoutTrade(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)
	roundID := result.Round.RoundID

	require.NoError(t, f.eng.SubmitQuote(roundID, f.maker.ID, 0, 90, 110))
	trade, err := f.eng.ExecuteTrade(roundID, f.taker.ID, 0, "")
	require.NoError(t, err)
	assert.Empty(t, trade.Side)

	trades, err := f.store.ListTrades(roundID)
	require.NoError(t, err)
	assert.Empty(t, trades, "a pass records no trade row")

	round, err := f.store.GetRound(roundID)
	require.NoError(t, err)
	assert.Equal(t, 1, round.CurrentTurnIndex)
}

func TestFinalTurnEndsRound(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)
	roundID := result.Round.RoundID

	f.playRound(t, roundID)

	round, err := f.store.GetRound(roundID)
	require.NoError(t, err)
	assert.Equal(t, store.RoundEnded, round.Status)
}

func TestConcurrentTradeOneWinner(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)
	roundID := result.Round.RoundID

	require.NoError(t, f.eng.SubmitQuote(roundID, f.maker.ID, 0, 90, 110))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.eng.ExecuteTrade(roundID, f.taker.ID, 0, store.SideBuy)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrTurnMismatch)
		}
	}
	assert.Equal(t, 1, successes, "exactly one of two racing decisions wins")

	trades, err := f.store.ListTrades(roundID)
	require.NoError(t, err)
	assert.Len(t, trades, 1, "the losing racer leaves no trade row")
}

func TestSettleRound(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)
	roundID := result.Round.RoundID

	f.playRound(t, roundID)

	settlement, err := f.eng.SettleRound(roundID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, settlement.CorrectAnswer)
	// Three buys at 110 against answer 100: taker loses 10 each
	assert.Equal(t, -30.0, settlement.TakerPnL)
	assert.Equal(t, 30.0, settlement.MakerPnL)
	assert.Equal(t, 1, settlement.MakerWins)
	assert.Equal(t, 0, settlement.TakerWins)
}

func TestSettleRoundIdempotent(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)
	roundID := result.Round.RoundID

	f.playRound(t, roundID)

	first, err := f.eng.SettleRound(roundID)
	require.NoError(t, err)

	_, err = f.eng.SettleRound(roundID)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	stored, err := f.eng.RoundSettlement(roundID)
	require.NoError(t, err)
	assert.Equal(t, first.MakerPnL, stored.MakerPnL)
	assert.Equal(t, first.TakerPnL, stored.TakerPnL)
}

func TestSettleRoundNotEnded(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)

	_, err := f.eng.SettleRound(result.Round.RoundID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvanceGameCreatesNextRound(t *testing.T) {
	f := newFixture(t)
	game, result := f.startedGame(t)

	f.playRound(t, result.Round.RoundID)
	_, err := f.eng.SettleRound(result.Round.RoundID)
	require.NoError(t, err)

	advance, err := f.eng.AdvanceGame(game.ID, f.maker.ID)
	require.NoError(t, err)
	assert.False(t, advance.GameEnded)
	require.NotNil(t, advance.NextRound)
	assert.Equal(t, 1, advance.NextRound.RoundIndex)

	// The new round is PENDING until explicitly started
	round, err := f.store.GetRound(advance.NextRound.RoundID)
	require.NoError(t, err)
	assert.Equal(t, store.RoundPending, round.Status)

	started, err := f.eng.StartRound(advance.NextRound.RoundID)
	require.NoError(t, err)
	assert.Equal(t, 1, started.RoundIndex)
}

func TestStartRoundNotPending(t *testing.T) {
	f := newFixture(t)
	_, result := f.startedGame(t)

	// Round 0 is already LIVE; a second start reports the status it holds now
	_, err := f.eng.StartRound(result.Round.RoundID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorContains(t, err, string(store.RoundLive))
}

func TestAdvanceGameRequiresSettledRound(t *testing.T) {
	f := newFixture(t)
	game, result := f.startedGame(t)

	f.playRound(t, result.Round.RoundID)

	// Round ENDED but not settled
	_, err := f.eng.AdvanceGame(game.ID, f.maker.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFullGame(t *testing.T) {
	f := newFixture(t)
	game, result := f.startedGame(t)
	cfg := f.eng.Config()

	roundID := result.Round.RoundID
	for i := 0; ; i++ {
		f.playRound(t, roundID)
		_, err := f.eng.SettleRound(roundID)
		require.NoError(t, err)

		advance, err := f.eng.AdvanceGame(game.ID, f.maker.ID)
		require.NoError(t, err)

		if advance.GameEnded {
			assert.Equal(t, cfg.TotalRounds-1, i)
			// Every round was three buys at the ask above the answer, so
			// the maker swept the game
			assert.Equal(t, cfg.TotalRounds, advance.MakerWins)
			assert.Equal(t, 0, advance.TakerWins)
			assert.Equal(t, f.maker.ID, advance.WinnerUserID)
			break
		}

		started, err := f.eng.StartRound(advance.NextRound.RoundID)
		require.NoError(t, err)
		roundID = started.RoundID
	}

	final, err := f.store.GetGame(game.ID)
	require.NoError(t, err)
	assert.Equal(t, store.GameFinished, final.Status)
	assert.Equal(t, f.maker.ID, final.WinnerUserID)

	// A finished game rejects further advances
	_, err = f.eng.AdvanceGame(game.ID, f.maker.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGameSnapshot(t *testing.T) {
	f := newFixture(t)
	game, result := f.startedGame(t)
	roundID := result.Round.RoundID

	require.NoError(t, f.eng.SubmitQuote(roundID, f.maker.ID, 0, 90, 110))
	_, err := f.eng.ExecuteTrade(roundID, f.taker.ID, 0, store.SideSell)
	require.NoError(t, err)

	snap, err := f.eng.GameSnapshot(game.JoinCode)
	require.NoError(t, err)
	assert.Equal(t, store.GameActive, snap.Game.Status)
	assert.Equal(t, "Alice", snap.MakerDisplayName)
	assert.Equal(t, "Bob", snap.TakerDisplayName)
	require.NotNil(t, snap.Round)
	assert.Equal(t, 1, snap.Round.CurrentTurnIndex)
	assert.Len(t, snap.Quotes, 1)
	assert.Len(t, snap.Trades, 1)
	assert.Empty(t, snap.Results, "no settled rounds yet")
}
