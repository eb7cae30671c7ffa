package engine

import (
	"errors"
	"fmt"

	"outcry/internal/store"
)

// Engine applies game, round, and turn transitions against the store. It
// keeps no state of its own: every transition is an atomic conditional
// update, so two racing requests for the same transition resolve to exactly
// one success and one precondition failure.
type Engine struct {
	store *store.Store
	cfg   Config
}

func New(st *store.Store, cfg Config) *Engine {
	return &Engine{store: st, cfg: cfg}
}

// Config returns the rules this engine runs with
func (e *Engine) Config() Config {
	return e.cfg
}

// RoundStart describes a round that has been created, with what a client
// needs to render it.
type RoundStart struct {
	RoundID        string
	RoundIndex     int
	QuestionPrompt string
	QuestionUnit   string
}

// StartResult is the outcome of starting a game
type StartResult struct {
	Game  *store.Game
	Round RoundStart
}

// TradeResult is the outcome of a taker decision
type TradeResult struct {
	RoundIndex int
	TurnIndex  int
	Side       string // empty for a pass
	Price      float64
	Quantity   int
	RoundEnded bool
}

// Settlement is the outcome of settling a round
type Settlement struct {
	RoundID       string
	RoundIndex    int
	CorrectAnswer float64
	MakerPnL      float64
	TakerPnL      float64
	MakerWins     int
	TakerWins     int
}

// AdvanceResult is the outcome of advancing a game past a settled round
type AdvanceResult struct {
	GameEnded    bool
	NextRound    *RoundStart // set when the game continues; still PENDING
	WinnerUserID string      // empty for a tie
	MakerWins    int
	TakerWins    int
}

// notFound collapses the store's per-entity not-found errors into the
// engine's taxonomy
func notFound(err error) error {
	switch {
	case errors.Is(err, store.ErrGameNotFound),
		errors.Is(err, store.ErrRoundNotFound),
		errors.Is(err, store.ErrQuoteNotFound),
		errors.Is(err, store.ErrQuestionNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// CreateGame creates a game in LOBBY with the caller as maker
func (e *Engine) CreateGame(makerUserID string) (*store.Game, error) {
	return e.store.CreateGame(makerUserID)
}

// JoinGame seats the caller as taker in the lobby identified by joinCode
func (e *Engine) JoinGame(joinCode, takerUserID string) (*store.Game, error) {
	game, err := e.store.GetGameByJoinCode(joinCode)
	if err != nil {
		return nil, notFound(err)
	}
	if game.MakerUserID == takerUserID {
		return nil, ErrSelfJoin
	}
	if game.Status != store.GameLobby || game.TakerUserID != "" {
		return nil, ErrGameFull
	}

	ok, err := e.store.SetTaker(game.ID, takerUserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else took the seat between the read and the update
		return nil, ErrGameFull
	}

	return e.store.GetGame(game.ID)
}

// StartGame transitions the game to ACTIVE, draws a random question, and
// puts round 0 LIVE so the maker can quote immediately. Only the maker may
// start, and both seats must be filled.
func (e *Engine) StartGame(gameID, callerID string) (*StartResult, error) {
	game, err := e.store.GetGame(gameID)
	if err != nil {
		return nil, notFound(err)
	}
	if game.MakerUserID != callerID {
		return nil, fmt.Errorf("%w: only the maker can start the game", ErrForbidden)
	}
	if game.Status != store.GameLobby {
		return nil, fmt.Errorf("%w: game is %s", ErrInvalidTransition, game.Status)
	}
	if game.TakerUserID == "" {
		return nil, fmt.Errorf("%w: taker has not joined", ErrInvalidTransition)
	}

	question, err := e.store.RandomQuestion()
	if err != nil {
		if errors.Is(err, store.ErrNoQuestions) {
			return nil, ErrNoQuestions
		}
		return nil, err
	}

	ok, err := e.store.ActivateGame(game.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: game already started", ErrInvalidTransition)
	}

	round, err := e.store.CreateRound(game.ID, 0, question.ID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.StartRound(round.ID); err != nil {
		return nil, err
	}

	game, err = e.store.GetGame(game.ID)
	if err != nil {
		return nil, err
	}

	return &StartResult{
		Game: game,
		Round: RoundStart{
			RoundID:        round.ID,
			RoundIndex:     0,
			QuestionPrompt: question.Prompt,
			QuestionUnit:   question.Unit,
		},
	}, nil
}

// SubmitQuote records the maker's bid/ask for the round's current turn
func (e *Engine) SubmitQuote(roundID, callerID string, turnIndex int, bid, ask float64) error {
	round, err := e.store.GetRound(roundID)
	if err != nil {
		return notFound(err)
	}
	game, err := e.store.GetGame(round.GameID)
	if err != nil {
		return notFound(err)
	}
	if game.MakerUserID != callerID {
		return fmt.Errorf("%w: only the maker can quote", ErrForbidden)
	}
	if round.Status != store.RoundLive {
		return ErrRoundNotLive
	}
	if turnIndex != round.CurrentTurnIndex {
		return fmt.Errorf("%w: turn %d is current, got %d", ErrTurnMismatch, round.CurrentTurnIndex, turnIndex)
	}
	if !IsValidQuote(bid, ask) {
		return fmt.Errorf("%w: bid %v / ask %v", ErrInvalidQuote, bid, ask)
	}

	_, err = e.store.CreateQuote(roundID, turnIndex, callerID, bid, ask)
	if errors.Is(err, store.ErrDuplicateQuote) {
		// Replay or a lost race against our own earlier submit
		return fmt.Errorf("%w: turn %d already quoted", ErrTurnMismatch, turnIndex)
	}
	return err
}

// ExecuteTrade records the taker's decision against the current quote and
// advances the turn. side may be BUY, SELL, or empty for a pass; a pass
// records no trade but still consumes the turn. The final turn ends the
// round.
func (e *Engine) ExecuteTrade(roundID, callerID string, turnIndex int, side string) (*TradeResult, error) {
	if side != "" && side != store.SideBuy && side != store.SideSell {
		return nil, fmt.Errorf("invalid side %q", side)
	}

	round, err := e.store.GetRound(roundID)
	if err != nil {
		return nil, notFound(err)
	}
	game, err := e.store.GetGame(round.GameID)
	if err != nil {
		return nil, notFound(err)
	}
	if game.TakerUserID != callerID {
		return nil, fmt.Errorf("%w: only the taker can trade", ErrForbidden)
	}
	if round.Status != store.RoundLive {
		return nil, ErrRoundNotLive
	}
	if turnIndex != round.CurrentTurnIndex {
		return nil, fmt.Errorf("%w: turn %d is current, got %d", ErrTurnMismatch, round.CurrentTurnIndex, turnIndex)
	}

	quote, err := e.store.GetQuote(roundID, turnIndex)
	if err != nil {
		return nil, notFound(err)
	}

	var price float64
	if side != "" {
		price = TradePrice(quote.Bid, quote.Ask, side)
	}

	endRound := turnIndex+1 >= e.cfg.TurnsPerRound
	ok, err := e.store.RecordTradeDecision(store.Trade{
		RoundID:     roundID,
		GameID:      game.ID,
		TurnIndex:   turnIndex,
		TakerUserID: callerID,
		Side:        side,
		Price:       price,
		Quantity:    e.cfg.DefaultQuantity,
	}, endRound)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: turn %d already decided", ErrTurnMismatch, turnIndex)
	}

	return &TradeResult{
		RoundIndex: round.RoundIndex,
		TurnIndex:  turnIndex,
		Side:       side,
		Price:      price,
		Quantity:   e.cfg.DefaultQuantity,
		RoundEnded: endRound,
	}, nil
}

// SettleRound computes and records P&L for an ENDED round against the
// question's answer. Settling an already-settled round returns
// ErrAlreadySettled without touching the stored figures.
func (e *Engine) SettleRound(roundID string) (*Settlement, error) {
	round, err := e.store.GetRound(roundID)
	if err != nil {
		return nil, notFound(err)
	}
	if round.Status == store.RoundSettled {
		return nil, ErrAlreadySettled
	}
	if round.Status != store.RoundEnded {
		return nil, fmt.Errorf("%w: round is %s, not ENDED", ErrInvalidTransition, round.Status)
	}

	question, err := e.store.GetQuestion(round.QuestionID)
	if err != nil {
		return nil, notFound(err)
	}
	trades, err := e.store.ListTrades(roundID)
	if err != nil {
		return nil, err
	}

	makerPnL, takerPnL := RoundPnL(trades, question.Answer)

	ok, err := e.store.SettleRound(roundID, makerPnL, takerPnL)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent settle won; the stored figures stand
		return nil, ErrAlreadySettled
	}

	settled, err := e.store.ListSettledRounds(round.GameID)
	if err != nil {
		return nil, err
	}
	makerWins, takerWins := GameWins(settled)

	return &Settlement{
		RoundID:       roundID,
		RoundIndex:    round.RoundIndex,
		CorrectAnswer: question.Answer,
		MakerPnL:      makerPnL,
		TakerPnL:      takerPnL,
		MakerWins:     makerWins,
		TakerWins:     takerWins,
	}, nil
}

// RoundSettlement returns the stored settlement figures for a SETTLED round.
// Used by callers that hit ErrAlreadySettled and want the authoritative
// numbers.
func (e *Engine) RoundSettlement(roundID string) (*Settlement, error) {
	round, err := e.store.GetRound(roundID)
	if err != nil {
		return nil, notFound(err)
	}
	if round.Status != store.RoundSettled {
		return nil, fmt.Errorf("%w: round is %s", ErrInvalidTransition, round.Status)
	}
	question, err := e.store.GetQuestion(round.QuestionID)
	if err != nil {
		return nil, notFound(err)
	}
	settled, err := e.store.ListSettledRounds(round.GameID)
	if err != nil {
		return nil, err
	}
	makerWins, takerWins := GameWins(settled)

	return &Settlement{
		RoundID:       roundID,
		RoundIndex:    round.RoundIndex,
		CorrectAnswer: question.Answer,
		MakerPnL:      round.MakerPnL,
		TakerPnL:      round.TakerPnL,
		MakerWins:     makerWins,
		TakerWins:     takerWins,
	}, nil
}

// AdvanceGame moves an ACTIVE game past its settled current round: either
// it creates the next round (PENDING; start it with StartRound) or, when
// all rounds have been played, finishes the game and records the winner.
// Only the maker may advance.
func (e *Engine) AdvanceGame(gameID, callerID string) (*AdvanceResult, error) {
	game, err := e.store.GetGame(gameID)
	if err != nil {
		return nil, notFound(err)
	}
	if game.MakerUserID != callerID {
		return nil, fmt.Errorf("%w: only the maker can advance the game", ErrForbidden)
	}
	if game.Status != store.GameActive {
		return nil, fmt.Errorf("%w: game is %s", ErrInvalidTransition, game.Status)
	}

	current, err := e.store.GetRoundByIndex(game.ID, game.CurrentRoundIndex)
	if err != nil {
		return nil, notFound(err)
	}
	if current.Status != store.RoundSettled {
		return nil, fmt.Errorf("%w: round %d is %s, not SETTLED", ErrInvalidTransition, current.RoundIndex, current.Status)
	}

	// The number of rounds already created doubles as the next round index
	n, err := e.store.CountRounds(game.ID)
	if err != nil {
		return nil, err
	}

	if n >= e.cfg.TotalRounds {
		settled, err := e.store.ListSettledRounds(game.ID)
		if err != nil {
			return nil, err
		}
		makerWins, takerWins := GameWins(settled)

		var winner string
		switch {
		case makerWins > takerWins:
			winner = game.MakerUserID
		case takerWins > makerWins:
			winner = game.TakerUserID
		}

		ok, err := e.store.FinishGame(game.ID, winner)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: game already finished", ErrInvalidTransition)
		}

		return &AdvanceResult{
			GameEnded:    true,
			WinnerUserID: winner,
			MakerWins:    makerWins,
			TakerWins:    takerWins,
		}, nil
	}

	question, err := e.store.RandomQuestion()
	if err != nil {
		if errors.Is(err, store.ErrNoQuestions) {
			return nil, ErrNoQuestions
		}
		return nil, err
	}

	round, err := e.store.CreateRound(game.ID, n, question.ID)
	if err != nil {
		if errors.Is(err, store.ErrRoundExists) {
			// A concurrent advance created this slot first
			return nil, fmt.Errorf("%w: round %d already created", ErrInvalidTransition, n)
		}
		return nil, err
	}
	if err := e.store.SetCurrentRoundIndex(game.ID, n); err != nil {
		return nil, err
	}

	return &AdvanceResult{
		NextRound: &RoundStart{
			RoundID:        round.ID,
			RoundIndex:     n,
			QuestionPrompt: question.Prompt,
			QuestionUnit:   question.Unit,
		},
	}, nil
}

// StartRound transitions a PENDING round to LIVE
func (e *Engine) StartRound(roundID string) (*RoundStart, error) {
	round, err := e.store.GetRound(roundID)
	if err != nil {
		return nil, notFound(err)
	}
	ok, err := e.store.StartRound(roundID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Re-read: the status loaded above may predate whatever transition
		// beat this one
		if current, err := e.store.GetRound(roundID); err == nil {
			round = current
		}
		return nil, fmt.Errorf("%w: round is %s, not PENDING", ErrInvalidTransition, round.Status)
	}
	question, err := e.store.GetQuestion(round.QuestionID)
	if err != nil {
		return nil, notFound(err)
	}
	return &RoundStart{
		RoundID:        round.ID,
		RoundIndex:     round.RoundIndex,
		QuestionPrompt: question.Prompt,
		QuestionUnit:   question.Unit,
	}, nil
}
