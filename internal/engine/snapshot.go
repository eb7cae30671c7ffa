package engine

import (
	"errors"

	"outcry/internal/store"
)

// Snapshot is the authoritative view of a game, assembled for a client that
// needs to rebuild its local mirror (page load, reconnect, or any event it
// treats as a hint to re-synchronize). The question's answer appears only
// for settled rounds.
type Snapshot struct {
	Game             *store.Game
	MakerDisplayName string
	TakerDisplayName string

	Round          *store.Round // round in play, nil before the game starts
	QuestionPrompt string
	QuestionUnit   string
	Quotes         []store.Quote
	Trades         []store.Trade

	Results   []RoundResult // settled rounds in index order
	MakerWins int
	TakerWins int

	Config Config
}

// RoundResult is a settled round as shown on the scoreboard
type RoundResult struct {
	RoundID        string
	RoundIndex     int
	QuestionPrompt string
	QuestionUnit   string
	CorrectAnswer  float64
	MakerPnL       float64
	TakerPnL       float64
}

// GameSnapshot assembles the full authoritative state for a game
func (e *Engine) GameSnapshot(joinCode string) (*Snapshot, error) {
	game, err := e.store.GetGameByJoinCode(joinCode)
	if err != nil {
		return nil, notFound(err)
	}

	snap := &Snapshot{Game: game, Config: e.cfg}

	if maker, err := e.store.GetUserByID(game.MakerUserID); err == nil {
		snap.MakerDisplayName = maker.DisplayName
	}
	if game.TakerUserID != "" {
		if taker, err := e.store.GetUserByID(game.TakerUserID); err == nil {
			snap.TakerDisplayName = taker.DisplayName
		}
	}

	if game.Status != store.GameLobby {
		round, err := e.store.GetRoundByIndex(game.ID, game.CurrentRoundIndex)
		if err != nil && !errors.Is(err, store.ErrRoundNotFound) {
			return nil, err
		}
		if err == nil {
			snap.Round = round

			question, err := e.store.GetQuestion(round.QuestionID)
			if err != nil {
				return nil, notFound(err)
			}
			snap.QuestionPrompt = question.Prompt
			snap.QuestionUnit = question.Unit

			if snap.Quotes, err = e.store.ListQuotes(round.ID); err != nil {
				return nil, err
			}
			if snap.Trades, err = e.store.ListTrades(round.ID); err != nil {
				return nil, err
			}
		}
	}

	settled, err := e.store.ListSettledRounds(game.ID)
	if err != nil {
		return nil, err
	}
	snap.MakerWins, snap.TakerWins = GameWins(settled)

	for _, r := range settled {
		question, err := e.store.GetQuestion(r.QuestionID)
		if err != nil {
			return nil, notFound(err)
		}
		snap.Results = append(snap.Results, RoundResult{
			RoundID:        r.ID,
			RoundIndex:     r.RoundIndex,
			QuestionPrompt: question.Prompt,
			QuestionUnit:   question.Unit,
			CorrectAnswer:  question.Answer,
			MakerPnL:       r.MakerPnL,
			TakerPnL:       r.TakerPnL,
		})
	}

	return snap, nil
}
