package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRoundNotFound  = errors.New("round not found")
	ErrQuoteNotFound  = errors.New("quote not found")
	ErrRoundExists    = errors.New("round index already exists for game")
	ErrDuplicateQuote = errors.New("quote already exists for turn")
)

const roundColumns = `id, game_id, round_index, status, question_id,
	current_turn_index, maker_pnl, taker_pnl, started_at, ended_at`

func scanRound(row *sql.Row) (*Round, error) {
	r := &Round{}
	err := row.Scan(
		&r.ID, &r.GameID, &r.RoundIndex, &r.Status, &r.QuestionID,
		&r.CurrentTurnIndex, &r.MakerPnL, &r.TakerPnL, &r.StartedAt, &r.EndedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateRound creates a round in PENDING. The UNIQUE(game_id, round_index)
// constraint makes concurrent advances collide here instead of creating two
// rounds for the same slot.
func (s *Store) CreateRound(gameID string, roundIndex int, questionID string) (*Round, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		"INSERT INTO rounds (id, game_id, round_index, status, question_id) VALUES (?, ?, ?, ?, ?)",
		id, gameID, roundIndex, RoundPending, questionID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrRoundExists
		}
		return nil, err
	}
	return s.GetRound(id)
}

// GetRound retrieves a round by ID
func (s *Store) GetRound(id string) (*Round, error) {
	return scanRound(s.db.QueryRow(
		"SELECT "+roundColumns+" FROM rounds WHERE id = ?", id,
	))
}

// GetRoundByIndex retrieves a round by game and index
func (s *Store) GetRoundByIndex(gameID string, roundIndex int) (*Round, error) {
	return scanRound(s.db.QueryRow(
		"SELECT "+roundColumns+" FROM rounds WHERE game_id = ? AND round_index = ?",
		gameID, roundIndex,
	))
}

// CountRounds returns the number of rounds created for a game
func (s *Store) CountRounds(gameID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM rounds WHERE game_id = ?", gameID).Scan(&n)
	return n, err
}

// ListSettledRounds returns a game's settled rounds in index order, with
// their recorded P&L figures
func (s *Store) ListSettledRounds(gameID string) ([]Round, error) {
	rows, err := s.db.Query(
		"SELECT "+roundColumns+" FROM rounds WHERE game_id = ? AND status = ? ORDER BY round_index",
		gameID, RoundSettled,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		var r Round
		if err := rows.Scan(
			&r.ID, &r.GameID, &r.RoundIndex, &r.Status, &r.QuestionID,
			&r.CurrentTurnIndex, &r.MakerPnL, &r.TakerPnL, &r.StartedAt, &r.EndedAt,
		); err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// StartRound transitions PENDING -> LIVE. Returns false if the round was not
// PENDING.
func (s *Store) StartRound(roundID string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE rounds SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		RoundLive, time.Now(), roundID, RoundPending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SettleRound transitions ENDED -> SETTLED and records the settlement
// figures. Returns false if the round was not ENDED, so a second settlement
// can never overwrite the stored P&L.
func (s *Store) SettleRound(roundID string, makerPnL, takerPnL float64) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE rounds SET status = ?, maker_pnl = ?, taker_pnl = ? WHERE id = ? AND status = ?",
		RoundSettled, makerPnL, takerPnL, roundID, RoundEnded,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CreateQuote records the maker's quote for one turn. The
// UNIQUE(round_id, turn_index) constraint rejects a second quote for the
// same turn.
func (s *Store) CreateQuote(roundID string, turnIndex int, makerUserID string, bid, ask float64) (*Quote, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		"INSERT INTO quotes (id, round_id, turn_index, maker_user_id, bid, ask) VALUES (?, ?, ?, ?, ?, ?)",
		id, roundID, turnIndex, makerUserID, bid, ask,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateQuote
		}
		return nil, err
	}
	return &Quote{ID: id, RoundID: roundID, TurnIndex: turnIndex, MakerUserID: makerUserID, Bid: bid, Ask: ask}, nil
}

// GetQuote retrieves the quote for a (round, turn) pair
func (s *Store) GetQuote(roundID string, turnIndex int) (*Quote, error) {
	q := &Quote{}
	err := s.db.QueryRow(
		"SELECT id, round_id, turn_index, maker_user_id, bid, ask, created_at FROM quotes WHERE round_id = ? AND turn_index = ?",
		roundID, turnIndex,
	).Scan(&q.ID, &q.RoundID, &q.TurnIndex, &q.MakerUserID, &q.Bid, &q.Ask, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ListQuotes returns all quotes for a round in turn order
func (s *Store) ListQuotes(roundID string) ([]Quote, error) {
	rows, err := s.db.Query(
		"SELECT id, round_id, turn_index, maker_user_id, bid, ask, created_at FROM quotes WHERE round_id = ? ORDER BY turn_index",
		roundID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.ID, &q.RoundID, &q.TurnIndex, &q.MakerUserID, &q.Bid, &q.Ask, &q.CreatedAt); err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// RecordTradeDecision applies one taker decision atomically: it inserts the
// trade (unless the decision was a pass) and advances or ends the round, all
// in one transaction keyed on the expected turn index. Exactly one of two
// racing decisions on the same turn can succeed; the loser rolls back and
// gets ok=false, leaving no orphan trade row.
//
// trade.Side == "" means pass. endRound ends the round instead of
// incrementing the turn counter.
func (s *Store) RecordTradeDecision(trade Trade, endRound bool) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if trade.Side != "" {
		id := trade.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err = tx.Exec(
			"INSERT INTO trades (id, round_id, game_id, turn_index, taker_user_id, side, price, quantity) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			id, trade.RoundID, trade.GameID, trade.TurnIndex, trade.TakerUserID, trade.Side, trade.Price, trade.Quantity,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return false, nil
			}
			return false, err
		}
	}

	var res sql.Result
	if endRound {
		res, err = tx.Exec(
			"UPDATE rounds SET status = ?, ended_at = ? WHERE id = ? AND status = ? AND current_turn_index = ?",
			RoundEnded, time.Now(), trade.RoundID, RoundLive, trade.TurnIndex,
		)
	} else {
		res, err = tx.Exec(
			"UPDATE rounds SET current_turn_index = current_turn_index + 1 WHERE id = ? AND status = ? AND current_turn_index = ?",
			trade.RoundID, RoundLive, trade.TurnIndex,
		)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}

	return true, tx.Commit()
}

// ListTrades returns all trades for a round in turn order
func (s *Store) ListTrades(roundID string) ([]Trade, error) {
	rows, err := s.db.Query(
		"SELECT id, round_id, game_id, turn_index, taker_user_id, side, price, quantity, created_at FROM trades WHERE round_id = ? ORDER BY turn_index",
		roundID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.RoundID, &t.GameID, &t.TurnIndex, &t.TakerUserID, &t.Side, &t.Price, &t.Quantity, &t.CreatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
