package store

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var (
	ErrGameNotFound = errors.New("game not found")
	ErrJoinCodes    = errors.New("could not allocate a join code")
)

const joinCodeChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

func generateJoinCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(joinCodeChars))))
		if err != nil {
			return "", err
		}
		code[i] = joinCodeChars[n.Int64()]
	}
	return string(code), nil
}

const gameColumns = `id, join_code, status, maker_user_id, taker_user_id,
	current_round_index, winner_user_id, created_at, started_at, finished_at`

func scanGame(row *sql.Row) (*Game, error) {
	g := &Game{}
	err := row.Scan(
		&g.ID, &g.JoinCode, &g.Status, &g.MakerUserID, &g.TakerUserID,
		&g.CurrentRoundIndex, &g.WinnerUserID, &g.CreatedAt, &g.StartedAt, &g.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// CreateGame creates a game in LOBBY with a fresh join code.
// Join code collisions are retried a few times before giving up.
func (s *Store) CreateGame(makerUserID string) (*Game, error) {
	id := uuid.New().String()

	for attempt := 0; attempt < 5; attempt++ {
		code, err := generateJoinCode()
		if err != nil {
			return nil, err
		}

		_, err = s.db.Exec(
			"INSERT INTO games (id, join_code, status, maker_user_id) VALUES (?, ?, ?, ?)",
			id, code, GameLobby, makerUserID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return nil, err
		}

		return s.GetGame(id)
	}

	return nil, ErrJoinCodes
}

// GetGame retrieves a game by ID
func (s *Store) GetGame(id string) (*Game, error) {
	return scanGame(s.db.QueryRow(
		"SELECT "+gameColumns+" FROM games WHERE id = ?", id,
	))
}

// GetGameByJoinCode retrieves a game by its join code
func (s *Store) GetGameByJoinCode(joinCode string) (*Game, error) {
	return scanGame(s.db.QueryRow(
		"SELECT "+gameColumns+" FROM games WHERE join_code = ?", joinCode,
	))
}

// SetTaker seats a taker in a lobby. Returns false if the game is not in
// LOBBY or already has a taker; the conditional update decides the winner
// between two near-simultaneous joins.
func (s *Store) SetTaker(gameID, takerUserID string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE games SET taker_user_id = ? WHERE id = ? AND status = ? AND taker_user_id = ''",
		takerUserID, gameID, GameLobby,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ActivateGame transitions LOBBY -> ACTIVE. Returns false if the game was
// not in LOBBY with a seated taker.
func (s *Store) ActivateGame(gameID string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE games SET status = ?, started_at = ? WHERE id = ? AND status = ? AND taker_user_id != ''",
		GameActive, time.Now(), gameID, GameLobby,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FinishGame transitions ACTIVE -> FINISHED and records the winner.
// winnerUserID may be empty for a tie. Returns false if the game was not ACTIVE.
func (s *Store) FinishGame(gameID, winnerUserID string) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE games SET status = ?, winner_user_id = ?, finished_at = ? WHERE id = ? AND status = ?",
		GameFinished, winnerUserID, time.Now(), gameID, GameActive,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetCurrentRoundIndex records the index of the round now in play
func (s *Store) SetCurrentRoundIndex(gameID string, index int) error {
	_, err := s.db.Exec(
		"UPDATE games SET current_round_index = ? WHERE id = ?",
		index, gameID,
	)
	return err
}
