package store

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Game status values.
const (
	GameLobby    = "LOBBY"
	GameActive   = "ACTIVE"
	GameFinished = "FINISHED"
)

// Round status values.
const (
	RoundPending = "PENDING"
	RoundLive    = "LIVE"
	RoundEnded   = "ENDED"
	RoundSettled = "SETTLED"
)

// Trade sides. A pass records no trade at all.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Store provides SQLite persistence for the trading game
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs all pending migrations
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite serializes writes anyway; a single connection keeps concurrent
	// transitions from hitting SQLITE_BUSY and lets the conditional updates
	// decide the winner.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection for advanced operations
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// User represents a registered player
type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Game is a single maker-vs-taker match
type Game struct {
	ID                string
	JoinCode          string
	Status            string
	MakerUserID       string
	TakerUserID       string // empty until a taker joins
	CurrentRoundIndex int
	WinnerUserID      string // empty means unset (or a tie once FINISHED)
	CreatedAt         time.Time
	StartedAt         sql.NullTime
	FinishedAt        sql.NullTime
}

// Round is one question-cycle of quote/trade turns
type Round struct {
	ID               string
	GameID           string
	RoundIndex       int
	Status           string
	QuestionID       string
	CurrentTurnIndex int
	MakerPnL         float64 // written once at settlement
	TakerPnL         float64
	StartedAt        sql.NullTime
	EndedAt          sql.NullTime
}

// Question is a trivia question with a numeric answer
type Question struct {
	ID        string
	Prompt    string
	Answer    float64
	Unit      string
	Source    string
	Year      int
	CreatedAt time.Time
}

// Quote is the maker's bid/ask for one turn
type Quote struct {
	ID          string
	RoundID     string
	TurnIndex   int
	MakerUserID string
	Bid         float64
	Ask         float64
	CreatedAt   time.Time
}

// Trade is the taker's executed decision for one turn
type Trade struct {
	ID          string
	RoundID     string
	GameID      string
	TurnIndex   int
	TakerUserID string
	Side        string
	Price       float64
	Quantity    int
	CreatedAt   time.Time
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
