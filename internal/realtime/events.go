package realtime

import (
	"encoding/json"
	"time"
)

// EventType identifies an application event on a game channel
type EventType string

// Events broadcast by the server after committing the matching transition.
// player-left and player-rejoined are never sent on the wire: each client
// derives them locally by diffing presence-sync snapshots, because presence
// signals are not delivered exactly-once.
const (
	EventPlayerJoined   EventType = "player-joined"
	EventGameStarted    EventType = "game-started"
	EventRoundStarted   EventType = "round-started"
	EventQuoteSubmitted EventType = "quote-submitted"
	EventTradeExecuted  EventType = "trade-executed"
	EventRoundEnded     EventType = "round-ended"
	EventRoundSettled   EventType = "round-settled"
	EventGameEnded      EventType = "game-ended"
	EventPresenceSync   EventType = "presence-sync"

	EventPlayerLeft     EventType = "player-left"
	EventPlayerRejoined EventType = "player-rejoined"
)

// Event is the envelope broadcast to participants. Events are ephemeral
// hints; the store remains the sole source of truth, and a client that
// missed one re-fetches authoritative state instead.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // ms since epoch
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps a payload in an envelope stamped with the current time
func NewEvent(t EventType, data interface{}) Event {
	raw, _ := json.Marshal(data)
	return Event{Type: t, Timestamp: time.Now().UnixMilli(), Data: raw}
}

// Payloads carry exactly what a remote client needs to update its mirror
// without another fetch. Quote and trade payloads are keyed by
// (roundId, turnIndex) so duplicated or reordered delivery cannot
// double-apply.

type PlayerJoinedData struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type GameStartedData struct {
	RoundID    string `json:"roundId"`
	RoundIndex int    `json:"roundIndex"`
}

type RoundStartedData struct {
	RoundID        string `json:"roundId"`
	RoundIndex     int    `json:"roundIndex"`
	QuestionPrompt string `json:"questionPrompt"`
	QuestionUnit   string `json:"questionUnit,omitempty"`
}

type QuoteSubmittedData struct {
	RoundID       string  `json:"roundId"`
	TurnIndex     int     `json:"turnIndex"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	SpreadPercent float64 `json:"spreadPercent"`
}

type TradeExecutedData struct {
	RoundID    string  `json:"roundId"`
	TurnIndex  int     `json:"turnIndex"`
	Side       string  `json:"side,omitempty"` // empty for a pass
	Price      float64 `json:"price"`
	RoundEnded bool    `json:"roundEnded"`
}

type RoundEndedData struct {
	RoundID    string `json:"roundId"`
	RoundIndex int    `json:"roundIndex"`
}

type RoundSettledData struct {
	RoundID       string  `json:"roundId"`
	RoundIndex    int     `json:"roundIndex"`
	CorrectAnswer float64 `json:"correctAnswer"`
	MakerPnL      float64 `json:"makerPnL"`
	TakerPnL      float64 `json:"takerPnL"`
	MakerWins     int     `json:"makerWins"`
	TakerWins     int     `json:"takerWins"`
}

type GameEndedData struct {
	WinnerUserID string `json:"winnerUserId,omitempty"` // empty for a tie
	MakerWins    int    `json:"makerWins"`
	TakerWins    int    `json:"takerWins"`
}

type PresenceSyncData struct {
	Members []Member `json:"members"`
}

type PlayerLeftData struct {
	UserID string `json:"userId"`
}

type PlayerRejoinedData struct {
	UserID      string `json:"userId"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}
