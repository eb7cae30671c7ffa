package realtime

import (
	"encoding/json"
	"fmt"
)

// TurnKey identifies one quote/trade slot. Mirrors key their updates on it
// so duplicated or out-of-order events cannot double-apply.
type TurnKey struct {
	RoundID   string
	TurnIndex int
}

// Mirror is a client-side, recoverable reflection of game state, rebuilt
// from events. Apply is idempotent: replaying any event leaves the mirror
// unchanged. The mirror is a cache, never the source of truth; after a
// disconnect the owner re-seeds it from the authoritative snapshot.
type Mirror struct {
	LocalUserID string

	GameStatus     string
	RoundID        string
	RoundIndex     int
	TurnIndex      int
	QuestionPrompt string
	QuestionUnit   string

	Quotes map[TurnKey]QuoteSubmittedData
	Trades map[TurnKey]TradeExecutedData

	Results   map[int]RoundSettledData // by round index
	MakerWins int
	TakerWins int

	WinnerUserID string
	GameEnded    bool

	presence []Member
}

// NewMirror creates an empty mirror for the given local participant
func NewMirror(localUserID string) *Mirror {
	return &Mirror{
		LocalUserID: localUserID,
		Quotes:      make(map[TurnKey]QuoteSubmittedData),
		Trades:      make(map[TurnKey]TradeExecutedData),
		Results:     make(map[int]RoundSettledData),
	}
}

// ResetPresence clears the remembered presence snapshot. Call on reconnect
// so the first sync after resubscribing doesn't read as everyone leaving
// and rejoining.
func (m *Mirror) ResetPresence() {
	m.presence = nil
}

// Presence returns the last synced presence set
func (m *Mirror) Presence() []Member {
	return m.presence
}

// Apply merges one event into the mirror and returns any derived events
// (player-left / player-rejoined, computed locally from presence-sync).
// Unknown event types are ignored: every event is only a hint, and the
// owner can always re-fetch authoritative state.
func (m *Mirror) Apply(event Event) ([]Event, error) {
	switch event.Type {
	case EventGameStarted:
		var data GameStartedData
		if err := decode(event, &data); err != nil {
			return nil, err
		}
		m.GameStatus = "ACTIVE"

	case EventRoundStarted:
		var data RoundStartedData
		if err := decode(event, &data); err != nil {
			return nil, err
		}
		// An older round's start replayed late must not roll the mirror back
		if data.RoundIndex < m.RoundIndex || data.RoundID == m.RoundID {
			return nil, nil
		}
		m.RoundID = data.RoundID
		m.RoundIndex = data.RoundIndex
		m.TurnIndex = 0
		m.QuestionPrompt = data.QuestionPrompt
		m.QuestionUnit = data.QuestionUnit

	case EventQuoteSubmitted:
		var data QuoteSubmittedData
		if err := decode(event, &data); err != nil {
			return nil, err
		}
		key := TurnKey{RoundID: data.RoundID, TurnIndex: data.TurnIndex}
		if _, seen := m.Quotes[key]; seen {
			return nil, nil
		}
		m.Quotes[key] = data

	case EventTradeExecuted:
		var data TradeExecutedData
		if err := decode(event, &data); err != nil {
			return nil, err
		}
		key := TurnKey{RoundID: data.RoundID, TurnIndex: data.TurnIndex}
		if _, seen := m.Trades[key]; seen {
			return nil, nil
		}
		m.Trades[key] = data
		if data.RoundID == m.RoundID && data.TurnIndex+1 > m.TurnIndex {
			m.TurnIndex = data.TurnIndex + 1
		}

	case EventRoundSettled:
		var data RoundSettledData
		if err := decode(event, &data); err != nil {
			return nil, err
		}
		if _, seen := m.Results[data.RoundIndex]; seen {
			return nil, nil
		}
		m.Results[data.RoundIndex] = data
		m.MakerWins = data.MakerWins
		m.TakerWins = data.TakerWins

	case EventGameEnded:
		var data GameEndedData
		if err := decode(event, &data); err != nil {
			return nil, err
		}
		m.GameEnded = true
		m.GameStatus = "FINISHED"
		m.WinnerUserID = data.WinnerUserID
		m.MakerWins = data.MakerWins
		m.TakerWins = data.TakerWins

	case EventPresenceSync:
		var data PresenceSyncData
		if err := decode(event, &data); err != nil {
			return nil, err
		}
		joined, left := DiffPresence(m.presence, data.Members)
		m.presence = data.Members

		var derived []Event
		for _, member := range left {
			derived = append(derived, NewEvent(EventPlayerLeft, PlayerLeftData{UserID: member.UserID}))
		}
		for _, member := range joined {
			if member.UserID == m.LocalUserID {
				continue
			}
			derived = append(derived, NewEvent(EventPlayerRejoined, PlayerRejoinedData{
				UserID:      member.UserID,
				Role:        member.Role,
				DisplayName: member.DisplayName,
			}))
		}
		return derived, nil
	}

	return nil, nil
}

func decode(event Event, out interface{}) error {
	if err := json.Unmarshal(event.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return nil
}
