package api

import (
	"fmt"
	"net/http"

	"outcry/internal/engine"
	"outcry/internal/store"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
)

// GameStateResponse is the authoritative snapshot a client rebuilds its
// mirror from after a page load or reconnect
type GameStateResponse struct {
	GameID            string `json:"game_id"`
	JoinCode          string `json:"join_code"`
	Status            string `json:"status"`
	MakerUserID       string `json:"maker_user_id"`
	TakerUserID       string `json:"taker_user_id,omitempty"`
	MakerDisplayName  string `json:"maker_display_name,omitempty"`
	TakerDisplayName  string `json:"taker_display_name,omitempty"`
	CurrentRoundIndex int    `json:"current_round_index"`
	WinnerUserID      string `json:"winner_user_id,omitempty"`
	MakerWins         int    `json:"maker_wins"`
	TakerWins         int    `json:"taker_wins"`

	TotalRounds          int `json:"total_rounds"`
	TurnsPerRound        int `json:"turns_per_round"`
	RoundDurationSeconds int `json:"round_duration_seconds"`

	Round   *RoundStateResponse   `json:"round,omitempty"`
	Results []RoundResultResponse `json:"results,omitempty"`
}

type RoundStateResponse struct {
	RoundID        string               `json:"round_id"`
	RoundIndex     int                  `json:"round_index"`
	Status         string               `json:"status"`
	TurnIndex      int                  `json:"turn_index"`
	QuestionPrompt string               `json:"question_prompt"`
	QuestionUnit   string               `json:"question_unit,omitempty"`
	Quotes         []QuoteEntryResponse `json:"quotes"`
	Trades         []TradeEntryResponse `json:"trades"`
}

type QuoteEntryResponse struct {
	TurnIndex     int     `json:"turn_index"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	SpreadPercent float64 `json:"spread_percent"`
}

type TradeEntryResponse struct {
	TurnIndex int     `json:"turn_index"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

type RoundResultResponse struct {
	RoundID        string  `json:"round_id"`
	RoundIndex     int     `json:"round_index"`
	QuestionPrompt string  `json:"question_prompt"`
	QuestionUnit   string  `json:"question_unit,omitempty"`
	CorrectAnswer  float64 `json:"correct_answer"`
	MakerPnL       float64 `json:"maker_pnl"`
	TakerPnL       float64 `json:"taker_pnl"`
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	joinCode := chi.URLParam(r, "joinCode")
	snap, err := s.engine.GameSnapshot(joinCode)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := GameStateResponse{
		GameID:               snap.Game.ID,
		JoinCode:             snap.Game.JoinCode,
		Status:               snap.Game.Status,
		MakerUserID:          snap.Game.MakerUserID,
		TakerUserID:          snap.Game.TakerUserID,
		MakerDisplayName:     snap.MakerDisplayName,
		TakerDisplayName:     snap.TakerDisplayName,
		CurrentRoundIndex:    snap.Game.CurrentRoundIndex,
		WinnerUserID:         snap.Game.WinnerUserID,
		MakerWins:            snap.MakerWins,
		TakerWins:            snap.TakerWins,
		TotalRounds:          snap.Config.TotalRounds,
		TurnsPerRound:        snap.Config.TurnsPerRound,
		RoundDurationSeconds: snap.Config.RoundDurationSeconds,
	}

	if snap.Round != nil {
		resp.Round = roundState(snap)
	}

	for _, result := range snap.Results {
		resp.Results = append(resp.Results, RoundResultResponse{
			RoundID:        result.RoundID,
			RoundIndex:     result.RoundIndex,
			QuestionPrompt: result.QuestionPrompt,
			QuestionUnit:   result.QuestionUnit,
			CorrectAnswer:  result.CorrectAnswer,
			MakerPnL:       result.MakerPnL,
			TakerPnL:       result.TakerPnL,
		})
	}

	writeJSON(w, resp)
}

func roundState(snap *engine.Snapshot) *RoundStateResponse {
	round := &RoundStateResponse{
		RoundID:        snap.Round.ID,
		RoundIndex:     snap.Round.RoundIndex,
		Status:         snap.Round.Status,
		TurnIndex:      snap.Round.CurrentTurnIndex,
		QuestionPrompt: snap.QuestionPrompt,
		QuestionUnit:   snap.QuestionUnit,
		Quotes:         make([]QuoteEntryResponse, 0, len(snap.Quotes)),
		Trades:         make([]TradeEntryResponse, 0, len(snap.Trades)),
	}
	for _, q := range snap.Quotes {
		round.Quotes = append(round.Quotes, QuoteEntryResponse{
			TurnIndex:     q.TurnIndex,
			Bid:           q.Bid,
			Ask:           q.Ask,
			SpreadPercent: engine.SpreadPercent(q.Bid, q.Ask),
		})
	}
	for _, t := range snap.Trades {
		round.Trades = append(round.Trades, TradeEntryResponse{
			TurnIndex: t.TurnIndex,
			Side:      t.Side,
			Price:     t.Price,
			Quantity:  t.Quantity,
		})
	}
	return round
}

// handleJoinQR renders the game's join link as a QR code PNG
func (s *Server) handleJoinQR(w http.ResponseWriter, r *http.Request) {
	joinCode := chi.URLParam(r, "joinCode")
	if _, err := s.store.GetGameByJoinCode(joinCode); err != nil {
		if err == store.ErrGameNotFound {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load game", http.StatusInternalServerError)
		return
	}

	joinURL := fmt.Sprintf("%s/join/%s", s.publicURL, joinCode)
	png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to render QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
