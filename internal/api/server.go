package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"outcry/internal/engine"
	"outcry/internal/realtime"
	"outcry/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

type Server struct {
	engine      *engine.Engine
	store       *store.Store
	hub         *realtime.Hub
	sessions    *SessionStore
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	corsOrigins []string // Allowed CORS origins (empty = allow all)
	publicURL   string   // Base URL used in join links and QR codes
}

func NewServer(eng *engine.Engine, st *store.Store) *Server {
	s := &Server{
		engine:      eng,
		store:       st,
		hub:         realtime.NewHub(),
		sessions:    NewSessionStore(st),
		rateLimiter: NewRateLimiter(120, 1*time.Minute),
		publicURL:   "http://localhost:8080",
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// Hub exposes the connection registry, mainly for tests
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}

// SetCORSOrigins sets the allowed CORS origins.
// Pass an empty slice to allow all origins (default, for development).
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

// SetPublicURL sets the base URL embedded in join links and QR codes
func (s *Server) SetPublicURL(url string) {
	s.publicURL = url
}

// Shutdown stops the server's background goroutines
func (s *Server) Shutdown() {
	s.sessions.Stop()
	s.rateLimiter.Stop()
}

// checkCORSOrigin checks if an origin is allowed
func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 {
		return true
	}
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimiter.Middleware)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		r.Post("/games", s.handleCreateGame)
		r.Post("/games/join", s.handleJoinGame)

		r.Route("/games/{joinCode}", func(r chi.Router) {
			r.Get("/", s.handleGetGame)
			r.Get("/qr", s.handleJoinQR)
			r.Post("/start", s.handleStartGame)
			r.Post("/advance", s.handleAdvanceGame)
			r.Post("/rounds/{roundID}/quote", s.handleSubmitQuote)
			r.Post("/rounds/{roundID}/trade", s.handleExecuteTrade)
			r.Post("/rounds/{roundID}/settle", s.handleSettleRound)
		})
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

// writeEngineError maps the engine's failure taxonomy onto HTTP statuses.
// Turn mismatches and settlement replays are conflicts: the caller should
// re-fetch authoritative state, not retry blindly.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrTurnMismatch),
		errors.Is(err, engine.ErrAlreadySettled):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrInvalidQuote),
		errors.Is(err, engine.ErrRoundNotLive),
		errors.Is(err, engine.ErrGameFull),
		errors.Is(err, engine.ErrSelfJoin):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type GameResponse struct {
	GameID   string `json:"game_id"`
	JoinCode string `json:"join_code"`
	Status   string `json:"status"`
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	game, err := s.engine.CreateGame(session.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, GameResponse{GameID: game.ID, JoinCode: game.JoinCode, Status: game.Status})
}

type JoinRequest struct {
	JoinCode string `json:"join_code"`
}

func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JoinCode == "" {
		http.Error(w, "join_code required", http.StatusBadRequest)
		return
	}

	game, err := s.engine.JoinGame(req.JoinCode, session.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	displayName := ""
	if user, err := s.store.GetUserByID(session.UserID); err == nil {
		displayName = user.DisplayName
	}
	s.hub.Broadcast(game.JoinCode, realtime.NewEvent(realtime.EventPlayerJoined, realtime.PlayerJoinedData{
		UserID:      session.UserID,
		DisplayName: displayName,
	}))

	writeJSON(w, GameResponse{GameID: game.ID, JoinCode: game.JoinCode, Status: game.Status})
}

type StartResponse struct {
	GameID         string `json:"game_id"`
	RoundID        string `json:"round_id"`
	RoundIndex     int    `json:"round_index"`
	QuestionPrompt string `json:"question_prompt"`
	QuestionUnit   string `json:"question_unit,omitempty"`
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	joinCode := chi.URLParam(r, "joinCode")
	game, err := s.store.GetGameByJoinCode(joinCode)
	if err != nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	result, err := s.engine.StartGame(game.ID, session.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.hub.Broadcast(joinCode, realtime.NewEvent(realtime.EventGameStarted, realtime.GameStartedData{
		RoundID:    result.Round.RoundID,
		RoundIndex: result.Round.RoundIndex,
	}))
	s.hub.Broadcast(joinCode, realtime.NewEvent(realtime.EventRoundStarted, realtime.RoundStartedData{
		RoundID:        result.Round.RoundID,
		RoundIndex:     result.Round.RoundIndex,
		QuestionPrompt: result.Round.QuestionPrompt,
		QuestionUnit:   result.Round.QuestionUnit,
	}))

	writeJSON(w, StartResponse{
		GameID:         game.ID,
		RoundID:        result.Round.RoundID,
		RoundIndex:     result.Round.RoundIndex,
		QuestionPrompt: result.Round.QuestionPrompt,
		QuestionUnit:   result.Round.QuestionUnit,
	})
}

// resolveRound loads the game and round named in the URL and rejects rounds
// that belong to a different game. Without this check a participant of one
// game could aim a real transition at another game's broadcast channel.
func (s *Server) resolveRound(w http.ResponseWriter, r *http.Request) (*store.Game, *store.Round, bool) {
	game, err := s.store.GetGameByJoinCode(chi.URLParam(r, "joinCode"))
	if err != nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return nil, nil, false
	}
	round, err := s.store.GetRound(chi.URLParam(r, "roundID"))
	if err != nil || round.GameID != game.ID {
		http.Error(w, "round not found", http.StatusNotFound)
		return nil, nil, false
	}
	return game, round, true
}

type QuoteRequest struct {
	TurnIndex int     `json:"turn_index"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
}

func (s *Server) handleSubmitQuote(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	game, round, ok := s.resolveRound(w, r)
	if !ok {
		return
	}

	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.SubmitQuote(round.ID, session.UserID, req.TurnIndex, req.Bid, req.Ask); err != nil {
		writeEngineError(w, err)
		return
	}

	s.hub.Broadcast(game.JoinCode, realtime.NewEvent(realtime.EventQuoteSubmitted, realtime.QuoteSubmittedData{
		RoundID:       round.ID,
		TurnIndex:     req.TurnIndex,
		Bid:           req.Bid,
		Ask:           req.Ask,
		SpreadPercent: engine.SpreadPercent(req.Bid, req.Ask),
	}))

	writeJSON(w, map[string]interface{}{"turn_index": req.TurnIndex})
}

type TradeRequest struct {
	TurnIndex int    `json:"turn_index"`
	Side      string `json:"side"` // "BUY", "SELL", or "" for pass
}

type TradeResponse struct {
	TurnIndex  int     `json:"turn_index"`
	Side       string  `json:"side,omitempty"`
	Price      float64 `json:"price"`
	RoundEnded bool    `json:"round_ended"`
}

func (s *Server) handleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	game, round, ok := s.resolveRound(w, r)
	if !ok {
		return
	}
	joinCode := game.JoinCode
	roundID := round.ID

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Side != "" && req.Side != store.SideBuy && req.Side != store.SideSell {
		http.Error(w, "side must be BUY, SELL, or empty for pass", http.StatusBadRequest)
		return
	}

	result, err := s.engine.ExecuteTrade(roundID, session.UserID, req.TurnIndex, req.Side)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.hub.Broadcast(joinCode, realtime.NewEvent(realtime.EventTradeExecuted, realtime.TradeExecutedData{
		RoundID:    roundID,
		TurnIndex:  result.TurnIndex,
		Side:       result.Side,
		Price:      result.Price,
		RoundEnded: result.RoundEnded,
	}))

	// The server that committed the final turn announces the round's end and
	// settles it, so clients never compute or broadcast outcomes themselves
	if result.RoundEnded {
		s.hub.Broadcast(joinCode, realtime.NewEvent(realtime.EventRoundEnded, realtime.RoundEndedData{
			RoundID:    roundID,
			RoundIndex: result.RoundIndex,
		}))

		settlement, err := s.engine.SettleRound(roundID)
		if err != nil && !errors.Is(err, engine.ErrAlreadySettled) {
			log.Printf("[SETTLE] round %s: %v", roundID, err)
		}
		if settlement != nil {
			s.broadcastSettlement(joinCode, settlement)
		}
	}

	writeJSON(w, TradeResponse{
		TurnIndex:  result.TurnIndex,
		Side:       result.Side,
		Price:      result.Price,
		RoundEnded: result.RoundEnded,
	})
}

func (s *Server) broadcastSettlement(joinCode string, settlement *engine.Settlement) {
	s.hub.Broadcast(joinCode, realtime.NewEvent(realtime.EventRoundSettled, realtime.RoundSettledData{
		RoundID:       settlement.RoundID,
		RoundIndex:    settlement.RoundIndex,
		CorrectAnswer: settlement.CorrectAnswer,
		MakerPnL:      settlement.MakerPnL,
		TakerPnL:      settlement.TakerPnL,
		MakerWins:     settlement.MakerWins,
		TakerWins:     settlement.TakerWins,
	}))
}

type SettlementResponse struct {
	RoundID       string  `json:"round_id"`
	RoundIndex    int     `json:"round_index"`
	CorrectAnswer float64 `json:"correct_answer"`
	MakerPnL      float64 `json:"maker_pnl"`
	TakerPnL      float64 `json:"taker_pnl"`
	MakerWins     int     `json:"maker_wins"`
	TakerWins     int     `json:"taker_wins"`
}

// handleSettleRound settles an ENDED round. The endpoint is idempotent: a
// round that is already SETTLED returns its stored figures unchanged.
func (s *Server) handleSettleRound(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	game, round, ok := s.resolveRound(w, r)
	if !ok {
		return
	}
	joinCode := game.JoinCode
	roundID := round.ID

	settlement, err := s.engine.SettleRound(roundID)
	if errors.Is(err, engine.ErrAlreadySettled) {
		settlement, err = s.engine.RoundSettlement(roundID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
	} else if err != nil {
		writeEngineError(w, err)
		return
	} else {
		s.broadcastSettlement(joinCode, settlement)
	}

	writeJSON(w, SettlementResponse{
		RoundID:       settlement.RoundID,
		RoundIndex:    settlement.RoundIndex,
		CorrectAnswer: settlement.CorrectAnswer,
		MakerPnL:      settlement.MakerPnL,
		TakerPnL:      settlement.TakerPnL,
		MakerWins:     settlement.MakerWins,
		TakerWins:     settlement.TakerWins,
	})
}

type AdvanceResponse struct {
	GameEnded      bool   `json:"game_ended"`
	WinnerUserID   string `json:"winner_user_id,omitempty"`
	MakerWins      int    `json:"maker_wins"`
	TakerWins      int    `json:"taker_wins"`
	NextRoundID    string `json:"next_round_id,omitempty"`
	RoundIndex     int    `json:"round_index"`
	QuestionPrompt string `json:"question_prompt,omitempty"`
	QuestionUnit   string `json:"question_unit,omitempty"`
}

func (s *Server) handleAdvanceGame(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	joinCode := chi.URLParam(r, "joinCode")
	game, err := s.store.GetGameByJoinCode(joinCode)
	if err != nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	result, err := s.engine.AdvanceGame(game.ID, session.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if result.GameEnded {
		s.hub.Broadcast(joinCode, realtime.NewEvent(realtime.EventGameEnded, realtime.GameEndedData{
			WinnerUserID: result.WinnerUserID,
			MakerWins:    result.MakerWins,
			TakerWins:    result.TakerWins,
		}))
		writeJSON(w, AdvanceResponse{
			GameEnded:    true,
			WinnerUserID: result.WinnerUserID,
			MakerWins:    result.MakerWins,
			TakerWins:    result.TakerWins,
		})
		return
	}

	started, err := s.engine.StartRound(result.NextRound.RoundID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.hub.Broadcast(joinCode, realtime.NewEvent(realtime.EventRoundStarted, realtime.RoundStartedData{
		RoundID:        started.RoundID,
		RoundIndex:     started.RoundIndex,
		QuestionPrompt: started.QuestionPrompt,
		QuestionUnit:   started.QuestionUnit,
	}))

	writeJSON(w, AdvanceResponse{
		NextRoundID:    started.RoundID,
		RoundIndex:     started.RoundIndex,
		QuestionPrompt: started.QuestionPrompt,
		QuestionUnit:   started.QuestionUnit,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	joinCode := r.URL.Query().Get("game")
	if joinCode == "" {
		http.Error(w, "game query parameter required", http.StatusBadRequest)
		return
	}

	game, err := s.store.GetGameByJoinCode(joinCode)
	if err != nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	var member realtime.Member
	if session := s.getSession(r); session != nil {
		member.UserID = session.UserID
		switch session.UserID {
		case game.MakerUserID:
			member.Role = realtime.RoleMaker
		case game.TakerUserID:
			member.Role = realtime.RoleTaker
		}
		if user, err := s.store.GetUserByID(session.UserID); err == nil {
			member.DisplayName = user.DisplayName
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := s.hub.NewClient(joinCode, member, conn)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
