package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"outcry/internal/store"
)

// Session represents an authenticated session
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// SessionStore manages active sessions with database persistence
type SessionStore struct {
	store  *store.Store
	mu     sync.RWMutex
	cache  map[string]*Session // In-memory cache for performance
	stopCh chan struct{}
}

func NewSessionStore(s *store.Store) *SessionStore {
	ss := &SessionStore{
		store:  s,
		cache:  make(map[string]*Session),
		stopCh: make(chan struct{}),
	}
	go ss.cleanupLoop()
	return ss
}

// cleanupLoop periodically removes expired sessions
func (ss *SessionStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCh:
			return
		}
	}
}

// cleanup removes all expired sessions
func (ss *SessionStore) cleanup() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now()
	for token, session := range ss.cache {
		if now.After(session.ExpiresAt) {
			delete(ss.cache, token)
		}
	}
	if ss.store != nil {
		ss.store.CleanupExpiredSessions()
	}
}

// Stop halts the cleanup goroutine
func (ss *SessionStore) Stop() {
	close(ss.stopCh)
}

func (ss *SessionStore) Create(userID string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	token := generateToken()
	expiresAt := time.Now().Add(24 * time.Hour)
	session := &Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}

	if ss.store != nil {
		ss.store.CreateSession(token, userID, expiresAt)
	}

	ss.cache[token] = session
	return session
}

func (ss *SessionStore) Get(token string) *Session {
	ss.mu.RLock()
	if session, ok := ss.cache[token]; ok {
		if time.Now().Before(session.ExpiresAt) {
			ss.mu.RUnlock()
			return session
		}
	}
	ss.mu.RUnlock()

	// Not in cache or expired, check database
	if ss.store != nil {
		dbSession, err := ss.store.GetSession(token)
		if err == nil && dbSession != nil {
			session := &Session{
				Token:     dbSession.Token,
				UserID:    dbSession.UserID,
				ExpiresAt: dbSession.ExpiresAt,
			}
			ss.mu.Lock()
			ss.cache[token] = session
			ss.mu.Unlock()
			return session
		}
	}

	return nil
}

func (ss *SessionStore) Delete(token string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.cache, token)
	if ss.store != nil {
		ss.store.DeleteSession(token)
	}
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

type RegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}

	if len(req.Username) < 3 || len(req.Username) > 32 {
		http.Error(w, "username must be 3-32 characters", http.StatusBadRequest)
		return
	}

	if len(req.Password) < 6 {
		http.Error(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	user, err := s.store.CreateUser(req.Username, req.DisplayName, req.Password)
	if err == store.ErrUserExists {
		http.Error(w, "username already taken", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	session := s.sessions.Create(user.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{
		Token:       session.Token,
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.store.AuthenticateUser(req.Username, req.Password)
	if err == store.ErrUserNotFound || err == store.ErrInvalidPassword {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	session := s.sessions.Create(user.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{
		Token:       session.Token,
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		s.sessions.Delete(token)
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "logged out"})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	if token := r.Header.Get("X-Session-Token"); token != "" {
		return token
	}
	// WebSocket clients can't set headers from the browser
	return r.URL.Query().Get("token")
}

func (s *Server) getSession(r *http.Request) *Session {
	token := bearerToken(r)
	if token == "" {
		return nil
	}
	return s.sessions.Get(token)
}
