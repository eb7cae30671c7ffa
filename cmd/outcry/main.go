package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"outcry/internal/api"
	"outcry/internal/engine"
	"outcry/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	// Optional .env overrides, ignored when the file is absent
	_ = godotenv.Load()

	port := flag.String("port", envOr("PORT", "8080"), "server port")
	dbPath := flag.String("db", envOr("OUTCRY_DB", "outcry.db"), "SQLite database path")
	corsOrigins := flag.String("cors", os.Getenv("OUTCRY_CORS"), "comma-separated allowed CORS origins (empty = allow all for dev)")
	publicURL := flag.String("public-url", os.Getenv("OUTCRY_PUBLIC_URL"), "public base URL used in join links and QR codes")
	totalRounds := flag.Int("rounds", 5, "rounds per game")
	turnsPerRound := flag.Int("turns", 3, "quote/trade turns per round")
	flag.Parse()

	// Initialize SQLite store
	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	cfg := engine.DefaultConfig()
	if *totalRounds > 0 {
		cfg.TotalRounds = *totalRounds
	}
	if *turnsPerRound > 0 {
		cfg.TurnsPerRound = *turnsPerRound
	}

	eng := engine.New(st, cfg)
	server := api.NewServer(eng, st)

	if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		server.SetCORSOrigins(origins)
		log.Printf("CORS restricted to: %v", origins)
	}
	if *publicURL != "" {
		server.SetPublicURL(strings.TrimRight(*publicURL, "/"))
	}

	if n, err := st.CountQuestions(); err != nil {
		log.Fatalf("Failed to count questions: %v", err)
	} else if n == 0 {
		log.Printf("Warning: question bank is empty, games cannot start (load with outcry-questions)")
	} else {
		log.Printf("Question bank: %d questions", n)
	}

	addr := ":" + *port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Starting outcry server on http://localhost%s", addr)
		log.Printf("Database: %s", *dbPath)
		log.Printf("Game format: %d rounds, %d turns per round", cfg.TotalRounds, cfg.TurnsPerRound)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop server internal goroutines
	server.Shutdown()
	log.Println("Server internal goroutines stopped")

	// Graceful HTTP shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("HTTP server stopped")

	if err := st.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}
	log.Println("Database closed")

	log.Println("Server shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
