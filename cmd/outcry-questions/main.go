package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"

	"outcry/internal/store"

	"github.com/joho/godotenv"
)

type questionFile struct {
	Questions []questionEntry `json:"questions"`
}

type questionEntry struct {
	Prompt string  `json:"prompt"`
	Answer float64 `json:"answer"`
	Unit   string  `json:"unit"`
	Source string  `json:"source"`
	Year   int     `json:"year"`
}

func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", envOr("OUTCRY_DB", "outcry.db"), "SQLite database path")
	file := flag.String("file", "questions.json", "JSON file of questions to import")
	flag.Parse()

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *file, err)
	}

	var qf questionFile
	if err := json.Unmarshal(data, &qf); err != nil {
		// Also accept a bare top-level array
		if err2 := json.Unmarshal(data, &qf.Questions); err2 != nil {
			log.Fatalf("Failed to parse %s: %v", *file, err)
		}
	}
	if len(qf.Questions) == 0 {
		log.Fatalf("No questions found in %s", *file)
	}

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()

	imported := 0
	skipped := 0
	for i, q := range qf.Questions {
		if q.Prompt == "" {
			log.Printf("Skipping entry %d: empty prompt", i)
			skipped++
			continue
		}
		if _, err := st.CreateQuestion(q.Prompt, q.Answer, q.Unit, q.Source, q.Year); err != nil {
			if errors.Is(err, store.ErrQuestionExists) {
				skipped++
				continue
			}
			log.Fatalf("Failed to import question %d: %v", i, err)
		}
		imported++
	}

	total, err := st.CountQuestions()
	if err != nil {
		log.Fatalf("Failed to count questions: %v", err)
	}
	log.Printf("Imported %d questions (%d skipped), %d total in %s", imported, skipped, total, *dbPath)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
