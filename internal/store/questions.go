package store

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrQuestionNotFound = errors.New("question not found")
	ErrNoQuestions      = errors.New("no questions available")
	ErrQuestionExists   = errors.New("question prompt already exists")
)

// CreateQuestion adds a question to the bank
func (s *Store) CreateQuestion(prompt string, answer float64, unit, source string, year int) (*Question, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		"INSERT INTO questions (id, prompt, answer, unit, source, year) VALUES (?, ?, ?, ?, ?, ?)",
		id, prompt, answer, unit, source, year,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrQuestionExists
		}
		return nil, err
	}
	return &Question{ID: id, Prompt: prompt, Answer: answer, Unit: unit, Source: source, Year: year}, nil
}

// GetQuestion retrieves a question by ID
func (s *Store) GetQuestion(id string) (*Question, error) {
	q := &Question{}
	err := s.db.QueryRow(
		"SELECT id, prompt, answer, unit, source, year, created_at FROM questions WHERE id = ?",
		id,
	).Scan(&q.ID, &q.Prompt, &q.Answer, &q.Unit, &q.Source, &q.Year, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrQuestionNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// RandomQuestion selects one question uniformly at random from the bank
func (s *Store) RandomQuestion() (*Question, error) {
	q := &Question{}
	err := s.db.QueryRow(
		"SELECT id, prompt, answer, unit, source, year, created_at FROM questions ORDER BY RANDOM() LIMIT 1",
	).Scan(&q.ID, &q.Prompt, &q.Answer, &q.Unit, &q.Source, &q.Year, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoQuestions
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// CountQuestions returns the number of questions in the bank
func (s *Store) CountQuestions() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM questions").Scan(&n)
	return n, err
}
