// Package transcript looks up patients, stores transcript records and runs
// question-and-answer chats over a record.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/kalambet/botdash/internal/backend"
)

var (
	ErrMissingPatient = errors.New("patient is required")
	ErrEmptyContent   = errors.New("transcript content is empty")
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrChatBusy       = errors.New("a question is already pending")
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// API is the backend surface of the transcript widget.
type API interface {
	SearchPatients(ctx context.Context, query string) ([]backend.Patient, error)
	CreateRecord(ctx context.Context, rec backend.Record) (backend.Record, error)
	AskRecord(ctx context.Context, recordID int64, question string, history []backend.Turn) (string, error)
}

type Service struct {
	api    API
	logger *slog.Logger
}

func NewService(api API) *Service {
	return &Service{api: api, logger: slog.Default()}
}

// SearchPatients returns patients matching query.
func (s *Service) SearchPatients(ctx context.Context, query string) ([]backend.Patient, error) {
	list, err := s.api.SearchPatients(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("searching patients: %w", err)
	}
	return list, nil
}

// ListPatients returns every patient.
func (s *Service) ListPatients(ctx context.Context) ([]backend.Patient, error) {
	return s.SearchPatients(ctx, "")
}

// CreateRecord validates and stores rec.
func (s *Service) CreateRecord(ctx context.Context, rec backend.Record) (backend.Record, error) {
	if rec.PatientID <= 0 {
		return backend.Record{}, ErrMissingPatient
	}
	rec.Content = strings.TrimSpace(rec.Content)
	if rec.Content == "" {
		return backend.Record{}, ErrEmptyContent
	}
	rec.Title = strings.TrimSpace(rec.Title)
	if rec.Title == "" {
		rec.Title = "Untitled transcript"
	}

	out, err := s.api.CreateRecord(ctx, rec)
	if err != nil {
		return backend.Record{}, fmt.Errorf("creating record: %w", err)
	}
	s.logger.Info("transcript record created", "id", out.ID, "patient", rec.PatientID, "chars", len(rec.Content))
	return out, nil
}

// Chat returns a conversation over the record with the given id.
func (s *Service) Chat(recordID int64) *Chat {
	return &Chat{api: s.api, recordID: recordID, logger: s.logger}
}

// Chat is one conversation about a record. Only one question may be
// pending at a time.
type Chat struct {
	api      API
	recordID int64
	logger   *slog.Logger

	mu      sync.Mutex
	history []backend.Turn
	pending bool
}

// Ask sends question with the prior turns and returns the answer. The
// question and answer join the history only when the call succeeds.
func (c *Chat) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return "", ErrChatBusy
	}
	c.pending = true
	history := slices.Clone(c.history)
	c.mu.Unlock()

	answer, err := c.api.AskRecord(ctx, c.recordID, question, history)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	if err != nil {
		c.logger.Warn("transcript question failed", "record", c.recordID, "error", err)
		return "", fmt.Errorf("asking about record %d: %w", c.recordID, err)
	}
	c.history = append(c.history,
		backend.Turn{Role: RoleUser, Content: question},
		backend.Turn{Role: RoleAssistant, Content: answer},
	)
	return answer, nil
}

// History returns the turns so far.
func (c *Chat) History() []backend.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// Reset forgets the conversation.
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}
