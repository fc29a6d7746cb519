// Package chat answers free-text questions about a user's aggregated profile
// and keeps the conversation history in persistent sessions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalambet/persona/internal/intent"
	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/storage"
)

// ErrSessionNotFound is returned when a session id is unknown, inactive, or
// owned by another user.
var ErrSessionNotFound = errors.New("chat session not found")

const (
	msgSessionUnavailable = "I'm sorry, I couldn't create or retrieve your chat session. Please try again."
	msgProcessingFailed   = "I'm sorry, I couldn't process your request at the moment. Please try again."
	msgPersistFailed      = "I'm sorry, I encountered an error while processing your message. Please try again."
)

// DefaultMaxResults caps the items listed by the files and calendar answers.
const DefaultMaxResults = 10

var suggestedQuestions = []string{
	"Who am I?",
	"What do I like to eat?",
	"What are my passions?",
	"What are my doctors?",
	"Who are my friends?",
	"What tasks should I do?",
	"What are my recent interests?",
	"Who do I work with?",
	"What are my upcoming events?",
	"What files have I been working on?",
}

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetUser(ctx context.Context, id string) (storage.User, error)
	FindRecordsByUser(ctx context.Context, userID string, source storage.Source) ([]storage.RawRecord, error)
	InsertSession(ctx context.Context, cs storage.ChatSession) error
	GetSession(ctx context.Context, sessionID string) (storage.ChatSession, error)
	ReplaceSession(ctx context.Context, cs storage.ChatSession) error
	ListSessions(ctx context.Context, userID string, limit int) ([]storage.ChatSession, error)
	DeactivateSession(ctx context.Context, sessionID string) error
}

// PreferenceReader supplies the aggregated profile. Implemented by
// profile.Manager.
type PreferenceReader interface {
	GetPreferences(ctx context.Context, userID string) (*storage.UserPreferences, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Response is the assistant's answer to one message.
type Response struct {
	Message    string         `json:"message"`
	SessionID  string         `json:"session_id"`
	Sources    []string       `json:"sources"`
	Metadata   map[string]any `json:"metadata"`
	Timestamp  time.Time      `json:"timestamp"`
	Confidence float64        `json:"confidence"`
}

// Manager routes chat messages to intent handlers and records them in
// sessions.
type Manager struct {
	store      Store
	prefs      PreferenceReader
	clock      Clock
	maxResults int
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// NewManager creates a Manager using the wall clock.
func NewManager(store Store, prefs PreferenceReader, maxResults int, logger *zap.Logger, m *metrics.Collector) *Manager {
	return NewManagerWithClock(store, prefs, realClock{}, maxResults, logger, m)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, prefs PreferenceReader, clock Clock, maxResults int, logger *zap.Logger, m *metrics.Collector) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Manager{
		store:      store,
		prefs:      prefs,
		clock:      clock,
		maxResults: maxResults,
		logger:     logger,
		metrics:    m,
	}
}

// SuggestedQuestions returns example questions the router understands.
func (m *Manager) SuggestedQuestions() []string {
	out := make([]string, len(suggestedQuestions))
	copy(out, suggestedQuestions)
	return out
}

// CreateSession starts an empty active session for the user.
func (m *Manager) CreateSession(ctx context.Context, userID string) (storage.ChatSession, error) {
	now := m.clock.Now().UTC()
	cs := storage.ChatSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		SessionID:      uuid.NewString(),
		Messages:       []storage.ChatMessage{},
		CreatedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
		Context:        map[string]any{},
	}
	if err := m.store.InsertSession(ctx, cs); err != nil {
		return storage.ChatSession{}, fmt.Errorf("creating session: %w", err)
	}
	m.logger.Info("created chat session", zap.String("session_id", cs.SessionID), zap.String("user_id", userID))
	return cs, nil
}

// GetSession returns a session by its public id, active or not.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (storage.ChatSession, error) {
	cs, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ChatSession{}, ErrSessionNotFound
	}
	return cs, err
}

// SessionFor returns the session only if it is active and owned by userID.
func (m *Manager) SessionFor(ctx context.Context, userID, sessionID string) (storage.ChatSession, error) {
	cs, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return storage.ChatSession{}, err
	}
	if !cs.IsActive || cs.UserID != userID {
		return storage.ChatSession{}, ErrSessionNotFound
	}
	return cs, nil
}

// ListSessions returns the user's active sessions, most recently active first.
func (m *Manager) ListSessions(ctx context.Context, userID string, limit int) ([]storage.ChatSession, error) {
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	sessions, err := m.store.ListSessions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	if sessions == nil {
		sessions = []storage.ChatSession{}
	}
	return sessions, nil
}

// DeleteSession deactivates one of the user's sessions. The history is kept.
func (m *Manager) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := m.SessionFor(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := m.store.DeactivateSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deactivating session: %w", err)
	}
	m.logger.Info("deactivated chat session", zap.String("session_id", sessionID), zap.String("user_id", userID))
	return nil
}

// ProcessMessage answers text within sessionID, creating a new session when
// sessionID is empty. Both the question and the answer are appended to the
// session. Failures after the session is resolved are reported as an apology
// with a nil error; only a missing session yields ErrSessionNotFound.
func (m *Manager) ProcessMessage(ctx context.Context, userID, text, sessionID string) (Response, error) {
	var cs storage.ChatSession
	var err error
	if sessionID == "" {
		cs, err = m.CreateSession(ctx, userID)
		if err != nil {
			m.logger.Error("session creation failed", zap.String("user_id", userID), zap.Error(err))
			m.metrics.ObserveFallback("session")
			return m.apology(msgSessionUnavailable, ""), nil
		}
	} else {
		cs, err = m.SessionFor(ctx, userID, sessionID)
		if err != nil {
			m.metrics.ObserveFallback("session")
			if errors.Is(err, ErrSessionNotFound) {
				return m.apology(msgSessionUnavailable, sessionID), ErrSessionNotFound
			}
			m.logger.Error("session lookup failed", zap.String("session_id", sessionID), zap.Error(err))
			return m.apology(msgSessionUnavailable, sessionID), nil
		}
	}

	cs.Messages = append(cs.Messages, storage.ChatMessage{
		ID:        uuid.NewString(),
		Content:   text,
		Role:      storage.RoleUser,
		Timestamp: m.stamp(cs),
	})

	i := intent.Classify(text)
	resp := m.respond(ctx, userID, text, i)
	resp.SessionID = cs.SessionID

	at := m.stamp(cs)
	resp.Timestamp = at
	cs.Messages = append(cs.Messages, storage.ChatMessage{
		ID:        uuid.NewString(),
		Content:   resp.Message,
		Role:      storage.RoleAssistant,
		Timestamp: at,
		Sources:   resp.Sources,
		Metadata:  resp.Metadata,
	})
	cs.LastActivityAt = at

	if err := m.store.ReplaceSession(ctx, cs); err != nil {
		m.logger.Error("persisting session failed", zap.String("session_id", cs.SessionID), zap.Error(err))
		m.metrics.ObserveFallback("persist")
		return m.apology(msgPersistFailed, cs.SessionID), nil
	}
	m.metrics.ObserveChat(string(i))
	return resp, nil
}

// respond runs the handler for i. Handler errors and panics become the
// processing apology.
func (m *Manager) respond(ctx context.Context, userID, text string, i intent.Intent) (resp Response) {
	log := m.logger.With(zap.String("user_id", userID), zap.String("intent", string(i)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("response handler panicked", zap.Any("panic", r))
			m.metrics.ObserveFallback("panic")
			resp = m.fallback(i)
		}
	}()

	prefs, err := m.prefs.GetPreferences(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("reading preferences failed", zap.Error(err))
		m.metrics.ObserveFallback("preferences")
		return m.fallback(i)
	}

	r, err := m.handlerFor(i)(ctx, handlerInput{userID: userID, text: text, prefs: prefs, now: m.clock.Now()})
	if err != nil {
		log.Error("response handler failed", zap.Error(err))
		m.metrics.ObserveFallback("handler")
		return m.fallback(i)
	}
	return Response{
		Message:    r.message,
		Sources:    r.sources,
		Metadata:   map[string]any{"intent": string(i)},
		Confidence: r.confidence,
	}
}

func (m *Manager) fallback(i intent.Intent) Response {
	return Response{
		Message:    msgProcessingFailed,
		Sources:    []string{},
		Metadata:   map[string]any{"intent": string(i)},
		Confidence: 0.0,
	}
}

func (m *Manager) apology(msg, sessionID string) Response {
	return Response{
		Message:    msg,
		SessionID:  sessionID,
		Sources:    []string{},
		Metadata:   map[string]any{},
		Timestamp:  m.clock.Now().UTC(),
		Confidence: 0.0,
	}
}

// stamp returns the current time, never earlier than the session's last
// message.
func (m *Manager) stamp(cs storage.ChatSession) time.Time {
	now := m.clock.Now().UTC()
	if n := len(cs.Messages); n > 0 && now.Before(cs.Messages[n-1].Timestamp) {
		return cs.Messages[n-1].Timestamp
	}
	if now.Before(cs.LastActivityAt) {
		return cs.LastActivityAt
	}
	return now
}
