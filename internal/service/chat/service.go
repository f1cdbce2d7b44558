package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/climate-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/access"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/ai"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/archive"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/transcript"
)

// MaxDisplayNameLength is the longest display name accepted, in characters.
const MaxDisplayNameLength = 20

var (
	ErrClientRequired       = errors.New("client id is required")
	ErrMessageRequired      = errors.New("message is required")
	ErrDisplayNameTooLong   = fmt.Errorf("display name must be at most %d characters", MaxDisplayNameLength)
	ErrSessionNotFound      = errors.New("session not found")
	ErrTurnInProgress       = errors.New("a reply is still being generated for this session")
	ErrAssistantDisabled    = errors.New("assistant is not configured")
	ErrAssistantUnavailable = errors.New("assistant temporarily unavailable")
)

// TurnRecorder receives every completed turn.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, turn archive.Turn) error
}

// Options configures a Service.
type Options struct {
	Factory      ai.SessionFactory
	RenamePolicy RenamePolicy
	Recorder     TurnRecorder
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Service encapsulates conversation state for every browser client.
type Service struct {
	factory  ai.SessionFactory
	policy   RenamePolicy
	recorder TurnRecorder
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*Store
}

// NewService bootstraps the in-memory chat service.
func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := opts.RenamePolicy
	if policy == "" {
		policy = RenameStartsNewSession
	}

	return &Service{
		factory:  opts.Factory,
		policy:   policy,
		recorder: opts.Recorder,
		logger:   opts.Logger.With().Str("component", "chat").Logger(),
		now:      now,
		clients:  make(map[string]*Store),
	}
}

// AssistantEnabled reports whether authenticated turns can be answered.
func (s *Service) AssistantEnabled() bool {
	return s.factory != nil
}

func (s *Service) store(clientID string) *Store {
	s.mu.RLock()
	st, ok := s.clients[clientID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.clients[clientID]; ok {
		return st
	}
	st = NewStore(s.factory, s.policy)
	st.now = s.now
	s.clients[clientID] = st
	return st
}

func (s *Service) lookup(clientID string, cfg experiment.Config, displayName string) (*Session, bool) {
	s.mu.RLock()
	st, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return st.Lookup(cfg, displayName)
}

// TurnRequest is one participant submission.
type TurnRequest struct {
	ClientID    string
	Config      experiment.Config
	DisplayName string
	UserID      string
	Message     string
}

// TurnResult reports the outcome of a turn.
type TurnResult struct {
	Session       chat.SessionInfo `json:"session"`
	Authenticated bool             `json:"authenticated"`
	Question      chat.Message     `json:"question"`
	Answer        chat.Message     `json:"answer"`
	History       []chat.Message   `json:"history"`
}

// ValidateDisplayName enforces the display name length limit.
func ValidateDisplayName(name string) error {
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return ErrDisplayNameTooLong
	}
	return nil
}

// Turn appends the participant's message and the assistant's reply. Invalid
// study ids get the fixed refusal without contacting the assistant. When the
// assistant fails the user message stays in history and the returned error
// wraps ErrAssistantUnavailable.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.ClientID == "" {
		return TurnResult{}, ErrClientRequired
	}
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return TurnResult{}, ErrMessageRequired
	}
	if err := ValidateDisplayName(req.DisplayName); err != nil {
		return TurnResult{}, err
	}

	st := s.store(req.ClientID)
	session := st.Session(req.Config, req.DisplayName)
	if !session.turn.TryLock() {
		return TurnResult{}, ErrTurnInProgress
	}
	defer session.turn.Unlock()

	prior := answeredHistory(session.History())
	userMsg := chat.NewMessage(chat.RoleUser, req.Message, s.now())
	session.Append(userMsg)

	result := TurnResult{
		Session:       session.Info(),
		Authenticated: access.IsAuthenticated(req.UserID),
		Question:      userMsg,
	}

	var answer string
	if !result.Authenticated {
		answer = access.RefusalMessage
	} else {
		// The answer is appended even if the requester goes away mid-call.
		askCtx := context.WithoutCancel(ctx)

		cs, err := session.ChatSession(askCtx, st.factory, req.DisplayName)
		if err == nil {
			answer, err = cs.Ask(askCtx, prior, req.Message)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("session", session.ID()).Msg("assistant call failed")
			result.History = session.History()
			return result, fmt.Errorf("%w: %w", ErrAssistantUnavailable, err)
		}
	}

	result.Answer = chat.NewMessage(chat.RoleAssistant, answer, s.now())
	session.Append(result.Answer)
	result.History = session.History()

	s.record(ctx, session, req, result)

	s.logger.Info().
		Str("session", session.ID()).
		Str("condition", req.Config.Code()).
		Bool("authenticated", result.Authenticated).
		Int("history", len(result.History)).
		Msg("turn completed")
	return result, nil
}

// answeredHistory drops exchanges that were refused by the access gate, so the
// model only sees turns it actually answered.
func answeredHistory(history []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(history))
	for i := 0; i < len(history); i++ {
		msg := history[i]
		if msg.IsUser() && i+1 < len(history) && isRefusal(history[i+1]) {
			i++
			continue
		}
		if isRefusal(msg) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func isRefusal(msg chat.Message) bool {
	return msg.Role == chat.RoleAssistant && msg.Content == access.RefusalMessage
}

func (s *Service) record(ctx context.Context, session *Session, req TurnRequest, result TurnResult) {
	if s.recorder == nil {
		return
	}

	turn := archive.Turn{
		SessionID:     session.ID(),
		ExportCode:    transcript.ExportCode(req.Config, req.UserID),
		DisplayName:   req.DisplayName,
		Authenticated: result.Authenticated,
		Question:      result.Question.Content,
		QuestionAt:    result.Question.Timestamp,
		Answer:        result.Answer.Content,
		AnswerAt:      result.Answer.Timestamp,
	}
	if err := s.recorder.RecordTurn(context.WithoutCancel(ctx), turn); err != nil {
		s.logger.Warn().Err(err).Str("session", session.ID()).Msg("failed to archive turn")
	}
}

// History returns the messages of a session, or an empty history when the
// session has not been started yet.
func (s *Service) History(clientID string, cfg experiment.Config, displayName string) []chat.Message {
	session, ok := s.lookup(clientID, cfg, displayName)
	if !ok {
		return []chat.Message{}
	}
	return session.History()
}

// Session returns the session description for a key.
func (s *Service) Session(clientID string, cfg experiment.Config, displayName string) (chat.SessionInfo, error) {
	session, ok := s.lookup(clientID, cfg, displayName)
	if !ok {
		return chat.SessionInfo{}, ErrSessionNotFound
	}
	return session.Info(), nil
}

// Export renders the session history. Missing sessions export as empty transcripts.
func (s *Service) Export(clientID string, cfg experiment.Config, displayName, userID string, format transcript.Format) ([]byte, error) {
	buf, err := transcript.Render(format, s.History(clientID, cfg, displayName), userID, cfg)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UserFacingError maps a turn error to the message shown to participants.
// Provider details are logged, never shown.
func UserFacingError(err error) string {
	switch {
	case errors.Is(err, ErrAssistantUnavailable):
		return ErrAssistantUnavailable.Error()
	case errors.Is(err, ErrTurnInProgress),
		errors.Is(err, ErrMessageRequired),
		errors.Is(err, ErrDisplayNameTooLong),
		errors.Is(err, ErrClientRequired),
		errors.Is(err, ErrSessionNotFound):
		return err.Error()
	default:
		return "internal error"
	}
}
