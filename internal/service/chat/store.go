package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/climate-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/ai"
)

// RenamePolicy decides what happens to a session when the participant
// changes their display name.
type RenamePolicy string

const (
	// RenameStartsNewSession keys sessions on the display name too, so a new
	// name gets a new history and a new chat session.
	RenameStartsNewSession RenamePolicy = "new-session"
	// RenameRebuildsSession keeps the history of the study arm and rebuilds
	// the chat session with a prompt for the new name.
	RenameRebuildsSession RenamePolicy = "rebuild"
)

// ParseRenamePolicy resolves a configured policy name.
func ParseRenamePolicy(raw string) (RenamePolicy, error) {
	switch RenamePolicy(raw) {
	case "", RenameStartsNewSession:
		return RenameStartsNewSession, nil
	case RenameRebuildsSession:
		return RenameRebuildsSession, nil
	default:
		return "", fmt.Errorf("unknown rename policy %q", raw)
	}
}

// SessionKey identifies a conversation within one browser client.
type SessionKey struct {
	Config      experiment.Config
	DisplayName string
}

// Session holds the ordered history of one key and its lazily built chat session.
type Session struct {
	id        string
	key       SessionKey
	createdAt time.Time

	// turn is held for the whole of a turn so questions never overlap.
	turn sync.Mutex

	mu       sync.Mutex
	history  []chat.Message
	chat     ai.ChatSession
	builtFor string
}

func newSession(key SessionKey, now time.Time) *Session {
	return &Session{
		id:        uuid.NewString(),
		key:       key,
		createdAt: now,
		history:   make([]chat.Message, 0, 16),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Key returns the key the session is stored under.
func (s *Session) Key() SessionKey {
	return s.key
}

// Info describes the session for API responses.
func (s *Session) Info() chat.SessionInfo {
	return chat.SessionInfo{
		ID:          s.id,
		Config:      s.key.Config,
		DisplayName: s.key.DisplayName,
		CreatedAt:   s.createdAt,
	}
}

// Append adds a message to the end of the history.
func (s *Session) Append(msg chat.Message) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.mu.Unlock()
}

// History returns a copy of the messages in insertion order.
func (s *Session) History() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.history...)
}

// ChatSession returns the chat session bound to this key, building it with
// factory on first use. A failed build is not cached.
func (s *Session) ChatSession(ctx context.Context, factory ai.SessionFactory, displayName string) (ai.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chat != nil && s.builtFor == displayName {
		return s.chat, nil
	}
	if factory == nil {
		return nil, ErrAssistantDisabled
	}

	cs, err := factory.NewChatSession(ctx, ai.BuildPrompt(s.key.Config, displayName))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat session: %w", err)
	}
	s.chat = cs
	s.builtFor = displayName
	return cs, nil
}

// Store owns the sessions of one browser client.
type Store struct {
	factory ai.SessionFactory
	policy  RenamePolicy
	now     func() time.Time

	mu       sync.Mutex
	sessions map[SessionKey]*Session
}

// NewStore creates an empty store. A nil factory leaves the assistant disabled.
func NewStore(factory ai.SessionFactory, policy RenamePolicy) *Store {
	if policy == "" {
		policy = RenameStartsNewSession
	}
	return &Store{
		factory:  factory,
		policy:   policy,
		now:      time.Now,
		sessions: make(map[SessionKey]*Session),
	}
}

func (st *Store) keyFor(cfg experiment.Config, displayName string) SessionKey {
	if st.policy == RenameRebuildsSession {
		return SessionKey{Config: cfg}
	}
	return SessionKey{Config: cfg, DisplayName: displayName}
}

// Session resolves the history record for (cfg, displayName) without
// building a chat session.
func (st *Store) Session(cfg experiment.Config, displayName string) *Session {
	key := st.keyFor(cfg, displayName)

	st.mu.Lock()
	defer st.mu.Unlock()

	session, ok := st.sessions[key]
	if !ok {
		session = newSession(key, st.now().UTC())
		st.sessions[key] = session
	}
	return session
}

// GetOrCreate resolves the session for (cfg, displayName) together with its
// chat session. At most one chat session is built per key.
func (st *Store) GetOrCreate(ctx context.Context, cfg experiment.Config, displayName string) (*Session, ai.ChatSession, error) {
	session := st.Session(cfg, displayName)
	cs, err := session.ChatSession(ctx, st.factory, displayName)
	if err != nil {
		return session, nil, err
	}
	return session, cs, nil
}

// Lookup returns an existing session without creating one.
func (st *Store) Lookup(cfg experiment.Config, displayName string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.sessions[st.keyFor(cfg, displayName)]
	return session, ok
}

// Len returns the number of sessions in the store.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
