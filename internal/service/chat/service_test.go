package chat_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelchat "github.com/zhouzirui/climate-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/access"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/ai"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/archive"
	chat "github.com/zhouzirui/climate-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/transcript"
)

var formalArm = experiment.Config{SocialCues: "42", Source: "58", Tone: "71"}

type countingFactory struct {
	built   atomic.Int32
	prompts []string
	mu      sync.Mutex
	asks    atomic.Int32
	answer  string
	askErr  error
	block   chan struct{}
}

type stubSession struct {
	f      *countingFactory
	prompt string
}

func (s *stubSession) Ask(_ context.Context, history []modelchat.Message, question string) (string, error) {
	s.f.asks.Add(1)
	if s.f.block != nil {
		<-s.f.block
	}
	if s.f.askErr != nil {
		return "", s.f.askErr
	}
	if s.f.answer != "" {
		return s.f.answer, nil
	}
	return question + " answered after " + string(rune('0'+len(history))) + " turns", nil
}

func (f *countingFactory) NewChatSession(_ context.Context, prompt string) (ai.ChatSession, error) {
	f.built.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return &stubSession{f: f, prompt: prompt}, nil
}

type memoryRecorder struct {
	turns []archive.Turn
}

func (r *memoryRecorder) RecordTurn(_ context.Context, turn archive.Turn) error {
	r.turns = append(r.turns, turn)
	return nil
}

func fixedClock() func() time.Time {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestGetOrCreateBuildsOneChatSessionPerKey(t *testing.T) {
	factory := &countingFactory{}
	store := chat.NewStore(factory, chat.RenameStartsNewSession)
	ctx := context.Background()

	s1, cs1, err := store.GetOrCreate(ctx, formalArm, "Sam")
	require.NoError(t, err)
	s2, cs2, err := store.GetOrCreate(ctx, formalArm, "Sam")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Same(t, cs1, cs2)
	assert.EqualValues(t, 1, factory.built.Load())
	assert.Equal(t, ai.BuildPrompt(formalArm, "Sam"), factory.prompts[0])

	_, cs3, err := store.GetOrCreate(ctx, formalArm, "Alex")
	require.NoError(t, err)
	assert.NotSame(t, cs1, cs3)
	assert.EqualValues(t, 2, factory.built.Load())
	assert.Equal(t, 2, store.Len())
}

func TestGetOrCreateIsSerialisedPerKey(t *testing.T) {
	factory := &countingFactory{}
	store := chat.NewStore(factory, chat.RenameStartsNewSession)

	var wg sync.WaitGroup
	handles := make([]ai.ChatSession, 32)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, cs, err := store.GetOrCreate(context.Background(), formalArm, "Sam")
			assert.NoError(t, err)
			handles[i] = cs
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, factory.built.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestRebuildPolicyKeepsHistoryAndRebuildsOnRename(t *testing.T) {
	factory := &countingFactory{}
	store := chat.NewStore(factory, chat.RenameRebuildsSession)
	ctx := context.Background()

	s1, cs1, err := store.GetOrCreate(ctx, formalArm, "Sam")
	require.NoError(t, err)
	s1.Append(modelchat.Message{Role: modelchat.RoleUser, Content: "hi"})

	s2, cs2, err := store.GetOrCreate(ctx, formalArm, "Alex")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.NotSame(t, cs1, cs2)
	assert.Len(t, s2.History(), 1)
	assert.EqualValues(t, 2, factory.built.Load())
}

func TestParseRenamePolicy(t *testing.T) {
	p, err := chat.ParseRenamePolicy("")
	require.NoError(t, err)
	assert.Equal(t, chat.RenameStartsNewSession, p)

	p, err = chat.ParseRenamePolicy("rebuild")
	require.NoError(t, err)
	assert.Equal(t, chat.RenameRebuildsSession, p)

	_, err = chat.ParseRenamePolicy("sometimes")
	assert.Error(t, err)
}

func TestTurnUnauthenticatedAnswersWithRefusal(t *testing.T) {
	factory := &countingFactory{}
	svc := chat.NewService(chat.Options{Factory: factory, Logger: zerolog.Nop(), Now: fixedClock()})

	result, err := svc.Turn(context.Background(), chat.TurnRequest{
		ClientID:    "client-1",
		Config:      formalArm,
		DisplayName: "Sam",
		UserID:      "9999",
		Message:     "Is climate change real?",
	})
	require.NoError(t, err)

	assert.False(t, result.Authenticated)
	require.Len(t, result.History, 2)
	assert.Equal(t, modelchat.RoleUser, result.History[0].Role)
	assert.Equal(t, "Is climate change real?", result.History[0].Content)
	assert.Equal(t, "2024-05-01 10:00:00", result.History[0].Timestamp)
	assert.Equal(t, access.RefusalMessage, result.History[1].Content)
	assert.EqualValues(t, 0, factory.built.Load())
	assert.EqualValues(t, 0, factory.asks.Load())
}

func TestTurnAuthenticatedAsksWithPriorHistory(t *testing.T) {
	factory := &countingFactory{}
	recorder := &memoryRecorder{}
	svc := chat.NewService(chat.Options{Factory: factory, Recorder: recorder, Logger: zerolog.Nop(), Now: fixedClock()})
	ctx := context.Background()

	req := chat.TurnRequest{ClientID: "c", Config: formalArm, DisplayName: "Sam", UserID: "12345", Message: "first"}
	first, err := svc.Turn(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Authenticated)
	assert.Equal(t, "first answered after 0 turns", first.Answer.Content)

	req.Message = "second"
	second, err := svc.Turn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "second answered after 2 turns", second.Answer.Content)
	assert.Len(t, second.History, 4)
	assert.Equal(t, first.Session.ID, second.Session.ID)

	assert.EqualValues(t, 1, factory.built.Load())
	require.Len(t, recorder.turns, 2)
	assert.Equal(t, "425871_12345", recorder.turns[0].ExportCode)
	assert.Equal(t, "second", recorder.turns[1].Question)
}

func TestTurnSkipsRefusedExchangesInModelHistory(t *testing.T) {
	factory := &countingFactory{}
	svc := chat.NewService(chat.Options{Factory: factory, Logger: zerolog.Nop(), Now: fixedClock()})
	ctx := context.Background()

	req := chat.TurnRequest{ClientID: "c", Config: formalArm, DisplayName: "Sam", UserID: "123", Message: "too early"}
	_, err := svc.Turn(ctx, req)
	require.NoError(t, err)

	req.UserID = "12345"
	req.Message = "now"
	result, err := svc.Turn(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "now answered after 0 turns", result.Answer.Content)
	require.Len(t, result.History, 4)
	assert.Equal(t, access.RefusalMessage, result.History[1].Content)

	req.Message = "again"
	result, err = svc.Turn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "again answered after 2 turns", result.Answer.Content)
}

func TestTurnAssistantFailureKeepsUserMessage(t *testing.T) {
	factory := &countingFactory{askErr: errors.New("quota exceeded")}
	svc := chat.NewService(chat.Options{Factory: factory, Logger: zerolog.Nop()})

	result, err := svc.Turn(context.Background(), chat.TurnRequest{
		ClientID: "c", Config: formalArm, DisplayName: "Sam", UserID: "12345", Message: "hello",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrAssistantUnavailable)
	assert.ErrorContains(t, err, "quota exceeded")

	history := svc.History("c", formalArm, "Sam")
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
	assert.Len(t, result.History, 1)
}

func TestTurnWithoutAssistantConfigured(t *testing.T) {
	svc := chat.NewService(chat.Options{Logger: zerolog.Nop()})
	assert.False(t, svc.AssistantEnabled())

	_, err := svc.Turn(context.Background(), chat.TurnRequest{
		ClientID: "c", Config: formalArm, UserID: "12345", Message: "hello",
	})
	assert.ErrorIs(t, err, chat.ErrAssistantUnavailable)
	assert.ErrorIs(t, err, chat.ErrAssistantDisabled)
}

func TestTurnRejectsOverlappingQuestions(t *testing.T) {
	factory := &countingFactory{block: make(chan struct{})}
	svc := chat.NewService(chat.Options{Factory: factory, Logger: zerolog.Nop()})
	req := chat.TurnRequest{ClientID: "c", Config: formalArm, DisplayName: "Sam", UserID: "12345", Message: "slow"}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Turn(context.Background(), req)
		done <- err
	}()

	require.Eventually(t, func() bool { return factory.asks.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := svc.Turn(context.Background(), req)
	assert.ErrorIs(t, err, chat.ErrTurnInProgress)

	other := req
	other.ClientID = "another-browser"
	otherDone := make(chan error, 1)
	go func() {
		_, err := svc.Turn(context.Background(), other)
		otherDone <- err
	}()

	close(factory.block)
	require.NoError(t, <-done)
	require.NoError(t, <-otherDone)
	assert.Len(t, svc.History("c", formalArm, "Sam"), 2)
}

func TestTurnValidation(t *testing.T) {
	svc := chat.NewService(chat.Options{Logger: zerolog.Nop()})
	ctx := context.Background()

	_, err := svc.Turn(ctx, chat.TurnRequest{Config: formalArm, Message: "hi"})
	assert.ErrorIs(t, err, chat.ErrClientRequired)

	_, err = svc.Turn(ctx, chat.TurnRequest{ClientID: "c", Message: "   "})
	assert.ErrorIs(t, err, chat.ErrMessageRequired)

	_, err = svc.Turn(ctx, chat.TurnRequest{ClientID: "c", DisplayName: "abcdefghijklmnopqrstu", Message: "hi"})
	assert.ErrorIs(t, err, chat.ErrDisplayNameTooLong)

	assert.NoError(t, chat.ValidateDisplayName("Zoë Ångström-Niño"))
}

func TestSessionsAreIsolatedPerClient(t *testing.T) {
	svc := chat.NewService(chat.Options{Logger: zerolog.Nop()})
	ctx := context.Background()

	_, err := svc.Turn(ctx, chat.TurnRequest{ClientID: "a", Config: formalArm, DisplayName: "Sam", Message: "hi"})
	require.NoError(t, err)

	assert.Len(t, svc.History("a", formalArm, "Sam"), 2)
	assert.Empty(t, svc.History("b", formalArm, "Sam"))

	_, err = svc.Session("b", formalArm, "Sam")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestExportUsesSessionHistory(t *testing.T) {
	svc := chat.NewService(chat.Options{Logger: zerolog.Nop(), Now: fixedClock()})
	ctx := context.Background()

	_, err := svc.Turn(ctx, chat.TurnRequest{ClientID: "a", Config: formalArm, DisplayName: "Sam", UserID: "1", Message: "hi"})
	require.NoError(t, err)

	out, err := svc.Export("a", formalArm, "Sam", "1", transcript.FormatHTML)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<div>hi</div>")
	assert.Contains(t, string(out), "[2024-05-01 10:00:00]")
	assert.Contains(t, string(out), "425871_1")

	empty, err := svc.Export("nobody", formalArm, "Sam", "1", transcript.FormatHTML)
	require.NoError(t, err)
	assert.NotContains(t, string(empty), "<div class='msg ")
}
