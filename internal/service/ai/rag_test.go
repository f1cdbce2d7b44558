package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/climate-assistant/backend/internal/model/chat"
)

type scriptedModel struct {
	mu     sync.Mutex
	inputs [][]*schema.Message
	err    error
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	if len(input) == 1 && strings.HasPrefix(input[0].Content, "Given the following conversation") {
		return schema.AssistantMessage("Are humans causing current warming?", nil), nil
	}
	return schema.AssistantMessage("  Yes, the evidence is overwhelming.  ", nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.inputs...)
}

type stubRetriever struct {
	queries []string
	topK    int
	err     error
}

func (r *stubRetriever) Retrieve(_ context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	r.queries = append(r.queries, query)
	if o := retriever.GetCommonOptions(&retriever.Options{}, opts...); o.TopK != nil {
		r.topK = *o.TopK
	}
	if r.err != nil {
		return nil, r.err
	}
	return []*schema.Document{
		{ID: "ipcc", Content: "IPCC AR6: human influence has warmed the climate."},
		{ID: "empty", Content: "  "},
		{ID: "nasa", Content: "NASA: CO2 is at its highest level in 800,000 years."},
	}, nil
}

func newTestFactory(t *testing.T, m *scriptedModel, r *stubRetriever, condense bool) *RAGFactory {
	t.Helper()
	f, err := NewRAGFactory(context.Background(), m, r, RAGConfig{CondenseQuestion: condense}, zerolog.Nop())
	require.NoError(t, err)
	return f
}

func TestAskFirstTurnSkipsCondense(t *testing.T) {
	m := &scriptedModel{}
	r := &stubRetriever{}
	f := newTestFactory(t, m, r, true)

	session, err := f.NewChatSession(context.Background(), "SYSTEM PROMPT")
	require.NoError(t, err)

	answer, err := session.Ask(context.Background(), nil, "Is climate change real?")
	require.NoError(t, err)
	assert.Equal(t, "Yes, the evidence is overwhelming.", answer)

	assert.Equal(t, []string{"Is climate change real?"}, r.queries)
	assert.Equal(t, DefaultTopK, r.topK)

	calls := m.calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, schema.System, calls[0][0].Role)
	assert.Equal(t, "SYSTEM PROMPT", calls[0][0].Content)
	assert.Contains(t, calls[0][1].Content, "IPCC AR6: human influence has warmed the climate.\n\nNASA:")
	assert.Contains(t, calls[0][1].Content, "User asks:\nIs climate change real?")
}

func TestAskCondensesFollowUps(t *testing.T) {
	m := &scriptedModel{}
	r := &stubRetriever{}
	f := newTestFactory(t, m, r, true)
	session, err := f.NewChatSession(context.Background(), "prompt")
	require.NoError(t, err)

	history := []chat.Message{
		{Role: chat.RoleUser, Content: "Is it natural?"},
		{Role: chat.RoleAssistant, Content: "Mostly not."},
	}
	_, err = session.Ask(context.Background(), history, "why?")
	require.NoError(t, err)

	assert.Equal(t, []string{"Are humans causing current warming?"}, r.queries)
	calls := m.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0][0].Content, "Human: Is it natural?\nAssistant: Mostly not.")
	assert.Contains(t, calls[1][1].Content, "Chat History:\nHuman: Is it natural?")
}

func TestAskWithoutCondensing(t *testing.T) {
	m := &scriptedModel{}
	r := &stubRetriever{}
	f := newTestFactory(t, m, r, false)
	session, err := f.NewChatSession(context.Background(), "prompt")
	require.NoError(t, err)

	_, err = session.Ask(context.Background(), []chat.Message{{Role: chat.RoleUser, Content: "hi"}}, "why?")
	require.NoError(t, err)
	assert.Equal(t, []string{"why?"}, r.queries)
	assert.Len(t, m.calls(), 1)
}

func TestAskPropagatesFailures(t *testing.T) {
	providerDown := errors.New("provider down")

	f := newTestFactory(t, &scriptedModel{err: providerDown}, &stubRetriever{}, true)
	session, err := f.NewChatSession(context.Background(), "prompt")
	require.NoError(t, err)
	_, err = session.Ask(context.Background(), nil, "q")
	assert.ErrorContains(t, err, providerDown.Error())

	indexDown := errors.New("index unavailable")
	f = newTestFactory(t, &scriptedModel{}, &stubRetriever{err: indexDown}, true)
	session, err = f.NewChatSession(context.Background(), "prompt")
	require.NoError(t, err)
	_, err = session.Ask(context.Background(), nil, "q")
	assert.ErrorIs(t, err, indexDown)
}

func TestNewRAGFactoryRequiresCollaborators(t *testing.T) {
	_, err := NewRAGFactory(context.Background(), nil, &stubRetriever{}, RAGConfig{}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewRAGFactory(context.Background(), &scriptedModel{}, nil, RAGConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "", FormatHistory(nil))
	assert.Equal(t, "Human: a\nAssistant: b", FormatHistory([]chat.Message{
		{Role: chat.RoleUser, Content: "a"},
		{Role: chat.RoleAssistant, Content: "b"},
	}))
}
