package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/climate-assistant/backend/internal/model/chat"
)

// DefaultTopK is the number of reference passages retrieved per question.
const DefaultTopK = 3

// ErrEmptyAnswer is returned when the model produced no content.
var ErrEmptyAnswer = errors.New("model returned an empty answer")

// ChatSession turns a question and the prior conversation into an answer.
// Implementations are bound to a single system prompt.
type ChatSession interface {
	Ask(ctx context.Context, history []chat.Message, question string) (string, error)
}

// SessionFactory builds a ChatSession for a system prompt.
type SessionFactory interface {
	NewChatSession(ctx context.Context, systemPrompt string) (ChatSession, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context, systemPrompt string) (ChatSession, error)

// NewChatSession calls f.
func (f SessionFactoryFunc) NewChatSession(ctx context.Context, systemPrompt string) (ChatSession, error) {
	return f(ctx, systemPrompt)
}

// RAGConfig tunes the retrieval-augmented pipeline.
type RAGConfig struct {
	TopK             int
	CondenseQuestion bool
}

const answerTemplate = `Chat History:
{chat_history}

CONTEXT from documents:
{context}

User asks:
{question}

Assistant answer:`

const condenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
{chat_history}
Follow Up Input: {question}
Standalone question:`

// RAGFactory compiles the answer and condense chains once and hands out
// sessions that differ only in their system prompt.
type RAGFactory struct {
	retriever retriever.Retriever
	cfg       RAGConfig
	logger    zerolog.Logger
	answer    compose.Runnable[map[string]any, *schema.Message]
	condense  compose.Runnable[map[string]any, *schema.Message]
}

// NewRAGFactory wires a chat model and a retriever into a SessionFactory.
func NewRAGFactory(ctx context.Context, chatModel model.BaseChatModel, docs retriever.Retriever, cfg RAGConfig, logger zerolog.Logger) (*RAGFactory, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if docs == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}

	answer, err := compileChain(ctx, chatModel,
		schema.SystemMessage("{system}"),
		schema.UserMessage(answerTemplate),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer chain: %w", err)
	}

	condense, err := compileChain(ctx, chatModel, schema.UserMessage(condenseTemplate))
	if err != nil {
		return nil, fmt.Errorf("failed to compile condense chain: %w", err)
	}

	return &RAGFactory{
		retriever: docs,
		cfg:       cfg,
		logger:    logger.With().Str("component", "rag").Logger(),
		answer:    answer,
		condense:  condense,
	}, nil
}

func compileChain(ctx context.Context, chatModel model.BaseChatModel, templates ...schema.MessagesTemplate) (compose.Runnable[map[string]any, *schema.Message], error) {
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(schema.FString, templates...))
	chain.AppendChatModel(chatModel)
	return chain.Compile(ctx)
}

// NewChatSession binds a session to systemPrompt.
func (f *RAGFactory) NewChatSession(_ context.Context, systemPrompt string) (ChatSession, error) {
	id := uuid.NewString()
	f.logger.Debug().Str("chat_session", id).Int("prompt_length", len(systemPrompt)).Msg("chat session created")
	return &ragSession{id: id, factory: f, systemPrompt: systemPrompt}, nil
}

type ragSession struct {
	id           string
	factory      *RAGFactory
	systemPrompt string
}

// Ask condenses the question against the history, retrieves the top-k
// passages and asks the model for an answer grounded on them.
func (s *ragSession) Ask(ctx context.Context, history []chat.Message, question string) (string, error) {
	f := s.factory
	transcript := FormatHistory(history)

	standalone, err := f.standaloneQuestion(ctx, transcript, question, len(history) > 0)
	if err != nil {
		return "", err
	}

	docs, err := f.retriever.Retrieve(ctx, standalone, retriever.WithTopK(f.cfg.TopK))
	if err != nil {
		return "", fmt.Errorf("failed to retrieve reference documents: %w", err)
	}

	response, err := f.answer.Invoke(ctx, map[string]any{
		"system":       s.systemPrompt,
		"chat_history": transcript,
		"context":      FormatDocuments(docs),
		"question":     standalone,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run answer chain: %w", err)
	}

	answer := strings.TrimSpace(response.Content)
	if answer == "" {
		return "", ErrEmptyAnswer
	}

	f.logger.Info().
		Str("chat_session", s.id).
		Int("documents", len(docs)).
		Int("answer_length", len(answer)).
		Msg("generated answer")
	return answer, nil
}

func (f *RAGFactory) standaloneQuestion(ctx context.Context, transcript, question string, hasHistory bool) (string, error) {
	if !f.cfg.CondenseQuestion || !hasHistory {
		return question, nil
	}

	response, err := f.condense.Invoke(ctx, map[string]any{
		"chat_history": transcript,
		"question":     question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to condense question: %w", err)
	}

	condensed := strings.TrimSpace(response.Content)
	if condensed == "" {
		return question, nil
	}
	return condensed, nil
}

// FormatHistory renders prior turns as "Human:"/"Assistant:" lines.
func FormatHistory(history []chat.Message) string {
	var b strings.Builder
	for _, msg := range history {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if msg.IsUser() {
			b.WriteString("Human: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}

// FormatDocuments joins retrieved passages into the context block.
func FormatDocuments(docs []*schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil || strings.TrimSpace(doc.Content) == "" {
			continue
		}
		parts = append(parts, doc.Content)
	}
	return strings.Join(parts, "\n\n")
}
