// Package app assembles the services described by a config.Config. Both the
// API server and the command line tools start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/climate-assistant/backend/internal/config"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/ai"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/archive"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/retrieval"
)

// ErrEmbeddingKeyMissing 查询向量需要 OpenAI 凭证，与所选对话模型无关。
var ErrEmbeddingKeyMissing = errors.New("OPENAI_API_KEY is required for retrieval embeddings")

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg config.LogConfig, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}
	if out == nil {
		out = os.Stderr
	}

	switch cfg.Format {
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json", "":
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid LOG_FORMAT %q", cfg.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// LoadConditions returns the configured study arms, or the built-in eight.
func LoadConditions(cfg config.StudyConfig) (*experiment.MemoryStore, error) {
	if cfg.ConditionsFile == "" {
		return experiment.NewMemoryStore(experiment.Seed()), nil
	}
	conditions, err := experiment.LoadFile(cfg.ConditionsFile)
	if err != nil {
		return nil, err
	}
	return experiment.NewMemoryStore(conditions), nil
}

// NewSessionFactory wires the chat model, the reference index and the query
// embedder into a RAG session factory.
func NewSessionFactory(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*ai.RAGFactory, error) {
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	if cfg.AI.OpenAIAPIKey == "" {
		return nil, ErrEmbeddingKeyMissing
	}
	embedder, err := retrieval.NewOpenAIEmbedder(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIBaseURL, cfg.Retrieval.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	index, err := retrieval.OpenIndex(ctx, cfg.Retrieval.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("open reference index %s: %w", cfg.Retrieval.IndexPath, err)
	}
	logger.Info().
		Str("path", cfg.Retrieval.IndexPath).
		Int("documents", index.Len()).
		Int("dimension", index.Dimension()).
		Msg("reference index loaded")

	docs, err := retrieval.NewRetriever(index, embedder, cfg.Retrieval.TopK)
	if err != nil {
		return nil, err
	}

	return ai.NewRAGFactory(ctx, chatModel, docs, ai.RAGConfig{
		TopK:             cfg.Retrieval.TopK,
		CondenseQuestion: cfg.Retrieval.CondenseQuestion,
	}, logger)
}

// Services groups everything the HTTP layer needs.
type Services struct {
	Conditions *experiment.MemoryStore
	Chat       *chat.Service
	Archive    *archive.Store
}

// Close releases the archive database.
func (s *Services) Close() error {
	if s.Archive == nil {
		return nil
	}
	return s.Archive.Close()
}

// Build assembles the services. A missing or broken assistant configuration
// is logged and leaves the assistant disabled; authenticated turns then fail
// with ErrAssistantUnavailable while refusals and exports keep working.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Services, error) {
	conditions, err := LoadConditions(cfg.Study)
	if err != nil {
		return nil, err
	}

	policy, err := chat.ParseRenamePolicy(cfg.Session.RenamePolicy)
	if err != nil {
		return nil, err
	}

	opts := chat.Options{
		RenamePolicy: policy,
		Logger:       logger,
	}

	if cfg.AI.Enabled() {
		factory, err := NewSessionFactory(ctx, cfg, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("assistant unavailable, continuing without it")
		} else {
			opts.Factory = factory
			logger.Info().Str("provider", cfg.AI.Provider).Msg("assistant initialized")
		}
	} else {
		logger.Warn().Str("provider", cfg.AI.Provider).Msg("model credentials missing, assistant disabled")
	}

	services := &Services{Conditions: conditions}
	if cfg.Archive.Path != "" {
		store, err := archive.Open(ctx, cfg.Archive.Path, logger)
		if err != nil {
			return nil, err
		}
		services.Archive = store
		opts.Recorder = store
	}

	services.Chat = chat.NewService(opts)
	return services, nil
}
