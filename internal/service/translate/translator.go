package translate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"scribeserver/internal/config"
)

const systemPrompt = "You are a translation engine. " +
	"Translate the quoted text into the requested language. " +
	"Output only the translated text; do not add notes, quotes or explanations."

// Translator renders text in a target language.
type Translator interface {
	Translate(ctx context.Context, text, language string) (string, error)
}

// generator is the slice of the eino chat model used here.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Service translates through a generative chat model.
type Service struct {
	chatModel generator
	provider  string
	logger    zerolog.Logger
}

// NewService builds the chat model for the configured provider.
func NewService(ctx context.Context, cfg config.TranslateConfig, logger zerolog.Logger) (*Service, error) {
	provCfg, ok := cfg.Providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = provCfg.Model
	}

	var chatModel model.ToolCallingChatModel
	var err error
	switch cfg.Provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 4096,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Provider, err)
	}
	return newService(chatModel, cfg.Provider, logger), nil
}

func newService(g generator, provider string, logger zerolog.Logger) *Service {
	return &Service{
		chatModel: g,
		provider:  provider,
		logger:    logger.With().Str("component", "translate").Str("provider", provider).Logger(),
	}
}

// Prompt is the instruction sent for one translation.
func Prompt(text, language string) string {
	return fmt.Sprintf("Translate: \"%s\" to %s", text, language)
}

func (s *Service) Translate(ctx context.Context, text, language string) (string, error) {
	messages := []*schema.Message{
		{
			Role:    schema.System,
			Content: systemPrompt,
		},
		{
			Role:    schema.User,
			Content: Prompt(text, language),
		},
	}
	start := time.Now()
	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("translate failed: %w", err)
	}
	if resp == nil {
		return "", errors.New("translate failed: empty response")
	}
	s.logger.Debug().
		Str("language", language).
		Dur("took", time.Since(start)).
		Msg("translation generated")
	return resp.Content, nil
}
